package config

import (
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// SysConfig system configuration
type SysConfig struct {
	Appid    string `yaml:"appid"`
	Location string `yaml:"location"`
	Workdir  string `yaml:"workdir"`
	Debug    bool   `yaml:"debug"`
}

// WebConfig admin api configuration
type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DBConfig database configuration
type DBConfig struct {
	Type     string `yaml:"type"` // sqlite | postgres
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Passwd   string `yaml:"passwd"`
	MaxConn  int    `yaml:"max_conn"`
	IdleConn int    `yaml:"idle_conn"`
	Debug    bool   `yaml:"debug"`
}

// LogConfig logger configuration
type LogConfig struct {
	Mode       string `yaml:"mode"` // development | production
	FileEnable bool   `yaml:"file_enable"`
	Filename   string `yaml:"filename"`
}

// WhatsAppConfig session and reconnect settings
type WhatsAppConfig struct {
	SessionsDir       string        `yaml:"sessions_dir"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	ReconnectMaxDelay time.Duration `yaml:"reconnect_max_delay"`
	AutoConnect       bool          `yaml:"auto_connect"`
	PrintQR           bool          `yaml:"print_qr"`
}

// WebhookConfig outbound delivery settings
type WebhookConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	QueueSize     int           `yaml:"queue_size"`
	Workers       int           `yaml:"workers"`
	RetentionDays int           `yaml:"retention_days"`
}

// MetricsConfig time-series metrics settings
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

type AppConfig struct {
	System   SysConfig      `yaml:"system"`
	Web      WebConfig      `yaml:"web"`
	Database DBConfig       `yaml:"database"`
	Logger   LogConfig      `yaml:"logger"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

func (c *AppConfig) GetSessionsDir() string {
	if c.WhatsApp.SessionsDir != "" {
		return c.WhatsApp.SessionsDir
	}
	return path.Join(c.System.Workdir, "sessions")
}

func (c *AppConfig) GetUploadsDir() string {
	return path.Join(c.System.Workdir, "uploads")
}

func (c *AppConfig) GetMetricsDir() string {
	return path.Join(c.System.Workdir, "metrics")
}

func (c *AppConfig) GetLogDir() string {
	return path.Join(c.System.Workdir, "logs")
}

func (c *AppConfig) GetDataDir() string {
	return path.Join(c.System.Workdir, "data")
}

// InitDirs creates the working directory layout.
func (c *AppConfig) InitDirs() error {
	for _, dir := range []string{
		c.GetSessionsDir(),
		c.GetUploadsDir(),
		c.GetMetricsDir(),
		c.GetLogDir(),
		c.GetDataDir(),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// DefaultAppConfig returns the built-in configuration.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		System: SysConfig{
			Appid:    "WaMux",
			Location: "UTC",
			Workdir:  "/var/wamux",
			Debug:    true,
		},
		Web: WebConfig{
			Host: "0.0.0.0",
			Port: 3000,
		},
		Database: DBConfig{
			Type:     "sqlite",
			Host:     "127.0.0.1",
			Port:     5432,
			Name:     "wamux",
			User:     "postgres",
			Passwd:   "",
			MaxConn:  20,
			IdleConn: 5,
		},
		Logger: LogConfig{
			Mode:       "development",
			FileEnable: true,
			Filename:   "/var/wamux/logs/wamux.log",
		},
		WhatsApp: WhatsAppConfig{
			ReconnectDelay:    3 * time.Second,
			ReconnectMaxDelay: time.Minute,
			AutoConnect:       true,
		},
		Webhook: WebhookConfig{
			Timeout:       10 * time.Second,
			QueueSize:     256,
			Workers:       64,
			RetentionDays: 7,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// LoadConfig reads cfile over the defaults and applies WAMUX_* environment overrides.
// An empty or missing file yields the defaults.
func LoadConfig(cfile string) (*AppConfig, error) {
	cfg := DefaultAppConfig()
	if strings.TrimSpace(cfile) != "" {
		data, err := os.ReadFile(cfile)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", cfile, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("read config %s: %w", cfile, err)
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *AppConfig) {
	setEnvString("WAMUX_SYSTEM_WORKDIR", &cfg.System.Workdir)
	setEnvString("WAMUX_SYSTEM_LOCATION", &cfg.System.Location)
	setEnvBool("WAMUX_SYSTEM_DEBUG", &cfg.System.Debug)

	setEnvString("WAMUX_WEB_HOST", &cfg.Web.Host)
	setEnvInt("WAMUX_WEB_PORT", &cfg.Web.Port)

	setEnvString("WAMUX_DB_TYPE", &cfg.Database.Type)
	setEnvString("WAMUX_DB_HOST", &cfg.Database.Host)
	setEnvInt("WAMUX_DB_PORT", &cfg.Database.Port)
	setEnvString("WAMUX_DB_NAME", &cfg.Database.Name)
	setEnvString("WAMUX_DB_USER", &cfg.Database.User)
	setEnvString("WAMUX_DB_PWD", &cfg.Database.Passwd)
	setEnvBool("WAMUX_DB_DEBUG", &cfg.Database.Debug)

	setEnvString("WAMUX_LOGGER_MODE", &cfg.Logger.Mode)
	setEnvBool("WAMUX_LOGGER_FILE_ENABLE", &cfg.Logger.FileEnable)

	setEnvString("WAMUX_SESSIONS_DIR", &cfg.WhatsApp.SessionsDir)
	setEnvDuration("WAMUX_RECONNECT_DELAY", &cfg.WhatsApp.ReconnectDelay)
	setEnvDuration("WAMUX_RECONNECT_MAX_DELAY", &cfg.WhatsApp.ReconnectMaxDelay)
	setEnvBool("WAMUX_AUTO_CONNECT", &cfg.WhatsApp.AutoConnect)
	setEnvBool("WAMUX_PRINT_QR", &cfg.WhatsApp.PrintQR)

	setEnvDuration("WAMUX_WEBHOOK_TIMEOUT", &cfg.Webhook.Timeout)
	setEnvInt("WAMUX_WEBHOOK_QUEUE_SIZE", &cfg.Webhook.QueueSize)
	setEnvInt("WAMUX_WEBHOOK_WORKERS", &cfg.Webhook.Workers)
	setEnvInt("WAMUX_WEBHOOK_RETENTION_DAYS", &cfg.Webhook.RetentionDays)

	setEnvBool("WAMUX_METRICS_ENABLED", &cfg.Metrics.Enabled)
}

func setEnvString(name string, dst *string) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		*dst = v
	}
}

func setEnvInt(name string, dst *int) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		if n, err := cast.ToIntE(v); err == nil {
			*dst = n
		}
	}
}

func setEnvBool(name string, dst *bool) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		if b, err := cast.ToBoolE(v); err == nil {
			*dst = b
		}
	}
}

func setEnvDuration(name string, dst *time.Duration) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		if d, err := cast.ToDurationE(v); err == nil {
			*dst = d
		}
	}
}
