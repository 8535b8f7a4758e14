// Package webserver hosts the echo admin server. Handlers register
// themselves under /api/v1 through ApiGET and friends before Start.
package webserver

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"go.uber.org/zap"

	"github.com/talkincode/wamux/internal/app"
)

const (
	ApiPrefix     = "/api/v1"
	appContextKey = "appctx"
)

type AdminServer struct {
	root *echo.Echo
	api  *echo.Group
	app  app.AppContext
}

var (
	server   *AdminServer
	serverMu sync.RWMutex
)

// Init builds the global admin server. Routes registered afterwards are
// served by it.
func Init(appCtx app.AppContext) *AdminServer {
	s := NewAdminServer(appCtx)
	serverMu.Lock()
	server = s
	serverMu.Unlock()
	return s
}

func NewAdminServer(appCtx app.AppContext) *AdminServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = jsonSerializer{}
	e.Logger.SetLevel(log.INFO)
	if appCtx != nil && appCtx.Config().System.Debug {
		e.Logger.SetLevel(log.DEBUG)
	}

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.BodyLimit("64M"))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			zap.L().Debug("webserver: request", fields...)
			return nil
		},
	}))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(appContextKey, appCtx)
			return next(c)
		}
	})

	return &AdminServer{root: e, api: e.Group(ApiPrefix), app: appCtx}
}

// AppContext returns the application context attached by the server.
func AppContext(c echo.Context) app.AppContext {
	appCtx, _ := c.Get(appContextKey).(app.AppContext)
	return appCtx
}

func current() *AdminServer {
	serverMu.RLock()
	defer serverMu.RUnlock()
	if server == nil {
		panic("webserver: Init must be called before registering routes")
	}
	return server
}

// Echo returns the underlying echo instance of the global server.
func Echo() *echo.Echo {
	return current().root
}

// GET registers a route outside the API prefix.
func GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	current().root.GET(path, h, m...)
}

func ApiGET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	current().api.GET(path, h, m...)
}

func ApiPOST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	current().api.POST(path, h, m...)
}

func ApiPUT(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	current().api.PUT(path, h, m...)
}

func ApiDELETE(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	current().api.DELETE(path, h, m...)
}

// Start serves until Shutdown. It returns nil after a graceful stop.
func Start() error {
	s := current()
	cfg := s.app.Config()
	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	zap.L().Info("webserver: listening", zap.String("addr", addr))
	s.root.Server.ReadHeaderTimeout = 10 * time.Second
	if err := s.root.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func Shutdown(ctx context.Context) error {
	return current().root.Shutdown(ctx)
}
