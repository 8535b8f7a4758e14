package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/talkincode/wamux/config"
	"github.com/talkincode/wamux/internal/adminapi"
	"github.com/talkincode/wamux/internal/app"
	"github.com/talkincode/wamux/internal/repository"
	"github.com/talkincode/wamux/internal/transport/meow"
	"github.com/talkincode/wamux/internal/webhook"
	"github.com/talkincode/wamux/internal/webserver"
	"github.com/talkincode/wamux/internal/whatsapp"
	"github.com/talkincode/wamux/pkg/metrics"
)

var (
	version = "develop"

	h          = flag.Bool("h", false, "help usage")
	showVer    = flag.Bool("v", false, "show version")
	conffile   = flag.String("c", "", "config yaml file")
	initdb     = flag.Bool("initdb", false, "drop and recreate all tables, then exit")
	printCfg   = flag.Bool("printcfg", false, "print the effective config and exit")
	noAutoConn = flag.Bool("no-autoconnect", false, "do not reconnect restored instances")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Println(version)
		return
	}
	if *h {
		flag.Usage()
		return
	}

	cfg, err := config.LoadConfig(*conffile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *printCfg {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "marshal config: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(string(out))
		return
	}
	if *noAutoConn {
		cfg.WhatsApp.AutoConnect = false
	}

	application := app.NewApplication(cfg)
	if err := application.Init(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "init application: %v\n", err)
		os.Exit(1)
	}
	defer application.Release()

	if *initdb {
		application.DropAll()
		if err := application.MigrateDB(true); err != nil {
			zap.L().Fatal("init database failed", zap.Error(err))
		}
		zap.L().Info("database initialized")
		return
	}

	if err := run(application); err != nil {
		zap.L().Error("wamux stopped with error", zap.Error(err))
		application.Release()
		os.Exit(1)
	}
}

func run(application *app.Application) error {
	cfg := application.Config()
	db := application.DB()

	dispatcher, err := webhook.NewDispatcher(webhook.Options{
		Timeout:   cfg.Webhook.Timeout,
		QueueSize: cfg.Webhook.QueueSize,
		Workers:   cfg.Webhook.Workers,
		Store:     repository.NewGormWebhookRepository(db),
		Recorders: []webhook.DeliveryRecorder{application.Deliveries()},
	})
	if err != nil {
		return err
	}
	if store := metrics.Default(); store != nil {
		dispatcher.AddRecorder(store)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if n, err := dispatcher.Restore(ctx); err != nil {
		zap.L().Warn("restore webhooks failed", zap.Error(err))
	} else {
		zap.L().Info("webhooks restored", zap.Int("count", n))
	}

	factory := meow.NewFactory(cfg.GetSessionsDir())
	var qrWriter io.Writer
	if cfg.WhatsApp.PrintQR {
		qrWriter = os.Stdout
	}
	svc, err := whatsapp.NewService(whatsapp.Options{
		Factory:           factory,
		Dispatcher:        dispatcher,
		Store:             repository.NewGormInstanceRepository(db),
		ReconnectDelay:    cfg.WhatsApp.ReconnectDelay,
		ReconnectMaxDelay: cfg.WhatsApp.ReconnectMaxDelay,
		QRWriter:          qrWriter,
	})
	if err != nil {
		return err
	}
	if store := metrics.Default(); store != nil {
		if err := svc.Bus().Subscribe(webhook.TopicNotification, store.ObserveNotification); err != nil {
			zap.L().Warn("subscribe metrics observer failed", zap.Error(err))
		}
	}
	if n, err := svc.Restore(ctx, cfg.WhatsApp.AutoConnect); err != nil {
		zap.L().Warn("restore instances failed", zap.Error(err))
	} else {
		zap.L().Info("instances restored", zap.Int("count", n), zap.Bool("autoconnect", cfg.WhatsApp.AutoConnect))
	}
	whatsapp.SetGlobalService(svc)

	webserver.Init(application)
	adminapi.Init()

	errCh := make(chan error, 1)
	go func() {
		errCh <- webserver.Start()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case s := <-sig:
		zap.L().Info("shutting down", zap.String("signal", s.String()))
	case runErr = <-errCh:
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 20*time.Second)
	defer stop()
	if err := webserver.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("admin server shutdown failed", zap.Error(err))
	}
	whatsapp.SetGlobalService(nil)
	if err := svc.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("session shutdown failed", zap.Error(err))
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		zap.L().Warn("webhook dispatcher close failed", zap.Error(err))
	}
	if err := factory.Close(); err != nil {
		zap.L().Warn("session store close failed", zap.Error(err))
	}
	return runErr
}
