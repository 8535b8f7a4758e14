package adminapi

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/talkincode/wamux/internal/webserver"
	"github.com/talkincode/wamux/internal/whatsapp"
)

func registerHealthRoutes() {
	webserver.GET("/health", getHealth)
}

func getHealth(c echo.Context) error {
	appCtx := webserver.AppContext(c)
	resp := map[string]interface{}{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    appCtx.Uptime().Seconds(),
	}

	if p, err := process.NewProcess(int32(os.Getpid())); err == nil { //nolint:gosec // G115: PID is always within int32 range
		if mem, err := p.MemoryInfo(); err == nil {
			resp["rss"] = mem.RSS
		}
	}

	database := "ok"
	if db := GetDB(c); db == nil {
		database = "unavailable"
	} else if sqlDB, err := db.DB(); err != nil {
		database = err.Error()
	} else {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := sqlDB.PingContext(ctx); err != nil {
			database = err.Error()
		}
	}
	resp["database"] = database

	if svc := whatsapp.Get(); svc != nil {
		total, connected := svc.Counts()
		resp["instances"] = total
		resp["connected"] = connected
	}

	status := http.StatusOK
	if database != "ok" {
		resp["status"] = "DEGRADED"
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, resp)
}
