package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"webharvest-backend/lib/configutil"
	"webharvest-backend/lib/fetch"
	"webharvest-backend/lib/serviceutil"
	"webharvest-backend/lib/telemetry"
	"webharvest-backend/services/runner"
	"webharvest-backend/services/scheduler"
	"webharvest-backend/services/templates"
)

type Config struct {
	DataDir string `json:"dataDir"`
}

func main() {
	ctx := serviceutil.SignalContext()

	config, err := configutil.ReadConfig[Config]("config.json5")
	if os.IsNotExist(err) {
		config = Config{}
	} else if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	if config.DataDir == "" {
		config.DataDir = "data"
	}

	t, err := telemetry.SetupFromEnv(ctx, "webharvestd")
	if err != nil {
		slog.Warn("telemetry disabled", "err", err.Error())
	} else {
		defer t.Shutdown(context.Background())
		telemetry.InstrumentPerfStats(ctx)
	}

	templateStore, err := templates.NewService(filepath.Join(config.DataDir, "templates.json"))
	if err != nil {
		serviceutil.Fatal("failed to load template store", err)
	}

	runs := runner.NewService(config.DataDir, fetch.NewClient(), templateStore)

	tasks, err := scheduler.NewService(scheduler.Options{
		StoreFile: filepath.Join(config.DataDir, "tasks.json"),
		KeyPrefix: "task-",
		Mode:      scheduler.FireSync,
		Runner:    runs,
	})
	if err != nil {
		serviceutil.Fatal("failed to start task scheduler", err)
	}
	defer tasks.Stop()

	schedules, err := scheduler.NewService(scheduler.Options{
		StoreFile: filepath.Join(config.DataDir, "schedules.json"),
		KeyPrefix: "schedule-",
		Mode:      scheduler.FireAsync,
		Runner:    runs,
	})
	if err != nil {
		serviceutil.Fatal("failed to start schedule scheduler", err)
	}
	defer schedules.Stop()

	slog.Info("webharvestd running",
		"data_dir", config.DataDir,
		"tasks", len(tasks.List(ctx)),
		"schedules", len(schedules.List(ctx)))

	<-ctx.Done()
}
