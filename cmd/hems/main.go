package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/raterudder/hems/pkg/analysis"
	"github.com/raterudder/hems/pkg/controller"
	"github.com/raterudder/hems/pkg/log"
	"github.com/raterudder/hems/pkg/metrics"
	"github.com/raterudder/hems/pkg/report"
	"github.com/raterudder/hems/pkg/server"
	"github.com/raterudder/hems/pkg/simulation"
	"github.com/raterudder/hems/pkg/storage"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

// slogLevel maps the level lflag set on llog to slog.
func slogLevel() slog.Level {
	switch llog.GetLevel() {
	case llog.DebugLevel:
		return slog.LevelDebug
	case llog.InfoLevel:
		return slog.LevelInfo
	case llog.WarnLevel:
		return slog.LevelWarn
	case llog.ErrorLevel:
		return slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}
}

func main() {
	// init packages, the controller first since the others read its config
	ctrl := controller.Configured()
	db := storage.Configured()
	rec := metrics.Configured()
	reports := report.Configured()
	sim := analysis.Configured(db, reports, rec, ctrl)
	loop := simulation.Configured(db, ctrl, rec)

	// init server
	srv := server.Configured(db, ctrl, sim, rec)

	// parse flags
	lflag.Configure()

	level := slogLevel()
	log.SetDefaultLogLevel(level)
	slog.SetDefault(log.Ctx(context.Background()))
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer func() {
		if err := db.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()

	// stored settings win over the --load-shifting flag once something was saved
	settings, version, err := db.GetSettings(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to load settings", slog.Any("error", err))
		os.Exit(1)
	}
	if version > 0 {
		settings = settings.Migrate(version)
		ctrl.Mode.SetLoadShifting(settings.LoadShifting)
	} else {
		log.Ctx(ctx).InfoContext(ctx, "no stored settings, using flags", slog.Bool("loadShifting", ctrl.Mode.LoadShiftingEnabled()))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := loop.Run(ctx); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "simulation failed", slog.Any("error", err))
			cancel()
		}
	}()

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", slog.Any("error", err))
		cancel()
		wg.Wait()
		os.Exit(1)
	}
	wg.Wait()
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
