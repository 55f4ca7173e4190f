// Command sparkq runs the single-node task queue server: HTTP API, FIFO
// scheduler and the background reapers, over one embedded SQLite database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sparkq/sparkq/internal/common/config"
	"github.com/sparkq/sparkq/internal/common/lockfile"
	"github.com/sparkq/sparkq/internal/common/logger"
	"github.com/sparkq/sparkq/internal/common/tracing"
	"github.com/sparkq/sparkq/internal/db"
	"github.com/sparkq/sparkq/internal/events/bus"
	"github.com/sparkq/sparkq/internal/reaper"
	"github.com/sparkq/sparkq/internal/scheduler"
	"github.com/sparkq/sparkq/internal/server"
	"github.com/sparkq/sparkq/internal/store"
	"github.com/sparkq/sparkq/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to sparkq.yml (defaults to SPARKQ_CONFIG, then ./sparkq.yml)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		info := version.Get()
		fmt.Printf("sparkq %s (%s, %s)\n", info.Version, info.Commit, info.BuildDate)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "sparkq: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadWithPath(configPath)
	if err != nil {
		return err
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		return err
	}
	logger.SetDefault(log)
	defer func() { _ = log.Sync() }()

	info := version.Get()
	log.Info("sparkq starting",
		zap.String("version", info.Version),
		zap.String("commit", info.Commit),
		zap.String("addr", cfg.Server.Addr()))

	dbPath := cfg.ResolvedPath()
	lock, err := lockfile.Acquire(filepath.Join(filepath.Dir(dbPath), "sparkq.pid"))
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	pool, err := db.Open(dbPath, db.Options{JournalMode: cfg.Database.Mode})
	if err != nil {
		return err
	}

	st, err := store.New(pool, log)
	if err != nil {
		pool.Close()
		return err
	}
	defer func() { _ = st.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := st.SeedFromConfig(ctx, cfg); err != nil {
		return err
	}

	var eventBus bus.EventBus
	if cfg.NATS.URL != "" {
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			return fmt.Errorf("connect event bus: %w", err)
		}
		eventBus = natsBus
		log.Info("using NATS event bus", zap.String("url", cfg.NATS.URL))
	} else {
		eventBus = bus.NewMemoryEventBus(log)
	}
	defer eventBus.Close()
	defer func() { _ = tracing.Shutdown(context.Background()) }()

	sched := scheduler.New(st, eventBus, log)
	autoFailer := reaper.NewAutoFailer(st, sched, cfg.AutoFailInterval(), log)
	purger := reaper.NewPurger(st, cfg.PurgeInterval(), cfg.Purge.OlderThanDays, log)
	srv := server.New(cfg, st, sched, eventBus, log)

	autoFailer.Start(ctx)
	purger.Start(ctx)
	defer purger.Stop()
	defer autoFailer.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		return srv.Shutdown(context.Background())
	})
	return g.Wait()
}
