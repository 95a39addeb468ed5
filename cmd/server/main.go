// Command server runs the test orchestrator: catalog discovery, the run
// queue, the cron scheduler, the retention worker, and the HTTP API, all
// under one lifecycle-managed process.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/R3E-Network/testorch/internal/aggregation"
	"github.com/R3E-Network/testorch/internal/cache"
	"github.com/R3E-Network/testorch/internal/config"
	"github.com/R3E-Network/testorch/internal/discovery"
	"github.com/R3E-Network/testorch/internal/executor"
	"github.com/R3E-Network/testorch/internal/httpapi"
	"github.com/R3E-Network/testorch/internal/logging"
	"github.com/R3E-Network/testorch/internal/metrics"
	"github.com/R3E-Network/testorch/internal/platform/database"
	"github.com/R3E-Network/testorch/internal/platform/migrations"
	"github.com/R3E-Network/testorch/internal/queue"
	"github.com/R3E-Network/testorch/internal/recovery"
	"github.com/R3E-Network/testorch/internal/retention"
	"github.com/R3E-Network/testorch/internal/scheduler"
	"github.com/R3E-Network/testorch/internal/store"
	"github.com/R3E-Network/testorch/internal/system"
	"github.com/R3E-Network/testorch/internal/system/health"
)

func main() {
	configDir := flag.String("config", "", "configuration directory (default \"config\", or $CONFIG_PATH)")
	addr := flag.String("addr", "", "HTTP listen address (overrides config port)")
	flag.Parse()

	log := logging.NewFromEnv("testorch")

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.WithError(err).Fatal("load configuration")
	}

	rootCtx := context.Background()

	db, err := database.Open(rootCtx, cfg.App.DatabasePath)
	if err != nil {
		log.WithError(err).Fatal("open database")
	}
	defer db.Close()

	if err := migrations.Apply(db); err != nil {
		log.WithError(err).Fatal("apply migrations")
	}

	st := store.New(db)

	if err := recovery.Run(rootCtx, st, log); err != nil {
		log.WithError(err).Fatal("startup recovery")
	}

	dashCache := cache.NewFromURL(cfg.App.RedisURL, log)
	defer dashCache.Close()

	agg := aggregation.New(db, dashCache, log)
	m := metrics.New(prometheus.DefaultRegisterer)

	disc := discovery.New(st, cfg.App.TestRoot, log)
	if _, err := disc.Sync(rootCtx); err != nil {
		log.WithError(err).Fatal("initial catalog discovery")
	}

	exec := executor.New(st, st, cfg.App.ArtifactRoot, cfg.App.DeployRoot, cfg.App.DriverCommand, log, m)
	q := queue.New(st, exec, cfg.App.MaxConcurrentRuns, log, m)
	sched := scheduler.New(st, st, st, log, m)
	ret := retention.New(st, cfg.App.ArtifactRoot, cfg.App.RetentionDays, log, m)

	manager := system.NewManager()
	hub := httpapi.NewHub(log)
	reporter := health.New(manager)

	listenAddr := resolveAddr(*addr, cfg.App.Port)
	httpService := httpapi.NewService(listenAddr, httpapi.Deps{
		Store:        st,
		Aggregator:   agg,
		Health:       reporter,
		Config:       cfg,
		Metrics:      m,
		Log:          log,
		Hub:          hub,
		ArtifactRoot: cfg.App.ArtifactRoot,
	})

	for _, svc := range []system.Service{q, sched, ret, httpService} {
		if err := manager.Register(svc); err != nil {
			log.WithError(err).Fatal("register service")
		}
	}

	if err := manager.Start(rootCtx); err != nil {
		log.WithError(err).Fatal("start services")
	}
	log.WithContext(rootCtx).Infof("testorch listening on %s", listenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := manager.Stop(shutdownCtx); err != nil {
		log.WithError(err).Fatal("shutdown")
	}
}

func resolveAddr(flagAddr string, configPort int) string {
	if flagAddr != "" {
		return flagAddr
	}
	port := configPort
	if port <= 0 {
		port = 3000
	}
	return fmt.Sprintf(":%s", strconv.Itoa(port))
}
