// Command hostd is the game-server host-controller daemon: it loads
// configuration, opens the persistence layer, wires the domain graph
// (instances, jobs, deployments, toolchains, per-instance watchdogs),
// and serves the HTTP API until signalled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AnturK/tgstation-server/infrastructure/config"
	"github.com/AnturK/tgstation-server/infrastructure/logging"
	"github.com/AnturK/tgstation-server/infrastructure/middleware"
	"github.com/AnturK/tgstation-server/internal/dbstore"
	"github.com/AnturK/tgstation-server/internal/dbstore/migrations"
	"github.com/AnturK/tgstation-server/internal/deployment"
	"github.com/AnturK/tgstation-server/internal/host"
	"github.com/AnturK/tgstation-server/internal/httpapi"
	"github.com/AnturK/tgstation-server/internal/instance"
	"github.com/AnturK/tgstation-server/internal/iogateway"
	"github.com/AnturK/tgstation-server/internal/job"
	"github.com/AnturK/tgstation-server/internal/toolchain"
)

func main() {
	configPath := flag.String("config", "", "path to the JSON configuration file")
	runMigrations := flag.Bool("migrate", true, "apply embedded database migrations on startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logLevel := cfg.FileLogging.LogLevel
	if logLevel == "" {
		logLevel = "info"
	}
	logger := logging.New("hostd", logLevel, "json")

	rootCtx := context.Background()

	db, err := dbstore.Open(rootCtx, cfg.Database.ConnectionString)
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer db.Close()

	if *runMigrations {
		if err := migrations.Apply(db); err != nil {
			log.Fatalf("apply migrations: %v", err)
		}
	}

	store := dbstore.New(db)

	gateway, err := iogateway.New(cfg.General.InstallDirectory)
	if err != nil {
		log.Fatalf("resolve install directory: %v", err)
	}

	jobStore := store
	jobs := job.New(jobStore, logger)
	if err := jobs.Start(rootCtx); err != nil {
		log.Fatalf("start job manager: %v", err)
	}
	if err := jobStore.MarkOrphanedRunningAsCancelled(rootCtx); err != nil {
		logger.Error(rootCtx, "mark orphaned jobs cancelled", err, nil)
	}

	deployments := deployment.NewStore()

	tc := toolchain.New(toolchain.Config{
		CacheDir:  cfg.General.InstallDirectory + "/.byond-cache",
		Installer: noopInstaller{},
		Log:       logger,
	})
	if err := tc.Start(rootCtx); err != nil {
		log.Fatalf("start toolchain manager: %v", err)
	}

	h := host.New(host.Config{
		Deployments:   deployments,
		Jobs:          jobs,
		Toolchain:     tc,
		RepoSnapshots: store,
		ChatChannels:  store,
		Log:           logger,
	})

	instances := instance.New(instance.Config{
		Gateway:     gateway,
		Store:       store,
		Jobs:        jobs,
		Deployments: deployments,
		Hooks:       h,
		Log:         logger,
	})
	h.SetInstances(instances)

	apiServer := httpapi.NewServer(httpapi.Config{
		Instances:   instances,
		Updater:     h,
		Jobs:        jobs,
		Runtimes:    h,
		Log:         logger,
		CORSOrigins: []string{"*"},
	})

	addr := fmt.Sprintf(":%d", cfg.General.HTTPPort)
	if cfg.Kestrel != nil && cfg.Kestrel.BindAddress != "" {
		addr = cfg.Kestrel.BindAddress
	}

	httpServer := &http.Server{
		Addr:    addr,
		Handler: apiServer,
	}

	shutdown := middleware.NewGracefulShutdown(httpServer, 30*time.Second)
	shutdown.OnShutdown(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := jobs.Stop(stopCtx); err != nil {
			logger.Error(stopCtx, "stop job manager", err, nil)
		}
		if err := tc.Stop(stopCtx); err != nil {
			logger.Error(stopCtx, "stop toolchain manager", err, nil)
		}
	})
	shutdown.ListenForSignals()

	logger.Info(rootCtx, "hostd listening", map[string]interface{}{"addr": addr})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	<-sigCh
	shutdown.Shutdown()
	shutdown.Wait()
}

// noopInstaller stands in for the real toolchain fetcher/extractor,
// an external collaborator out of scope (spec §1).
type noopInstaller struct{}

func (noopInstaller) Install(ctx context.Context, version, destDir string) error {
	return fmt.Errorf("toolchain installer not configured for version %s", version)
}
