package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/recuento/recuento-node/audit"
	"github.com/recuento/recuento-node/crypto/sealing"
	"github.com/recuento/recuento-node/db/metadb"
	"github.com/recuento/recuento-node/log"
	"github.com/recuento/recuento-node/service"
	"github.com/recuento/recuento-node/storage"
	"github.com/recuento/recuento-node/tally"
)

// Services holds all the running services.
type Services struct {
	Storage *storage.Storage
	API     *service.APIService
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log.Level, cfg.Log.Output, nil)
	log.Infow("starting recuento-tallier", "datadir", cfg.Datadir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services, err := setupServices(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to setup services: %v", err)
	}
	defer shutdownServices(services)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Infow("received signal, shutting down", "signal", sig.String())
}

// setupServices initializes and starts all required services.
func setupServices(ctx context.Context, cfg *Config) (*Services, error) {
	services := &Services{}

	log.Infow("initializing storage", "datadir", cfg.Datadir, "type", cfg.DBType)
	database, err := metadb.New(cfg.DBType, path.Join(cfg.Datadir, "db"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	services.Storage = storage.New(database)

	journal, err := audit.New(cfg.Tally.AuditDir, defaultAuditPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit journal: %w", err)
	}

	keys, err := sealing.LoadOrGenerateTallierKeys(cfg.Datadir)
	if err != nil {
		return nil, fmt.Errorf("failed to load tallier keys: %w", err)
	}

	pipeline, err := tally.New(services.Storage, keys, journal, tally.Options{
		ExpectedBallots:  cfg.Tally.ExpectedBallots,
		RegisteredVoters: cfg.Tally.RegisteredVoters,
		LazyEnrolment:    cfg.Tally.LazyEnrolment,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build intake pipeline: %w", err)
	}

	log.Infow("starting API service", "host", cfg.API.Host, "port", cfg.API.Port)
	services.API = service.NewAPI(pipeline, cfg.API.Host, cfg.API.Port)
	if err := services.API.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start API service: %w", err)
	}

	log.Info("recuento-tallier is running, ready to receive ballots!")
	return services, nil
}

// shutdownServices gracefully shuts down all services.
func shutdownServices(services *Services) {
	if services == nil {
		return
	}
	if services.API != nil {
		services.API.Stop()
	}
	if services.Storage != nil {
		services.Storage.Close()
	}
}
