package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/recuento/recuento-node/api/client"
	"github.com/recuento/recuento-node/audit"
	"github.com/recuento/recuento-node/crypto/sealing"
	"github.com/recuento/recuento-node/log"
	"github.com/recuento/recuento-node/outbox"
	"github.com/recuento/recuento-node/service"
	"github.com/recuento/recuento-node/station"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log.Level, cfg.Log.Output, nil)
	log.Infow("starting recuento-station", "station", cfg.StationID, "tallier", cfg.Tallier)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, cli, err := setupStation(cfg)
	if err != nil {
		log.Fatalf("Failed to setup station: %v", err)
	}

	// One-shot results query does not need enrolment.
	if cfg.Results {
		printResults(ctx, cli)
		return
	}

	if err := svc.Enrol(ctx); err != nil {
		log.Fatalf("Failed to enrol at tallier: %v", err)
	}

	switch {
	case cfg.Submit != "":
		submitOnce(ctx, svc, cfg.Submit)
	case cfg.Selftest:
		selftest(ctx, svc, cli)
	default:
		runDaemon(ctx, svc)
	}
}

// setupStation builds the station from its persisted key material and outbox.
func setupStation(cfg *Config) (*service.StationService, *client.HTTPclient, error) {
	keys, err := sealing.LoadOrGenerateStationKeys(cfg.Datadir)
	if err != nil {
		return nil, nil, fmt.Errorf("load station keys: %w", err)
	}
	sealer := sealing.NewSealer(cfg.StationID, keys)

	obox, err := outbox.New(filepath.Join(cfg.Datadir, "outbox"))
	if err != nil {
		return nil, nil, fmt.Errorf("open outbox: %w", err)
	}

	journal, err := audit.New(filepath.Join(cfg.Datadir, "audit"), defaultAuditPrefix)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit journal: %w", err)
	}

	cli, err := client.New(cfg.Tallier)
	if err != nil {
		return nil, nil, fmt.Errorf("create tallier client: %w", err)
	}

	transmitter := station.NewTransmitter(obox, cli, journal, station.TransmitterConfig{
		FailureThreshold: cfg.Breaker.Threshold,
		InitialBackoff:   cfg.Breaker.InitialBackoff,
		MaxBackoff:       cfg.Breaker.MaxBackoff,
	})

	st, err := station.New(cfg.StationID, sealer, obox, transmitter, journal, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build station: %w", err)
	}
	return service.NewStation(st, sealer, cli), cli, nil
}

// runDaemon keeps the delivery loops running until a signal arrives.
func runDaemon(ctx context.Context, svc *service.StationService) {
	if err := svc.Start(ctx); err != nil {
		log.Fatalf("Failed to start station service: %v", err)
	}
	defer svc.Stop()
	log.Infow("station is running", "pending", svc.Station().Outbox().Len())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Infow("received signal, shutting down", "signal", sig.String())
}

// submitOnce emits a single ballot for the candidate and reports its fate.
func submitOnce(ctx context.Context, svc *service.StationService, candidateID string) {
	ballot, err := svc.Station().EmitBallot(ctx, candidateID)
	if err != nil {
		log.Fatalf("Failed to emit ballot: %v", err)
	}
	pending := svc.Station().Outbox().ListPending()
	for _, b := range pending {
		if b.ID == ballot.ID {
			fmt.Printf("ballot %s stored pending delivery (%d in outbox)\n", ballot.ID, len(pending))
			return
		}
	}
	fmt.Printf("ballot %s acknowledged by tallier\n", ballot.ID)
}

// selftest submits a ballot and verifies the tallier confirms it.
func selftest(ctx context.Context, svc *service.StationService, cli *client.HTTPclient) {
	if err := cli.Ping(ctx); err != nil {
		log.Fatalf("Self test failed: tallier unreachable: %v", err)
	}
	ballot, err := svc.Station().EmitBallot(ctx, "SELFTEST")
	if err != nil {
		log.Fatalf("Self test failed: %v", err)
	}
	confirmed, err := cli.ConfirmBallot(ctx, ballot.ID)
	if err != nil {
		log.Fatalf("Self test failed: confirmation channel: %v", err)
	}
	if !confirmed {
		log.Fatalf("Self test failed: ballot %s not confirmed", ballot.ID)
	}
	fmt.Printf("self test passed: ballot %s delivered and confirmed\n", ballot.ID)
}

// printResults fetches and prints the aggregated tallies.
func printResults(ctx context.Context, cli *client.HTTPclient) {
	summary, err := cli.FetchResults(ctx)
	if err != nil {
		log.Fatalf("Failed to fetch results: %v", err)
	}
	fmt.Printf("received: %d  counted: %d  turnout: %.2f%%\n",
		summary.ReceivedTotal, summary.CountedTotal, summary.Turnout)
	for candidate, votes := range summary.ByCandidate {
		fmt.Printf("  %-20s %8d  (%.2f%%)\n", candidate, votes, summary.Percentages[candidate])
	}
}
