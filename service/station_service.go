package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/recuento/recuento-node/api/client"
	"github.com/recuento/recuento-node/crypto/sealing"
	"github.com/recuento/recuento-node/log"
	"github.com/recuento/recuento-node/station"
)

// StationService manages a station's key enrolment session and its delivery
// loops.
type StationService struct {
	station *station.Station
	sealer  *sealing.Sealer
	client  *client.HTTPclient
	mu      sync.Mutex
	cancel  context.CancelFunc
}

// NewStation creates a new StationService instance.
func NewStation(st *station.Station, sealer *sealing.Sealer, cli *client.HTTPclient) *StationService {
	return &StationService{
		station: st,
		sealer:  sealer,
		client:  cli,
	}
}

// Station returns the wrapped station.
func (ss *StationService) Station() *station.Station {
	return ss.station
}

// Enrol performs the session-start key exchange: it fetches the tallier
// public key, delivers the station AES key wrapped under it, and enrols the
// station signing key.
func (ss *StationService) Enrol(ctx context.Context) error {
	tallierKey, err := ss.client.FetchServerPublicKey(ctx)
	if err != nil {
		return fmt.Errorf("fetch tallier public key: %w", err)
	}
	wrapped, err := ss.sealer.WrapSymmetricKeyFor(tallierKey)
	if err != nil {
		return fmt.Errorf("wrap symmetric key: %w", err)
	}
	if err := ss.client.RegisterStationKey(ctx, ss.station.ID(), wrapped); err != nil {
		return fmt.Errorf("register symmetric key: %w", err)
	}
	signingKey, err := ss.sealer.PublicSigningKeyBase64()
	if err != nil {
		return fmt.Errorf("export signing key: %w", err)
	}
	if err := ss.client.RegisterStationSigningKey(ctx, ss.station.ID(), signingKey); err != nil {
		return fmt.Errorf("enrol signing key: %w", err)
	}
	log.Infow("station enrolled at tallier", "station", ss.station.ID())
	return nil
}

// Start launches the delivery loops. It returns an error if the service is
// already running.
func (ss *StationService) Start(ctx context.Context) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.cancel != nil {
		return fmt.Errorf("service already running")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	ss.cancel = cancel
	ss.station.Transmitter().Start(loopCtx)
	return nil
}

// Stop halts the delivery loops and waits for them to drain.
func (ss *StationService) Stop() {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.cancel != nil {
		ss.cancel()
		ss.cancel = nil
	}
	ss.station.Transmitter().Stop()
}
