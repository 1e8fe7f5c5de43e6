// Package service provides start/stop wrappers around the long-lived pieces
// of the node: the tallier API server and the station delivery loops.
package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/recuento/recuento-node/api"
	"github.com/recuento/recuento-node/tally"
)

// APIService represents a service that manages the tallier HTTP API server.
type APIService struct {
	pipeline *tally.Pipeline
	API      *api.API
	mu       sync.Mutex
	cancel   context.CancelFunc
	host     string
	port     int
}

// NewAPI creates a new APIService instance.
func NewAPI(pipeline *tally.Pipeline, host string, port int) *APIService {
	return &APIService{
		pipeline: pipeline,
		host:     host,
		port:     port,
	}
}

// Start begins the API server. It returns an error if the service is already
// running or if it fails to start.
func (as *APIService) Start(ctx context.Context) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.cancel != nil {
		return fmt.Errorf("service already running")
	}
	serverCtx, cancel := context.WithCancel(ctx)
	as.cancel = cancel

	var err error
	as.API, err = api.New(serverCtx, &api.APIConfig{
		Host:     as.host,
		Port:     as.port,
		Pipeline: as.pipeline,
	})
	if err != nil {
		as.cancel = nil
		cancel()
		return fmt.Errorf("failed to start API server: %w", err)
	}
	return nil
}

// Stop halts the API server.
func (as *APIService) Stop() {
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.cancel != nil {
		as.cancel()
		as.cancel = nil
	}
}
