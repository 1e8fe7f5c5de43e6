// Package api exposes the tallier RPC surface over HTTP: ballot submission,
// station key enrolment, the confirmation channel and the results view.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/recuento/recuento-node/log"
	"github.com/recuento/recuento-node/tally"
)

// APIConfig type represents the configuration for the API HTTP server.
type APIConfig struct {
	Host     string
	Port     int
	Pipeline *tally.Pipeline
}

// API type represents the tallier HTTP server.
type API struct {
	router   *chi.Mux
	pipeline *tally.Pipeline
	server   *http.Server
}

// New creates a new API instance with the given configuration and starts the
// HTTP server in the background. The server stops when ctx is cancelled.
func New(ctx context.Context, conf *APIConfig) (*API, error) {
	if conf == nil {
		return nil, fmt.Errorf("missing API configuration")
	}
	if conf.Pipeline == nil {
		return nil, fmt.Errorf("missing tally pipeline")
	}
	a := &API{
		pipeline: conf.Pipeline,
	}
	a.initRouter()

	a.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", conf.Host, conf.Port),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infow("starting API server", "host", conf.Host, "port", conf.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start the API server: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			log.Warnw("API server shutdown", "error", err)
		}
	}()
	return a, nil
}

// Router returns the chi router for testing purposes.
func (a *API) Router() *chi.Mux {
	return a.router
}

// initRouter creates the router with all the routes and middleware.
func (a *API) initRouter() {
	a.router = chi.NewRouter()
	a.router.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Throttle(100))
	a.router.Use(middleware.Timeout(45 * time.Second))

	a.registerHandlers()
}

// registerHandlers registers all the HTTP handlers for the API endpoints.
func (a *API) registerHandlers() {
	// health check endpoint
	log.Infow("register handler", "endpoint", PingEndpoint, "method", "GET")
	a.router.Get(PingEndpoint, func(w http.ResponseWriter, r *http.Request) {
		httpWriteOK(w)
	})

	// key endpoints
	log.Infow("register handler", "endpoint", PublicKeyEndpoint, "method", "GET")
	a.router.Get(PublicKeyEndpoint, a.publicKey)
	log.Infow("register handler", "endpoint", StationKeyEndpoint, "method", "POST")
	a.router.Post(StationKeyEndpoint, a.registerStationKey)
	log.Infow("register handler", "endpoint", StationSigningKeyEndpoint, "method", "POST")
	a.router.Post(StationSigningKeyEndpoint, a.registerStationSigningKey)

	// ballot endpoints
	log.Infow("register handler", "endpoint", BallotsEndpoint, "method", "POST")
	a.router.Post(BallotsEndpoint, a.submitBallot)
	log.Infow("register handler", "endpoint", BallotConfirmationEndpoint, "method", "GET")
	a.router.Get(BallotConfirmationEndpoint, a.ballotConfirmation)

	// results endpoint
	log.Infow("register handler", "endpoint", ResultsEndpoint, "method", "GET")
	a.router.Get(ResultsEndpoint, a.results)
}
