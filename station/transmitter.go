package station

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/recuento/recuento-node/audit"
	"github.com/recuento/recuento-node/log"
	"github.com/recuento/recuento-node/outbox"
	"github.com/recuento/recuento-node/types"
)

// Delivery outcomes surfaced to the submission caller. In every failure case
// the ballot stays pending in the outbox and the retry sweep owns it.
var (
	// ErrBreakerOpen is the soft failure returned without touching the wire.
	ErrBreakerOpen = errors.New("circuit breaker open")
	// ErrRejected is the tallier's logical refusal (a false acknowledgement).
	ErrRejected = errors.New("ballot rejected by tallier")
)

// Client is the station's view of the tallier RPC surface.
type Client interface {
	// SubmitBallot delivers a sealed ballot. accepted is the authoritative
	// acknowledgement; a non-nil error is a transport-level failure.
	SubmitBallot(ctx context.Context, ballot *types.Ballot) (accepted bool, err error)
	// ConfirmBallot asks whether the tallier durably holds the ballot id.
	ConfirmBallot(ctx context.Context, id uuid.UUID) (bool, error)
}

// TransmitterConfig tunes the delivery loops. Zero values use defaults.
type TransmitterConfig struct {
	FailureThreshold   int
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	SweepInterval      time.Duration
	SweepInitialDelay  time.Duration
	AuditInterval      time.Duration
	AuditInitialDelay  time.Duration
	PruneInterval      time.Duration
	PruneRetention     time.Duration
	PerCallTimeout     time.Duration
}

func (c *TransmitterConfig) applyDefaults() {
	if c.SweepInterval <= 0 {
		c.SweepInterval = 60 * time.Second
	}
	if c.SweepInitialDelay <= 0 {
		c.SweepInitialDelay = 30 * time.Second
	}
	if c.AuditInterval <= 0 {
		c.AuditInterval = 90 * time.Second
	}
	if c.AuditInitialDelay <= 0 {
		c.AuditInitialDelay = 45 * time.Second
	}
	if c.PruneInterval <= 0 {
		c.PruneInterval = time.Hour
	}
	if c.PruneRetention <= 0 {
		c.PruneRetention = 24 * time.Hour
	}
	if c.PerCallTimeout <= 0 {
		c.PerCallTimeout = 10 * time.Second
	}
}

// Transmitter drives the outbox against the tallier with bounded-retry
// delivery behind the circuit breaker. The transmitter pulls pending entries
// from the outbox; the outbox never calls back into it.
type Transmitter struct {
	obox    *outbox.Outbox
	client  Client
	breaker *Breaker
	journal *audit.Journal
	cfg     TransmitterConfig

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTransmitter wires the transmitter to an outbox and a tallier client.
func NewTransmitter(obox *outbox.Outbox, client Client, journal *audit.Journal, cfg TransmitterConfig) *Transmitter {
	cfg.applyDefaults()
	return &Transmitter{
		obox:    obox,
		client:  client,
		breaker: NewBreaker(cfg.FailureThreshold, cfg.InitialBackoff, cfg.MaxBackoff),
		journal: journal,
		cfg:     cfg,
	}
}

// Breaker exposes the circuit breaker state.
func (t *Transmitter) Breaker() *Breaker {
	return t.breaker
}

// Deliver attempts to transmit one outbox ballot. On a positive
// acknowledgement the ballot is marked acknowledged; in every other case it
// stays pending. The returned error classifies the failure for the caller.
func (t *Transmitter) Deliver(ctx context.Context, ballot *types.Ballot) error {
	if !t.breaker.Allow() {
		return ErrBreakerOpen
	}
	callCtx, cancel := context.WithTimeout(ctx, t.cfg.PerCallTimeout)
	accepted, err := t.client.SubmitBallot(callCtx, ballot)
	cancel()
	if err != nil {
		t.breaker.Failure()
		t.journal.Transmission(ballot.ID.String(), ballot.StationID, false)
		return fmt.Errorf("submit ballot %s: %w", ballot.ID, err)
	}
	t.breaker.Success()
	if !accepted {
		t.journal.Transmission(ballot.ID.String(), ballot.StationID, false)
		return fmt.Errorf("%w: %s", ErrRejected, ballot.ID)
	}
	if err := t.obox.MarkAcknowledged(ballot.ID); err != nil {
		log.Warnw("cannot mark ballot acknowledged", "ballot", ballot.ID.String(), "error", err)
	}
	t.journal.Transmission(ballot.ID.String(), ballot.StationID, true)
	return nil
}

// Start launches the retry sweep, the confirmation auditor and the prune
// loop. Stop cancels them.
func (t *Transmitter) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.startLoop(loopCtx, t.cfg.SweepInitialDelay, t.cfg.SweepInterval, t.sweep)
	t.startLoop(loopCtx, t.cfg.AuditInitialDelay, t.cfg.AuditInterval, t.auditConfirmations)
	t.startLoop(loopCtx, t.cfg.PruneInterval, t.cfg.PruneInterval, func(context.Context) {
		t.obox.Prune(t.cfg.PruneRetention)
	})
}

// Stop cancels the background loops and waits for them to exit.
func (t *Transmitter) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	t.wg.Wait()
}

func (t *Transmitter) startLoop(ctx context.Context, initialDelay, interval time.Duration, fn func(context.Context)) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		initial := time.NewTimer(initialDelay)
		defer initial.Stop()
		select {
		case <-ctx.Done():
			return
		case <-initial.C:
		}
		fn(ctx)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

// sweep resubmits every pending ballot. If the breaker trips mid-sweep the
// sweep aborts; the remaining entries wait for the next pass.
func (t *Transmitter) sweep(ctx context.Context) {
	pending := t.obox.ListPending()
	if len(pending) == 0 {
		return
	}
	log.Debugw("retry sweep", "pending", len(pending))
	for _, ballot := range pending {
		if ctx.Err() != nil {
			return
		}
		if t.breaker.IsOpen() {
			log.Debugw("retry sweep aborted, breaker open")
			return
		}
		if err := t.Deliver(ctx, ballot); err != nil {
			if errors.Is(err, ErrBreakerOpen) {
				return
			}
			log.Debugw("retry delivery failed", "ballot", ballot.ID.String(), "error", err)
		}
	}
}

// auditConfirmations re-checks every acknowledged ballot against the tallier
// confirmation channel, demoting any the tallier does not confirm.
func (t *Transmitter) auditConfirmations(ctx context.Context) {
	for _, ballot := range t.obox.ListAcknowledged() {
		if ctx.Err() != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, t.cfg.PerCallTimeout)
		confirmed, err := t.client.ConfirmBallot(callCtx, ballot.ID)
		cancel()
		if err != nil {
			// Cannot tell; leave the acknowledgement in place.
			continue
		}
		if !confirmed {
			log.Warnw("acknowledged ballot not confirmed by tallier, demoting",
				"ballot", ballot.ID.String())
			if err := t.obox.MarkPending(ballot.ID); err != nil {
				log.Warnw("cannot demote ballot", "ballot", ballot.ID.String(), "error", err)
			}
		}
	}
}
