// Package station implements the polling station side of the pipeline: the
// ballot factory, the sealer wiring, the durable outbox, and the
// circuit-breaker transmitter with its retry and confirmation loops.
package station

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/recuento/recuento-node/audit"
	"github.com/recuento/recuento-node/crypto/sealing"
	"github.com/recuento/recuento-node/log"
	"github.com/recuento/recuento-node/outbox"
	"github.com/recuento/recuento-node/types"
)

// EligibilityChecker is the external collaborator that decides whether a
// voter may vote at this station right now. The station trusts the answer.
type EligibilityChecker interface {
	MayVote(stationID, document string) (ok bool, reason string)
}

// allowAll is the default checker used when no collaborator is wired.
type allowAll struct{}

func (allowAll) MayVote(string, string) (bool, string) { return true, "" }

// Station ties together the sealer, the outbox and the transmitter for one
// polling site.
type Station struct {
	id          string
	sealer      *sealing.Sealer
	obox        *outbox.Outbox
	transmitter *Transmitter
	journal     *audit.Journal
	eligibility EligibilityChecker
}

// New builds a Station. The outbox is recovered from disk before the station
// is returned, so every not-yet-acknowledged ballot from a previous run
// reappears as pending.
func New(id string, sealer *sealing.Sealer, obox *outbox.Outbox, transmitter *Transmitter,
	journal *audit.Journal, eligibility EligibilityChecker,
) (*Station, error) {
	if eligibility == nil {
		eligibility = allowAll{}
	}
	if err := obox.Recover(); err != nil {
		return nil, fmt.Errorf("recover outbox: %w", err)
	}
	return &Station{
		id:          id,
		sealer:      sealer,
		obox:        obox,
		transmitter: transmitter,
		journal:     journal,
		eligibility: eligibility,
	}, nil
}

// ID returns the station identifier.
func (s *Station) ID() string {
	return s.id
}

// Outbox returns the station outbox.
func (s *Station) Outbox() *outbox.Outbox {
	return s.obox
}

// Transmitter returns the station transmitter.
func (s *Station) Transmitter() *Transmitter {
	return s.transmitter
}

// Vote runs the full station flow for one voter: eligibility check, ballot
// construction, sealing, durable append, and a first delivery attempt. The
// voter document never travels with the ballot; it is only journalled in
// masked form. A delivery failure is not an error for the voter: the ballot
// is safe in the outbox and the retry sweep owns it.
func (s *Station) Vote(ctx context.Context, document, candidateID string) (uuid.UUID, error) {
	ok, reason := s.eligibility.MayVote(s.id, document)
	if !ok {
		s.journal.FraudAttempt(s.id, document, reason)
		return uuid.Nil, fmt.Errorf("voter not eligible: %s", reason)
	}
	s.journal.VoteAttempt(s.id, document, true)

	ballot, err := s.EmitBallot(ctx, candidateID)
	if err != nil {
		return uuid.Nil, err
	}
	return ballot.ID, nil
}

// EmitBallot creates, seals, appends and attempts to deliver a ballot for
// the given candidate.
func (s *Station) EmitBallot(ctx context.Context, candidateID string) (*types.Ballot, error) {
	ballot := &types.Ballot{
		ID:          uuid.New(),
		StationID:   s.id,
		EmittedAt:   time.Now().UTC().Truncate(time.Second),
		CandidateID: candidateID,
	}
	if err := s.sealer.Seal(ballot); err != nil {
		// A sealer failure means the cryptographic provider is broken,
		// which is fatal for the station.
		return nil, fmt.Errorf("seal: %w", err)
	}
	if err := s.obox.Append(ballot); err != nil {
		return nil, fmt.Errorf("append to outbox: %w", err)
	}
	if err := s.transmitter.Deliver(ctx, ballot); err != nil {
		log.Infow("ballot stored for retry", "ballot", ballot.ID.String(), "reason", err.Error())
	}
	return ballot, nil
}
