// Package tally implements the tallier intake pipeline. Every submission
// runs through the fixed stage order: replay detector → signature verifier →
// decryptor → aggregator → audit journal. Any stage short-circuits with a
// refusal; only a successful count yields a positive acknowledgement.
package tally

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/recuento/recuento-node/aggregate"
	"github.com/recuento/recuento-node/audit"
	"github.com/recuento/recuento-node/crypto/sealing"
	"github.com/recuento/recuento-node/dedup"
	"github.com/recuento/recuento-node/log"
	"github.com/recuento/recuento-node/storage"
	"github.com/recuento/recuento-node/types"
)

// Refusal reasons. Each maps to a false acknowledgement on the wire; the
// audit journal carries the authoritative explanation.
var (
	ErrMalformed      = errors.New("malformed submission")
	ErrDuplicate      = errors.New("duplicate ballot")
	ErrUnknownStation = errors.New("station not enrolled")
	ErrBadSignature   = errors.New("signature verification failed")
	ErrDecryption     = errors.New("payload decryption failed")
	ErrAggregation    = errors.New("ballot cannot be aggregated")
)

// Submission carries the raw SubmitBallot fields as received on the wire.
// EmittedAt stays a string because it is part of the signed envelope.
type Submission struct {
	BallotID      string
	StationID     string
	EmittedAt     string
	SealedPayload []byte
	Signature     []byte
	// StationPubkey is only honoured when lazy enrolment is enabled and the
	// station has never been seen before.
	StationPubkey string
}

// Options configure the pipeline.
type Options struct {
	// ExpectedBallots sizes the replay prefilter.
	ExpectedBallots int
	// RegisteredVoters is the electoral roll size for turnout reporting.
	RegisteredVoters uint64
	// LazyEnrolment accepts the signing key carried in a station's first
	// submission instead of requiring out-of-band enrolment. Disabled by
	// default: a key supplied by the message it authenticates proves
	// nothing about the sender.
	LazyEnrolment bool
}

// Pipeline is the tallier intake pipeline.
type Pipeline struct {
	detector *dedup.Detector
	stg      *storage.Storage
	agg      *aggregate.Aggregator
	keys     *sealing.TallierKeys
	journal  *audit.Journal
	lazy     bool
}

// New builds the pipeline, rebuilding the replay detector from the persisted
// dedup mirror and restoring the aggregator counters, so that a tallier
// restart cannot double-count.
func New(stg *storage.Storage, keys *sealing.TallierKeys, journal *audit.Journal, opts Options) (*Pipeline, error) {
	p := &Pipeline{
		detector: dedup.New(dedup.Options{ExpectedBallots: opts.ExpectedBallots}),
		stg:      stg,
		agg:      aggregate.New(opts.RegisteredVoters),
		keys:     keys,
		journal:  journal,
		lazy:     opts.LazyEnrolment,
	}
	ids, err := stg.DedupIDs()
	if err != nil {
		return nil, fmt.Errorf("rebuild replay detector: %w", err)
	}
	p.detector.Restore(ids)
	// The ballot archive is the authoritative record of counted ballots;
	// replay it to rebuild the counters.
	if err := stg.ArchivedBallots(func(rb *types.ReceivedBallot) bool {
		p.agg.IncrementReceived()
		p.agg.Count(rb)
		return true
	}); err != nil {
		return nil, fmt.Errorf("rebuild aggregate counters: %w", err)
	}
	if len(ids) > 0 {
		log.Infow("tallier state rebuilt", "ballots", len(ids), "counted", p.agg.CountedTotal())
	}
	return p, nil
}

// Aggregator exposes the tally counters for the results surface.
func (p *Pipeline) Aggregator() *aggregate.Aggregator {
	return p.agg
}

// Submit runs one ballot through the full pipeline. A nil return is the
// positive acknowledgement: the ballot id is durably in the dedup set and its
// vote is counted. Any non-nil return maps to a false acknowledgement.
func (p *Pipeline) Submit(sub *Submission) error {
	id, err := uuid.Parse(sub.BallotID)
	if err != nil {
		p.journal.Reception(sub.BallotID, sub.StationID, false)
		return fmt.Errorf("%w: bad ballot id: %v", ErrMalformed, err)
	}
	if len(sub.SealedPayload) == 0 || len(sub.Signature) == 0 {
		p.journal.Reception(sub.BallotID, sub.StationID, false)
		return fmt.Errorf("%w: empty payload or signature", ErrMalformed)
	}

	// Replay detection. Registration is atomic: of N concurrent submissions
	// of the same id exactly one proceeds past this point.
	if !p.detector.CheckAndRegister(id) {
		p.journal.Duplicate(sub.BallotID, sub.StationID)
		return ErrDuplicate
	}
	p.agg.IncrementReceived()
	p.journal.Reception(sub.BallotID, sub.StationID, true)

	rb := &types.ReceivedBallot{
		ID:            id,
		StationID:     sub.StationID,
		EmittedAt:     sub.EmittedAt,
		SealedPayload: sub.SealedPayload,
		Signature:     sub.Signature,
		ReceivedAt:    time.Now(),
	}

	if err := p.verify(rb, sub.StationPubkey); err != nil {
		p.journal.Verification(sub.BallotID, sub.StationID, false)
		p.unregister(id)
		return err
	}
	rb.Verified = true
	p.journal.Verification(sub.BallotID, sub.StationID, true)

	if err := p.decrypt(rb); err != nil {
		log.Warnw("ballot decryption failed",
			"ballot", sub.BallotID, "station", sub.StationID, "error", err)
		p.journal.Verification(sub.BallotID, sub.StationID, false)
		p.unregister(id)
		return err
	}

	if rb.DecryptedCandidateID == "" {
		log.Warnw("ballot not countable", "ballot", sub.BallotID, "station", sub.StationID)
		p.unregister(id)
		return ErrAggregation
	}
	// Archive before touching the counters: if the durable mirror cannot be
	// written the ack would be a lie, and a refusal must leave no aggregate
	// side effect.
	rb.Counted = true
	if err := p.stg.ArchiveBallot(rb); err != nil {
		log.Errorw(err, "failed to archive ballot")
		rb.Counted = false
		p.unregister(id)
		return fmt.Errorf("archive ballot: %w", err)
	}
	p.agg.Count(rb)
	p.journal.Tally(sub.BallotID, sub.StationID, rb.DecryptedCandidateID)
	return nil
}

// verify resolves the station signing key and checks the envelope signature.
func (p *Pipeline) verify(rb *types.ReceivedBallot, stationPubkey string) error {
	if !p.stg.HasStationSigningKey(rb.StationID) {
		if !p.lazy || stationPubkey == "" {
			return fmt.Errorf("%w: %s", ErrUnknownStation, rb.StationID)
		}
		pub, err := sealing.ParsePublicKeyBase64(stationPubkey)
		if err != nil {
			return fmt.Errorf("%w: bad enrolment key: %v", ErrUnknownStation, err)
		}
		if err := p.stg.SetStationSigningKey(rb.StationID, pub); err != nil {
			return fmt.Errorf("enrol station %s: %w", rb.StationID, err)
		}
		log.Infow("lazily enrolled station signing key", "station", rb.StationID)
	}
	pub, err := p.stg.StationSigningKey(rb.StationID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownStation, rb.StationID)
	}
	if !sealing.VerifyEnvelope(pub, rb.EnvelopeBytes(), rb.Signature) {
		return ErrBadSignature
	}
	return nil
}

// decrypt recovers the candidate id from the sealed payload.
func (p *Pipeline) decrypt(rb *types.ReceivedBallot) error {
	key, err := p.stg.StationSymmetricKey(rb.StationID)
	if err != nil {
		return fmt.Errorf("%w: no symmetric key for station %s", ErrDecryption, rb.StationID)
	}
	plaintext, err := sealing.DecryptCBC(key, rb.SealedPayload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	if !utf8.Valid(plaintext) {
		return fmt.Errorf("%w: plaintext is not valid UTF-8", ErrDecryption)
	}
	rb.DecryptedCandidateID = string(plaintext)
	return nil
}

// unregister rolls the replay registration back when a later stage refused
// the ballot, so a refused id can be resubmitted once its cause (a missing
// enrolment, a corrupted envelope) is fixed. Only a counted ballot keeps its
// id registered, which is exactly the exactly-once property.
func (p *Pipeline) unregister(id uuid.UUID) {
	p.detector.Unregister(id)
}

// RegisterStationKey unwraps and installs a station AES key delivered under
// the tallier public key.
func (p *Pipeline) RegisterStationKey(stationID, wrappedKeyB64 string) error {
	key, err := p.keys.UnwrapSymmetricKey(wrappedKeyB64)
	if err != nil {
		return err
	}
	return p.stg.SetStationSymmetricKey(stationID, key)
}

// RegisterStationSigningKey installs a station RSA public signing key from
// its base64 SPKI form. Re-registration replaces the previous key.
func (p *Pipeline) RegisterStationSigningKey(stationID, publicKeyB64 string) error {
	pub, err := sealing.ParsePublicKeyBase64(publicKeyB64)
	if err != nil {
		return err
	}
	return p.stg.SetStationSigningKey(stationID, pub)
}

// Confirmed reports whether a ballot id is in the durable dedup mirror, the
// out-of-band confirmation channel used by the station auditor.
func (p *Pipeline) Confirmed(id uuid.UUID) bool {
	return p.stg.HasBallot(id)
}

// PublicKeyBase64 returns the tallier public key for station key wrapping.
func (p *Pipeline) PublicKeyBase64() (string, error) {
	return p.keys.PublicKeyBase64()
}
