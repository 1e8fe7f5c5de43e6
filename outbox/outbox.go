// Package outbox implements the polling station's durable at-least-once
// delivery buffer. Every sealed ballot is held in memory and mirrored to a
// per-ballot file until it is acknowledged by the tallier and pruned.
package outbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/recuento/recuento-node/log"
	"github.com/recuento/recuento-node/types"
)

const (
	ballotFileExt      = ".ballot"
	transmittedLogName = "votos_transmitidos.log"
)

// ErrNotFound is returned when a ballot id is not in the outbox.
var ErrNotFound = errors.New("ballot not in outbox")

// State is the delivery state of an outbox entry.
type State int

const (
	// StatePending marks a ballot awaiting a positive acknowledgement.
	StatePending State = iota
	// StateAcknowledged marks a ballot the tallier has acknowledged.
	StateAcknowledged
)

// Outbox owns every sealed ballot from append to acknowledgement. The
// filesystem mirror under dir is the durability boundary: Append only
// returns after the ballot file is synced.
type Outbox struct {
	dir     string
	mu      sync.RWMutex
	ballots map[uuid.UUID]*types.Ballot
	state   map[uuid.UUID]State
	ackedAt map[uuid.UUID]time.Time
	now     func() time.Time
}

// New returns an Outbox rooted at dir, creating the directory if needed.
func New(dir string) (*Outbox, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create outbox directory: %w", err)
	}
	return &Outbox{
		dir:     dir,
		ballots: make(map[uuid.UUID]*types.Ballot),
		state:   make(map[uuid.UUID]State),
		ackedAt: make(map[uuid.UUID]time.Time),
		now:     time.Now,
	}, nil
}

// Append inserts a sealed ballot as pending and persists it to disk before
// returning. The on-disk file is written atomically and synced.
func (o *Outbox) Append(ballot *types.Ballot) error {
	if !ballot.Sealed() {
		return fmt.Errorf("ballot %s is not sealed", ballot.ID)
	}
	data, err := encodeBallot(ballot)
	if err != nil {
		return fmt.Errorf("encode ballot %s: %w", ballot.ID, err)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.ballots[ballot.ID]; exists {
		return fmt.Errorf("ballot %s already appended", ballot.ID)
	}
	if err := o.writeBallotFile(ballot.ID, data); err != nil {
		return err
	}
	o.ballots[ballot.ID] = ballot
	o.state[ballot.ID] = StatePending
	return nil
}

// MarkAcknowledged transitions a ballot to acknowledged and appends the
// transmission record to the transmitted log.
func (o *Outbox) MarkAcknowledged(id uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	ballot, ok := o.ballots[id]
	if !ok {
		return ErrNotFound
	}
	if o.state[id] == StateAcknowledged {
		return nil
	}
	o.state[id] = StateAcknowledged
	o.ackedAt[id] = o.now()
	o.appendTransmittedLog(ballot)
	return nil
}

// MarkPending demotes a ballot back to pending. Used by the confirmation
// auditor when the tallier cannot confirm an earlier acknowledgement.
func (o *Outbox) MarkPending(id uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.ballots[id]; !ok {
		return ErrNotFound
	}
	o.state[id] = StatePending
	delete(o.ackedAt, id)
	return nil
}

// ListPending returns the ballots awaiting acknowledgement.
func (o *Outbox) ListPending() []*types.Ballot {
	return o.list(StatePending)
}

// ListAcknowledged returns the acknowledged ballots not yet pruned.
func (o *Outbox) ListAcknowledged() []*types.Ballot {
	return o.list(StateAcknowledged)
}

func (o *Outbox) list(want State) []*types.Ballot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []*types.Ballot
	for id, st := range o.state {
		if st == want {
			out = append(out, o.ballots[id])
		}
	}
	return out
}

// Recover scans the outbox directory and rehydrates every ballot file as
// pending, regardless of its state before the restart. Acknowledged status is
// deliberately not persisted: the tallier dedup set makes re-submission safe,
// while a lost ballot would not be recoverable.
func (o *Outbox) Recover() error {
	entries, err := os.ReadDir(o.dir)
	if err != nil {
		return fmt.Errorf("read outbox directory: %w", err)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	recovered := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ballotFileExt) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(o.dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read ballot file %s: %w", entry.Name(), err)
		}
		ballot := &types.Ballot{}
		if err := cbor.Unmarshal(data, ballot); err != nil {
			log.Warnw("skipping unreadable ballot file", "file", entry.Name(), "error", err)
			continue
		}
		o.ballots[ballot.ID] = ballot
		o.state[ballot.ID] = StatePending
		delete(o.ackedAt, ballot.ID)
		recovered++
	}
	if recovered > 0 {
		log.Infow("outbox recovered", "pending", recovered)
	}
	return nil
}

// Prune removes acknowledged ballots older than age, deleting their files.
func (o *Outbox) Prune(age time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	cutoff := o.now().Add(-age)
	for id, st := range o.state {
		if st != StateAcknowledged || o.ackedAt[id].After(cutoff) {
			continue
		}
		if err := os.Remove(o.ballotPath(id)); err != nil && !os.IsNotExist(err) {
			log.Warnw("cannot remove pruned ballot file", "ballot", id.String(), "error", err)
			continue
		}
		delete(o.ballots, id)
		delete(o.state, id)
		delete(o.ackedAt, id)
	}
}

// Len returns the number of ballots currently tracked.
func (o *Outbox) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.ballots)
}

func (o *Outbox) ballotPath(id uuid.UUID) string {
	return filepath.Join(o.dir, id.String()+ballotFileExt)
}

// writeBallotFile writes the ballot file atomically (temp file + rename) and
// syncs it. The fsync here is the outbox durability boundary.
func (o *Outbox) writeBallotFile(id uuid.UUID, data []byte) error {
	path := o.ballotPath(id)
	tmp, err := os.CreateTemp(o.dir, id.String()+".tmp")
	if err != nil {
		return fmt.Errorf("create ballot file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write ballot file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync ballot file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close ballot file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename ballot file: %w", err)
	}
	return nil
}

// appendTransmittedLog records an acknowledged transmission as
// ISO8601|ballot_id|station_id|emitted_at. Called with the lock held.
func (o *Outbox) appendTransmittedLog(ballot *types.Ballot) {
	line := fmt.Sprintf("%s|%s|%s|%s\n",
		o.now().UTC().Format(time.RFC3339),
		ballot.ID.String(),
		ballot.StationID,
		ballot.EmittedAtString(),
	)
	f, err := os.OpenFile(filepath.Join(o.dir, transmittedLogName),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		log.Warnw("cannot open transmitted log", "error", err)
		return
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteString(line); err != nil {
		log.Warnw("cannot write transmitted log", "error", err)
	}
}

// encodeBallot serializes a ballot for its on-disk mirror file using
// deterministic CBOR, so a recovered ballot is byte-identical.
func encodeBallot(ballot *types.Ballot) ([]byte, error) {
	encOpts := cbor.CoreDetEncOptions()
	em, err := encOpts.EncMode()
	if err != nil {
		return nil, err
	}
	return em.Marshal(ballot)
}
