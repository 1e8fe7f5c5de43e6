// Package audit implements the append-only journal of pipeline events. Each
// record is a pipe-delimited line written to a daily file; the journal is the
// authoritative explanation for any ballot refusal.
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/recuento/recuento-node/log"
)

// Kind identifies the record type of a journal line.
type Kind string

const (
	KindReception    Kind = "RECEPCION"
	KindVerification Kind = "VERIFICACION"
	KindTally        Kind = "CONTABILIZACION"
	KindDuplicate    Kind = "DUPLICADO"
	KindTransmission Kind = "TRANSMISION"
	KindVoteAttempt  Kind = "INTENTO_VOTO"
	KindFraudAttempt Kind = "INTENTO_FRAUDE"

	successToken = "EXITOSO"
	failureToken = "FALLIDO"
)

// Journal writes audit records to <prefix>_YYYYMMDD.log files under dir. The
// file handle is acquired per write; durability is at OS flush granularity.
type Journal struct {
	dir    string
	prefix string
	mu     sync.Mutex
	now    func() time.Time
}

// New returns a Journal rooted at dir. The directory is created if missing.
func New(dir, prefix string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}
	return &Journal{
		dir:    dir,
		prefix: prefix,
		now:    time.Now,
	}, nil
}

// Reception journals the arrival of a ballot at the tallier.
func (j *Journal) Reception(ballotID, stationID string, ok bool) {
	j.append(KindReception, ballotID, stationID, successField(ok))
}

// Verification journals a signature verification outcome.
func (j *Journal) Verification(ballotID, stationID string, ok bool) {
	j.append(KindVerification, ballotID, stationID, successField(ok))
}

// Tally journals a counted ballot.
func (j *Journal) Tally(ballotID, stationID, candidateID string) {
	j.append(KindTally, ballotID, stationID, candidateID)
}

// Duplicate journals a replayed ballot id.
func (j *Journal) Duplicate(ballotID, stationID string) {
	j.append(KindDuplicate, ballotID, stationID)
}

// Transmission journals a station-side delivery outcome.
func (j *Journal) Transmission(ballotID, stationID string, ok bool) {
	j.append(KindTransmission, ballotID, stationID, successField(ok))
}

// VoteAttempt journals a voter presenting at a station. The document is
// masked before it touches disk.
func (j *Journal) VoteAttempt(stationID, document string, ok bool) {
	j.append(KindVoteAttempt, stationID, MaskDocument(document), successField(ok))
}

// FraudAttempt journals a refused voter with the refusal reason.
func (j *Journal) FraudAttempt(stationID, document, reason string) {
	j.append(KindFraudAttempt, stationID, MaskDocument(document), reason)
}

func (j *Journal) append(kind Kind, fields ...string) {
	line := string(kind) + "|" + strings.Join(fields, "|") + "\n"
	j.mu.Lock()
	defer j.mu.Unlock()
	name := fmt.Sprintf("%s_%s.log", j.prefix, j.now().Format("20060102"))
	f, err := os.OpenFile(filepath.Join(j.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		log.Warnw("cannot open audit file", "file", name, "error", err)
		return
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Warnw("cannot close audit file", "file", name, "error", err)
		}
	}()
	if _, err := f.WriteString(line); err != nil {
		log.Warnw("cannot write audit record", "kind", kind, "error", err)
	}
}

// MaskDocument replaces a voter document with XXXX followed by its last up to
// four characters.
func MaskDocument(document string) string {
	tail := document
	if len(tail) > 4 {
		tail = tail[len(tail)-4:]
	}
	return "XXXX" + tail
}

func successField(ok bool) string {
	if ok {
		return successToken
	}
	return failureToken
}
