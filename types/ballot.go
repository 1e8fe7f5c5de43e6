package types

import (
	"time"

	"github.com/google/uuid"
)

// EmittedAtFormat is the wire format for ballot emission timestamps,
// ISO-8601 with second resolution in UTC.
const EmittedAtFormat = "2006-01-02T15:04:05Z07:00"

// Ballot is a single voter choice as handled by a polling station. It is
// immutable once sealed: SealedPayload carries the AES-CBC encryption of
// CandidateID (IV prepended) and Signature the station's RSA signature over
// the canonical envelope bytes.
type Ballot struct {
	ID            uuid.UUID `json:"id" cbor:"1,keyasint"`
	StationID     string    `json:"stationId" cbor:"2,keyasint"`
	EmittedAt     time.Time `json:"emittedAt" cbor:"3,keyasint"`
	CandidateID   string    `json:"candidateId,omitempty" cbor:"4,keyasint,omitempty"`
	SealedPayload HexBytes  `json:"sealedPayload,omitempty" cbor:"5,keyasint,omitempty"`
	Signature     HexBytes  `json:"signature,omitempty" cbor:"6,keyasint,omitempty"`
}

// EmittedAtString returns the timestamp exactly as it travels on the wire and
// as it enters the signature envelope. Both sides must use this encoding
// verbatim, since the verifier recomputes the signed bytes bit for bit.
func (b *Ballot) EmittedAtString() string {
	return b.EmittedAt.UTC().Truncate(time.Second).Format(EmittedAtFormat)
}

// Sealed reports whether the ballot has been sealed.
func (b *Ballot) Sealed() bool {
	return len(b.SealedPayload) > 0 && len(b.Signature) > 0
}

// EnvelopeBytes returns the canonical byte string signed by the station:
// UTF-8(id) ‖ UTF-8(stationID) ‖ UTF-8(emittedAt) ‖ sealedPayload, with no
// separators.
func (b *Ballot) EnvelopeBytes() []byte {
	return EnvelopeBytes(b.ID.String(), b.StationID, b.EmittedAtString(), b.SealedPayload)
}

// EnvelopeBytes composes the canonical signed byte string from its wire
// components. The tallier calls this with the received fields verbatim.
func EnvelopeBytes(ballotID, stationID, emittedAt string, sealedPayload []byte) []byte {
	out := make([]byte, 0, len(ballotID)+len(stationID)+len(emittedAt)+len(sealedPayload))
	out = append(out, ballotID...)
	out = append(out, stationID...)
	out = append(out, emittedAt...)
	return append(out, sealedPayload...)
}

// ReceivedBallot is the tallier-side view of a submitted ballot. EmittedAt is
// kept as the raw wire string because it is part of the signed envelope.
type ReceivedBallot struct {
	ID                   uuid.UUID `json:"id" cbor:"1,keyasint"`
	StationID            string    `json:"stationId" cbor:"2,keyasint"`
	EmittedAt            string    `json:"emittedAt" cbor:"3,keyasint"`
	SealedPayload        HexBytes  `json:"sealedPayload" cbor:"4,keyasint"`
	Signature            HexBytes  `json:"signature" cbor:"5,keyasint"`
	ReceivedAt           time.Time `json:"receivedAt" cbor:"6,keyasint"`
	DecryptedCandidateID string    `json:"decryptedCandidateId,omitempty" cbor:"7,keyasint,omitempty"`
	Verified             bool      `json:"verified" cbor:"8,keyasint"`
	Counted              bool      `json:"counted" cbor:"9,keyasint"`
}

// EnvelopeBytes returns the canonical byte string whose signature the
// verifier checks, recomposed from the fields exactly as received.
func (rb *ReceivedBallot) EnvelopeBytes() []byte {
	return EnvelopeBytes(rb.ID.String(), rb.StationID, rb.EmittedAt, rb.SealedPayload)
}
