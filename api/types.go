package api

import "github.com/recuento/recuento-node/types"

// SubmitBallotRequest is the POST /ballots body. SealedPayload and Signature
// travel hex-encoded; EmittedAt is the ISO-8601 string that entered the
// signature envelope and must be passed through verbatim.
type SubmitBallotRequest struct {
	BallotID      string         `json:"ballotId"`
	StationID     string         `json:"stationId"`
	EmittedAt     string         `json:"emittedAt"`
	SealedPayload types.HexBytes `json:"sealedPayload"`
	Signature     types.HexBytes `json:"signature"`
	StationPubkey string         `json:"stationPubkey,omitempty"`
}

// SubmitBallotResponse carries the authoritative acknowledgement.
type SubmitBallotResponse struct {
	Accepted bool `json:"accepted"`
}

// PublicKeyResponse carries the tallier public key as base64 X.509 SPKI.
type PublicKeyResponse struct {
	PublicKey string `json:"publicKey"`
}

// RegisterKeyRequest delivers a station AES key wrapped under the tallier
// public key, base64 encoded.
type RegisterKeyRequest struct {
	WrappedKey string `json:"wrappedKey"`
}

// RegisterSigningKeyRequest enrols a station RSA public signing key as
// base64 X.509 SPKI.
type RegisterSigningKeyRequest struct {
	PublicKey string `json:"publicKey"`
}
