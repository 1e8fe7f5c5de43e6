package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/recuento/recuento-node/tally"
)

// submitBallot pushes a sealed ballot through the intake pipeline
// POST /ballots
func (a *API) submitBallot(w http.ResponseWriter, r *http.Request) {
	req := &SubmitBallotRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.Withf("could not decode request body: %v", err).Write(w)
		return
	}
	err := a.pipeline.Submit(&tally.Submission{
		BallotID:      req.BallotID,
		StationID:     req.StationID,
		EmittedAt:     req.EmittedAt,
		SealedPayload: req.SealedPayload,
		Signature:     req.Signature,
		StationPubkey: req.StationPubkey,
	})
	if err != nil {
		Refusal(err).Write(w)
		return
	}
	httpWriteJSON(w, SubmitBallotResponse{Accepted: true})
}

// ballotConfirmation reports whether a ballot id is durably acknowledged
// GET /ballots/confirmation/{ballotId}
func (a *API) ballotConfirmation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, BallotURLParam))
	if err != nil {
		ErrMalformedBallotID.Withf("could not parse ballot ID: %v", err).Write(w)
		return
	}
	if !a.pipeline.Confirmed(id) {
		ErrResourceNotFound.Write(w)
		return
	}
	httpWriteOK(w)
}

// publicKey returns the tallier public key for station key wrapping
// GET /publickey
func (a *API) publicKey(w http.ResponseWriter, r *http.Request) {
	pub, err := a.pipeline.PublicKeyBase64()
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, PublicKeyResponse{PublicKey: pub})
}

// registerStationKey installs a station AES key delivered wrapped under the
// tallier public key
// POST /stations/{stationId}/key
func (a *API) registerStationKey(w http.ResponseWriter, r *http.Request) {
	stationID := chi.URLParam(r, StationURLParam)
	req := &RegisterKeyRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.Withf("could not decode request body: %v", err).Write(w)
		return
	}
	if err := a.pipeline.RegisterStationKey(stationID, req.WrappedKey); err != nil {
		ErrMalformedKey.WithErr(err).Write(w)
		return
	}
	httpWriteOK(w)
}

// registerStationSigningKey enrols a station RSA public signing key
// POST /stations/{stationId}/signingkey
func (a *API) registerStationSigningKey(w http.ResponseWriter, r *http.Request) {
	stationID := chi.URLParam(r, StationURLParam)
	req := &RegisterSigningKeyRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		ErrMalformedBody.Withf("could not decode request body: %v", err).Write(w)
		return
	}
	if err := a.pipeline.RegisterStationSigningKey(stationID, req.PublicKey); err != nil {
		ErrMalformedKey.WithErr(err).Write(w)
		return
	}
	httpWriteOK(w)
}

// results returns the aggregated tallies
// GET /results
func (a *API) results(w http.ResponseWriter, r *http.Request) {
	httpWriteJSON(w, a.pipeline.Aggregator().Summary())
}
