package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/google/uuid"

	"github.com/recuento/recuento-node/aggregate"
	"github.com/recuento/recuento-node/audit"
	"github.com/recuento/recuento-node/crypto/sealing"
	"github.com/recuento/recuento-node/db/metadb"
	"github.com/recuento/recuento-node/storage"
	"github.com/recuento/recuento-node/tally"
	"github.com/recuento/recuento-node/types"
)

var (
	tallierKeys *sealing.TallierKeys
	stationKeys *sealing.StationKeys
)

func TestMain(m *testing.M) {
	var err error
	if tallierKeys, err = sealing.GenerateTallierKeys(); err != nil {
		panic(err)
	}
	if stationKeys, err = sealing.GenerateStationKeys(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func newTestAPI(t *testing.T) *API {
	t.Helper()
	stg := storage.New(metadb.NewTest(t))
	journal, err := audit.New(t.TempDir(), "recuento")
	if err != nil {
		t.Fatalf("audit.New: %v", err)
	}
	pipeline, err := tally.New(stg, tallierKeys, journal, tally.Options{ExpectedBallots: 1000})
	if err != nil {
		t.Fatalf("tally.New: %v", err)
	}
	a := &API{pipeline: pipeline}
	a.initRouter()
	return a
}

func doRequest(t *testing.T, a *API, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reqBody)
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)
	return rec
}

// enrolStation registers the test station keys through the HTTP surface.
func enrolStation(t *testing.T, a *API, stationID string) *sealing.Sealer {
	t.Helper()
	c := qt.New(t)
	sealer := sealing.NewSealer(stationID, stationKeys)

	rec := doRequest(t, a, http.MethodGet, PublicKeyEndpoint, nil)
	c.Assert(rec.Code, qt.Equals, http.StatusOK)
	keyResp := &PublicKeyResponse{}
	c.Assert(json.Unmarshal(rec.Body.Bytes(), keyResp), qt.IsNil)

	wrapped, err := sealer.WrapSymmetricKeyFor(keyResp.PublicKey)
	c.Assert(err, qt.IsNil)
	rec = doRequest(t, a, http.MethodPost,
		fmt.Sprintf("/stations/%s/key", stationID),
		&RegisterKeyRequest{WrappedKey: wrapped})
	c.Assert(rec.Code, qt.Equals, http.StatusOK)

	signingPub, err := sealer.PublicSigningKeyBase64()
	c.Assert(err, qt.IsNil)
	rec = doRequest(t, a, http.MethodPost,
		fmt.Sprintf("/stations/%s/signingkey", stationID),
		&RegisterSigningKeyRequest{PublicKey: signingPub})
	c.Assert(rec.Code, qt.Equals, http.StatusOK)
	return sealer
}

func sealedSubmission(t *testing.T, sealer *sealing.Sealer, candidate string) *SubmitBallotRequest {
	t.Helper()
	ballot := &types.Ballot{
		ID:          uuid.New(),
		StationID:   sealer.StationID(),
		EmittedAt:   time.Now().UTC().Truncate(time.Second),
		CandidateID: candidate,
	}
	if err := sealer.Seal(ballot); err != nil {
		t.Fatalf("seal: %v", err)
	}
	return &SubmitBallotRequest{
		BallotID:      ballot.ID.String(),
		StationID:     ballot.StationID,
		EmittedAt:     ballot.EmittedAtString(),
		SealedPayload: ballot.SealedPayload,
		Signature:     ballot.Signature,
	}
}

func TestPing(t *testing.T) {
	c := qt.New(t)
	a := newTestAPI(t)
	rec := doRequest(t, a, http.MethodGet, PingEndpoint, nil)
	c.Assert(rec.Code, qt.Equals, http.StatusOK)
}

func TestSubmitBallotHappyPath(t *testing.T) {
	c := qt.New(t)
	a := newTestAPI(t)
	sealer := enrolStation(t, a, "M01")

	sub := sealedSubmission(t, sealer, "C3")
	rec := doRequest(t, a, http.MethodPost, BallotsEndpoint, sub)
	c.Assert(rec.Code, qt.Equals, http.StatusOK)
	resp := &SubmitBallotResponse{}
	c.Assert(json.Unmarshal(rec.Body.Bytes(), resp), qt.IsNil)
	c.Assert(resp.Accepted, qt.IsTrue)

	// The confirmation channel knows the ballot.
	rec = doRequest(t, a, http.MethodGet, "/ballots/confirmation/"+sub.BallotID, nil)
	c.Assert(rec.Code, qt.Equals, http.StatusOK)

	// And the results reflect it.
	rec = doRequest(t, a, http.MethodGet, ResultsEndpoint, nil)
	c.Assert(rec.Code, qt.Equals, http.StatusOK)
	summary := &aggregate.Summary{}
	c.Assert(json.Unmarshal(rec.Body.Bytes(), summary), qt.IsNil)
	c.Assert(summary.ByCandidate["C3"], qt.Equals, uint64(1))
	c.Assert(summary.CountedTotal, qt.Equals, uint64(1))
}

func TestSubmitBallotDuplicate(t *testing.T) {
	c := qt.New(t)
	a := newTestAPI(t)
	sealer := enrolStation(t, a, "M01")

	sub := sealedSubmission(t, sealer, "C3")
	rec := doRequest(t, a, http.MethodPost, BallotsEndpoint, sub)
	c.Assert(rec.Code, qt.Equals, http.StatusOK)

	rec = doRequest(t, a, http.MethodPost, BallotsEndpoint, sub)
	c.Assert(rec.Code, qt.Equals, http.StatusConflict)
	apiErr := map[string]any{}
	c.Assert(json.Unmarshal(rec.Body.Bytes(), &apiErr), qt.IsNil)
	c.Assert(apiErr["code"], qt.Equals, float64(ErrDuplicateBallot.Code))
}

func TestSubmitBallotBadSignature(t *testing.T) {
	c := qt.New(t)
	a := newTestAPI(t)
	sealer := enrolStation(t, a, "M01")

	sub := sealedSubmission(t, sealer, "C3")
	sub.Signature = append(types.HexBytes{}, sub.Signature...)
	sub.Signature[0]++
	rec := doRequest(t, a, http.MethodPost, BallotsEndpoint, sub)
	c.Assert(rec.Code, qt.Equals, http.StatusBadRequest)
}

func TestSubmitBallotUnknownStation(t *testing.T) {
	c := qt.New(t)
	a := newTestAPI(t)

	sealer := sealing.NewSealer("M09", stationKeys)
	sub := sealedSubmission(t, sealer, "C3")
	rec := doRequest(t, a, http.MethodPost, BallotsEndpoint, sub)
	c.Assert(rec.Code, qt.Equals, http.StatusBadRequest)
}

func TestSubmitBallotMalformedBody(t *testing.T) {
	c := qt.New(t)
	a := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, BallotsEndpoint, bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)
	c.Assert(rec.Code, qt.Equals, http.StatusBadRequest)
}

func TestRefusalMapping(t *testing.T) {
	c := qt.New(t)

	for _, tc := range []struct {
		refusal error
		want    Error
	}{
		{tally.ErrMalformed, ErrMalformedBallotID},
		{tally.ErrDuplicate, ErrDuplicateBallot},
		{tally.ErrUnknownStation, ErrUnknownStation},
		{tally.ErrBadSignature, ErrInvalidSignature},
		{tally.ErrDecryption, ErrUndecryptableBallot},
		{tally.ErrAggregation, ErrBallotRejected},
	} {
		got := Refusal(tc.refusal)
		c.Assert(got.Code, qt.Equals, tc.want.Code)
		c.Assert(got.HTTPstatus, qt.Equals, tc.want.HTTPstatus)
		// The mapped error still matches its pipeline sentinel.
		c.Assert(errors.Is(got, tc.refusal), qt.IsTrue)
	}

	// A refusal with detail keeps the detail in the response body.
	detailed := Refusal(fmt.Errorf("%w: station M09", tally.ErrUnknownStation))
	c.Assert(detailed.Code, qt.Equals, ErrUnknownStation.Code)
	c.Assert(detailed.Error(), qt.Contains, "station M09")

	// Anything unmapped is a server-side error.
	c.Assert(Refusal(errors.New("disk on fire")).Code, qt.Equals, ErrGenericInternalServerError.Code)
}

func TestConfirmationNotFound(t *testing.T) {
	c := qt.New(t)
	a := newTestAPI(t)

	rec := doRequest(t, a, http.MethodGet, "/ballots/confirmation/"+uuid.New().String(), nil)
	c.Assert(rec.Code, qt.Equals, http.StatusNotFound)

	rec = doRequest(t, a, http.MethodGet, "/ballots/confirmation/not-a-uuid", nil)
	c.Assert(rec.Code, qt.Equals, http.StatusBadRequest)
}
