// Package client implements the station-side HTTP client for the tallier
// API. It is the transport behind the station transmitter: any network-level
// failure is returned as an error, while a refusal status from the tallier
// maps to a false acknowledgement.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/recuento/recuento-node/aggregate"
	"github.com/recuento/recuento-node/api"
	"github.com/recuento/recuento-node/log"
	"github.com/recuento/recuento-node/types"
)

// DefaultTimeout is the default timeout for the HTTP client.
const DefaultTimeout = 10 * time.Second

// HTTPclient is the tallier API HTTP client.
type HTTPclient struct {
	c    *http.Client
	host *url.URL
}

// New returns a client for the tallier at host. The connection is not probed;
// use Ping for that.
func New(host string) (*HTTPclient, error) {
	hostURL, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("parse host: %w", err)
	}
	return &HTTPclient{
		c:    &http.Client{Timeout: DefaultTimeout},
		host: hostURL,
	}, nil
}

// SetTimeout configures the timeout for the HTTP client.
func (c *HTTPclient) SetTimeout(d time.Duration) {
	c.c.Timeout = d
}

// request performs a raw request against the tallier API. Returns the
// response body and status, or an error on a transport-level failure.
func (c *HTTPclient) request(ctx context.Context, method string, jsonBody any, urlPath ...string) ([]byte, int, error) {
	var body io.Reader
	if jsonBody != nil {
		data, err := json.Marshal(jsonBody)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}
	u := *c.host
	u.Path = path.Join(u.Path, path.Join(urlPath...))
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, 0, err
	}
	if jsonBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.c.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warnw("failed to close response body", "error", err)
		}
	}()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return data, resp.StatusCode, nil
}

// Ping checks that the tallier answers.
func (c *HTTPclient) Ping(ctx context.Context) error {
	_, status, err := c.request(ctx, http.MethodGet, nil, api.PingEndpoint)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("ping returned status %d", status)
	}
	return nil
}

// FetchServerPublicKey retrieves the tallier public key (SPKI base64).
func (c *HTTPclient) FetchServerPublicKey(ctx context.Context) (string, error) {
	data, status, err := c.request(ctx, http.MethodGet, nil, api.PublicKeyEndpoint)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("publickey returned status %d: %s", status, data)
	}
	resp := &api.PublicKeyResponse{}
	if err := json.Unmarshal(data, resp); err != nil {
		return "", fmt.Errorf("decode publickey response: %w", err)
	}
	return resp.PublicKey, nil
}

// SubmitBallot delivers a sealed ballot. A 200 response carries the
// acknowledgement and any other status is a refusal (false). A network-level
// failure, or a 200 response whose body cannot be decoded, returns an error.
func (c *HTTPclient) SubmitBallot(ctx context.Context, ballot *types.Ballot) (bool, error) {
	req := &api.SubmitBallotRequest{
		BallotID:      ballot.ID.String(),
		StationID:     ballot.StationID,
		EmittedAt:     ballot.EmittedAtString(),
		SealedPayload: ballot.SealedPayload,
		Signature:     ballot.Signature,
	}
	data, status, err := c.request(ctx, http.MethodPost, req, api.BallotsEndpoint)
	if err != nil {
		return false, err
	}
	if status != http.StatusOK {
		log.Debugw("ballot refused", "ballot", req.BallotID, "status", status, "body", string(data))
		return false, nil
	}
	resp := &api.SubmitBallotResponse{}
	if err := json.Unmarshal(data, resp); err != nil {
		return false, fmt.Errorf("decode submit response: %w", err)
	}
	return resp.Accepted, nil
}

// ConfirmBallot asks the tallier whether it durably holds the ballot id.
func (c *HTTPclient) ConfirmBallot(ctx context.Context, id uuid.UUID) (bool, error) {
	_, status, err := c.request(ctx, http.MethodGet, nil, "/ballots/confirmation", id.String())
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("confirmation returned status %d", status)
	}
}

// FetchResults retrieves the aggregated tallies.
func (c *HTTPclient) FetchResults(ctx context.Context) (*aggregate.Summary, error) {
	data, status, err := c.request(ctx, http.MethodGet, nil, api.ResultsEndpoint)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("results returned status %d: %s", status, data)
	}
	summary := &aggregate.Summary{}
	if err := json.Unmarshal(data, summary); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	return summary, nil
}

// RegisterStationKey delivers the station AES key wrapped under the tallier
// public key.
func (c *HTTPclient) RegisterStationKey(ctx context.Context, stationID, wrappedKeyB64 string) error {
	data, status, err := c.request(ctx, http.MethodPost,
		&api.RegisterKeyRequest{WrappedKey: wrappedKeyB64},
		"/stations", stationID, "key")
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("key registration returned status %d: %s", status, data)
	}
	return nil
}

// RegisterStationSigningKey enrols the station RSA public signing key.
func (c *HTTPclient) RegisterStationSigningKey(ctx context.Context, stationID, publicKeyB64 string) error {
	data, status, err := c.request(ctx, http.MethodPost,
		&api.RegisterSigningKeyRequest{PublicKey: publicKeyB64},
		"/stations", stationID, "signingkey")
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("signing key registration returned status %d: %s", status, data)
	}
	return nil
}
