package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/recuento/recuento-node/tally"
)

// Error is the JSON error envelope of the API: a stable numeric code, the
// HTTP status used to send it, and the wrapped cause. Most instances are
// produced by Refusal, which translates the intake pipeline's sentinel
// errors into their wire form.
type Error struct {
	Err        error
	Code       int
	HTTPstatus int
}

// refusals maps each pipeline refusal sentinel to its API error. Order
// matters only in that every sentinel must appear exactly once.
var refusals = []struct {
	refusal error
	apiErr  Error
}{
	{tally.ErrMalformed, ErrMalformedBallotID},
	{tally.ErrDuplicate, ErrDuplicateBallot},
	{tally.ErrUnknownStation, ErrUnknownStation},
	{tally.ErrBadSignature, ErrInvalidSignature},
	{tally.ErrDecryption, ErrUndecryptableBallot},
	{tally.ErrAggregation, ErrBallotRejected},
}

// Refusal converts a pipeline refusal into its API error. Every refusal is a
// false acknowledgement on the wire; the HTTP status only classifies the
// reason. The extra detail a refusal carries beyond its sentinel text is
// preserved in the response body.
func Refusal(err error) Error {
	for _, m := range refusals {
		if !errors.Is(err, m.refusal) {
			continue
		}
		apiErr := m.apiErr
		if detail := err.Error(); detail != m.refusal.Error() {
			apiErr = apiErr.with(detail)
		}
		apiErr.Err = refusalCause{apiErr: apiErr.Err, refusal: err}
		return apiErr
	}
	return ErrGenericInternalServerError.WithErr(err)
}

// refusalCause keeps the API error text while unwrapping to both the catalog
// cause and the pipeline refusal it was mapped from.
type refusalCause struct {
	apiErr  error
	refusal error
}

func (c refusalCause) Error() string   { return c.apiErr.Error() }
func (c refusalCause) Unwrap() []error { return []error{c.apiErr, c.refusal} }

// Error returns the message of the wrapped cause.
func (e Error) Error() string {
	return e.Err.Error()
}

// Unwrap exposes the cause, so callers can match an API error against the
// pipeline sentinel it was mapped from with errors.Is.
func (e Error) Unwrap() error {
	return e.Err
}

// MarshalJSON encodes the error message and code; the HTTP status travels in
// the response status line, not the body.
//
// Example output: {"code":40005,"error":"station not enrolled"}
func (e Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"error": e.Err.Error(),
		"code":  e.Code,
	})
}

// Write sends the error as a JSON response with the configured HTTP status.
func (e Error) Write(w http.ResponseWriter) {
	msg, err := json.Marshal(e)
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPstatus)
	_, _ = w.Write(append(msg, '\n'))
}

// Withf returns a copy of the error carrying a formatted detail message.
func (e Error) Withf(format string, args ...any) Error {
	return e.with(fmt.Sprintf(format, args...))
}

// WithErr returns a copy of the error carrying err as detail.
func (e Error) WithErr(err error) Error {
	return e.with(err.Error())
}

// with returns a copy of the error with detail appended to the cause. The
// receiver is a value, so the catalog entries in errors_definition.go are
// never mutated.
func (e Error) with(detail string) Error {
	e.Err = fmt.Errorf("%w: %s", e.Err, detail)
	return e
}
