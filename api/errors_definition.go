package api

import (
	"fmt"
	"net/http"
)

// Error codes in the 40001-49999 range are the caller's fault and return an
// HTTP 400-family status; codes 50001-59999 are the server's fault. Never
// change an existing code, only append.
var (
	ErrMalformedBody         = Error{Code: 40001, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed JSON body")}
	ErrMalformedBallotID     = Error{Code: 40002, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed ballot ID")}
	ErrBallotRejected        = Error{Code: 40003, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("ballot rejected")}
	ErrDuplicateBallot       = Error{Code: 40004, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("duplicate ballot")}
	ErrUnknownStation        = Error{Code: 40005, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("station not enrolled")}
	ErrInvalidSignature      = Error{Code: 40006, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid signature")}
	ErrUndecryptableBallot   = Error{Code: 40007, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("cannot decrypt ballot")}
	ErrResourceNotFound      = Error{Code: 40008, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("resource not found")}
	ErrMalformedKey          = Error{Code: 40009, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed key material")}

	ErrMarshalingServerJSONFailed = Error{Code: 50001, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("marshaling (server-side) JSON failed")}
	ErrGenericInternalServerError = Error{Code: 50002, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("internal server error")}
)
