// Package gateway defines the wire envelope shared by the HTTP API and
// the websocket notification channel. Every response carries either a
// data payload or a classified error; streaming notifications reuse the
// same envelope with a type tag.
package gateway

import (
	stderrors "errors"

	"github.com/google/uuid"

	"github.com/c360/streamscope/errors"
)

// Envelope is the uniform response shape: exactly one of Data or Error
// is set, discriminated by Success.
type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// ErrorBody carries a stable error code plus the verbatim message.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes surfaced to callers. Transient errors never reach the
// envelope from the streaming loop; the code exists for one-shot
// receive timeouts.
const (
	CodeAlreadyConnected = "AlreadyConnected"
	CodeNotConnected     = "NotConnected"
	CodeNotFound         = "NotFound"
	CodeInvalidArgument  = "InvalidArgument"
	CodeTransient        = "Transient"
	CodeUpstreamError    = "UpstreamError"
)

// OK wraps a payload in a success envelope.
func OK(data any) Envelope {
	return Envelope{Success: true, Data: data}
}

// Fail classifies err into an error envelope. The message is preserved
// verbatim for diagnostics.
func Fail(err error) Envelope {
	return Envelope{
		Success: false,
		Error: &ErrorBody{
			Code:    Code(err),
			Message: err.Error(),
		},
	}
}

// Code maps an error to its envelope code. Connection conflicts and
// missing connections get their own codes; everything else follows the
// error class.
func Code(err error) string {
	switch {
	case stderrors.Is(err, errors.ErrAlreadyConnected):
		return CodeAlreadyConnected
	case stderrors.Is(err, errors.ErrNotConnected):
		return CodeNotConnected
	case errors.IsNotFound(err):
		return CodeNotFound
	case errors.IsInvalid(err):
		return CodeInvalidArgument
	case errors.IsTransient(err):
		return CodeTransient
	default:
		return CodeUpstreamError
	}
}

// RequestID generates a correlation id for one gateway request.
func RequestID() string {
	return uuid.NewString()
}
