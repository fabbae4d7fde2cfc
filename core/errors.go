package core

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error code surfaced to API callers.
type Code string

const (
	CodeInvalidInput    Code = "INVALID_INPUT"
	CodeInvalidResponse Code = "INVALID_RESPONSE"
	CodeUpstreamAPI     Code = "UPSTREAM_API_ERROR"
	CodeUnknown         Code = "UNKNOWN_ERROR"
	CodeConversion      Code = "CONVERSION_ERROR"
	CodeNotFound        Code = "NOT_FOUND"
	CodeEmptyContent    Code = "EMPTY_CONTENT"
)

// EmbeddingServiceError is the single failure type of the embedding
// generator and the vector codec. Errors compare equal under errors.Is when
// their codes match, so the sentinels below can be used as targets.
type EmbeddingServiceError struct {
	Code         Code
	Message      string
	Status       int    // upstream HTTP status, UPSTREAM_API_ERROR only
	UpstreamCode string // upstream error code, UPSTREAM_API_ERROR only
	Err          error
}

func (e *EmbeddingServiceError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *EmbeddingServiceError) Unwrap() error {
	return e.Err
}

func (e *EmbeddingServiceError) Is(target error) bool {
	t, ok := target.(*EmbeddingServiceError)
	return ok && t.Code == e.Code
}

var (
	ErrInvalidInput    = &EmbeddingServiceError{Code: CodeInvalidInput, Message: "invalid input"}
	ErrInvalidResponse = &EmbeddingServiceError{Code: CodeInvalidResponse, Message: "invalid response"}
	ErrUpstreamAPI     = &EmbeddingServiceError{Code: CodeUpstreamAPI, Message: "upstream api error"}
	ErrUnknown         = &EmbeddingServiceError{Code: CodeUnknown, Message: "unknown error"}
	ErrConversion      = &EmbeddingServiceError{Code: CodeConversion, Message: "conversion error"}
)

// Partial-data failures. These are distinct from service errors so the UI
// can render a specific message.
var (
	ErrNotFound     = errors.New("memo not found")
	ErrEmptyContent = errors.New("memo content is empty")
)

// NewError builds an EmbeddingServiceError with the given code.
func NewError(code Code, msg string, err error) *EmbeddingServiceError {
	return &EmbeddingServiceError{Code: code, Message: msg, Err: err}
}

// NewUpstreamError builds an UPSTREAM_API_ERROR carrying the upstream status.
func NewUpstreamError(status int, upstreamCode, msg string, err error) *EmbeddingServiceError {
	return &EmbeddingServiceError{
		Code:         CodeUpstreamAPI,
		Message:      msg,
		Status:       status,
		UpstreamCode: upstreamCode,
		Err:          err,
	}
}

// OpError records the operation and memo a partial-data failure belongs to.
type OpError struct {
	Op  string
	ID  string
	Err error
}

func (e *OpError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s [memo=%s]: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func NewOpError(op, id string, err error) *OpError {
	return &OpError{Op: op, ID: id, Err: err}
}

// CodeOf returns the machine-readable code for err.
func CodeOf(err error) Code {
	var svc *EmbeddingServiceError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrEmptyContent):
		return CodeEmptyContent
	case errors.As(err, &svc):
		return svc.Code
	default:
		return CodeUnknown
	}
}
