package pipeline

import (
	"fmt"
	"net/http"
)

// Kind classifies failures that end a submission with a non-200 outcome.
type Kind int

const (
	// KindInput: missing or malformed required fields.
	KindInput Kind = iota + 1
	// KindVerificationRejected: the human check failed.
	KindVerificationRejected
	// KindVerificationUnavailable: the human check could not be performed.
	KindVerificationUnavailable
	// KindCompletion: the completion provider failed.
	KindCompletion
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindVerificationRejected:
		return "verification_rejected"
	case KindVerificationUnavailable:
		return "verification_unavailable"
	case KindCompletion:
		return "completion_failure"
	default:
		return "unknown"
	}
}

// HTTPStatus maps k to the status code returned to the client.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInput:
		return http.StatusBadRequest
	case KindVerificationRejected:
		return http.StatusForbidden
	case KindVerificationUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a surfaced pipeline failure. Message is safe to show clients;
// Err holds the underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }
