package storage

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidSubmission is returned when required fields are missing.
	ErrInvalidSubmission = errors.New("invalid submission")
	// ErrInvalidTransition is returned when an update would move a
	// submission backwards or out of a terminal status.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNotConfigured is returned when a backend is constructed without
	// the settings it needs.
	ErrNotConfigured = errors.New("storage not configured")
)

// Status is the lifecycle label of a submission.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

var allStatuses = []Status{StatusProcessing, StatusDone, StatusFailed}

func (s Status) Valid() bool {
	switch s {
	case StatusProcessing, StatusDone, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// CanTransition reports whether a submission in status s may move to next.
// The only legal moves are processing -> done and processing -> failed.
func (s Status) CanTransition(next Status) bool {
	return s == StatusProcessing && next.Terminal()
}

// sourcesOf returns every status that may transition into next.
func sourcesOf(next Status) []Status {
	var out []Status
	for _, s := range allStatuses {
		if s.CanTransition(next) {
			out = append(out, s)
		}
	}
	return out
}

// Submission is one user request tracked through its processing lifecycle.
type Submission struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	RequestText string    `json:"request_text"`
	AIResult    string    `json:"ai_result,omitempty"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewSubmission holds the caller-supplied fields of a submission to create.
type NewSubmission struct {
	Name        string
	Email       string
	RequestText string
}

func (n NewSubmission) Validate() error {
	if strings.TrimSpace(n.Email) == "" {
		return errors.Join(ErrInvalidSubmission, errors.New("email is required"))
	}
	if strings.TrimSpace(n.RequestText) == "" {
		return errors.Join(ErrInvalidSubmission, errors.New("request text is required"))
	}
	return nil
}

// Patch is the single terminal update applied to a submission.
type Patch struct {
	Status   Status
	AIResult string
}

// Validate enforces that an AI result accompanies done and only done.
func (p Patch) Validate() error {
	if !p.Status.Terminal() {
		return errors.Join(ErrInvalidTransition, errors.New("patch status must be done or failed"))
	}
	if p.Status == StatusDone && p.AIResult == "" {
		return errors.Join(ErrInvalidTransition, errors.New("done requires an ai result"))
	}
	if p.Status == StatusFailed && p.AIResult != "" {
		return errors.Join(ErrInvalidTransition, errors.New("failed must not carry an ai result"))
	}
	return nil
}

// Backend is implemented by every submission store.
type Backend interface {
	CreateSubmission(ctx context.Context, n NewSubmission) (Submission, error)
	UpdateSubmission(ctx context.Context, id string, p Patch) error
	GetSubmission(ctx context.Context, id string) (Submission, error)
	ListSubmissions(ctx context.Context, limit int) ([]Submission, error)
	Close() error
}
