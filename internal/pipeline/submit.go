// Package pipeline runs a submission through verification, persistence,
// completion and notification, deciding at each step whether a failure
// aborts the run or is absorbed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/clarity/internal/completion"
	"github.com/kalambet/clarity/internal/notify"
	"github.com/kalambet/clarity/internal/storage"
	"github.com/kalambet/clarity/internal/verify"
)

// PreviewLimit is the maximum number of characters of the result returned
// to the client.
const PreviewLimit = 1000

// Verifier decides whether a submitter is human.
type Verifier interface {
	Verify(ctx context.Context, token string) (verify.Decision, error)
}

// Store records submissions. A nil Store disables persistence.
type Store interface {
	CreateSubmission(ctx context.Context, n storage.NewSubmission) (storage.Submission, error)
	UpdateSubmission(ctx context.Context, id string, p storage.Patch) error
}

// Completer produces the answer text for a request.
type Completer interface {
	Complete(ctx context.Context, r completion.Request) (string, error)
}

// Notifier emails the submitter.
type Notifier interface {
	Notify(ctx context.Context, msg notify.Message) error
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Verifier  Verifier
	Store     Store
	Completer Completer
	Notifier  Notifier
	// Subject and Product customize the result email.
	Subject string
	Product string
}

// Input is one submission as received from a client.
type Input struct {
	Name        string
	Email       string
	RequestText string
	Token       string
}

// Result is the client-visible outcome of a successful run.
type Result struct {
	// Preview holds at most PreviewLimit characters of the answer.
	Preview string
	// SubmissionID is empty when the submission could not be persisted.
	SubmissionID string
}

// Orchestrator runs submissions. It holds no per-run state and is safe for
// concurrent use.
type Orchestrator struct {
	verifier  Verifier
	store     Store
	completer Completer
	notifier  Notifier
	subject   string
	product   string
}

var errPersistenceDisabled = errors.New("persistence disabled")

// New creates an Orchestrator. Verifier, Completer and Notifier are
// required; Store may be nil.
func New(d Deps) *Orchestrator {
	subject := d.Subject
	if subject == "" {
		subject = notify.DefaultSubject
	}
	return &Orchestrator{
		verifier:  d.Verifier,
		store:     d.Store,
		completer: d.Completer,
		notifier:  d.Notifier,
		subject:   subject,
		product:   d.Product,
	}
}

// Submit runs one submission to a terminal state. The returned error, when
// non-nil, is always a *Error.
func (o *Orchestrator) Submit(ctx context.Context, in Input) (Result, error) {
	start := time.Now()
	log := slog.With("email_domain", emailDomain(in.Email))

	// received -> verifying
	if strings.TrimSpace(in.Email) == "" || strings.TrimSpace(in.RequestText) == "" {
		return Result{}, &Error{Kind: KindInput, Message: "Missing required fields"}
	}

	// verifying -> persisting
	if err := o.verify(ctx, in.Token); err != nil {
		log.Warn("submission rejected", "stage", StageVerifying, "error", err)
		return Result{}, err
	}

	// persisting -> completing
	sub, res := o.persist(ctx, in)
	switch {
	case errors.Is(res.err, errPersistenceDisabled):
		log.Debug("persistence disabled; submission not recorded", "stage", StagePersisting)
	case res.Failed():
		log.Error("persisting submission failed; continuing without a record", "stage", StagePersisting, "error", res.err)
	}
	if sub.ID != "" {
		log = log.With("submission_id", sub.ID)
	}

	// completing -> updating
	answer, res := o.complete(ctx, in)
	if res.IsFatal() {
		log.Error("completion failed", "stage", StageCompleting, "error", res.err)
		if r := o.update(ctx, sub.ID, storage.Patch{Status: storage.StatusFailed}); r.Failed() {
			log.Error("marking submission failed", "stage", StageFailed, "error", r.err)
		}
		return Result{}, &Error{Kind: KindCompletion, Message: "Processing failed", Err: res.err}
	}

	// updating -> notifying
	if r := o.update(ctx, sub.ID, storage.Patch{Status: storage.StatusDone, AIResult: answer}); r.Failed() {
		log.Error("recording result failed", "stage", StageUpdating, "error", r.err)
	}

	// notifying -> succeeded
	if r := o.notify(ctx, in, answer); r.Failed() {
		log.Error("sending result email failed", "stage", StageNotifying, "error", r.err)
	}

	log.Info("submission processed",
		"stage", StageSucceeded,
		"persisted", sub.ID != "",
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return Result{Preview: Preview(answer), SubmissionID: sub.ID}, nil
}

func (o *Orchestrator) verify(ctx context.Context, token string) *Error {
	decision, err := o.verifier.Verify(ctx, token)
	switch {
	case errors.Is(err, verify.ErrTokenMissing):
		return &Error{Kind: KindInput, Message: "reCAPTCHA token missing", Err: err}
	case err != nil:
		return &Error{Kind: KindVerificationUnavailable, Message: "reCAPTCHA verification error", Err: err}
	case !decision.Allowed():
		return &Error{Kind: KindVerificationRejected, Message: "reCAPTCHA verification failed"}
	}
	return nil
}

func (o *Orchestrator) persist(ctx context.Context, in Input) (storage.Submission, stepResult) {
	if o.store == nil {
		return storage.Submission{}, recoverable(errPersistenceDisabled)
	}
	sub, err := o.store.CreateSubmission(ctx, storage.NewSubmission{
		Name:        in.Name,
		Email:       in.Email,
		RequestText: in.RequestText,
	})
	if err != nil {
		return storage.Submission{}, recoverable(err)
	}
	return sub, ok()
}

func (o *Orchestrator) complete(ctx context.Context, in Input) (string, stepResult) {
	answer, err := o.completer.Complete(ctx, completion.Request{
		Name:        in.Name,
		Email:       in.Email,
		RequestText: in.RequestText,
	})
	if err != nil {
		return "", fatal(err)
	}
	return answer, ok()
}

// update writes the terminal status. It runs detached from request
// cancellation so a record created for this run is not left processing.
func (o *Orchestrator) update(ctx context.Context, id string, p storage.Patch) stepResult {
	if id == "" || o.store == nil {
		return ok()
	}
	if err := o.store.UpdateSubmission(context.WithoutCancel(ctx), id, p); err != nil {
		return recoverable(fmt.Errorf("updating submission to %s: %w", p.Status, err))
	}
	return ok()
}

func (o *Orchestrator) notify(ctx context.Context, in Input, answer string) stepResult {
	err := o.notifier.Notify(ctx, notify.Message{
		To:      in.Email,
		Subject: o.subject,
		Body:    notify.ResultBody(in.Name, answer, o.product),
	})
	if err != nil {
		return recoverable(err)
	}
	return ok()
}

// emailDomain keeps submitter addresses out of logs while leaving enough
// to tell traffic sources apart.
func emailDomain(email string) string {
	_, domain, found := strings.Cut(strings.TrimSpace(email), "@")
	if !found || domain == "" {
		return "unknown"
	}
	return strings.ToLower(domain)
}

// Preview truncates s to PreviewLimit characters.
func Preview(s string) string {
	runes := []rune(s)
	if len(runes) <= PreviewLimit {
		return s
	}
	return string(runes[:PreviewLimit])
}
