// Package verify checks that a submitter is human using a reCAPTCHA-style
// siteverify endpoint.
package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// ScoreThreshold is the minimum score accepted from score-based (v3)
	// responses.
	ScoreThreshold = 0.5

	// DefaultURL is Google's reCAPTCHA siteverify endpoint.
	DefaultURL = "https://www.google.com/recaptcha/api/siteverify"

	defaultTimeout = 10 * time.Second
	maxBodySize    = 64 << 10
)

var (
	// ErrTokenMissing is returned when a secret is configured but the
	// client sent no token.
	ErrTokenMissing = errors.New("verification token missing")
	// ErrUnavailable wraps transport, status and decoding failures of the
	// verification service. It is distinct from a rejection.
	ErrUnavailable = errors.New("verification service unavailable")
)

// Decision is the normalized outcome of a verification.
type Decision int

const (
	Rejected Decision = iota
	Passed
	// Skipped means no secret is configured; callers treat it as a pass.
	Skipped
)

func (d Decision) String() string {
	switch d {
	case Passed:
		return "passed"
	case Skipped:
		return "skipped"
	default:
		return "rejected"
	}
}

// Allowed reports whether the submission may proceed.
func (d Decision) Allowed() bool {
	return d == Passed || d == Skipped
}

// Client talks to the verification service.
type Client struct {
	secret     string
	endpoint   string
	httpClient *http.Client
}

// NewClient returns a client for endpoint, or DefaultURL when endpoint is
// empty. An empty secret disables verification.
func NewClient(secret, endpoint string) *Client {
	if endpoint == "" {
		endpoint = DefaultURL
	}
	return &Client{
		secret:     secret,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// Enabled reports whether a secret is configured.
func (c *Client) Enabled() bool {
	return c.secret != ""
}

// Verify checks token against the service. It makes exactly one request
// and never retries.
func (c *Client) Verify(ctx context.Context, token string) (Decision, error) {
	if !c.Enabled() {
		return Skipped, nil
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Rejected, ErrTokenMissing
	}

	form := url.Values{}
	form.Set("secret", c.secret)
	form.Set("response", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Rejected, fmt.Errorf("%w: creating request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Rejected, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Rejected, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return Rejected, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}

	ok, err := Decide(body)
	if err != nil {
		return Rejected, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !ok {
		return Rejected, nil
	}
	return Passed, nil
}

// Decide maps a siteverify response body to pass/fail. A numeric score
// takes precedence over the success flag; otherwise success must be
// truthy: true, a non-zero number, a non-empty string, an object or an
// array. It is a pure function of body.
func Decide(body []byte) (bool, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return false, fmt.Errorf("decoding response: %w", err)
	}

	if v, ok := raw["score"]; ok {
		var score *float64
		if err := json.Unmarshal(v, &score); err == nil && score != nil {
			return *score >= ScoreThreshold, nil
		}
	}

	return truthy(raw["success"]), nil
}

func truthy(v json.RawMessage) bool {
	var x any
	if len(v) == 0 || json.Unmarshal(v, &x) != nil {
		return false
	}
	switch t := x.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case nil:
		return false
	default:
		return true
	}
}
