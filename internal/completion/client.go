// Package completion asks an OpenAI-compatible chat completions endpoint
// to answer a submitted request.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL   = "https://api.openai.com/v1"
	DefaultModel     = "gpt-4o-mini"
	DefaultMaxTokens = 800

	defaultTimeout  = 60 * time.Second
	maxResponseSize = 4 << 20

	systemPrompt = "You are a precise assistant that prepares a concise, actionable response to the user request."
)

// ErrUpstream is wrapped by every failure of the completion call.
var ErrUpstream = errors.New("completion provider error")

// StatusError is returned when the provider answers with a non-2xx status.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrUpstream }

// Client calls the chat completions API.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func WithModel(m string) Option {
	return func(c *Client) {
		if m != "" {
			c.model = m
		}
	}
}

func WithMaxTokens(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a completion client with the given API key.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		model:      DefaultModel,
		maxTokens:  DefaultMaxTokens,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// BuildMessages returns the fixed system + user exchange for r.
func BuildMessages(r Request) []Message {
	user := fmt.Sprintf("Name: %s\nEmail: %s\nRequest: %s\n\nProvide the requested information clearly and concisely.",
		r.Name, r.Email, r.RequestText)
	return []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: user},
	}
}

// Complete sends one chat completion request and returns the answer text.
// A 2xx response without choices[0].message.content yields the raw
// response envelope instead, so a successful call always returns text.
func (c *Client) Complete(ctx context.Context, r Request) (string, error) {
	body, err := json.Marshal(ChatRequest{
		Model:     c.model,
		Messages:  BuildMessages(r),
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: creating request: %v", ErrUpstream, err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: executing request: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", ErrUpstream, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{Status: resp.StatusCode, Body: string(respBody)}
	}

	text, err := ExtractText(respBody)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return text, nil
}

// ExtractText pulls choices[0].message.content out of a response envelope.
// When the content is absent or empty it returns the compacted envelope
// itself. Only a body that is not JSON at all is an error.
func ExtractText(body []byte) (string, error) {
	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err == nil &&
		len(parsed.Choices) > 0 &&
		parsed.Choices[0].Message.Content != nil &&
		*parsed.Choices[0].Message.Content != "" {
		return *parsed.Choices[0].Message.Content, nil
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return buf.String(), nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}
