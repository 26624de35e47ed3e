package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	supabaseTable   = "submissions"
	supabaseTimeout = 15 * time.Second
)

// SupabaseStore persists submissions through the PostgREST API of a
// Supabase project, authenticating with the service-role key.
type SupabaseStore struct {
	baseURL    string
	key        string
	httpClient *http.Client
}

var _ Backend = (*SupabaseStore)(nil)

// NewSupabaseStore validates the project URL and service key and returns a
// ready store. It never connects lazily: a missing setting is reported here.
func NewSupabaseStore(projectURL, serviceKey string) (*SupabaseStore, error) {
	projectURL = strings.TrimRight(strings.TrimSpace(projectURL), "/")
	if projectURL == "" || strings.TrimSpace(serviceKey) == "" {
		return nil, fmt.Errorf("%w: supabase url and service key are required", ErrNotConfigured)
	}
	if _, err := url.ParseRequestURI(projectURL); err != nil {
		return nil, fmt.Errorf("%w: invalid supabase url: %v", ErrNotConfigured, err)
	}
	return &SupabaseStore{
		baseURL:    projectURL + "/rest/v1/" + supabaseTable,
		key:        serviceKey,
		httpClient: &http.Client{Timeout: supabaseTimeout},
	}, nil
}

// Close is a no-op; the store holds no long-lived connection.
func (s *SupabaseStore) Close() error { return nil }

type supabaseRow struct {
	ID          json.RawMessage `json:"id,omitempty"`
	Name        string          `json:"name"`
	Email       string          `json:"email"`
	RequestText string          `json:"request_text"`
	Status      Status          `json:"status"`
	AIResult    *string         `json:"ai_result"`
	CreatedAt   *time.Time      `json:"created_at,omitempty"`
	UpdatedAt   *time.Time      `json:"updated_at,omitempty"` // read only
}

func (r supabaseRow) submission() Submission {
	sub := Submission{
		ID:          rawID(r.ID),
		Name:        r.Name,
		Email:       r.Email,
		RequestText: r.RequestText,
		Status:      r.Status,
	}
	if r.AIResult != nil {
		sub.AIResult = *r.AIResult
	}
	if r.CreatedAt != nil {
		sub.CreatedAt = *r.CreatedAt
	}
	if r.UpdatedAt != nil {
		sub.UpdatedAt = *r.UpdatedAt
	}
	return sub
}

// rawID accepts both numeric and string primary keys.
func rawID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func (s *SupabaseStore) CreateSubmission(ctx context.Context, n NewSubmission) (Submission, error) {
	if err := n.Validate(); err != nil {
		return Submission{}, err
	}

	body := map[string]any{
		"name":         n.Name,
		"email":        n.Email,
		"request_text": n.RequestText,
		"status":       StatusProcessing,
	}
	rows, err := s.do(ctx, http.MethodPost, nil, body)
	if err != nil {
		return Submission{}, fmt.Errorf("inserting submission: %w", err)
	}
	if len(rows) == 0 {
		return Submission{}, fmt.Errorf("inserting submission: empty representation")
	}
	sub := rows[0].submission()
	if sub.ID == "" {
		return Submission{}, fmt.Errorf("inserting submission: response has no id")
	}
	return sub, nil
}

func (s *SupabaseStore) UpdateSubmission(ctx context.Context, id string, p Patch) error {
	if err := p.Validate(); err != nil {
		return err
	}

	sources := make([]string, 0, 1)
	for _, src := range sourcesOf(p.Status) {
		sources = append(sources, string(src))
	}
	q := url.Values{}
	q.Set("id", "eq."+id)
	q.Set("status", "in.("+strings.Join(sources, ",")+")")

	body := map[string]any{"status": p.Status}
	if p.AIResult != "" {
		body["ai_result"] = p.AIResult
	}

	rows, err := s.do(ctx, http.MethodPatch, q, body)
	if err != nil {
		return fmt.Errorf("updating submission %s: %w", id, err)
	}
	if len(rows) > 0 {
		return nil
	}

	current, err := s.GetSubmission(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, p.Status)
}

func (s *SupabaseStore) GetSubmission(ctx context.Context, id string) (Submission, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("id", "eq."+id)

	rows, err := s.do(ctx, http.MethodGet, q, nil)
	if err != nil {
		return Submission{}, fmt.Errorf("fetching submission %s: %w", id, err)
	}
	if len(rows) == 0 {
		return Submission{}, ErrNotFound
	}
	return rows[0].submission(), nil
}

func (s *SupabaseStore) ListSubmissions(ctx context.Context, limit int) ([]Submission, error) {
	if limit <= 0 {
		limit = 20
	}
	q := url.Values{}
	q.Set("select", "*")
	q.Set("order", "created_at.desc")
	q.Set("limit", strconv.Itoa(limit))

	rows, err := s.do(ctx, http.MethodGet, q, nil)
	if err != nil {
		return nil, fmt.Errorf("listing submissions: %w", err)
	}
	out := make([]Submission, len(rows))
	for i, r := range rows {
		out[i] = r.submission()
	}
	return out, nil
}

func (s *SupabaseStore) do(ctx context.Context, method string, q url.Values, body any) ([]supabaseRow, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	target := s.baseURL
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("apikey", s.key)
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var rows []supabaseRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return rows, nil
}
