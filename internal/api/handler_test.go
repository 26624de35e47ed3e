package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/kalambet/clarity/internal/completion"
	"github.com/kalambet/clarity/internal/notify"
	"github.com/kalambet/clarity/internal/pipeline"
	"github.com/kalambet/clarity/internal/storage"
	"github.com/kalambet/clarity/internal/verify"
)

// upstreams fakes every outbound service of a submission.
type upstreams struct {
	verifyBody     string
	completionCode int
	completionBody string
	mailCode       int

	verifyCalls     atomic.Int32
	completionCalls atomic.Int32
	mailCalls       atomic.Int32
}

func newUpstreams() *upstreams {
	return &upstreams{
		verifyBody:     `{"success":true,"score":0.9}`,
		completionCode: http.StatusOK,
		completionBody: `{"choices":[{"message":{"role":"assistant","content":"The part is EAR99."}}]}`,
		mailCode:       http.StatusAccepted,
	}
}

// failingStore simulates a persistence outage.
type failingStore struct{}

func (failingStore) CreateSubmission(context.Context, storage.NewSubmission) (storage.Submission, error) {
	return storage.Submission{}, fmt.Errorf("connection refused")
}

func (failingStore) UpdateSubmission(context.Context, string, storage.Patch) error {
	return fmt.Errorf("connection refused")
}

type testEnv struct {
	handler http.Handler
	store   *storage.Store
	up      *upstreams
}

type envOptions struct {
	secret       string
	storeOutage  bool
	adminToken   string
	configureUps func(*upstreams)
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	up := newUpstreams()
	if opts.configureUps != nil {
		opts.configureUps(up)
	}

	verifySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up.verifyCalls.Add(1)
		fmt.Fprint(w, up.verifyBody)
	}))
	t.Cleanup(verifySrv.Close)

	completionSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up.completionCalls.Add(1)
		w.WriteHeader(up.completionCode)
		fmt.Fprint(w, up.completionBody)
	}))
	t.Cleanup(completionSrv.Close)

	mailSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up.mailCalls.Add(1)
		w.WriteHeader(up.mailCode)
	}))
	t.Cleanup(mailSrv.Close)

	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	var pstore pipeline.Store = store
	if opts.storeOutage {
		pstore = failingStore{}
	}

	orch := pipeline.New(pipeline.Deps{
		Verifier:  verify.NewClient(opts.secret, verifySrv.URL),
		Store:     pstore,
		Completer: completion.NewClient("sk-test", completion.WithBaseURL(completionSrv.URL)),
		Notifier:  notify.New(notify.Config{APIKey: "sg", From: "noreply@example.com", BaseURL: mailSrv.URL}),
	})

	h := NewHandler(Deps{Submitter: orch, Submissions: store, AdminToken: opts.adminToken})
	return &testEnv{handler: h, store: store, up: up}
}

func (e *testEnv) post(t *testing.T, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/submit", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	e.handler.ServeHTTP(rr, req)

	var out map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return rr, out
}

func (e *testEnv) countSubmissions(t *testing.T) int {
	t.Helper()
	subs, err := e.store.ListSubmissions(context.Background(), 100)
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	return len(subs)
}

const validBody = `{"name":"Ada","email":"ada@example.com","requestText":"Classify part X","recaptchaToken":"tok"}`

func TestHealth(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var body map[string]string
	json.NewDecoder(rr.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("body = %v, want status=ok", body)
	}
}

func TestSubmit_Success(t *testing.T) {
	env := newTestEnv(t, envOptions{secret: "s3cret"})

	rr, body := env.post(t, validBody)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %v", rr.Code, body)
	}
	if body["ok"] != true {
		t.Errorf("ok = %v", body["ok"])
	}
	if body["resultPreview"] != "The part is EAR99." {
		t.Errorf("resultPreview = %v", body["resultPreview"])
	}
	id, _ := body["submissionId"].(string)
	if id == "" {
		t.Fatalf("submissionId = %v, want an id", body["submissionId"])
	}

	sub, err := env.store.GetSubmission(context.Background(), id)
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if sub.Status != storage.StatusDone || sub.AIResult != "The part is EAR99." {
		t.Errorf("stored status=%s result=%q", sub.Status, sub.AIResult)
	}
	if env.up.mailCalls.Load() != 1 {
		t.Errorf("mail calls = %d, want 1", env.up.mailCalls.Load())
	}
}

func TestSubmit_MissingFields(t *testing.T) {
	env := newTestEnv(t, envOptions{secret: "s3cret"})

	for _, body := range []string{
		`{"email":"","requestText":"x","recaptchaToken":"tok"}`,
		`{"email":"a@b.c","recaptchaToken":"tok"}`,
		``,
	} {
		rr, out := env.post(t, body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rr.Code)
		}
		if out["error"] != "Missing required fields" {
			t.Errorf("error = %v", out["error"])
		}
	}
	if n := env.countSubmissions(t); n != 0 {
		t.Errorf("submissions = %d, want 0", n)
	}
	if env.up.verifyCalls.Load() != 0 {
		t.Errorf("verify calls = %d, want 0", env.up.verifyCalls.Load())
	}
}

func TestSubmit_InvalidJSON(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	rr, _ := env.post(t, `{"email":`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestSubmit_WrongMethod(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/submit", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rr.Code)
	}
	var out map[string]string
	json.NewDecoder(rr.Body).Decode(&out)
	if out["error"] != "Method not allowed" {
		t.Errorf("error = %q", out["error"])
	}
}

func TestSubmit_LowScoreRejected(t *testing.T) {
	env := newTestEnv(t, envOptions{
		secret:       "s3cret",
		configureUps: func(u *upstreams) { u.verifyBody = `{"success":true,"score":0.4}` },
	})

	rr, _ := env.post(t, validBody)
	if rr.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rr.Code)
	}
	if n := env.countSubmissions(t); n != 0 {
		t.Errorf("submissions = %d, want 0", n)
	}
	if env.up.completionCalls.Load() != 0 {
		t.Errorf("completion calls = %d, want 0", env.up.completionCalls.Load())
	}
}

func TestSubmit_SuccessFalseRejected(t *testing.T) {
	env := newTestEnv(t, envOptions{
		secret:       "s3cret",
		configureUps: func(u *upstreams) { u.verifyBody = `{"success":false}` },
	})

	rr, _ := env.post(t, validBody)
	if rr.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rr.Code)
	}
}

func TestSubmit_VerificationServiceError(t *testing.T) {
	env := newTestEnv(t, envOptions{
		secret:       "s3cret",
		configureUps: func(u *upstreams) { u.verifyBody = `<html>bad gateway</html>` },
	})

	rr, out := env.post(t, validBody)
	if rr.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rr.Code)
	}
	if out["error"] != "reCAPTCHA verification error" {
		t.Errorf("error = %v", out["error"])
	}
	if n := env.countSubmissions(t); n != 0 {
		t.Errorf("submissions = %d, want 0", n)
	}
}

func TestSubmit_TokenMissingWithSecret(t *testing.T) {
	env := newTestEnv(t, envOptions{secret: "s3cret"})

	rr, _ := env.post(t, `{"email":"a@b.c","requestText":"x"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestSubmit_NoSecretIgnoresToken(t *testing.T) {
	env := newTestEnv(t, envOptions{
		configureUps: func(u *upstreams) { u.verifyBody = `{"success":false}` },
	})

	for _, body := range []string{
		`{"email":"a@b.c","requestText":"x"}`,
		`{"email":"a@b.c","requestText":"x","recaptchaToken":"anything"}`,
	} {
		rr, _ := env.post(t, body)
		if rr.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rr.Code)
		}
	}
	if env.up.verifyCalls.Load() != 0 {
		t.Errorf("verify calls = %d, want 0", env.up.verifyCalls.Load())
	}
}

func TestSubmit_PersistenceOutage(t *testing.T) {
	env := newTestEnv(t, envOptions{storeOutage: true})

	rr, body := env.post(t, validBody)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if v, present := body["submissionId"]; !present || v != nil {
		t.Errorf("submissionId = %v (present=%v), want null", v, present)
	}
	if s, _ := body["resultPreview"].(string); s == "" {
		t.Error("resultPreview is empty")
	}
}

func TestSubmit_CompletionFailure(t *testing.T) {
	env := newTestEnv(t, envOptions{
		configureUps: func(u *upstreams) {
			u.completionCode = http.StatusInternalServerError
			u.completionBody = `{"error":{"message":"overloaded"}}`
		},
	})

	rr, out := env.post(t, validBody)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if out["error"] != "Processing failed" {
		t.Errorf("error = %v", out["error"])
	}

	subs, err := env.store.ListSubmissions(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 1 || subs[0].Status != storage.StatusFailed {
		t.Errorf("submissions = %+v, want one failed", subs)
	}
	if env.up.mailCalls.Load() != 0 {
		t.Errorf("mail calls = %d, want 0", env.up.mailCalls.Load())
	}
}

func TestSubmit_NotificationFailure(t *testing.T) {
	env := newTestEnv(t, envOptions{
		configureUps: func(u *upstreams) { u.mailCode = http.StatusUnauthorized },
	})

	rr, body := env.post(t, validBody)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if body["ok"] != true {
		t.Errorf("ok = %v", body["ok"])
	}
}

func TestSubmit_PreviewBounded(t *testing.T) {
	long := strings.Repeat("x", 2500)
	env := newTestEnv(t, envOptions{
		configureUps: func(u *upstreams) {
			u.completionBody = fmt.Sprintf(`{"choices":[{"message":{"content":%q}}]}`, long)
		},
	})

	rr, body := env.post(t, validBody)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	preview, _ := body["resultPreview"].(string)
	if len(preview) != pipeline.PreviewLimit {
		t.Errorf("len(resultPreview) = %d, want %d", len(preview), pipeline.PreviewLimit)
	}
}

func TestAdminEndpoints(t *testing.T) {
	env := newTestEnv(t, envOptions{adminToken: "admin"})
	_, body := env.post(t, validBody)
	id := body["submissionId"].(string)

	get := func(path, token string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		env.handler.ServeHTTP(rr, req)
		return rr
	}

	if rr := get("/submissions", ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", rr.Code)
	} else if rr.Header().Get("WWW-Authenticate") == "" {
		t.Error("missing WWW-Authenticate challenge")
	}
	if rr := get("/submissions", "wrong"); rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d, want 401", rr.Code)
	}

	rr := get("/submissions?limit=5", "admin")
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	var list []storage.Submission
	if err := json.NewDecoder(rr.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != id {
		t.Errorf("list = %+v", list)
	}

	rr = get("/submissions/"+id, "admin")
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	var sub storage.Submission
	json.NewDecoder(rr.Body).Decode(&sub)
	if sub.Status != storage.StatusDone {
		t.Errorf("status = %s, want done", sub.Status)
	}

	if rr := get("/submissions/missing", "admin"); rr.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", rr.Code)
	}
	if rr := get("/submissions?limit=-1", "admin"); rr.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rr.Code)
	}
}

func TestAdminEndpoints_DisabledWithoutToken(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/submissions", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}
