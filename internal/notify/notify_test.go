package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNew_NoopWhenUnconfigured(t *testing.T) {
	for _, cfg := range []Config{{}, {APIKey: "k"}, {From: "a@b.c"}} {
		n := New(cfg)
		if n.Enabled() {
			t.Errorf("New(%+v) should be disabled", cfg)
		}
		if err := n.Notify(context.Background(), Message{To: "x@y.z"}); err != nil {
			t.Errorf("noop Notify returned %v", err)
		}
	}
}

func TestNotify_SendGridPayload(t *testing.T) {
	var (
		got  sgMail
		auth string
		path string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := New(Config{APIKey: "sg-key", From: "noreply@example.com", BaseURL: srv.URL + "/v3"})
	if !n.Enabled() {
		t.Fatal("expected enabled notifier")
	}
	err := n.Notify(context.Background(), Message{To: "ada@example.com", Body: "hello"})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if path != "/v3/mail/send" {
		t.Errorf("path = %q", path)
	}
	if auth != "Bearer sg-key" {
		t.Errorf("Authorization = %q", auth)
	}
	if len(got.Personalizations) != 1 || got.Personalizations[0].To[0].Email != "ada@example.com" {
		t.Errorf("personalizations = %+v", got.Personalizations)
	}
	if got.Personalizations[0].Subject != DefaultSubject {
		t.Errorf("subject = %q, want default", got.Personalizations[0].Subject)
	}
	if got.From.Email != "noreply@example.com" {
		t.Errorf("from = %q", got.From.Email)
	}
	if len(got.Content) != 1 || got.Content[0].Type != "text/plain" || got.Content[0].Value != "hello" {
		t.Errorf("content = %+v", got.Content)
	}
}

func TestNotify_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
	}))
	defer srv.Close()

	n := New(Config{APIKey: "sg-key", From: "noreply@example.com", BaseURL: srv.URL})
	err := n.Notify(context.Background(), Message{To: "ada@example.com", Body: "x"})
	if err == nil || !strings.Contains(err.Error(), "unexpected status 401") {
		t.Errorf("error = %v, want status 401", err)
	}
}

func TestResultBody(t *testing.T) {
	body := ResultBody("Ada", "EAR99", "Clarity")
	for _, want := range []string{"Hello Ada,", "EAR99", "Powered by Clarity"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
}
