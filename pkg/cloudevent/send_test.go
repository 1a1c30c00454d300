package cloudevent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSender_Send(t *testing.T) {
	t.Parallel()

	type captured struct {
		headers http.Header
		body    []byte
	}
	received := make(chan captured, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- captured{headers: r.Header.Clone(), body: body}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	evt := New("docjobs.job.status", "docjobs", "job-1", "evt-1", map[string]any{"status": "completed"})
	if err := NewSender(5*time.Second).Send(context.Background(), server.URL, evt, "secret"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	c := <-received
	headers, body := c.headers, c.body

	if got := headers.Get("Ce-Type"); got != "docjobs.job.status" {
		t.Errorf("Ce-Type = %q", got)
	}
	if got := headers.Get("Ce-Subject"); got != "job-1" {
		t.Errorf("Ce-Subject = %q", got)
	}
	if got := headers.Get("Content-Type"); got != "application/cloudevents+json" {
		t.Errorf("Content-Type = %q", got)
	}
	if !Verify(body, "secret", headers.Get(SignatureHeader)) {
		t.Error("signature does not verify against the body")
	}

	var decoded CloudEvent
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("body is not a CloudEvent: %v", err)
	}
	if decoded.SpecVersion != SpecVersion || decoded.Data["status"] != "completed" {
		t.Errorf("unexpected event %+v", decoded)
	}
}

func TestSender_Unsigned(t *testing.T) {
	t.Parallel()

	sigs := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sigs <- r.Header.Get(SignatureHeader)
	}))
	defer server.Close()

	evt := New("t", "s", "j", "id", nil)
	if err := NewSender(time.Second).Send(context.Background(), server.URL, evt, ""); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if sig := <-sigs; sig != "" {
		t.Errorf("expected no signature, got %q", sig)
	}
}

func TestSender_HTTPError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	err := NewSender(time.Second).Send(context.Background(), server.URL, New("t", "s", "j", "id", nil), "")
	var he *HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *HTTPError, got %v", err)
	}
	if he.StatusCode != http.StatusTooManyRequests || he.RetryAfter != 7*time.Second {
		t.Errorf("unexpected error %+v", he)
	}
	if IsPermanent(err) {
		t.Error("429 should be retryable")
	}
}

func TestIsPermanent(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"400", &HTTPError{StatusCode: 400}, true},
		{"404", &HTTPError{StatusCode: 404}, true},
		{"408", &HTTPError{StatusCode: 408}, false},
		{"429", &HTTPError{StatusCode: 429}, false},
		{"wrapped 410", fmt.Errorf("deliver: %w", &HTTPError{StatusCode: 410}), true},
		{"500", &HTTPError{StatusCode: 500}, false},
		{"network", context.DeadlineExceeded, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsPermanent(tt.err); got != tt.want {
				t.Errorf("IsPermanent(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestSignVerify(t *testing.T) {
	t.Parallel()
	payload := []byte(`{"test":"data"}`)

	sig := Sign(payload, "secret-key")
	if len(sig) != len("sha256=")+64 || sig[:7] != "sha256=" {
		t.Errorf("unexpected signature format %q", sig)
	}
	if !Verify(payload, "secret-key", sig) {
		t.Error("signature should verify")
	}
	if Verify(payload, "other-key", sig) {
		t.Error("signature must not verify under another key")
	}
	if Verify([]byte(`{"test":"tampered"}`), "secret-key", sig) {
		t.Error("signature must not verify a different body")
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()
	tests := map[string]time.Duration{"": 0, "3": 3 * time.Second, "-1": 0, "Wed, 21 Oct 2015 07:28:00 GMT": 0}
	for in, want := range tests {
		if got := parseRetryAfter(in); got != want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", in, got, want)
		}
	}
}
