package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loykin/voicewatch/internal/history"
)

type captured struct {
	method string
	path   string
	user   string
	body   map[string]any
}

func capture(t *testing.T, status int) (*httptest.Server, *[]captured) {
	t.Helper()
	var got []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := captured{method: r.Method, path: r.URL.Path}
		c.user, _, _ = r.BasicAuth()
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &c.body)
		got = append(got, c)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestSendIndexesTransitionDocument(t *testing.T) {
	srv, got := capture(t, http.StatusCreated)
	at := time.Date(2026, 10, 15, 7, 30, 0, 0, time.UTC)

	sink := New(Config{BaseURL: srv.URL + "/", Index: "voicewatch", Username: "ops", Password: "x"})
	event := history.Event{Service: "tts", From: "restarting", To: "failed", Reason: "probe_timeout", OccurredAt: at, ConsecutiveFailures: 2}
	if err := sink.Send(context.Background(), event); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(*got) != 1 {
		t.Fatalf("expected 1 request, got %d", len(*got))
	}
	req := (*got)[0]
	if req.method != http.MethodPut {
		t.Errorf("expected PUT, got %s", req.method)
	}
	wantPath := "/voicewatch/_doc/tts-1792049400000000000-failed"
	if req.path != wantPath {
		t.Errorf("path = %s, want %s", req.path, wantPath)
	}
	if req.user != "ops" {
		t.Errorf("basic auth user = %q", req.user)
	}
	if req.body["@timestamp"] != "2026-10-15T07:30:00Z" || req.body["service"] != "tts" {
		t.Errorf("unexpected document: %v", req.body)
	}
	if req.body["alert"] != true || req.body["healthy"] != false {
		t.Errorf("failed transition must be an alert: %v", req.body)
	}

	// resending the same transition targets the same document
	if err := sink.Send(context.Background(), event); err != nil {
		t.Fatal(err)
	}
	if (*got)[1].path != wantPath {
		t.Errorf("resend went to %s", (*got)[1].path)
	}
}

func TestDailyRollover(t *testing.T) {
	srv, got := capture(t, http.StatusOK)
	sink := New(Config{BaseURL: srv.URL, Rollover: RolloverDaily})
	at := time.Date(2026, 10, 15, 23, 59, 0, 0, time.FixedZone("CEST", 2*3600))

	if idx := sink.IndexFor(at); idx != "voicewatch-transitions-2026.10.15" {
		t.Fatalf("index = %s", idx)
	}
	if err := sink.Send(context.Background(), history.Event{Service: "llm", To: "healthy", OccurredAt: at}); err != nil {
		t.Fatal(err)
	}
	if p := (*got)[0].path; !strings.HasPrefix(p, "/voicewatch-transitions-2026.10.15/_doc/llm-") {
		t.Errorf("unexpected path %s", p)
	}
	if (*got)[0].body["healthy"] != true || (*got)[0].body["alert"] != false {
		t.Errorf("unexpected flags: %v", (*got)[0].body)
	}
}

func TestSendErrorStatus(t *testing.T) {
	srv, _ := capture(t, http.StatusBadRequest)
	if err := New(Config{BaseURL: srv.URL, Index: "idx"}).Send(context.Background(), history.Event{Service: "x"}); err == nil {
		t.Fatal("expected error for 400 response")
	}
}
