package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/voicewatch/internal/history"
)

// Rollover values for Config.Rollover.
const (
	RolloverNone  = ""
	RolloverDaily = "daily"
)

type Config struct {
	BaseURL  string
	Index    string
	Rollover string
	Username string
	Password string
	Timeout  time.Duration
}

// Sink indexes transitions as OpenSearch documents over the REST API.
// Documents are PUT under a deterministic id, so a resent transition
// overwrites itself instead of showing up twice.
type Sink struct {
	client *http.Client
	cfg    Config
}

// document is the indexed shape. @timestamp lets dashboards pick the time
// field without a mapping; alert marks the transitions an operator must act on.
type document struct {
	Timestamp           time.Time `json:"@timestamp"`
	Service             string    `json:"service"`
	From                string    `json:"from"`
	To                  string    `json:"to"`
	Reason              string    `json:"reason,omitempty"`
	Detail              string    `json:"detail,omitempty"`
	Healthy             bool      `json:"healthy"`
	Alert               bool      `json:"alert"`
	RestartCount        int       `json:"restart_count"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

func New(cfg Config) *Sink {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Index == "" {
		cfg.Index = "voicewatch-transitions"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Sink{client: &http.Client{Timeout: cfg.Timeout}, cfg: cfg}
}

// IndexFor returns the index an event at t is written to.
func (s *Sink) IndexFor(t time.Time) string {
	if s.cfg.Rollover == RolloverDaily {
		return s.cfg.Index + "-" + t.UTC().Format("2006.01.02")
	}
	return s.cfg.Index
}

func docID(e history.Event) string {
	return e.Service + "-" + strconv.FormatInt(e.OccurredAt.UnixNano(), 10) + "-" + e.To
}

func toDocument(e history.Event) document {
	return document{
		Timestamp:           e.OccurredAt.UTC(),
		Service:             e.Service,
		From:                e.From,
		To:                  e.To,
		Reason:              e.Reason,
		Detail:              e.Detail,
		Healthy:             e.To == "healthy",
		Alert:               e.To == "failed" || e.Reason == "restart_command_failed",
		RestartCount:        e.RestartCount,
		ConsecutiveFailures: e.ConsecutiveFailures,
	}
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	b, err := json.Marshal(toDocument(e))
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/%s/_doc/%s", s.cfg.BaseURL, s.IndexFor(e.OccurredAt), url.PathEscape(docID(e)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.Username != "" {
		req.SetBasicAuth(s.cfg.Username, s.cfg.Password)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("opensearch index %s: status %d", s.IndexFor(e.OccurredAt), resp.StatusCode)
	}
	return nil
}
