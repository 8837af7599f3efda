package probe

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/loykin/voicewatch/internal/registry"
	"github.com/loykin/voicewatch/internal/unit"
)

// DefaultTimeout bounds the network part of a probe.
const DefaultTimeout = 5 * time.Second

// Result is one liveness observation of a service.
type Result struct {
	Name          string        `json:"name"`
	CheckedAt     time.Time     `json:"checked_at"`
	ProcessActive bool          `json:"process_active"`
	Reachable     bool          `json:"reachable"`
	Reason        Reason        `json:"reason,omitempty"`
	Detail        string        `json:"detail,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// Healthy is true iff the unit is active and its endpoint reachable.
func (r Result) Healthy() bool { return r.ProcessActive && r.Reachable }

// Prober checks services through the unit manager and the network.
type Prober struct {
	units   unit.Manager
	timeout time.Duration
	now     func() time.Time
	dialer  net.Dialer
	client  *http.Client
}

// New returns a Prober. timeout <= 0 selects DefaultTimeout.
func New(units unit.Manager, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Prober{
		units:   units,
		timeout: timeout,
		now:     time.Now,
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:             nil,
				DisableKeepAlives: true,
			},
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
	}
}

// Timeout returns the per-probe network timeout.
func (p *Prober) Timeout() time.Duration { return p.timeout }

// Probe never returns an error: every failure is folded into the Result.
func (p *Prober) Probe(ctx context.Context, d registry.ServiceDescriptor) (res Result) {
	start := p.now()
	res = Result{Name: d.Name, CheckedAt: start}
	defer func() {
		if r := recover(); r != nil {
			res.Reachable = false
			res.Reason = ReasonProbeUnreachable
			res.Detail = fmt.Sprintf("probe panic: %v", r)
		}
		res.Duration = p.now().Sub(start)
	}()

	active, err := p.units.IsActive(ctx, d.Unit)
	res.ProcessActive = active && err == nil
	var procReason Reason
	var procDetail string
	switch {
	case err != nil:
		procReason = ReasonProcessManagerQueryFailed
		procDetail = err.Error()
	case !active:
		procReason = ReasonUnitInactive
		procDetail = d.Unit + " is not active"
	}

	netReason, netDetail := p.checkEndpoint(ctx, d.Endpoint)
	res.Reachable = netReason == ReasonNone

	// The process-manager verdict is the more actionable of the two.
	switch {
	case procReason != ReasonNone:
		res.Reason, res.Detail = procReason, procDetail
		if netReason != ReasonNone {
			res.Detail += "; " + netDetail
		}
	case netReason != ReasonNone:
		res.Reason, res.Detail = netReason, netDetail
	}
	return res
}

func (p *Prober) checkEndpoint(parent context.Context, e *registry.Endpoint) (Reason, string) {
	if e == nil {
		return ReasonNone, ""
	}
	ctx, cancel := context.WithTimeout(parent, p.timeout)
	defer cancel()

	conn, err := p.dialer.DialContext(ctx, "tcp", e.Address())
	if err != nil {
		return classify(err), fmt.Sprintf("dial %s: %v", e.Address(), err)
	}
	_ = conn.Close()

	switch e.Kind {
	case registry.KindHTTP:
		return p.checkHTTP(ctx, e.URL())
	case registry.KindOpenAI:
		return p.checkOpenAI(ctx, e)
	}
	return ReasonNone, ""
}

func (p *Prober) checkHTTP(ctx context.Context, url string) (Reason, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ReasonProbeUnreachable, err.Error()
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return classify(err), fmt.Sprintf("GET %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ReasonProbeBadStatus, fmt.Sprintf("GET %s: HTTP %d", url, resp.StatusCode)
	}
	return ReasonNone, ""
}
