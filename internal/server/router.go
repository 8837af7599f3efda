package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/voicewatch/internal/history"
	"github.com/loykin/voicewatch/internal/hostcheck"
	"github.com/loykin/voicewatch/internal/metrics"
	"github.com/loykin/voicewatch/internal/supervisor"
)

const (
	defaultTransitionLimit = 50
	hostCheckTimeout       = 10 * time.Second
)

// Router provides embeddable HTTP handlers for the supervisor.
// Endpoints, relative to basePath:
//
//	GET  /status              all services; 200 when all healthy, 503 otherwise
//	GET  /status?name=stt     one service
//	GET  /healthz             liveness of voicewatch itself
//	GET  /transitions?limit=  recent transitions, newest first (&service= filters)
//	POST /reset?name=stt      operator reset
//	POST /cycle               request an immediate cycle
//	GET  /host                disk, memory and temperature readings
//	GET  /watch               websocket stream of transitions
//
// /metrics is served at the root when enabled.
type Router struct {
	sup      *supervisor.Supervisor
	host     *hostcheck.Checker
	basePath string
	token    string
	metrics  bool
	log      *slog.Logger
}

type Option func(*Router)

// WithHostChecker enables GET /host.
func WithHostChecker(c *hostcheck.Checker) Option { return func(r *Router) { r.host = c } }

// WithToken requires a bearer token on POST endpoints.
func WithToken(token string) Option { return func(r *Router) { r.token = token } }

// WithMetrics serves the Prometheus handler at /metrics.
func WithMetrics(enabled bool) Option { return func(r *Router) { r.metrics = enabled } }

func WithLogger(l *slog.Logger) Option { return func(r *Router) { r.log = l } }

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/status, /api/reset, ...
func NewRouter(sup *supervisor.Supervisor, basePath string, opts ...Option) *Router {
	r := &Router{sup: sup, basePath: sanitizeBase(basePath), log: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	if r.metrics {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			r.log.Warn("register metrics", "error", err)
		}
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/healthz", r.handleHealthz)
	group.GET("/transitions", r.handleTransitions)
	group.GET("/host", r.handleHost)
	group.GET("/watch", r.handleWatch)
	auth := group.Group("", requireToken(r.token))
	auth.POST("/reset", r.handleReset)
	auth.POST("/cycle", r.handleCycle)
	return g
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	AllHealthy  bool                `json:"all_healthy"`
	Cycles      uint64              `json:"cycles"`
	LastCycleAt *time.Time          `json:"last_cycle_at,omitempty"`
	Services    []supervisor.Status `json:"services"`
}

type healthzResp struct {
	OK          bool       `json:"ok"`
	Cycles      uint64     `json:"cycles"`
	LastCycleAt *time.Time `json:"last_cycle_at,omitempty"`
}

func (r *Router) lastCycle() *time.Time {
	t := r.sup.LastCycleAt()
	if t.IsZero() {
		return nil
	}
	return &t
}

func (r *Router) handleStatus(c *gin.Context) {
	if name, ok := c.GetQuery("name"); ok {
		if !isSafeName(name) {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-]"})
			return
		}
		st, found := r.sup.Get(name)
		if !found {
			writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown service: " + name})
			return
		}
		code := http.StatusOK
		if !st.Healthy() {
			code = http.StatusServiceUnavailable
		}
		writeJSON(c, code, st)
		return
	}

	resp := StatusResponse{
		AllHealthy:  r.sup.IsAllHealthy(),
		Cycles:      r.sup.Cycles(),
		LastCycleAt: r.lastCycle(),
		Services:    r.sup.Report(),
	}
	code := http.StatusOK
	if !resp.AllHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(c, code, resp)
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, healthzResp{OK: true, Cycles: r.sup.Cycles(), LastCycleAt: r.lastCycle()})
}

func (r *Router) handleTransitions(c *gin.Context) {
	limit := defaultTransitionLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	service := c.Query("service")
	if service != "" && !isSafeName(service) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid service name"})
		return
	}

	out := make([]history.Event, 0, limit)
	for _, e := range r.sup.Reporter().Recent(0) {
		if service != "" && e.Service != service {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleReset(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name query param required"})
		return
	}
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-]"})
		return
	}
	if err := r.sup.Reset(name); err != nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	r.log.Info("reset requested", "service", name, "remote", c.ClientIP())
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleCycle(c *gin.Context) {
	r.sup.Trigger()
	writeJSON(c, http.StatusAccepted, okResp{OK: true})
}

func (r *Router) handleHost(c *gin.Context) {
	if r.host == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "host checks disabled"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), hostCheckTimeout)
	defer cancel()
	writeJSON(c, http.StatusOK, r.host.Run(ctx))
}
