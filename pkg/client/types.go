package client

import "time"

// ServiceStatus mirrors one entry of GET /status.
type ServiceStatus struct {
	Name                string     `json:"name" yaml:"name"`
	Unit                string     `json:"unit" yaml:"unit"`
	State               string     `json:"state" yaml:"state"`
	LastCheckedAt       time.Time  `json:"last_checked_at" yaml:"last_checked_at"`
	ProcessActive       bool       `json:"process_active" yaml:"process_active"`
	Reachable           bool       `json:"reachable" yaml:"reachable"`
	ConsecutiveFailures int        `json:"consecutive_failures" yaml:"consecutive_failures"`
	RestartCount        int        `json:"restart_count" yaml:"restart_count"`
	LastRestartAt       *time.Time `json:"last_restart_at,omitempty" yaml:"last_restart_at,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty" yaml:"last_failure_at,omitempty"`
	Reason              string     `json:"reason,omitempty" yaml:"reason,omitempty"`
	Detail              string     `json:"detail,omitempty" yaml:"detail,omitempty"`
}

func (s ServiceStatus) Healthy() bool { return s.State == "healthy" }

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	AllHealthy  bool            `json:"all_healthy" yaml:"all_healthy"`
	Cycles      uint64          `json:"cycles" yaml:"cycles"`
	LastCycleAt *time.Time      `json:"last_cycle_at,omitempty" yaml:"last_cycle_at,omitempty"`
	Services    []ServiceStatus `json:"services" yaml:"services"`
}

// Transition is one recorded state change.
type Transition struct {
	Service             string    `json:"service" yaml:"service"`
	From                string    `json:"from" yaml:"from"`
	To                  string    `json:"to" yaml:"to"`
	Reason              string    `json:"reason,omitempty" yaml:"reason,omitempty"`
	Detail              string    `json:"detail,omitempty" yaml:"detail,omitempty"`
	OccurredAt          time.Time `json:"occurred_at" yaml:"occurred_at"`
	RestartCount        int       `json:"restart_count" yaml:"restart_count"`
	ConsecutiveFailures int       `json:"consecutive_failures" yaml:"consecutive_failures"`
}

// HostReading is one host resource sample.
type HostReading struct {
	Check     string  `json:"check" yaml:"check"`
	Value     float64 `json:"value" yaml:"value"`
	Threshold float64 `json:"threshold" yaml:"threshold"`
	Warn      bool    `json:"warn" yaml:"warn"`
	Available bool    `json:"available" yaml:"available"`
	Detail    string  `json:"detail,omitempty" yaml:"detail,omitempty"`
	Error     string  `json:"error,omitempty" yaml:"error,omitempty"`
}

type HostReport struct {
	CheckedAt time.Time     `json:"checked_at" yaml:"checked_at"`
	Readings  []HostReading `json:"readings" yaml:"readings"`
}

// WatchMessage is one frame of the /watch stream: first a snapshot, then
// one transition per frame.
type WatchMessage struct {
	Type       string          `json:"type"`
	Statuses   []ServiceStatus `json:"statuses,omitempty"`
	Transition *Transition     `json:"transition,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
