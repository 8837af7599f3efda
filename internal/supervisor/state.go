package supervisor

import (
	"time"

	"github.com/loykin/voicewatch/internal/probe"
)

// State is the supervision state of one service.
type State string

const (
	StateUnknown    State = "unknown"
	StateHealthy    State = "healthy"
	StateUnhealthy  State = "unhealthy"
	StateRestarting State = "restarting"
	StateBlocked    State = "blocked"
	StateFailed     State = "failed"
)

// AllStates lists every state, in lifecycle order.
var AllStates = []State{StateUnknown, StateHealthy, StateUnhealthy, StateRestarting, StateBlocked, StateFailed}

func stateNames() []string {
	out := make([]string, len(AllStates))
	for i, s := range AllStates {
		out[i] = string(s)
	}
	return out
}

// Status is the health record of one service as last observed by the loop.
type Status struct {
	Name                string       `json:"name" yaml:"name"`
	Unit                string       `json:"unit" yaml:"unit"`
	State               State        `json:"state" yaml:"state"`
	LastCheckedAt       time.Time    `json:"last_checked_at" yaml:"last_checked_at"`
	ProcessActive       bool         `json:"process_active" yaml:"process_active"`
	Reachable           bool         `json:"reachable" yaml:"reachable"`
	ConsecutiveFailures int          `json:"consecutive_failures" yaml:"consecutive_failures"`
	RestartCount        int          `json:"restart_count" yaml:"restart_count"`
	LastRestartAt       *time.Time   `json:"last_restart_at,omitempty" yaml:"last_restart_at,omitempty"`
	LastFailureAt       *time.Time   `json:"last_failure_at,omitempty" yaml:"last_failure_at,omitempty"`
	Reason              probe.Reason `json:"reason,omitempty" yaml:"reason,omitempty"`
	Detail              string       `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// Healthy is true iff the last probe saw an active unit and a reachable endpoint.
func (s Status) Healthy() bool { return s.State == StateHealthy }

func (s Status) clone() Status {
	if s.LastRestartAt != nil {
		t := *s.LastRestartAt
		s.LastRestartAt = &t
	}
	if s.LastFailureAt != nil {
		t := *s.LastFailureAt
		s.LastFailureAt = &t
	}
	return s
}

// snapshot is the immutable view published to readers after every change.
type snapshot struct {
	statuses []Status
	index    map[string]int
	cycles   uint64
	cycleAt  time.Time
}
