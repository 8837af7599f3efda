package probe

import (
	"context"
	"errors"
	"net"
	"syscall"
)

// Reason tags why a service is not healthy. The empty Reason means no failure.
type Reason string

const (
	ReasonNone                      Reason = ""
	ReasonUnitInactive              Reason = "unit_inactive"
	ReasonProcessManagerQueryFailed Reason = "process_manager_query_failed"
	ReasonProbeTimeout              Reason = "probe_timeout"
	ReasonProbeConnectionRefused    Reason = "probe_connection_refused"
	ReasonProbeUnreachable          Reason = "probe_unreachable"
	ReasonProbeBadStatus            Reason = "probe_bad_status"
	ReasonRestartCommandFailed      Reason = "restart_command_failed"
	ReasonDependencyBlocked         Reason = "dependency_blocked"
)

// Alerting reports whether the reason needs operator intervention.
func (r Reason) Alerting() bool { return r == ReasonRestartCommandFailed }

// classify maps a transport error onto the taxonomy.
func classify(err error) Reason {
	if err == nil {
		return ReasonNone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonProbeTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ReasonProbeTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return ReasonProbeConnectionRefused
	}
	return ReasonProbeUnreachable
}
