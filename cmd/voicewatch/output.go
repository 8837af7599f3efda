package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/loykin/voicewatch"
	"github.com/loykin/voicewatch/pkg/client"
)

// render writes v as JSON or YAML, or calls table for the table format.
func (c command) render(v any, table func(w io.Writer)) error {
	switch c.g.Output {
	case outputJSON:
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(c.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	table(tw)
	return tw.Flush()
}

func toClientStatus(s voicewatch.Status) client.ServiceStatus {
	return client.ServiceStatus{
		Name:                s.Name,
		Unit:                s.Unit,
		State:               string(s.State),
		LastCheckedAt:       s.LastCheckedAt,
		ProcessActive:       s.ProcessActive,
		Reachable:           s.Reachable,
		ConsecutiveFailures: s.ConsecutiveFailures,
		RestartCount:        s.RestartCount,
		LastRestartAt:       s.LastRestartAt,
		LastFailureAt:       s.LastFailureAt,
		Reason:              string(s.Reason),
		Detail:              s.Detail,
	}
}

func statusTable(services []client.ServiceStatus) func(io.Writer) {
	return func(w io.Writer) {
		_, _ = fmt.Fprintln(w, "SERVICE\tSTATE\tACTIVE\tREACHABLE\tFAILURES\tRESTARTS\tCHECKED\tREASON")
		for _, s := range services {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
				s.Name, s.State, yesNo(s.ProcessActive), yesNo(s.Reachable),
				s.ConsecutiveFailures, s.RestartCount, ago(s.LastCheckedAt), reasonText(s.Reason, s.Detail))
		}
	}
}

func transitionsTable(events []client.Transition) func(io.Writer) {
	return func(w io.Writer) {
		_, _ = fmt.Fprintln(w, "TIME\tSERVICE\tFROM\tTO\tREASON")
		for _, e := range events {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				e.OccurredAt.Local().Format(time.DateTime), e.Service, e.From, e.To, reasonText(e.Reason, e.Detail))
		}
	}
}

func hostTable(readings []client.HostReading) func(io.Writer) {
	return func(w io.Writer) {
		_, _ = fmt.Fprintln(w, "CHECK\tVALUE\tTHRESHOLD\tSTATUS\tDETAIL")
		for _, r := range readings {
			status, value := "ok", fmt.Sprintf("%.1f", r.Value)
			switch {
			case !r.Available:
				status, value = "n/a", "-"
			case r.Warn:
				status = "WARN"
			}
			detail := r.Detail
			if r.Error != "" {
				detail = r.Error
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%.1f\t%s\t%s\n", r.Check, value, r.Threshold, status, detail)
		}
	}
}

func toClientHost(r voicewatch.HostReport) client.HostReport {
	out := client.HostReport{CheckedAt: r.CheckedAt}
	for _, x := range r.Readings {
		out.Readings = append(out.Readings, client.HostReading(x))
	}
	return out
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return time.Since(t).Round(time.Second).String() + " ago"
}

func reasonText(reason, detail string) string {
	switch {
	case reason == "" && detail == "":
		return "-"
	case detail == "":
		return reason
	case reason == "":
		return detail
	}
	return reason + ": " + strings.TrimSpace(detail)
}
