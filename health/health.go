package health

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// DefaultCheckTimeout bounds a single probe.
const DefaultCheckTimeout = 5 * time.Second

// Pinger is implemented by the Redis tier and both durable repositories.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check is one named probe. A failing check that is not Critical degrades
// the overall status instead of failing it.
type Check struct {
	Name     string
	Critical bool
	Probe    func(ctx context.Context) Status
}

// PingCheck probes p with DefaultCheckTimeout.
//
// Example:
//
//	checks := []health.Check{
//	    health.PingCheck("l2", redisTier, false),
//	    health.PingCheck("l3", sqliteRepo, true),
//	}
func PingCheck(name string, p Pinger, critical bool) Check {
	return Check{
		Name:     name,
		Critical: critical,
		Probe: func(ctx context.Context) Status {
			ctx, cancel := context.WithTimeout(ctx, DefaultCheckTimeout)
			defer cancel()

			start := time.Now()
			if err := p.Ping(ctx); err != nil {
				return Unhealthy(
					fmt.Sprintf("%s ping failed", name),
					map[string]any{"tier": name, "error": err.Error()},
				)
			}
			return Healthy(fmt.Sprintf("%s responded in %s", name, time.Since(start).Round(time.Millisecond)))
		},
	}
}

// NetworkCheck verifies TCP connectivity to a host and port.
func NetworkCheck(ctx context.Context, host string, port int) Status {
	if host == "" {
		return Unhealthy("host cannot be empty", nil)
	}
	if port <= 0 || port > 65535 {
		return Unhealthy(
			fmt.Sprintf("invalid port number: %d", port),
			map[string]any{"port": port},
		)
	}

	address := net.JoinHostPort(host, strconv.Itoa(port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return Unhealthy(
			fmt.Sprintf("failed to connect to %s", address),
			map[string]any{"host": host, "port": port, "error": err.Error()},
		)
	}
	conn.Close()

	return Healthy(fmt.Sprintf("successfully connected to %s", address))
}

// FileCheck verifies that a file or directory exists, such as the SQLite
// database or its directory.
func FileCheck(path string) Status {
	if path == "" {
		return Unhealthy("path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Unhealthy(fmt.Sprintf("path '%s' does not exist", path), map[string]any{"path": path})
		}
		return Unhealthy(
			fmt.Sprintf("failed to stat path '%s'", path),
			map[string]any{"path": path, "error": err.Error()},
		)
	}

	kind := "file"
	if info.IsDir() {
		kind = "directory"
	}
	return Healthy(fmt.Sprintf("%s '%s' exists", kind, path))
}

// Combine aggregates statuses: any unhealthy makes the result unhealthy,
// otherwise any degraded makes it degraded.
func Combine(checks ...Status) Status {
	if len(checks) == 0 {
		return Healthy("no checks provided")
	}

	var unhealthy, degraded []string
	healthy := 0
	for _, c := range checks {
		msg := c.Message
		if msg == "" {
			msg = "unnamed check"
		}
		switch c.Status {
		case StatusUnhealthy:
			unhealthy = append(unhealthy, msg)
		case StatusDegraded:
			degraded = append(degraded, msg)
		case StatusHealthy:
			healthy++
		}
	}

	if len(unhealthy) > 0 {
		return Unhealthy(
			fmt.Sprintf("%d check(s) failed", len(unhealthy)),
			map[string]any{
				"total":         len(checks),
				"unhealthy":     len(unhealthy),
				"degraded":      len(degraded),
				"healthy":       healthy,
				"failed_checks": unhealthy,
			},
		)
	}
	if len(degraded) > 0 {
		return Degraded(
			fmt.Sprintf("%d check(s) degraded", len(degraded)),
			map[string]any{
				"total":           len(checks),
				"degraded":        len(degraded),
				"healthy":         healthy,
				"degraded_checks": degraded,
			},
		)
	}
	return Healthy(fmt.Sprintf("all %d check(s) passed", len(checks)))
}

// Run executes every check and combines them. A failed non-critical check
// counts as degraded.
func Run(ctx context.Context, checks []Check) (Status, map[string]Status) {
	results := make(map[string]Status, len(checks))
	statuses := make([]Status, 0, len(checks))
	for _, c := range checks {
		st := c.Probe(ctx)
		results[c.Name] = st
		if st.IsUnhealthy() && !c.Critical {
			st = Degraded(st.Message, st.Details)
		}
		statuses = append(statuses, st)
	}
	return Combine(statuses...), results
}
