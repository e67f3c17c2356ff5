package metrics

import (
	"strconv"
	"time"

	"github.com/keyrotor/keyrotor/internal/core"
	"github.com/keyrotor/keyrotor/internal/observability"
)

// Key pool metrics
const (
	SelectionsTotal      = "key_selections_total"
	PoolKeys             = "key_pool_keys"
	AggregateRequests    = "key_pool_aggregate_requests"
	AggregateLimit       = "key_pool_aggregate_limit"
	MaintenanceRunsTotal = "key_maintenance_runs_total"
	MaintenanceAffected  = "key_maintenance_affected_keys"
	PersistTotal         = "key_persist_total"
	PersistDuration      = "key_persist_duration_ms"
	KeyAdminActionsTotal = "key_admin_actions_total"
)

// Selection outcomes
const (
	OutcomeSelected    = "selected"
	OutcomeRateLimited = "rate_limited"
	OutcomeNoKey       = "no_available_key"
	OutcomeError       = "error"
)

// RecordSelection counts one /next attempt by mode and outcome.
func RecordSelection(mode core.SelectionMode, outcome string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			SelectionsTotal,
			1,
			map[string]string{
				"mode":    string(mode),
				"outcome": outcome,
			},
		)
	}
}

// SetPoolGauges publishes the key counts by status.
func SetPoolGauges(stats core.PoolStats) {
	if observability.TelemetrySystem == nil {
		return
	}
	for status, n := range map[string]int{
		"total":    stats.TotalKeys,
		"active":   stats.ActiveKeys,
		"inactive": stats.InactiveKeys,
	} {
		_ = observability.TelemetrySystem.Gauge(
			PoolKeys,
			float64(n),
			map[string]string{"status": status},
		)
	}
}

// SetAggregateUsage publishes the pool-wide counter and its ceiling.
func SetAggregateUsage(current, limit int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(AggregateRequests, float64(current), nil)
		_ = observability.TelemetrySystem.Gauge(AggregateLimit, float64(limit), nil)
	}
}

// RecordMaintenanceRun counts one maintenance job execution.
func RecordMaintenanceRun(job string, success bool, affected int) {
	if observability.TelemetrySystem == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	_ = observability.TelemetrySystem.Counter(
		MaintenanceRunsTotal,
		1,
		map[string]string{
			"job":    job,
			"status": status,
		},
	)
	_ = observability.TelemetrySystem.Gauge(
		MaintenanceAffected,
		float64(affected),
		map[string]string{"job": job},
	)
}

// RecordPersist counts a snapshot write and its latency.
func RecordPersist(success bool, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(
		PersistTotal,
		1,
		map[string]string{"success": strconv.FormatBool(success)},
	)
	_ = observability.TelemetrySystem.Histogram(PersistDuration, duration, nil)
}

// RecordKeyAdminAction counts add/delete/deactivate/reactivate calls.
func RecordKeyAdminAction(action string, success bool) {
	if observability.TelemetrySystem == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	_ = observability.TelemetrySystem.Counter(
		KeyAdminActionsTotal,
		1,
		map[string]string{
			"action": action,
			"status": status,
		},
	)
}
