package answer

import (
	"context"
	"errors"
	"net"
	"strings"
)

// demoRows is the graceful-degradation payload used when the operational
// database cannot be reached at all. Flagged Degraded so callers and the
// answer text can say so.
var demoRows = []map[string]any{
	{"keterangan": "mode demo: database operasional tidak tersedia", "total": 0},
}

// Execute runs validated SQL against the operational database. The SQL MUST
// have passed ValidateSQL; Execute re-checks and refuses otherwise. DB-level
// errors come back as a failed result, an unreachable database as a demo
// result, never as a panic or a raw error to the caller.
func Execute(ctx context.Context, deps Deps, sqlText string) ExecutionResult {
	if err := ValidateSQL(sqlText); err != nil {
		if deps.Metrics != nil {
			deps.Metrics.RecordSQLRejected()
		}
		return ExecutionResult{Success: false, ErrorMessage: err.Error()}
	}

	if deps.SQL == nil {
		return degradedResult(deps)
	}

	execCtx, cancel := context.WithTimeout(ctx, deps.Cfg.Timeouts.SQLExec)
	defer cancel()

	rows, err := deps.SQL.Query(execCtx, sqlText)
	if err != nil {
		if isUnreachable(err) {
			if deps.Log != nil {
				deps.Log.Warn("operational database unreachable; serving demo result", "error", err)
			}
			return degradedResult(deps)
		}
		if deps.Log != nil {
			deps.Log.Error("sql execution failed", "error", err)
		}
		return ExecutionResult{Success: false, ErrorMessage: err.Error()}
	}

	return ExecutionResult{Success: true, Rows: rows, RowCount: len(rows)}
}

func degradedResult(deps Deps) ExecutionResult {
	if deps.Metrics != nil {
		deps.Metrics.RecordSQLDegraded()
	}
	return ExecutionResult{
		Success:  true,
		Rows:     demoRows,
		RowCount: len(demoRows),
		Degraded: true,
	}
}

// isUnreachable separates connectivity failures (degrade to demo data) from
// statement-level failures (surface as execution errors).
func isUnreachable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused", "connection reset", "no such host",
		"operational db not configured", "failed to connect",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
