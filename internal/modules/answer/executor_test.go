package answer

import (
	"context"
	"fmt"
	"testing"

	"github.com/danutirta/tanyadata-backend/internal/config"
)

type fakeRunner struct {
	rows []map[string]any
	err  error

	lastSQL string
	calls   int
}

func (f *fakeRunner) Query(ctx context.Context, sql string) ([]map[string]any, error) {
	f.calls++
	f.lastSQL = sql
	return f.rows, f.err
}

func execDeps(runner SQLRunner) Deps {
	return Deps{Cfg: config.Default(), SQL: runner}
}

func TestExecuteSuccess(t *testing.T) {
	runner := &fakeRunner{rows: []map[string]any{{"total": int64(42)}}}

	res := Execute(context.Background(), execDeps(runner), "SELECT count(*) AS total FROM tickets")
	if !res.Success || res.Degraded {
		t.Fatalf("result: %+v", res)
	}
	if res.RowCount != 1 || res.Rows[0]["total"] != int64(42) {
		t.Fatalf("rows: %+v", res.Rows)
	}
}

func TestExecuteRefusesInvalidSQL(t *testing.T) {
	runner := &fakeRunner{}

	res := Execute(context.Background(), execDeps(runner), "DROP TABLE tickets")
	if res.Success {
		t.Fatalf("invalid SQL must not succeed: %+v", res)
	}
	if runner.calls != 0 {
		t.Fatal("invalid SQL reached the runner")
	}
}

func TestExecuteWrapsDBError(t *testing.T) {
	runner := &fakeRunner{err: fmt.Errorf(`column "totl" does not exist`)}

	res := Execute(context.Background(), execDeps(runner), "SELECT totl FROM tickets")
	if res.Success || res.Degraded {
		t.Fatalf("result: %+v", res)
	}
	if res.ErrorMessage == "" {
		t.Fatal("error message must be populated")
	}
}

func TestExecuteDegradesWhenUnreachable(t *testing.T) {
	runner := &fakeRunner{err: fmt.Errorf("dial tcp 10.0.0.5:5432: connection refused")}

	res := Execute(context.Background(), execDeps(runner), "SELECT 1")
	if !res.Success || !res.Degraded {
		t.Fatalf("want degraded demo result, got %+v", res)
	}
	if res.RowCount == 0 {
		t.Fatal("demo result must carry rows")
	}
}

func TestExecuteDegradesWithoutRunner(t *testing.T) {
	res := Execute(context.Background(), execDeps(nil), "SELECT 1")
	if !res.Success || !res.Degraded {
		t.Fatalf("want degraded demo result, got %+v", res)
	}
}
