package answer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// operationalTables is the allow-list of tables exposed to the planner.
var operationalTables = []string{"tickets", "agents", "customers"}

// SchemaProvider renders the operational schema plus a few sample rows as
// prompt text. Table metadata and samples are fetched concurrently; a failing
// table is noted and skipped. The rendered text is cached briefly since the
// schema changes far less often than queries arrive.
type SchemaProvider struct {
	ttl time.Duration

	mu      sync.Mutex
	text    string
	fetched time.Time
}

func NewSchemaProvider() *SchemaProvider {
	return &SchemaProvider{ttl: 5 * time.Minute}
}

func (p *SchemaProvider) Context(ctx context.Context, deps Deps) string {
	if p == nil {
		return fetchSchemaContext(ctx, deps)
	}

	p.mu.Lock()
	if p.text != "" && time.Since(p.fetched) < p.ttl {
		text := p.text
		p.mu.Unlock()
		return text
	}
	p.mu.Unlock()

	text := fetchSchemaContext(ctx, deps)

	p.mu.Lock()
	p.text = text
	p.fetched = time.Now()
	p.mu.Unlock()
	return text
}

// Reset clears the cached schema text so the next call refetches.
func (p *SchemaProvider) Reset() {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.text = ""
	p.fetched = time.Time{}
	p.mu.Unlock()
}

func fetchSchemaContext(ctx context.Context, deps Deps) string {
	if deps.Schema == nil {
		return "(skema tidak tersedia)"
	}

	fetchCtx, cancel := context.WithTimeout(ctx, deps.Cfg.Timeouts.SchemaFetch)
	defer cancel()

	sections := make([]string, len(operationalTables))
	g, gctx := errgroup.WithContext(fetchCtx)
	for i, table := range operationalTables {
		i, table := i, table
		g.Go(func() error {
			schema, err := deps.Schema.DescribeTable(gctx, table)
			if err != nil {
				if deps.Log != nil {
					deps.Log.Warn("schema fetch failed for table", "table", table, "error", err)
				}
				sections[i] = fmt.Sprintf("-- tabel %s: metadata tidak tersedia", table)
				return nil
			}

			var b strings.Builder
			fmt.Fprintf(&b, "TABEL %s:\n", schema.Name)
			for _, col := range schema.Columns {
				nullable := "NOT NULL"
				if col.Nullable {
					nullable = "NULL"
				}
				fmt.Fprintf(&b, "  %s %s %s\n", col.Name, col.DataType, nullable)
			}

			// Samples are best-effort flavor for the prompt.
			if rows, err := deps.Schema.SampleRows(gctx, table, 3); err == nil && len(rows) > 0 {
				b.WriteString("  contoh baris:\n")
				for _, row := range rows {
					fmt.Fprintf(&b, "    %v\n", row)
				}
			}

			sections[i] = b.String()
			return nil
		})
	}
	_ = g.Wait()

	return strings.Join(sections, "\n")
}
