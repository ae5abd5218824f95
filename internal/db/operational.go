package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/danutirta/tanyadata-backend/internal/platform/envutil"
	"github.com/danutirta/tanyadata-backend/internal/platform/logger"
)

// OperationalDB wraps the operational dataset (tickets, agents, customers)
// that synthesized SQL runs against. All statements execute inside a
// read-only transaction regardless of what the SQL guard already rejected.
type OperationalDB struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

func NewOperationalDB(ctx context.Context, log *logger.Logger) (*OperationalDB, error) {
	serviceLog := log.With("service", "OperationalDB")

	url := strings.TrimSpace(envutil.String("OPERATIONAL_DATABASE_URL", ""))
	if url == "" {
		host := envutil.String("POSTGRES_HOST", "localhost")
		port := envutil.String("POSTGRES_PORT", "5432")
		user := envutil.String("POSTGRES_USER", "postgres")
		password := envutil.String("POSTGRES_PASSWORD", "")
		name := envutil.String("OPERATIONAL_DB_NAME", "helpdesk")
		url = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, name)
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse operational database url: %w", err)
	}
	cfg.MaxConns = int32(envutil.Int("OPERATIONAL_DB_MAX_CONNS", 8))

	serviceLog.Info("Connecting to operational Postgres...")
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		serviceLog.Error("Failed to connect to operational Postgres", "error", err)
		return nil, fmt.Errorf("connect operational postgres: %w", err)
	}

	return &OperationalDB{pool: pool, log: serviceLog}, nil
}

func (o *OperationalDB) Healthy(ctx context.Context) error {
	if o == nil || o.pool == nil {
		return fmt.Errorf("operational db not configured")
	}
	return o.pool.Ping(ctx)
}

func (o *OperationalDB) Close() {
	if o != nil && o.pool != nil {
		o.pool.Close()
	}
}

// Query runs one SELECT inside a read-only transaction and materializes the
// result as column-name keyed rows.
func (o *OperationalDB) Query(ctx context.Context, sql string) ([]map[string]any, error) {
	if o == nil || o.pool == nil {
		return nil, fmt.Errorf("operational db not configured")
	}

	tx, err := o.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin read-only tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = string(f.Name)
	}

	out := make([]map[string]any, 0, 16)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = normalizeValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// TableColumn is one column of operational schema metadata.
type TableColumn struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
	Nullable bool   `json:"nullable"`
}

// TableSchema describes one operational table for prompt construction.
type TableSchema struct {
	Name    string        `json:"name"`
	Columns []TableColumn `json:"columns"`
}

// DescribeTable reads column metadata from information_schema.
func (o *OperationalDB) DescribeTable(ctx context.Context, table string) (TableSchema, error) {
	out := TableSchema{Name: table}
	if o == nil || o.pool == nil {
		return out, fmt.Errorf("operational db not configured")
	}

	rows, err := o.pool.Query(ctx, `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position
	`, table)
	if err != nil {
		return out, err
	}
	defer rows.Close()

	for rows.Next() {
		var name, dataType, nullable string
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return out, err
		}
		out.Columns = append(out.Columns, TableColumn{
			Name:     name,
			DataType: dataType,
			Nullable: nullable == "YES",
		})
	}
	if err := rows.Err(); err != nil {
		return out, err
	}
	if len(out.Columns) == 0 {
		return out, fmt.Errorf("table %q not found", table)
	}
	return out, nil
}

// SampleRows fetches up to limit rows from a table for few-shot context.
// The table name must come from the configured allow-list, never user input.
func (o *OperationalDB) SampleRows(ctx context.Context, table string, limit int) ([]map[string]any, error) {
	if !isSafeIdentifier(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if limit <= 0 || limit > 20 {
		limit = 3
	}
	return o.Query(ctx, fmt.Sprintf(`SELECT * FROM %q LIMIT %d`, table, limit))
}

func isSafeIdentifier(s string) bool {
	if s == "" || len(s) > 63 {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// normalizeValue maps driver types to JSON-friendly values.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case [16]byte: // uuid
		return fmt.Sprintf("%x-%x-%x-%x-%x", t[0:4], t[4:6], t[6:8], t[8:10], t[10:16])
	default:
		return v
	}
}
