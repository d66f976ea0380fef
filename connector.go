// file: connector.go
package dbconnector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	defaultFetchLimit = 500
	maxFetchLimit     = 10000
)

// RecordSource is a SQL database that can be polled for rows.
type RecordSource interface {
	TestConnection(ctx context.Context) error

	ListTables(ctx context.Context) ([]string, error)

	FetchRows(ctx context.Context, req FetchRequest) ([]map[string]any, error)

	Close() error
}

type ConnectionConfig struct {
	Type     string `yaml:"type" json:"type"` // mysql | postgres | mssql
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"-"`
	Database string `yaml:"database" json:"database"`
	SSLMode  string `yaml:"sslMode" json:"sslMode"`
}

// FetchRequest selects rows from one table. Columns defaults to all columns.
type FetchRequest struct {
	Table      string
	Columns    []string
	OrderBy    string
	Descending bool
	Limit      int
}

type baseConnector struct {
	cfg ConnectionConfig
	db  *sql.DB
}

func (b *baseConnector) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *baseConnector) queryRows(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRowsToMaps(rows)
}

func (b *baseConnector) queryStrings(ctx context.Context, query string) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		results = append(results, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

func splitIdentifier(ident string) ([]string, error) {
	trimmed := strings.TrimSpace(ident)
	if trimmed == "" {
		return nil, errors.New("identifier is empty")
	}
	parts := strings.Split(trimmed, ".")
	for _, part := range parts {
		if part == "" {
			return nil, errors.New("identifier contains empty segment")
		}
		if !identPattern.MatchString(part) {
			return nil, fmt.Errorf("identifier segment %q is invalid", part)
		}
	}
	return parts, nil
}

func quoteQualified(ident string, maxSegments int, quote func(string) string) (string, []string, error) {
	parts, err := splitIdentifier(ident)
	if err != nil {
		return "", nil, err
	}
	if maxSegments > 0 && len(parts) > maxSegments {
		return "", nil, fmt.Errorf("identifier %q has too many segments", ident)
	}
	quoted := make([]string, len(parts))
	for i, part := range parts {
		quoted[i] = quote(part)
	}
	return strings.Join(quoted, "."), parts, nil
}

func quoteList(names []string, quote func(string) string) (string, error) {
	if len(names) == 0 {
		return "", errors.New("no columns provided")
	}
	quoted := make([]string, len(names))
	for i, name := range names {
		if name == "" {
			return "", errors.New("column name is empty")
		}
		parts, err := splitIdentifier(name)
		if err != nil || len(parts) != 1 {
			return "", fmt.Errorf("invalid column name %q", name)
		}
		quoted[i] = quote(name)
	}
	return strings.Join(quoted, ", "), nil
}

func normalizeFetchLimit(limit int) int {
	if limit <= 0 {
		return defaultFetchLimit
	}
	if limit > maxFetchLimit {
		return maxFetchLimit
	}
	return limit
}

// selectParts quotes the pieces of a FetchRequest shared by every dialect.
type selectParts struct {
	table   string
	columns string
	orderBy string
	limit   int
}

func buildSelectParts(req FetchRequest, maxSegments int, quote func(string) string) (selectParts, error) {
	table, _, err := quoteQualified(req.Table, maxSegments, quote)
	if err != nil {
		return selectParts{}, fmt.Errorf("invalid table: %w", err)
	}
	parts := selectParts{table: table, columns: "*", limit: normalizeFetchLimit(req.Limit)}
	if len(req.Columns) > 0 {
		parts.columns, err = quoteList(req.Columns, quote)
		if err != nil {
			return selectParts{}, fmt.Errorf("invalid column list: %w", err)
		}
	}
	if req.OrderBy != "" {
		col, err := quoteList([]string{req.OrderBy}, quote)
		if err != nil {
			return selectParts{}, fmt.Errorf("invalid order column: %w", err)
		}
		parts.orderBy = " ORDER BY " + col
		if req.Descending {
			parts.orderBy += " DESC"
		}
	}
	return parts, nil
}

func scanRowsToMaps(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	results := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		for i := range values {
			var v any
			values[i] = &v
		}
		if err := rows.Scan(values...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			v := *(values[i].(*any))
			row[col] = normalizeValue(v)
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(t)
	default:
		return t
	}
}
