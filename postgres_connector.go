// file: postgres_connector.go
package dbconnector

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

type PostgresConnector struct {
	baseConnector
}

func newPostgresConnector(cfg ConnectionConfig) (*PostgresConnector, error) {
	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	sslMode := strings.ToLower(strings.TrimSpace(cfg.SSLMode))
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, sslMode)
	db, err := openDatabase("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	return &PostgresConnector{baseConnector{cfg: cfg, db: db}}, nil
}

func quotePostgres(s string) string { return "\"" + s + "\"" }

func (c *PostgresConnector) TestConnection(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func (c *PostgresConnector) ListTables(ctx context.Context) ([]string, error) {
	tables, err := c.queryStrings(ctx, "SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'")
	if err != nil {
		return nil, fmt.Errorf("list postgres tables: %w", err)
	}
	return tables, nil
}

func (c *PostgresConnector) FetchRows(ctx context.Context, req FetchRequest) ([]map[string]any, error) {
	parts, err := buildSelectParts(req, 2, quotePostgres)
	if err != nil {
		return nil, fmt.Errorf("postgres fetch: %w", err)
	}
	query := fmt.Sprintf("SELECT %s FROM %s%s LIMIT $1", parts.columns, parts.table, parts.orderBy)
	rows, err := c.queryRows(ctx, query, parts.limit)
	if err != nil {
		return nil, fmt.Errorf("query postgres rows: %w", err)
	}
	return rows, nil
}
