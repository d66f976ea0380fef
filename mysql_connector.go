// file: mysql_connector.go
package dbconnector

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
)

type MySQLConnector struct {
	baseConnector
}

func newMySQLConnector(cfg ConnectionConfig) (*MySQLConnector, error) {
	if cfg.Port == 0 {
		cfg.Port = 3306
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
	sslMode := strings.ToLower(strings.TrimSpace(cfg.SSLMode))
	if sslMode == "disable" {
		dsn += "&tls=false"
	} else if sslMode != "" {
		dsn += "&tls=true"
	}
	db, err := openDatabase("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}
	return &MySQLConnector{baseConnector{cfg: cfg, db: db}}, nil
}

func quoteMySQL(s string) string { return "`" + s + "`" }

func (c *MySQLConnector) TestConnection(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping mysql: %w", err)
	}
	return nil
}

func (c *MySQLConnector) ListTables(ctx context.Context) ([]string, error) {
	tables, err := c.queryStrings(ctx, "SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'")
	if err != nil {
		return nil, fmt.Errorf("list mysql tables: %w", err)
	}
	return tables, nil
}

func (c *MySQLConnector) FetchRows(ctx context.Context, req FetchRequest) ([]map[string]any, error) {
	parts, err := buildSelectParts(req, 2, quoteMySQL)
	if err != nil {
		return nil, fmt.Errorf("mysql fetch: %w", err)
	}
	query := fmt.Sprintf("SELECT %s FROM %s%s LIMIT ?", parts.columns, parts.table, parts.orderBy)
	rows, err := c.queryRows(ctx, query, parts.limit)
	if err != nil {
		return nil, fmt.Errorf("query mysql rows: %w", err)
	}
	return rows, nil
}
