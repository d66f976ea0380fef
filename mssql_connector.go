// file: mssql_connector.go
package dbconnector

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/microsoft/go-mssqldb"
)

type MSSQLConnector struct {
	baseConnector
}

func newMSSQLConnector(cfg ConnectionConfig) (*MSSQLConnector, error) {
	if cfg.Port == 0 {
		cfg.Port = 1433
	}
	user := url.QueryEscape(cfg.User)
	pass := url.QueryEscape(cfg.Password)
	sslMode := strings.ToLower(strings.TrimSpace(cfg.SSLMode))
	encrypt := "true"
	if sslMode == "disable" {
		encrypt = "disable"
	}
	dsn := fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s&encrypt=%s", user, pass, cfg.Host, cfg.Port, url.QueryEscape(cfg.Database), encrypt)
	db, err := openDatabase("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mssql connection: %w", err)
	}
	return &MSSQLConnector{baseConnector{cfg: cfg, db: db}}, nil
}

func quoteMSSQL(s string) string { return "[" + s + "]" }

func (c *MSSQLConnector) TestConnection(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping mssql: %w", err)
	}
	return nil
}

func (c *MSSQLConnector) ListTables(ctx context.Context) ([]string, error) {
	tables, err := c.queryStrings(ctx, "SELECT TABLE_SCHEMA + '.' + TABLE_NAME FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_TYPE = 'BASE TABLE' AND TABLE_CATALOG = DB_NAME()")
	if err != nil {
		return nil, fmt.Errorf("list mssql tables: %w", err)
	}
	return tables, nil
}

// FetchRows uses TOP since SQL Server has no LIMIT clause. Unqualified
// tables resolve against dbo.
func (c *MSSQLConnector) FetchRows(ctx context.Context, req FetchRequest) ([]map[string]any, error) {
	schema, name, err := parseMSSQLTable(req.Table)
	if err != nil {
		return nil, err
	}
	req.Table = schema + "." + name
	parts, err := buildSelectParts(req, 2, quoteMSSQL)
	if err != nil {
		return nil, fmt.Errorf("mssql fetch: %w", err)
	}
	query := fmt.Sprintf("SELECT TOP (@p1) %s FROM %s%s", parts.columns, parts.table, parts.orderBy)
	rows, err := c.queryRows(ctx, query, parts.limit)
	if err != nil {
		return nil, fmt.Errorf("query mssql rows: %w", err)
	}
	return rows, nil
}

func parseMSSQLTable(table string) (string, string, error) {
	_, parts, err := quoteQualified(table, 2, quoteMSSQL)
	if err != nil {
		return "", "", fmt.Errorf("invalid mssql table: %w", err)
	}
	if len(parts) == 1 {
		return "dbo", parts[0], nil
	}
	return parts[0], parts[1], nil
}
