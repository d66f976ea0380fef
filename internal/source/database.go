package source

import (
	"context"
	"strconv"
	"strings"

	dbconnector "dealsignal"
	"dealsignal/internal/config"
	"dealsignal/internal/logger"
)

// DatabaseConnector reads rows from a SQL table. Endpoint values name tables.
type DatabaseConnector struct {
	*healthTracker
	cfg  config.SourceConfig
	conn dbconnector.RecordSource
}

func NewDatabaseConnector(cfg config.SourceConfig, conn dbconnector.RecordSource, limits Limits, log logger.Logger) *DatabaseConnector {
	return &DatabaseConnector{
		healthTracker: newHealthTracker(cfg.ID, KindDatabase, limits, log),
		cfg:           cfg,
		conn:          conn,
	}
}

func (d *DatabaseConnector) CheckHealth(ctx context.Context) ConnectionStatus {
	return d.checkHealth(ctx, d.ping)
}

// Fetch understands the params columns (comma separated), limit, orderBy
// and desc.
func (d *DatabaseConnector) Fetch(ctx context.Context, endpointKey string, params map[string]string) ([]Record, error) {
	table, ok := d.cfg.Endpoints[endpointKey]
	if !ok {
		return nil, &FetchError{SourceID: d.id, Endpoint: endpointKey, Err: ErrUnknownEndpoint}
	}
	req := fetchRequest(table, params)
	if req.Limit <= 0 || req.Limit > d.limits.MaxRecords {
		req.Limit = d.limits.MaxRecords
	}
	return d.fetch(ctx, endpointKey, d.ping, func(ctx context.Context) ([]Record, error) {
		rows, err := d.conn.FetchRows(ctx, req)
		if err != nil {
			return nil, err
		}
		return rows, nil
	})
}

// Tables lists the tables visible to the connection.
func (d *DatabaseConnector) Tables(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.limits.FetchTimeout)
	defer cancel()
	tables, err := d.conn.ListTables(ctx)
	if err != nil {
		return nil, &FetchError{SourceID: d.id, Endpoint: "tables", Err: err}
	}
	return tables, nil
}

func (d *DatabaseConnector) Close() error {
	return d.conn.Close()
}

func (d *DatabaseConnector) ping(ctx context.Context) (*int, error) {
	return nil, d.conn.TestConnection(ctx)
}

func fetchRequest(table string, params map[string]string) dbconnector.FetchRequest {
	req := dbconnector.FetchRequest{Table: table}
	if cols := strings.TrimSpace(params["columns"]); cols != "" {
		for _, c := range strings.Split(cols, ",") {
			if c = strings.TrimSpace(c); c != "" {
				req.Columns = append(req.Columns, c)
			}
		}
	}
	if n, err := strconv.Atoi(params["limit"]); err == nil {
		req.Limit = n
	}
	req.OrderBy = strings.TrimSpace(params["orderBy"])
	req.Descending, _ = strconv.ParseBool(params["desc"])
	return req
}
