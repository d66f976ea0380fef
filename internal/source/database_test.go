package source

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbconnector "dealsignal"
	"dealsignal/internal/config"
	"dealsignal/internal/logger"
)

type fakeRecordSource struct {
	pingErr  error
	fetchErr error
	rows     []map[string]any
	lastReq  dbconnector.FetchRequest
	panicky  bool
	closed   bool
}

func (f *fakeRecordSource) TestConnection(ctx context.Context) error { return f.pingErr }

func (f *fakeRecordSource) ListTables(ctx context.Context) ([]string, error) {
	return []string{"deals"}, nil
}

func (f *fakeRecordSource) FetchRows(ctx context.Context, req dbconnector.FetchRequest) ([]map[string]any, error) {
	if f.panicky {
		panic("driver exploded")
	}
	f.lastReq = req
	return f.rows, f.fetchErr
}

func (f *fakeRecordSource) Close() error {
	f.closed = true
	return nil
}

func dbConfig() config.SourceConfig {
	return config.SourceConfig{
		ID:        "warehouse",
		Kind:      config.KindDatabase,
		Endpoints: map[string]string{"deals": "public.deals"},
		Database:  &dbconnector.ConnectionConfig{Type: "postgres", Password: "enc:abc"},
	}
}

func TestDatabaseConnector_FetchParams(t *testing.T) {
	fake := &fakeRecordSource{rows: []map[string]any{{"company": "Acme"}}}
	d := NewDatabaseConnector(dbConfig(), fake, Limits{MaxRecords: 100}, logger.NewNop())

	records, err := d.Fetch(context.Background(), "deals", map[string]string{
		"columns": "company, amount",
		"limit":   "25",
		"orderBy": "announced_at",
		"desc":    "true",
	})
	require.NoError(t, err)
	assert.Equal(t, []Record{{"company": "Acme"}}, records)
	assert.Equal(t, dbconnector.FetchRequest{
		Table:      "public.deals",
		Columns:    []string{"company", "amount"},
		OrderBy:    "announced_at",
		Descending: true,
		Limit:      25,
	}, fake.lastReq)

	_, err = d.Fetch(context.Background(), "deals", nil)
	require.NoError(t, err)
	assert.Equal(t, 100, fake.lastReq.Limit)
}

func TestDatabaseConnector_PingFailure(t *testing.T) {
	fake := &fakeRecordSource{pingErr: errors.New("connection refused")}
	d := NewDatabaseConnector(dbConfig(), fake, Limits{}, logger.NewNop())

	_, err := d.Fetch(context.Background(), "deals", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
	st, _ := d.Status()
	assert.Equal(t, "connection refused", st.Error)
}

func TestDatabaseConnector_PanicBecomesFetchError(t *testing.T) {
	fake := &fakeRecordSource{panicky: true}
	d := NewDatabaseConnector(dbConfig(), fake, Limits{}, logger.NewNop())

	_, err := d.Fetch(context.Background(), "deals", nil)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Contains(t, err.Error(), "driver exploded")
	st, _ := d.Status()
	assert.False(t, st.Connected)
}

func TestFactory_BuildRegistry(t *testing.T) {
	fake := &fakeRecordSource{}
	var observed []string
	f := Factory{
		Log:     logger.NewNop(),
		Secrets: func(s string) (string, error) { return "plain", nil },
		OpenDatabase: func(cfg dbconnector.ConnectionConfig) (dbconnector.RecordSource, error) {
			assert.Equal(t, "plain", cfg.Password)
			return fake, nil
		},
		Observer: func(id string, st ConnectionStatus) { observed = append(observed, id) },
	}
	reg, err := BuildRegistry([]config.SourceConfig{
		dbConfig(),
		{ID: "crunch", Kind: config.KindAPI, BaseURL: "http://127.0.0.1:1"},
		{ID: "news", Kind: config.KindScraper, BaseURL: "http://127.0.0.1:1"},
	}, f)
	require.NoError(t, err)

	ids := []string{}
	for _, a := range reg.List() {
		ids = append(ids, a.ID())
	}
	assert.Equal(t, []string{"crunch", "news", "warehouse"}, ids)
	assert.Len(t, reg.ByKind(KindDatabase), 1)

	a, err := reg.Get("warehouse")
	require.NoError(t, err)
	a.CheckHealth(context.Background())
	assert.Equal(t, []string{"warehouse"}, observed)
	assert.Contains(t, reg.Statuses(), "warehouse")

	_, err = reg.Get("ghost")
	assert.ErrorIs(t, err, ErrUnknownSource)

	require.NoError(t, reg.Close())
	assert.True(t, fake.closed)
}

func TestFactory_UnknownKindAndMissingDatabase(t *testing.T) {
	_, err := BuildRegistry([]config.SourceConfig{
		{ID: "x", Kind: "ftp"},
		{ID: "y", Kind: config.KindDatabase},
	}, Factory{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported kind "ftp"`)
	assert.Contains(t, err.Error(), "database connection is required")
}

func TestDatabaseConnector_Tables(t *testing.T) {
	d := NewDatabaseConnector(dbConfig(), &fakeRecordSource{}, Limits{}, logger.NewNop())
	tables, err := d.Tables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"deals"}, tables)
}
