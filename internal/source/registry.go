package source

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"

	dbconnector "dealsignal"
	"dealsignal/internal/config"
	"dealsignal/internal/logger"
)

var ErrUnknownSource = errors.New("unknown source")

// Registry holds adapters by id.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[a.ID()]; exists {
		return fmt.Errorf("source %q already registered", a.ID())
	}
	r.adapters[a.ID()] = a
	return nil
}

func (r *Registry) Get(id string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	return a, nil
}

// List returns every adapter ordered by id.
func (r *Registry) List() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (r *Registry) ByKind(kind Kind) []Adapter {
	var out []Adapter
	for _, a := range r.List() {
		if a.Kind() == kind {
			out = append(out, a)
		}
	}
	return out
}

// Statuses returns the last known status of every adapter that has one.
func (r *Registry) Statuses() map[string]ConnectionStatus {
	out := make(map[string]ConnectionStatus)
	for _, a := range r.List() {
		if st, ok := a.Status(); ok {
			out[a.ID()] = st
		}
	}
	return out
}

// Close releases adapters holding connections.
func (r *Registry) Close() error {
	var result *multierror.Error
	for _, a := range r.List() {
		if c, ok := a.(io.Closer); ok {
			if err := c.Close(); err != nil {
				result = multierror.Append(result, fmt.Errorf("close %s: %w", a.ID(), err))
			}
		}
	}
	return result.ErrorOrNil()
}

// Factory turns source configuration into adapters.
type Factory struct {
	Limits   Limits
	Log      logger.Logger
	Client   *http.Client
	Observer StatusObserver
	// Secrets resolves encrypted database passwords; nil keeps them as is.
	Secrets func(string) (string, error)
	// OpenDatabase defaults to dbconnector.NewConnector.
	OpenDatabase func(dbconnector.ConnectionConfig) (dbconnector.RecordSource, error)
}

type observable interface {
	SetStatusObserver(StatusObserver)
}

func (f Factory) Build(cfg config.SourceConfig) (Adapter, error) {
	var a Adapter
	switch Kind(cfg.Kind) {
	case KindAPI:
		a = NewAPIConnector(cfg, f.Client, f.Limits, f.Log)
	case KindScraper:
		var transport http.RoundTripper
		if f.Client != nil {
			transport = f.Client.Transport
		}
		a = NewScraper(cfg, transport, f.Limits, f.Log)
	case KindDatabase:
		conn, err := f.openDatabase(cfg)
		if err != nil {
			return nil, err
		}
		a = NewDatabaseConnector(cfg, conn, f.Limits, f.Log)
	default:
		return nil, fmt.Errorf("source %s: unsupported kind %q", cfg.ID, cfg.Kind)
	}
	if o, ok := a.(observable); ok && f.Observer != nil {
		o.SetStatusObserver(f.Observer)
	}
	return a, nil
}

func (f Factory) openDatabase(cfg config.SourceConfig) (dbconnector.RecordSource, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("source %s: database connection is required", cfg.ID)
	}
	conn := *cfg.Database
	if f.Secrets != nil {
		password, err := f.Secrets(conn.Password)
		if err != nil {
			return nil, fmt.Errorf("source %s: resolve password: %w", cfg.ID, err)
		}
		conn.Password = password
	}
	open := f.OpenDatabase
	if open == nil {
		open = dbconnector.NewConnector
	}
	rs, err := open(conn)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", cfg.ID, err)
	}
	return rs, nil
}

// BuildRegistry builds every configured source, collecting all failures.
func BuildRegistry(sources []config.SourceConfig, f Factory) (*Registry, error) {
	reg := NewRegistry()
	var result *multierror.Error
	for _, cfg := range sources {
		a, err := f.Build(cfg)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if err := reg.Register(a); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		_ = reg.Close()
		return nil, err
	}
	return reg, nil
}
