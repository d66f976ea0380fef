package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	dbconnector "dealsignal"
	"dealsignal/internal/etl"
	"dealsignal/internal/notify"
	"dealsignal/internal/scheduler"
)

const (
	KindAPI      = "api"
	KindScraper  = "scraper"
	KindDatabase = "database"
)

// Pipeline is the static definition of sources, jobs, schedules, rules and
// channels.
type Pipeline struct {
	Sources   []SourceConfig   `yaml:"sources"`
	Jobs      []JobConfig      `yaml:"jobs"`
	Schedules []ScheduleConfig `yaml:"schedules"`
	Rules     []RuleConfig     `yaml:"rules"`
	Channels  []ChannelConfig  `yaml:"channels"`
}

type SourceConfig struct {
	ID        string                        `yaml:"id" json:"id"`
	Name      string                        `yaml:"name" json:"name"`
	Kind      string                        `yaml:"kind" json:"kind"`
	BaseURL   string                        `yaml:"baseUrl" json:"baseUrl,omitempty"`
	Endpoints map[string]string             `yaml:"endpoints" json:"endpoints,omitempty"`
	Headers   map[string]string             `yaml:"headers" json:"-"`
	Auth      AuthConfig                    `yaml:"auth" json:"-"`
	RateLimit RateLimitConfig               `yaml:"rateLimit" json:"rateLimit"`
	Scraper   ScraperConfig                 `yaml:"scraper" json:"scraper,omitempty"`
	Database  *dbconnector.ConnectionConfig `yaml:"database" json:"database,omitempty"`
}

type AuthConfig struct {
	Token    string `yaml:"token"`
	TokenEnv string `yaml:"tokenEnv"`
}

// BearerToken resolves the configured token, preferring the environment.
func (a AuthConfig) BearerToken() string {
	if a.TokenEnv != "" {
		if v := os.Getenv(a.TokenEnv); v != "" {
			return v
		}
	}
	return a.Token
}

type RateLimitConfig struct {
	RequestsPerMinute int           `yaml:"requestsPerMinute" json:"requestsPerMinute,omitempty"`
	Delay             time.Duration `yaml:"delay" json:"delay,omitempty"`
}

// MinInterval is the spacing between requests implied by the hints.
func (r RateLimitConfig) MinInterval() time.Duration {
	interval := r.Delay
	if r.RequestsPerMinute > 0 {
		if perRequest := time.Minute / time.Duration(r.RequestsPerMinute); perRequest > interval {
			interval = perRequest
		}
	}
	return interval
}

type ScraperConfig struct {
	ItemSelector string            `yaml:"itemSelector" json:"itemSelector,omitempty"`
	Fields       map[string]string `yaml:"fields" json:"fields,omitempty"`
	UserAgent    string            `yaml:"userAgent" json:"userAgent,omitempty"`
}

// EndpointKeys lists the fetchable endpoint keys in sorted order. The
// "health" key is reserved for health checks.
func (s SourceConfig) EndpointKeys() []string {
	keys := make([]string, 0, len(s.Endpoints))
	for k := range s.Endpoints {
		if k != "health" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

type JobConfig struct {
	ID              string            `yaml:"id"`
	Name            string            `yaml:"name"`
	SourceID        string            `yaml:"sourceId"`
	Endpoint        string            `yaml:"endpoint"`
	Params          map[string]string `yaml:"params"`
	Transformations []map[string]any  `yaml:"transformations"`
	Destination     string            `yaml:"destination"`
}

// Build decodes the declared steps into an etl job definition.
func (j JobConfig) Build() (etl.JobConfig, error) {
	steps, err := etl.ParseTransformations(j.Transformations)
	if err != nil {
		return etl.JobConfig{}, fmt.Errorf("job %s: %w", j.ID, err)
	}
	return etl.JobConfig{
		ID:              j.ID,
		Name:            j.Name,
		SourceID:        j.SourceID,
		Endpoint:        j.Endpoint,
		Params:          j.Params,
		Transformations: steps,
		Destination:     j.Destination,
	}, nil
}

type ScheduleConfig struct {
	ID        string `yaml:"id"`
	JobType   string `yaml:"jobType"`
	JobID     string `yaml:"jobId"`
	Frequency string `yaml:"frequency"`
	Enabled   bool   `yaml:"enabled"`
}

func (s ScheduleConfig) Schedule() scheduler.ScheduleConfig {
	return scheduler.ScheduleConfig{
		ID:        s.ID,
		JobType:   scheduler.JobType(strings.ToLower(s.JobType)),
		JobID:     s.JobID,
		Frequency: scheduler.Frequency(strings.ToLower(s.Frequency)),
		Enabled:   s.Enabled,
	}
}

type RuleConfig struct {
	ID         string          `yaml:"id"`
	Name       string          `yaml:"name"`
	EventType  string          `yaml:"eventType"`
	Conditions ConditionConfig `yaml:"conditions"`
	Channels   []string        `yaml:"channels"`
	Enabled    bool            `yaml:"enabled"`
}

type ConditionConfig struct {
	MinAmount     *float64 `yaml:"minAmount"`
	Industries    []string `yaml:"industries"`
	Regions       []string `yaml:"regions"`
	WatchlistOnly bool     `yaml:"watchlistOnly"`
}

func (r RuleConfig) Rule() notify.Rule {
	channels := make([]notify.ChannelType, 0, len(r.Channels))
	for _, c := range r.Channels {
		channels = append(channels, notify.ChannelType(strings.ToLower(c)))
	}
	return notify.Rule{
		ID:        r.ID,
		Name:      r.Name,
		EventType: notify.EventType(strings.ToLower(r.EventType)),
		Conditions: notify.Conditions{
			MinAmount:     r.Conditions.MinAmount,
			Industries:    r.Conditions.Industries,
			Regions:       r.Conditions.Regions,
			WatchlistOnly: r.Conditions.WatchlistOnly,
		},
		Channels: channels,
		Enabled:  r.Enabled,
	}
}

type ChannelConfig struct {
	ID      string            `yaml:"id"`
	Type    string            `yaml:"type"`
	Config  map[string]string `yaml:"config"`
	Enabled bool              `yaml:"enabled"`
}

func (c ChannelConfig) Channel() notify.Channel {
	return notify.Channel{
		ID:      c.ID,
		Type:    notify.ChannelType(strings.ToLower(c.Type)),
		Config:  c.Config,
		Enabled: c.Enabled,
	}
}

func LoadPipeline(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline file: %w", err)
	}
	return ParsePipeline(data)
}

// ParsePipeline decodes and validates a pipeline definition.
func ParsePipeline(data []byte) (*Pipeline, error) {
	var p Pipeline
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode pipeline: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Pipeline) Source(id string) (SourceConfig, bool) {
	for _, s := range p.Sources {
		if s.ID == id {
			return s, true
		}
	}
	return SourceConfig{}, false
}

// JobConfigs builds every job; Validate has already rejected bad steps.
func (p *Pipeline) JobConfigs() ([]etl.JobConfig, error) {
	out := make([]etl.JobConfig, 0, len(p.Jobs))
	for _, j := range p.Jobs {
		built, err := j.Build()
		if err != nil {
			return nil, err
		}
		out = append(out, built)
	}
	return out, nil
}
