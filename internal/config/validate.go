package config

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"

	dbconnector "dealsignal"
	"dealsignal/internal/etl"
	"dealsignal/internal/scheduler"
)

// FieldError names the offending field the way the pipeline file spells it.
type FieldError struct {
	Field   string
	Problem string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Problem)
}

func fieldErr(field, format string, args ...any) error {
	return &FieldError{Field: field, Problem: fmt.Sprintf(format, args...)}
}

// Validate reports every problem in the pipeline at once.
func (p *Pipeline) Validate() error {
	var result *multierror.Error

	sourceKinds := map[string]string{}
	for i, s := range p.Sources {
		field := fmt.Sprintf("sources[%d]", i)
		if strings.TrimSpace(s.ID) == "" {
			result = multierror.Append(result, fieldErr(field+".id", "is required"))
		} else if _, dup := sourceKinds[s.ID]; dup {
			result = multierror.Append(result, fieldErr(field+".id", "duplicate id %q", s.ID))
		}
		kind := strings.ToLower(s.Kind)
		sourceKinds[s.ID] = kind
		switch kind {
		case KindAPI:
			if s.BaseURL == "" {
				result = multierror.Append(result, fieldErr(field+".baseUrl", "is required for api sources"))
			}
		case KindScraper:
			if s.BaseURL == "" {
				result = multierror.Append(result, fieldErr(field+".baseUrl", "is required for scraper sources"))
			}
			if len(s.Scraper.Fields) == 0 {
				result = multierror.Append(result, fieldErr(field+".scraper.fields", "at least one field is required"))
			}
		case KindDatabase:
			if s.Database == nil {
				result = multierror.Append(result, fieldErr(field+".database", "is required for database sources"))
			} else if !dbconnector.SupportedType(s.Database.Type) {
				result = multierror.Append(result, fieldErr(field+".database.type", "unsupported type %q", s.Database.Type))
			}
		default:
			result = multierror.Append(result, fieldErr(field+".kind", "unknown kind %q", s.Kind))
		}
		if len(s.EndpointKeys()) == 0 {
			result = multierror.Append(result, fieldErr(field+".endpoints", "at least one endpoint is required"))
		}
	}

	jobs := map[string]bool{}
	for i, j := range p.Jobs {
		field := fmt.Sprintf("jobs[%d]", i)
		if strings.TrimSpace(j.ID) == "" {
			result = multierror.Append(result, fieldErr(field+".id", "is required"))
		} else if jobs[j.ID] {
			result = multierror.Append(result, fieldErr(field+".id", "duplicate id %q", j.ID))
		}
		jobs[j.ID] = true
		src, ok := p.Source(j.SourceID)
		if !ok {
			result = multierror.Append(result, fieldErr(field+".sourceId", "unknown source %q", j.SourceID))
		} else if j.Endpoint != "" {
			if _, ok := src.Endpoints[j.Endpoint]; !ok {
				result = multierror.Append(result, fieldErr(field+".endpoint", "source %q has no endpoint %q", j.SourceID, j.Endpoint))
			}
		}
		if _, err := etl.ParseTransformations(j.Transformations); err != nil {
			result = multierror.Append(result, fieldErr(field, "%v", err))
		}
		if !etl.ValidDestination(j.Destination) {
			result = multierror.Append(result, fieldErr(field+".destination", "unknown destination %q", j.Destination))
		}
	}

	schedules := map[string]bool{}
	for i, s := range p.Schedules {
		field := fmt.Sprintf("schedules[%d]", i)
		cfg := s.Schedule()
		if err := cfg.Validate(); err != nil {
			result = multierror.Append(result, fieldErr(field, "%v", err))
			continue
		}
		if schedules[s.ID] {
			result = multierror.Append(result, fieldErr(field+".id", "duplicate id %q", s.ID))
		}
		schedules[s.ID] = true
		if cfg.JobID == "" {
			continue
		}
		switch cfg.JobType {
		case scheduler.JobTypeETL:
			if !jobs[cfg.JobID] {
				result = multierror.Append(result, fieldErr(field+".jobId", "unknown etl job %q", cfg.JobID))
			}
		case scheduler.JobTypeAPI, scheduler.JobTypeScraper, scheduler.JobTypeDatabase:
			kind, ok := sourceKinds[cfg.JobID]
			if !ok {
				result = multierror.Append(result, fieldErr(field+".jobId", "unknown source %q", cfg.JobID))
			} else if kind != string(cfg.JobType) {
				result = multierror.Append(result, fieldErr(field+".jobId", "source %q is %s, not %s", cfg.JobID, kind, cfg.JobType))
			}
		}
	}

	channelIDs := map[string]bool{}
	for i, c := range p.Channels {
		field := fmt.Sprintf("channels[%d]", i)
		if c.ID == "" {
			result = multierror.Append(result, fieldErr(field+".id", "is required"))
		} else if channelIDs[c.ID] {
			result = multierror.Append(result, fieldErr(field+".id", "duplicate id %q", c.ID))
		}
		channelIDs[c.ID] = true
		if err := c.Channel().Validate(); err != nil {
			result = multierror.Append(result, fieldErr(field, "%v", err))
		}
	}

	ruleIDs := map[string]bool{}
	for i, r := range p.Rules {
		field := fmt.Sprintf("rules[%d]", i)
		if r.ID != "" && ruleIDs[r.ID] {
			result = multierror.Append(result, fieldErr(field+".id", "duplicate id %q", r.ID))
		}
		ruleIDs[r.ID] = true
		if err := r.Rule().Validate(); err != nil {
			result = multierror.Append(result, fieldErr(field, "%v", err))
		}
	}

	return result.ErrorOrNil()
}
