package source

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"dealsignal/internal/config"
	"dealsignal/internal/logger"
)

const defaultUserAgent = "dealsignal-scraper/1.0"

// Scraper extracts records from HTML pages. Each element matching the item
// selector becomes one record.
type Scraper struct {
	*healthTracker
	cfg       config.SourceConfig
	transport http.RoundTripper
}

func NewScraper(cfg config.SourceConfig, transport http.RoundTripper, limits Limits, log logger.Logger) *Scraper {
	return &Scraper{
		healthTracker: newHealthTracker(cfg.ID, KindScraper, limits, log),
		cfg:           cfg,
		transport:     transport,
	}
}

func (s *Scraper) CheckHealth(ctx context.Context) ConnectionStatus {
	return s.checkHealth(ctx, s.ping)
}

func (s *Scraper) Fetch(ctx context.Context, endpointKey string, params map[string]string) ([]Record, error) {
	path, ok := s.cfg.Endpoints[endpointKey]
	if !ok {
		return nil, &FetchError{SourceID: s.id, Endpoint: endpointKey, Err: ErrUnknownEndpoint}
	}
	return s.fetch(ctx, endpointKey, s.ping, func(ctx context.Context) ([]Record, error) {
		target, err := resolveURL(s.cfg.BaseURL, path, params)
		if err != nil {
			return nil, err
		}
		c, err := s.collector(ctx, true)
		if err != nil {
			return nil, err
		}
		records := []Record{}
		c.OnHTML(s.cfg.Scraper.ItemSelector, func(e *colly.HTMLElement) {
			rec := extractItem(e.DOM, s.cfg.Scraper.Fields)
			rec["_url"] = e.Request.URL.String()
			records = append(records, rec)
		})
		if err := c.Visit(target); err != nil {
			return nil, fmt.Errorf("visit %s: %w", target, err)
		}
		c.Wait()
		return records, nil
	})
}

func (s *Scraper) ping(ctx context.Context) (*int, error) {
	c, err := s.collector(ctx, false)
	if err != nil {
		return nil, err
	}
	status := 0
	c.OnError(func(r *colly.Response, _ error) {
		if r != nil {
			status = r.StatusCode
		}
	})
	err = c.Head(s.cfg.BaseURL)
	if err == nil {
		return nil, nil
	}
	if status != http.StatusMethodNotAllowed && status != http.StatusNotImplemented {
		return nil, fmt.Errorf("head %s: %w", s.cfg.BaseURL, err)
	}

	// Some sites only answer GET.
	c, err = s.collector(ctx, false)
	if err != nil {
		return nil, err
	}
	if err := c.Visit(s.cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("get %s: %w", s.cfg.BaseURL, err)
	}
	return nil, nil
}

// collector builds a fresh collector per request so visited-URL tracking
// never suppresses a repeat fetch.
func (s *Scraper) collector(ctx context.Context, limited bool) (*colly.Collector, error) {
	ua := s.cfg.Scraper.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	c := colly.NewCollector(
		colly.UserAgent(ua),
		colly.IgnoreRobotsTxt(),
		colly.StdlibContext(ctx),
	)
	c.SetRequestTimeout(s.limits.FetchTimeout)
	if s.transport != nil {
		c.WithTransport(s.transport)
	}
	for k, v := range s.cfg.Headers {
		c.OnRequest(func(r *colly.Request) { r.Headers.Set(k, v) })
	}
	if limited {
		if err := c.Limit(&colly.LimitRule{
			DomainGlob:  "*",
			Delay:       s.cfg.RateLimit.MinInterval(),
			Parallelism: 1,
		}); err != nil {
			return nil, fmt.Errorf("failed to set rate limit: %w", err)
		}
	}
	return c, nil
}

// extractItem applies field selectors of the form "css" or "css@attr". An
// empty css part addresses the item element itself.
func extractItem(item *goquery.Selection, fields map[string]string) Record {
	rec := make(Record, len(fields))
	for field, spec := range fields {
		sel, attr := splitSelector(spec)
		target := item
		if sel != "" {
			target = item.Find(sel).First()
		}
		if target.Length() == 0 {
			continue
		}
		if attr != "" {
			if v, ok := target.Attr(attr); ok {
				rec[field] = strings.TrimSpace(v)
			}
			continue
		}
		rec[field] = strings.Join(strings.Fields(target.Text()), " ")
	}
	return rec
}

func splitSelector(spec string) (string, string) {
	idx := strings.LastIndex(spec, "@")
	if idx < 0 {
		return strings.TrimSpace(spec), ""
	}
	return strings.TrimSpace(spec[:idx]), strings.TrimSpace(spec[idx+1:])
}
