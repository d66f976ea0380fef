// Package etl applies ordered transformations to fetched records and loads
// the result into a sink.
package etl

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Record = map[string]any

const (
	KindFilter      = "filter"
	KindMap         = "map"
	KindNormalize   = "normalize"
	KindDeduplicate = "deduplicate"
	KindEnrich      = "enrich"
	KindMerge       = "merge"
)

// Env carries per-run context that some transformations read.
type Env struct {
	JobID    string
	SourceID string
	Now      time.Time
}

// Transformation is one step of a job. Apply must not mutate its input.
type Transformation interface {
	Kind() string
	Apply(records []Record, env Env) ([]Record, error)
}

type Filter struct {
	Field string `mapstructure:"field" json:"field"`
	Value any    `mapstructure:"value" json:"value"`
}

func (Filter) Kind() string { return KindFilter }

func (f Filter) Apply(records []Record, _ Env) ([]Record, error) {
	if f.Field == "" || f.Value == nil {
		return copyRecords(records), nil
	}
	want := stringValue(f.Value)
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		v, ok := rec[f.Field]
		if !ok || v == nil {
			continue
		}
		if stringValue(v) == want {
			out = append(out, copyRecord(rec))
		}
	}
	return out, nil
}

// Map rewrites records to contain only the mapped target fields.
type Map struct {
	Fields map[string]string `mapstructure:"fields" json:"fields"`
}

func (Map) Kind() string { return KindMap }

func (m Map) Apply(records []Record, _ Env) ([]Record, error) {
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		mapped := make(Record, len(m.Fields))
		for target, source := range m.Fields {
			if v, ok := rec[source]; ok {
				mapped[target] = v
			}
		}
		out = append(out, mapped)
	}
	return out, nil
}

type Normalize struct {
	DateFields     []string `mapstructure:"dateFields" json:"dateFields,omitempty"`
	MonetaryFields []string `mapstructure:"monetaryFields" json:"monetaryFields,omitempty"`
}

func (Normalize) Kind() string { return KindNormalize }

func (n Normalize) Apply(records []Record, _ Env) ([]Record, error) {
	out := make([]Record, 0, len(records))
	for i, rec := range records {
		normalized := copyRecord(rec)
		for _, field := range n.DateFields {
			v, ok := normalized[field]
			if !ok || v == nil {
				continue
			}
			ts, err := ParseDate(v)
			if err != nil {
				return nil, fmt.Errorf("record %d field %q: %w", i, field, err)
			}
			normalized[field] = ts.UTC().Format(time.RFC3339)
		}
		for _, field := range n.MonetaryFields {
			v, ok := normalized[field]
			if !ok || v == nil {
				continue
			}
			amount, err := ParseAmount(v)
			if err != nil {
				return nil, fmt.Errorf("record %d field %q: %w", i, field, err)
			}
			normalized[field] = amount
		}
		out = append(out, normalized)
	}
	return out, nil
}

// Deduplicate keeps the first record for each key value. Records without
// the key are kept.
type Deduplicate struct {
	Key string `mapstructure:"key" json:"key"`
}

func (Deduplicate) Kind() string { return KindDeduplicate }

func (d Deduplicate) Apply(records []Record, _ Env) ([]Record, error) {
	seen := make(map[string]struct{}, len(records))
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		v, ok := rec[d.Key]
		if !ok || v == nil {
			out = append(out, copyRecord(rec))
			continue
		}
		key := stringValue(v)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, copyRecord(rec))
	}
	return out, nil
}

const (
	FieldProvenance = "_provenance"
	FieldCategory   = "category"
	FieldEnrichedAt = "_enrichedAt"

	categoryOther = "other"
)

type Enrich struct {
	Provenance    string              `mapstructure:"provenance" json:"provenance,omitempty"`
	ClassifyField string              `mapstructure:"classifyField" json:"classifyField,omitempty"`
	Categories    map[string][]string `mapstructure:"categories" json:"categories,omitempty"`
	StampTime     bool                `mapstructure:"stampTime" json:"stampTime,omitempty"`
}

func (Enrich) Kind() string { return KindEnrich }

func (e Enrich) Apply(records []Record, env Env) ([]Record, error) {
	provenance := e.Provenance
	if provenance == "" {
		provenance = env.SourceID
	}
	labels := make([]string, 0, len(e.Categories))
	for label := range e.Categories {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		enriched := copyRecord(rec)
		if provenance != "" {
			enriched[FieldProvenance] = provenance
		}
		if e.ClassifyField != "" {
			enriched[FieldCategory] = e.classify(enriched[e.ClassifyField], labels)
		}
		if e.StampTime {
			enriched[FieldEnrichedAt] = env.Now.UTC().Format(time.RFC3339)
		}
		out = append(out, enriched)
	}
	return out, nil
}

func (e Enrich) classify(v any, labels []string) string {
	if v == nil {
		return categoryOther
	}
	text := strings.ToLower(stringValue(v))
	for _, label := range labels {
		for _, keyword := range e.Categories[label] {
			if keyword != "" && strings.Contains(text, strings.ToLower(keyword)) {
				return label
			}
		}
	}
	return categoryOther
}

// Merge is a pass-through unless Key is set, in which case records sharing
// the key collapse into the first occurrence.
type Merge struct {
	Key string `mapstructure:"key" json:"key,omitempty"`
}

func (Merge) Kind() string { return KindMerge }

func (m Merge) Apply(records []Record, _ Env) ([]Record, error) {
	if m.Key == "" {
		return copyRecords(records), nil
	}
	index := make(map[string]int, len(records))
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		v, ok := rec[m.Key]
		if !ok || v == nil {
			out = append(out, copyRecord(rec))
			continue
		}
		key := stringValue(v)
		pos, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, copyRecord(rec))
			continue
		}
		for field, value := range rec {
			if isEmpty(value) {
				continue
			}
			out[pos][field] = value
		}
	}
	return out, nil
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	default:
		return fmt.Sprint(t)
	}
}

func copyRecord(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

func copyRecords(records []Record) []Record {
	out := make([]Record, len(records))
	for i, rec := range records {
		out[i] = copyRecord(rec)
	}
	return out
}
