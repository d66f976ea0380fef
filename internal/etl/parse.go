package etl

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// ParseTransformation decodes one declared step. The "kind" key selects the
// variant; every other key must belong to that variant.
func ParseTransformation(raw map[string]any) (Transformation, error) {
	kindValue, ok := raw["kind"]
	if !ok {
		return nil, errors.New("transformation kind is required")
	}
	kind, ok := kindValue.(string)
	if !ok || strings.TrimSpace(kind) == "" {
		return nil, errors.New("transformation kind must be a non-empty string")
	}
	params := make(map[string]any, len(raw))
	for k, v := range raw {
		if k != "kind" {
			params[k] = v
		}
	}

	var (
		t   Transformation
		err error
	)
	switch strings.ToLower(kind) {
	case KindFilter:
		var f Filter
		err = decodeParams(params, &f)
		t = f
	case KindMap:
		var m Map
		if err = decodeParams(params, &m); err == nil && len(m.Fields) == 0 {
			err = errors.New("map requires at least one field")
		}
		t = m
	case KindNormalize:
		var n Normalize
		if err = decodeParams(params, &n); err == nil && len(n.DateFields)+len(n.MonetaryFields) == 0 {
			err = errors.New("normalize requires dateFields or monetaryFields")
		}
		t = n
	case KindDeduplicate:
		var d Deduplicate
		if err = decodeParams(params, &d); err == nil && d.Key == "" {
			err = errors.New("deduplicate requires key")
		}
		t = d
	case KindEnrich:
		var e Enrich
		if err = decodeParams(params, &e); err == nil && len(e.Categories) > 0 && e.ClassifyField == "" {
			err = errors.New("enrich categories require classifyField")
		}
		t = e
	case KindMerge:
		var m Merge
		err = decodeParams(params, &m)
		t = m
	default:
		return nil, fmt.Errorf("unknown transformation kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", strings.ToLower(kind), err)
	}
	return t, nil
}

// ParseTransformations decodes steps in order, reporting the first bad index.
func ParseTransformations(raw []map[string]any) ([]Transformation, error) {
	steps := make([]Transformation, 0, len(raw))
	for i, r := range raw {
		t, err := ParseTransformation(r)
		if err != nil {
			return nil, fmt.Errorf("transformations[%d]: %w", i, err)
		}
		steps = append(steps, t)
	}
	return steps, nil
}

func decodeParams(params map[string]any, target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           target,
	})
	if err != nil {
		return err
	}
	return dec.Decode(params)
}
