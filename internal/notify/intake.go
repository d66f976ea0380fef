package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"dealsignal/internal/events"
)

func signalCategory(signalType string) (EventType, bool) {
	t := strings.ToLower(strings.TrimSpace(signalType))
	switch {
	case t == string(EventFunding), t == "seed", strings.HasPrefix(t, "series_"):
		return EventFunding, true
	case t == string(EventAcquisition):
		return EventAcquisition, true
	}
	return "", false
}

// HandleSignal turns funding and acquisition signals into notifications.
// Other signal types are ignored.
func (e *Engine) HandleSignal(ctx context.Context, sig events.Signal) (Notification, bool) {
	category, ok := signalCategory(sig.Type)
	if !ok {
		return Notification{}, false
	}
	name := sig.EntityName
	if name == "" {
		name = sig.EntityID
	}
	in := Input{
		RelatedTo: &RelatedTo{Type: string(category), ID: sig.EntityID},
		Industry:  sig.Industry,
		Region:    sig.Region,
	}
	if sig.Amount > 0 {
		amount := sig.Amount
		in.Amount = &amount
	}
	switch category {
	case EventFunding:
		in.Type = TypeSuccess
		in.Title = fmt.Sprintf("%s raised funding", name)
		in.Message = fmt.Sprintf("%s closed a %s round", name, roundLabel(sig.Type))
	case EventAcquisition:
		in.Type = TypeInfo
		in.Title = fmt.Sprintf("%s acquisition", name)
		in.Message = fmt.Sprintf("%s was involved in an acquisition", name)
	}
	if in.Amount != nil {
		in.Message += " worth " + FormatAmount(*in.Amount)
	}
	in.Message += "."
	return e.Add(ctx, in), true
}

func roundLabel(signalType string) string {
	t := strings.ToLower(strings.TrimSpace(signalType))
	if t == string(EventFunding) {
		return "funding"
	}
	words := strings.Fields(strings.ReplaceAll(t, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// FormatAmount renders 20000000 as "$20M".
func FormatAmount(v float64) string {
	d := decimal.NewFromFloat(v)
	units := []struct {
		suffix string
		scale  int64
	}{{"", 1}, {"K", 1_000}, {"M", 1_000_000}, {"B", 1_000_000_000}}
	i := 0
	for i+1 < len(units) && d.Abs().GreaterThanOrEqual(decimal.NewFromInt(units[i+1].scale)) {
		i++
	}
	places := int32(1)
	if i == 0 {
		places = 2
	}
	r := d.Div(decimal.NewFromInt(units[i].scale)).Round(places)
	// rounding may carry into the next unit, e.g. 999,950 -> 1000.0K
	if i+1 < len(units) && r.Abs().GreaterThanOrEqual(decimal.NewFromInt(1000)) {
		i++
		r = d.Div(decimal.NewFromInt(units[i].scale)).Round(1)
	}
	return "$" + r.String() + units[i].suffix
}
