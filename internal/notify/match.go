package notify

import (
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// InferCategory derives the event category of a notification. The related
// entity type wins; otherwise the text is searched for keywords.
func InferCategory(n Notification) EventType {
	if n.RelatedTo != nil {
		switch EventType(strings.ToLower(n.RelatedTo.Type)) {
		case EventFunding:
			return EventFunding
		case EventAcquisition:
			return EventAcquisition
		}
	}
	text := strings.ToLower(n.Title + " " + n.Message)
	switch {
	case strings.Contains(text, "funding"), strings.Contains(text, "raised"):
		return EventFunding
	case strings.Contains(text, "acqui"):
		return EventAcquisition
	}
	return eventOther
}

var amountPattern = regexp.MustCompile(`(?i)\$\s*([0-9][0-9,]*(?:\.[0-9]+)?)\s*([kmb])?`)

var amountScale = map[string]int64{"k": 1_000, "m": 1_000_000, "b": 1_000_000_000}

// NotificationAmount returns the explicit amount or the first "$20M"-style
// figure in the title or message.
func NotificationAmount(n Notification) (float64, bool) {
	if n.Amount != nil {
		return *n.Amount, true
	}
	for _, text := range []string{n.Title, n.Message} {
		m := amountPattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		d, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", ""))
		if err != nil {
			continue
		}
		if scale, ok := amountScale[strings.ToLower(m[2])]; ok {
			d = d.Mul(decimal.NewFromInt(scale))
		}
		return d.InexactFloat64(), true
	}
	return 0, false
}

// MatchRules returns the enabled rules that apply to n, in input order.
func MatchRules(n Notification, rules []Rule, watchlist Watchlist) []Rule {
	category := InferCategory(n)
	amount, hasAmount := NotificationAmount(n)
	var matched []Rule
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		if r.EventType != EventAny && r.EventType != category {
			continue
		}
		c := r.Conditions
		if c.MinAmount != nil && (!hasAmount || amount < *c.MinAmount) {
			continue
		}
		if len(c.Industries) > 0 && !containsFold(c.Industries, n.Industry) {
			continue
		}
		if len(c.Regions) > 0 && !containsFold(c.Regions, n.Region) {
			continue
		}
		if c.WatchlistOnly && !onWatchlist(n, watchlist) {
			continue
		}
		matched = append(matched, r)
	}
	return matched
}

func onWatchlist(n Notification, watchlist Watchlist) bool {
	if watchlist == nil || n.RelatedTo == nil || n.RelatedTo.ID == "" {
		return false
	}
	return watchlist.Contains(n.RelatedTo.ID)
}

func containsFold(list []string, v string) bool {
	if v == "" {
		return false
	}
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), strings.TrimSpace(v)) {
			return true
		}
	}
	return false
}

// SelectChannels picks, for each channel type named by the matched rules in
// first-seen order, the first enabled channel of that type by id.
func SelectChannels(matched []Rule, channels []Channel) []Channel {
	sorted := make([]Channel, len(channels))
	copy(sorted, channels)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	seen := map[ChannelType]bool{}
	var out []Channel
	for _, r := range matched {
		for _, t := range r.Channels {
			if seen[t] {
				continue
			}
			seen[t] = true
			for _, ch := range sorted {
				if ch.Type == t && ch.Enabled {
					out = append(out, ch)
					break
				}
			}
		}
	}
	return out
}
