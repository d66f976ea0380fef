// Package notify keeps the notification inbox, evaluates user rules against
// new notifications and delivers them to the configured channels.
package notify

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Type string

const (
	TypeInfo    Type = "info"
	TypeSuccess Type = "success"
	TypeWarning Type = "warning"
)

func (t Type) Valid() bool {
	switch t {
	case TypeInfo, TypeSuccess, TypeWarning:
		return true
	}
	return false
}

type EventType string

const (
	EventFunding     EventType = "funding"
	EventAcquisition EventType = "acquisition"
	EventAny         EventType = "any"
	eventOther       EventType = "other"
)

type ChannelType string

const (
	ChannelInApp  ChannelType = "in-app"
	ChannelEmail  ChannelType = "email"
	ChannelMobile ChannelType = "mobile"
)

func (c ChannelType) Valid() bool {
	switch c {
	case ChannelInApp, ChannelEmail, ChannelMobile:
		return true
	}
	return false
}

func (e EventType) Valid() bool {
	switch e {
	case EventFunding, EventAcquisition, EventAny:
		return true
	}
	return false
}

type RelatedTo struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type Notification struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Type      Type       `json:"type"`
	CreatedAt time.Time  `json:"createdAt"`
	Read      bool       `json:"read"`
	RelatedTo *RelatedTo `json:"relatedTo,omitempty"`
	Amount    *float64   `json:"amount,omitempty"`
	Industry  string     `json:"industry,omitempty"`
	Region    string     `json:"region,omitempty"`
}

// Input is what callers supply to Engine.Add; the engine fills in the rest.
type Input struct {
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Type      Type       `json:"type"`
	RelatedTo *RelatedTo `json:"relatedTo,omitempty"`
	Amount    *float64   `json:"amount,omitempty"`
	Industry  string     `json:"industry,omitempty"`
	Region    string     `json:"region,omitempty"`
}

type Conditions struct {
	MinAmount     *float64 `json:"minAmount,omitempty"`
	Industries    []string `json:"industries,omitempty"`
	Regions       []string `json:"regions,omitempty"`
	WatchlistOnly bool     `json:"watchlistOnly,omitempty"`
}

type Rule struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	EventType  EventType     `json:"eventType"`
	Conditions Conditions    `json:"conditions"`
	Channels   []ChannelType `json:"channels"`
	Enabled    bool          `json:"enabled"`
}

type Channel struct {
	ID      string            `json:"id"`
	Type    ChannelType       `json:"type"`
	Config  map[string]string `json:"config,omitempty"`
	Enabled bool              `json:"enabled"`
}

// ValidationError lists every problem found in a rule or channel.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func (r Rule) Validate() error {
	var problems []string
	if !r.EventType.Valid() {
		problems = append(problems, fmt.Sprintf("eventType %q is invalid", r.EventType))
	}
	if r.Conditions.MinAmount != nil && *r.Conditions.MinAmount < 0 {
		problems = append(problems, "conditions.minAmount must not be negative")
	}
	if len(r.Channels) == 0 {
		problems = append(problems, "at least one channel is required")
	}
	for i, ch := range r.Channels {
		if !ch.Valid() {
			problems = append(problems, fmt.Sprintf("channels[%d] %q is invalid", i, ch))
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func (c Channel) Validate() error {
	var problems []string
	if !c.Type.Valid() {
		problems = append(problems, fmt.Sprintf("type %q is invalid", c.Type))
	}
	if c.Type == ChannelEmail && c.Enabled && strings.TrimSpace(c.Config["to"]) == "" {
		problems = append(problems, "email channel requires config.to")
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Watchlist reports whether an entity is being tracked by the user.
type Watchlist interface {
	Contains(entityID string) bool
}

type StaticWatchlist map[string]struct{}

func NewStaticWatchlist(ids ...string) StaticWatchlist {
	w := make(StaticWatchlist, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			w[id] = struct{}{}
		}
	}
	return w
}

func (w StaticWatchlist) Contains(entityID string) bool {
	_, ok := w[entityID]
	return ok
}
