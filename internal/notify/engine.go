package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"dealsignal/internal/logger"
)

// Deliverer sends one notification through one channel.
type Deliverer interface {
	Deliver(ctx context.Context, ch Channel, n Notification) error
}

type DeliveryMetrics interface {
	ObserveDelivery(channel string, err error)
}

type nopMetrics struct{}

func (nopMetrics) ObserveDelivery(string, error) {}

// Delivery records one attempt to send a notification through a channel.
type Delivery struct {
	NotificationID string      `json:"notificationId"`
	ChannelID      string      `json:"channelId"`
	ChannelType    ChannelType `json:"channelType"`
	At             time.Time   `json:"at"`
	Error          string      `json:"error,omitempty"`
}

const maxDeliveryLog = 200

type EngineOptions struct {
	Log       logger.Logger
	Metrics   DeliveryMetrics
	Watchlist Watchlist
}

type Engine struct {
	log       logger.Logger
	metrics   DeliveryMetrics
	watchlist Watchlist
	now       func() time.Time
	newID     func() string

	fanMu      sync.Mutex
	mu         sync.Mutex
	inbox      []Notification
	rules      map[string]Rule
	channels   map[string]Channel
	deliverers map[ChannelType]Deliverer
	delivered  map[string]map[string]struct{}
	deliveries []Delivery
	listeners  map[int]func([]Notification)
	listenerID int
}

func NewEngine(opts EngineOptions) *Engine {
	if opts.Log == nil {
		opts.Log = logger.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	return &Engine{
		log:        opts.Log.With(logger.String("component", "notify")),
		metrics:    opts.Metrics,
		watchlist:  opts.Watchlist,
		now:        time.Now,
		newID:      func() string { return uuid.NewString() },
		rules:      map[string]Rule{},
		channels:   map[string]Channel{},
		deliverers: map[ChannelType]Deliverer{},
		delivered:  map[string]map[string]struct{}{},
		listeners:  map[int]func([]Notification){},
	}
}

func (e *Engine) RegisterDeliverer(t ChannelType, d Deliverer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deliverers[t] = d
}

// Add stores a new unread notification at the front of the inbox, notifies
// subscribers and delivers it to every channel selected by the rules.
func (e *Engine) Add(ctx context.Context, in Input) Notification {
	n := Notification{
		ID:        e.newID(),
		Title:     in.Title,
		Message:   in.Message,
		Type:      in.Type,
		CreatedAt: e.now().UTC(),
		RelatedTo: in.RelatedTo,
		Amount:    in.Amount,
		Industry:  in.Industry,
		Region:    in.Region,
	}
	if n.Type == "" {
		n.Type = TypeInfo
	}
	e.mutate(func() bool {
		e.inbox = append([]Notification{n}, e.inbox...)
		return true
	})

	e.deliver(ctx, n)
	return n
}

func (e *Engine) Notifications() []Notification {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) Unread() []Notification {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := []Notification{}
	for _, n := range e.inbox {
		if !n.Read {
			out = append(out, n)
		}
	}
	return out
}

// MarkAsRead reports whether id is in the inbox. Marking an already read
// notification still notifies subscribers.
func (e *Engine) MarkAsRead(id string) bool {
	return e.mutate(func() bool {
		for i := range e.inbox {
			if e.inbox[i].ID == id {
				e.inbox[i].Read = true
				return true
			}
		}
		return false
	})
}

func (e *Engine) MarkAllAsRead() {
	e.mutate(func() bool {
		for i := range e.inbox {
			e.inbox[i].Read = true
		}
		return true
	})
}

func (e *Engine) Delete(id string) bool {
	return e.mutate(func() bool {
		for i := range e.inbox {
			if e.inbox[i].ID == id {
				e.inbox = append(e.inbox[:i:i], e.inbox[i+1:]...)
				delete(e.delivered, id)
				return true
			}
		}
		return false
	})
}

func (e *Engine) ClearAll() {
	e.mutate(func() bool {
		e.inbox = nil
		e.delivered = map[string]map[string]struct{}{}
		return true
	})
}

// Subscribe registers a listener that receives the full inbox, newest first,
// after every mutation.
func (e *Engine) Subscribe(fn func([]Notification)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listenerID++
	id := e.listenerID
	e.listeners[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.listeners, id)
	}
}

func (e *Engine) SaveRule(r Rule) (Rule, error) {
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	if r.ID == "" {
		r.ID = e.newID()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[r.ID] = r
	return r, nil
}

func (e *Engine) DeleteRule(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rules[id]; !ok {
		return false
	}
	delete(e.rules, id)
	return true
}

func (e *Engine) Rules() []Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rulesLocked()
}

func (e *Engine) Rule(id string) (Rule, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rules[id]
	return r, ok
}

func (e *Engine) SaveChannel(c Channel) (Channel, error) {
	if err := c.Validate(); err != nil {
		return Channel{}, err
	}
	if c.ID == "" {
		c.ID = e.newID()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.channels[c.ID] = c
	return c, nil
}

func (e *Engine) DeleteChannel(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.channels[id]; !ok {
		return false
	}
	delete(e.channels, id)
	return true
}

func (e *Engine) Channels() []Channel {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.channelsLocked()
}

func (e *Engine) Channel(id string) (Channel, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.channels[id]
	return c, ok
}

// Deliveries returns the most recent delivery attempts, newest first.
func (e *Engine) Deliveries() []Delivery {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Delivery, len(e.deliveries))
	for i, d := range e.deliveries {
		out[len(e.deliveries)-1-i] = d
	}
	return out
}

func (e *Engine) deliver(ctx context.Context, n Notification) {
	e.mu.Lock()
	rules := e.rulesLocked()
	channels := e.channelsLocked()
	e.mu.Unlock()

	matched := MatchRules(n, rules, e.watchlist)
	if len(matched) == 0 {
		return
	}
	for _, ch := range SelectChannels(matched, channels) {
		e.mu.Lock()
		if !e.markDeliveredLocked(n.ID, ch.ID) {
			e.mu.Unlock()
			continue
		}
		d := e.deliverers[ch.Type]
		e.mu.Unlock()

		var err error
		if d == nil {
			err = errNoDeliverer(ch.Type)
		} else {
			err = safeDeliver(ctx, d, ch, n)
		}
		e.recordDelivery(Delivery{NotificationID: n.ID, ChannelID: ch.ID, ChannelType: ch.Type, At: e.now().UTC()}, err)
	}
}

func (e *Engine) recordDelivery(d Delivery, err error) {
	e.metrics.ObserveDelivery(string(d.ChannelType), err)
	fields := []logger.Field{
		logger.String("notification_id", d.NotificationID),
		logger.String("channel_id", d.ChannelID),
		logger.String("channel_type", string(d.ChannelType)),
	}
	if err != nil {
		d.Error = err.Error()
		e.log.Warn("notification delivery failed", append(fields, logger.Err(err))...)
	} else {
		e.log.Debug("notification delivered", fields...)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deliveries = append(e.deliveries, d)
	if len(e.deliveries) > maxDeliveryLog {
		e.deliveries = e.deliveries[len(e.deliveries)-maxDeliveryLog:]
	}
}

// markDeliveredLocked claims the (notification, channel) pair and reports
// whether it was still unclaimed. Notifications removed from the inbox are
// not delivered.
func (e *Engine) markDeliveredLocked(notificationID, channelID string) bool {
	if !e.inInboxLocked(notificationID) {
		return false
	}
	sent, ok := e.delivered[notificationID]
	if !ok {
		sent = map[string]struct{}{}
		e.delivered[notificationID] = sent
	}
	if _, done := sent[channelID]; done {
		return false
	}
	sent[channelID] = struct{}{}
	return true
}

// mutate applies fn under the inbox lock and, when fn reports a change, hands
// the resulting inbox to every subscriber. fanMu is held until the callbacks
// return so subscribers observe mutations in the order they were applied.
// Subscribers must not mutate the engine from their callback.
func (e *Engine) mutate(fn func() bool) bool {
	e.fanMu.Lock()
	defer e.fanMu.Unlock()

	e.mu.Lock()
	changed := fn()
	if !changed {
		e.mu.Unlock()
		return false
	}
	snapshot := e.snapshotLocked()
	listeners := e.listenersLocked()
	e.mu.Unlock()

	for _, fn := range listeners {
		cp := make([]Notification, len(snapshot))
		copy(cp, snapshot)
		fn(cp)
	}
	return true
}

func (e *Engine) inInboxLocked(id string) bool {
	for _, n := range e.inbox {
		if n.ID == id {
			return true
		}
	}
	return false
}

func (e *Engine) listenersLocked() []func([]Notification) {
	ids := make([]int, 0, len(e.listeners))
	for id := range e.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func([]Notification), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, e.listeners[id])
	}
	return fns
}

func (e *Engine) snapshotLocked() []Notification {
	out := make([]Notification, len(e.inbox))
	copy(out, e.inbox)
	return out
}

func (e *Engine) rulesLocked() []Rule {
	out := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *Engine) channelsLocked() []Channel {
	out := make([]Channel, 0, len(e.channels))
	for _, c := range e.channels {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
