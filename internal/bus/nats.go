// Package bus mirrors in-process events onto NATS and accepts remote run
// requests.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"dealsignal/internal/events"
	"dealsignal/internal/logger"
)

const (
	SubjectRefresh = "dealsignal.refresh"
	SubjectSignal  = "dealsignal.signal"
	SubjectRun     = "dealsignal.run"
)

// RunRequest is the payload accepted on SubjectRun.
type RunRequest struct {
	ScheduleID string `json:"scheduleId"`
}

// RunTrigger is satisfied by *scheduler.Scheduler.
type RunTrigger interface {
	RunNow(ctx context.Context, id string) error
}

// Conn is the subset of *nats.Conn the bridge needs.
type Conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

type Bridge struct {
	conn       Conn
	log        logger.Logger
	runTimeout time.Duration

	mu     sync.Mutex
	closer func()
	stops  []func()
	subs   []*nats.Subscription
}

// Connect dials url and returns a bridge that drains the connection on Close.
func Connect(url string, log logger.Logger) (*Bridge, error) {
	nc, err := nats.Connect(url, nats.Name("dealsignal"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	b := NewBridge(nc, log)
	b.closer = func() {
		_ = nc.Drain()
		nc.Close()
	}
	return b, nil
}

func NewBridge(conn Conn, log logger.Logger) *Bridge {
	if log == nil {
		log = logger.NewNop()
	}
	return &Bridge{conn: conn, log: log.With(logger.String("component", "nats")), runTimeout: 2 * time.Minute}
}

func (b *Bridge) Publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return b.conn.Publish(subject, data)
}

// Forward publishes every value seen on an in-process bus to subject.
func Forward[T any](b *Bridge, bus *events.Bus[T], subject string) {
	stop := bus.Subscribe(func(v T) {
		if err := b.Publish(subject, v); err != nil {
			b.log.Warn("nats publish failed", logger.String("subject", subject), logger.Err(err))
		}
	})
	b.mu.Lock()
	b.stops = append(b.stops, stop)
	b.mu.Unlock()
}

// HandleRunRequests subscribes to SubjectRun and triggers the named
// schedule. Malformed requests are logged and dropped.
func (b *Bridge) HandleRunRequests(trigger RunTrigger) error {
	sub, err := b.conn.Subscribe(SubjectRun, func(msg *nats.Msg) {
		b.handleRun(trigger, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", SubjectRun, err)
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return nil
}

func (b *Bridge) handleRun(trigger RunTrigger, data []byte) {
	var req RunRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ScheduleID == "" {
		b.log.Warn("ignoring malformed run request", logger.String("payload", string(data)))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.runTimeout)
	defer cancel()
	if err := trigger.RunNow(ctx, req.ScheduleID); err != nil {
		b.log.Warn("remote run failed", logger.String("schedule_id", req.ScheduleID), logger.Err(err))
		return
	}
	b.log.Info("remote run completed", logger.String("schedule_id", req.ScheduleID))
}

func (b *Bridge) Close() {
	b.mu.Lock()
	stops, subs := b.stops, b.subs
	b.stops, b.subs = nil, nil
	b.mu.Unlock()
	for _, stop := range stops {
		stop()
	}
	for _, sub := range subs {
		if sub != nil {
			_ = sub.Unsubscribe()
		}
	}
	if b.closer != nil {
		b.closer()
	}
}
