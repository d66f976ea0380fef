package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealsignal/internal/events"
	"dealsignal/internal/logger"
)

type recordingDeliverer struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recordingDeliverer) Deliver(_ context.Context, ch Channel, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, ch.ID+":"+n.ID)
	return r.err
}

func (r *recordingDeliverer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newTestEngine() *Engine {
	return NewEngine(EngineOptions{Log: logger.NewNop()})
}

func TestSubscriberSeesEveryMutationOnce(t *testing.T) {
	e := newTestEngine()
	var snapshots [][]Notification
	e.Subscribe(func(inbox []Notification) { snapshots = append(snapshots, inbox) })

	ctx := context.Background()
	first := e.Add(ctx, Input{Title: "first"})
	second := e.Add(ctx, Input{Title: "second"})
	require.Len(t, snapshots, 2)
	require.Len(t, snapshots[1], 2)
	assert.Equal(t, second.ID, snapshots[1][0].ID, "newest first")
	assert.Equal(t, first.ID, snapshots[1][1].ID)

	assert.True(t, e.MarkAsRead(first.ID))
	require.Len(t, snapshots, 3)
	assert.True(t, snapshots[2][1].Read)

	assert.False(t, e.MarkAsRead("missing"))
	assert.False(t, e.Delete("missing"))
	assert.Len(t, snapshots, 3)

	assert.True(t, e.Delete(second.ID))
	require.Len(t, snapshots, 4)
	require.Len(t, snapshots[3], 1)
	assert.Equal(t, first.ID, snapshots[3][0].ID)
}

func TestInboxReadStateAndClear(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	e.Add(ctx, Input{Title: "a"})
	e.Add(ctx, Input{Title: "b"})
	assert.Len(t, e.Unread(), 2)

	calls := 0
	unsubscribe := e.Subscribe(func([]Notification) { calls++ })
	e.MarkAllAsRead()
	e.MarkAllAsRead()
	assert.Equal(t, 2, calls)
	assert.Empty(t, e.Unread())

	e.ClearAll()
	e.ClearAll()
	assert.Equal(t, 4, calls)
	assert.Empty(t, e.Notifications())

	unsubscribe()
	e.Add(ctx, Input{Title: "c"})
	assert.Equal(t, 4, calls)
}

func TestMarkAsReadTwiceStillFound(t *testing.T) {
	e := newTestEngine()
	n := e.Add(context.Background(), Input{Title: "a"})
	calls := 0
	e.Subscribe(func([]Notification) { calls++ })

	assert.True(t, e.MarkAsRead(n.ID))
	assert.True(t, e.MarkAsRead(n.ID))
	assert.Equal(t, 2, calls)
	assert.False(t, e.MarkAsRead("missing"))
	assert.Equal(t, 2, calls)
}

func TestConcurrentAddsReachSubscribersInOrder(t *testing.T) {
	const writers = 8
	for trial := 0; trial < 50; trial++ {
		e := newTestEngine()
		var (
			mu     sync.Mutex
			latest []Notification
			sizes  []int
		)
		e.Subscribe(func(inbox []Notification) {
			mu.Lock()
			defer mu.Unlock()
			latest = inbox
			sizes = append(sizes, len(inbox))
		})

		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				e.Add(context.Background(), Input{Title: fmt.Sprintf("n%d", i)})
			}(i)
		}
		wg.Wait()

		mu.Lock()
		require.Len(t, latest, writers)
		for i, size := range sizes {
			require.Equal(t, i+1, size)
		}
		mu.Unlock()
	}
}

func TestDeleteForgetsDeliveries(t *testing.T) {
	e := newTestEngine()
	e.RegisterDeliverer(ChannelInApp, &recordingDeliverer{})
	_, err := e.SaveChannel(Channel{ID: "inbox", Type: ChannelInApp, Enabled: true})
	require.NoError(t, err)
	_, err = e.SaveRule(Rule{EventType: EventAny, Channels: []ChannelType{ChannelInApp}, Enabled: true})
	require.NoError(t, err)

	ctx := context.Background()
	a := e.Add(ctx, Input{Title: "a"})
	e.Add(ctx, Input{Title: "b"})
	e.mu.Lock()
	assert.Len(t, e.delivered, 2)
	e.mu.Unlock()

	require.True(t, e.Delete(a.ID))
	e.mu.Lock()
	assert.Len(t, e.delivered, 1)
	e.mu.Unlock()

	e.ClearAll()
	e.mu.Lock()
	assert.Empty(t, e.delivered)
	e.mu.Unlock()

	e.deliver(ctx, a)
	e.mu.Lock()
	assert.Empty(t, e.delivered)
	e.mu.Unlock()
}

func TestSnapshotsAreCopies(t *testing.T) {
	e := newTestEngine()
	n := e.Add(context.Background(), Input{Title: "a"})
	inbox := e.Notifications()
	inbox[0].Read = true
	assert.False(t, e.Notifications()[0].Read)
	assert.Equal(t, TypeInfo, n.Type)
	assert.NotEmpty(t, n.ID)
	assert.False(t, n.CreatedAt.IsZero())
}

func TestDeliveryOnlyToEnabledChannel(t *testing.T) {
	e := newTestEngine()
	inApp := &recordingDeliverer{}
	email := &recordingDeliverer{}
	e.RegisterDeliverer(ChannelInApp, inApp)
	e.RegisterDeliverer(ChannelEmail, email)

	_, err := e.SaveRule(Rule{
		EventType:  EventAcquisition,
		Conditions: Conditions{MinAmount: floatPtr(100_000_000)},
		Channels:   []ChannelType{ChannelInApp, ChannelEmail},
		Enabled:    true,
	})
	require.NoError(t, err)
	_, err = e.SaveChannel(Channel{ID: "mail", Type: ChannelEmail, Config: map[string]string{"to": "a@b.c"}, Enabled: false})
	require.NoError(t, err)
	_, err = e.SaveChannel(Channel{ID: "inbox", Type: ChannelInApp, Enabled: true})
	require.NoError(t, err)

	n := e.Add(context.Background(), Input{
		Title:     "Beta acquired by Gamma for $200M",
		Message:   "Gamma announced the acquisition.",
		RelatedTo: &RelatedTo{Type: "acquisition", ID: "beta"},
	})

	assert.Equal(t, []string{"inbox:" + n.ID}, inApp.calls)
	assert.Empty(t, email.calls)
	deliveries := e.Deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, "inbox", deliveries[0].ChannelID)
}

func TestDeliveryErrorsAreNotInboxEntries(t *testing.T) {
	e := newTestEngine()
	e.RegisterDeliverer(ChannelInApp, &recordingDeliverer{err: errors.New("down")})
	_, err := e.SaveRule(Rule{EventType: EventAny, Channels: []ChannelType{ChannelInApp, ChannelMobile}, Enabled: true})
	require.NoError(t, err)
	_, err = e.SaveChannel(Channel{ID: "inbox", Type: ChannelInApp, Enabled: true})
	require.NoError(t, err)
	_, err = e.SaveChannel(Channel{ID: "phone", Type: ChannelMobile, Enabled: true})
	require.NoError(t, err)

	e.Add(context.Background(), Input{Title: "anything"})

	assert.Len(t, e.Notifications(), 1)
	deliveries := e.Deliveries()
	require.Len(t, deliveries, 2)
	for _, d := range deliveries {
		assert.NotEmpty(t, d.Error)
	}
}

func TestDeliveryNotRepeatedPerChannel(t *testing.T) {
	e := newTestEngine()
	d := &recordingDeliverer{}
	e.RegisterDeliverer(ChannelInApp, d)
	_, err := e.SaveChannel(Channel{ID: "inbox", Type: ChannelInApp, Enabled: true})
	require.NoError(t, err)
	_, err = e.SaveRule(Rule{ID: "r1", EventType: EventAny, Channels: []ChannelType{ChannelInApp}, Enabled: true})
	require.NoError(t, err)

	n := e.Add(context.Background(), Input{Title: "x"})
	e.deliver(context.Background(), n)

	assert.Equal(t, 1, d.count())
}

func TestRuleAndChannelCRUD(t *testing.T) {
	e := newTestEngine()
	r, err := e.SaveRule(Rule{Name: "big deals", EventType: EventFunding, Channels: []ChannelType{ChannelEmail}})
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	got, ok := e.Rule(r.ID)
	require.True(t, ok)
	assert.Equal(t, "big deals", got.Name)

	r.Name = "renamed"
	_, err = e.SaveRule(r)
	require.NoError(t, err)
	require.Len(t, e.Rules(), 1)
	assert.Equal(t, "renamed", e.Rules()[0].Name)

	_, err = e.SaveRule(Rule{EventType: "nope"})
	assert.True(t, IsValidationError(err))

	assert.True(t, e.DeleteRule(r.ID))
	assert.False(t, e.DeleteRule(r.ID))

	c, err := e.SaveChannel(Channel{Type: ChannelMobile, Enabled: true})
	require.NoError(t, err)
	_, ok = e.Channel(c.ID)
	assert.True(t, ok)
	assert.Len(t, e.Channels(), 1)
	assert.True(t, e.DeleteChannel(c.ID))
	assert.Empty(t, e.Channels())
}

func TestHandleSignal(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	n, ok := e.HandleSignal(ctx, events.Signal{EntityID: "acme", EntityName: "Acme", Type: "series_a", Amount: 20_000_000, Industry: "Fintech"})
	require.True(t, ok)
	assert.Equal(t, TypeSuccess, n.Type)
	assert.Equal(t, "Acme raised funding", n.Title)
	assert.Equal(t, "Acme closed a Series A round worth $20M.", n.Message)
	require.NotNil(t, n.RelatedTo)
	assert.Equal(t, "funding", n.RelatedTo.Type)
	assert.Equal(t, "acme", n.RelatedTo.ID)
	assert.Equal(t, "Fintech", n.Industry)

	n, ok = e.HandleSignal(ctx, events.Signal{EntityID: "beta", Type: "acquisition"})
	require.True(t, ok)
	assert.Equal(t, EventAcquisition, InferCategory(n))

	_, ok = e.HandleSignal(ctx, events.Signal{EntityID: "x", Type: "ipo"})
	assert.False(t, ok)
	assert.Len(t, e.Notifications(), 2)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "$20M", FormatAmount(20_000_000))
	assert.Equal(t, "$1.5B", FormatAmount(1_500_000_000))
	assert.Equal(t, "$750K", FormatAmount(750_000))
	assert.Equal(t, "$12.5", FormatAmount(12.5))
}

func TestFormatAmountCarriesIntoNextUnit(t *testing.T) {
	assert.Equal(t, "$1M", FormatAmount(999_950))
	assert.Equal(t, "$1B", FormatAmount(999_960_000))
	assert.Equal(t, "$1K", FormatAmount(999.999))
	assert.Equal(t, "$999.9K", FormatAmount(999_940))
	assert.Equal(t, "$-1M", FormatAmount(-999_950))
}

func TestSimulatorProbability(t *testing.T) {
	e := newTestEngine()
	never := NewSimulator(e, 0, 0, nil)
	_, ok := never.Tick(context.Background())
	assert.False(t, ok)

	always := NewSimulator(e, 0, 1, nil)
	n, ok := always.Tick(context.Background())
	require.True(t, ok)
	assert.NotEmpty(t, n.ID)
	require.NotNil(t, n.Amount)
	assert.Greater(t, *n.Amount, 0.0)
}
