package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/flowwork/ext"
	"github.com/xraph/flowwork/id"
	"github.com/xraph/flowwork/run"
	"github.com/xraph/flowwork/work"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*Broker)(nil)
	_ ext.RunStarted   = (*Broker)(nil)
	_ ext.RunWaiting   = (*Broker)(nil)
	_ ext.RunSucceeded = (*Broker)(nil)
	_ ext.RunFailed    = (*Broker)(nil)
	_ ext.RunAborted   = (*Broker)(nil)
	_ ext.RunRetried   = (*Broker)(nil)
	_ ext.TickFailed   = (*Broker)(nil)
	_ ext.StepStarted  = (*Broker)(nil)
	_ ext.StepFinished = (*Broker)(nil)
	_ ext.StepTimedOut = (*Broker)(nil)
	_ ext.Shutdown     = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// DefaultCredits is the default initial credits for new subscribers.
const DefaultCredits int64 = 1000

// Broker is the in-process stream broker. It implements the ext.Extension
// interface to receive lifecycle events and fans them out to subscribers
// via topic-based pub/sub.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger
	now    func() time.Time

	subscribers sync.Map // subscriberID → *Subscriber

	totalPublished atomic.Int64
	totalDropped   atomic.Int64

	bufferSize     int
	defaultCredits int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits sets the initial credits for new subscribers.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.defaultCredits = credits }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) BrokerOption {
	return func(b *Broker) { b.now = now }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:         NewTopicRegistry(),
		logger:         logger,
		now:            time.Now,
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry.
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a new subscriber on the given topics. An existing
// subscriber with the same ID is replaced and closed.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize, b.defaultCredits)
	if prev, loaded := b.subscribers.Swap(subscriberID, sub); loaded {
		b.topics.UnsubscribeAll(subscriberID)
		prev.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// SubscribeTo adds an existing subscriber to additional topics.
func (b *Broker) SubscribeTo(subscriberID string, topics ...string) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return
	}
	sub := val.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// GetSubscriber returns a subscriber by ID.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return nil, false
	}
	return val.(*Subscriber), true //nolint:errcheck // sync.Map always stores *Subscriber
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	count := 0
	b.subscribers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
		TotalDropped:    b.totalDropped.Load(),
	}
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

// Publish broadcasts evt to every topic it resolves to. A missing ID or
// timestamp is filled in.
func (b *Broker) Publish(evt *Event) {
	if evt.ID == "" {
		evt.ID = id.NewEventID().String()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = b.now().UTC()
	}
	delivered, dropped := b.topics.Broadcast(resolveTopics(evt), evt)
	b.totalPublished.Add(int64(delivered))
	if dropped > 0 {
		b.totalDropped.Add(int64(dropped))
		b.logger.Debug("stream: subscriber buffer full",
			slog.String("type", string(evt.Type)),
			slog.Int("dropped", dropped),
		)
	}
}

// mustMarshal marshals data to JSON, panicking on error (programming error).
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stream: marshal event data: " + err.Error())
	}
	return data
}

func runData(r *run.Run) RunEventData {
	return RunEventData{
		RunID:   r.ID.String(),
		Name:    r.Name,
		State:   string(r.State),
		Attempt: r.Attempt,
		Ticks:   r.Ticks,
		Message: r.Message,
	}
}

func (b *Broker) publishRun(typ EventType, r *run.Run, data RunEventData) {
	b.Publish(&Event{
		Type:  typ,
		Topic: RunTopic(r.ID.String()),
		Data:  mustMarshal(data),
	})
}

func (b *Broker) publishStep(typ EventType, r *run.Run, s *work.Step, elapsed time.Duration, timedOut bool) {
	b.Publish(&Event{
		Type:  typ,
		Topic: RunTopic(r.ID.String()),
		Data: mustMarshal(StepEventData{
			RunID:     r.ID.String(),
			RunName:   r.Name,
			Step:      s.Description(),
			State:     string(s.State()),
			Message:   s.Message(),
			ElapsedMs: elapsed.Milliseconds(),
			TimedOut:  timedOut,
		}),
	})
}

// ── Run lifecycle hooks ─────────────────────────────

func (b *Broker) OnRunStarted(_ context.Context, r *run.Run) error {
	b.publishRun(EventRunStarted, r, runData(r))
	return nil
}

func (b *Broker) OnRunWaiting(_ context.Context, r *run.Run, nextTickAt time.Time) error {
	d := runData(r)
	d.NextTickAt = nextTickAt.UTC().Format(time.RFC3339)
	b.publishRun(EventRunWaiting, r, d)
	return nil
}

func (b *Broker) OnRunSucceeded(_ context.Context, r *run.Run, elapsed time.Duration) error {
	d := runData(r)
	d.ElapsedMs = elapsed.Milliseconds()
	b.publishRun(EventRunSucceeded, r, d)
	return nil
}

func (b *Broker) OnRunFailed(_ context.Context, r *run.Run, elapsed time.Duration) error {
	d := runData(r)
	d.ElapsedMs = elapsed.Milliseconds()
	b.publishRun(EventRunFailed, r, d)
	return nil
}

func (b *Broker) OnRunAborted(_ context.Context, r *run.Run, elapsed time.Duration) error {
	d := runData(r)
	d.ElapsedMs = elapsed.Milliseconds()
	b.publishRun(EventRunAborted, r, d)
	return nil
}

// OnRunRetried publishes on the new run's topic and on the previous one,
// so watchers of the failed run learn where it continues.
func (b *Broker) OnRunRetried(_ context.Context, prev, next *run.Run) error {
	d := runData(next)
	d.RetryOf = prev.ID.String()
	b.publishRun(EventRunRetried, next, d)
	b.Publish(&Event{
		Type:  EventRunRetried,
		Topic: RunTopic(prev.ID.String()),
		Data:  mustMarshal(d),
	})
	return nil
}

func (b *Broker) OnTickFailed(_ context.Context, r *run.Run, tickErr error) error {
	d := runData(r)
	d.Error = tickErr.Error()
	b.publishRun(EventTickFailed, r, d)
	return nil
}

// ── Step lifecycle hooks ────────────────────────────

func (b *Broker) OnStepStarted(_ context.Context, r *run.Run, s *work.Step) error {
	b.publishStep(EventStepStarted, r, s, 0, false)
	return nil
}

func (b *Broker) OnStepFinished(_ context.Context, r *run.Run, s *work.Step, elapsed time.Duration) error {
	b.publishStep(EventStepFinished, r, s, elapsed, false)
	return nil
}

func (b *Broker) OnStepTimedOut(_ context.Context, r *run.Run, s *work.Step, elapsed time.Duration) error {
	b.publishStep(EventStepTimedOut, r, s, elapsed, true)
	return nil
}

// ── Shutdown ────────────────────────────────────────

func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		sub := value.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
		b.topics.UnsubscribeAll(sub.ID())
		sub.Close()
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("stream broker shut down")
	return nil
}
