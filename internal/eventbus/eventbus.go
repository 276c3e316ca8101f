// Package eventbus implements the in-process publish/subscribe fabric:
// synchronous dispatch in subscriber registration order, with per-handler
// error isolation so one failing subscriber never blocks the rest.
package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/kira-host/kira/infrastructure/logging"
	"github.com/kira-host/kira/infrastructure/metrics"
)

// Payload is the generic envelope carried by every event. The bus never
// mutates it; subscribers that need typed access cast fields themselves.
type Payload map[string]interface{}

// Handler processes one event delivery.
type Handler func(ctx context.Context, payload Payload) error

// UnsubscribeToken cancels a single subscription.
type UnsubscribeToken func()

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is the synchronous, single-process event dispatcher.
type Bus struct {
	mu            sync.Mutex
	subscriptions map[string][]*subscription
	nextID        uint64
	log           *logging.Logger
	metrics       *metrics.Metrics
}

// Config configures a Bus.
type Config struct {
	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

// New constructs an empty Bus.
func New(cfg Config) *Bus {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewFromEnv("eventbus")
	}
	return &Bus{
		subscriptions: make(map[string][]*subscription),
		log:           cfg.Logger,
		metrics:       cfg.Metrics,
	}
}

// Subscribe registers handler for events named `name`. Wildcard names are
// not supported: a subscriber only ever hears the exact event name it
// registered for. Handlers for one name fire in registration order.
func (b *Bus) Subscribe(name string, handler Handler) UnsubscribeToken {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscription{id: b.nextID, handler: handler}
	b.subscriptions[name] = append(b.subscriptions[name], sub)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscriptions[name]
		for i, s := range subs {
			if s.id == sub.id {
				b.subscriptions[name] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}

// Publish dispatches name synchronously to every subscriber registered at
// the time of the call, in registration order. A handler error is logged
// with the request's trace id and does not prevent remaining handlers from
// running; Publish itself never returns an error for handler failures.
func (b *Bus) Publish(ctx context.Context, name string, payload Payload) {
	b.PublishCollect(ctx, name, payload)
}

// PublishCollect is Publish, but also returns every handler's error (in
// registration order, nil entries included) so a caller that needs to know
// whether delivery fully succeeded — the inbox/sync pipelines' retry loop,
// in particular — can inspect it. Isolation is unchanged: a handler error
// here is still logged and never prevents the next handler from running.
func (b *Bus) PublishCollect(ctx context.Context, name string, payload Payload) []error {
	b.mu.Lock()
	subs := make([]*subscription, len(b.subscriptions[name]))
	copy(subs, b.subscriptions[name])
	b.mu.Unlock()

	traceID := logging.GetTraceID(ctx)
	if traceID == "" {
		if v, ok := payload["trace_id"].(string); ok {
			traceID = v
			ctx = logging.WithTraceID(ctx, traceID)
		}
	}

	if b.metrics != nil {
		b.metrics.RecordEvent(name)
	}

	var errs []error
	for _, sub := range subs {
		err := b.safeInvoke(ctx, sub.handler, payload)
		errs = append(errs, err)
		if err != nil {
			b.log.WithTraceID(traceID).
				WithField("event", name).
				WithError(err).
				Error("event handler failed")
			if b.metrics != nil {
				b.metrics.RecordError("SVC_5001", "eventbus.handler")
			}
		}
	}
	return errs
}

// safeInvoke recovers a panicking handler into an error so that one broken
// subscriber cannot take down the publishing goroutine.
func (b *Bus) safeInvoke(ctx context.Context, h Handler, payload Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("eventbus: handler panicked: %v", r)
		}
	}()
	return h(ctx, payload)
}

// SubscriberCount reports how many handlers are registered for name, mostly
// useful in tests.
func (b *Bus) SubscriberCount(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscriptions[name])
}
