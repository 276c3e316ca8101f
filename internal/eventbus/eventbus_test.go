package eventbus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDispatchesInRegistrationOrder(t *testing.T) {
	b := New(Config{})
	var order []int

	b.Subscribe("task.created", func(ctx context.Context, p Payload) error {
		order = append(order, 1)
		return nil
	})
	b.Subscribe("task.created", func(ctx context.Context, p Payload) error {
		order = append(order, 2)
		return nil
	})
	b.Subscribe("task.created", func(ctx context.Context, p Payload) error {
		order = append(order, 3)
		return nil
	})

	b.Publish(context.Background(), "task.created", Payload{})
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestHandlerErrorIsolation(t *testing.T) {
	b := New(Config{})
	var secondRan, thirdRan bool

	b.Subscribe("task.created", func(ctx context.Context, p Payload) error {
		return errors.New("boom")
	})
	b.Subscribe("task.created", func(ctx context.Context, p Payload) error {
		secondRan = true
		return nil
	})
	b.Subscribe("task.created", func(ctx context.Context, p Payload) error {
		thirdRan = true
		return nil
	})

	b.Publish(context.Background(), "task.created", Payload{})
	assert.True(t, secondRan)
	assert.True(t, thirdRan)
}

func TestHandlerPanicIsIsolated(t *testing.T) {
	b := New(Config{})
	var ran bool
	b.Subscribe("x", func(ctx context.Context, p Payload) error {
		panic("unexpected")
	})
	b.Subscribe("x", func(ctx context.Context, p Payload) error {
		ran = true
		return nil
	})
	b.Publish(context.Background(), "x", Payload{})
	assert.True(t, ran)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(Config{})
	calls := 0
	token := b.Subscribe("x", func(ctx context.Context, p Payload) error {
		calls++
		return nil
	})
	b.Publish(context.Background(), "x", Payload{})
	token()
	b.Publish(context.Background(), "x", Payload{})
	assert.Equal(t, 1, calls)
}

func TestNoWildcardDelivery(t *testing.T) {
	b := New(Config{})
	calls := 0
	b.Subscribe("task.created", func(ctx context.Context, p Payload) error {
		calls++
		return nil
	})
	b.Publish(context.Background(), "task.updated", Payload{})
	assert.Equal(t, 0, calls)
}

func TestSubscriberCount(t *testing.T) {
	b := New(Config{})
	require.Equal(t, 0, b.SubscriberCount("x"))
	b.Subscribe("x", func(ctx context.Context, p Payload) error { return nil })
	assert.Equal(t, 1, b.SubscriberCount("x"))
}

func TestPublishCollectReturnsPerHandlerErrors(t *testing.T) {
	b := New(Config{})
	b.Subscribe("x", func(ctx context.Context, p Payload) error { return nil })
	b.Subscribe("x", func(ctx context.Context, p Payload) error { return errors.New("boom") })

	errs := b.PublishCollect(context.Background(), "x", Payload{})
	require.Len(t, errs, 2)
	assert.NoError(t, errs[0])
	assert.Error(t, errs[1])
}
