package eventbus_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/tryonkit/internal/adapter/driven/eventbus"
	"github.com/ericfisherdev/tryonkit/internal/domain/model"
)

func TestBus_FansOut(t *testing.T) {
	bus := eventbus.New()
	a, cancelA := bus.Subscribe(4)
	defer cancelA()
	b, cancelB := bus.Subscribe(4)
	defer cancelB()

	bus.Publish(context.Background(), model.BalanceChanged(7))

	assert.Equal(t, model.BalanceChanged(7), <-a)
	assert.Equal(t, model.BalanceChanged(7), <-b)
}

func TestBus_PublishWithoutSubscribers(t *testing.T) {
	bus := eventbus.New()
	bus.Publish(context.Background(), model.CredentialInvalidated())
}

func TestBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	bus := eventbus.New()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	bus.Publish(context.Background(), model.BalanceChanged(1))
	bus.Publish(context.Background(), model.BalanceChanged(2))

	assert.Equal(t, 1, (<-ch).Balance)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %v", ev)
	default:
	}
}

func TestBus_CancelClosesAndUnsubscribes(t *testing.T) {
	bus := eventbus.New()
	ch, cancel := bus.Subscribe(1)

	cancel()
	cancel()

	_, open := <-ch
	require.False(t, open)
	bus.Publish(context.Background(), model.BalanceChanged(1))
}
