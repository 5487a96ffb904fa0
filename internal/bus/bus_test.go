package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestRoutesToHandler(t *testing.T) {
	t.Parallel()

	b := New()
	require.NoError(t, b.Handle(KindAuthStateQuery, func(ctx context.Context, env Envelope) (any, error) {
		return "reply", nil
	}))

	reply, err := b.Request(context.Background(), Envelope{Kind: KindAuthStateQuery})
	require.NoError(t, err)
	assert.Equal(t, "reply", reply)
}

func TestRequestNoHandler(t *testing.T) {
	t.Parallel()

	b := New()
	_, err := b.Request(context.Background(), Envelope{Kind: KindProxyFetch})
	assert.ErrorIs(t, err, ErrNoHandler)
}

func TestHandleRejectsDuplicate(t *testing.T) {
	t.Parallel()

	b := New()
	noop := func(ctx context.Context, env Envelope) (any, error) { return nil, nil }

	require.NoError(t, b.Handle(KindCheckIn, noop))
	assert.Error(t, b.Handle(KindCheckIn, noop))
}

func TestDeliverTab(t *testing.T) {
	t.Parallel()

	b := New()
	ch := b.SubscribeTab(3)

	require.NoError(t, b.DeliverTab(Envelope{Kind: KindCheckIn, TabID: 3, Payload: "go"}))

	env := <-ch
	assert.Equal(t, KindCheckIn, env.Kind)
	assert.Equal(t, "go", env.Payload)
}

func TestDeliverTabNoSubscriber(t *testing.T) {
	t.Parallel()

	b := New()
	err := b.DeliverTab(Envelope{Kind: KindCheckIn, TabID: 99})
	assert.ErrorIs(t, err, ErrNoSubscriber)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	b := New()
	ch := b.SubscribeTab(5)
	b.UnsubscribeTab(5)

	_, open := <-ch
	assert.False(t, open)

	assert.ErrorIs(t, b.DeliverTab(Envelope{Kind: KindCheckIn, TabID: 5}), ErrNoSubscriber)
}
