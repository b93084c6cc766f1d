package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagegen/pagegen/pkg/models"
)

func event(offset int64) models.EventWithOffset {
	return models.EventWithOffset{
		Event:  models.FullEvent("<div/>"),
		Offset: offset,
	}
}

func TestBusDeliversInPublishOrder(t *testing.T) {
	b := New("s", 8)
	sub := b.Subscribe()

	for i := int64(0); i < 5; i++ {
		b.Publish(event(i))
	}

	for i := int64(0); i < 5; i++ {
		got := <-sub.Events()
		assert.Equal(t, i, got.Offset)
	}
}

func TestBusIndependentSubscribers(t *testing.T) {
	b := New("s", 8)
	a := b.Subscribe()
	c := b.Subscribe()

	b.Publish(event(0))
	b.Publish(event(1))

	assert.Equal(t, int64(0), (<-a.Events()).Offset)
	assert.Equal(t, int64(0), (<-c.Events()).Offset)
	assert.Equal(t, int64(1), (<-a.Events()).Offset)
	assert.Equal(t, int64(1), (<-c.Events()).Offset)
}

func TestBusDropsSlowSubscriber(t *testing.T) {
	b := New("s", 2)
	slow := b.Subscribe()

	// Fill the buffer without consuming, then overflow it.
	b.Publish(event(0))
	b.Publish(event(1))
	b.Publish(event(2))

	// The buffered prefix is still delivered, then end-of-stream.
	assert.Equal(t, int64(0), (<-slow.Events()).Offset)
	assert.Equal(t, int64(1), (<-slow.Events()).Offset)
	_, open := <-slow.Events()
	assert.False(t, open, "dropped subscriber must observe end-of-stream")
	assert.Equal(t, 0, b.SubscriberCount())

	// The publisher itself was never stalled; new subscribers attach fine.
	next := b.Subscribe()
	b.Publish(event(3))
	assert.Equal(t, int64(3), (<-next.Events()).Offset)
}

func TestBusCloseEndsAllSubscribers(t *testing.T) {
	b := New("s", 4)
	sub := b.Subscribe()
	b.Publish(event(0))
	b.Close()
	b.Close() // idempotent

	assert.Equal(t, int64(0), (<-sub.Events()).Offset)
	_, open := <-sub.Events()
	assert.False(t, open)

	// Publishing after close is a no-op, and late subscribers end at once.
	b.Publish(event(1))
	late := b.Subscribe()
	_, open = <-late.Events()
	assert.False(t, open)
}

func TestSubscriptionCancel(t *testing.T) {
	b := New("s", 4)
	sub := b.Subscribe()
	other := b.Subscribe()

	sub.Cancel()
	sub.Cancel() // safe to repeat

	_, open := <-sub.Events()
	assert.False(t, open)
	require.Equal(t, 1, b.SubscriberCount())

	// The remaining subscriber still receives.
	b.Publish(event(0))
	assert.Equal(t, int64(0), (<-other.Events()).Offset)
}
