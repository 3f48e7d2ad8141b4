package notify

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodrescue/internal/model"
	"foodrescue/pkg/utils"
)

func TestHubDeliversToSubscriber(t *testing.T) {
	h := NewHub(4)

	ch, cancel := h.Subscribe(1)
	defer cancel()

	require.NoError(t, h.Publish(1, &model.Notification{ID: 10, RecipientID: 1}))
	require.NoError(t, h.Publish(1, &model.Notification{ID: 11, RecipientID: 1}))

	first := <-ch
	second := <-ch
	assert.Equal(t, uint64(10), first.ID)
	assert.Equal(t, uint64(11), second.ID, "delivery preserves publish order")
}

func TestHubNoSubscriber(t *testing.T) {
	h := NewHub(4)

	err := h.Publish(1, &model.Notification{ID: 10, RecipientID: 1})
	assert.ErrorIs(t, err, utils.ErrDeliveryUnavailable)
}

func TestHubSaturatedSubscriber(t *testing.T) {
	h := NewHub(1)

	_, cancel := h.Subscribe(1)
	defer cancel()

	require.NoError(t, h.Publish(1, &model.Notification{ID: 10}))
	err := h.Publish(1, &model.Notification{ID: 11})
	assert.ErrorIs(t, err, utils.ErrDeliveryUnavailable, "saturated buffer never blocks the fan-out")
}

func TestHubCancel(t *testing.T) {
	h := NewHub(4)

	ch, cancel := h.Subscribe(1)
	require.Equal(t, 1, h.Subscribers(1))

	cancel()
	assert.Equal(t, 0, h.Subscribers(1))

	_, open := <-ch
	assert.False(t, open, "cancel closes the subscription channel")

	// Cancelling twice is a no-op.
	cancel()

	err := h.Publish(1, &model.Notification{ID: 10})
	assert.ErrorIs(t, err, utils.ErrDeliveryUnavailable)
}

func TestHubConcurrentPublishCancel(t *testing.T) {
	h := NewHub(1)
	notification := &model.Notification{ID: 10, RecipientID: 9}

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		_, cancel := h.Subscribe(9)

		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				h.Publish(9, notification)
			}
		}()

		// Disconnect races the publisher; neither side may panic.
		cancel()
	}
	wg.Wait()

	assert.Equal(t, 0, h.Subscribers(9))
}
