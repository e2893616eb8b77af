package pubsub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/escrow-network/escrow-daemon/internal/core/ports"
)

func TestPublishFansOutByTopic(t *testing.T) {
	svc := NewService()
	defer svc.Close()

	offers := svc.Subscribe(ports.TopicOfferAdded)
	all := svc.Subscribe("")

	svc.Publish(ports.Event{Topic: ports.TopicOfferAdded})
	svc.Publish(ports.Event{Topic: ports.TopicTradeStateChanged})

	select {
	case ev := <-offers:
		require.Equal(t, ports.TopicOfferAdded, ev.Topic)
	case <-time.After(time.Second):
		t.Fatal("offer subscriber received nothing")
	}
	select {
	case ev := <-offers:
		t.Fatalf("offer subscriber received off-topic event %s", ev.Topic)
	default:
	}

	require.Equal(t, ports.TopicOfferAdded, (<-all).Topic)
	require.Equal(t, ports.TopicTradeStateChanged, (<-all).Topic)
}

func TestCloseClosesSubscriberChannels(t *testing.T) {
	svc := NewService()
	ch := svc.Subscribe("")
	svc.Close()

	_, open := <-ch
	require.False(t, open)

	// Publishing after close must not panic.
	svc.Publish(ports.Event{Topic: ports.TopicOfferAdded})
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	svc := NewService()
	defer svc.Close()

	svc.Subscribe("") // never drained
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			svc.Publish(ports.Event{Topic: ports.TopicOfferAdded})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}
}
