// Package pubsub is a channel-based broadcaster over the offer book and
// trade collections. Subscribers receive observe-only snapshots; a slow
// subscriber loses events rather than blocking publishers.
package pubsub

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/escrow-network/escrow-daemon/internal/core/ports"
)

const subscriberBuffer = 32

type subscriber struct {
	topic string
	ch    chan ports.Event
}

type service struct {
	mtx    sync.Mutex
	subs   []*subscriber
	closed bool
}

// NewService returns an empty broadcaster.
func NewService() ports.PubSub {
	return &service{}
}

func (s *service) Subscribe(topic string) <-chan ports.Event {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	sub := &subscriber{
		topic: topic,
		ch:    make(chan ports.Event, subscriberBuffer),
	}
	if s.closed {
		close(sub.ch)
		return sub.ch
	}
	s.subs = append(s.subs, sub)
	return sub.ch
}

func (s *service) Publish(event ports.Event) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.closed {
		return
	}
	for _, sub := range s.subs {
		if sub.topic != "" && sub.topic != event.Topic {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			log.WithField("topic", event.Topic).
				Warn("dropping event for slow subscriber")
		}
	}
}

func (s *service) Close() {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for _, sub := range s.subs {
		close(sub.ch)
	}
	s.subs = nil
}
