// Package inproc is an in-process message transport: every node attached to
// the same Bus can exchange envelopes. It mirrors the semantics of the
// network transport (per-connection FIFO, delivery callbacks, store-and-
// forward mailbox with at-least-once delivery) and is what the protocol
// tests run on.
package inproc

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/escrow-network/escrow-daemon/internal/core/ports"
	"github.com/escrow-network/escrow-daemon/pkg/wire"
)

// ErrPeerOffline is reported through OnFault when the target node is not
// attached to the bus.
var ErrPeerOffline = errors.New("peer is offline")

const inboxBuffer = 64

// Bus connects in-process transport services.
type Bus struct {
	mtx       sync.Mutex
	nodes     map[string]*service
	mailboxes map[string][][]byte
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{
		nodes:     map[string]*service{},
		mailboxes: map[string][][]byte{},
	}
}

// NewService attaches a new node address to the bus. The service is inert
// until Start.
func (b *Bus) NewService(address string) ports.MessageTransport {
	return &service{
		bus:     b,
		address: address,
		seen:    map[string]bool{},
	}
}

func (b *Bus) lookup(address string) *service {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.nodes[address]
}

func (b *Bus) attach(s *service) [][]byte {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.nodes[s.address] = s
	spooled := b.mailboxes[s.address]
	delete(b.mailboxes, s.address)
	return spooled
}

func (b *Bus) detach(address string) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	delete(b.nodes, address)
}

func (b *Bus) spool(address string, buf []byte) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.mailboxes[address] = append(b.mailboxes[address], buf)
}

type service struct {
	bus     *Bus
	address string

	mtx     sync.Mutex
	handler ports.MessageHandler
	inbox   chan inboundMsg
	quit    chan struct{}
	started bool
	// seen de-duplicates at-least-once mailbox delivery by envelope UID.
	seen map[string]bool
}

type inboundMsg struct {
	from string
	buf  []byte
}

func (s *service) Address() string {
	return s.address
}

func (s *service) RegisterHandler(handler ports.MessageHandler) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.handler = handler
}

// Start attaches the node to the bus and drains any mail spooled while it
// was offline. Envelopes travel as encoded bytes so decoding is exercised
// exactly as on the network transport.
func (s *service) Start(ctx context.Context) error {
	s.mtx.Lock()
	if s.handler == nil {
		s.mtx.Unlock()
		return errors.New("no handler registered")
	}
	if s.started {
		s.mtx.Unlock()
		return nil
	}
	s.inbox = make(chan inboundMsg, inboxBuffer)
	s.quit = make(chan struct{})
	s.started = true
	s.mtx.Unlock()

	go s.consume()

	for _, buf := range s.bus.attach(s) {
		s.dispatch(buf)
	}
	return nil
}

func (s *service) Close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	s.bus.detach(s.address)
	close(s.quit)
	return nil
}

func (s *service) SendDirectMessage(
	_ context.Context, peerAddress string, _ []byte,
	env *wire.Envelope, cb ports.DeliveryCallbacks,
) {
	buf, err := env.Encode()
	if err != nil {
		fault(cb, err)
		return
	}
	peer := s.bus.lookup(peerAddress)
	if peer == nil {
		fault(cb, ErrPeerOffline)
		return
	}
	if !peer.enqueue(s.address, buf) {
		fault(cb, ErrPeerOffline)
		return
	}
	if cb.OnArrived != nil {
		go cb.OnArrived()
	}
}

func (s *service) SendMailboxMessage(
	_ context.Context, peerAddress string, _ []byte, env *wire.Envelope,
) error {
	buf, err := env.Encode()
	if err != nil {
		return err
	}
	if peer := s.bus.lookup(peerAddress); peer != nil {
		if peer.enqueue(s.address, buf) {
			return nil
		}
	}
	s.bus.spool(peerAddress, buf)
	return nil
}

func (s *service) enqueue(from string, buf []byte) bool {
	s.mtx.Lock()
	started, inbox, quit := s.started, s.inbox, s.quit
	s.mtx.Unlock()
	if !started {
		return false
	}
	select {
	case inbox <- inboundMsg{from: from, buf: buf}:
		return true
	case <-quit:
		return false
	}
}

// consume delivers inbound messages one at a time, preserving FIFO order.
func (s *service) consume() {
	for {
		select {
		case msg := <-s.inbox:
			s.deliver(msg.from, msg.buf)
		case <-s.quit:
			return
		}
	}
}

// dispatch handles a mailbox message drained at startup; the sender address
// is recovered from the envelope itself.
func (s *service) dispatch(buf []byte) {
	env, err := wire.DecodeEnvelope(buf)
	if err != nil {
		log.WithError(err).Warn("dropping undecodable mailbox message")
		return
	}
	s.deliverEnvelope(env.Sender, env)
}

func (s *service) deliver(from string, buf []byte) {
	env, err := wire.DecodeEnvelope(buf)
	if err != nil {
		log.WithError(err).Warn("dropping undecodable message")
		return
	}
	s.deliverEnvelope(from, env)
}

func (s *service) deliverEnvelope(from string, env *wire.Envelope) {
	s.mtx.Lock()
	if s.seen[env.UID] {
		s.mtx.Unlock()
		return
	}
	s.seen[env.UID] = true
	handler := s.handler
	s.mtx.Unlock()

	handler(from, env)
}

func fault(cb ports.DeliveryCallbacks, err error) {
	if cb.OnFault != nil {
		go cb.OnFault(err)
	}
}
