// Package ws is a websocket message transport: nodes connect to a relay
// that forwards envelopes between addresses and spools mailbox messages for
// offline peers. The connection self-heals; outbound writes are rate
// limited and dialing goes through a circuit breaker so a dead relay does
// not burn reconnect attempts forever.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"go.uber.org/ratelimit"

	"github.com/escrow-network/escrow-daemon/internal/core/ports"
	"github.com/escrow-network/escrow-daemon/pkg/circuitbreaker"
	"github.com/escrow-network/escrow-daemon/pkg/timer"
	"github.com/escrow-network/escrow-daemon/pkg/wire"
)

const (
	// pingWait is the amount of silence tolerated before the connection is
	// considered dead.
	pingWait = 60 * time.Second
	// pingPeriod must be shorter than pingWait.
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
	// reconnectInterval paces dial attempts after a dropped connection.
	reconnectInterval = 5 * time.Second
	// ackWait bounds how long a direct send waits for the relay's delivery
	// receipt.
	ackWait = 30 * time.Second
	// writesPerSec caps the outbound message rate.
	writesPerSec = 20
)

// ErrTransportClosed is reported for operations on a closed transport.
var ErrTransportClosed = errors.New("transport is closed")

// frame is the relay protocol unit. A node-originated frame carries an
// envelope for To; a relay-originated frame carries either a forwarded
// envelope or a delivery receipt (Ack set to the envelope UID).
type frame struct {
	To       string          `json:"to,omitempty"`
	From     string          `json:"from,omitempty"`
	Mailbox  bool            `json:"mailbox,omitempty"`
	Envelope json.RawMessage `json:"envelope,omitempty"`
	Ack      string          `json:"ack,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Config holds the relay connection parameters.
type Config struct {
	// RelayURL is the ws:// or wss:// endpoint of the relay.
	RelayURL string
	// Address is this node's address announced to the relay.
	Address string
}

type transport struct {
	cfg     Config
	breaker *gobreaker.CircuitBreaker
	limiter ratelimit.Limiter

	wsMtx sync.Mutex
	ws    *websocket.Conn

	mtx     sync.Mutex
	handler ports.MessageHandler
	pending map[string]*pendingSend
	seen    map[string]bool
	quit    chan struct{}
	started bool
}

type pendingSend struct {
	cb    ports.DeliveryCallbacks
	timer *timer.Timer
}

// NewTransport returns a relay-backed MessageTransport. The connection is
// established on Start.
func NewTransport(cfg Config) (ports.MessageTransport, error) {
	if cfg.RelayURL == "" {
		return nil, errors.New("missing relay url")
	}
	if cfg.Address == "" {
		return nil, errors.New("missing node address")
	}
	return &transport{
		cfg:     cfg,
		breaker: circuitbreaker.NewCircuitBreaker("ws-relay"),
		limiter: ratelimit.New(writesPerSec),
		pending: map[string]*pendingSend{},
		seen:    map[string]bool{},
	}, nil
}

func (t *transport) Address() string {
	return t.cfg.Address
}

func (t *transport) RegisterHandler(handler ports.MessageHandler) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.handler = handler
}

func (t *transport) Start(ctx context.Context) error {
	t.mtx.Lock()
	if t.handler == nil {
		t.mtx.Unlock()
		return errors.New("no handler registered")
	}
	if t.started {
		t.mtx.Unlock()
		return nil
	}
	t.quit = make(chan struct{})
	t.started = true
	t.mtx.Unlock()

	if err := t.connect(ctx); err != nil {
		return err
	}
	go t.keepAlive(ctx)
	return nil
}

func (t *transport) Close() error {
	t.mtx.Lock()
	if !t.started {
		t.mtx.Unlock()
		return nil
	}
	t.started = false
	close(t.quit)
	pending := t.pending
	t.pending = map[string]*pendingSend{}
	t.mtx.Unlock()

	for _, p := range pending {
		if p.timer.Stop() && p.cb.OnFault != nil {
			p.cb.OnFault(ErrTransportClosed)
		}
	}

	t.wsMtx.Lock()
	defer t.wsMtx.Unlock()
	if t.ws != nil {
		t.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		return t.ws.Close()
	}
	return nil
}

func (t *transport) SendDirectMessage(
	_ context.Context, peerAddress string, _ []byte,
	env *wire.Envelope, cb ports.DeliveryCallbacks,
) {
	buf, err := env.Encode()
	if err != nil {
		if cb.OnFault != nil {
			go cb.OnFault(err)
		}
		return
	}

	p := &pendingSend{cb: cb}
	p.timer = timer.AfterFunc(ackWait, func() {
		t.mtx.Lock()
		delete(t.pending, env.UID)
		t.mtx.Unlock()
		if cb.OnFault != nil {
			cb.OnFault(fmt.Errorf("no delivery receipt for %s", env.UID))
		}
	})
	t.mtx.Lock()
	t.pending[env.UID] = p
	t.mtx.Unlock()

	err = t.write(frame{To: peerAddress, From: t.cfg.Address, Envelope: buf})
	if err != nil {
		t.mtx.Lock()
		delete(t.pending, env.UID)
		t.mtx.Unlock()
		if p.timer.Stop() && cb.OnFault != nil {
			go cb.OnFault(err)
		}
	}
}

func (t *transport) SendMailboxMessage(
	_ context.Context, peerAddress string, _ []byte, env *wire.Envelope,
) error {
	buf, err := env.Encode()
	if err != nil {
		return err
	}
	// The relay owns the spool; a write receipt is not waited for since
	// delivery time is unbounded anyway.
	return t.write(frame{
		To: peerAddress, From: t.cfg.Address, Mailbox: true, Envelope: buf,
	})
}

// connect dials the relay through the circuit breaker and starts the read
// loop on success.
func (t *transport) connect(ctx context.Context) error {
	conn, err := t.breaker.Execute(func() (interface{}, error) {
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, t.cfg.RelayURL, nil)
		return ws, err
	})
	if err != nil {
		return fmt.Errorf("dialing relay: %w", err)
	}
	ws := conn.(*websocket.Conn)

	ws.SetReadDeadline(time.Now().Add(pingWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pingWait))
	})

	t.wsMtx.Lock()
	t.ws = ws
	t.wsMtx.Unlock()

	// Announce our address so the relay can route to us and flush our
	// mailbox.
	if err := t.write(frame{From: t.cfg.Address}); err != nil {
		return err
	}

	go t.readLoop(ws)
	return nil
}

func (t *transport) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.wsMtx.Lock()
			ws := t.ws
			if ws != nil {
				ws.WriteControl(
					websocket.PingMessage, nil, time.Now().Add(writeWait),
				)
			}
			t.wsMtx.Unlock()
		case <-t.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (t *transport) readLoop(ws *websocket.Conn) {
	for {
		var f frame
		if err := ws.ReadJSON(&f); err != nil {
			select {
			case <-t.quit:
				return
			default:
			}
			log.WithError(err).Warn("relay connection lost, reconnecting")
			t.reconnect()
			return
		}
		t.handleFrame(f)
	}
}

func (t *transport) reconnect() {
	for {
		select {
		case <-t.quit:
			return
		case <-time.After(reconnectInterval):
		}
		if err := t.connect(context.Background()); err != nil {
			log.WithError(err).Warn("relay reconnect failed")
			continue
		}
		return
	}
}

func (t *transport) handleFrame(f frame) {
	if f.Ack != "" {
		t.mtx.Lock()
		p, ok := t.pending[f.Ack]
		if ok {
			delete(t.pending, f.Ack)
		}
		t.mtx.Unlock()
		if !ok || !p.timer.Stop() {
			return
		}
		if f.Error != "" {
			if p.cb.OnFault != nil {
				p.cb.OnFault(errors.New(f.Error))
			}
			return
		}
		if p.cb.OnArrived != nil {
			p.cb.OnArrived()
		}
		return
	}

	env, err := wire.DecodeEnvelope(f.Envelope)
	if err != nil {
		log.WithError(err).Warn("dropping undecodable relay message")
		return
	}

	t.mtx.Lock()
	if t.seen[env.UID] {
		t.mtx.Unlock()
		return
	}
	t.seen[env.UID] = true
	handler := t.handler
	t.mtx.Unlock()

	from := f.From
	if from == "" {
		from = env.Sender
	}
	handler(from, env)
}

// write serializes one frame onto the connection, paced by the rate limiter.
func (t *transport) write(f frame) error {
	t.limiter.Take()

	t.wsMtx.Lock()
	defer t.wsMtx.Unlock()
	if t.ws == nil {
		return ErrTransportClosed
	}
	t.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return t.ws.WriteJSON(f)
}
