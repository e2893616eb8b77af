package inproc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/escrow-network/escrow-daemon/internal/core/ports"
	"github.com/escrow-network/escrow-daemon/pkg/wire"
)

type recorder struct {
	mtx  sync.Mutex
	msgs []*wire.Envelope
	from []string
}

func (r *recorder) handle(from string, env *wire.Envelope) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.msgs = append(r.msgs, env)
	r.from = append(r.from, from)
}

func (r *recorder) count() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return len(r.msgs)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func newSignedEnvelope(t *testing.T, sender string) *wire.Envelope {
	t.Helper()
	kr, err := wire.NewKeyRing()
	require.NoError(t, err)
	env, err := wire.NewEnvelope(wire.MsgAck, sender, &wire.Ack{Success: true})
	require.NoError(t, err)
	require.NoError(t, env.Sign(kr))
	return env
}

func TestDirectDelivery(t *testing.T) {
	bus := NewBus()
	alice := bus.NewService("alice")
	bob := bus.NewService("bob")

	rec := &recorder{}
	alice.RegisterHandler(func(string, *wire.Envelope) {})
	bob.RegisterHandler(rec.handle)
	require.NoError(t, alice.Start(context.Background()))
	require.NoError(t, bob.Start(context.Background()))
	defer alice.Close()
	defer bob.Close()

	arrived := make(chan struct{})
	env := newSignedEnvelope(t, "alice")
	alice.SendDirectMessage(context.Background(), "bob", nil, env, ports.DeliveryCallbacks{
		OnArrived: func() { close(arrived) },
		OnFault:   func(err error) { t.Errorf("unexpected fault: %v", err) },
	})

	select {
	case <-arrived:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery never confirmed")
	}
	waitFor(t, func() bool { return rec.count() == 1 })

	rec.mtx.Lock()
	defer rec.mtx.Unlock()
	require.Equal(t, "alice", rec.from[0])
	require.Equal(t, env.UID, rec.msgs[0].UID)
}

func TestDirectDeliveryToOfflinePeerFaults(t *testing.T) {
	bus := NewBus()
	alice := bus.NewService("alice")
	alice.RegisterHandler(func(string, *wire.Envelope) {})
	require.NoError(t, alice.Start(context.Background()))
	defer alice.Close()

	faulted := make(chan error, 1)
	alice.SendDirectMessage(
		context.Background(), "nobody", nil, newSignedEnvelope(t, "alice"),
		ports.DeliveryCallbacks{
			OnArrived: func() { t.Error("unexpected arrival") },
			OnFault:   func(err error) { faulted <- err },
		},
	)

	select {
	case err := <-faulted:
		require.ErrorIs(t, err, ErrPeerOffline)
	case <-time.After(2 * time.Second):
		t.Fatal("fault never reported")
	}
}

func TestMailboxSpoolsForOfflinePeer(t *testing.T) {
	bus := NewBus()
	alice := bus.NewService("alice")
	alice.RegisterHandler(func(string, *wire.Envelope) {})
	require.NoError(t, alice.Start(context.Background()))
	defer alice.Close()

	env := newSignedEnvelope(t, "alice")
	require.NoError(t, alice.SendMailboxMessage(context.Background(), "bob", nil, env))

	// Bob comes online later and drains the spool.
	bob := bus.NewService("bob")
	rec := &recorder{}
	bob.RegisterHandler(rec.handle)
	require.NoError(t, bob.Start(context.Background()))
	defer bob.Close()

	waitFor(t, func() bool { return rec.count() == 1 })
	rec.mtx.Lock()
	defer rec.mtx.Unlock()
	require.Equal(t, "alice", rec.from[0])
}

func TestDuplicateDeliveryIsDropped(t *testing.T) {
	bus := NewBus()
	alice := bus.NewService("alice")
	bob := bus.NewService("bob")
	rec := &recorder{}
	alice.RegisterHandler(func(string, *wire.Envelope) {})
	bob.RegisterHandler(rec.handle)
	require.NoError(t, alice.Start(context.Background()))
	require.NoError(t, bob.Start(context.Background()))
	defer alice.Close()
	defer bob.Close()

	env := newSignedEnvelope(t, "alice")
	require.NoError(t, alice.SendMailboxMessage(context.Background(), "bob", nil, env))
	require.NoError(t, alice.SendMailboxMessage(context.Background(), "bob", nil, env))

	waitFor(t, func() bool { return rec.count() >= 1 })
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, rec.count())
}

func TestPerConnectionOrder(t *testing.T) {
	bus := NewBus()
	alice := bus.NewService("alice")
	bob := bus.NewService("bob")
	rec := &recorder{}
	alice.RegisterHandler(func(string, *wire.Envelope) {})
	bob.RegisterHandler(rec.handle)
	require.NoError(t, alice.Start(context.Background()))
	require.NoError(t, bob.Start(context.Background()))
	defer alice.Close()
	defer bob.Close()

	var uids []string
	for i := 0; i < 10; i++ {
		env := newSignedEnvelope(t, "alice")
		uids = append(uids, env.UID)
		alice.SendDirectMessage(
			context.Background(), "bob", nil, env, ports.DeliveryCallbacks{},
		)
	}

	waitFor(t, func() bool { return rec.count() == 10 })
	rec.mtx.Lock()
	defer rec.mtx.Unlock()
	for i, env := range rec.msgs {
		require.Equal(t, uids[i], env.UID)
	}
}
