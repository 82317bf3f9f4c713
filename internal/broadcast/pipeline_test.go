package broadcast

import (
	"context"
	"errors"
	"testing"

	"github.com/leaudio/bapd/internal/endpoint"
	"github.com/leaudio/bapd/internal/pac"
	"github.com/leaudio/bapd/internal/setup"
	"github.com/leaudio/bapd/internal/transport"
)

type stubChannel struct{ closed bool }

func (c *stubChannel) Close() error               { c.closed = true; return nil }
func (c *stubChannel) LocalAddr() transport.Address  { return "" }
func (c *stubChannel) RemoteAddr() transport.Address { return "" }

type stubISO struct {
	listenErr error
	listened  int
}

func (s *stubISO) Connect(ctx context.Context, src, dst transport.Address, qos transport.IOQoS, deferConn bool) (transport.Channel, error) {
	return nil, errors.New("not used")
}
func (s *stubISO) ConnectBroadcast(ctx context.Context, src transport.Address, qos transport.IOQoS, base []byte, deferConn bool) (transport.Channel, error) {
	return nil, errors.New("not used")
}
func (s *stubISO) Listen(ctx context.Context, src transport.Address, qos transport.IOQoS) (transport.Channel, error) {
	s.listened++
	if s.listenErr != nil {
		return nil, s.listenErr
	}
	return &stubChannel{}, nil
}
func (s *stubISO) Accept(ctx context.Context, ch transport.Channel) (transport.Channel, error) {
	return ch, nil
}
func (s *stubISO) AcceptBroadcast(ctx context.Context, ch transport.Channel, bisIndices []uint8) (transport.Channel, error) {
	return &stubChannel{}, nil
}

func TestTickOnlyDispatchesOneInProgressPerAdapter(t *testing.T) {
	iso := &stubISO{}
	p := New(iso, pac.New(), endpoint.New(), setup.New(nil, iso), nil)
	r1 := &Request{Kind: KindShortSync, Adapter: "hci0"}
	r2 := &Request{Kind: KindShortSync, Adapter: "hci0"}
	p.Enqueue(r1)
	p.Enqueue(r2)

	p.Tick(context.Background(), "hci0")
	if iso.listened != 1 {
		t.Fatalf("expected exactly one Listen call on first tick, got %d", iso.listened)
	}
	if !r1.inProgress {
		t.Fatalf("expected head request marked in-progress")
	}

	// Second tick: head is still in-progress, so nothing new dispatches.
	p.Tick(context.Background(), "hci0")
	if iso.listened != 1 {
		t.Fatalf("expected no additional Listen call while head in-progress, got %d", iso.listened)
	}
}

func TestFinishAdvancesQueueToNextRequest(t *testing.T) {
	iso := &stubISO{}
	p := New(iso, pac.New(), endpoint.New(), setup.New(nil, iso), nil)
	r1 := &Request{Kind: KindShortSync, Adapter: "hci0"}
	r2 := &Request{Kind: KindShortSync, Adapter: "hci0"}
	p.Enqueue(r1)
	p.Enqueue(r2)

	p.Tick(context.Background(), "hci0")
	p.finish(r1)
	p.Tick(context.Background(), "hci0")
	if iso.listened != 2 {
		t.Fatalf("expected second request dispatched after first finished, got %d listens", iso.listened)
	}
}

func TestCancelRemovesRequestAndClosesListener(t *testing.T) {
	iso := &stubISO{}
	p := New(iso, pac.New(), endpoint.New(), setup.New(nil, iso), nil)
	r := &Request{Kind: KindShortSync, Adapter: "hci0"}
	p.Enqueue(r)
	p.Tick(context.Background(), "hci0")

	ch := r.channel.(*stubChannel)
	p.Cancel(r)
	if !ch.closed {
		t.Fatalf("expected listener closed on cancel")
	}
	if len(p.queue["hci0"]) != 0 {
		t.Fatalf("expected queue empty after cancel")
	}
}

func TestOnBIGSyncConfirmTransitionsSetupToStreaming(t *testing.T) {
	iso := &stubISO{}
	p := New(iso, pac.New(), endpoint.New(), setup.New(nil, iso), nil)
	su := &setup.Setup{ID: "s1", Stream: &setup.Stream{State: setup.StateEnabling}}
	r := &Request{Kind: KindBigSync, Adapter: "hci0", Setup: su, BISIndex: 1}
	p.Enqueue(r)
	p.Tick(context.Background(), "hci0")

	if err := p.OnBIGSyncConfirm(context.Background(), r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if su.Stream.State != setup.StateStreaming {
		t.Fatalf("expected STREAMING, got %v", su.Stream.State)
	}
	if su.Channel == nil {
		t.Fatalf("expected channel attached to setup")
	}
}
