// Package fakeiso is a test double for transport.ISOTransport and
// transport.ControlPlane. It stands in for the kernel ISO socket and the
// GATT control plane the way the teacher project's httptest servers stand in
// for a real IPTV provider: scripted responses, no real kernel I/O.
package fakeiso

import (
	"context"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/leaudio/bapd/internal/transport"
)

// Conn wraps one end of a net.Pipe as a transport.Channel. The underlying
// net.Conn is reachable via NetConn for tests that want to push bytes or
// close the remote end to simulate a HUP.
type Conn struct {
	local, remote string
	conn          net.Conn
}

func (c *Conn) Close() error                  { return c.conn.Close() }
func (c *Conn) LocalAddr() transport.Address  { return transport.Address(c.local) }
func (c *Conn) RemoteAddr() transport.Address { return transport.Address(c.remote) }
func (c *Conn) NetConn() net.Conn             { return c.conn }

// NewChannelPair returns two connected Channels standing in for the two ends
// of one ISO socket.
func NewChannelPair(local, remote string) (*Conn, *Conn) {
	c1, c2 := net.Pipe()
	return &Conn{local: local, remote: remote, conn: c1}, &Conn{local: remote, remote: local, conn: c2}
}

// ISO is a scriptable ISOTransport: Connect/Listen succeed immediately and
// return one end of a NewChannelPair unless ConnectErr/ListenErr is set.
type ISO struct {
	mu         sync.Mutex
	ConnectErr error
	ListenErr  error
	Opened     []string // src|dst pairs, in call order, for assertions
}

func (t *ISO) Connect(ctx context.Context, src, dst transport.Address, qos transport.IOQoS, deferConn bool) (transport.Channel, error) {
	t.mu.Lock()
	t.Opened = append(t.Opened, string(src)+"|"+string(dst))
	t.mu.Unlock()
	if t.ConnectErr != nil {
		return nil, t.ConnectErr
	}
	local, _ := NewChannelPair(string(src), string(dst))
	return local, nil
}

func (t *ISO) ConnectBroadcast(ctx context.Context, src transport.Address, qos transport.IOQoS, base []byte, deferConn bool) (transport.Channel, error) {
	t.mu.Lock()
	t.Opened = append(t.Opened, "bcast:"+string(src))
	t.mu.Unlock()
	if t.ConnectErr != nil {
		return nil, t.ConnectErr
	}
	local, _ := NewChannelPair(string(src), "bcast")
	return local, nil
}

func (t *ISO) Listen(ctx context.Context, src transport.Address, qos transport.IOQoS) (transport.Channel, error) {
	if t.ListenErr != nil {
		return nil, t.ListenErr
	}
	local, _ := NewChannelPair(string(src), "")
	return local, nil
}

func (t *ISO) Accept(ctx context.Context, ch transport.Channel) (transport.Channel, error) {
	return ch, nil
}

func (t *ISO) AcceptBroadcast(ctx context.Context, ch transport.Channel, bisIndices []uint8) (transport.Channel, error) {
	return ch, nil
}

// Control is a scriptable ControlPlane. Every call succeeds synchronously
// (delivering EventOpComplete to the sink before returning the OpID) unless
// the test installs a Fail entry for that op/stream pair, matching how the
// teacher's retry tests script httptest handlers per attempt.
type Control struct {
	mu   sync.Mutex
	sink transport.EventSink
	Fail map[string]error // key: op.String()+"|"+streamID
}

func NewControl(sink transport.EventSink) *Control {
	return &Control{sink: sink, Fail: map[string]error{}}
}

func (c *Control) complete(op transport.OpKind, streamID string) (transport.OpID, error) {
	id := transport.OpID(op.String() + "-" + uuid.NewString())
	c.mu.Lock()
	err := c.Fail[op.String()+"|"+streamID]
	c.mu.Unlock()
	c.sink.Deliver(transport.Event{Kind: transport.EventOpComplete, Op: op, OpID: id, StreamID: streamID, Err: err})
	return id, nil
}

func (c *Control) ConfigureStream(ctx context.Context, streamID string, caps []byte) (transport.OpID, error) {
	return c.complete(transport.OpConfigure, streamID)
}
func (c *Control) QoSStream(ctx context.Context, streamID string, qos []byte) (transport.OpID, error) {
	return c.complete(transport.OpQoS, streamID)
}
func (c *Control) EnableStream(ctx context.Context, streamID string) (transport.OpID, error) {
	return c.complete(transport.OpEnable, streamID)
}
func (c *Control) ReleaseStream(ctx context.Context, streamID string) (transport.OpID, error) {
	return c.complete(transport.OpRelease, streamID)
}
func (c *Control) MetadataStream(ctx context.Context, streamID string, metadata []byte) (transport.OpID, error) {
	return c.complete(transport.OpMetadata, streamID)
}
func (c *Control) Cancel(ctx context.Context, op transport.OpID) {}
