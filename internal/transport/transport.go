// Package transport declares the boundary between the orchestration engine
// and the collaborators the spec places out of scope: the kernel ISO socket
// implementation and the GATT/control-plane stack underneath it. Nothing in
// this package talks to a kernel socket directly; internal/transport/fakeiso
// provides a test double whose channels are net.Pipe pairs (checked against
// golang.org/x/net/nettest's net.Conn conformance suite).
package transport

import (
	"context"
	"fmt"

	"github.com/leaudio/bapd/internal/bperr"
)

// OpKind identifies which control-plane request an OpComplete event answers.
type OpKind int

const (
	OpConfigure OpKind = iota
	OpQoS
	OpEnable
	OpRelease
	OpMetadata
)

func (k OpKind) String() string {
	switch k {
	case OpConfigure:
		return "configure"
	case OpQoS:
		return "qos"
	case OpEnable:
		return "enable"
	case OpRelease:
		return "release"
	case OpMetadata:
		return "metadata"
	default:
		return "unknown"
	}
}

// OpID is the opaque pending-operation id spec.md §5 requires for cancellation.
type OpID string

// Address is a peer or adapter address in the form the ISO layer expects
// ("AA:BB:CC:DD:EE:FF" style); the engine treats it as an opaque string.
type Address string

// IOQoS is the I/O-level quality-of-service shared by CIS and BIS sockets:
// interval, PHY, SDU size, retransmission number and max transport latency.
type IOQoS struct {
	Interval uint32
	PHY      uint8
	SDU      uint16
	RTN      uint8
	Latency  uint16
	Framing  uint8
}

// Channel is an open or opening ISO socket. Implementations must deliver
// exactly one of Confirm or a Disconnect event per channel, and must be safe
// to Close more than once.
type Channel interface {
	// Close tears down the channel. Safe to call multiple times.
	Close() error
	// LocalAddr/RemoteAddr mirror net.Conn for diagnostics; either may be empty
	// for a listener that has not accepted yet.
	LocalAddr() Address
	RemoteAddr() Address
}

// EventKind enumerates the asynchronous signals spec.md §6 says the engine
// consumes from the transport.
type EventKind int

const (
	EventOpComplete EventKind = iota
	EventConnecting
	EventReady
	EventDisconnect
	EventPACAdded
	EventPACRemoved
	EventSessionReady
)

// Event is the single message type every transport callback is funneled
// into. Exactly the fields relevant to Kind are populated; the rest are zero.
type Event struct {
	Kind EventKind

	// EventOpComplete
	Op    OpKind
	OpID  OpID
	Err   error

	// EventConnecting / EventReady / EventDisconnect / EventOpComplete all
	// name the stream they concern.
	StreamID string

	// EventConnecting
	InProgress bool
	Channel    Channel
	// AssignedGroup/AssignedStream (CIG/CIS or BIG/BIS, by setup kind) are filled in when
	// the kernel assigns a group/stream id that was "unset" at request time.
	AssignedGroup  uint8
	AssignedStream uint8

	// EventPACAdded / EventPACRemoved
	Peer string
	// PAC carries an opaque payload; concrete type is pac.PAC, boxed here to
	// avoid an import cycle (transport sits below pac).
	PAC any

	// EventSessionReady
	Session string
}

func (e Event) String() string {
	return fmt.Sprintf("transport.Event{kind=%d stream=%q op=%s opid=%s err=%v}", e.Kind, e.StreamID, e.Op, e.OpID, e.Err)
}

// EventSink receives transport events. The engine implements this with a
// single dispatcher so that, per spec.md §5, all state transitions run on
// one logical thread even though transports may deliver from other
// goroutines.
type EventSink interface {
	Deliver(ev Event)
}

// ControlPlane is the GATT/control-plane collaborator: it turns a
// configure/qos/enable/release/metadata request into an eventual OpComplete
// event delivered to the EventSink supplied at construction.
type ControlPlane interface {
	ConfigureStream(ctx context.Context, streamID string, caps []byte) (OpID, error)
	QoSStream(ctx context.Context, streamID string, qos []byte) (OpID, error)
	EnableStream(ctx context.Context, streamID string) (OpID, error)
	ReleaseStream(ctx context.Context, streamID string) (OpID, error)
	MetadataStream(ctx context.Context, streamID string, metadata []byte) (OpID, error)
	Cancel(ctx context.Context, op OpID)
}

// ISOTransport is the kernel ISO socket collaborator.
type ISOTransport interface {
	// Connect opens a unicast CIS socket. deferConn requests the socket be
	// opened without starting transmission (see spec.md Defer glossary entry).
	Connect(ctx context.Context, src, dst Address, qos IOQoS, deferConn bool) (Channel, error)
	// ConnectBroadcast opens a BIS socket for a local broadcast source.
	ConnectBroadcast(ctx context.Context, src Address, qos IOQoS, base []byte, deferConn bool) (Channel, error)
	// Listen opens a PA/BIG sync listener for a broadcast sink.
	Listen(ctx context.Context, src Address, qos IOQoS) (Channel, error)
	// Accept completes a unicast listener into an open fd-bearing channel.
	Accept(ctx context.Context, ch Channel) (Channel, error)
	// AcceptBroadcast completes a BIG-sync listener for the given BIS indices.
	AcceptBroadcast(ctx context.Context, ch Channel, bisIndices []uint8) (Channel, error)
}

// ErrNotSupported is surfaced once at engine initialization per spec.md §7
// when the host lacks the ISO transport feature. It wraps bperr.ErrNotSupported
// so callers can match with a single errors.Is check regardless of which
// layer produced the failure.
var ErrNotSupported = fmt.Errorf("transport: ISO feature not supported by host: %w", bperr.ErrNotSupported)
