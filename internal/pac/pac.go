// Package pac implements the Capability Registry (CR): the canonical store
// of local Published Audio Capabilities and the remote PACs observed per
// peer, grounded on spec.md §4.1 and bap.c's pac_register/pac_found_bcast.
package pac

import (
	"sync"
)

// Direction is the PAC role, spec.md §3.
type Direction int

const (
	DirectionSink Direction = iota
	DirectionSource
	DirectionBroadcastSink
	DirectionBroadcastSource
)

func (d Direction) String() string {
	switch d {
	case DirectionSink:
		return "sink"
	case DirectionSource:
		return "source"
	case DirectionBroadcastSink:
		return "bcast-sink"
	case DirectionBroadcastSource:
		return "bcast-source"
	default:
		return "unknown"
	}
}

// CodecID identifies a codec the way the Bluetooth SIG assigned-numbers
// table does: a codec id plus company/vendor id pair for vendor codecs.
type CodecID struct {
	ID  uint8
	CID uint16
	VID uint16
}

// QoS is the PAC's preferred/supported QoS envelope (spec.md §3).
type QoS struct {
	Framing               uint8
	PHY                   uint8
	RTN                   uint8
	Latency               uint16
	PresentationDelayMin  uint32
	PresentationDelayMax  uint32
	PresentationDelayPref uint32
}

// PAC is a single Published Audio Capability.
type PAC struct {
	ID                uint64
	Direction         Direction
	Codec             CodecID
	Capabilities      []byte // LTV-encoded
	QoS               QoS
	Locations         uint32
	SupportedContexts uint16
	Contexts          uint16
}

// EventKind distinguishes the two notifications CR emits.
type EventKind int

const (
	EventAdded EventKind = iota
	EventRemoved
)

// Event is delivered to registry listeners on remote PAC discovery/removal.
type Event struct {
	Kind EventKind
	Peer string
	PAC  PAC
}

// Registry is the Capability Registry. Zero value is not usable; use New.
type Registry struct {
	mu        sync.Mutex
	nextID    uint64
	local     []PAC
	remote    map[string][]PAC // peer -> pacs
	listeners []func(Event)
}

func New() *Registry {
	return &Registry{remote: make(map[string][]PAC)}
}

// AddListener registers a callback invoked synchronously (single-threaded
// cooperative model, spec.md §5) whenever a remote PAC is added or removed.
func (r *Registry) AddListener(fn func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// RegisterLocal is idempotent by (direction, codec, capabilities): calling it
// twice with identical values returns the existing PAC rather than creating a
// duplicate, mirroring bap_probe's pac_register dedup.
func (r *Registry) RegisterLocal(direction Direction, codec CodecID, caps []byte, qos QoS, locations uint32, supportedCtx, ctx uint16) PAC {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.local {
		if p.Direction == direction && p.Codec == codec && string(p.Capabilities) == string(caps) {
			return p
		}
	}
	r.nextID++
	p := PAC{
		ID:                r.nextID,
		Direction:         direction,
		Codec:             codec,
		Capabilities:      append([]byte(nil), caps...),
		QoS:               qos,
		Locations:         locations,
		SupportedContexts: supportedCtx,
		Contexts:          ctx,
	}
	r.local = append(r.local, p)
	return p
}

// ForEach visits every local PAC of the given direction in registration
// order. The visitor must not call back into the registry.
func (r *Registry) ForEach(direction Direction, visit func(PAC)) {
	r.mu.Lock()
	snapshot := make([]PAC, 0, len(r.local))
	for _, p := range r.local {
		if p.Direction == direction {
			snapshot = append(snapshot, p)
		}
	}
	r.mu.Unlock()
	for _, p := range snapshot {
		visit(p)
	}
}

// RemotePACs returns a copy of the PACs observed for peer.
func (r *Registry) RemotePACs(peer string) []PAC {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PAC(nil), r.remote[peer]...)
}

// OnRemoteDiscovered records a newly observed remote PAC and fires
// EventAdded. Unknown codecs are recorded anyway; matching (verify_bis,
// MatchLocal) silently skips what it doesn't recognize per spec.md §4.1.
func (r *Registry) OnRemoteDiscovered(peer string, p PAC) {
	r.mu.Lock()
	r.nextID++
	p.ID = r.nextID
	r.remote[peer] = append(r.remote[peer], p)
	listeners := append([]func(Event){}, r.listeners...)
	r.mu.Unlock()
	for _, fn := range listeners {
		fn(Event{Kind: EventAdded, Peer: peer, PAC: p})
	}
}

// OnRemoteRemoved removes a previously observed remote PAC (matched by ID)
// and fires EventRemoved.
func (r *Registry) OnRemoteRemoved(peer string, pacID uint64) {
	r.mu.Lock()
	list := r.remote[peer]
	var removed PAC
	found := false
	out := list[:0:0]
	for _, p := range list {
		if p.ID == pacID {
			removed = p
			found = true
			continue
		}
		out = append(out, p)
	}
	r.remote[peer] = out
	listeners := append([]func(Event){}, r.listeners...)
	r.mu.Unlock()
	if !found {
		return
	}
	for _, fn := range listeners {
		fn(Event{Kind: EventRemoved, Peer: peer, PAC: removed})
	}
}

// MatchLocal finds the best local PAC for a remote PAC: codec id first, then
// capability LTV intersection (spec.md §4.1). Unknown codec -> no match,
// never an error.
func (r *Registry) MatchLocal(direction Direction, remoteCodec CodecID, remoteCaps []byte) (PAC, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.local {
		if p.Direction != direction || p.Codec != remoteCodec {
			continue
		}
		if capsCompatible(p.Capabilities, remoteCaps) {
			return p, true
		}
	}
	return PAC{}, false
}

// VerifyBIS matches a BIS's merged level-2+level-3 capabilities against a
// local broadcast-sink PAC for codec, merging the subgroup (level-2) and
// per-BIS (level-3) capability LTVs first, per spec.md §4.6.
func (r *Registry) VerifyBIS(codec CodecID, capsLevel2, capsLevel3 []byte) (PAC, []byte, bool) {
	merged := mergeLTV(capsLevel2, capsLevel3)
	p, ok := r.MatchLocal(DirectionBroadcastSink, codec, merged)
	if !ok {
		return PAC{}, nil, false
	}
	return p, merged, true
}

// capsCompatible reports whether a remote capability blob is compatible with
// a local one. Matching is by LTV-type intersection: every type the remote
// requires must be present locally. An empty remote blob always matches
// (no constraint expressed).
func capsCompatible(local, remote []byte) bool {
	if len(remote) == 0 {
		return true
	}
	localTypes := ltvTypes(local)
	for t := range ltvTypes(remote) {
		if !localTypes[t] {
			return false
		}
	}
	return true
}

// ltvTypes parses a Length-Type-Value blob and returns the set of type
// bytes present. Malformed trailing bytes are ignored (never fatal, per
// spec.md §4.1).
func ltvTypes(b []byte) map[byte]bool {
	out := map[byte]bool{}
	i := 0
	for i < len(b) {
		length := int(b[i])
		i++
		if length == 0 || i+length > len(b) {
			break
		}
		out[b[i]] = true
		i += length
	}
	return out
}

// mergeLTV concatenates two LTV blobs; later entries of the same type don't
// override earlier ones (both are visible to downstream consumers), it's
// still valid LTV since readers take the first match.
func mergeLTV(level2, level3 []byte) []byte {
	out := make([]byte, 0, len(level2)+len(level3))
	out = append(out, level2...)
	out = append(out, level3...)
	return out
}
