// Package endpoint implements the Endpoint Directory (ED): the mapping from
// (local PAC, remote PAC) pairs observed per peer to stable, path-like
// Endpoint identifiers, grounded on spec.md §4.2 and bap.c's ep_register /
// ep_register_bcast / ep_update_properties.
package endpoint

import (
	"fmt"
	"sync"

	"github.com/leaudio/bapd/internal/pac"
)

// Role groups endpoints the way bap_data keeps three separate GSList
// members (snks, srcs, bcast).
type Role int

const (
	RoleSink Role = iota
	RoleSource
	RoleBroadcast
)

func (r Role) String() string {
	switch r {
	case RoleSink:
		return "sink"
	case RoleSource:
		return "source"
	case RoleBroadcast:
		return "bcast"
	default:
		return "unknown"
	}
}

// Endpoint is a single local/remote PAC pairing, spec.md §3.
type Endpoint struct {
	ID       string
	Peer     string // empty for an adapter-scoped local broadcast source
	Role     Role
	LocalPAC pac.PAC
	// RemotePAC is nil only for local broadcast-source endpoints.
	RemotePAC *pac.PAC

	Locations        uint32
	SupportedContext uint16
	Context          uint16
}

// EventKind distinguishes the notifications ED emits to EIL subscribers.
type EventKind int

const (
	EventRegistered EventKind = iota
	EventUnregistered
	EventPropertyChanged
)

type Event struct {
	Kind     EventKind
	Endpoint Endpoint
}

type peerEndpoints struct {
	byRole [3][]*Endpoint
	// pairIndex finds an existing endpoint by (local PAC id, remote PAC id);
	// remote id 0 means "no remote PAC" (local broadcast source).
	pairIndex map[pairKey]*Endpoint
}

type pairKey struct {
	local, remote uint64
}

// Directory is the Endpoint Directory.
type Directory struct {
	mu        sync.Mutex
	peers     map[string]*peerEndpoints
	listeners []func(Event)
}

func New() *Directory {
	return &Directory{peers: make(map[string]*peerEndpoints)}
}

func (d *Directory) AddListener(fn func(Event)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, fn)
}

func roleFor(direction pac.Direction) Role {
	switch direction {
	case pac.DirectionSink:
		return RoleSink
	case pac.DirectionSource:
		return RoleSource
	default:
		return RoleBroadcast
	}
}

// Register creates or reuses the Endpoint for (peer, localPAC, remotePAC).
// Idempotent: registering the same pair twice returns the same Endpoint and
// fires no duplicate notification (spec.md P6).
func (d *Directory) Register(peer string, localPAC pac.PAC, remotePAC *pac.PAC) (*Endpoint, bool) {
	d.mu.Lock()
	pe, ok := d.peers[peer]
	if !ok {
		pe = &peerEndpoints{pairIndex: make(map[pairKey]*Endpoint)}
		d.peers[peer] = pe
	}
	var remoteID uint64
	if remotePAC != nil {
		remoteID = remotePAC.ID
	}
	key := pairKey{local: localPAC.ID, remote: remoteID}
	if ep, exists := pe.pairIndex[key]; exists {
		d.mu.Unlock()
		return ep, false
	}

	role := roleFor(localPAC.Direction)
	index := len(pe.byRole[role])
	ep := &Endpoint{
		ID:       fmt.Sprintf("%s/pac_%s%d", peer, role, index),
		Peer:     peer,
		Role:     role,
		LocalPAC: localPAC,
	}
	if remotePAC != nil {
		rp := *remotePAC
		ep.RemotePAC = &rp
		ep.Locations = rp.Locations
		ep.SupportedContext = rp.SupportedContexts
		ep.Context = rp.Contexts
	}
	pe.byRole[role] = append(pe.byRole[role], ep)
	pe.pairIndex[key] = ep
	listeners := append([]func(Event){}, d.listeners...)
	d.mu.Unlock()

	for _, fn := range listeners {
		fn(Event{Kind: EventRegistered, Endpoint: *ep})
	}
	return ep, true
}

// RegisterBroadcastSource registers an adapter-scoped local broadcast-source
// endpoint, which has no peer and no remote PAC (spec.md §3 invariant and
// bap.c's per-adapter pac_found_bcast path, see SPEC_FULL.md §4).
func (d *Directory) RegisterBroadcastSource(adapterID string, localPAC pac.PAC) (*Endpoint, bool) {
	return d.Register(adapterID, localPAC, nil)
}

// Unregister removes the Endpoint matching (peer, localPAC.ID, remotePACID)
// and fires EventUnregistered. Callers are responsible for releasing any
// setups first (spec.md §4.2: "pending setups are released through SSM").
func (d *Directory) Unregister(peer string, localPACID, remotePACID uint64) (*Endpoint, bool) {
	d.mu.Lock()
	pe, ok := d.peers[peer]
	if !ok {
		d.mu.Unlock()
		return nil, false
	}
	key := pairKey{local: localPACID, remote: remotePACID}
	ep, ok := pe.pairIndex[key]
	if !ok {
		d.mu.Unlock()
		return nil, false
	}
	delete(pe.pairIndex, key)
	list := pe.byRole[ep.Role]
	for i, e := range list {
		if e == ep {
			pe.byRole[ep.Role] = append(list[:i], list[i+1:]...)
			break
		}
	}
	listeners := append([]func(Event){}, d.listeners...)
	d.mu.Unlock()

	for _, fn := range listeners {
		fn(Event{Kind: EventUnregistered, Endpoint: *ep})
	}
	return ep, true
}

// RefreshProperties updates an Endpoint's cached locations/supported
// context/context from an updated remote PAC and fires EventPropertyChanged
// only if something actually changed (spec.md §4.2).
func (d *Directory) RefreshProperties(ep *Endpoint, remotePAC pac.PAC) {
	d.mu.Lock()
	changed := ep.Locations != remotePAC.Locations ||
		ep.SupportedContext != remotePAC.SupportedContexts ||
		ep.Context != remotePAC.Contexts
	if changed {
		rp := remotePAC
		ep.RemotePAC = &rp
		ep.Locations = remotePAC.Locations
		ep.SupportedContext = remotePAC.SupportedContexts
		ep.Context = remotePAC.Contexts
	}
	listeners := append([]func(Event){}, d.listeners...)
	d.mu.Unlock()
	if !changed {
		return
	}
	for _, fn := range listeners {
		fn(Event{Kind: EventPropertyChanged, Endpoint: *ep})
	}
}

// ReplayAll re-emits EventRegistered for every Endpoint already known for
// peer, so a subscriber attaching after the fact still sees everything once
// the transport reports capability exchange complete (bap_ready, spec.md §4
// Supplemented Features).
func (d *Directory) ReplayAll(peer string) {
	d.mu.Lock()
	pe, ok := d.peers[peer]
	if !ok {
		d.mu.Unlock()
		return
	}
	var snapshot []Endpoint
	for _, role := range pe.byRole {
		for _, ep := range role {
			snapshot = append(snapshot, *ep)
		}
	}
	listeners := append([]func(Event){}, d.listeners...)
	d.mu.Unlock()
	for _, ep := range snapshot {
		for _, fn := range listeners {
			fn(Event{Kind: EventRegistered, Endpoint: ep})
		}
	}
}

// ByRole returns a copy of the endpoint list for peer/role, in stable index
// order.
func (d *Directory) ByRole(peer string, role Role) []*Endpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	pe, ok := d.peers[peer]
	if !ok {
		return nil
	}
	return append([]*Endpoint{}, pe.byRole[role]...)
}

// All returns a snapshot of every known Endpoint across every peer, for the
// debug introspection surface (SPEC_FULL.md §4).
func (d *Directory) All() []Endpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Endpoint
	for _, pe := range d.peers {
		for _, role := range pe.byRole {
			for _, ep := range role {
				out = append(out, *ep)
			}
		}
	}
	return out
}

// Get looks up an Endpoint by id across every peer. O(peers*endpoints); the
// directory is expected to hold at most a few dozen endpoints per adapter.
func (d *Directory) Get(id string) (*Endpoint, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, pe := range d.peers {
		for _, role := range pe.byRole {
			for _, ep := range role {
				if ep.ID == id {
					return ep, true
				}
			}
		}
	}
	return nil, false
}
