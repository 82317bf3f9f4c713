// Package setup implements the Setup Registry (SR) and the Stream State
// Machine (SSM) it drives. The two are colocated in one package because
// spec.md §3 makes them mutually referential for the lifetime of a Setup
// (Setup -> Stream -> Setup back-pointer); splitting them across packages
// would force an import cycle Go cannot express. Grounded on bap.c's
// bap_setup_ref/unref/free and the CONFIG/QOS/ENABLING transition handlers.
package setup

import (
	"context"
	"fmt"
	"sync"

	"github.com/leaudio/bapd/internal/bperr"
	"github.com/leaudio/bapd/internal/endpoint"
	"github.com/leaudio/bapd/internal/transport"
)

// Setup is one configured stream attempt against an Endpoint: its QoS,
// capabilities, metadata, optional BASE (broadcast only) and the Stream
// driving it through the SSM (spec.md §3).
type Setup struct {
	ID       string
	Adapter  string // adapter this setup's CIG/BIG is scoped to (Group Scheduler key)
	Endpoint *endpoint.Endpoint
	Stream   *Stream

	Capabilities []byte // LTV, as accepted at CONFIG
	Metadata     []byte // LTV, as passed to SetConfiguration
	QoS          QoS
	BASE         []byte // non-nil only for a broadcast-source Setup

	Channel transport.Channel
	pending transport.OpID // empty when nothing outstanding

	// RecreateWhenIdle is set on an unexpected transport disconnect so the
	// Group Scheduler knows to tear down and rebuild the owning CIG/BIG the
	// next time it goes idle, rather than immediately (spec.md §3/§6).
	RecreateWhenIdle bool
	// GroupActive mirrors whether the owning CIG/BIG is currently open; the
	// Group Scheduler is the only writer.
	GroupActive bool
}

// registryKey is how the Registry keys a Setup's parent collection: every
// unicast Endpoint owns at most a handful of Setups, and a broadcast-source
// Endpoint owns one Setup per configured BIS (spec.md P1).
type registryKey struct {
	endpointID string
}

// Registry is the Setup Registry.
type Registry struct {
	mu   sync.Mutex
	byID map[string]*Setup
	// byEndpoint groups a parent endpoint's own setups (P1: ownership follows
	// the endpoint that created the setup, never the peer that merely shares
	// a CIG/BIG with it).
	byEndpoint map[registryKey][]*Setup
	nextSeq    int

	control   transport.ControlPlane
	transport transport.ISOTransport

	// openIO opens su's ISO socket, gated by the Group Scheduler's busy test
	// and BIS ordering rules; deferConn matches the SSM table's defer flag
	// for the triggering transition. nil openIO (e.g. in unit tests that
	// don't exercise I/O) makes effectCreateIODefer/effectCreateIONoDefer a
	// no-op. Set via SetIOOpener; the engine is the only caller because it's
	// the one collaborator holding both the Setup Registry and the Group
	// Scheduler.
	openIO func(ctx context.Context, su *Setup, deferConn bool) (transport.Channel, error)
}

// New constructs a Registry driving control plane cp and ISO transport iso.
func New(cp transport.ControlPlane, iso transport.ISOTransport) *Registry {
	return &Registry{
		byID:       make(map[string]*Setup),
		byEndpoint: make(map[registryKey][]*Setup),
		control:    cp,
		transport:  iso,
	}
}

// SetIOOpener installs the Group-Scheduler-gated socket opener the SSM's
// QOS-entry and ENABLING-entry transitions invoke (spec.md §4.4).
func (r *Registry) SetIOOpener(fn func(ctx context.Context, su *Setup, deferConn bool) (transport.Channel, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openIO = fn
}

// ForEndpoint returns a copy of the setups owned by ep (P1).
func (r *Registry) ForEndpoint(ep *endpoint.Endpoint) []*Setup {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Setup{}, r.byEndpoint[registryKey{ep.ID}]...)
}

// Get looks up a Setup by id.
func (r *Registry) Get(id string) (*Setup, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	return s, ok
}

func (r *Registry) newSetup(ep *endpoint.Endpoint, adapter string, dir Direction, kind Kind) *Setup {
	r.nextSeq++
	s := &Setup{
		ID:       fmt.Sprintf("%s/setup%d", ep.ID, r.nextSeq),
		Adapter:  adapter,
		Endpoint: ep,
	}
	s.Stream = &Stream{setup: s, State: StateIdle, Direction: dir, QoSKind: kind}
	r.byID[s.ID] = s
	key := registryKey{ep.ID}
	r.byEndpoint[key] = append(r.byEndpoint[key], s)
	return s
}

func (r *Registry) dropSetup(s *Setup) {
	delete(r.byID, s.ID)
	key := registryKey{s.Endpoint.ID}
	list := r.byEndpoint[key]
	for i, e := range list {
		if e == s {
			r.byEndpoint[key] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// SetConfiguration implements the single public entry point of spec.md §4.4:
// validate the properties dictionary synchronously, then drive CONFIG
// asynchronously. For a unicast endpoint already holding a Setup, this is a
// reconfiguration: the existing Setup is reused, its pending control-plane op
// (if any) is canceled before the new configure is issued, and when its stream
// is in CONFIG the completion takes the SSM's CONFIG->CONFIG row; a stream
// already past CONFIG keeps its state. A broadcast-source endpoint always
// gets a fresh Setup, since it supports concurrent BIS setups (spec.md §4.5).
func (r *Registry) SetConfiguration(ctx context.Context, ep *endpoint.Endpoint, adapter string, caps []byte, qosDict map[string]any, metadata []byte) (*Setup, error) {
	isBroadcast := ep.Role == endpoint.RoleBroadcast
	qos, err := ParseQoS(qosDict, isBroadcast)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	var s *Setup
	var prevOp transport.OpID
	if isBroadcast {
		s = r.newSetup(ep, adapter, DirectionSource, KindBroadcast)
	} else {
		existing := r.byEndpoint[registryKey{ep.ID}]
		if len(existing) > 0 {
			s = existing[0]
			prevOp = s.pending
			s.pending = ""
		} else {
			dir := DirectionSink
			if ep.Role == endpoint.RoleSource {
				dir = DirectionSource
			}
			s = r.newSetup(ep, adapter, dir, KindUnicast)
		}
	}
	s.Capabilities = append([]byte(nil), caps...)
	s.Metadata = append([]byte(nil), metadata...)
	s.QoS = qos
	streamID := s.ID
	r.mu.Unlock()

	if prevOp != "" {
		r.control.Cancel(ctx, prevOp)
	}
	op, err := r.control.ConfigureStream(ctx, streamID, s.Capabilities)
	if err != nil {
		r.mu.Lock()
		r.dropSetup(s)
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: configure rejected: %v", bperr.ErrUnableToConfigure, err)
	}
	r.mu.Lock()
	s.pending = op
	r.mu.Unlock()
	return s, nil
}

// Release drives a Setup's Stream into RELEASING and issues the release
// control-plane request, canceling any pending op first (spec.md §4.4).
func (r *Registry) Release(ctx context.Context, s *Setup) error {
	r.mu.Lock()
	pending := s.pending
	effects := s.Stream.onRelease()
	r.mu.Unlock()
	if pending != "" {
		r.control.Cancel(ctx, pending)
	}
	for _, e := range effects {
		if e == effectCloseIOCancelOp && s.Channel != nil {
			s.Channel.Close()
			s.Channel = nil
		}
	}
	op, err := r.control.ReleaseStream(ctx, s.ID)
	if err != nil {
		return fmt.Errorf("%w: release rejected: %v", bperr.ErrUnableToConfigure, err)
	}
	r.mu.Lock()
	s.pending = op
	r.mu.Unlock()
	return nil
}

// Enable drives a Setup's Stream from QOS to ENABLING (spec.md §4.4's
// "QOS -> enable -> ENABLING" row), triggered by either the peer or local
// policy per spec.md §6; the Registry itself has no opinion on who may call
// this. Unlike configure/qos/release, the table fires the transition and its
// I/O side effect on the enable trigger itself, not on a later completion
// callback; EnableStream is still issued so the control plane learns the
// stream moved, but its result doesn't gate ENABLING.
func (r *Registry) Enable(ctx context.Context, s *Setup) error {
	r.mu.Lock()
	effects := s.Stream.onEnable()
	r.mu.Unlock()
	if len(effects) == 0 {
		return fmt.Errorf("%w: enable called outside QOS state", bperr.ErrInvalidArgs)
	}
	r.applyEffects(ctx, s, effects)

	op, err := r.control.EnableStream(ctx, s.ID)
	if err != nil {
		return fmt.Errorf("%w: enable notification rejected: %v", bperr.ErrUnableToConfigure, err)
	}
	r.mu.Lock()
	s.pending = op
	r.mu.Unlock()
	return nil
}

// IssueQoS requests QoS for a Setup sitting in CONFIG whose chain does not
// auto-advance on configure completion: spec.md §4.4's unicast row chains
// configure straight into QoS, but a broadcast-source Setup stays in CONFIG
// until the Group Scheduler's batch-open plan says the whole BIG is ready
// (spec.md §4.5), at which point the caller (engine) calls this once per
// Setup in the planned order.
func (r *Registry) IssueQoS(ctx context.Context, s *Setup) error {
	r.mu.Lock()
	if s.Stream.State != StateConfig {
		r.mu.Unlock()
		return fmt.Errorf("%w: issue qos called outside CONFIG", bperr.ErrInvalidArgs)
	}
	r.mu.Unlock()

	qosBytes := encodeQoSPlaceholder(s.QoS)
	op, err := r.control.QoSStream(ctx, s.ID, qosBytes)
	if err != nil {
		r.mu.Lock()
		r.dropSetup(s)
		r.mu.Unlock()
		return fmt.Errorf("%w: qos rejected: %v", bperr.ErrUnableToConfigure, err)
	}
	r.mu.Lock()
	s.pending = op
	r.mu.Unlock()
	return nil
}

// HandleEvent folds one transport.Event into the owning Setup's Stream,
// performing whatever side effects the SSM table requires. It is meant to be
// called only from the engine's single dispatcher goroutine (spec.md §5).
func (r *Registry) HandleEvent(ctx context.Context, ev transport.Event) {
	r.mu.Lock()
	s, ok := r.byID[ev.StreamID]
	r.mu.Unlock()
	if !ok {
		return
	}

	switch ev.Kind {
	case transport.EventOpComplete:
		r.handleOpComplete(ctx, s, ev)
	case transport.EventConnecting:
		if s.Stream.onConnecting(ev.Channel) {
			// Record kernel-assigned CIG/CIS (or BIG/BIS) ids that were unset.
			r.mu.Lock()
			group, stream := &s.QoS.Unicast.CIG, &s.QoS.Unicast.CIS
			if s.QoS.Kind == KindBroadcast {
				group, stream = &s.QoS.Broadcast.BIG, &s.QoS.Broadcast.BIS
			}
			if *group == Unset && ev.AssignedGroup != Unset {
				*group = ev.AssignedGroup
			}
			if *stream == Unset && ev.AssignedStream != Unset {
				*stream = ev.AssignedStream
			}
			r.mu.Unlock()
		}
	case transport.EventReady:
		s.Stream.onReady()
	case transport.EventDisconnect:
		r.mu.Lock()
		effects := s.Stream.onDisconnect()
		r.mu.Unlock()
		for _, e := range effects {
			if e == effectMarkRecreateCloseIO {
				s.RecreateWhenIdle = true
				if s.Channel != nil {
					s.Channel.Close()
					s.Channel = nil
				}
			}
		}
	}
}

func (r *Registry) handleOpComplete(ctx context.Context, s *Setup, ev transport.Event) {
	ok := ev.Err == nil
	var effects []sideEffect
	r.mu.Lock()
	switch ev.Op {
	case transport.OpConfigure:
		effects = s.Stream.onConfigureResult(ok)
	case transport.OpQoS:
		effects = s.Stream.onQoSResult(ok)
	case transport.OpRelease:
		effects = s.Stream.onReleaseAck()
	}
	s.pending = ""
	r.mu.Unlock()

	r.applyEffects(ctx, s, effects)
}

// applyEffects performs the Registry-level side effects the SSM table
// requires for effects returned by a Stream transition.
func (r *Registry) applyEffects(ctx context.Context, s *Setup, effects []sideEffect) {
	for _, e := range effects {
		switch e {
		case effectIssueQoS:
			qosBytes := encodeQoSPlaceholder(s.QoS)
			op, err := r.control.QoSStream(ctx, s.ID, qosBytes)
			if err != nil {
				r.mu.Lock()
				r.dropSetup(s)
				r.mu.Unlock()
				continue
			}
			r.mu.Lock()
			s.pending = op
			r.mu.Unlock()
		case effectCreateIODefer:
			r.openSocket(ctx, s, true)
		case effectCreateIONoDefer:
			r.openSocket(ctx, s, false)
		case effectFreeSetup:
			r.mu.Lock()
			r.dropSetup(s)
			r.mu.Unlock()
		}
	}
}

// openSocket invokes the Group-Scheduler-gated opener, if one was installed,
// and attaches the resulting channel to s. A nil opener or a deferred open
// that the scheduler declines to start immediately is not an error: the
// scheduler will recreate the socket once the owning group goes idle.
func (r *Registry) openSocket(ctx context.Context, s *Setup, deferConn bool) {
	r.mu.Lock()
	opener := r.openIO
	r.mu.Unlock()
	if opener == nil {
		return
	}
	ch, err := opener(ctx, s, deferConn)
	if err != nil || ch == nil {
		return
	}
	s.Channel = ch
}

// encodeQoSPlaceholder is a stand-in wire encoder: the real ATT/GATT byte
// layout for a QoS write is owned by the control-plane collaborator, out of
// scope per spec.md Non-goals. The Registry only needs a stable byte
// representation to hand across the ControlPlane boundary.
func encodeQoSPlaceholder(q QoS) []byte {
	if q.Kind == KindBroadcast {
		return []byte{byte(q.Kind), q.Broadcast.BIG, q.Broadcast.BIS}
	}
	return []byte{byte(q.Kind), q.Unicast.CIG, q.Unicast.CIS}
}
