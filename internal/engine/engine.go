// Package engine implements the Engine Integration Layer (EIL): the single
// public entry point (SetConfiguration) and the dispatcher that funnels every
// transport.Event into the Setup Registry, Group Scheduler and Broadcast
// Pipeline on one logical thread, per spec.md §5. Grounded on bap.c's
// bap_data lifecycle (pac_found/ep_register/bap_ready wiring) and on the
// teacher's cmd/plex-tuner/main.go server-wiring idiom.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/leaudio/bapd/internal/audit"
	"github.com/leaudio/bapd/internal/bperr"
	"github.com/leaudio/bapd/internal/broadcast"
	"github.com/leaudio/bapd/internal/endpoint"
	"github.com/leaudio/bapd/internal/group"
	"github.com/leaudio/bapd/internal/metrics"
	"github.com/leaudio/bapd/internal/pac"
	"github.com/leaudio/bapd/internal/setup"
	"github.com/leaudio/bapd/internal/transport"
)

// Engine owns every collaborator and is the transport.EventSink: all events
// arrive here and are dispatched synchronously under mu, satisfying the
// single-logical-thread requirement of spec.md §5 even when the transport
// calls Deliver from its own goroutines.
type Engine struct {
	mu sync.Mutex

	PACs      *pac.Registry
	Endpoints *endpoint.Directory
	Setups    *setup.Registry
	Groups    *group.Scheduler
	Pipeline  *broadcast.Pipeline

	Metrics *metrics.Metrics
	Audit   *audit.Log // nil when audit logging is disabled

	control    transport.ControlPlane
	iso        transport.ISOTransport
	ctrlTiming *metrics.TimingControlPlane // nil when Metrics is nil
}

// New wires every collaborator together. auditLog may be nil. When m is
// non-nil, cp is wrapped in a metrics.TimingControlPlane so ControlOpLatency
// is observed on every submit/complete round trip without setup (which m
// already depends on for state labels) needing to import metrics itself.
func New(cp transport.ControlPlane, iso transport.ISOTransport, m *metrics.Metrics, auditLog *audit.Log) *Engine {
	var ctrlTiming *metrics.TimingControlPlane
	if m != nil {
		ctrlTiming = metrics.NewTimingControlPlane(cp, m)
		cp = ctrlTiming
	}
	pacs := pac.New()
	eps := endpoint.New()
	setups := setup.New(cp, iso)
	groups := group.New(iso, m)
	e := &Engine{
		PACs:       pacs,
		Endpoints:  eps,
		Setups:     setups,
		Groups:     groups,
		Pipeline:   broadcast.New(iso, pacs, eps, setups, m),
		Metrics:    m,
		Audit:      auditLog,
		control:    cp,
		iso:        iso,
		ctrlTiming: ctrlTiming,
	}
	setups.SetIOOpener(e.openSetupIO)
	return e
}

// openSetupIO is the SSM's Group-Scheduler-gated I/O hook (spec.md §4.4). For
// a KindBroadcast Setup it opens nothing itself: it enqueues a big-sync
// request on the Broadcast PA/BIG Pipeline, whose tick loop opens the
// listener (spec.md §4.6), and returns a nil channel.
func (e *Engine) openSetupIO(ctx context.Context, su *setup.Setup, deferConn bool) (transport.Channel, error) {
	if su.QoS.Kind == setup.KindBroadcast {
		e.Pipeline.Enqueue(&broadcast.Request{
			Kind:    broadcast.KindBigSync,
			Adapter: su.Adapter,
			Src:     transport.Address(su.Adapter),
			QoS: transport.IOQoS{
				Interval: su.QoS.Broadcast.Interval,
				PHY:      su.QoS.Broadcast.PHY,
				SDU:      su.QoS.Broadcast.SDU,
				RTN:      su.QoS.Broadcast.Retransmissions,
				Latency:  su.QoS.Broadcast.Latency,
				Framing:  su.QoS.Broadcast.Framing,
			},
			BISIndex: su.QoS.Broadcast.BIS,
			Setup:    su,
		})
		return nil, nil
	}
	qos := transport.IOQoS{
		Interval: su.QoS.Unicast.Interval,
		PHY:      su.QoS.Unicast.PHY,
		SDU:      su.QoS.Unicast.SDU,
		RTN:      su.QoS.Unicast.Retransmissions,
		Latency:  su.QoS.Unicast.Latency,
		Framing:  su.QoS.Unicast.Framing,
	}
	src := transport.Address(su.Adapter)
	dst := transport.Address(su.Endpoint.Peer)
	return e.Groups.OpenUnicast(ctx, su.Adapter, su, src, dst, qos, deferConn)
}

// Deliver implements transport.EventSink. It is the sole entry point for
// asynchronous transport completions.
func (e *Engine) Deliver(ev transport.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handle(ev)
}

func (e *Engine) handle(ev transport.Event) {
	switch ev.Kind {
	case transport.EventPACAdded:
		if p, ok := ev.PAC.(pac.PAC); ok {
			e.PACs.OnRemoteDiscovered(ev.Peer, p)
		}
	case transport.EventPACRemoved:
		if p, ok := ev.PAC.(pac.PAC); ok {
			e.PACs.OnRemoteRemoved(ev.Peer, p.ID)
		}
	case transport.EventSessionReady:
		e.Endpoints.ReplayAll(ev.Session)
	default:
		if ev.Kind == transport.EventOpComplete && e.ctrlTiming != nil {
			e.ctrlTiming.ObserveComplete(ev.Op, ev.OpID)
		}
		before := e.streamState(ev.StreamID)
		e.Setups.HandleEvent(context.Background(), ev)
		after := e.streamState(ev.StreamID)
		if e.Metrics != nil && before != after {
			e.Metrics.ObserveState(before, after)
		}
		if e.Audit != nil && before != after {
			e.Audit.RecordTransition(context.Background(), time.Now(), ev.StreamID, before.String(), after.String(), nil)
		}
		if before != after && after == setup.StateConfig {
			e.tryOpenBroadcastBatch(context.Background(), ev.StreamID)
		}
	}
}

// tryOpenBroadcastBatch asks the Group Scheduler whether the BIG streamID's
// Setup belongs to is ready to open, per spec.md §4.5, and if so issues QoS
// for every Setup in the planned batch in the scheduler's chosen order. A
// unicast Setup reaching CONFIG already auto-chained into QoS (spec.md §4.4)
// so this is a no-op for it.
func (e *Engine) tryOpenBroadcastBatch(ctx context.Context, streamID string) {
	s, ok := e.Setups.Get(streamID)
	if !ok || s.QoS.Kind != setup.KindBroadcast {
		return
	}
	var siblings []*setup.Setup
	for _, sib := range e.Setups.ForEndpoint(s.Endpoint) {
		if sib != s && sib.Adapter == s.Adapter && sib.QoS.Broadcast.BIG == s.QoS.Broadcast.BIG {
			siblings = append(siblings, sib)
		}
	}
	batch, ready := group.PlanBroadcastOpen(s, siblings)
	if !ready {
		return
	}
	for _, m := range batch.Setups {
		e.Setups.IssueQoS(ctx, m)
	}
}

func (e *Engine) streamState(streamID string) setup.State {
	s, ok := e.Setups.Get(streamID)
	if !ok {
		return setup.StateIdle
	}
	return s.Stream.State
}

// EndpointProperties is the property surface the debug HTTP handler reports
// per endpoint (SPEC_FULL.md §4): ID, UUID, Device, Locations,
// SupportedContext and Context. Codec, Capabilities, Metadata and QoS are not
// included.
type EndpointProperties struct {
	ID               string
	UUID             string
	Device           string
	Locations        uint32
	SupportedContext uint16
	Context          uint16
}

// SetConfiguration is the engine's single public entry point (spec.md §4.4):
// it validates the properties dictionary synchronously (returning
// bperr.ErrInvalidArgs immediately on malformed input) and then drives the
// SSM asynchronously via the Setup Registry.
func (e *Engine) SetConfiguration(ctx context.Context, endpointID, adapter string, caps []byte, qosDict map[string]any, metadata []byte) (*setup.Setup, error) {
	e.mu.Lock()
	ep, ok := e.Endpoints.Get(endpointID)
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown endpoint %q", bperr.ErrInvalidArgs, endpointID)
	}

	s, err := e.Setups.SetConfiguration(ctx, ep, adapter, caps, qosDict, metadata)
	if err != nil {
		if e.Metrics != nil {
			e.Metrics.ObserveTeardown(metrics.ReasonConfigureFailed)
		}
		return nil, err
	}
	return s, nil
}

// Release tears down a Setup, canceling any pending operation first.
func (e *Engine) Release(ctx context.Context, s *setup.Setup) error {
	err := e.Setups.Release(ctx, s)
	if err != nil && e.Metrics != nil {
		e.Metrics.ObserveTeardown(metrics.ReasonQoSFailed)
	}
	return err
}

// RunBroadcastTicker drives the Broadcast PA/BIG Pipeline's tick loop for
// every configured adapter until ctx is canceled. Callers run this as a
// background goroutine; the engine itself does not spawn goroutines on
// construction, matching the teacher's explicit main()-owned goroutine
// wiring.
func (e *Engine) RunBroadcastTicker(ctx context.Context, adapters []string, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.mu.Lock()
			for _, a := range adapters {
				e.Pipeline.Tick(ctx, a)
				if e.Metrics != nil {
					e.Metrics.BroadcastQueue.WithLabelValues(a).Set(float64(e.Pipeline.QueueDepth(a)))
				}
			}
			e.mu.Unlock()
		}
	}
}

// LogStartup writes the one-line startup banner the teacher's main() prints
// before entering its serve loop.
func LogStartup(adapters []string, debugAddr, metricsAddr string) {
	log.Printf("bapd: adapters=%v debug=%s metrics=%s", adapters, debugAddr, metricsAddr)
}
