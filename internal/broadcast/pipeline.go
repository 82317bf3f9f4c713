package broadcast

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/leaudio/bapd/internal/bperr"
	"github.com/leaudio/bapd/internal/endpoint"
	"github.com/leaudio/bapd/internal/metrics"
	"github.com/leaudio/bapd/internal/pac"
	"github.com/leaudio/bapd/internal/setup"
	"github.com/leaudio/bapd/internal/transport"
)

// dispatchRateLimit bounds how many short-sync/big-sync dispatches a single
// adapter's Tick may start per second, so a peer advertising many BASEs in a
// row cannot starve that adapter's queue drain.
const dispatchRateLimit = 5

// RequestKind distinguishes the two request shapes a per-adapter queue
// carries, spec.md §4.6.
type RequestKind int

const (
	KindShortSync RequestKind = iota
	KindBigSync
)

// Request is one queued broadcast operation.
type Request struct {
	Kind      RequestKind
	Adapter   string
	Peer      string
	Src       transport.Address
	QoS       transport.IOQoS
	BISIndex  uint8 // big-sync only
	Setup     *setup.Setup // big-sync only

	inProgress bool
	channel    transport.Channel
}

// Pipeline is the Broadcast PA/BIG Pipeline: one FIFO queue per adapter,
// drained by Tick with at most one request in-progress at a time across the
// whole adapter (spec.md §4.6: "short-sync may not overtake big-sync and
// vice versa").
type Pipeline struct {
	mu      sync.Mutex
	queue   map[string][]*Request // adapter -> FIFO
	limiter map[string]*rate.Limiter

	iso      transport.ISOTransport
	pacs     *pac.Registry
	eps      *endpoint.Directory
	registry *setup.Registry
	metrics  *metrics.Metrics // nil disables BASEParseErrors observation
}

// New constructs a Pipeline. m may be nil, disabling the BASEParseErrors
// counter.
func New(iso transport.ISOTransport, pacs *pac.Registry, eps *endpoint.Directory, registry *setup.Registry, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		queue:    make(map[string][]*Request),
		limiter:  make(map[string]*rate.Limiter),
		iso:      iso,
		pacs:     pacs,
		eps:      eps,
		registry: registry,
		metrics:  m,
	}
}

// limiterFor returns the per-adapter dispatch-rate token bucket, creating it
// on first use.
func (p *Pipeline) limiterFor(adapter string) *rate.Limiter {
	lm, ok := p.limiter[adapter]
	if !ok {
		lm = rate.NewLimiter(rate.Limit(dispatchRateLimit), dispatchRateLimit)
		p.limiter[adapter] = lm
	}
	return lm
}

// Enqueue appends r to its adapter's FIFO.
func (p *Pipeline) Enqueue(r *Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue[r.Adapter] = append(p.queue[r.Adapter], r)
}

// QueueDepth returns the number of requests currently queued for adapter.
func (p *Pipeline) QueueDepth(adapter string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue[adapter])
}

// Cancel removes r from the queue and closes any listener it opened
// (spec.md §5 cancellation rules).
func (p *Pipeline) Cancel(r *Request) {
	p.mu.Lock()
	list := p.queue[r.Adapter]
	for i, q := range list {
		if q == r {
			p.queue[r.Adapter] = append(list[:i], list[i+1:]...)
			break
		}
	}
	ch := r.channel
	p.mu.Unlock()
	if ch != nil {
		ch.Close()
	}
}

// Tick drains at most one step of one adapter's queue: spec.md §4.6's
// three-step per-tick algorithm. Call this from a periodic ticker, one call
// per adapter per period.
func (p *Pipeline) Tick(ctx context.Context, adapter string) {
	p.mu.Lock()
	list := p.queue[adapter]
	if len(list) == 0 {
		p.mu.Unlock()
		return
	}
	head := list[0]
	if head.inProgress {
		p.mu.Unlock()
		return
	}
	if !p.limiterFor(adapter).Allow() {
		p.mu.Unlock()
		return
	}
	head.inProgress = true
	p.mu.Unlock()

	switch head.Kind {
	case KindShortSync:
		p.dispatchShortSync(ctx, head)
	case KindBigSync:
		p.dispatchBigSync(ctx, head)
	}
}

func (p *Pipeline) dispatchShortSync(ctx context.Context, r *Request) {
	ch, err := p.iso.Listen(ctx, r.Src, r.QoS)
	if err != nil {
		p.finish(r)
		return
	}
	r.channel = ch
	// A real ISOTransport reports PA-sync confirm asynchronously via the
	// EventSink; OnPASyncConfirm is the continuation called from there.
}

// OnPASyncConfirm is the short-sync continuation: the caller (engine
// dispatcher) invokes this once the transport reports the BASE blob has been
// read off the PA-sync listener. For every BIS the parsed BASE matches
// against a local PAC, a Setup is configured (spec.md §4.6: "a new Setup is
// created, its stream is configured ... no I/O is opened here"); opening the
// BIS socket itself is left to the big-sync request a caller later enqueues.
func (p *Pipeline) OnPASyncConfirm(ctx context.Context, r *Request, base []byte) ([]MatchedBIS, error) {
	defer p.finishAndCloseListener(r)
	matched, err := ParseBASE(base, p.pacs, func() {
		if p.metrics != nil {
			p.metrics.BASEParseErrors.Inc()
		}
	})
	if err != nil {
		return nil, err
	}
	for _, m := range matched {
		ep, _ := p.eps.RegisterBroadcastSource(r.Adapter, m.LocalPAC)
		qosDict := map[string]any{
			"BIS":               m.BISIndex,
			"PresentationDelay": m.PresentationDelay,
		}
		if _, err := p.registry.SetConfiguration(ctx, ep, r.Adapter, m.Capabilities, qosDict, m.Metadata); err != nil {
			continue
		}
	}
	return matched, nil
}

func (p *Pipeline) dispatchBigSync(ctx context.Context, r *Request) {
	ch, err := p.iso.Listen(ctx, r.Src, r.QoS)
	if err != nil {
		p.finish(r)
		return
	}
	r.channel = ch
}

// OnBIGSyncConfirm is the big-sync continuation once PA-sync has confirmed:
// it invokes BIG-sync accept for the request's BIS index and, on success,
// hands the resulting channel to the Setup's stream.
func (p *Pipeline) OnBIGSyncConfirm(ctx context.Context, r *Request) error {
	ch, err := p.iso.AcceptBroadcast(ctx, r.channel, []uint8{r.BISIndex})
	if err != nil {
		p.finishAndCloseListener(r)
		return fmt.Errorf("%w: big-sync accept failed: %v", bperr.ErrTransportIO, err)
	}
	r.Setup.Channel = ch
	r.Setup.Stream.State = setup.StateStreaming
	p.finish(r)
	return nil
}

func (p *Pipeline) finish(r *Request) {
	p.mu.Lock()
	list := p.queue[r.Adapter]
	for i, q := range list {
		if q == r {
			p.queue[r.Adapter] = append(list[:i], list[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
}

func (p *Pipeline) finishAndCloseListener(r *Request) {
	if r.channel != nil {
		r.channel.Close()
		r.channel = nil
	}
	p.finish(r)
}
