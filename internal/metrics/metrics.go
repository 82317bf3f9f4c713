// Package metrics wires engine observability through
// github.com/prometheus/client_golang, the way the teacher project exposes
// its tuner/cache gauges: one Registry struct constructed once at startup and
// threaded into the collaborators that need to record something.
package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leaudio/bapd/internal/setup"
	"github.com/leaudio/bapd/internal/transport"
)

// Metrics holds every gauge/counter the engine updates. Zero value is not
// usable; use New.
type Metrics struct {
	StreamsByState   *prometheus.GaugeVec
	GroupsBusy       prometheus.Gauge
	BroadcastQueue   *prometheus.GaugeVec
	BASEParseErrors  prometheus.Counter
	SetupTeardowns   *prometheus.CounterVec
	ControlOpLatency *prometheus.HistogramVec
}

// New registers every collector against reg and returns the bound Metrics.
// Callers typically pass prometheus.NewRegistry() so tests don't collide with
// the global default registry.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		StreamsByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bapd",
			Name:      "streams_by_state",
			Help:      "Number of streams currently in each SSM state.",
		}, []string{"state"}),
		GroupsBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bapd",
			Name:      "groups_busy",
			Help:      "Number of CIGs/BIGs currently busy (group-active).",
		}),
		BroadcastQueue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bapd",
			Name:      "broadcast_queue_depth",
			Help:      "Depth of the per-adapter broadcast PA/BIG request queue.",
		}, []string{"adapter"}),
		BASEParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bapd",
			Name:      "base_parse_errors_total",
			Help:      "Count of BASE subgroups discarded due to a length overrun.",
		}),
		SetupTeardowns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bapd",
			Name:      "setup_teardowns_total",
			Help:      "Count of setups freed, labeled by the reason they were torn down.",
		}, []string{"reason"}),
		ControlOpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bapd",
			Name:      "control_op_latency_seconds",
			Help:      "Latency from control-plane request submission to completion callback.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
	reg.MustRegister(m.StreamsByState, m.GroupsBusy, m.BroadcastQueue, m.BASEParseErrors, m.SetupTeardowns, m.ControlOpLatency)
	return m
}

// Handler returns the /metrics HTTP handler for reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// stateLabel maps a setup.State to the label value StreamsByState uses.
func stateLabel(s setup.State) string {
	return s.String()
}

// ObserveState increments the gauge bucket for s's new state and decrements
// the bucket for its previous state, called by the engine dispatcher on
// every SSM transition.
func (m *Metrics) ObserveState(previous, current setup.State) {
	if previous == current {
		return
	}
	m.StreamsByState.WithLabelValues(stateLabel(previous)).Dec()
	m.StreamsByState.WithLabelValues(stateLabel(current)).Inc()
}

// TeardownReason enumerates why a Setup was freed, for the SetupTeardowns
// counter's "reason" label.
type TeardownReason string

const (
	ReasonReleased         TeardownReason = "released"
	ReasonConfigureFailed  TeardownReason = "configure-failed"
	ReasonQoSFailed        TeardownReason = "qos-failed"
	ReasonCanceled         TeardownReason = "canceled"
)

// ObserveTeardown increments the SetupTeardowns counter for reason.
func (m *Metrics) ObserveTeardown(reason TeardownReason) {
	m.SetupTeardowns.WithLabelValues(string(reason)).Inc()
}

// TimingControlPlane wraps a transport.ControlPlane, recording submission
// timestamps per OpID so the engine dispatcher can observe ControlOpLatency
// once the matching EventOpComplete arrives. Submission and completion cross
// the async transport boundary separately, so this lives in metrics rather
// than setup (which metrics already depends on for state labels).
type TimingControlPlane struct {
	inner transport.ControlPlane
	m     *Metrics

	mu        sync.Mutex
	submitted map[transport.OpID]time.Time
}

// NewTimingControlPlane wraps inner, observing every op it submits against m.
func NewTimingControlPlane(inner transport.ControlPlane, m *Metrics) *TimingControlPlane {
	return &TimingControlPlane{inner: inner, m: m, submitted: make(map[transport.OpID]time.Time)}
}

func (t *TimingControlPlane) submit(op transport.OpKind, id transport.OpID, err error) {
	if err != nil {
		return
	}
	t.mu.Lock()
	t.submitted[id] = time.Now()
	t.mu.Unlock()
}

func (t *TimingControlPlane) ConfigureStream(ctx context.Context, streamID string, caps []byte) (transport.OpID, error) {
	id, err := t.inner.ConfigureStream(ctx, streamID, caps)
	t.submit(transport.OpConfigure, id, err)
	return id, err
}

func (t *TimingControlPlane) QoSStream(ctx context.Context, streamID string, qos []byte) (transport.OpID, error) {
	id, err := t.inner.QoSStream(ctx, streamID, qos)
	t.submit(transport.OpQoS, id, err)
	return id, err
}

func (t *TimingControlPlane) EnableStream(ctx context.Context, streamID string) (transport.OpID, error) {
	id, err := t.inner.EnableStream(ctx, streamID)
	t.submit(transport.OpEnable, id, err)
	return id, err
}

func (t *TimingControlPlane) ReleaseStream(ctx context.Context, streamID string) (transport.OpID, error) {
	id, err := t.inner.ReleaseStream(ctx, streamID)
	t.submit(transport.OpRelease, id, err)
	return id, err
}

func (t *TimingControlPlane) MetadataStream(ctx context.Context, streamID string, metadata []byte) (transport.OpID, error) {
	id, err := t.inner.MetadataStream(ctx, streamID, metadata)
	t.submit(transport.OpMetadata, id, err)
	return id, err
}

func (t *TimingControlPlane) Cancel(ctx context.Context, op transport.OpID) {
	t.mu.Lock()
	delete(t.submitted, op)
	t.mu.Unlock()
	t.inner.Cancel(ctx, op)
}

// ObserveComplete records the latency between submission and completion for
// id, called by the engine dispatcher on every EventOpComplete.
func (t *TimingControlPlane) ObserveComplete(op transport.OpKind, id transport.OpID) {
	t.mu.Lock()
	start, ok := t.submitted[id]
	if ok {
		delete(t.submitted, id)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	t.m.ControlOpLatency.WithLabelValues(op.String()).Observe(time.Since(start).Seconds())
}
