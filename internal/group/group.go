// Package group implements the Group Scheduler (GS): busy tracking for
// Connected Isochronous Groups (keyed on the unicast CIG id; BIGs are not
// busy-tracked) and the ordering rules for opening CIS/BIS sockets, grounded on spec.md §4.5 and bap.c's bap_io_* connect
// sequencing for the io-state bookkeeping idiom (teacher's per-host semaphore
// pattern in internal/httpclient inspired the busy/wait gate here).
package group

import (
	"context"
	"sort"
	"sync"

	"github.com/leaudio/bapd/internal/metrics"
	"github.com/leaudio/bapd/internal/setup"
	"github.com/leaudio/bapd/internal/transport"
)

// groupKey identifies a CIG or BIG: the adapter it exists on plus its id.
// Two different adapters may reuse the same small integer id independently.
type groupKey struct {
	adapter string
	id      uint8
}

// member is one Setup's scheduling-relevant state tracked by the Scheduler,
// kept separate from setup.Setup so this package need not mutate it directly
// outside of the documented entry points.
type member struct {
	s *setup.Setup
}

// Scheduler is the Group Scheduler.
type Scheduler struct {
	mu sync.Mutex
	// busy maps a group key to group-active=true for any setup in that group.
	busy map[groupKey]bool
	// members tracks every live setup per group key, for the busy test and
	// the recreate sweep.
	members map[groupKey][]*member
	// waiting holds setups deferred by the busy test (recreate-when-idle).
	waiting map[groupKey][]*setup.Setup

	iso     transport.ISOTransport
	metrics *metrics.Metrics // nil disables GroupsBusy observation
}

// New constructs a Scheduler. m may be nil, disabling the GroupsBusy gauge.
func New(iso transport.ISOTransport, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		busy:    make(map[groupKey]bool),
		members: make(map[groupKey][]*member),
		waiting: make(map[groupKey][]*setup.Setup),
		iso:     iso,
		metrics: m,
	}
}

func keyFor(adapter string, id uint8) groupKey { return groupKey{adapter: adapter, id: id} }

// Busy reports whether the CIG/BIG identified by (adapter, id) is busy
// (spec.md §4.5). An id of setup.Unset is never busy.
func (s *Scheduler) Busy(adapter string, id uint8) bool {
	if id == setup.Unset {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy[keyFor(adapter, id)]
}

// RequestUnicastSocket attempts to open a CIS socket for su. If the su's CIG
// is busy, su is marked recreate-when-idle and queued; the caller must not
// call Connect. Returns true if the caller should proceed to open the
// socket now.
func (s *Scheduler) RequestUnicastSocket(adapter string, su *setup.Setup) bool {
	id := su.QoS.Unicast.CIG
	s.mu.Lock()
	defer s.mu.Unlock()
	key := keyFor(adapter, id)
	if id != setup.Unset && s.busy[key] {
		su.RecreateWhenIdle = true
		s.waiting[key] = append(s.waiting[key], su)
		return false
	}
	wasBusy := s.busy[key]
	s.busy[key] = true
	su.GroupActive = true
	s.members[key] = append(s.members[key], &member{s: su})
	if !wasBusy && s.metrics != nil {
		s.metrics.GroupsBusy.Inc()
	}
	return true
}

// ReleaseGroup marks a Setup's group no longer busy once its socket closes,
// and performs the recreate sweep: every waiting setup sharing the group
// (or, if the group id is unset, sharing the endpoint) is handed back to the
// caller to reschedule on the next idle tick (spec.md §4.5).
func (s *Scheduler) ReleaseGroup(adapter string, su *setup.Setup) []*setup.Setup {
	id := su.QoS.Unicast.CIG
	key := keyFor(adapter, id)
	s.mu.Lock()
	defer s.mu.Unlock()

	su.GroupActive = false
	list := s.members[key]
	for i, m := range list {
		if m.s == su {
			s.members[key] = append(list[:i], list[i+1:]...)
			break
		}
	}
	wasBusy := s.busy[key]
	if id == setup.Unset || len(s.members[key]) == 0 {
		s.busy[key] = false
	}
	if wasBusy && !s.busy[key] && s.metrics != nil {
		s.metrics.GroupsBusy.Dec()
	}

	var rescheduled []*setup.Setup
	if id == setup.Unset {
		// Only this same endpoint's waiters are eligible, per spec.md §4.5.
		remaining := s.waiting[key][:0]
		for _, w := range s.waiting[key] {
			if w.Endpoint.ID == su.Endpoint.ID {
				rescheduled = append(rescheduled, w)
			} else {
				remaining = append(remaining, w)
			}
		}
		s.waiting[key] = remaining
	} else if !s.busy[key] {
		rescheduled = s.waiting[key]
		s.waiting[key] = nil
	}
	return rescheduled
}

// BroadcastBatch is the ordered plan for opening every socket in a
// multi-BIS BIG: all entries but the last use defer=true (spec.md §4.5).
type BroadcastBatch struct {
	Setups []*setup.Setup
	// Defer[i] corresponds to Setups[i].
	Defer []bool
}

// PlanBroadcastOpen decides whether to open sockets now for the BIG that su
// belongs to, and in what order, applying the three broadcast-source rules
// of spec.md §4.5:
//   - BIG id unset: singleton BIG, open immediately with defer=false.
//   - Any sibling already STREAMING: su opens individually with defer=false.
//   - Otherwise: wait until every sibling has reached CONFIG, then open the
//     whole BIG in ascending BIS-index order, defer=true except the last.
//
// siblings must be every other live Setup configured for the same BIG
// (same adapter, same BIG id), not including su.
func PlanBroadcastOpen(su *setup.Setup, siblings []*setup.Setup) (BroadcastBatch, bool) {
	big := su.QoS.Broadcast.BIG
	if big == setup.Unset {
		return BroadcastBatch{Setups: []*setup.Setup{su}, Defer: []bool{false}}, true
	}

	for _, sib := range siblings {
		if sib.Stream.State == setup.StateStreaming {
			return BroadcastBatch{Setups: []*setup.Setup{su}, Defer: []bool{false}}, true
		}
	}

	all := append(append([]*setup.Setup{}, siblings...), su)
	for _, m := range all {
		if m.Stream.State != setup.StateConfig {
			return BroadcastBatch{}, false
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].QoS.Broadcast.BIS < all[j].QoS.Broadcast.BIS
	})
	defers := make([]bool, len(all))
	for i := range defers {
		defers[i] = i != len(all)-1
	}
	return BroadcastBatch{Setups: all, Defer: defers}, true
}

// OpenUnicast opens a CIS socket for su via RequestUnicastSocket's gating,
// then issues the transport connect with deferConn carried through from the
// SSM table's triggering transition (spec.md §4.4). Returns nil, nil if the
// open was deferred by the busy test.
func (s *Scheduler) OpenUnicast(ctx context.Context, adapter string, su *setup.Setup, src, dst transport.Address, qos transport.IOQoS, deferConn bool) (transport.Channel, error) {
	if !s.RequestUnicastSocket(adapter, su) {
		return nil, nil
	}
	ch, err := s.iso.Connect(ctx, src, dst, qos, deferConn)
	if err != nil {
		s.ReleaseGroup(adapter, su)
		return nil, err
	}
	return ch, nil
}
