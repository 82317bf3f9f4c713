package group

import (
	"testing"

	"github.com/leaudio/bapd/internal/endpoint"
	"github.com/leaudio/bapd/internal/setup"
)

func newSetup(cig, cis uint8) *setup.Setup {
	ep := &endpoint.Endpoint{ID: "peer1/pac_sink0"}
	s := &setup.Setup{ID: "s1", Endpoint: ep}
	s.Stream = &setup.Stream{}
	s.QoS = setup.QoS{Kind: setup.KindUnicast, Unicast: setup.UnicastQoS{CIG: cig, CIS: cis}}
	return s
}

func TestSecondSetupDeferredWhileCIGBusy(t *testing.T) {
	sched := New(nil, nil)
	s1 := newSetup(3, 0)
	s2 := newSetup(3, 1)

	if !sched.RequestUnicastSocket("hci0", s1) {
		t.Fatalf("expected first setup to proceed immediately")
	}
	if sched.RequestUnicastSocket("hci0", s2) {
		t.Fatalf("expected second setup to be deferred while CIG busy")
	}
	if !s2.RecreateWhenIdle {
		t.Fatalf("expected deferred setup marked recreate-when-idle")
	}
	if !sched.Busy("hci0", 3) {
		t.Fatalf("expected CIG 3 reported busy")
	}
}

func TestReleaseGroupReschedulesWaiters(t *testing.T) {
	sched := New(nil, nil)
	s1 := newSetup(3, 0)
	s2 := newSetup(3, 1)
	sched.RequestUnicastSocket("hci0", s1)
	sched.RequestUnicastSocket("hci0", s2)

	waiters := sched.ReleaseGroup("hci0", s1)
	if len(waiters) != 1 || waiters[0] != s2 {
		t.Fatalf("expected s2 rescheduled, got %+v", waiters)
	}
	if sched.Busy("hci0", 3) {
		t.Fatalf("expected CIG 3 idle after release")
	}
}

func TestUnsetCIGNeverBusy(t *testing.T) {
	sched := New(nil, nil)
	s1 := newSetup(setup.Unset, 0)
	s2 := newSetup(setup.Unset, 1)
	if !sched.RequestUnicastSocket("hci0", s1) {
		t.Fatalf("expected unset CIG to never defer")
	}
	if !sched.RequestUnicastSocket("hci0", s2) {
		t.Fatalf("expected unset CIG to never defer for a second setup either")
	}
}

func newBroadcastSetup(t *testing.T, peer string, big, bis uint8, state setup.State) *setup.Setup {
	t.Helper()
	ep := &endpoint.Endpoint{ID: peer}
	s := &setup.Setup{ID: peer + "/bis" + string(rune('0'+bis)), Endpoint: ep}
	s.Stream = &setup.Stream{State: state}
	s.QoS = setup.QoS{Kind: setup.KindBroadcast, Broadcast: setup.BroadcastQoS{BIG: big, BIS: bis}}
	return s
}

func TestPlanBroadcastOpenSingletonBIGOpensImmediately(t *testing.T) {
	s := newBroadcastSetup(t, "hci0/bcast0", setup.Unset, 1, setup.StateConfig)
	batch, ok := PlanBroadcastOpen(s, nil)
	if !ok {
		t.Fatalf("expected singleton BIG to open immediately")
	}
	if len(batch.Setups) != 1 || batch.Defer[0] != false {
		t.Fatalf("expected single non-deferred open, got %+v", batch)
	}
}

func TestPlanBroadcastOpenWaitsForAllSiblingsAtConfig(t *testing.T) {
	s1 := newBroadcastSetup(t, "hci0/bcast0", 1, 1, setup.StateConfig)
	s2 := newBroadcastSetup(t, "hci0/bcast0", 1, 2, setup.StateIdle)
	_, ok := PlanBroadcastOpen(s1, []*setup.Setup{s2})
	if ok {
		t.Fatalf("expected plan to refuse while a sibling is not yet CONFIG")
	}
}

func TestPlanBroadcastOpenOrdersByBISIndexDeferExceptLast(t *testing.T) {
	s1 := newBroadcastSetup(t, "hci0/bcast0", 1, 2, setup.StateConfig)
	s2 := newBroadcastSetup(t, "hci0/bcast0", 1, 1, setup.StateConfig)
	batch, ok := PlanBroadcastOpen(s1, []*setup.Setup{s2})
	if !ok {
		t.Fatalf("expected plan to proceed once all siblings reach CONFIG")
	}
	if batch.Setups[0].QoS.Broadcast.BIS != 1 || batch.Setups[1].QoS.Broadcast.BIS != 2 {
		t.Fatalf("expected ascending BIS order, got %+v", batch.Setups)
	}
	if batch.Defer[0] != true || batch.Defer[1] != false {
		t.Fatalf("expected defer=true except last, got %+v", batch.Defer)
	}
}

func TestPlanBroadcastOpenIndividualWhenSiblingStreaming(t *testing.T) {
	s1 := newBroadcastSetup(t, "hci0/bcast0", 1, 2, setup.StateConfig)
	streaming := newBroadcastSetup(t, "hci0/bcast0", 1, 1, setup.StateStreaming)
	batch, ok := PlanBroadcastOpen(s1, []*setup.Setup{streaming})
	if !ok {
		t.Fatalf("expected plan to proceed for individual open")
	}
	if len(batch.Setups) != 1 || batch.Setups[0] != s1 || batch.Defer[0] != false {
		t.Fatalf("expected individual non-deferred open for s1, got %+v", batch)
	}
}
