package endpoint

import (
	"testing"

	"github.com/leaudio/bapd/internal/pac"
)

func TestRegisterIdempotentIDsAndNoDuplicateNotification(t *testing.T) {
	d := New()
	var events []Event
	d.AddListener(func(e Event) { events = append(events, e) })

	local := pac.PAC{ID: 1, Direction: pac.DirectionSink}
	remote := pac.PAC{ID: 10, Direction: pac.DirectionSink}

	ep1, created1 := d.Register("peer1", local, &remote)
	ep2, created2 := d.Register("peer1", local, &remote)

	if ep1.ID != ep2.ID {
		t.Fatalf("expected same endpoint id, got %q and %q", ep1.ID, ep2.ID)
	}
	if !created1 || created2 {
		t.Fatalf("expected created=true,false got %v,%v", created1, created2)
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly one Registered event, got %d", len(events))
	}
	if ep1.ID != "peer1/pac_sink0" {
		t.Fatalf("unexpected endpoint id: %q", ep1.ID)
	}
}

func TestEndpointIDsIncrementPerRole(t *testing.T) {
	d := New()
	localA := pac.PAC{ID: 1, Direction: pac.DirectionSink}
	localB := pac.PAC{ID: 2, Direction: pac.DirectionSink}
	remoteA := pac.PAC{ID: 10}
	remoteB := pac.PAC{ID: 11}

	epA, _ := d.Register("peer1", localA, &remoteA)
	epB, _ := d.Register("peer1", localB, &remoteB)

	if epA.ID != "peer1/pac_sink0" || epB.ID != "peer1/pac_sink1" {
		t.Fatalf("unexpected ids: %q, %q", epA.ID, epB.ID)
	}
}

func TestRegisterBroadcastSourceHasNoRemotePAC(t *testing.T) {
	d := New()
	local := pac.PAC{ID: 5, Direction: pac.DirectionBroadcastSource}
	ep, created := d.RegisterBroadcastSource("hci0", local)
	if !created {
		t.Fatalf("expected new endpoint")
	}
	if ep.RemotePAC != nil {
		t.Fatalf("broadcast source endpoint must have no remote PAC")
	}
	if ep.Role != RoleBroadcast {
		t.Fatalf("expected RoleBroadcast, got %v", ep.Role)
	}
}

func TestUnregisterRemovesAndNotifies(t *testing.T) {
	d := New()
	var events []Event
	local := pac.PAC{ID: 1, Direction: pac.DirectionSink}
	remote := pac.PAC{ID: 10}
	ep, _ := d.Register("peer1", local, &remote)
	d.AddListener(func(e Event) { events = append(events, e) })

	removed, ok := d.Unregister("peer1", local.ID, remote.ID)
	if !ok || removed.ID != ep.ID {
		t.Fatalf("expected to remove %q", ep.ID)
	}
	if len(events) != 1 || events[0].Kind != EventUnregistered {
		t.Fatalf("expected one EventUnregistered, got %+v", events)
	}
	if len(d.ByRole("peer1", RoleSink)) != 0 {
		t.Fatalf("expected empty sink list after unregister")
	}
}

func TestRefreshPropertiesFiresOnlyOnChange(t *testing.T) {
	d := New()
	local := pac.PAC{ID: 1, Direction: pac.DirectionSink}
	remote := pac.PAC{ID: 10, Locations: 1}
	ep, _ := d.Register("peer1", local, &remote)

	var events []Event
	d.AddListener(func(e Event) { events = append(events, e) })

	d.RefreshProperties(ep, remote) // unchanged
	if len(events) != 0 {
		t.Fatalf("expected no event for unchanged properties, got %d", len(events))
	}

	updated := remote
	updated.Locations = 2
	d.RefreshProperties(ep, updated)
	if len(events) != 1 || events[0].Kind != EventPropertyChanged {
		t.Fatalf("expected one EventPropertyChanged, got %+v", events)
	}
	if ep.Locations != 2 {
		t.Fatalf("expected cached Locations updated to 2, got %d", ep.Locations)
	}
}

func TestReplayAllReEmitsEveryEndpoint(t *testing.T) {
	d := New()
	local1 := pac.PAC{ID: 1, Direction: pac.DirectionSink}
	local2 := pac.PAC{ID: 2, Direction: pac.DirectionSource}
	remote1 := pac.PAC{ID: 10}
	remote2 := pac.PAC{ID: 11}
	d.Register("peer1", local1, &remote1)
	d.Register("peer1", local2, &remote2)

	var events []Event
	d.AddListener(func(e Event) { events = append(events, e) })
	d.ReplayAll("peer1")

	if len(events) != 2 {
		t.Fatalf("expected 2 replayed events, got %d", len(events))
	}
	for _, e := range events {
		if e.Kind != EventRegistered {
			t.Fatalf("expected EventRegistered, got %v", e.Kind)
		}
	}
}
