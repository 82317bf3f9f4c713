package setup

// State is a Stream's position in the SSM of spec.md §4.4.
type State int

const (
	StateIdle State = iota
	StateConfig
	StateQoS
	StateEnabling
	StateStreaming
	StateDisabling
	StateReleasing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConfig:
		return "CONFIG"
	case StateQoS:
		return "QOS"
	case StateEnabling:
		return "ENABLING"
	case StateStreaming:
		return "STREAMING"
	case StateDisabling:
		return "DISABLING"
	case StateReleasing:
		return "RELEASING"
	default:
		return "UNKNOWN"
	}
}

// terminalBound reports whether s is RELEASING or past it; spec.md P2 says a
// Stream that has reached RELEASING cannot re-enter CONFIG/QOS/ENABLING/
// STREAMING before reaching IDLE.
func (s State) terminalBound() bool {
	return s == StateReleasing
}

// Direction mirrors pac.Direction without importing pac, keeping this
// package usable standalone by group/broadcast without a dependency cycle
// back through endpoint.
type Direction int

const (
	DirectionSink Direction = iota
	DirectionSource
)

// Stream is the Stream State Machine's owned entity: 1:1 with a Setup for
// its lifetime, spec.md §3/§4.4.
type Stream struct {
	setup *Setup

	State     State
	Direction Direction
	QoSKind   Kind

	// Paired is the bidirectional sibling stream, if any (spec.md §3).
	Paired *Stream

	// FD is non-nil once the transport has attached an open channel
	// (ENABLING "attach fd" side effect).
	FD any // boxed transport.Channel; avoids an import cycle into transport.

	// reconfiguring is set when a CONFIG->CONFIG transition chains into a
	// fresh QoS request and cleared when a QoS result arrives. The SSM does
	// not consult it when deciding transitions.
	reconfiguring bool
}

// Setup returns the owning Setup.
func (s *Stream) Setup() *Setup { return s.setup }

// sideEffect names an action the caller (Registry) must perform after one of
// the Stream's on* transition methods below (the table of spec.md §4.4);
// Stream itself never calls back into the transport, keeping state
// transitions pure and testable.
type sideEffect int

const (
	effectNone sideEffect = iota
	effectIssueQoS
	effectCreateIODefer
	effectCreateIONoDefer
	effectCloseIOCancelOp
	effectFreeSetup
	effectMarkRecreateCloseIO
)

// onConfigureResult implements "IDLE -> configure success -> CONFIG" and the
// CONFIG -> CONFIG reconfiguration row. ok is false for a failed configure.
func (s *Stream) onConfigureResult(ok bool) []sideEffect {
	if !ok {
		return []sideEffect{effectFreeSetup}
	}
	switch s.State {
	case StateIdle:
		s.State = StateConfig
		if s.QoSKind == KindUnicast {
			return []sideEffect{effectIssueQoS}
		}
		return nil
	case StateConfig:
		// Reconfiguration: same-state callback. Registry.SetConfiguration
		// already canceled the previously outstanding op before issuing this
		// configure; issue the new QoS (spec.md §9 Open Question).
		s.reconfiguring = true
		return []sideEffect{effectIssueQoS}
	default:
		// Stream already moved on; configure completion no longer chains
		// (spec.md §4.4 "Completion ... conditionally chains ... only when
		// the stream's state is actually CONFIG at callback time").
		return nil
	}
}

// onQoSResult implements "CONFIG -> qos success -> QOS".
func (s *Stream) onQoSResult(ok bool) []sideEffect {
	s.reconfiguring = false
	if !ok {
		return []sideEffect{effectFreeSetup}
	}
	if s.State != StateConfig {
		return nil
	}
	s.State = StateQoS
	return []sideEffect{effectCreateIODefer}
}

// onEnable implements "QOS -> enable -> ENABLING".
func (s *Stream) onEnable() []sideEffect {
	if s.State != StateQoS {
		return nil
	}
	s.State = StateEnabling
	return []sideEffect{effectCreateIONoDefer}
}

// onConnecting implements the ENABLING "attach fd" / extract-assigned-ids
// side effect. The caller (Registry.HandleEvent) performs the actual CIG/CIS
// or BIG/BIS extraction when this returns true; this just validates the
// transition is legal.
func (s *Stream) onConnecting(fd any) bool {
	if s.State != StateEnabling {
		return false
	}
	s.FD = fd
	return true
}

// onReady implements "ENABLING -> transport ready -> STREAMING".
func (s *Stream) onReady() bool {
	if s.State != StateEnabling {
		return false
	}
	s.State = StateStreaming
	return true
}

// onRelease implements "any >= CONFIG -> release -> RELEASING".
func (s *Stream) onRelease() []sideEffect {
	if s.State == StateIdle || s.State == StateReleasing {
		return nil
	}
	s.State = StateReleasing
	return []sideEffect{effectCloseIOCancelOp}
}

// onReleaseAck implements "RELEASING -> ack -> IDLE".
func (s *Stream) onReleaseAck() []sideEffect {
	if s.State != StateReleasing {
		return nil
	}
	s.State = StateIdle
	return []sideEffect{effectFreeSetup}
}

// onDisconnect implements "any -> transport disconnect -> (unchanged)":
// marks recreate-when-idle and closes I/O without changing State, except
// that P2 still forbids resurrecting a RELEASING/IDLE stream's open FD.
func (s *Stream) onDisconnect() []sideEffect {
	s.FD = nil
	return []sideEffect{effectMarkRecreateCloseIO}
}
