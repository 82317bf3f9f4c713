package setup

import (
	"fmt"

	"github.com/leaudio/bapd/internal/bperr"
)

// Unset is the sentinel CIG/CIS/BIG/BIS id meaning "not yet assigned";
// the scheduler fills it in. spec.md §3: "CIG id = unset always compares as
// not busy and matches only itself for recreation."
const Unset uint8 = 0xFF

// Kind distinguishes the two disjoint QoS dictionary shapes of spec.md §4.3.
type Kind int

const (
	KindUnicast Kind = iota
	KindBroadcast
)

// UnicastQoS is the CIS-side QoS dictionary, spec.md §4.3 / §3.
type UnicastQoS struct {
	CIG               uint8
	CIS               uint8
	Framing           uint8
	PresentationDelay uint32
	TargetLatency     uint8
	Interval          uint32
	PHY               uint8
	SDU               uint16
	Retransmissions   uint8
	Latency           uint16
}

// BroadcastQoS is the BIS-side QoS dictionary, spec.md §4.3 / §3.
type BroadcastQoS struct {
	BIG               uint8
	BIS               uint8
	Encryption        bool
	BCode             [16]byte
	Options           uint8
	Skip              uint16
	SyncTimeout       uint16
	SyncType          uint8
	SyncFactor        uint8
	MSE               uint8
	Timeout           uint16
	PresentationDelay uint32
	Interval          uint32
	PHY               uint8
	SDU               uint16
	Retransmissions   uint8
	Latency           uint16
	Packing           uint8
	Framing           uint8
}

// QoS is the tagged-variant QoS the spec calls for in place of the source's
// dynamic-dispatch parser/destroy function pointers (spec.md §9).
type QoS struct {
	Kind      Kind
	Unicast   UnicastQoS
	Broadcast BroadcastQoS
}

// unicastKeys/broadcastKeys enumerate the recognized dictionary keys of
// spec.md §4.3; anything else is invalid-args.
var unicastKeys = map[string]bool{
	"CIG": true, "CIS": true, "Framing": true, "PresentationDelay": true,
	"TargetLatency": true, "Interval": true, "PHY": true, "SDU": true,
	"Retransmissions": true, "Latency": true,
}

var broadcastKeys = map[string]bool{
	"Encryption": true, "BIG": true, "BIS": true, "Options": true, "Skip": true,
	"SyncTimeout": true, "SyncType": true, "SyncFactor": true, "MSE": true,
	"Timeout": true, "PresentationDelay": true, "BCode": true, "Interval": true,
	"PHY": true, "SDU": true, "Retransmissions": true, "Latency": true,
}

// ParseQoS validates and decodes a properties["QoS"] dictionary against the
// shape appropriate for isBroadcast, per spec.md §4.3. Unknown keys are
// rejected with bperr.ErrInvalidArgs; a broadcast BCode of any length other than
// 16 bytes is rejected before a Setup is ever created (spec.md P7).
func ParseQoS(dict map[string]any, isBroadcast bool) (QoS, error) {
	keys := unicastKeys
	if isBroadcast {
		keys = broadcastKeys
	}
	for k := range dict {
		if !keys[k] {
			return QoS{}, fmt.Errorf("%w: unknown QoS key %q", bperr.ErrInvalidArgs, k)
		}
	}
	if isBroadcast {
		return parseBroadcastQoS(dict)
	}
	return parseUnicastQoS(dict)
}

func parseUnicastQoS(dict map[string]any) (QoS, error) {
	q := UnicastQoS{CIG: Unset, CIS: Unset}
	if v, ok := dict["CIG"]; ok {
		q.CIG = toU8(v)
	}
	if v, ok := dict["CIS"]; ok {
		q.CIS = toU8(v)
	}
	q.Framing = toU8(dict["Framing"])
	q.PresentationDelay = toU32(dict["PresentationDelay"])
	q.TargetLatency = toU8(dict["TargetLatency"])
	q.Interval = toU32(dict["Interval"])
	q.PHY = toU8(dict["PHY"])
	q.SDU = toU16(dict["SDU"])
	q.Retransmissions = toU8(dict["Retransmissions"])
	q.Latency = toU16(dict["Latency"])
	return QoS{Kind: KindUnicast, Unicast: q}, nil
}

func parseBroadcastQoS(dict map[string]any) (QoS, error) {
	q := BroadcastQoS{BIG: Unset, BIS: Unset}
	if v, ok := dict["BIG"]; ok {
		q.BIG = toU8(v)
	}
	if v, ok := dict["BIS"]; ok {
		q.BIS = toU8(v)
	}
	if v, ok := dict["BCode"]; ok {
		b, ok := v.([]byte)
		if !ok || len(b) != 16 {
			return QoS{}, fmt.Errorf("%w: BCode must be 16 bytes", bperr.ErrInvalidArgs)
		}
		copy(q.BCode[:], b)
	}
	if v, ok := dict["Encryption"]; ok {
		b, _ := v.(bool)
		q.Encryption = b
	}
	q.Options = toU8(dict["Options"])
	q.Skip = toU16(dict["Skip"])
	q.SyncTimeout = toU16(dict["SyncTimeout"])
	q.SyncType = toU8(dict["SyncType"])
	q.SyncFactor = toU8(dict["SyncFactor"])
	q.MSE = toU8(dict["MSE"])
	q.Timeout = toU16(dict["Timeout"])
	q.PresentationDelay = toU32(dict["PresentationDelay"])
	q.Interval = toU32(dict["Interval"])
	q.PHY = toU8(dict["PHY"])
	q.SDU = toU16(dict["SDU"])
	q.Retransmissions = toU8(dict["Retransmissions"])
	q.Latency = toU16(dict["Latency"])
	return QoS{Kind: KindBroadcast, Broadcast: q}, nil
}

func toU8(v any) uint8 {
	switch n := v.(type) {
	case uint8:
		return n
	case int:
		return uint8(n)
	case int64:
		return uint8(n)
	default:
		return 0
	}
}

func toU16(v any) uint16 {
	switch n := v.(type) {
	case uint16:
		return n
	case int:
		return uint16(n)
	case int64:
		return uint16(n)
	default:
		return 0
	}
}

func toU32(v any) uint32 {
	switch n := v.(type) {
	case uint32:
		return n
	case int:
		return uint32(n)
	case int64:
		return uint32(n)
	default:
		return 0
	}
}
