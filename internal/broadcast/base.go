// Package broadcast implements the Broadcast PA/BIG Pipeline (BP) and the
// BASE parser, grounded on spec.md §4.6 and bap.c's bap_parse_base /
// bap_bcast_src_* listener bookkeeping.
package broadcast

import (
	"fmt"

	"github.com/leaudio/bapd/internal/bperr"
	"github.com/leaudio/bapd/internal/pac"
)

// MatchedBIS is one successfully matched BIS within a parsed BASE, ready to
// become a Setup (spec.md §4.6: "a new Setup is created ... no I/O opened
// here" — the caller owns Setup creation).
type MatchedBIS struct {
	BISIndex     uint8
	LocalPAC     pac.PAC
	Capabilities []byte // merged level-2 + level-3 LTV
	Metadata     []byte
	PresentationDelay uint32
}

// ParseBASE decodes a Broadcast Audio Source Endpoint blob per spec.md §4.6's
// strict, bounded grammar:
//
//	header:   3-byte presentation delay (LE) + 1-byte subgroup count
//	subgroup: 1-byte BIS count, 5-byte codec id, 1-byte+caps level2, 1-byte+meta
//	bis:      1-byte BIS index, 1-byte+caps level3
//
// Any length overrun discards that whole subgroup; subgroups already
// fully parsed before it keep their matched BISes (never fatal to the whole
// blob). Matching is delegated to registry.VerifyBIS; unmatched BISes are
// silently skipped.
//
// The BASE grammar carries no per-subgroup length field, so once a field's
// declared length overruns the buffer there is no way to locate where the
// *next* subgroup would have started; parsing of every subgroup from that
// point on is abandoned rather than resynchronized on a guess. onDrop, if
// non-nil, is called once per overrun so a caller can surface the drop as an
// observable metric; it is nil in tests that only check ParseBASE's return
// value.
func ParseBASE(base []byte, registry *pac.Registry, onDrop func()) ([]MatchedBIS, error) {
	if len(base) < 4 {
		return nil, fmt.Errorf("%w: BASE shorter than header", bperr.ErrParse)
	}
	presentationDelay := uint32(base[0]) | uint32(base[1])<<8 | uint32(base[2])<<16
	subgroupCount := int(base[3])
	i := 4

	var matched []MatchedBIS
	for sg := 0; sg < subgroupCount; sg++ {
		n, ok := parseSubgroup(base, i, registry, presentationDelay, &matched)
		if !ok {
			if onDrop != nil {
				onDrop()
			}
			break
		}
		i = n
	}
	return matched, nil
}

// parseSubgroup parses one subgroup starting at offset i and returns the
// offset past the subgroup and whether parsing succeeded without overrun.
// The subgroup's matched BISes are appended to *matched only when the whole
// subgroup parsed; on overrun none of them are kept.
func parseSubgroup(base []byte, i int, registry *pac.Registry, presentationDelay uint32, matched *[]MatchedBIS) (int, bool) {
	if i >= len(base) {
		return i, false
	}
	bisCount := int(base[i])
	i++
	if i+5 > len(base) {
		return i, false
	}
	codec := pac.CodecID{
		ID:  base[i],
		CID: uint16(base[i+1]) | uint16(base[i+2])<<8,
		VID: uint16(base[i+3]) | uint16(base[i+4])<<8,
	}
	i += 5

	if i >= len(base) {
		return i, false
	}
	caps2Len := int(base[i])
	i++
	if i+caps2Len > len(base) {
		return i, false
	}
	caps2 := base[i : i+caps2Len]
	i += caps2Len

	if i >= len(base) {
		return i, false
	}
	metaLen := int(base[i])
	i++
	if i+metaLen > len(base) {
		return i, false
	}
	metadata := base[i : i+metaLen]
	i += metaLen

	var found []MatchedBIS
	for b := 0; b < bisCount; b++ {
		if i >= len(base) {
			return i, false
		}
		bisIndex := base[i]
		i++
		if i >= len(base) {
			return i, false
		}
		caps3Len := int(base[i])
		i++
		if i+caps3Len > len(base) {
			return i, false
		}
		caps3 := base[i : i+caps3Len]
		i += caps3Len

		p, merged, ok := registry.VerifyBIS(codec, caps2, caps3)
		if !ok {
			continue
		}
		found = append(found, MatchedBIS{
			BISIndex:          bisIndex,
			LocalPAC:          p,
			Capabilities:      merged,
			Metadata:          append([]byte(nil), metadata...),
			PresentationDelay: presentationDelay,
		})
	}
	*matched = append(*matched, found...)
	return i, true
}
