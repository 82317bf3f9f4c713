package broadcast

import (
	"testing"

	"github.com/leaudio/bapd/internal/pac"
)

func registryWithSinkPAC(codec pac.CodecID, caps []byte) *pac.Registry {
	r := pac.New()
	r.RegisterLocal(pac.DirectionBroadcastSink, codec, caps, pac.QoS{}, 0, 0, 0)
	return r
}

func buildBASE(presentationDelay uint32, subgroups [][]byte) []byte {
	out := []byte{
		byte(presentationDelay), byte(presentationDelay >> 8), byte(presentationDelay >> 16),
		byte(len(subgroups)),
	}
	for _, sg := range subgroups {
		out = append(out, sg...)
	}
	return out
}

// buildSubgroup packs one subgroup with a single BIS for test convenience.
func buildSubgroup(codec pac.CodecID, caps2, metadata []byte, bisIndex uint8, caps3 []byte) []byte {
	out := []byte{1, codec.ID, byte(codec.CID), byte(codec.CID >> 8), byte(codec.VID), byte(codec.VID >> 8)}
	out = append(out, byte(len(caps2)))
	out = append(out, caps2...)
	out = append(out, byte(len(metadata)))
	out = append(out, metadata...)
	out = append(out, bisIndex)
	out = append(out, byte(len(caps3)))
	out = append(out, caps3...)
	return out
}

func TestParseBASEMatchesBISAndMergesCapabilities(t *testing.T) {
	codec := pac.CodecID{ID: 6}
	caps2 := []byte{2, 1, 1} // LTV type=1
	caps3 := []byte{2, 2, 2} // LTV type=2
	registry := registryWithSinkPAC(codec, append(append([]byte{}, caps2...), caps3...))

	base := buildBASE(40000, [][]byte{buildSubgroup(codec, caps2, []byte{1, 3}, 7, caps3)})

	matched, err := ParseBASE(base, registry, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matched) != 1 {
		t.Fatalf("expected 1 matched BIS, got %d", len(matched))
	}
	m := matched[0]
	if m.BISIndex != 7 {
		t.Fatalf("expected BIS index 7, got %d", m.BISIndex)
	}
	if m.PresentationDelay != 40000 {
		t.Fatalf("expected presentation delay 40000, got %d", m.PresentationDelay)
	}
	if len(m.Capabilities) != len(caps2)+len(caps3) {
		t.Fatalf("expected merged capabilities length %d, got %d", len(caps2)+len(caps3), len(m.Capabilities))
	}
}

func TestParseBASEUnmatchedCodecSkipped(t *testing.T) {
	registry := pac.New() // no local PACs registered at all
	codec := pac.CodecID{ID: 6}
	base := buildBASE(0, [][]byte{buildSubgroup(codec, nil, nil, 1, nil)})

	matched, err := ParseBASE(base, registry, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matched) != 0 {
		t.Fatalf("expected 0 matches for unregistered codec, got %d", len(matched))
	}
}

func TestParseBASEOverrunDiscardsSubgroupButNotWholeBlob(t *testing.T) {
	codec := pac.CodecID{ID: 6}
	registry := registryWithSinkPAC(codec, nil)

	good := buildSubgroup(codec, nil, nil, 1, nil)
	// A truncated second subgroup: claims 1 BIS count but has no codec bytes.
	truncated := []byte{1}
	base := buildBASE(0, [][]byte{good, truncated})

	matched, err := ParseBASE(base, registry, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matched) != 1 {
		t.Fatalf("expected first subgroup's match to survive overrun in second, got %d", len(matched))
	}
}

func TestParseBASERejectsShortHeader(t *testing.T) {
	_, err := ParseBASE([]byte{1, 2}, pac.New(), nil)
	if err == nil {
		t.Fatalf("expected error for header shorter than 4 bytes")
	}
}
