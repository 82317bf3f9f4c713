package engine

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/leaudio/bapd/internal/endpoint"
)

// DebugHandler returns the introspection HTTP surface of SPEC_FULL.md §4:
// GET /endpoints lists every known endpoint; GET /endpoints/{id} returns one.
func (e *Engine) DebugHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/endpoints", e.handleListEndpoints)
	mux.HandleFunc("/endpoints/", e.handleGetEndpoint)
	return mux
}

func (e *Engine) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	all := e.Endpoints.All()
	out := make([]EndpointProperties, 0, len(all))
	for _, ep := range all {
		out = append(out, propsFor(&ep))
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (e *Engine) handleGetEndpoint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/endpoints/")
	if id == "" {
		http.Error(w, "missing endpoint id", http.StatusBadRequest)
		return
	}
	ep, ok := e.Endpoints.Get(id)
	if !ok {
		http.Error(w, "endpoint not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(propsFor(ep))
}

func propsFor(ep *endpoint.Endpoint) EndpointProperties {
	props := EndpointProperties{
		ID:               ep.ID,
		Device:           ep.Peer,
		Locations:        ep.Locations,
		SupportedContext: ep.SupportedContext,
		Context:          ep.Context,
	}
	if ep.RemotePAC != nil {
		props.UUID = codecUUID(ep.RemotePAC.Codec.ID, ep.RemotePAC.Codec.CID, ep.RemotePAC.Codec.VID)
	}
	return props
}

// codecUUID renders a codec id/company/vendor triple as a stable debug
// string; it is not a real Bluetooth SIG UUID, just a readable identifier
// for the introspection surface.
func codecUUID(id uint8, cid, vid uint16) string {
	const hex = "0123456789abcdef"
	b := []byte{hex[id>>4], hex[id&0xf], '-', hex[cid>>12&0xf], hex[cid>>8&0xf], hex[cid>>4&0xf], hex[cid&0xf], '-', hex[vid>>12&0xf], hex[vid>>8&0xf], hex[vid>>4&0xf], hex[vid&0xf]}
	return string(b)
}
