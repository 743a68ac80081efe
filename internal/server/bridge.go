package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"nithronos/nosvol/internal/reconcile"
	"nithronos/nosvol/internal/transport"
)

const maxBridgeWait = 30 * time.Second

// handleBridgeTake long-polls for requests the server side should execute.
func (a *api) handleBridgeTake(w http.ResponseWriter, r *http.Request) {
	var wait time.Duration
	if s := r.URL.Query().Get("wait"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "request.invalid_wait", "wait must be a duration such as 5s", nil)
			return
		}
		wait = min(d, maxBridgeWait)
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": a.bridge.Take(r.Context(), wait)})
}

func (a *api) handleBridgeResolve(w http.ResponseWriter, r *http.Request) {
	var res transport.Resolution
	if !decode(w, r, &res) {
		return
	}
	ev, err := a.bridge.Resolve(res)
	if err != nil {
		writeErr(w, err, nil)
		return
	}
	a.dispatch(w, r, ev)
}

func (a *api) handleBridgeNotify(w http.ResponseWriter, r *http.Request) {
	var n transport.Notification
	if !decode(w, r, &n) {
		return
	}
	ev, err := transport.Decode(n)
	if err != nil {
		writeErr(w, err, nil)
		return
	}
	if ev == nil {
		writeJSON(w, http.StatusAccepted, map[string]any{"ignored": true})
		return
	}
	a.dispatch(w, r, ev)
}

func (a *api) dispatch(w http.ResponseWriter, r *http.Request, ev reconcile.Event) {
	res, err := a.loop.Dispatch(r.Context(), ev)
	if err != nil {
		writeErr(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, intentResponse{State: res.Snapshot, Diagnostics: nonNil(res.Diagnostics)})
}

// handleStream pushes a server-sent event with the full state after every
// transition, starting with the current one.
func (a *api) handleStream(w http.ResponseWriter, r *http.Request) {
	fl, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "streaming unsupported", nil)
		return
	}
	ch, cancel := a.loop.Subscribe()
	defer cancel()
	snap, err := a.loop.Snapshot(r.Context())
	if err != nil {
		writeErr(w, err, nil)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	last := uint64(0)
	send := func(v any, version uint64) bool {
		b, err := json.Marshal(v)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "id: %d\nevent: state\ndata: %s\n\n", version, b); err != nil {
			return false
		}
		fl.Flush()
		last = version
		return true
	}
	if !send(snap, snap.Version) {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case s := <-ch:
			if s.Version <= last {
				continue
			}
			if !send(s, s.Version) {
				return
			}
		}
	}
}
