package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"eostre.org/internal/location"
	"eostre.org/internal/obs"
)

const streamHeartbeat = 15 * time.Second

// handleStream serves location changes of the caller's account as Server-Sent
// Events. The stream ends when the client goes away; token expiry is only
// checked when the stream is opened.
func (a *LocationAPI) handleStream(w http.ResponseWriter, r *http.Request) {
	hub := a.locations.Hub()
	if hub == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	accountID := claimsFrom(r).AccountID
	ch := hub.Subscribe(ctx, func(c location.Change) bool { return c.AccountID == accountID })

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case change, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(change)
			if err != nil {
				obs.From(ctx).Warn("encode location change", zap.Error(err))
				continue
			}
			_, _ = fmt.Fprintf(w, "id: %s\nevent: location.%s\ndata: %s\n\n", change.Location.ID, change.Op, payload)
			flusher.Flush()
		}
	}
}
