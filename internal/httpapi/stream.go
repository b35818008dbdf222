package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const streamHeartbeat = 25 * time.Second

// handleDashboardStream pushes dashboard stats as server-sent events, one
// "stats" event per recomputation, until the client goes away.
func (a *API) handleDashboardStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	from, to, err := parseWindow(r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx := r.Context()
	updates, err := a.service.WatchDashboard(ctx, r.URL.Query().Get("site_id"), from, to)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	rc := http.NewResponseController(w)
	// The server write timeout would otherwise cut the stream.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		a.logger.Warn("dashboard stream not flushable", zap.Error(err))
		return
	}

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case stats, ok := <-updates:
			if !ok {
				return
			}
			payload, err := json.Marshal(stats)
			if err != nil {
				a.logger.Error("encode dashboard stats", zap.Error(err))
				return
			}
			if _, err := fmt.Fprintf(w, "event: stats\ndata: %s\n\n", payload); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
