package http

import (
	"context"
	"net/http"
	"time"
)

// Health pings Redis and reports ok/error. Always HTTP 200: monitors read
// the body, load balancers only need the endpoint to answer.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Redis.Ping(ctx); err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "error", "detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
