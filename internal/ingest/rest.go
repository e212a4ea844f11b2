package ingest

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"bookingwatch/internal/normalize"
)

// HTTPHandler accepts booking batches over POST, in any shape
// normalize.Bookings understands.
type HTTPHandler struct {
	latest *Latest
	out    chan<- Batch
	logger *slog.Logger
}

func NewHTTPHandler(latest *Latest, out chan<- Batch, logger *slog.Logger) *HTTPHandler {
	return &HTTPHandler{latest: latest, out: out, logger: logger}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 8<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	records, bad, err := normalize.Bookings(body)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("rest booking batch rejected", "err", err)
		}
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	b := Batch{Source: "rest", Received: time.Now().UTC(), Records: records}
	if h.latest != nil {
		h.latest.Set(b)
	}
	queued := false
	if h.out != nil {
		queued = SendNonBlocking(r.Context(), h.out, b, h.logger)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"accepted": len(records),
		"failed":   len(bad),
		"queued":   queued,
	})
}
