package bridge

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DefaultHeartbeat keeps idle streams open through proxies.
const DefaultHeartbeat = 25 * time.Second

// EncodeSSE renders a frame as one SSE data event.
func EncodeSSE(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(data)+8)
	out = append(out, "data: "...)
	out = append(out, data...)
	out = append(out, "\n\n"...)
	return out, nil
}

// ServeSSE streams dirty keys as server-sent events until the client goes
// away or is evicted.
func ServeSSE(h *Hub, heartbeat time.Duration) http.HandlerFunc {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}

	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		sub := h.Subscribe()
		defer sub.Close()

		if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
			return
		}
		flusher.Flush()

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case f, ok := <-sub.Frames():
				if !ok {
					return
				}
				b, err := EncodeSSE(f)
				if err != nil {
					return
				}
				if _, err := w.Write(b); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
