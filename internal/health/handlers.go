package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Probe checks one dependency. Nil probes are reported as "skipped", which
// keeps the memory-store configuration ready without a database.
type Probe func(ctx context.Context) error

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	DB      Probe
	Redis   Probe
	Timeout time.Duration
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency probes.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{
		"db":    h.run(r.Context(), h.DB),
		"redis": h.run(r.Context(), h.Redis),
	}
	code := http.StatusOK
	for _, v := range status {
		if v != "ok" && v != "skipped" {
			code = http.StatusServiceUnavailable
			break
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

func (h Handler) run(ctx context.Context, p Probe) string {
	if p == nil {
		return "skipped"
	}
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p(ctx); err != nil {
		return err.Error()
	}
	return "ok"
}
