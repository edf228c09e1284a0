// Package health exposes liveness and readiness probes over the billing
// service's two hard dependencies, Postgres and Redis.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Handler probes the backing stores for readiness.
type Handler struct {
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Timeout time.Duration
}

func (h Handler) timeout() time.Duration {
	if h.Timeout <= 0 {
		return 500 * time.Millisecond
	}
	return h.Timeout
}

// Live reports process liveness.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency probes. Any failing probe
// turns the endpoint 503 with per-dependency detail.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{
		"db":    h.probeDB(r.Context()),
		"redis": h.probeRedis(r.Context()),
	}

	code := http.StatusOK
	for _, v := range status {
		if v != "ok" {
			code = http.StatusServiceUnavailable
			break
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

func (h Handler) probeDB(ctx context.Context) string {
	if h.Pool == nil {
		return "not configured"
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout())
	defer cancel()
	if err := h.Pool.Ping(ctx); err != nil {
		return err.Error()
	}
	return "ok"
}

func (h Handler) probeRedis(ctx context.Context) string {
	if h.Redis == nil {
		return "not configured"
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout())
	defer cancel()
	if err := h.Redis.Ping(ctx).Err(); err != nil {
		return err.Error()
	}
	return "ok"
}
