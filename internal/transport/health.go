package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/yufeireal/ratelimit/internal/backend"
)

// HealthHandler serves GET /healthcheck by probing the backend pool.
// Liveness is a collaborator concern (§6); this is the thinnest possible
// wiring of backend.Pool.HealthProbe to an HTTP response.
func HealthHandler(pool backend.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := pool.HealthProbe(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("unhealthy: " + err.Error()))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}
