package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"login-gate/internal/app"
	"login-gate/internal/observability"
)

var (
	mu         sync.Mutex
	apiRuntime *app.Runtime
	logger     = observability.NewLogger().With(map[string]any{"component": "notifyd-serverless"})

	build = func() (*app.Runtime, error) {
		return app.Build(app.Options{
			LoadDotEnv:    false,
			RunMigrations: app.EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", false),
		})
	}
)

// Handler serves the notification service from a serverless function. Use a
// SQL ban store there; memory state does not survive between instances.
//
// A failed bootstrap is retried on the next request, so an instance started
// during a database outage recovers without a cold start.
func Handler(w http.ResponseWriter, r *http.Request) {
	rt, err := loadRuntime()
	if err != nil {
		logger.Error("bootstrap_failed", map[string]any{"error": err.Error(), "path": r.URL.Path})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "application bootstrap failed"})
		return
	}

	rt.Handler.ServeHTTP(w, r)
}

func loadRuntime() (*app.Runtime, error) {
	mu.Lock()
	defer mu.Unlock()
	if apiRuntime != nil {
		return apiRuntime, nil
	}
	rt, err := build()
	if err != nil {
		return nil, err
	}
	apiRuntime = rt
	return rt, nil
}
