package api

import (
	"net/http"
	"time"

	"routeopt/internal/buildinfo"
)

// DebugJSON reports build info and the non-secret parts of the configuration.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
	}
	if c := s.Config; c != nil {
		info["config"] = map[string]any{
			"APP_ENV":                   c.Env,
			"PORT":                      c.Port,
			"OPTIMIZER_URL":             c.Optimizer.URL,
			"OPTIMIZER_TIMEOUT":         c.Optimizer.Timeout.String(),
			"OPTIMIZER_HEALTH_INTERVAL": c.Optimizer.HealthInterval.String(),
			"USE_MOCK_DATA":             c.Optimizer.UseMockData,
			"SESSION_TTL":               c.Session.TTL.String(),
			"RATE_RPS":                  c.RateLimit.RPS,
			"RATE_BURST":                c.RateLimit.Burst,
			"WEBHOOK_MAX_ATTEMPTS":      c.Webhooks.MaxAttempts,
			"HAS_DATABASE_URL":          c.DatabaseURL != "",
			"HAS_REDIS_URL":             c.RedisURL != "",
			"ALLOWED_ORIGINS":           c.AllowedOrigins,
		}
	}
	if s.Optimizer != nil {
		info["optimizer"] = s.Optimizer.Status()
	}
	writeJSON(w, http.StatusOK, info)
}
