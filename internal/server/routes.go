package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
	// StemsDir, when set, is served read-only under /stems/.
	StemsDir string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	// Register routes with method-based patterns (Go 1.22+)
	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("POST /jobs", RequireAccount(http.HandlerFunc(h.CreateJob)))
	mux.Handle("POST /jobs/remote", RequireAccount(http.HandlerFunc(h.CreateRemoteJob)))
	mux.Handle("GET /jobs", RequireAccount(http.HandlerFunc(h.ListJobs)))
	mux.Handle("GET /jobs/{id}", RequireAccount(http.HandlerFunc(h.GetJob)))
	mux.Handle("DELETE /jobs/{id}", RequireAccount(http.HandlerFunc(h.DeleteJob)))
	mux.Handle("GET /jobs/{id}/archive", RequireAccount(http.HandlerFunc(h.GetArchive)))

	if cfg.StemsDir != "" {
		mux.Handle("GET /stems/", http.StripPrefix("/stems/", http.FileServer(http.Dir(cfg.StemsDir))))
	}

	// Apply middleware chain
	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
