package app

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/gatewatch/gatewatch/internal/agents"
	"github.com/gatewatch/gatewatch/internal/auth"
	"github.com/gatewatch/gatewatch/internal/observability"
	"github.com/gatewatch/gatewatch/internal/rbac"
	"github.com/gatewatch/gatewatch/internal/scan"
	"github.com/gatewatch/gatewatch/internal/shared"
	"github.com/gatewatch/gatewatch/internal/stats"
	"github.com/gatewatch/gatewatch/jobs"
	"github.com/gatewatch/gatewatch/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	AuthHandler    *auth.Handler
	ScanHandler    *scan.Handler
	StatsHandler   *stats.Handler
	AgentsHandler  *agents.Handler
	JobHandler     *jobs.Handler
	RBACMiddleware rbac.Middleware
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with Gatewatch defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Unauthenticated users land on the login form.
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		if sess == nil || sess.User() == "" {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		http.Redirect(w, r, "/scan", http.StatusSeeOther)
	})

	params.AuthHandler.MountRoutes(r)

	r.Group(func(r chi.Router) {
		r.Use(params.RBACMiddleware.RequireAuthenticated())
		params.ScanHandler.MountRoutes(r)
		params.StatsHandler.MountRoutes(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(params.RBACMiddleware.RequireRole("admin"))
		r.Route("/admin", params.AgentsHandler.MountRoutes)
		r.Get("/create-agent", params.AgentsHandler.ShowCreateAgent)
		r.Post("/create-agent", params.AgentsHandler.HandleCreateAgent)
		r.Get("/admin-dashboard", params.StatsHandler.AdminDashboard)
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	return r
}

// staticCacheHandler wraps a file server with Cache-Control headers.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
