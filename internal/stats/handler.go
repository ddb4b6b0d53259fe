package stats

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/gatewatch/gatewatch/internal/platform/httpx"
	"github.com/gatewatch/gatewatch/internal/shared"
	"github.com/gatewatch/gatewatch/internal/view"
)

// Handler serves the JSON stats API and the dashboard pages.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
}

// NewHandler constructs the stats handler.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf}
}

// MountRoutes registers the routes available to every authenticated agent.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/api/stats", h.apiStats)
	r.Get("/entry-dashboard", h.dashboardPage("Tableau de bord - Entrée"))
	r.Get("/exit-dashboard", h.dashboardPage("Tableau de bord - Sortie"))
}

// AdminDashboard renders the admin variant with the full rollup payload.
func (h *Handler) AdminDashboard(w http.ResponseWriter, r *http.Request) {
	h.renderDashboard(w, r, "Tableau de bord - Administration")
}

func (h *Handler) apiStats(w http.ResponseWriter, r *http.Request) {
	overview, err := h.service.Today(r.Context(), currentAgentID(r))
	if err != nil {
		h.logger.Error("load stats", slog.Any("error", err))
		httpx.JSON(w, http.StatusInternalServerError, map[string]string{
			"status":  "error",
			"message": "Impossible de charger les statistiques",
		})
		return
	}
	httpx.JSON(w, http.StatusOK, overview)
}

func (h *Handler) dashboardPage(title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.renderDashboard(w, r, title)
	}
}

type dashboardPageData struct {
	Dashboard Dashboard
	Stats     map[string]int
	Errors    map[string]string
}

func (h *Handler) renderDashboard(w http.ResponseWriter, r *http.Request, title string) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)

	data := dashboardPageData{Errors: map[string]string{}}
	if dashboard, err := h.service.Dashboard(r.Context()); err != nil {
		h.logger.Error("load dashboard", slog.Any("error", err))
		data.Errors["general"] = shared.UserSafeMessage(err)
	} else {
		data.Dashboard = dashboard
		data.Stats = overviewMap(dashboard.Overview)
	}

	role := ""
	var flash *shared.FlashMessage
	if sess != nil {
		role = sess.Role()
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{Title: title, CSRFToken: csrfToken, Flash: flash, CurrentPath: r.URL.Path, Role: role, Data: data}
	if err := h.templates.Render(w, "pages/dashboard.html", viewData); err != nil {
		h.logger.Error("render dashboard", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func currentAgentID(r *http.Request) int64 {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0
	}
	id, _ := strconv.ParseInt(sess.User(), 10, 64)
	return id
}
