package agents

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gatewatch/gatewatch/internal/rbac"
	"github.com/gatewatch/gatewatch/internal/shared"
	"github.com/gatewatch/gatewatch/internal/view"
)

// Handler manages the agent administration endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	sessions  *shared.SessionManager
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager, sessions *shared.SessionManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf, sessions: sessions}
}

// MountRoutes registers agent administration routes under /admin.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/agents", h.listAgents)
	r.Post("/agents/{id}/role", h.changeRole)
	r.Post("/agents/{id}/delete", h.deleteAgent)
}

// ShowCreateAgent renders the create-agent form.
func (h *Handler) ShowCreateAgent(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "pages/agent_form.html", map[string]any{"Form": CreateInput{}, "Roles": rbac.ValidRoles, "Errors": formErrors{}}, http.StatusOK)
}

// HandleCreateAgent processes the create-agent form.
func (h *Handler) HandleCreateAgent(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	input := CreateInput{
		Name:     r.PostFormValue("name"),
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
		Role:     r.PostFormValue("role"),
	}

	_, err := h.service.Create(r.Context(), h.actorID(r), input)
	if err == nil {
		h.redirectWithFlash(w, r, "/admin/agents", "success", "Agent créé avec succès")
		return
	}

	errs := formErrors{}
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		for _, fieldErr := range verrs {
			errs[fieldErr.Field()] = "valeur invalide"
		}
	case errors.Is(err, ErrEmailTaken):
		errs["Email"] = "Cette adresse email est déjà utilisée"
	case errors.Is(err, ErrUnknownRole):
		errs["Role"] = "Rôle inconnu"
	default:
		h.logger.Error("create agent", slog.Any("error", err))
		errs["general"] = shared.UserSafeMessage(err)
	}
	h.render(w, r, "pages/agent_form.html", map[string]any{"Form": input, "Roles": rbac.ValidRoles, "Errors": errs}, http.StatusBadRequest)
}

type formErrors map[string]string

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list agents", slog.Any("error", err))
		h.render(w, r, "pages/agents.html", map[string]any{"Errors": formErrors{"general": shared.UserSafeMessage(err)}}, http.StatusInternalServerError)
		return
	}
	h.render(w, r, "pages/agents.html", map[string]any{"Agents": agents, "Roles": rbac.ValidRoles, "ActorID": h.actorID(r), "Errors": formErrors{}}, http.StatusOK)
}

func (h *Handler) changeRole(w http.ResponseWriter, r *http.Request) {
	agentID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err = h.service.ChangeRole(r.Context(), h.actorID(r), agentID, r.PostFormValue("role"))
	switch {
	case err == nil:
		h.redirectWithFlash(w, r, "/admin/agents", "success", "Rôle mis à jour")
	case errors.Is(err, ErrOwnRole):
		h.redirectWithFlash(w, r, "/admin/agents", "error", "Vous ne pouvez pas modifier votre propre rôle")
	case errors.Is(err, ErrUnknownRole):
		h.redirectWithFlash(w, r, "/admin/agents", "error", "Rôle inconnu")
	case errors.Is(err, shared.ErrNotFound):
		h.redirectWithFlash(w, r, "/admin/agents", "error", "Agent introuvable")
	default:
		h.logger.Error("change role", slog.Any("error", err))
		h.redirectWithFlash(w, r, "/admin/agents", "error", shared.UserSafeMessage(err))
	}
}

func (h *Handler) deleteAgent(w http.ResponseWriter, r *http.Request) {
	agentID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err = h.service.Delete(r.Context(), h.actorID(r), agentID)
	switch {
	case err == nil:
		h.redirectWithFlash(w, r, "/admin/agents", "success", "Agent supprimé")
	case errors.Is(err, ErrSelfDelete):
		h.redirectWithFlash(w, r, "/admin/agents", "error", "Vous ne pouvez pas supprimer votre propre compte")
	case errors.Is(err, shared.ErrNotFound):
		h.redirectWithFlash(w, r, "/admin/agents", "error", "Agent introuvable")
	default:
		h.logger.Error("delete agent", slog.Any("error", err))
		h.redirectWithFlash(w, r, "/admin/agents", "error", shared.UserSafeMessage(err))
	}
}

func (h *Handler) actorID(r *http.Request) int64 {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0
	}
	id, _ := strconv.ParseInt(sess.User(), 10, 64)
	return id
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template string, data map[string]any, status int) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	role := ""
	var flash *shared.FlashMessage
	if sess != nil {
		role = sess.Role()
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{Title: "Gestion des agents", CSRFToken: csrfToken, Flash: flash, CurrentPath: r.URL.Path, Role: role, Data: data}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.templates.Render(w, template, viewData); err != nil {
		h.logger.Error("render template", slog.Any("error", err))
	}
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}
