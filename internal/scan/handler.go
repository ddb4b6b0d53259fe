package scan

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gatewatch/gatewatch/internal/platform/httpx"
	"github.com/gatewatch/gatewatch/internal/shared"
	"github.com/gatewatch/gatewatch/internal/view"
)

// StatsPort provides the rollups rendered next to the scan form and the
// history view. Keys mirror the historical dashboard payload
// (total_scans, scans_valides, tentatives_fraude, codes_uniques, ...).
type StatsPort interface {
	Overview(ctx context.Context) (map[string]int, error)
	Today(ctx context.Context, agentID int64) (map[string]int, error)
	Filtered(ctx context.Context, filter HistoryFilter) (map[string]int, error)
}

// Handler wires the scan endpoints: the form, the JSON scan API, history and
// CSV export.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	stats     StatsPort
	templates *view.Engine
	csrf      *shared.CSRFManager
	sessions  *shared.SessionManager
}

// NewHandler constructs the scan handler.
func NewHandler(logger *slog.Logger, service *Service, stats StatsPort, templates *view.Engine, csrf *shared.CSRFManager, sessions *shared.SessionManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, stats: stats, templates: templates, csrf: csrf, sessions: sessions}
}

// MountRoutes registers scan routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/scan", h.showScanForm)
	r.Post("/scan", h.handleScan)
	r.Get("/historique", h.showHistory)
	r.Get("/historique/export", h.exportHistory)
}

type codeSnapshot struct {
	ID            int64     `json:"id"`
	Code          string    `json:"code"`
	ScanCount     int       `json:"scan_count"`
	LastScannedAt time.Time `json:"last_scanned_at"`
}

type scanResponse struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	QRCode  codeSnapshot `json:"qrcode"`
}

type scanErrorResponse struct {
	Status  string            `json:"status"`
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) {
	var input ScanInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.JSON(w, http.StatusBadRequest, scanErrorResponse{Status: "error", Message: "Requête illisible"})
		return
	}
	agentID := currentAgentID(r)

	h.logger.Info("scan initié",
		slog.String("code", input.Code),
		slog.Int64("agent_id", agentID),
		slog.String("ip", r.RemoteAddr))

	result, err := h.service.Evaluate(r.Context(), input, agentID)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			h.logger.Warn("données de scan invalides",
				slog.Int64("agent_id", agentID),
				slog.Any("errors", verr.Fields))
			httpx.JSON(w, http.StatusUnprocessableEntity, scanErrorResponse{
				Status:  "error",
				Message: "Données de scan invalides",
				Errors:  verr.Fields,
			})
			return
		}
		h.logger.Error("erreur lors du scan",
			slog.String("code", input.Code),
			slog.Int64("agent_id", agentID),
			slog.Any("error", err))
		httpx.JSON(w, http.StatusInternalServerError, scanErrorResponse{
			Status:  "error",
			Message: "Une erreur est survenue lors du scan",
		})
		return
	}

	h.logger.Info("scan traité",
		slog.String("code", input.Code),
		slog.String("status", string(result.Status)),
		slog.Int64("agent_id", agentID))

	status := http.StatusOK
	if result.Status == StatusFraud {
		status = http.StatusConflict
	}
	httpx.JSON(w, status, scanResponse{
		Status:  string(result.Status),
		Message: result.Message,
		QRCode: codeSnapshot{
			ID:            result.Record.ID,
			Code:          result.Record.Code,
			ScanCount:     result.Record.ScanCount,
			LastScannedAt: result.Record.LastScannedAt,
		},
	})
}

type scanPageData struct {
	Stats       map[string]int
	RecentScans []ScanEvent
	Errors      map[string]string
}

func (h *Handler) showScanForm(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	data := scanPageData{Errors: map[string]string{}}

	if stats, err := h.stats.Today(r.Context(), currentAgentID(r)); err != nil {
		h.logger.Error("load daily stats", slog.Any("error", err))
		data.Errors["general"] = shared.UserSafeMessage(err)
	} else {
		data.Stats = stats
	}
	if recent, err := h.service.RecentScans(r.Context(), 10); err != nil {
		h.logger.Error("load recent scans", slog.Any("error", err))
	} else {
		data.RecentScans = recent
	}

	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{Title: "Scanner un code", CSRFToken: csrfToken, Flash: flash, CurrentPath: r.URL.Path, Role: currentRole(sess), Data: data}
	if err := h.templates.Render(w, "pages/scan.html", viewData); err != nil {
		h.logger.Error("render scan form", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

type historyPageData struct {
	Scans      []ScanEvent
	Stats      map[string]int
	Filters    historyFilters
	Pagination shared.Pagination
	Errors     map[string]string
}

type historyFilters struct {
	Status    string
	DateDebut string
	DateFin   string
	Code      string
	Produit   string
	Agent     string
}

func (h *Handler) showHistory(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)

	filter, filters, errs := parseHistoryQuery(r)
	page, perPage := parsePageQuery(r)
	filter.Limit = perPage
	filter.Offset = (page - 1) * perPage

	data := historyPageData{Filters: filters, Errors: errs}
	if len(errs) == 0 {
		events, total, err := h.service.History(r.Context(), filter)
		if err != nil {
			h.logger.Error("load history", slog.Any("error", err))
			data.Errors["general"] = shared.UserSafeMessage(err)
		} else {
			data.Scans = events
			data.Pagination = shared.NewPagination(page, perPage, total)
		}
		if stats, err := h.stats.Filtered(r.Context(), filter); err != nil {
			h.logger.Error("load filtered stats", slog.Any("error", err))
		} else {
			data.Stats = stats
		}
		h.logger.Info("consultation historique",
			slog.Int64("agent_id", currentAgentID(r)),
			slog.Int("total_results", data.Pagination.Total))
	}

	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{Title: "Historique des scans", CSRFToken: csrfToken, Flash: flash, CurrentPath: r.URL.Path, Role: currentRole(sess), Data: data}
	if err := h.templates.Render(w, "pages/historique.html", viewData); err != nil {
		h.logger.Error("render history", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) exportHistory(w http.ResponseWriter, r *http.Request) {
	filter, _, errs := parseHistoryQuery(r)
	if len(errs) > 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	filter.Limit = 10000
	events, _, err := h.service.History(r.Context(), filter)
	if err != nil {
		h.logger.Error("export history", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.logger.Info("export des scans",
		slog.Int64("agent_id", currentAgentID(r)),
		slog.Int("count", len(events)))

	filename := fmt.Sprintf("scans-%s.csv", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)

	writer := csv.NewWriter(w)
	_ = writer.Write([]string{"Code", "Produit", "Quantité", "Chauffeur", "Statut", "Date", "Agent"})
	for _, event := range events {
		_ = writer.Write([]string{
			event.Code,
			event.Product,
			strconv.Itoa(event.Quantity),
			event.Driver,
			string(event.Status),
			event.ScannedAt.Format("02/01/2006 15:04"),
			event.AgentName,
		})
	}
	writer.Flush()
}

func parseHistoryQuery(r *http.Request) (HistoryFilter, historyFilters, map[string]string) {
	errs := make(map[string]string)
	q := r.URL.Query()
	filters := historyFilters{
		Status:    q.Get("status"),
		DateDebut: q.Get("date_debut"),
		DateFin:   q.Get("date_fin"),
		Code:      q.Get("code"),
		Produit:   q.Get("produit"),
		Agent:     q.Get("agent"),
	}

	var filter HistoryFilter
	switch filters.Status {
	case "":
	case string(StatusNew), string(StatusValid), string(StatusFraud):
		filter.Status = Status(filters.Status)
	default:
		errs["status"] = "statut inconnu"
	}
	if filters.DateDebut != "" {
		if from, err := time.Parse("2006-01-02", filters.DateDebut); err == nil {
			filter.DateFrom = from
		} else {
			errs["date_debut"] = "date invalide"
		}
	}
	if filters.DateFin != "" {
		if to, err := time.Parse("2006-01-02", filters.DateFin); err == nil {
			// End of day, inclusive.
			filter.DateTo = to.Add(24*time.Hour - time.Nanosecond)
		} else {
			errs["date_fin"] = "date invalide"
		}
	}
	if !filter.DateFrom.IsZero() && !filter.DateTo.IsZero() && filter.DateTo.Before(filter.DateFrom) {
		errs["date_fin"] = "doit être postérieure à la date de début"
	}
	filter.CodeLike = filters.Code
	filter.Product = filters.Produit
	if filters.Agent != "" {
		if id, err := strconv.ParseInt(filters.Agent, 10, 64); err == nil {
			filter.AgentID = id
		} else {
			errs["agent"] = "agent invalide"
		}
	}
	return filter, filters, errs
}

func parsePageQuery(r *http.Request) (page, perPage int) {
	page, perPage = 1, 20
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("per_page")); err == nil && v >= 10 && v <= 100 {
		perPage = v
	}
	return page, perPage
}

func currentAgentID(r *http.Request) int64 {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0
	}
	id, _ := strconv.ParseInt(sess.User(), 10, 64)
	return id
}

func currentRole(sess *shared.Session) string {
	if sess == nil {
		return ""
	}
	return sess.Role()
}
