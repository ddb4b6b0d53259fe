package scan

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/gatewatch/gatewatch/internal/shared"
	"github.com/gatewatch/gatewatch/internal/view"
	_ "github.com/gatewatch/gatewatch/testing"
)

type stubStats struct{}

func (stubStats) Overview(ctx context.Context) (map[string]int, error) {
	return map[string]int{"total_scans": 0, "scans_valides": 0, "tentatives_fraude": 0}, nil
}

func (stubStats) Today(ctx context.Context, agentID int64) (map[string]int, error) {
	return map[string]int{"total_scans": 0, "scans_valides": 0, "tentatives_fraude": 0, "mon_activite": 0}, nil
}

func (stubStats) Filtered(ctx context.Context, filter HistoryFilter) (map[string]int, error) {
	return map[string]int{"total_scans": 0, "scans_valides": 0, "tentatives_fraude": 0}, nil
}

func newScanHandler(t *testing.T, repo *memoryRepo) (*Handler, *shared.SessionManager) {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessionManager := shared.NewSessionManager(redisClient, "test_session", "secret", time.Hour, false)
	csrfManager := shared.NewCSRFManager("csrfsecret")
	templates, err := view.NewEngine()
	if err != nil {
		t.Fatalf("templates: %v", err)
	}
	svc := NewService(repo, nil, nil, nil)
	handler := NewHandler(nil, svc, stubStats{}, templates, csrfManager, sessionManager)
	return handler, sessionManager
}

func authenticatedRequest(t *testing.T, sessionManager *shared.SessionManager, method, target string, body string) *http.Request {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	sess, err := sessionManager.Load(context.Background(), req)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	sess.SetUser("7", "exit")
	return req.WithContext(shared.ContextWithSession(req.Context(), sess))
}

func TestScanEndpointNewThenFraud(t *testing.T) {
	repo := newMemoryRepo()
	handler, sessionManager := newScanHandler(t, repo)

	req := authenticatedRequest(t, sessionManager, http.MethodPost, "/scan", `{"code":"ABC123","produit":"Ciment","quantite":50,"chauffeur":"Jean"}`)
	res := httptest.NewRecorder()
	handler.handleScan(res, req)

	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), `"status":"new"`)
	require.Contains(t, res.Body.String(), `"scan_count":1`)

	req = authenticatedRequest(t, sessionManager, http.MethodPost, "/scan", `{"code":"ABC123"}`)
	res = httptest.NewRecorder()
	handler.handleScan(res, req)

	require.Equal(t, http.StatusConflict, res.Code)
	require.Contains(t, res.Body.String(), `"status":"fraud"`)
	require.Contains(t, res.Body.String(), "ALERTE FRAUDE")
	require.Contains(t, res.Body.String(), `"scan_count":2`)
}

func TestScanEndpointValidation(t *testing.T) {
	handler, sessionManager := newScanHandler(t, newMemoryRepo())

	req := authenticatedRequest(t, sessionManager, http.MethodPost, "/scan", `{"code":"","quantite":-5}`)
	res := httptest.NewRecorder()
	handler.handleScan(res, req)

	require.Equal(t, http.StatusUnprocessableEntity, res.Code)
	require.Contains(t, res.Body.String(), `"status":"error"`)
	require.Contains(t, res.Body.String(), `"code"`)
}

func TestScanEndpointBadJSON(t *testing.T) {
	handler, sessionManager := newScanHandler(t, newMemoryRepo())

	req := authenticatedRequest(t, sessionManager, http.MethodPost, "/scan", `{not json`)
	res := httptest.NewRecorder()
	handler.handleScan(res, req)

	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestScanFormPage(t *testing.T) {
	handler, sessionManager := newScanHandler(t, newMemoryRepo())

	req := authenticatedRequest(t, sessionManager, http.MethodGet, "/scan", "")
	res := httptest.NewRecorder()
	handler.showScanForm(res, req)

	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), "scan-form")
}

func TestHistoryExportCSV(t *testing.T) {
	repo := newMemoryRepo()
	handler, sessionManager := newScanHandler(t, repo)

	seed := authenticatedRequest(t, sessionManager, http.MethodPost, "/scan", `{"code":"EXP-1","produit":"Sable","quantite":10,"chauffeur":"Ali"}`)
	handler.handleScan(httptest.NewRecorder(), seed)

	req := authenticatedRequest(t, sessionManager, http.MethodGet, "/historique/export", "")
	res := httptest.NewRecorder()
	handler.exportHistory(res, req)

	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Header().Get("Content-Type"), "text/csv")
	require.Contains(t, res.Body.String(), "Code,Produit")
	require.Contains(t, res.Body.String(), "EXP-1")
}
