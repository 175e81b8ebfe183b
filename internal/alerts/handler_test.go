package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/facilityops/internal/shared"
)

func newTestRouter(s *store) http.Handler {
	svc, _ := newTestService(s)
	r := chi.NewRouter()
	r.Route("/alerts", NewHandler(nil, svc).MountRoutes)
	return r
}

func TestHandlerEvaluateAndList(t *testing.T) {
	s := newStore()
	item := s.addItem(lowItem(0, true))
	router := newTestRouter(s)

	body := `{"subject_kind":"inventory_item","subject_id":` + jsonInt(item.ID) + `}`
	req := httptest.NewRequest(http.MethodPost, "/alerts/evaluate", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	var outcome outcomeResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &outcome))
	require.Equal(t, 2, outcome.Created)

	req = httptest.NewRequest(http.MethodGet, "/alerts?facility_id=7", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	var list []alertResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list, 2)
	require.Equal(t, PriorityCritical, list[0].Priority)
	require.Equal(t, "inventory_item", list[0].SubjectKind)

	req = httptest.NewRequest(http.MethodGet, "/alerts/summary?facility_id=7", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	var summary Summary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &summary))
	require.Equal(t, 2, summary.Total)
}

func TestHandlerEvaluateValidation(t *testing.T) {
	router := newTestRouter(newStore())
	req := httptest.NewRequest(http.MethodPost, "/alerts/evaluate", strings.NewReader(`{"subject_kind":"vendor","subject_id":1}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "subject_kind")
}

func TestHandlerResolveUsesOperator(t *testing.T) {
	s := newStore()
	a := s.addAlert(Alert{FacilityID: 7, Subject: ItemSubject(1), Type: TypeLowStock, Priority: PriorityHigh})
	router := newTestRouter(s)

	req := httptest.NewRequest(http.MethodPost, "/alerts/"+jsonInt(a.ID)+"/resolve", nil)
	req = req.WithContext(shared.ContextWithActor(context.Background(), 42))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp alertResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.True(t, resp.IsResolved)
	require.Equal(t, int64(42), resp.ResolvedBy)

	req = httptest.NewRequest(http.MethodPost, "/alerts/999/read", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlerRefresh(t *testing.T) {
	s := newStore()
	s.addItem(lowItem(3, false))
	router := newTestRouter(s)

	req := httptest.NewRequest(http.MethodPost, "/alerts/refresh?facility_id=7", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"created":1}`, rr.Body.String())
}

func jsonInt(v int64) string {
	raw, _ := json.Marshal(v)
	return string(raw)
}
