package inventory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/facilityops/internal/shared"
)

func newTestRouter(t *testing.T, policy NegativeStockPolicy) (http.Handler, *Service) {
	t.Helper()
	svc, _, _ := newTestService(t, policy)
	r := chi.NewRouter()
	r.Route("/inventory", NewHandler(nil, svc).MountRoutes)
	return r, svc
}

func serve(router http.Handler, method, path, body string, actor int64) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if actor > 0 {
		req = req.WithContext(shared.ContextWithActor(context.Background(), actor))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHandlerCreateItemWithOpeningBalance(t *testing.T) {
	router, _ := newTestRouter(t, PolicyClamp)

	rr := serve(router, http.MethodPost, "/inventory/items",
		`{"facility_id":1,"name":"Towels","minimum_stock":"10","cost_price":"2.50","initial_stock":"4"}`, 9)
	require.Equal(t, http.StatusCreated, rr.Code)

	var resp struct {
		Item    itemResponse        `json:"item"`
		Opening transactionResponse `json:"opening_transaction"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.True(t, resp.Item.CurrentStock.Equal(dec("4")))
	require.True(t, resp.Item.IsLowStock)
	require.True(t, resp.Item.TotalValue.Equal(dec("10")))
	require.Equal(t, TransactionAdjustment, resp.Opening.Type)
	require.Equal(t, int64(9), resp.Opening.CreatedBy)
}

func TestHandlerCreateItemValidation(t *testing.T) {
	router, _ := newTestRouter(t, PolicyClamp)

	rr := serve(router, http.MethodPost, "/inventory/items", `{"name":""}`, 0)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "facility_id")

	rr = serve(router, http.MethodPost, "/inventory/items", `{"facility_id":1,"name":"x","colour":"red"}`, 0)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerRecordMovement(t *testing.T) {
	router, svc := newTestRouter(t, PolicyReject)
	item := onboard(t, svc, "3")
	path := "/inventory/items/" + strconv.FormatInt(item.ID, 10) + "/movements"

	rr := serve(router, http.MethodPost, path,
		`{"transaction_type":"purchase","quantity":"7","unit_price":"1.25","batch_number":"B-1","expiry_date":"2024-12-31"}`, 3)
	require.Equal(t, http.StatusCreated, rr.Code)
	var resp struct {
		Transaction transactionResponse `json:"transaction"`
		Item        itemResponse        `json:"item"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.True(t, resp.Transaction.StockAfter.Equal(dec("10")))
	require.Equal(t, "2024-12-31", resp.Transaction.ExpiryDate)
	require.True(t, resp.Item.CurrentStock.Equal(dec("10")))

	rr = serve(router, http.MethodPost, path, `{"transaction_type":"sale","quantity":"25"}`, 3)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "negative stock")

	rr = serve(router, http.MethodPost, path, `{"transaction_type":"gift","quantity":"1"}`, 3)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "transaction_type")

	rr = serve(router, http.MethodGet, path+"?limit=1", "", 0)
	require.Equal(t, http.StatusOK, rr.Code)
	var list []transactionResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list, 1)
	require.Equal(t, TransactionPurchase, list[0].Type)
}

func TestHandlerUpdateAndDeactivate(t *testing.T) {
	router, svc := newTestRouter(t, PolicyClamp)
	item := onboard(t, svc, "20")
	path := "/inventory/items/" + strconv.FormatInt(item.ID, 10)

	rr := serve(router, http.MethodPatch, path, `{"minimum_stock":"25"}`, 1)
	require.Equal(t, http.StatusOK, rr.Code)
	var updated itemResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &updated))
	require.True(t, updated.MinimumStock.Equal(dec("25")))
	require.True(t, updated.IsLowStock)

	rr = serve(router, http.MethodPost, path+"/deactivate", "", 1)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &updated))
	require.False(t, updated.IsActive)

	rr = serve(router, http.MethodGet, "/inventory/items/999", "", 0)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = serve(router, http.MethodGet, "/inventory/items/abc", "", 0)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
