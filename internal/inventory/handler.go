package inventory

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/facilityops/internal/platform/httpx"
	"github.com/odyssey-erp/facilityops/internal/shared"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/items", h.handleCreateItem)
	r.Get("/items/{id}", h.handleGetItem)
	r.Patch("/items/{id}", h.handleUpdateItem)
	r.Post("/items/{id}/deactivate", h.handleDeactivateItem)
	r.Post("/items/{id}/movements", h.handleRecordMovement)
	r.Get("/items/{id}/movements", h.handleListMovements)
}

type createItemRequest struct {
	FacilityID       int64           `json:"facility_id" validate:"required,gt=0"`
	Name             string          `json:"name" validate:"required,max=200"`
	SKU              string          `json:"sku" validate:"max=50"`
	Unit             string          `json:"unit" validate:"max=20"`
	MinimumStock     decimal.Decimal `json:"minimum_stock"`
	MaximumStock     decimal.Decimal `json:"maximum_stock"`
	CostPrice        decimal.Decimal `json:"cost_price"`
	SellingPrice     decimal.Decimal `json:"selling_price"`
	AutoReorder      bool            `json:"auto_reorder"`
	ReorderQuantity  decimal.Decimal `json:"reorder_quantity"`
	PrimaryVendorID  int64           `json:"primary_vendor_id" validate:"gte=0"`
	HasExpiry        bool            `json:"has_expiry"`
	ExpiryAlertDays  int             `json:"expiry_alert_days" validate:"gte=0"`
	InitialStock     decimal.Decimal `json:"initial_stock"`
	InitialUnitPrice decimal.Decimal `json:"initial_unit_price"`
}

type updateItemRequest struct {
	Name            *string          `json:"name" validate:"omitempty,max=200"`
	Unit            *string          `json:"unit" validate:"omitempty,max=20"`
	MinimumStock    *decimal.Decimal `json:"minimum_stock"`
	MaximumStock    *decimal.Decimal `json:"maximum_stock"`
	CostPrice       *decimal.Decimal `json:"cost_price"`
	SellingPrice    *decimal.Decimal `json:"selling_price"`
	AutoReorder     *bool            `json:"auto_reorder"`
	ReorderQuantity *decimal.Decimal `json:"reorder_quantity"`
	PrimaryVendorID *int64           `json:"primary_vendor_id" validate:"omitempty,gte=0"`
	HasExpiry       *bool            `json:"has_expiry"`
	ExpiryAlertDays *int             `json:"expiry_alert_days" validate:"omitempty,gte=0"`
}

type movementRequest struct {
	Type           string          `json:"transaction_type" validate:"required,oneof=purchase sale adjustment damage return transfer expired"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Reference      string          `json:"reference" validate:"max=100"`
	VendorID       int64           `json:"vendor_id" validate:"gte=0"`
	BatchNumber    string          `json:"batch_number" validate:"max=50"`
	ExpiryDate     string          `json:"expiry_date" validate:"omitempty,datetime=2006-01-02"`
	Notes          string          `json:"notes"`
	IdempotencyKey string          `json:"idempotency_key" validate:"max=100"`
}

type itemResponse struct {
	ID              int64           `json:"id"`
	FacilityID      int64           `json:"facility_id"`
	Name            string          `json:"name"`
	SKU             string          `json:"sku,omitempty"`
	Unit            string          `json:"unit"`
	CurrentStock    decimal.Decimal `json:"current_stock"`
	MinimumStock    decimal.Decimal `json:"minimum_stock"`
	MaximumStock    decimal.Decimal `json:"maximum_stock"`
	CostPrice       decimal.Decimal `json:"cost_price"`
	SellingPrice    decimal.Decimal `json:"selling_price"`
	AutoReorder     bool            `json:"auto_reorder"`
	ReorderQuantity decimal.Decimal `json:"reorder_quantity"`
	PrimaryVendorID int64           `json:"primary_vendor_id,omitempty"`
	HasExpiry       bool            `json:"has_expiry"`
	ExpiryAlertDays int             `json:"expiry_alert_days"`
	IsActive        bool            `json:"is_active"`
	IsLowStock      bool            `json:"is_low_stock"`
	StockPercentage decimal.Decimal `json:"stock_percentage"`
	TotalValue      decimal.Decimal `json:"total_value"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type transactionResponse struct {
	ID           int64           `json:"id"`
	ItemID       int64           `json:"item_id"`
	Type         TransactionType `json:"transaction_type"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	StockBefore  decimal.Decimal `json:"stock_before"`
	StockAfter   decimal.Decimal `json:"stock_after"`
	Clamped      bool            `json:"clamped,omitempty"`
	Reference    string          `json:"reference"`
	VendorID     int64           `json:"vendor_id,omitempty"`
	BatchNumber  string          `json:"batch_number,omitempty"`
	ExpiryDate   string          `json:"expiry_date,omitempty"`
	Notes        string          `json:"notes,omitempty"`
	TransactedAt time.Time       `json:"transacted_at"`
	CreatedBy    int64           `json:"created_by,omitempty"`
}

func toItemResponse(item Item) itemResponse {
	return itemResponse{
		ID:              item.ID,
		FacilityID:      item.FacilityID,
		Name:            item.Name,
		SKU:             item.SKU,
		Unit:            item.Unit,
		CurrentStock:    item.CurrentStock,
		MinimumStock:    item.MinimumStock,
		MaximumStock:    item.MaximumStock,
		CostPrice:       item.CostPrice,
		SellingPrice:    item.SellingPrice,
		AutoReorder:     item.AutoReorder,
		ReorderQuantity: item.ReorderQuantity,
		PrimaryVendorID: item.PrimaryVendorID,
		HasExpiry:       item.HasExpiry,
		ExpiryAlertDays: item.ExpiryAlertDays,
		IsActive:        item.IsActive,
		IsLowStock:      item.IsLowStock(),
		StockPercentage: item.StockPercentage(),
		TotalValue:      item.TotalValue(),
		UpdatedAt:       item.UpdatedAt,
	}
}

func toTransactionResponse(entry Transaction) transactionResponse {
	resp := transactionResponse{
		ID:           entry.ID,
		ItemID:       entry.ItemID,
		Type:         entry.Type,
		Quantity:     entry.Quantity,
		UnitPrice:    entry.UnitPrice,
		TotalAmount:  entry.TotalAmount,
		StockBefore:  entry.StockBefore,
		StockAfter:   entry.StockAfter,
		Clamped:      entry.Clamped,
		Reference:    entry.Reference,
		VendorID:     entry.VendorID,
		BatchNumber:  entry.BatchNumber,
		Notes:        entry.Notes,
		TransactedAt: entry.TransactedAt,
		CreatedBy:    entry.CreatedBy,
	}
	if entry.ExpiryDate != nil {
		resp.ExpiryDate = entry.ExpiryDate.Format(shared.DateLayout)
	}
	return resp
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		if fields := httpx.FieldErrors(err); fields != nil {
			httpx.ValidationProblem(w, fields)
			return false
		}
		httpx.RespondError(w, err)
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn("inventory request failed", slog.String("op", op), slog.Any("error", err))
	httpx.RespondError(w, err)
}

func (h *Handler) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	item, opening, err := h.service.OnboardItem(r.Context(), OnboardInput{
		FacilityID:       req.FacilityID,
		Name:             req.Name,
		SKU:              req.SKU,
		Unit:             req.Unit,
		MinimumStock:     req.MinimumStock,
		MaximumStock:     req.MaximumStock,
		CostPrice:        req.CostPrice,
		SellingPrice:     req.SellingPrice,
		AutoReorder:      req.AutoReorder,
		ReorderQuantity:  req.ReorderQuantity,
		PrimaryVendorID:  req.PrimaryVendorID,
		HasExpiry:        req.HasExpiry,
		ExpiryAlertDays:  req.ExpiryAlertDays,
		InitialStock:     req.InitialStock,
		InitialUnitPrice: req.InitialUnitPrice,
		ActorID:          shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "create_item", err)
		return
	}
	resp := map[string]any{"item": toItemResponse(item)}
	if opening != nil {
		resp["opening_transaction"] = toTransactionResponse(*opening)
	}
	httpx.JSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		h.fail(w, "get_item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toItemResponse(item))
}

func (h *Handler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updateItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	item, err := h.service.UpdateItem(r.Context(), id, ItemPatch{
		Name:            req.Name,
		Unit:            req.Unit,
		MinimumStock:    req.MinimumStock,
		MaximumStock:    req.MaximumStock,
		CostPrice:       req.CostPrice,
		SellingPrice:    req.SellingPrice,
		AutoReorder:     req.AutoReorder,
		ReorderQuantity: req.ReorderQuantity,
		PrimaryVendorID: req.PrimaryVendorID,
		HasExpiry:       req.HasExpiry,
		ExpiryAlertDays: req.ExpiryAlertDays,
	}, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "update_item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toItemResponse(item))
}

func (h *Handler) handleDeactivateItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.DeactivateItem(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "deactivate_item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toItemResponse(item))
}

func (h *Handler) handleRecordMovement(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req movementRequest
	if !h.decode(w, r, &req) {
		return
	}
	meta := Metadata{
		Reference:      req.Reference,
		VendorID:       req.VendorID,
		BatchNumber:    req.BatchNumber,
		Notes:          req.Notes,
		IdempotencyKey: req.IdempotencyKey,
		ActorID:        shared.ActorFromContext(r.Context()),
	}
	if req.ExpiryDate != "" {
		expiry, err := shared.ParseDate(req.ExpiryDate)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		meta.ExpiryDate = &expiry
	}
	entry, item, err := h.service.RecordMovement(r.Context(), MovementInput{
		ItemID:    id,
		Type:      TransactionType(req.Type),
		Quantity:  req.Quantity,
		UnitPrice: req.UnitPrice,
		Metadata:  meta,
	})
	if err != nil {
		h.fail(w, "record_movement", err)
		return
	}
	h.logger.Info("stock movement recorded",
		slog.Int64("item_id", item.ID),
		slog.Int64("transaction_id", entry.ID),
		slog.String("type", string(entry.Type)),
		slog.String("stock_after", entry.StockAfter.String()))
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"transaction": toTransactionResponse(entry),
		"item":        toItemResponse(item),
	})
}

func (h *Handler) handleListMovements(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	limit, err := httpx.QueryInt(r, "limit")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.service.ListTransactions(r.Context(), id, limit)
	if err != nil {
		h.fail(w, "list_movements", err)
		return
	}
	out := make([]transactionResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toTransactionResponse(entry))
	}
	httpx.JSON(w, http.StatusOK, out)
}
