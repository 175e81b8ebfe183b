package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/facilityops/internal/events"
	"github.com/odyssey-erp/facilityops/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetItem(ctx context.Context, id int64) (Item, error)
	ListTransactions(ctx context.Context, itemID int64, limit int) ([]Transaction, error)
	ListActiveItemIDs(ctx context.Context, facilityID int64) ([]int64, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards against replayed movements.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service coordinates the stock ledger.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	policy      NegativeStockPolicy
	publisher   events.Publisher
	logger      *slog.Logger
	clock       func() time.Time
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	NegativeStockPolicy NegativeStockPolicy
	Logger              *slog.Logger
	Clock               func() time.Time
}

// NewService builds Service. audit, idempotency and publisher may be nil.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort, publisher events.Publisher, cfg ServiceConfig) *Service {
	policy := cfg.NegativeStockPolicy
	if policy == "" {
		policy = PolicyClamp
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Service{repo: repo, audit: audit, idempotency: idem, policy: policy, publisher: publisher, logger: logger, clock: clock}
}

// Policy reports the configured negative stock policy.
func (s *Service) Policy() NegativeStockPolicy {
	return s.policy
}

// maxMovementAttempts bounds retries of a movement that lost the item row lock.
const maxMovementAttempts = 3

// RecordMovement appends a ledger entry and moves the item's running balance in
// one transaction. The item row is locked for the duration; a writer that loses
// the race gets ErrConcurrencyConflict from the database and is retried up to
// maxMovementAttempts times before the conflict is returned.
func (s *Service) RecordMovement(ctx context.Context, input MovementInput) (Transaction, Item, error) {
	if input.ItemID <= 0 {
		return Transaction{}, Item{}, shared.Validationf("inventory: item required")
	}
	if !input.Type.Valid() {
		return Transaction{}, Item{}, fmt.Errorf("%w: %q", ErrUnknownTransactionType, input.Type)
	}
	if err := checkQuantity(input.Quantity); err != nil {
		return Transaction{}, Item{}, err
	}
	if err := checkUnitPrice(input.UnitPrice); err != nil {
		return Transaction{}, Item{}, err
	}

	key := ""
	if input.Metadata.IdempotencyKey != "" && s.idempotency != nil {
		key = fmt.Sprintf("stock:%d:%s", input.ItemID, input.Metadata.IdempotencyKey)
		if err := s.idempotency.CheckAndInsert(ctx, key, "inventory"); err != nil {
			return Transaction{}, Item{}, err
		}
	}

	var (
		entry  Transaction
		item   Item
		before decimal.Decimal
	)
	apply := func(ctx context.Context, tx TxRepository) error {
		var err error
		item, err = tx.GetItemForUpdate(ctx, input.ItemID)
		if err != nil {
			return err
		}
		if !item.IsActive {
			return ErrItemInactive
		}
		before = item.CurrentStock
		entry, err = s.appendEntry(ctx, tx, item, input)
		if err != nil {
			return err
		}
		item.CurrentStock = entry.StockAfter
		item.UpdatedAt = entry.TransactedAt
		return nil
	}
	var err error
	for attempt := 1; attempt <= maxMovementAttempts; attempt++ {
		err = s.repo.WithTx(ctx, apply)
		if !errors.Is(err, shared.ErrConcurrencyConflict) || ctx.Err() != nil {
			break
		}
		s.logger.Debug("stock movement conflicted, retrying",
			slog.Int64("item_id", input.ItemID),
			slog.Int("attempt", attempt))
	}
	if err != nil {
		if key != "" {
			_ = s.idempotency.Delete(ctx, key)
		}
		return Transaction{}, Item{}, err
	}

	s.recordAudit(ctx, entry)
	if entry.Clamped {
		s.logger.Warn("outbound movement clamped at zero",
			slog.Int64("item_id", item.ID),
			slog.String("type", string(entry.Type)),
			slog.String("quantity", entry.Quantity.String()),
			slog.String("stock_before", entry.StockBefore.String()))
	}
	if !before.Equal(item.CurrentStock) {
		s.publish(ctx, stockChanged(item, input.Metadata.ActorID, entry.TransactedAt))
	}
	return entry, item, nil
}

// appendEntry writes the ledger row and the new balance for a locked item.
func (s *Service) appendEntry(ctx context.Context, tx TxRepository, item Item, input MovementInput) (Transaction, error) {
	after, clamped, err := ApplyMovement(item.CurrentStock, input.Type, input.Quantity, s.policy)
	if err != nil {
		return Transaction{}, err
	}
	meta := input.Metadata
	at := meta.TransactedAt
	if at.IsZero() {
		at = s.clock()
	}
	ref := strings.TrimSpace(meta.Reference)
	if ref == "" {
		ref = "STX-" + uuid.NewString()
	}
	entry := Transaction{
		ItemID:       item.ID,
		Type:         input.Type,
		Quantity:     input.Quantity,
		UnitPrice:    input.UnitPrice,
		TotalAmount:  input.Quantity.Mul(input.UnitPrice),
		StockBefore:  item.CurrentStock,
		StockAfter:   after,
		Clamped:      clamped,
		Reference:    ref,
		VendorID:     meta.VendorID,
		BatchNumber:  strings.TrimSpace(meta.BatchNumber),
		ExpiryDate:   meta.ExpiryDate,
		Notes:        meta.Notes,
		TransactedAt: at,
		CreatedBy:    meta.ActorID,
	}
	id, err := tx.InsertTransaction(ctx, entry)
	if err != nil {
		return Transaction{}, err
	}
	entry.ID = id
	if err := tx.SetCurrentStock(ctx, item.ID, after, at); err != nil {
		return Transaction{}, err
	}
	return entry, nil
}

// OnboardItem creates an item and, when InitialStock is positive, books the
// opening balance as an adjustment in the same transaction.
func (s *Service) OnboardItem(ctx context.Context, input OnboardInput) (Item, *Transaction, error) {
	if !input.InitialStock.IsZero() {
		if err := checkQuantity(input.InitialStock); err != nil {
			return Item{}, nil, err
		}
	}
	if err := checkUnitPrice(input.InitialUnitPrice); err != nil {
		return Item{}, nil, err
	}
	now := s.clock()
	alertDays := input.ExpiryAlertDays
	if input.HasExpiry && alertDays == 0 {
		alertDays = DefaultExpiryAlertDays
	}
	unit := strings.TrimSpace(input.Unit)
	if unit == "" {
		unit = "piece"
	}
	item := Item{
		FacilityID:      input.FacilityID,
		Name:            strings.TrimSpace(input.Name),
		SKU:             strings.TrimSpace(input.SKU),
		Unit:            unit,
		CurrentStock:    decimal.Zero,
		MinimumStock:    input.MinimumStock,
		MaximumStock:    input.MaximumStock,
		CostPrice:       input.CostPrice,
		SellingPrice:    input.SellingPrice,
		AutoReorder:     input.AutoReorder,
		ReorderQuantity: input.ReorderQuantity,
		PrimaryVendorID: input.PrimaryVendorID,
		HasExpiry:       input.HasExpiry,
		ExpiryAlertDays: alertDays,
		IsActive:        true,
		CreatedBy:       input.ActorID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := validateItem(item); err != nil {
		return Item{}, nil, err
	}

	var opening *Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertItem(ctx, item)
		if err != nil {
			return err
		}
		item.ID = id
		if !input.InitialStock.IsPositive() {
			return nil
		}
		entry, err := s.appendEntry(ctx, tx, item, MovementInput{
			ItemID:    id,
			Type:      TransactionAdjustment,
			Quantity:  input.InitialStock,
			UnitPrice: input.InitialUnitPrice,
			Metadata:  Metadata{Notes: "opening balance", ActorID: input.ActorID, TransactedAt: now},
		})
		if err != nil {
			return err
		}
		item.CurrentStock = entry.StockAfter
		opening = &entry
		return nil
	})
	if err != nil {
		return Item{}, nil, err
	}
	if opening != nil {
		s.recordAudit(ctx, *opening)
	}
	s.publish(ctx, stockChanged(item, input.ActorID, now))
	return item, opening, nil
}

// UpdateItem applies a settings patch. CurrentStock is never editable here.
func (s *Service) UpdateItem(ctx context.Context, id int64, patch ItemPatch, actorID int64) (Item, error) {
	var before, after Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		before, err = tx.GetItemForUpdate(ctx, id)
		if err != nil {
			return err
		}
		after = applyPatch(before, patch)
		after.UpdatedAt = s.clock()
		if err := validateItem(after); err != nil {
			return err
		}
		return tx.UpdateItem(ctx, after)
	})
	if err != nil {
		return Item{}, err
	}
	if alertRelevantChange(before, after) {
		s.publish(ctx, settingsChanged(after, actorID, after.UpdatedAt))
	}
	return after, nil
}

// DeactivateItem retires an item. Its ledger stays intact.
func (s *Service) DeactivateItem(ctx context.Context, id int64, actorID int64) (Item, error) {
	inactive := false
	return s.UpdateItem(ctx, id, ItemPatch{IsActive: &inactive}, actorID)
}

// GetItem loads an item snapshot.
func (s *Service) GetItem(ctx context.Context, id int64) (Item, error) {
	if id <= 0 {
		return Item{}, shared.Validationf("inventory: item required")
	}
	return s.repo.GetItem(ctx, id)
}

// ListTransactions returns the item's ledger, newest first.
func (s *Service) ListTransactions(ctx context.Context, itemID int64, limit int) ([]Transaction, error) {
	if _, err := s.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	return s.repo.ListTransactions(ctx, itemID, shared.ClampLimit(limit))
}

// ListActiveItemIDs lists the items a full alert refresh should visit.
func (s *Service) ListActiveItemIDs(ctx context.Context, facilityID int64) ([]int64, error) {
	return s.repo.ListActiveItemIDs(ctx, facilityID)
}

func applyPatch(item Item, patch ItemPatch) Item {
	if patch.Name != nil {
		item.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Unit != nil {
		item.Unit = strings.TrimSpace(*patch.Unit)
	}
	if patch.MinimumStock != nil {
		item.MinimumStock = *patch.MinimumStock
	}
	if patch.MaximumStock != nil {
		item.MaximumStock = *patch.MaximumStock
	}
	if patch.CostPrice != nil {
		item.CostPrice = *patch.CostPrice
	}
	if patch.SellingPrice != nil {
		item.SellingPrice = *patch.SellingPrice
	}
	if patch.AutoReorder != nil {
		item.AutoReorder = *patch.AutoReorder
	}
	if patch.ReorderQuantity != nil {
		item.ReorderQuantity = *patch.ReorderQuantity
	}
	if patch.PrimaryVendorID != nil {
		item.PrimaryVendorID = *patch.PrimaryVendorID
	}
	if patch.HasExpiry != nil {
		item.HasExpiry = *patch.HasExpiry
	}
	if patch.ExpiryAlertDays != nil {
		item.ExpiryAlertDays = *patch.ExpiryAlertDays
	}
	if patch.IsActive != nil {
		item.IsActive = *patch.IsActive
	}
	return item
}

func (s *Service) recordAudit(ctx context.Context, entry Transaction) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  entry.CreatedBy,
		Action:   fmt.Sprintf("inventory:%s", entry.Type),
		Entity:   "stock_transaction",
		EntityID: fmt.Sprintf("%d", entry.ID),
		Meta: map[string]any{
			"item_id":      entry.ItemID,
			"quantity":     entry.Quantity.String(),
			"stock_before": entry.StockBefore.String(),
			"stock_after":  entry.StockAfter.String(),
			"clamped":      entry.Clamped,
			"reference":    entry.Reference,
		},
		At: entry.TransactedAt,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("audit stock movement", slog.Int64("transaction_id", entry.ID), slog.Any("error", err))
	}
}

func (s *Service) publish(ctx context.Context, evt events.Event) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ctx, evt)
}
