package inventory

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/facilityops/internal/shared"
)

// TransactionType enumerates supported stock movements.
type TransactionType string

const (
	TransactionPurchase   TransactionType = "purchase"
	TransactionSale       TransactionType = "sale"
	TransactionAdjustment TransactionType = "adjustment"
	TransactionDamage     TransactionType = "damage"
	TransactionReturn     TransactionType = "return"
	TransactionTransfer   TransactionType = "transfer"
	TransactionExpired    TransactionType = "expired"
)

// Valid reports whether t is a recognised movement kind.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionPurchase, TransactionSale, TransactionAdjustment, TransactionDamage,
		TransactionReturn, TransactionTransfer, TransactionExpired:
		return true
	}
	return false
}

// Inbound reports whether the movement adds to the running balance.
func (t TransactionType) Inbound() bool {
	switch t {
	case TransactionPurchase, TransactionAdjustment, TransactionReturn:
		return true
	}
	return false
}

// NegativeStockPolicy decides what an outbound movement does when it would
// take the balance below zero.
type NegativeStockPolicy string

const (
	// PolicyClamp records the movement and floors the balance at zero.
	PolicyClamp NegativeStockPolicy = "clamp"
	// PolicyReject refuses the movement with ErrNegativeStock.
	PolicyReject NegativeStockPolicy = "reject"
)

// ParseNegativeStockPolicy reads a policy name, defaulting to clamp.
func ParseNegativeStockPolicy(value string) (NegativeStockPolicy, error) {
	switch NegativeStockPolicy(strings.ToLower(strings.TrimSpace(value))) {
	case "", PolicyClamp:
		return PolicyClamp, nil
	case PolicyReject:
		return PolicyReject, nil
	}
	return "", fmt.Errorf("inventory: unknown negative stock policy %q", value)
}

// Item is a tracked stock-keeping unit. CurrentStock is owned by the ledger.
type Item struct {
	ID              int64
	FacilityID      int64
	Name            string
	SKU             string
	Unit            string
	CurrentStock    decimal.Decimal
	MinimumStock    decimal.Decimal
	MaximumStock    decimal.Decimal
	CostPrice       decimal.Decimal
	SellingPrice    decimal.Decimal
	AutoReorder     bool
	ReorderQuantity decimal.Decimal
	PrimaryVendorID int64
	HasExpiry       bool
	ExpiryAlertDays int
	IsActive        bool
	CreatedBy       int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsLowStock reports whether stock is at or below the minimum level.
func (i Item) IsLowStock() bool {
	return i.CurrentStock.LessThanOrEqual(i.MinimumStock)
}

// StockPercentage places current stock between the minimum (0%) and maximum (100%) levels.
func (i Item) StockPercentage() decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	if i.MaximumStock.LessThanOrEqual(i.MinimumStock) {
		if i.CurrentStock.IsPositive() {
			return hundred
		}
		return decimal.Zero
	}
	switch {
	case i.CurrentStock.LessThanOrEqual(i.MinimumStock):
		return decimal.Zero
	case i.CurrentStock.GreaterThanOrEqual(i.MaximumStock):
		return hundred
	}
	span := i.MaximumStock.Sub(i.MinimumStock)
	return i.CurrentStock.Sub(i.MinimumStock).Div(span).Mul(hundred).Round(2)
}

// TotalValue is the stock valued at cost price.
func (i Item) TotalValue() decimal.Decimal {
	return i.CurrentStock.Mul(i.CostPrice)
}

// Transaction is an immutable ledger entry.
type Transaction struct {
	ID           int64
	ItemID       int64
	Type         TransactionType
	Quantity     decimal.Decimal
	UnitPrice    decimal.Decimal
	TotalAmount  decimal.Decimal
	StockBefore  decimal.Decimal
	StockAfter   decimal.Decimal
	Clamped      bool
	Reference    string
	VendorID     int64
	BatchNumber  string
	ExpiryDate   *time.Time
	Notes        string
	TransactedAt time.Time
	CreatedBy    int64
}

// Metadata carries optional movement attributes.
type Metadata struct {
	Reference      string
	VendorID       int64
	BatchNumber    string
	ExpiryDate     *time.Time
	Notes          string
	IdempotencyKey string
	ActorID        int64
	TransactedAt   time.Time
}

// MovementInput describes a recordMovement request.
type MovementInput struct {
	ItemID    int64
	Type      TransactionType
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	Metadata  Metadata
}

// OnboardInput creates an item, optionally with an opening balance.
type OnboardInput struct {
	FacilityID       int64
	Name             string
	SKU              string
	Unit             string
	MinimumStock     decimal.Decimal
	MaximumStock     decimal.Decimal
	CostPrice        decimal.Decimal
	SellingPrice     decimal.Decimal
	AutoReorder      bool
	ReorderQuantity  decimal.Decimal
	PrimaryVendorID  int64
	HasExpiry        bool
	ExpiryAlertDays  int
	InitialStock     decimal.Decimal
	InitialUnitPrice decimal.Decimal
	ActorID          int64
}

// ItemPatch edits item settings; nil fields are left untouched.
type ItemPatch struct {
	Name            *string
	Unit            *string
	MinimumStock    *decimal.Decimal
	MaximumStock    *decimal.Decimal
	CostPrice       *decimal.Decimal
	SellingPrice    *decimal.Decimal
	AutoReorder     *bool
	ReorderQuantity *decimal.Decimal
	PrimaryVendorID *int64
	HasExpiry       *bool
	ExpiryAlertDays *int
	IsActive        *bool
}

// DefaultExpiryAlertDays is used when an item does not set its own window.
const DefaultExpiryAlertDays = 30

// Stored scales of ledger columns. Finer inputs are rejected, never rounded.
const (
	QuantityScale int32 = 4
	PriceScale    int32 = 2
)

var (
	// ErrInvalidQuantity indicates a non-positive quantity or one finer than QuantityScale.
	ErrInvalidQuantity = fmt.Errorf("inventory: invalid quantity: %w", shared.ErrValidation)
	// ErrInvalidUnitPrice indicates a negative unit price or one finer than PriceScale.
	ErrInvalidUnitPrice = fmt.Errorf("inventory: invalid unit price: %w", shared.ErrValidation)
	// ErrUnknownTransactionType indicates a movement kind outside the recognised set.
	ErrUnknownTransactionType = fmt.Errorf("inventory: unknown transaction type: %w", shared.ErrValidation)
	// ErrNegativeStock is returned under PolicyReject when a movement would go below zero.
	ErrNegativeStock = fmt.Errorf("inventory: negative stock not allowed: %w", shared.ErrValidation)
	// ErrItemInactive indicates a movement against a retired item.
	ErrItemInactive = fmt.Errorf("inventory: item is inactive: %w", shared.ErrValidation)
	// ErrItemNotFound indicates a missing item.
	ErrItemNotFound = fmt.Errorf("inventory: item: %w", shared.ErrNotFound)
)

// ApplyMovement computes the balance after a movement of qty under policy.
func ApplyMovement(before decimal.Decimal, t TransactionType, qty decimal.Decimal, policy NegativeStockPolicy) (decimal.Decimal, bool, error) {
	if !t.Valid() {
		return decimal.Zero, false, fmt.Errorf("%w: %q", ErrUnknownTransactionType, t)
	}
	if err := checkQuantity(qty); err != nil {
		return decimal.Zero, false, err
	}
	if t.Inbound() {
		return before.Add(qty), false, nil
	}
	after := before.Sub(qty)
	if after.IsNegative() {
		if policy == PolicyReject {
			return decimal.Zero, false, ErrNegativeStock
		}
		return decimal.Zero, true, nil
	}
	return after, false, nil
}

func checkQuantity(qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidQuantity, qty)
	}
	if !shared.FitsScale(qty, QuantityScale) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidQuantity, qty, QuantityScale)
	}
	return nil
}

func checkUnitPrice(price decimal.Decimal) error {
	if price.IsNegative() {
		return fmt.Errorf("%w: %s must be >= 0", ErrInvalidUnitPrice, price)
	}
	if !shared.FitsScale(price, PriceScale) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidUnitPrice, price, PriceScale)
	}
	return nil
}

func validateItem(item Item) error {
	fields := []struct {
		name  string
		value decimal.Decimal
		scale int32
	}{
		{"minimum_stock", item.MinimumStock, QuantityScale},
		{"maximum_stock", item.MaximumStock, QuantityScale},
		{"cost_price", item.CostPrice, PriceScale},
		{"selling_price", item.SellingPrice, PriceScale},
		{"reorder_quantity", item.ReorderQuantity, QuantityScale},
	}
	for _, f := range fields {
		if f.value.IsNegative() {
			return shared.Validationf("inventory: %s must be >= 0", f.name)
		}
		if !shared.FitsScale(f.value, f.scale) {
			return shared.Validationf("inventory: %s allows at most %d decimal places", f.name, f.scale)
		}
	}
	if strings.TrimSpace(item.Name) == "" {
		return shared.Validationf("inventory: name required")
	}
	if item.FacilityID <= 0 {
		return shared.Validationf("inventory: facility required")
	}
	if item.ExpiryAlertDays < 0 {
		return shared.Validationf("inventory: expiry alert days must be >= 0")
	}
	return nil
}
