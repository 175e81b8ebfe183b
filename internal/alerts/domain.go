// Package alerts derives, reconciles and manages operational alerts for
// inventory items and equipment.
package alerts

import (
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/facilityops/internal/shared"
)

// SubjectKind discriminates the alert subject union.
type SubjectKind string

const (
	KindInventoryItem SubjectKind = "inventory_item"
	KindEquipment     SubjectKind = "equipment"
)

// Subject identifies exactly one alerted entity.
type Subject struct {
	Kind SubjectKind
	ID   int64
}

// ItemSubject returns the subject for an inventory item.
func ItemSubject(id int64) Subject {
	return Subject{Kind: KindInventoryItem, ID: id}
}

// EquipmentSubject returns the subject for an equipment asset.
func EquipmentSubject(id int64) Subject {
	return Subject{Kind: KindEquipment, ID: id}
}

// Validate rejects unknown kinds and missing identities.
func (s Subject) Validate() error {
	if s.Kind != KindInventoryItem && s.Kind != KindEquipment {
		return fmt.Errorf("%w: kind %q", ErrInvalidSubject, s.Kind)
	}
	if s.ID <= 0 {
		return fmt.Errorf("%w: id %d", ErrInvalidSubject, s.ID)
	}
	return nil
}

func (s Subject) String() string {
	return fmt.Sprintf("%s:%d", s.Kind, s.ID)
}

// ParseSubjectKind reads a kind name.
func ParseSubjectKind(value string) (SubjectKind, error) {
	switch SubjectKind(strings.ToLower(strings.TrimSpace(value))) {
	case KindInventoryItem, "item", "inventory":
		return KindInventoryItem, nil
	case KindEquipment:
		return KindEquipment, nil
	}
	return "", fmt.Errorf("%w: kind %q", ErrInvalidSubject, value)
}

// Type enumerates alert categories.
type Type string

const (
	TypeLowStock         Type = "low_stock"
	TypeReorderNeeded    Type = "reorder_needed"
	TypeMaintenanceDue   Type = "maintenance_due"
	TypeWarrantyExpiring Type = "warranty_expiring"
	TypeExpirySoon       Type = "expiry_soon"
	TypeExpired          Type = "expired"
)

// ResponsibleTypes lists the alert types an evaluation of kind owns.
func ResponsibleTypes(kind SubjectKind) []Type {
	switch kind {
	case KindInventoryItem:
		return []Type{TypeLowStock, TypeReorderNeeded, TypeExpirySoon, TypeExpired}
	case KindEquipment:
		return []Type{TypeMaintenanceDue, TypeWarrantyExpiring}
	}
	return nil
}

// Priority orders alert urgency.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Priorities lists priorities from most to least urgent.
var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

// Alert is a persisted notification about one subject.
type Alert struct {
	ID         int64
	FacilityID int64
	Subject    Subject
	Type       Type
	Priority   Priority
	Title      string
	Message    string
	IsRead     bool
	IsResolved bool
	ResolvedBy int64
	ResolvedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Derived is an alert the rules say should exist right now.
type Derived struct {
	Type     Type
	Priority Priority
	Title    string
	Message  string
}

// ReconcileMode picks how derived alerts replace persisted ones.
type ReconcileMode string

const (
	// ModeUpsert diffs by (subject, type), keeping identity and read state of unchanged alerts.
	ModeUpsert ReconcileMode = "upsert"
	// ModeReplace deletes the subject's unresolved alerts and inserts the derived set.
	ModeReplace ReconcileMode = "replace"
)

// ParseReconcileMode reads a mode name, defaulting to upsert.
func ParseReconcileMode(value string) (ReconcileMode, error) {
	switch ReconcileMode(strings.ToLower(strings.TrimSpace(value))) {
	case "", ModeUpsert:
		return ModeUpsert, nil
	case ModeReplace:
		return ModeReplace, nil
	}
	return "", fmt.Errorf("alerts: unknown reconcile mode %q", value)
}

// Filter narrows alert listings.
type Filter struct {
	FacilityID      int64
	Subject         *Subject
	Type            Type
	Priority        Priority
	IncludeResolved bool
	UnreadOnly      bool
	Limit           int
}

// Summary counts unresolved alerts for a facility.
type Summary struct {
	FacilityID int64            `json:"facility_id"`
	Total      int              `json:"total"`
	Unread     int              `json:"unread"`
	ByPriority map[Priority]int `json:"by_priority"`
	ByType     map[Type]int     `json:"by_type"`
}

// Outcome reports what one evaluation changed.
type Outcome struct {
	Subject  Subject
	Created  int
	Updated  int
	Resolved int
	Deleted  int
	Skipped  bool
}

// Changed reports whether the evaluation touched the alert table.
func (o Outcome) Changed() bool {
	return o.Created+o.Updated+o.Resolved+o.Deleted > 0
}

var (
	// ErrAlertNotFound indicates a missing alert.
	ErrAlertNotFound = fmt.Errorf("alerts: alert: %w", shared.ErrNotFound)
	// ErrInvalidSubject indicates a malformed subject reference.
	ErrInvalidSubject = fmt.Errorf("alerts: invalid subject: %w", shared.ErrValidation)
)
