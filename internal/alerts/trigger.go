package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/facilityops/internal/events"
)

// Dispatch selects where triggered evaluations run.
type Dispatch string

const (
	DispatchInline Dispatch = "inline"
	DispatchQueue  Dispatch = "queue"
)

// ParseDispatch reads a dispatch name, defaulting to inline.
func ParseDispatch(value string) (Dispatch, error) {
	switch Dispatch(strings.ToLower(strings.TrimSpace(value))) {
	case "", DispatchInline:
		return DispatchInline, nil
	case DispatchQueue:
		return DispatchQueue, nil
	}
	return "", fmt.Errorf("alerts: unknown dispatch %q", value)
}

// Enqueuer hands an evaluation to the background worker.
type Enqueuer interface {
	EnqueueEvaluate(ctx context.Context, subject Subject) error
}

// Subscriber is the part of the event bus the trigger needs.
type Subscriber interface {
	Subscribe(name events.Name, handler events.Handler)
}

// Trigger re-evaluates alerts after committed mutations.
type Trigger struct {
	service  *Service
	enqueuer Enqueuer
	logger   *slog.Logger
}

// NewTrigger builds a Trigger. A nil enqueuer evaluates inline.
func NewTrigger(service *Service, enqueuer Enqueuer, logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trigger{service: service, enqueuer: enqueuer, logger: logger}
}

// Register subscribes the trigger to every alert-relevant event.
func (t *Trigger) Register(bus Subscriber) {
	bus.Subscribe(events.ItemStockChanged, t.onItem)
	bus.Subscribe(events.ItemSettingsChanged, t.onItem)
	bus.Subscribe(events.EquipmentDatesChanged, t.onEquipment)
	bus.Subscribe(events.MaintenanceCompleted, t.onMaintenanceCompleted)
}

func (t *Trigger) onItem(ctx context.Context, evt events.Event) error {
	return t.evaluate(ctx, ItemSubject(evt.SubjectID))
}

func (t *Trigger) onEquipment(ctx context.Context, evt events.Event) error {
	return t.evaluate(ctx, EquipmentSubject(evt.SubjectID))
}

// onMaintenanceCompleted always runs inline so the resolver is recorded
// before the response returns.
func (t *Trigger) onMaintenanceCompleted(ctx context.Context, evt events.Event) error {
	_, err := t.service.ResolveMaintenance(ctx, evt.SubjectID, evt.FacilityID, evt.ActorID)
	return err
}

func (t *Trigger) evaluate(ctx context.Context, subject Subject) error {
	if t.enqueuer != nil {
		err := t.enqueuer.EnqueueEvaluate(ctx, subject)
		if err == nil {
			return nil
		}
		t.logger.Warn("enqueue alert evaluation failed, evaluating inline",
			slog.String("subject", subject.String()),
			slog.Any("error", err))
	}
	_, err := t.service.Evaluate(ctx, subject)
	return err
}
