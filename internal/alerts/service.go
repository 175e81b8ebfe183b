package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/facilityops/internal/shared"
)

// SummaryFetcher serves cached summaries.
type SummaryFetcher interface {
	Invalidator
	Fetch(ctx context.Context, facilityID int64, loader func(context.Context) (Summary, error)) (Summary, error)
}

// Service implements operator actions on alerts.
type Service struct {
	repo    RepositoryPort
	engine  *Engine
	cache   SummaryFetcher
	metrics *Metrics
	logger  *slog.Logger
	clock   func() time.Time
}

// NewService builds Service. cache may be nil.
func NewService(repo RepositoryPort, engine *Engine, cache SummaryFetcher, metrics *Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		engine:  engine,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(clock func() time.Time) *Service {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// Engine exposes the rule engine behind the service.
func (s *Service) Engine() *Engine {
	return s.engine
}

// Evaluate forces a re-check of one subject.
func (s *Service) Evaluate(ctx context.Context, subject Subject) (Outcome, error) {
	return s.engine.Evaluate(ctx, subject)
}

// RefreshAll re-checks every active subject and returns the alerts created.
func (s *Service) RefreshAll(ctx context.Context, facilityID int64) (int, error) {
	return s.engine.RefreshAll(ctx, facilityID)
}

// ResolveAlert closes an alert on behalf of an operator. Resolving an already
// resolved alert returns it unchanged.
func (s *Service) ResolveAlert(ctx context.Context, id, operatorID int64) (Alert, error) {
	if id <= 0 {
		return Alert{}, shared.Validationf("alerts: alert id required")
	}
	alert, changed, err := s.repo.ResolveAlert(ctx, id, operatorID, s.clock())
	if err != nil {
		return Alert{}, err
	}
	if changed {
		s.metrics.resolvedAlerts("operator", 1)
		s.bump(ctx, alert.FacilityID)
	}
	return alert, nil
}

// MarkAlertRead flags an alert as read.
func (s *Service) MarkAlertRead(ctx context.Context, id int64) (Alert, error) {
	if id <= 0 {
		return Alert{}, shared.Validationf("alerts: alert id required")
	}
	alert, err := s.repo.MarkRead(ctx, id, s.clock())
	if err != nil {
		return Alert{}, err
	}
	s.bump(ctx, alert.FacilityID)
	return alert, nil
}

// MarkAllRead flags every unresolved alert of a facility as read.
func (s *Service) MarkAllRead(ctx context.Context, facilityID int64) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, facilityID, s.clock())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.bump(ctx, facilityID)
	}
	return n, nil
}

// ResolveAll resolves every unresolved alert of a facility.
func (s *Service) ResolveAll(ctx context.Context, facilityID, operatorID int64) (int64, error) {
	n, err := s.repo.ResolveAll(ctx, facilityID, operatorID, s.clock())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.metrics.resolvedAlerts("operator_bulk", int(n))
		s.bump(ctx, facilityID)
	}
	return n, nil
}

// ResolveMaintenance resolves the unresolved maintenance_due alerts of an
// asset after a completed work order. resolvedBy is the work order submitter.
func (s *Service) ResolveMaintenance(ctx context.Context, equipmentID, facilityID, resolvedBy int64) (int64, error) {
	n, err := s.repo.ResolveSubjectType(ctx, EquipmentSubject(equipmentID), TypeMaintenanceDue, resolvedBy, s.clock())
	if err != nil {
		return 0, fmt.Errorf("alerts: resolve maintenance for equipment %d: %w", equipmentID, err)
	}
	if n > 0 {
		s.metrics.resolvedAlerts("maintenance_completed", int(n))
		s.bump(ctx, facilityID)
		s.logger.Info("maintenance alerts auto-resolved",
			slog.Int64("equipment_id", equipmentID),
			slog.Int64("resolved", n))
	}
	return n, nil
}

// GetAlert loads one alert.
func (s *Service) GetAlert(ctx context.Context, id int64) (Alert, error) {
	return s.repo.GetAlert(ctx, id)
}

// List returns alerts matching filter, most urgent and newest first.
func (s *Service) List(ctx context.Context, filter Filter) ([]Alert, error) {
	if filter.Subject != nil {
		if err := filter.Subject.Validate(); err != nil {
			return nil, err
		}
	}
	filter.Limit = shared.ClampLimit(filter.Limit)
	return s.repo.ListAlerts(ctx, filter)
}

// Summary counts unresolved alerts for a facility (zero for all facilities).
func (s *Service) Summary(ctx context.Context, facilityID int64) (Summary, error) {
	loader := func(ctx context.Context) (Summary, error) {
		return s.repo.CountUnresolved(ctx, facilityID)
	}
	if s.cache == nil {
		return loader(ctx)
	}
	return s.cache.Fetch(ctx, facilityID, loader)
}

// CleanupResolved deletes alerts resolved longer than retention ago.
func (s *Service) CleanupResolved(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, shared.Validationf("alerts: retention must be positive")
	}
	cutoff := s.clock().Add(-retention)
	n, err := s.repo.DeleteResolvedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.logger.Info("resolved alerts cleaned up", slog.Int64("deleted", n), slog.Time("cutoff", cutoff))
	return n, nil
}

func (s *Service) bump(ctx context.Context, facilityID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx, facilityID); err != nil {
		s.logger.Warn("bump alert summary cache", slog.Int64("facility_id", facilityID), slog.Any("error", err))
	}
}
