package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/facilityops/internal/equipment"
	"github.com/odyssey-erp/facilityops/internal/shared"
)

// RepositoryPort abstracts alert persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetAlert(ctx context.Context, id int64) (Alert, error)
	ListAlerts(ctx context.Context, filter Filter) ([]Alert, error)
	CountUnresolved(ctx context.Context, facilityID int64) (Summary, error)
	ListActiveSubjects(ctx context.Context, facilityID int64) ([]Subject, error)
	ResolveAlert(ctx context.Context, id, resolvedBy int64, at time.Time) (Alert, bool, error)
	MarkRead(ctx context.Context, id int64, at time.Time) (Alert, error)
	MarkAllRead(ctx context.Context, facilityID int64, at time.Time) (int64, error)
	ResolveAll(ctx context.Context, facilityID, resolvedBy int64, at time.Time) (int64, error)
	ResolveSubjectType(ctx context.Context, subject Subject, t Type, resolvedBy int64, at time.Time) (int64, error)
	DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// TxRepository exposes the reads and writes of one evaluation.
type TxRepository interface {
	LoadItemState(ctx context.Context, itemID int64) (ItemState, error)
	LoadEquipment(ctx context.Context, equipmentID int64) (equipment.Equipment, error)
	LockUnresolved(ctx context.Context, subject Subject, types []Type) ([]Alert, error)
	InsertAlert(ctx context.Context, alert Alert) (int64, error)
	UpdateAlert(ctx context.Context, alert Alert) error
	DeleteAlerts(ctx context.Context, ids []int64) error
	ResolveAlerts(ctx context.Context, ids []int64, resolvedBy int64, at time.Time) error
}

// Invalidator drops cached summaries after alert changes.
type Invalidator interface {
	Bump(ctx context.Context, facilityID int64) error
}

// EngineConfig groups engine settings.
type EngineConfig struct {
	Mode        ReconcileMode
	Parallelism int
	Logger      *slog.Logger
	Metrics     *Metrics
	Cache       Invalidator
	Clock       func() time.Time
}

// Engine derives alerts from current subject state and reconciles them with
// the persisted unresolved set.
type Engine struct {
	repo        RepositoryPort
	mode        ReconcileMode
	parallelism int
	logger      *slog.Logger
	metrics     *Metrics
	cache       Invalidator
	clock       func() time.Time
}

// NewEngine builds an Engine.
func NewEngine(repo RepositoryPort, cfg EngineConfig) *Engine {
	e := &Engine{
		repo:        repo,
		mode:        cfg.Mode,
		parallelism: cfg.Parallelism,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		cache:       cfg.Cache,
		clock:       cfg.Clock,
	}
	if e.mode == "" {
		e.mode = ModeUpsert
	}
	if e.parallelism <= 0 {
		e.parallelism = 4
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.clock == nil {
		e.clock = func() time.Time { return time.Now().UTC() }
	}
	return e
}

// Mode reports the reconcile mode in use.
func (e *Engine) Mode() ReconcileMode {
	return e.mode
}

// Evaluate re-derives the alerts of one subject and reconciles them in a
// single transaction. Repeated calls on unchanged state are no-ops in upsert
// mode and produce the same (type, priority) set in replace mode.
func (e *Engine) Evaluate(ctx context.Context, subject Subject) (Outcome, error) {
	if err := subject.Validate(); err != nil {
		return Outcome{}, err
	}
	today := shared.DateOf(e.clock())
	now := e.clock()
	result := reconcileResult{Outcome: Outcome{Subject: subject}}
	var facilityID int64

	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		desired, facility, err := e.derive(ctx, tx, subject, today)
		if err != nil {
			return err
		}
		facilityID = facility
		existing, err := tx.LockUnresolved(ctx, subject, ResponsibleTypes(subject.Kind))
		if err != nil {
			return err
		}
		switch e.mode {
		case ModeReplace:
			result, err = replace(ctx, tx, subject, facility, existing, desired, now)
		default:
			result, err = upsert(ctx, tx, subject, facility, existing, desired, now)
		}
		return err
	})
	e.metrics.evaluated(subject.Kind, e.mode)
	if err != nil {
		e.metrics.failed(subject.Kind)
		return Outcome{}, fmt.Errorf("alerts: evaluate %s: %w", subject, err)
	}
	for _, t := range result.createdTypes {
		e.metrics.createdAlert(t)
	}
	e.metrics.resolvedAlerts("condition_cleared", result.Resolved)
	if result.Changed() {
		e.bump(ctx, facilityID)
	}
	return result.Outcome, nil
}

func (e *Engine) derive(ctx context.Context, tx TxRepository, subject Subject, today time.Time) ([]Derived, int64, error) {
	switch subject.Kind {
	case KindInventoryItem:
		state, err := tx.LoadItemState(ctx, subject.ID)
		if err != nil {
			return nil, 0, err
		}
		return ItemRules(state, today), state.Item.FacilityID, nil
	case KindEquipment:
		eq, err := tx.LoadEquipment(ctx, subject.ID)
		if err != nil {
			return nil, 0, err
		}
		return EquipmentRules(eq, today), eq.FacilityID, nil
	}
	return nil, 0, ErrInvalidSubject
}

type reconcileResult struct {
	Outcome
	createdTypes []Type
}

func newAlert(subject Subject, facilityID int64, d Derived, now time.Time) Alert {
	return Alert{
		FacilityID: facilityID,
		Subject:    subject,
		Type:       d.Type,
		Priority:   d.Priority,
		Title:      d.Title,
		Message:    d.Message,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// replace deletes every unresolved alert the pass owns and inserts the derived set.
func replace(ctx context.Context, tx TxRepository, subject Subject, facilityID int64, existing []Alert, desired []Derived, now time.Time) (reconcileResult, error) {
	res := reconcileResult{Outcome: Outcome{Subject: subject}}
	if len(existing) > 0 {
		ids := make([]int64, 0, len(existing))
		for _, a := range existing {
			ids = append(ids, a.ID)
		}
		if err := tx.DeleteAlerts(ctx, ids); err != nil {
			return res, err
		}
		res.Deleted = len(ids)
	}
	for _, d := range desired {
		if _, err := tx.InsertAlert(ctx, newAlert(subject, facilityID, d, now)); err != nil {
			return res, err
		}
		res.Created++
		res.createdTypes = append(res.createdTypes, d.Type)
	}
	return res, nil
}

// upsert diffs the derived set against the unresolved alerts keyed by type.
// The oldest unresolved alert of a type survives; extra rows collapse into
// it. A changed priority marks the survivor unread again. Types no longer
// derived are resolved with no resolver.
func upsert(ctx context.Context, tx TxRepository, subject Subject, facilityID int64, existing []Alert, desired []Derived, now time.Time) (reconcileResult, error) {
	res := reconcileResult{Outcome: Outcome{Subject: subject}}
	byType := make(map[Type][]Alert)
	for _, a := range existing {
		byType[a.Type] = append(byType[a.Type], a)
	}
	for t := range byType {
		rows := byType[t]
		sort.SliceStable(rows, func(i, j int) bool {
			if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
				return rows[i].CreatedAt.Before(rows[j].CreatedAt)
			}
			return rows[i].ID < rows[j].ID
		})
	}

	var toResolve []int64
	wanted := make(map[Type]bool, len(desired))
	for _, d := range desired {
		wanted[d.Type] = true
		rows := byType[d.Type]
		if len(rows) == 0 {
			if _, err := tx.InsertAlert(ctx, newAlert(subject, facilityID, d, now)); err != nil {
				return res, err
			}
			res.Created++
			res.createdTypes = append(res.createdTypes, d.Type)
			continue
		}
		keep := rows[0]
		for _, extra := range rows[1:] {
			toResolve = append(toResolve, extra.ID)
		}
		if keep.Priority == d.Priority && keep.Title == d.Title && keep.Message == d.Message {
			continue
		}
		if keep.Priority != d.Priority {
			keep.IsRead = false
		}
		keep.Priority, keep.Title, keep.Message = d.Priority, d.Title, d.Message
		keep.UpdatedAt = now
		if err := tx.UpdateAlert(ctx, keep); err != nil {
			return res, err
		}
		res.Updated++
	}
	for _, a := range existing {
		if !wanted[a.Type] {
			toResolve = append(toResolve, a.ID)
		}
	}
	if len(toResolve) > 0 {
		sort.Slice(toResolve, func(i, j int) bool { return toResolve[i] < toResolve[j] })
		if err := tx.ResolveAlerts(ctx, toResolve, 0, now); err != nil {
			return res, err
		}
		res.Resolved = len(toResolve)
	}
	return res, nil
}

// RefreshAll evaluates every active subject of a facility (all facilities when
// zero) with bounded parallelism and returns how many alerts were created.
// Per-subject failures are logged and skipped.
func (e *Engine) RefreshAll(ctx context.Context, facilityID int64) (int, error) {
	subjects, err := e.repo.ListActiveSubjects(ctx, facilityID)
	if err != nil {
		return 0, fmt.Errorf("alerts: list subjects: %w", err)
	}
	var created, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for _, subject := range subjects {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcome, err := e.Evaluate(gctx, subject)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				failed.Add(1)
				e.logger.Error("alert refresh failed for subject",
					slog.String("subject_kind", string(subject.Kind)),
					slog.Int64("subject_id", subject.ID),
					slog.Any("error", err))
				return nil
			}
			created.Add(int64(outcome.Created))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(created.Load()), err
	}
	e.logger.Info("alert refresh complete",
		slog.Int64("facility_id", facilityID),
		slog.Int("subjects", len(subjects)),
		slog.Int64("created", created.Load()),
		slog.Int64("failed", failed.Load()))
	return int(created.Load()), nil
}

func (e *Engine) bump(ctx context.Context, facilityID int64) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Bump(ctx, facilityID); err != nil {
		e.logger.Warn("bump alert summary cache", slog.Int64("facility_id", facilityID), slog.Any("error", err))
	}
}
