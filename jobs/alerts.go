package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/facilityops/internal/alerts"
	jobmetrics "github.com/odyssey-erp/facilityops/internal/jobs"
	"github.com/odyssey-erp/facilityops/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// AlertService is the part of the alert service the jobs drive.
type AlertService interface {
	RefreshAll(ctx context.Context, facilityID int64) (int, error)
	CleanupResolved(ctx context.Context, retention time.Duration) (int64, error)
	Evaluate(ctx context.Context, subject alerts.Subject) (alerts.Outcome, error)
}

// AlertJobs handles the alert task family.
type AlertJobs struct {
	Service   AlertService
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	Retention time.Duration
}

// NewAlertJobs constructs the alert job handlers.
func NewAlertJobs(service AlertService, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *AlertJobs {
	return &AlertJobs{Service: service, Retention: retention, Logger: logger, Metrics: metrics}
}

// Handlers lists the task handlers for worker registration.
func (j *AlertJobs) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskAlertsRefresh, Handler: j.HandleRefresh},
		{Type: TaskAlertsCleanup, Handler: j.HandleCleanup},
		{Type: TaskAlertsEvaluate, Handler: j.HandleEvaluate},
	}
}

// HandleRefresh re-evaluates every active subject in scope.
func (j *AlertJobs) HandleRefresh(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("alerts refresh: service not configured")
	}
	var payload AlertRefreshPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	facilityID, err := payload.FacilityID()
	if err != nil {
		j.log(TaskAlertsRefresh).Error("invalid refresh scope", slog.String("facility", payload.Facility), slog.Any("error", err))
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskAlertsRefresh)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	created, err := j.Service.RefreshAll(ctx, facilityID)
	if err != nil {
		resultErr = err
		j.log(TaskAlertsRefresh).Error("refresh alerts", slog.Int64("facility_id", facilityID), slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddAlertsCreated(TaskAlertsRefresh, created)
	j.log(TaskAlertsRefresh).Info("refreshed alerts",
		slog.Int64("facility_id", facilityID),
		slog.Int("created", created),
		slog.Duration("duration", time.Since(start)))
	return resultErr
}

// HandleCleanup purges alerts resolved beyond the retention window.
func (j *AlertJobs) HandleCleanup(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("alerts cleanup: service not configured")
	}
	var payload AlertCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	retention := j.Retention
	if payload.Retention != "" {
		parsed, err := time.ParseDuration(payload.Retention)
		if err != nil || parsed <= 0 {
			return asynq.SkipRetry
		}
		retention = parsed
	}

	tracker := j.metrics().Track(TaskAlertsCleanup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	deleted, err := j.Service.CleanupResolved(ctx, retention)
	if err != nil {
		resultErr = err
		j.log(TaskAlertsCleanup).Error("cleanup alerts", slog.Any("error", err))
		return resultErr
	}
	j.log(TaskAlertsCleanup).Info("cleaned up resolved alerts",
		slog.Int64("deleted", deleted),
		slog.Duration("retention", retention))
	return resultErr
}

// HandleEvaluate re-evaluates one subject. Evaluation is idempotent, so
// redelivery is harmless.
func (j *AlertJobs) HandleEvaluate(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("alerts evaluate: service not configured")
	}
	var payload AlertEvaluatePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	subject, err := payload.Subject()
	if err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskAlertsEvaluate)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	outcome, err := j.Service.Evaluate(ctx, subject)
	if err != nil {
		resultErr = err
		j.log(TaskAlertsEvaluate).Error("evaluate subject", slog.String("subject", subject.String()), slog.Any("error", err))
		if errors.Is(err, shared.ErrNotFound) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return resultErr
	}
	j.metrics().AddAlertsCreated(TaskAlertsEvaluate, outcome.Created)
	return resultErr
}

func (j *AlertJobs) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *AlertJobs) log(job string) *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", job))
	}
	return slog.Default().With(slog.String("job", job))
}
