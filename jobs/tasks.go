package jobs

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/facilityops/internal/alerts"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueAlerts carries single-subject evaluations triggered by mutations.
	QueueAlerts = "alerts"

	// TaskAlertsRefresh re-evaluates every active subject of a facility.
	TaskAlertsRefresh = "alerts:refresh"
	// TaskAlertsCleanup purges alerts resolved beyond the retention window.
	TaskAlertsCleanup = "alerts:cleanup"
	// TaskAlertsEvaluate re-evaluates one subject.
	TaskAlertsEvaluate = "alerts:evaluate"
)

// AlertRefreshPayload scopes a refresh to one facility or "all".
type AlertRefreshPayload struct {
	Facility string `json:"facility"`
}

// FacilityID resolves the payload scope, zero meaning every facility.
func (p AlertRefreshPayload) FacilityID() (int64, error) {
	scope := strings.TrimSpace(p.Facility)
	if scope == "" || scope == "all" {
		return 0, nil
	}
	id, err := strconv.ParseInt(scope, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid facility id %s", scope)
	}
	if id <= 0 {
		return 0, fmt.Errorf("facility id must be positive")
	}
	return id, nil
}

// AlertCleanupPayload carries the retention window as a Go duration string.
type AlertCleanupPayload struct {
	Retention string `json:"retention"`
}

// AlertEvaluatePayload identifies one alert subject.
type AlertEvaluatePayload struct {
	SubjectKind string `json:"subject_kind"`
	SubjectID   int64  `json:"subject_id"`
}

// Subject converts the payload into a validated subject.
func (p AlertEvaluatePayload) Subject() (alerts.Subject, error) {
	kind, err := alerts.ParseSubjectKind(p.SubjectKind)
	if err != nil {
		return alerts.Subject{}, err
	}
	subject := alerts.Subject{Kind: kind, ID: p.SubjectID}
	return subject, subject.Validate()
}

// NewAlertRefreshTask builds a refresh task; an empty facility means all.
func NewAlertRefreshTask(facility string) (*asynq.Task, error) {
	if facility == "" {
		facility = "all"
	}
	body, err := json.Marshal(AlertRefreshPayload{Facility: facility})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAlertsRefresh, body, asynq.Queue(QueueDefault)), nil
}

// NewAlertCleanupTask builds a cleanup task for the given retention.
func NewAlertCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(AlertCleanupPayload{Retention: retention.String()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAlertsCleanup, body, asynq.Queue(QueueDefault)), nil
}

// NewAlertEvaluateTask builds a single-subject evaluation task.
func NewAlertEvaluateTask(subject alerts.Subject) (*asynq.Task, error) {
	if err := subject.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(AlertEvaluatePayload{SubjectKind: string(subject.Kind), SubjectID: subject.ID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAlertsEvaluate, body, asynq.Queue(QueueAlerts), asynq.MaxRetry(5)), nil
}
