package alerts

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/facilityops/internal/platform/httpx"
	"github.com/odyssey-erp/facilityops/internal/shared"
)

// Handler wires HTTP endpoints for alerts.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs alerts handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers alert routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/summary", h.handleSummary)
	r.Post("/read-all", h.handleMarkAllRead)
	r.Post("/resolve-all", h.handleResolveAll)
	r.Post("/evaluate", h.handleEvaluate)
	r.Post("/refresh", h.handleRefresh)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/resolve", h.handleResolve)
	r.Post("/{id}/read", h.handleMarkRead)
}

type evaluateRequest struct {
	SubjectKind string `json:"subject_kind" validate:"required,oneof=inventory_item equipment"`
	SubjectID   int64  `json:"subject_id" validate:"required,gt=0"`
}

type alertResponse struct {
	ID          int64      `json:"id"`
	FacilityID  int64      `json:"facility_id"`
	SubjectKind string     `json:"subject_kind"`
	SubjectID   int64      `json:"subject_id"`
	Type        Type       `json:"alert_type"`
	Priority    Priority   `json:"priority"`
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	IsRead      bool       `json:"is_read"`
	IsResolved  bool       `json:"is_resolved"`
	ResolvedBy  int64      `json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type outcomeResponse struct {
	SubjectKind string `json:"subject_kind"`
	SubjectID   int64  `json:"subject_id"`
	Created     int    `json:"created"`
	Updated     int    `json:"updated"`
	Resolved    int    `json:"resolved"`
	Deleted     int    `json:"deleted"`
}

func toAlertResponse(a Alert) alertResponse {
	return alertResponse{
		ID:          a.ID,
		FacilityID:  a.FacilityID,
		SubjectKind: string(a.Subject.Kind),
		SubjectID:   a.Subject.ID,
		Type:        a.Type,
		Priority:    a.Priority,
		Title:       a.Title,
		Message:     a.Message,
		IsRead:      a.IsRead,
		IsResolved:  a.IsResolved,
		ResolvedBy:  a.ResolvedBy,
		ResolvedAt:  a.ResolvedAt,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn("alerts request failed", slog.String("op", op), slog.Any("error", err))
	httpx.RespondError(w, err)
}

func parseFilter(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	facilityID, err := httpx.QueryInt64(r, "facility_id")
	if err != nil {
		return Filter{}, err
	}
	limit, err := httpx.QueryInt(r, "limit")
	if err != nil {
		return Filter{}, err
	}
	filter := Filter{
		FacilityID:      facilityID,
		Type:            Type(q.Get("type")),
		Priority:        Priority(q.Get("priority")),
		IncludeResolved: q.Get("include_resolved") == "true",
		UnreadOnly:      q.Get("unread") == "true",
		Limit:           limit,
	}
	if raw := q.Get("subject_kind"); raw != "" {
		kind, err := ParseSubjectKind(raw)
		if err != nil {
			return Filter{}, err
		}
		id, err := httpx.QueryInt64(r, "subject_id")
		if err != nil {
			return Filter{}, err
		}
		filter.Subject = &Subject{Kind: kind, ID: id}
	}
	return filter, nil
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "list", err)
		return
	}
	out := make([]alertResponse, 0, len(list))
	for _, a := range list {
		out = append(out, toAlertResponse(a))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	facilityID, err := httpx.QueryInt64(r, "facility_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	summary, err := h.service.Summary(r.Context(), facilityID)
	if err != nil {
		h.fail(w, "summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	alert, err := h.service.GetAlert(r.Context(), id)
	if err != nil {
		h.fail(w, "get", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAlertResponse(alert))
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	alert, err := h.service.ResolveAlert(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "resolve", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAlertResponse(alert))
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	alert, err := h.service.MarkAlertRead(r.Context(), id)
	if err != nil {
		h.fail(w, "mark_read", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAlertResponse(alert))
}

func (h *Handler) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	facilityID, err := httpx.QueryInt64(r, "facility_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	n, err := h.service.MarkAllRead(r.Context(), facilityID)
	if err != nil {
		h.fail(w, "mark_all_read", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"updated": n})
}

func (h *Handler) handleResolveAll(w http.ResponseWriter, r *http.Request) {
	facilityID, err := httpx.QueryInt64(r, "facility_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	n, err := h.service.ResolveAll(r.Context(), facilityID, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "resolve_all", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"resolved": n})
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		if fields := httpx.FieldErrors(err); fields != nil {
			httpx.ValidationProblem(w, fields)
			return
		}
		httpx.RespondError(w, err)
		return
	}
	outcome, err := h.service.Evaluate(r.Context(), Subject{Kind: SubjectKind(req.SubjectKind), ID: req.SubjectID})
	if err != nil {
		h.fail(w, "evaluate", err)
		return
	}
	httpx.JSON(w, http.StatusOK, outcomeResponse{
		SubjectKind: string(outcome.Subject.Kind),
		SubjectID:   outcome.Subject.ID,
		Created:     outcome.Created,
		Updated:     outcome.Updated,
		Resolved:    outcome.Resolved,
		Deleted:     outcome.Deleted,
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	facilityID, err := httpx.QueryInt64(r, "facility_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	started := time.Now()
	created, err := h.service.RefreshAll(r.Context(), facilityID)
	if err != nil {
		h.fail(w, "refresh", err)
		return
	}
	h.logger.Info("alert refresh requested",
		slog.Int64("facility_id", facilityID),
		slog.Int("created", created),
		slog.Duration("duration", time.Since(started)))
	httpx.JSON(w, http.StatusOK, map[string]int{"created": created})
}
