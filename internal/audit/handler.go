package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eventdesk/eventdesk/internal/platform/httpx"
	"github.com/eventdesk/eventdesk/internal/rbac"
	"github.com/eventdesk/eventdesk/internal/shared"
)

// Handler exposes the audit trail as a read-only API.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, rbacMW rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbacMW}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermSettingsAccess))
		r.Get("/", h.listTrail)
	})
}

type entryView struct {
	ID         int64          `json:"id"`
	ActorID    int64          `json:"actorId"`
	ActorEmail string         `json:"actorEmail,omitempty"`
	Action     string         `json:"action"`
	Entity     string         `json:"entity"`
	EntityID   string         `json:"entityId"`
	Meta       map[string]any `json:"meta,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

func (h *Handler) listTrail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := Filters{
		Entity: q.Get("entity"),
		Action: q.Get("action"),
		Page:   intParam(q.Get("page")),
		Per:    intParam(q.Get("per")),
	}
	result, err := h.service.Trail(r.Context(), filters)
	if err != nil {
		h.logger.Error("list audit trail", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]entryView, 0, len(result.Entries))
	for _, entry := range result.Entries {
		views = append(views, entryView{
			ID:         entry.ID,
			ActorID:    entry.ActorID,
			ActorEmail: entry.ActorEmail,
			Action:     entry.Action,
			Entity:     entry.Entity,
			EntityID:   entry.EntityID,
			Meta:       entry.Meta,
			OccurredAt: entry.OccurredAt,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"entries": views,
		"paging": map[string]int{
			"page":       result.Paging.Page,
			"perPage":    result.Paging.PerPage,
			"total":      result.Paging.Total,
			"totalPages": result.Paging.TotalPages,
		},
	})
}

func intParam(raw string) int {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return v
}
