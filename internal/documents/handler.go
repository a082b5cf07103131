package documents

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/consignhub/consignhub/internal/platform/httpx"
	"github.com/consignhub/consignhub/internal/shared"
)

// Handler exposes documents over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the documents handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers document routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/documents", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Get("/{id}", h.handleGet)
		r.Post("/{id}/status", h.handleTransition)
	})
}

type createRequest struct {
	Kind                  string `json:"kind" validate:"required,max=50"`
	DocType               string `json:"doc_type" validate:"required,max=50"`
	BranchDeliveryID      *int64 `json:"branch_delivery_id" validate:"omitempty,gt=0"`
	ConsignmentDeliveryID *int64 `json:"consignment_delivery_id" validate:"omitempty,gt=0"`
	Note                  string `json:"note" validate:"max=500"`
}

type transitionRequest struct {
	Status string `json:"status" validate:"required"`
}

type mirrorView struct {
	Attempted bool     `json:"attempted"`
	Succeeded bool     `json:"succeeded"`
	Target    LinkType `json:"target,omitempty"`
	TargetID  int64    `json:"target_id,omitempty"`
	Error     string   `json:"error,omitempty"`
	Queued    bool     `json:"queued"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.service.Create(r.Context(), CreateInput{
		Kind:                  req.Kind,
		DocType:               req.DocType,
		BranchDeliveryID:      req.BranchDeliveryID,
		ConsignmentDeliveryID: req.ConsignmentDeliveryID,
		Note:                  req.Note,
		ActorID:               shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Kind: q.Get("kind"), DocType: q.Get("doc_type")}
	if raw := q.Get("status"); raw != "" {
		status, err := ParseStatus(raw)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		filter.Status = status
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			httpx.RespondError(w, shared.NewValidationError(name, "must be an integer"))
			return
		}
		*dst = v
	}
	docs, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req transitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	status, err := ParseStatus(req.Status)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Transition(r.Context(), id, status, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"document": result.Document,
		"mirror": mirrorView{
			Attempted: result.Mirror.Attempted,
			Succeeded: result.Mirror.Succeeded,
			Target:    result.Mirror.Target,
			TargetID:  result.Mirror.TargetID,
			Error:     mirrorError(result.Mirror.Err),
			Queued:    result.Mirror.Queued,
		},
	})
}

// mirrorError is the mirror failure text shown to clients. Faults that would be a 500
// on their own are reported generically; the service logs the full error.
func mirrorError(err error) string {
	if err == nil {
		return ""
	}
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		return "delivery record could not be updated"
	}
	return err.Error()
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error("documents request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
