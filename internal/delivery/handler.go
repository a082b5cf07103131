package delivery

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/consignhub/consignhub/internal/platform/httpx"
	"github.com/consignhub/consignhub/internal/shared"
)

// Handler manages HTTP requests for consignment deliveries.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler creates a new delivery handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers delivery routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/deliveries", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/{id}", h.handleGet)
		r.Post("/{id}/receive", h.handleReceive)
		r.Post("/{id}/cancel", h.handleCancel)
	})
}

// ============================================================================
// WIRE TYPES
// ============================================================================

type createRequest struct {
	Header
	Note  string              `json:"note" validate:"max=500"`
	Lines []createLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type createLineRequest struct {
	ProductID int64           `json:"productId" validate:"required,gt=0"`
	Qty       decimal.Decimal `json:"qty"`
}

type receiveRequest struct {
	Lines []receiveLineRequest `json:"lines" validate:"dive"`
}

// receiveLineRequest overrides the shipped quantity of one line. A line without
// qtyReceived is received in full.
type receiveLineRequest struct {
	LineID      int64            `json:"lineId" validate:"required,gt=0"`
	QtyReceived *decimal.Decimal `json:"qtyReceived"`
}

type lineView struct {
	ID          int64            `json:"id"`
	LineNo      int              `json:"lineNo"`
	ProductID   int64            `json:"productId"`
	Qty         decimal.Decimal  `json:"qty"`
	QtyReceived *decimal.Decimal `json:"qtyReceived,omitempty"`
}

type deliveryView struct {
	ID int64 `json:"id"`
	Header
	Status     Status     `json:"status"`
	Note       string     `json:"note,omitempty"`
	CreatedBy  int64      `json:"createdBy,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	ReceivedAt *time.Time `json:"receivedAt,omitempty"`
	Lines      []lineView `json:"lines"`
}

func viewOf(d Delivery) deliveryView {
	v := deliveryView{
		ID:         d.ID,
		Header:     HeaderOf(d.Mode),
		Status:     d.Status,
		Note:       d.Note,
		CreatedBy:  d.CreatedBy,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
		ReceivedAt: d.ReceivedAt,
		Lines:      make([]lineView, 0, len(d.Lines)),
	}
	for _, l := range d.Lines {
		v.Lines = append(v.Lines, lineView{ID: l.ID, LineNo: l.LineNo, ProductID: l.ProductID, Qty: l.Qty, QtyReceived: l.QtyReceived})
	}
	return v
}

// ============================================================================
// HANDLERS
// ============================================================================

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
	mode, err := ParseMode(req.Header)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := CreateInput{Mode: mode, Note: req.Note, ActorID: shared.ActorFromContext(r.Context())}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, LineInput{ProductID: l.ProductID, Qty: l.Qty})
	}
	d, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, viewOf(d))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	d, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, viewOf(d))
}

func (h *Handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req receiveRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
		if err := httpx.Validate(req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	input := ReceiveInput{
		DeliveryID:     id,
		ActorID:        shared.ActorFromContext(r.Context()),
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	}
	for _, l := range req.Lines {
		if l.QtyReceived == nil {
			continue
		}
		if input.Received == nil {
			input.Received = make(map[int64]decimal.Decimal, len(req.Lines))
		}
		input.Received[l.LineID] = *l.QtyReceived
	}
	result, err := h.service.ConfirmReceive(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"delivery": viewOf(result.Delivery),
		"posting":  result.Posting,
	})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	d, err := h.service.Cancel(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, viewOf(d))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error("delivery request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
