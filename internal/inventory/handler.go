package inventory

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/consignhub/consignhub/internal/platform/httpx"
	"github.com/consignhub/consignhub/internal/shared"
)

// Handler exposes stock balances, the ledger and manual adjustments over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/stock", func(r chi.Router) {
		r.Get("/ledger", h.handleLedger)
		r.Post("/adjustments", h.handleAdjustment)
		r.Route("/{locationType}/{locationID}", func(r chi.Router) {
			r.Get("/balances", h.handleBalances)
			r.Get("/balances/{productID}", h.handleBalance)
			r.Get("/reconcile", h.handleReconcile)
		})
	})
}

func locationFromPath(r *http.Request) (LocationKey, error) {
	t, err := ParseLocationType(chi.URLParam(r, "locationType"))
	if err != nil {
		return LocationKey{}, err
	}
	id, err := httpx.PathInt64(r, "locationID")
	if err != nil {
		return LocationKey{}, err
	}
	return LocationKey{Type: t, ID: id}, nil
}

func (h *Handler) handleBalances(w http.ResponseWriter, r *http.Request) {
	loc, err := locationFromPath(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	balances, err := h.service.Balances(r.Context(), loc)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"location": loc, "balances": balances})
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	loc, err := locationFromPath(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	productID, err := httpx.PathInt64(r, "productID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	bal, err := h.service.Balance(r.Context(), loc, productID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bal)
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	loc, err := locationFromPath(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	drifts, err := h.service.Reconcile(r.Context(), loc)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"location": loc, "consistent": len(drifts) == 0, "drifts": drifts})
}

func (h *Handler) handleLedger(w http.ResponseWriter, r *http.Request) {
	filter, err := parseLedgerFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.service.Ledger(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func parseLedgerFilter(r *http.Request) (LedgerFilter, error) {
	var (
		filter LedgerFilter
		err    error
	)
	q := r.URL.Query()
	if raw := q.Get("location_type"); raw != "" {
		t, err := ParseLocationType(raw)
		if err != nil {
			return filter, err
		}
		id, err := httpx.QueryInt64(r, "location_id")
		if err != nil {
			return filter, err
		}
		filter.Location = &LocationKey{Type: t, ID: id}
	}
	if filter.ProductID, err = httpx.QueryInt64(r, "product_id"); err != nil {
		return filter, err
	}
	if filter.RefID, err = httpx.QueryInt64(r, "ref_id"); err != nil {
		return filter, err
	}
	filter.RefType = q.Get("ref_type")
	if filter.From, err = httpx.QueryTime(r, "from"); err != nil {
		return filter, err
	}
	if filter.To, err = httpx.QueryTime(r, "to"); err != nil {
		return filter, err
	}
	if raw := q.Get("limit"); raw != "" {
		if filter.Limit, err = strconv.Atoi(raw); err != nil {
			return filter, shared.NewValidationError("limit", "must be an integer")
		}
	}
	return filter, nil
}

type adjustmentRequest struct {
	LocationType string          `json:"location_type" validate:"required"`
	LocationID   int64           `json:"location_id" validate:"required,gt=0"`
	ProductID    int64           `json:"product_id" validate:"required,gt=0"`
	Delta        decimal.Decimal `json:"delta"`
	RefID        int64           `json:"ref_id" validate:"required,gt=0"`
	Note         string          `json:"note" validate:"max=255"`
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	locType, err := ParseLocationType(req.LocationType)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, bal, err := h.service.Adjust(r.Context(), ManualAdjustment{
		Location:  LocationKey{Type: locType, ID: req.LocationID},
		ProductID: req.ProductID,
		Delta:     req.Delta,
		RefID:     req.RefID,
		Note:      req.Note,
		ActorID:   shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"entry": entry, "balance": bal})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error("inventory request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
