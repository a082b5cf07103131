package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/consignhub/consignhub/internal/inventory"
	"github.com/consignhub/consignhub/internal/shared"
)

const idempotencyModule = "delivery.receive"

// RepositoryPort abstracts delivery persistence for the service.
type RepositoryPort interface {
	Create(ctx context.Context, d Delivery) (Delivery, error)
	Get(ctx context.Context, id int64) (Delivery, error)
	Run(ctx context.Context, fn func(ctx context.Context, tx TxRepository, stock inventory.TxRepository) error) error
}

// IdempotencyPort claims and releases request keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// PostingObserver receives posting outcomes for metrics.
type PostingObserver interface {
	PostingCompleted(mode, result string)
}

// Service provides business logic for consignment deliveries.
type Service struct {
	repo     RepositoryPort
	poster   *Poster
	idem     IdempotencyPort
	audit    AuditPort
	observer PostingObserver
	logger   *slog.Logger
	now      func() time.Time
}

// ServiceDeps groups the optional collaborators of Service.
type ServiceDeps struct {
	Idempotency IdempotencyPort
	Audit       AuditPort
	Observer    PostingObserver
	Logger      *slog.Logger
	Now         func() time.Time
}

// NewService constructs a delivery service.
func NewService(repo RepositoryPort, poster *Poster, deps ServiceDeps) *Service {
	if poster == nil {
		poster = NewPoster(nil, nil)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		repo:     repo,
		poster:   poster,
		idem:     deps.Idempotency,
		audit:    deps.Audit,
		observer: deps.Observer,
		logger:   deps.Logger,
		now:      deps.Now,
	}
}

// Create records a new delivery in DRAFT. No stock moves until receipt is confirmed.
func (s *Service) Create(ctx context.Context, input CreateInput) (Delivery, error) {
	if err := ValidateMode(input.Mode); err != nil {
		return Delivery{}, err
	}
	if len(input.Lines) == 0 {
		return Delivery{}, shared.NewValidationError("lines", "at least one line is required")
	}
	d := Delivery{
		Mode:      input.Mode,
		Status:    StatusDraft,
		Note:      strings.TrimSpace(input.Note),
		CreatedBy: input.ActorID,
		Lines:     make([]Line, 0, len(input.Lines)),
	}
	for i, in := range input.Lines {
		if in.ProductID <= 0 {
			return Delivery{}, shared.NewValidationError(fmt.Sprintf("lines[%d].product_id", i), "must be a positive integer")
		}
		qty := inventory.Round(in.Qty)
		if !qty.IsPositive() {
			return Delivery{}, shared.NewValidationError(fmt.Sprintf("lines[%d].qty", i), "must be greater than zero")
		}
		d.Lines = append(d.Lines, Line{ProductID: in.ProductID, Qty: qty})
	}
	created, err := s.repo.Create(ctx, d)
	if err != nil {
		return Delivery{}, fmt.Errorf("create delivery: %w", err)
	}
	s.record(ctx, input.ActorID, "delivery:create", created.ID, map[string]any{
		"mode":  string(created.Mode.Name()),
		"lines": len(created.Lines),
	})
	return created, nil
}

// Get returns a delivery with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Delivery, error) {
	if id <= 0 {
		return Delivery{}, shared.NewValidationError("id", "must be a positive integer")
	}
	return s.repo.Get(ctx, id)
}

// ConfirmReceive records the received quantities, posts the stock movements and marks
// the delivery RECEIVED, all in one transaction. A delivery is posted at most once.
func (s *Service) ConfirmReceive(ctx context.Context, input ReceiveInput) (ReceiveResult, error) {
	if input.DeliveryID <= 0 {
		return ReceiveResult{}, shared.NewValidationError("id", "must be a positive integer")
	}
	for lineID, qty := range input.Received {
		if inventory.Round(qty).IsNegative() {
			return ReceiveResult{}, shared.NewValidationError(fmt.Sprintf("received[%d]", lineID), "must not be negative")
		}
	}
	if input.IdempotencyKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, input.IdempotencyKey, idempotencyModule); err != nil {
			return ReceiveResult{}, err
		}
	}

	var (
		result ReceiveResult
		mode   = "unknown"
	)
	err := s.repo.Run(ctx, func(ctx context.Context, tx TxRepository, stock inventory.TxRepository) error {
		d, err := tx.GetForUpdate(ctx, input.DeliveryID)
		if err != nil {
			return err
		}
		mode = string(d.Mode.Name())
		switch {
		case d.Status == StatusReceived:
			return fmt.Errorf("delivery %d: %w", d.ID, ErrAlreadyPosted)
		case !d.Status.CanReceive():
			return fmt.Errorf("delivery %d is %s: %w", d.ID, d.Status, ErrInvalidStatus)
		}

		if err := applyReceived(d.Lines, input.Received); err != nil {
			return err
		}
		for _, line := range d.Lines {
			if line.QtyReceived == nil {
				continue
			}
			if err := tx.SetReceivedQty(ctx, line.ID, *line.QtyReceived); err != nil {
				return fmt.Errorf("store received qty line %d: %w", line.LineNo, err)
			}
		}

		posting, err := s.poster.Post(ctx, stock, d, d.Lines, input.ActorID)
		if err != nil {
			return err
		}

		at := s.now()
		if err := tx.MarkReceived(ctx, d.ID, at); err != nil {
			return fmt.Errorf("mark received: %w", err)
		}
		d.Status = StatusReceived
		d.ReceivedAt = &at
		result = ReceiveResult{Delivery: d, Posting: posting}
		return nil
	})
	if err != nil {
		s.observe(ctx, input.DeliveryID, mode, err)
		if input.IdempotencyKey != "" && s.idem != nil {
			if delErr := s.idem.Delete(ctx, input.IdempotencyKey, idempotencyModule); delErr != nil {
				s.logger.Warn("release idempotency key", slog.String("key", input.IdempotencyKey), slog.Any("error", delErr))
			}
		}
		return ReceiveResult{}, err
	}

	if s.observer != nil {
		s.observer.PostingCompleted(string(result.Delivery.Mode.Name()), "posted")
	}
	s.logger.Info("delivery received",
		slog.Int64("delivery_id", result.Delivery.ID),
		slog.String("mode", string(result.Delivery.Mode.Name())),
		slog.String("posting_id", result.Posting.PostingID.String()),
		slog.Int("posted_lines", result.Posting.Posted),
		slog.Int("skipped_lines", result.Posting.Skipped),
	)
	s.record(ctx, input.ActorID, "delivery:receive", result.Delivery.ID, map[string]any{
		"posting_id": result.Posting.PostingID.String(),
		"entries":    len(result.Posting.Entries),
	})
	return result, nil
}

// Cancel abandons a delivery that has not been received.
func (s *Service) Cancel(ctx context.Context, id, actorID int64) (Delivery, error) {
	var out Delivery
	err := s.repo.Run(ctx, func(ctx context.Context, tx TxRepository, _ inventory.TxRepository) error {
		d, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !d.Status.CanCancel() {
			return fmt.Errorf("delivery %d is %s: %w", d.ID, d.Status, ErrInvalidStatus)
		}
		if err := tx.SetStatus(ctx, id, StatusCancelled); err != nil {
			return err
		}
		d.Status = StatusCancelled
		out = d
		return nil
	})
	if err != nil {
		return Delivery{}, err
	}
	s.record(ctx, actorID, "delivery:cancel", id, nil)
	return out, nil
}

// MirrorStatus copies a document status onto the delivery. Statuses only move forward;
// RECEIVED is accepted only once receipt was confirmed, since that is where stock posts.
// Repeating the current status is a no-op.
func (s *Service) MirrorStatus(ctx context.Context, id int64, status string) error {
	target := Status(strings.ToUpper(strings.TrimSpace(status)))
	if !target.IsValid() {
		return shared.NewValidationError("status", fmt.Sprintf("unknown delivery status %q", status))
	}
	return s.repo.Run(ctx, func(ctx context.Context, tx TxRepository, _ inventory.TxRepository) error {
		d, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if d.Status == target {
			return nil
		}
		switch {
		case target == StatusReceived:
			return fmt.Errorf("delivery %d is %s: %w", d.ID, d.Status, ErrReceiptNotConfirmed)
		case target == StatusCancelled:
			if !d.Status.CanCancel() {
				return fmt.Errorf("delivery %d is %s: %w", d.ID, d.Status, ErrInvalidStatus)
			}
		case d.Status.rank() < 0 || target.rank() < d.Status.rank():
			return fmt.Errorf("delivery %d cannot move from %s to %s: %w", d.ID, d.Status, target, ErrInvalidStatus)
		}
		return tx.SetStatus(ctx, id, target)
	})
}

func applyReceived(lines []Line, received map[int64]decimal.Decimal) error {
	if len(received) == 0 {
		return nil
	}
	known := make(map[int64]bool, len(lines))
	for i := range lines {
		known[lines[i].ID] = true
		if qty, ok := received[lines[i].ID]; ok {
			q := inventory.Round(qty)
			lines[i].QtyReceived = &q
		}
	}
	for lineID := range received {
		if !known[lineID] {
			return fmt.Errorf("line %d: %w", lineID, ErrUnknownLine)
		}
	}
	return nil
}

// observe counts a failed receipt. mode is "unknown" when the delivery could not be loaded.
func (s *Service) observe(ctx context.Context, deliveryID int64, mode string, err error) {
	result := "error"
	switch {
	case errors.Is(err, inventory.ErrInsufficientStock):
		result = "insufficient_stock"
	case errors.Is(err, shared.ErrValidation):
		result = "invalid"
	case errors.Is(err, shared.ErrConflict), errors.Is(err, shared.ErrNotFound):
		result = "rejected"
	default:
		s.logger.ErrorContext(ctx, "delivery posting failed", slog.Int64("delivery_id", deliveryID), slog.Any("error", err))
	}
	if s.observer != nil {
		s.observer.PostingCompleted(mode, result)
	}
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "consignment_delivery",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit delivery", slog.String("action", action), slog.Any("error", err))
	}
}
