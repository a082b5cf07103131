package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/consignhub/consignhub/internal/shared"
)

const (
	maxCreateAttempts = 3
	defaultListLimit  = 50
	maxListLimit      = 500
)

// RepositoryPort abstracts document persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Document, error)
	List(ctx context.Context, filter ListFilter) ([]Document, error)
}

// StatusMirror copies a document status onto a delivery record.
type StatusMirror interface {
	MirrorStatus(ctx context.Context, id int64, status string) error
}

// MirrorTask is a mirror that failed and should be attempted again later.
type MirrorTask struct {
	DocumentID int64    `json:"document_id"`
	Target     LinkType `json:"target"`
	TargetID   int64    `json:"target_id"`
	Status     Status   `json:"status"`
}

// MirrorRetryEnqueuer hands failed mirrors to a background queue.
type MirrorRetryEnqueuer interface {
	EnqueueMirrorRetry(ctx context.Context, task MirrorTask) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Observer receives document events for metrics.
type Observer interface {
	DocNoRetried(docType string)
	MirrorFailed(target string)
}

// Service creates documents and applies status transitions.
type Service struct {
	repo     RepositoryPort
	numberer *Numberer
	locker   ScopeLocker
	mirrors  map[LinkType]StatusMirror
	retries  MirrorRetryEnqueuer
	audit    AuditPort
	observer Observer
	logger   *slog.Logger
}

// Options configures the optional collaborators of Service.
type Options struct {
	Numberer *Numberer
	Locker   ScopeLocker
	Mirrors  map[LinkType]StatusMirror
	Retries  MirrorRetryEnqueuer
	Audit    AuditPort
	Observer Observer
	Logger   *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, opts Options) *Service {
	if opts.Numberer == nil {
		opts.Numberer = NewNumberer(nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		numberer: opts.Numberer,
		locker:   opts.Locker,
		mirrors:  opts.Mirrors,
		retries:  opts.Retries,
		audit:    opts.Audit,
		observer: opts.Observer,
		logger:   opts.Logger,
	}
}

// SetRetryEnqueuer wires the background retry queue after construction.
func (s *Service) SetRetryEnqueuer(e MirrorRetryEnqueuer) {
	s.retries = e
}

// Create issues a new DRAFT document with the next number of its scope. A number
// taken concurrently by another writer is retried with a fresh number.
func (s *Service) Create(ctx context.Context, input CreateInput) (Document, error) {
	input.Kind = strings.TrimSpace(input.Kind)
	input.DocType = strings.ToUpper(strings.TrimSpace(input.DocType))
	if err := input.Validate(); err != nil {
		return Document{}, err
	}

	scope := s.numberer.Scope(input.DocType)
	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, scope)
		if err != nil {
			s.logger.Warn("document numbering without scope lock", slog.String("scope", scope.Prefix()), slog.Any("error", err))
		} else {
			defer unlock(context.WithoutCancel(ctx))
		}
	}

	var (
		created Document
		err     error
	)
	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			docNo, err := s.numberer.Next(ctx, tx, input.DocType)
			if err != nil {
				return err
			}
			created, err = tx.Insert(ctx, Document{
				Kind:                  input.Kind,
				DocType:               input.DocType,
				DocNo:                 docNo,
				Status:                StatusDraft,
				BranchDeliveryID:      input.BranchDeliveryID,
				ConsignmentDeliveryID: input.ConsignmentDeliveryID,
				Note:                  strings.TrimSpace(input.Note),
				CreatedBy:             input.ActorID,
			})
			return err
		})
		if !errors.Is(err, ErrDuplicateNumber) {
			break
		}
		if s.observer != nil {
			s.observer.DocNoRetried(input.DocType)
		}
		s.logger.Warn("document number collision", slog.String("doc_type", input.DocType), slog.Int("attempt", attempt), slog.Any("error", err))
	}
	if err != nil {
		return Document{}, err
	}
	s.record(ctx, input.ActorID, "document:create", created.ID, map[string]any{"doc_no": created.DocNo, "kind": created.Kind})
	return created, nil
}

// Get returns one document.
func (s *Service) Get(ctx context.Context, id int64) (Document, error) {
	if id <= 0 {
		return Document{}, shared.NewValidationError("id", "must be a positive integer")
	}
	return s.repo.Get(ctx, id)
}

// List returns documents matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Document, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, shared.NewValidationError("status", fmt.Sprintf("unknown document status %q", filter.Status))
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.List(ctx, filter)
}

// Transition moves a delivery document to requested. The status change commits on its
// own; copying the status to the linked delivery afterwards is best effort and its
// outcome is reported in the result.
func (s *Service) Transition(ctx context.Context, id int64, requested Status, actorID int64) (TransitionResult, error) {
	if !requested.IsValid() {
		return TransitionResult{}, shared.NewValidationError("status", fmt.Sprintf("unknown document status %q", requested))
	}
	var (
		doc  Document
		from Status
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		doc, err = tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := CheckTransition(doc, requested); err != nil {
			return err
		}
		if err := tx.UpdateStatus(ctx, id, requested); err != nil {
			return err
		}
		from = doc.Status
		doc.Status = requested
		return nil
	})
	if err != nil {
		return TransitionResult{}, err
	}
	s.record(ctx, actorID, "document:status", doc.ID, map[string]any{"from": string(from), "to": string(requested)})

	return TransitionResult{Document: doc, Mirror: s.mirror(ctx, doc)}, nil
}

func (s *Service) mirror(ctx context.Context, doc Document) MirrorOutcome {
	target, targetID, ok := doc.Link()
	if !ok {
		return MirrorOutcome{}
	}
	out := MirrorOutcome{Attempted: true, Target: target, TargetID: targetID}
	out.Err = s.applyMirror(ctx, target, targetID, doc.Status)
	if out.Err == nil {
		out.Succeeded = true
		return out
	}

	if s.observer != nil {
		s.observer.MirrorFailed(string(target))
	}
	s.logger.Warn("mirror document status",
		slog.Int64("document_id", doc.ID),
		slog.String("target", string(target)),
		slog.Int64("target_id", targetID),
		slog.String("status", string(doc.Status)),
		slog.Any("error", out.Err),
	)
	if s.retries != nil && Retryable(out.Err) {
		task := MirrorTask{DocumentID: doc.ID, Target: target, TargetID: targetID, Status: doc.Status}
		if err := s.retries.EnqueueMirrorRetry(ctx, task); err != nil {
			s.logger.Warn("enqueue mirror retry", slog.Int64("document_id", doc.ID), slog.Any("error", err))
		} else {
			out.Queued = true
		}
	}
	return out
}

// RetryMirror re-applies a failed mirror. It is used by the background worker.
func (s *Service) RetryMirror(ctx context.Context, task MirrorTask) error {
	return s.applyMirror(ctx, task.Target, task.TargetID, task.Status)
}

func (s *Service) applyMirror(ctx context.Context, target LinkType, targetID int64, status Status) error {
	m, ok := s.mirrors[target]
	if !ok || m == nil {
		return fmt.Errorf("%w: %s", ErrNoMirror, target)
	}
	if err := m.MirrorStatus(ctx, targetID, string(status)); err != nil {
		return fmt.Errorf("documents: mirror %s %d: %w", target, targetID, err)
	}
	return nil
}

// ErrNoMirror is returned when no StatusMirror is registered for a link type.
var ErrNoMirror = errors.New("documents: no status mirror registered")

// Retryable reports whether a mirror failure may succeed on a later attempt. Rejections
// by the target record are final.
func Retryable(err error) bool {
	return err != nil &&
		!errors.Is(err, ErrNoMirror) &&
		!errors.Is(err, shared.ErrValidation) &&
		!errors.Is(err, shared.ErrConflict) &&
		!errors.Is(err, shared.ErrNotFound)
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "document",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit document", slog.String("action", action), slog.Any("error", err))
	}
}
