package documents

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bsm/redislock"

	"github.com/consignhub/consignhub/internal/shared"
)

const numberPrefix = "DN"

// Scope is the numbering sequence a document number belongs to: one per document
// type and calendar month.
type Scope struct {
	DocType string
	Period  string // YYYYMM
}

// ScopeAt returns the scope of docType at t.
func ScopeAt(docType string, t time.Time) Scope {
	return Scope{DocType: docType, Period: t.Format("200601")}
}

// Prefix is the part shared by every number in the scope, e.g. "DN-202401-".
func (s Scope) Prefix() string {
	return fmt.Sprintf("%s-%s-", numberPrefix, s.Period)
}

// Format renders running number seq in the scope.
func (s Scope) Format(seq int) string {
	return fmt.Sprintf("%s%04d", s.Prefix(), seq)
}

// NextAfter returns the number following last. An empty or unparsable last starts at 1.
func (s Scope) NextAfter(last string) string {
	seq := 1
	if tail, ok := strings.CutPrefix(last, s.Prefix()); ok {
		if n, err := strconv.Atoi(tail); err == nil && n >= 0 {
			seq = n + 1
		}
	}
	return s.Format(seq)
}

func (s Scope) lockKey() string {
	return shared.DocNumberLockKey(s.DocType, s.Period)
}

// LastNumberFinder reads the greatest issued number with a prefix, "" when none exists.
type LastNumberFinder interface {
	LastDocNo(ctx context.Context, docType, prefix string) (string, error)
}

// Numberer generates document numbers. Two concurrent callers in the same scope can
// compute the same number; the unique index on (doc_type, doc_no) rejects the loser.
type Numberer struct {
	now func() time.Time
}

// NewNumberer builds a Numberer using now as the clock (UTC wall clock when nil).
func NewNumberer(now func() time.Time) *Numberer {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Numberer{now: now}
}

// Scope returns the current scope of docType.
func (n *Numberer) Scope(docType string) Scope {
	return ScopeAt(docType, n.now())
}

// Next returns the next number for docType in the current month.
func (n *Numberer) Next(ctx context.Context, q LastNumberFinder, docType string) (string, error) {
	if strings.TrimSpace(docType) == "" {
		return "", shared.NewValidationError("doc_type", "is required")
	}
	scope := n.Scope(docType)
	last, err := q.LastDocNo(ctx, docType, scope.Prefix())
	if err != nil {
		return "", fmt.Errorf("documents: last number in %s: %w", scope.Prefix(), err)
	}
	return scope.NextAfter(last), nil
}

// ScopeLocker serialises number generation within a scope across processes.
type ScopeLocker interface {
	Lock(ctx context.Context, scope Scope) (unlock func(context.Context), err error)
}

// ErrScopeBusy is returned when another process holds the scope lock past the retry budget.
var ErrScopeBusy = errors.New("documents: numbering scope is busy")

// RedisScopeLocker implements ScopeLocker with redislock.
type RedisScopeLocker struct {
	client *redislock.Client
	ttl    time.Duration
	retry  redislock.RetryStrategy
}

// NewRedisScopeLocker builds a locker holding each scope for at most ttl.
func NewRedisScopeLocker(client *redislock.Client, ttl time.Duration) *RedisScopeLocker {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &RedisScopeLocker{
		client: client,
		ttl:    ttl,
		retry:  redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 20),
	}
}

// Lock obtains the scope lock, retrying briefly while it is held elsewhere.
func (l *RedisScopeLocker) Lock(ctx context.Context, scope Scope) (func(context.Context), error) {
	lock, err := l.client.Obtain(ctx, scope.lockKey(), l.ttl, &redislock.Options{RetryStrategy: l.retry})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrScopeBusy, scope.Prefix())
	}
	if err != nil {
		return nil, fmt.Errorf("documents: obtain scope lock: %w", err)
	}
	return func(ctx context.Context) {
		_ = lock.Release(ctx)
	}, nil
}
