package documents_test

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/consignhub/consignhub/internal/documents"
	"github.com/consignhub/consignhub/internal/shared"
)

type memoryRepo struct {
	mu     sync.Mutex
	docs   map[int64]documents.Document
	nextID int64
	// staleLast makes LastDocNo report "" this many times, simulating a
	// concurrent writer that took the number between read and insert.
	staleLast int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{docs: make(map[int64]documents.Document)}
}

type memoryTx struct {
	repo *memoryRepo
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, documents.TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make(map[int64]documents.Document, len(r.docs))
	for id, d := range r.docs {
		snapshot[id] = d
	}
	nextID := r.nextID
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.docs = snapshot
		r.nextID = nextID
		return err
	}
	return nil
}

func (r *memoryRepo) Get(_ context.Context, id int64) (documents.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return documents.Document{}, documents.ErrNotFound
	}
	return d, nil
}

func (r *memoryRepo) List(_ context.Context, filter documents.ListFilter) ([]documents.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []documents.Document{}
	for _, d := range r.docs {
		if filter.Kind != "" && d.Kind != filter.Kind {
			continue
		}
		if filter.DocType != "" && d.DocType != filter.DocType {
			continue
		}
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if filter.Offset >= len(out) {
		return []documents.Document{}, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (t *memoryTx) LastDocNo(_ context.Context, docType, prefix string) (string, error) {
	if t.repo.staleLast > 0 {
		t.repo.staleLast--
		return "", nil
	}
	last := ""
	for _, d := range t.repo.docs {
		if d.DocType == docType && strings.HasPrefix(d.DocNo, prefix) && d.DocNo > last {
			last = d.DocNo
		}
	}
	return last, nil
}

func (t *memoryTx) Insert(_ context.Context, doc documents.Document) (documents.Document, error) {
	for _, d := range t.repo.docs {
		if d.DocType == doc.DocType && d.DocNo == doc.DocNo {
			return documents.Document{}, documents.ErrDuplicateNumber
		}
	}
	t.repo.nextID++
	doc.ID = t.repo.nextID
	doc.CreatedAt = time.Now().UTC()
	doc.UpdatedAt = doc.CreatedAt
	t.repo.docs[doc.ID] = doc
	return doc, nil
}

func (t *memoryTx) GetForUpdate(_ context.Context, id int64) (documents.Document, error) {
	d, ok := t.repo.docs[id]
	if !ok {
		return documents.Document{}, documents.ErrNotFound
	}
	return d, nil
}

func (t *memoryTx) UpdateStatus(_ context.Context, id int64, status documents.Status) error {
	d, ok := t.repo.docs[id]
	if !ok {
		return documents.ErrNotFound
	}
	d.Status = status
	t.repo.docs[id] = d
	return nil
}

// insert stores a document directly, bypassing numbering.
func (r *memoryRepo) insert(doc documents.Document) documents.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	doc.ID = r.nextID
	r.docs[doc.ID] = doc
	return doc
}

type mirrorStub struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (m *mirrorStub) MirrorStatus(_ context.Context, id int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, status)
	return m.err
}

type retryRecorder struct {
	tasks []documents.MirrorTask
	err   error
}

func (r *retryRecorder) EnqueueMirrorRetry(_ context.Context, task documents.MirrorTask) error {
	if r.err != nil {
		return r.err
	}
	r.tasks = append(r.tasks, task)
	return nil
}

type observerRecorder struct {
	retries        map[string]int
	mirrorFailures map[string]int
}

func newObserverRecorder() *observerRecorder {
	return &observerRecorder{retries: map[string]int{}, mirrorFailures: map[string]int{}}
}

func (o *observerRecorder) DocNoRetried(docType string) { o.retries[docType]++ }
func (o *observerRecorder) MirrorFailed(target string)  { o.mirrorFailures[target]++ }

type auditRecorder struct {
	logs []shared.AuditLog
}

func (a *auditRecorder) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type lockerStub struct {
	locked   []string
	released int
	err      error
}

func (l *lockerStub) Lock(_ context.Context, scope documents.Scope) (func(context.Context), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.locked = append(l.locked, scope.Prefix())
	return func(context.Context) { l.released++ }, nil
}

var errMirrorDown = errors.New("connection refused")

func fixedClock() func() time.Time {
	return func() time.Time { return time.Date(2024, time.March, 14, 9, 0, 0, 0, time.UTC) }
}

func ptr[T any](v T) *T { return &v }
