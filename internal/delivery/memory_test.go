package delivery_test

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/consignhub/consignhub/internal/delivery"
	"github.com/consignhub/consignhub/internal/inventory"
	"github.com/consignhub/consignhub/internal/inventory/inventorytest"
	"github.com/consignhub/consignhub/internal/shared"
)

type memoryRepo struct {
	mu         sync.Mutex
	stock      *inventorytest.Store
	deliveries map[int64]delivery.Delivery
	nextID     int64
	nextLineID int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo(stock *inventorytest.Store) *memoryRepo {
	return &memoryRepo{stock: stock, deliveries: make(map[int64]delivery.Delivery)}
}

func cloneDelivery(d delivery.Delivery) delivery.Delivery {
	lines := make([]delivery.Line, len(d.Lines))
	copy(lines, d.Lines)
	d.Lines = lines
	return d
}

func (r *memoryRepo) Create(_ context.Context, d delivery.Delivery) (delivery.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	d.ID = r.nextID
	d.CreatedAt = time.Now().UTC()
	d.UpdatedAt = d.CreatedAt
	for i := range d.Lines {
		r.nextLineID++
		d.Lines[i].ID = r.nextLineID
		d.Lines[i].LineNo = i + 1
	}
	r.deliveries[d.ID] = cloneDelivery(d)
	return d, nil
}

func (r *memoryRepo) Get(_ context.Context, id int64) (delivery.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deliveries[id]
	if !ok {
		return delivery.Delivery{}, delivery.ErrNotFound
	}
	return cloneDelivery(d), nil
}

func (r *memoryRepo) Run(ctx context.Context, fn func(context.Context, delivery.TxRepository, inventory.TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make(map[int64]delivery.Delivery, len(r.deliveries))
	for id, d := range r.deliveries {
		snapshot[id] = cloneDelivery(d)
	}
	err := r.stock.WithTx(ctx, func(ctx context.Context, stock inventory.TxRepository) error {
		return fn(ctx, &memoryTx{repo: r}, stock)
	})
	if err != nil {
		r.deliveries = snapshot
	}
	return err
}

func (t *memoryTx) GetForUpdate(_ context.Context, id int64) (delivery.Delivery, error) {
	d, ok := t.repo.deliveries[id]
	if !ok {
		return delivery.Delivery{}, delivery.ErrNotFound
	}
	return cloneDelivery(d), nil
}

func (t *memoryTx) SetReceivedQty(_ context.Context, lineID int64, qty decimal.Decimal) error {
	for id, d := range t.repo.deliveries {
		for i := range d.Lines {
			if d.Lines[i].ID == lineID {
				q := qty
				d.Lines[i].QtyReceived = &q
				t.repo.deliveries[id] = d
				return nil
			}
		}
	}
	return delivery.ErrNotFound
}

func (t *memoryTx) SetStatus(_ context.Context, id int64, status delivery.Status) error {
	d, ok := t.repo.deliveries[id]
	if !ok {
		return delivery.ErrNotFound
	}
	d.Status = status
	d.UpdatedAt = time.Now().UTC()
	t.repo.deliveries[id] = d
	return nil
}

func (t *memoryTx) MarkReceived(_ context.Context, id int64, at time.Time) error {
	d, ok := t.repo.deliveries[id]
	if !ok {
		return delivery.ErrNotFound
	}
	d.Status = delivery.StatusReceived
	d.ReceivedAt = &at
	t.repo.deliveries[id] = d
	return nil
}

type idempotencyRecorder struct {
	keys    map[string]bool
	deleted []string
}

func (i *idempotencyRecorder) CheckAndInsert(_ context.Context, key, module string) error {
	if i.keys == nil {
		i.keys = map[string]bool{}
	}
	if i.keys[module+":"+key] {
		return shared.ErrIdempotencyConflict
	}
	i.keys[module+":"+key] = true
	return nil
}

func (i *idempotencyRecorder) Delete(_ context.Context, key, module string) error {
	delete(i.keys, module+":"+key)
	i.deleted = append(i.deleted, key)
	return nil
}

type postingCounter struct {
	results map[string]int
	byMode  map[string]int
}

func (c *postingCounter) PostingCompleted(mode, result string) {
	if c.results == nil {
		c.results = map[string]int{}
		c.byMode = map[string]int{}
	}
	c.results[result]++
	c.byMode[mode+"/"+result]++
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr[T any](v T) *T {
	return &v
}
