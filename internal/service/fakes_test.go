package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Bruna557/python-patterns/internal/domain"
	"github.com/Bruna557/python-patterns/internal/port"
)

func date(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

// fakeRepository keeps aggregates in memory and tracks everything it
// hands out, mirroring the seen-set contract of the real repository.
type fakeRepository struct {
	products []*domain.Product
	seen     []*domain.Product
}

func (r *fakeRepository) Add(product *domain.Product) {
	r.products = append(r.products, product)
	r.track(product)
}

func (r *fakeRepository) Get(_ context.Context, sku string) (*domain.Product, error) {
	for _, p := range r.products {
		if p.SKU == sku {
			r.track(p)
			return p, nil
		}
	}
	return nil, nil
}

func (r *fakeRepository) GetByBatchRef(_ context.Context, ref string) (*domain.Product, error) {
	for _, p := range r.products {
		for _, b := range p.Batches {
			if b.Reference == ref {
				r.track(p)
				return p, nil
			}
		}
	}
	return nil, nil
}

func (r *fakeRepository) Seen() []*domain.Product {
	return r.seen
}

func (r *fakeRepository) track(product *domain.Product) {
	for _, p := range r.seen {
		if p == product {
			return
		}
	}
	r.seen = append(r.seen, product)
}

type viewRow struct{ orderID, sku string }

type fakeView struct {
	rows map[viewRow]string
}

func (v *fakeView) Add(_ context.Context, orderID, sku, batchRef string) error {
	if v.rows == nil {
		v.rows = make(map[viewRow]string)
	}
	v.rows[viewRow{orderID, sku}] = batchRef
	return nil
}

func (v *fakeView) Remove(_ context.Context, orderID, sku string) error {
	delete(v.rows, viewRow{orderID, sku})
	return nil
}

type fakeUnitOfWork struct {
	products *fakeRepository
	view     *fakeView

	committed bool
	commits   int
	closed    bool
}

func newFakeUnitOfWork() *fakeUnitOfWork {
	return &fakeUnitOfWork{products: &fakeRepository{}, view: &fakeView{}}
}

func (u *fakeUnitOfWork) Products() port.ProductRepository { return u.products }
func (u *fakeUnitOfWork) Views() port.AllocationView       { return u.view }

func (u *fakeUnitOfWork) Commit() error {
	u.committed = true
	u.commits++
	return nil
}

func (u *fakeUnitOfWork) Rollback() error { return nil }

func (u *fakeUnitOfWork) Close() error {
	u.closed = true
	return nil
}

func (u *fakeUnitOfWork) CollectNewEvents() []domain.Event {
	var events []domain.Event
	for _, product := range u.products.Seen() {
		for {
			event, ok := product.PopEvent()
			if !ok {
				break
			}
			events = append(events, event)
		}
	}
	return events
}

type fakeNotifier struct {
	sent []string
	err  error
}

func (n *fakeNotifier) Send(_ context.Context, destination, message string) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, fmt.Sprintf("%s: %s", destination, message))
	return nil
}

type fakePublisher struct {
	published []domain.Event
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, _ string, event domain.Event) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, event)
	return nil
}

var errBoom = errors.New("boom")
