// internal/domain/model.go
package domain

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrUnknownBatch is returned when a quantity change names a batch
// reference the product does not own.
var ErrUnknownBatch = errors.New("unknown batch reference")

// OrderLine is a value object: two lines with the same order id, sku and
// quantity are interchangeable. It is a comparable struct so it can be
// used directly as a set member.
type OrderLine struct {
	OrderID string `json:"orderid"`
	SKU     string `json:"sku"`
	Qty     int    `json:"qty"`
}

// Batch is an entity identified by its reference. Its allocations are a
// set of order lines, so allocating the same line twice is a no-op.
type Batch struct {
	Reference         string
	SKU               string
	ETA               *time.Time
	PurchasedQuantity int

	allocations map[OrderLine]struct{}
}

// NewBatch creates a batch of purchased stock. A nil eta means the stock
// is already in the warehouse.
func NewBatch(reference, sku string, qty int, eta *time.Time) *Batch {
	return &Batch{
		Reference:         reference,
		SKU:               sku,
		ETA:               eta,
		PurchasedQuantity: qty,
		allocations:       make(map[OrderLine]struct{}),
	}
}

func (b *Batch) AllocatedQuantity() int {
	total := 0
	for line := range b.allocations {
		total += line.Qty
	}
	return total
}

func (b *Batch) AvailableQuantity() int {
	return b.PurchasedQuantity - b.AllocatedQuantity()
}

func (b *Batch) CanAllocate(line OrderLine) bool {
	return b.SKU == line.SKU && b.AvailableQuantity() >= line.Qty
}

func (b *Batch) Allocate(line OrderLine) {
	if b.CanAllocate(line) {
		b.allocations[line] = struct{}{}
	}
}

func (b *Batch) Deallocate(line OrderLine) {
	delete(b.allocations, line)
}

// RestoreAllocation reattaches a persisted allocation without the
// can-allocate guard. Storage adapters use it when rebuilding a batch,
// which may legitimately be over-allocated mid-correction.
func (b *Batch) RestoreAllocation(line OrderLine) {
	b.allocations[line] = struct{}{}
}

// DeallocateOne removes and returns an arbitrary allocated line. The
// caller must ensure the batch has at least one allocation.
func (b *Batch) DeallocateOne() OrderLine {
	for line := range b.allocations {
		delete(b.allocations, line)
		return line
	}
	panic(fmt.Sprintf("batch %s has no allocations to remove", b.Reference))
}

// Allocations returns the allocated lines in an unspecified order.
func (b *Batch) Allocations() []OrderLine {
	lines := make([]OrderLine, 0, len(b.allocations))
	for line := range b.allocations {
		lines = append(lines, line)
	}
	return lines
}

// precedes implements the allocation priority rule: warehouse stock
// (no eta) beats shipments, and between two shipments the earlier eta
// wins.
func (b *Batch) precedes(other *Batch) bool {
	if b.ETA == nil {
		return true
	}
	if other.ETA == nil {
		return false
	}
	return b.ETA.Before(*other.ETA)
}

// Product is the aggregate root for all batches of one sku. Every batch
// mutation goes through it, and it records the events those mutations
// raise. VersionNumber is the optimistic concurrency token checked by
// the storage layer on save.
type Product struct {
	SKU           string
	Batches       []*Batch
	VersionNumber int

	events []Event
}

func NewProduct(sku string, batches []*Batch, version int) *Product {
	return &Product{SKU: sku, Batches: batches, VersionNumber: version}
}

// Allocate picks the preferred batch that can satisfy the line, records
// the allocation and raises an Allocated event. When no batch qualifies
// it raises OutOfStock and returns the empty reference; that is an
// expected business outcome, not an error.
func (p *Product) Allocate(line OrderLine) string {
	sorted := make([]*Batch, len(p.Batches))
	copy(sorted, p.Batches)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].precedes(sorted[j])
	})

	for _, batch := range sorted {
		if !batch.CanAllocate(line) {
			continue
		}
		batch.Allocate(line)
		p.VersionNumber++
		p.raise(Allocated{
			OrderID:  line.OrderID,
			SKU:      line.SKU,
			Qty:      line.Qty,
			BatchRef: batch.Reference,
		})
		return batch.Reference
	}

	p.raise(OutOfStock{SKU: line.SKU})
	return ""
}

// AddBatch registers a newly purchased batch with the aggregate.
func (p *Product) AddBatch(batch *Batch) {
	p.Batches = append(p.Batches, batch)
}

// ChangeBatchQuantity corrects a batch's purchased quantity, e.g. after
// stock is found damaged. If the correction leaves the batch
// over-allocated, lines are bumped one at a time until the available
// quantity is no longer negative, each bump raising a Deallocated event
// so the line can be reallocated elsewhere.
func (p *Product) ChangeBatchQuantity(reference string, qty int) error {
	var batch *Batch
	for _, b := range p.Batches {
		if b.Reference == reference {
			batch = b
			break
		}
	}
	if batch == nil {
		return fmt.Errorf("%w: %s", ErrUnknownBatch, reference)
	}

	batch.PurchasedQuantity = qty
	for batch.AvailableQuantity() < 0 {
		line := batch.DeallocateOne()
		p.raise(Deallocated{OrderID: line.OrderID, SKU: line.SKU, Qty: line.Qty})
	}
	return nil
}

func (p *Product) raise(event Event) {
	p.events = append(p.events, event)
}

// PopEvent removes and returns the oldest pending event. The unit of
// work drains seen aggregates through this after every handler runs.
func (p *Product) PopEvent() (Event, bool) {
	if len(p.events) == 0 {
		return nil, false
	}
	event := p.events[0]
	p.events = p.events[1:]
	return event, true
}

// PendingEvents returns the queued events without draining them.
func (p *Product) PendingEvents() []Event {
	return append([]Event(nil), p.events...)
}
