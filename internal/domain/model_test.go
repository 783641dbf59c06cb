package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestAllocatePrefersWarehouseStockOverShipments(t *testing.T) {
	warehouse := NewBatch("warehouse-batch", "RETRO-CLOCK", 100, nil)
	shipment := NewBatch("shipment-batch", "RETRO-CLOCK", 100, date("2030-01-01"))
	product := NewProduct("RETRO-CLOCK", []*Batch{shipment, warehouse}, 0)

	ref := product.Allocate(OrderLine{OrderID: "order-1", SKU: "RETRO-CLOCK", Qty: 10})

	assert.Equal(t, "warehouse-batch", ref)
	assert.Equal(t, 90, warehouse.AvailableQuantity())
	assert.Equal(t, 100, shipment.AvailableQuantity())
}

func TestAllocatePrefersEarlierShipment(t *testing.T) {
	earliest := NewBatch("speedy-batch", "MINIMALIST-SPOON", 100, date("2025-01-01"))
	medium := NewBatch("normal-batch", "MINIMALIST-SPOON", 100, date("2025-02-01"))
	latest := NewBatch("slow-batch", "MINIMALIST-SPOON", 100, date("2025-03-01"))
	product := NewProduct("MINIMALIST-SPOON", []*Batch{medium, latest, earliest}, 0)

	ref := product.Allocate(OrderLine{OrderID: "order-1", SKU: "MINIMALIST-SPOON", Qty: 10})

	assert.Equal(t, "speedy-batch", ref)
	assert.Equal(t, 90, earliest.AvailableQuantity())
	assert.Equal(t, 100, medium.AvailableQuantity())
	assert.Equal(t, 100, latest.AvailableQuantity())
}

func TestAllocateRaisesAllocatedEventAndBumpsVersion(t *testing.T) {
	batch := NewBatch("batch-001", "SMALL-TABLE", 20, nil)
	product := NewProduct("SMALL-TABLE", []*Batch{batch}, 3)

	ref := product.Allocate(OrderLine{OrderID: "order-1", SKU: "SMALL-TABLE", Qty: 2})

	require.Equal(t, "batch-001", ref)
	assert.Equal(t, 4, product.VersionNumber)

	event, ok := product.PopEvent()
	require.True(t, ok)
	assert.Equal(t, Allocated{OrderID: "order-1", SKU: "SMALL-TABLE", Qty: 2, BatchRef: "batch-001"}, event)
}

func TestCannotAllocateForMismatchedSku(t *testing.T) {
	batch := NewBatch("batch-001", "UNCOMFORTABLE-CHAIR", 100, nil)

	batch.Allocate(OrderLine{OrderID: "order-1", SKU: "EXPENSIVE-TOASTER", Qty: 10})

	assert.Equal(t, 100, batch.AvailableQuantity())
	assert.Empty(t, batch.Allocations())
}

func TestAllocationIsIdempotent(t *testing.T) {
	batch := NewBatch("batch-001", "ANGULAR-DESK", 20, nil)
	line := OrderLine{OrderID: "order-1", SKU: "ANGULAR-DESK", Qty: 2}

	batch.Allocate(line)
	require.Equal(t, 18, batch.AvailableQuantity())

	batch.Allocate(line)
	assert.Equal(t, 18, batch.AvailableQuantity())
}

func TestAllocateRaisesOutOfStockWhenNothingFits(t *testing.T) {
	batch := NewBatch("batch-001", "SMALL-FORK", 10, nil)
	product := NewProduct("SMALL-FORK", []*Batch{batch}, 0)

	product.Allocate(OrderLine{OrderID: "order-1", SKU: "SMALL-FORK", Qty: 10})
	ref := product.Allocate(OrderLine{OrderID: "order-2", SKU: "SMALL-FORK", Qty: 1})

	assert.Empty(t, ref)
	assert.Equal(t, 0, batch.AvailableQuantity())

	events := product.PendingEvents()
	require.Len(t, events, 2)
	assert.Equal(t, OutOfStock{SKU: "SMALL-FORK"}, events[1])
}

func TestOutOfStockDoesNotMutateAnyBatch(t *testing.T) {
	batch := NewBatch("batch-001", "TALL-LAMP", 5, nil)
	product := NewProduct("TALL-LAMP", []*Batch{batch}, 7)

	ref := product.Allocate(OrderLine{OrderID: "order-1", SKU: "TALL-LAMP", Qty: 6})

	assert.Empty(t, ref)
	assert.Empty(t, batch.Allocations())
	assert.Equal(t, 7, product.VersionNumber, "version only moves on successful allocation")
}

func TestDeallocate(t *testing.T) {
	batch := NewBatch("batch-001", "VELVET-SOFA", 20, nil)
	line := OrderLine{OrderID: "order-1", SKU: "VELVET-SOFA", Qty: 5}
	batch.Allocate(line)

	batch.Deallocate(line)

	assert.Equal(t, 20, batch.AvailableQuantity())
}

func TestChangeBatchQuantityWithoutOverAllocation(t *testing.T) {
	batch := NewBatch("batch-001", "INDIFFERENT-TABLE", 100, nil)
	product := NewProduct("INDIFFERENT-TABLE", []*Batch{batch}, 0)
	product.Allocate(OrderLine{OrderID: "order-1", SKU: "INDIFFERENT-TABLE", Qty: 20})
	drainEvents(product)

	require.NoError(t, product.ChangeBatchQuantity("batch-001", 55))

	assert.Equal(t, 35, batch.AvailableQuantity())
	assert.Empty(t, product.PendingEvents())
}

func TestChangeBatchQuantityBumpsExactlyEnoughLines(t *testing.T) {
	batch := NewBatch("batch-001", "POSTER", 50, nil)
	product := NewProduct("POSTER", []*Batch{batch}, 0)
	product.Allocate(OrderLine{OrderID: "order-1", SKU: "POSTER", Qty: 20})
	product.Allocate(OrderLine{OrderID: "order-2", SKU: "POSTER", Qty: 20})
	drainEvents(product)

	require.NoError(t, product.ChangeBatchQuantity("batch-001", 25))

	// 25 purchased cannot hold two 20-qty lines; one and only one gets
	// bumped.
	assert.Equal(t, 5, batch.AvailableQuantity())

	events := product.PendingEvents()
	require.Len(t, events, 1)
	deallocated, ok := events[0].(Deallocated)
	require.True(t, ok)
	assert.Equal(t, "POSTER", deallocated.SKU)
	assert.Equal(t, 20, deallocated.Qty)
}

func TestChangeBatchQuantityUnknownReference(t *testing.T) {
	product := NewProduct("RUG", []*Batch{NewBatch("batch-001", "RUG", 10, nil)}, 0)

	err := product.ChangeBatchQuantity("no-such-batch", 5)

	assert.ErrorIs(t, err, ErrUnknownBatch)
}

// drainEvents empties the event queue so tests can assert on events
// raised after a known point.
func drainEvents(p *Product) {
	for {
		if _, ok := p.PopEvent(); !ok {
			return
		}
	}
}
