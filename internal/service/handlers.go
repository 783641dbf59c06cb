// internal/service/handlers.go
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Bruna557/python-patterns/internal/domain"
	"github.com/Bruna557/python-patterns/internal/port"
)

// ErrInvalidSKU is returned when a command references a sku with no
// product aggregate. Unlike OutOfStock it is a caller error and
// propagates out of the bus.
var ErrInvalidSKU = errors.New("invalid sku")

// AllocatedChannel is where allocation facts are published for
// downstream consumers.
const AllocatedChannel = "line_allocated"

// stockAlertsAddress receives out-of-stock notifications.
const stockAlertsAddress = "stock@example.com"

// Handlers holds the external collaborators command and event handlers
// side-effect through. All aggregate access goes through the unit of
// work handed to each call.
type Handlers struct {
	notifier  port.Notifier
	publisher port.EventPublisher
}

func NewHandlers(notifier port.Notifier, publisher port.EventPublisher) *Handlers {
	return &Handlers{notifier: notifier, publisher: publisher}
}

// CommandHandlers is the static command routing table: one handler per
// command type.
func (h *Handlers) CommandHandlers() map[string]CommandHandler {
	return map[string]CommandHandler{
		domain.CreateBatch{}.CommandName(): func(ctx context.Context, cmd domain.Command, uow port.UnitOfWork) (any, error) {
			return nil, h.AddBatch(ctx, cmd.(domain.CreateBatch), uow)
		},
		domain.Allocate{}.CommandName(): func(ctx context.Context, cmd domain.Command, uow port.UnitOfWork) (any, error) {
			return h.Allocate(ctx, cmd.(domain.Allocate), uow)
		},
		domain.ChangeBatchQuantity{}.CommandName(): func(ctx context.Context, cmd domain.Command, uow port.UnitOfWork) (any, error) {
			return nil, h.ChangeBatchQuantity(ctx, cmd.(domain.ChangeBatchQuantity), uow)
		},
	}
}

// EventHandlers is the static event routing table: an ordered list of
// zero or more handlers per event type. Events without an entry are
// simply dropped.
func (h *Handlers) EventHandlers() map[string][]EventHandler {
	return map[string][]EventHandler{
		domain.Allocated{}.EventName(): {
			{Name: "PublishAllocated", Handle: func(ctx context.Context, e domain.Event, uow port.UnitOfWork) error {
				return h.PublishAllocated(ctx, e.(domain.Allocated), uow)
			}},
			{Name: "AddAllocationToReadModel", Handle: func(ctx context.Context, e domain.Event, uow port.UnitOfWork) error {
				return h.AddAllocationToReadModel(ctx, e.(domain.Allocated), uow)
			}},
		},
		domain.Deallocated{}.EventName(): {
			{Name: "RemoveAllocationFromReadModel", Handle: func(ctx context.Context, e domain.Event, uow port.UnitOfWork) error {
				return h.RemoveAllocationFromReadModel(ctx, e.(domain.Deallocated), uow)
			}},
			{Name: "Reallocate", Handle: func(ctx context.Context, e domain.Event, uow port.UnitOfWork) error {
				return h.Reallocate(ctx, e.(domain.Deallocated), uow)
			}},
		},
		domain.OutOfStock{}.EventName(): {
			{Name: "SendOutOfStockNotification", Handle: func(ctx context.Context, e domain.Event, uow port.UnitOfWork) error {
				return h.SendOutOfStockNotification(ctx, e.(domain.OutOfStock), uow)
			}},
		},
		domain.BatchCreated{}.EventName(): {
			{Name: "AddBatch", Handle: func(ctx context.Context, e domain.Event, uow port.UnitOfWork) error {
				created := e.(domain.BatchCreated)
				cmd := domain.CreateBatch{Ref: created.Ref, SKU: created.SKU, Qty: created.Qty, ETA: created.ETA}
				return h.AddBatch(ctx, cmd, uow)
			}},
		},
		domain.AllocationRequired{}.EventName(): {
			{Name: "Allocate", Handle: func(ctx context.Context, e domain.Event, uow port.UnitOfWork) error {
				required := e.(domain.AllocationRequired)
				cmd := domain.Allocate{OrderID: required.OrderID, SKU: required.SKU, Qty: required.Qty}
				_, err := h.Allocate(ctx, cmd, uow)
				return err
			}},
		},
	}
}

// AddBatch records a batch of purchased stock, creating the product
// aggregate for the sku when it is the first batch.
func (h *Handlers) AddBatch(ctx context.Context, cmd domain.CreateBatch, uow port.UnitOfWork) error {
	product, err := uow.Products().Get(ctx, cmd.SKU)
	if err != nil {
		return fmt.Errorf("load product %s: %w", cmd.SKU, err)
	}
	if product == nil {
		product = domain.NewProduct(cmd.SKU, nil, 0)
		uow.Products().Add(product)
	}
	product.AddBatch(domain.NewBatch(cmd.Ref, cmd.SKU, cmd.Qty, cmd.ETA))
	return uow.Commit()
}

// Allocate allocates an order line and returns the chosen batch
// reference, or the empty reference when the product is out of stock.
func (h *Handlers) Allocate(ctx context.Context, cmd domain.Allocate, uow port.UnitOfWork) (string, error) {
	product, err := uow.Products().Get(ctx, cmd.SKU)
	if err != nil {
		return "", fmt.Errorf("load product %s: %w", cmd.SKU, err)
	}
	if product == nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidSKU, cmd.SKU)
	}

	line := domain.OrderLine{OrderID: cmd.OrderID, SKU: cmd.SKU, Qty: cmd.Qty}
	batchRef := product.Allocate(line)
	if err := uow.Commit(); err != nil {
		return "", err
	}
	return batchRef, nil
}

// ChangeBatchQuantity applies an administrative stock correction.
func (h *Handlers) ChangeBatchQuantity(ctx context.Context, cmd domain.ChangeBatchQuantity, uow port.UnitOfWork) error {
	product, err := uow.Products().GetByBatchRef(ctx, cmd.Ref)
	if err != nil {
		return fmt.Errorf("load product for batch %s: %w", cmd.Ref, err)
	}
	if product == nil {
		return fmt.Errorf("%w: %s", domain.ErrUnknownBatch, cmd.Ref)
	}
	if err := product.ChangeBatchQuantity(cmd.Ref, cmd.Qty); err != nil {
		return err
	}
	return uow.Commit()
}

// Reallocate feeds a bumped line straight back through the allocate
// handler inside the same unit of work.
func (h *Handlers) Reallocate(ctx context.Context, event domain.Deallocated, uow port.UnitOfWork) error {
	cmd := domain.Allocate{OrderID: event.OrderID, SKU: event.SKU, Qty: event.Qty}
	_, err := h.Allocate(ctx, cmd, uow)
	return err
}

func (h *Handlers) PublishAllocated(ctx context.Context, event domain.Allocated, _ port.UnitOfWork) error {
	return h.publisher.Publish(ctx, AllocatedChannel, event)
}

func (h *Handlers) AddAllocationToReadModel(ctx context.Context, event domain.Allocated, uow port.UnitOfWork) error {
	if err := uow.Views().Add(ctx, event.OrderID, event.SKU, event.BatchRef); err != nil {
		return err
	}
	return uow.Commit()
}

func (h *Handlers) RemoveAllocationFromReadModel(ctx context.Context, event domain.Deallocated, uow port.UnitOfWork) error {
	if err := uow.Views().Remove(ctx, event.OrderID, event.SKU); err != nil {
		return err
	}
	return uow.Commit()
}

func (h *Handlers) SendOutOfStockNotification(ctx context.Context, event domain.OutOfStock, _ port.UnitOfWork) error {
	return h.notifier.Send(ctx, stockAlertsAddress, fmt.Sprintf("Out of stock for %s", event.SKU))
}
