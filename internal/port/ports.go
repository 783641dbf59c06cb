package port

import (
	"context"

	"github.com/Bruna557/python-patterns/internal/domain"
)

// ProductRepository is the storage port for product aggregates. Seen
// reports every aggregate the repository handed out or was given this
// unit-of-work cycle, in first-touch order; the unit of work drains
// their events through it.
type ProductRepository interface {
	// Add registers a brand new aggregate with the current transaction.
	Add(product *domain.Product)

	// Get loads the aggregate for a sku. It returns nil when no product
	// exists for the sku.
	Get(ctx context.Context, sku string) (*domain.Product, error)

	// GetByBatchRef loads the aggregate owning a batch reference, or
	// nil when no batch carries it.
	GetByBatchRef(ctx context.Context, ref string) (*domain.Product, error)

	Seen() []*domain.Product
}

// AllocationView accepts materialized read-model row updates bound to
// the same transaction as the repository.
type AllocationView interface {
	Add(ctx context.Context, orderID, sku, batchRef string) error
	Remove(ctx context.Context, orderID, sku string) error
}

// UnitOfWork delimits one atomic commit/rollback boundary. Commit
// stages every tracked mutation for the transaction; Rollback discards
// them and is a no-op once Commit has run; Close ends the transaction,
// rolling back unless a commit ran. CollectNewEvents drains the events
// raised by every aggregate the repository has seen this cycle.
type UnitOfWork interface {
	Products() ProductRepository
	Views() AllocationView
	Commit() error
	Rollback() error
	Close() error
	CollectNewEvents() []domain.Event
}

// UnitOfWorkStarter opens a fresh unit of work with its own
// transaction. It is passed explicitly to entrypoints; there is no
// process-wide default.
type UnitOfWorkStarter func(ctx context.Context) (UnitOfWork, error)

// Notifier delivers a human-facing message; failures are reported, not
// retried.
type Notifier interface {
	Send(ctx context.Context, destination, message string) error
}

// EventPublisher pushes a domain event to an external channel.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, event domain.Event) error
}
