// internal/adapters/unitofwork.go
package adapters

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Bruna557/python-patterns/internal/domain"
	"github.com/Bruna557/python-patterns/internal/port"
)

// PostgresUnitOfWork scopes one database transaction around a message
// handling cycle. Every handler in the cycle shares it: Commit stages
// the mutations tracked so far, and Close finishes the transaction,
// committing only if at least one Commit ran and rolling back
// otherwise.
type PostgresUnitOfWork struct {
	ctx      context.Context
	tx       *sql.Tx
	products *PostgresRepository
	views    *postgresAllocationView

	committed bool
	finished  bool
}

// StartUnitOfWork begins a transaction and binds a repository to it.
// The context bounds the whole transaction's lifetime.
func StartUnitOfWork(ctx context.Context, db *sql.DB) (*PostgresUnitOfWork, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &PostgresUnitOfWork{
		ctx:      ctx,
		tx:       tx,
		products: NewPostgresRepository(tx),
		views:    &postgresAllocationView{tx: tx},
	}, nil
}

// NewUnitOfWorkStarter adapts a connection pool into the explicit
// factory that entrypoints pass to the bus. There is no process-wide
// default unit of work.
func NewUnitOfWorkStarter(db *sql.DB) port.UnitOfWorkStarter {
	return func(ctx context.Context) (port.UnitOfWork, error) {
		return StartUnitOfWork(ctx, db)
	}
}

func (u *PostgresUnitOfWork) Products() port.ProductRepository {
	return u.products
}

func (u *PostgresUnitOfWork) Views() port.AllocationView {
	return u.views
}

// Commit writes every seen aggregate's state into the transaction and
// marks the cycle committed. The transaction itself is finished by
// Close, so all handlers in one cycle share a single atomic boundary.
func (u *PostgresUnitOfWork) Commit() error {
	for _, product := range u.products.Seen() {
		if err := u.products.save(u.ctx, product); err != nil {
			return err
		}
	}
	u.committed = true
	return nil
}

// Rollback abandons the transaction. It is a no-op once a commit has
// run.
func (u *PostgresUnitOfWork) Rollback() error {
	if u.committed || u.finished {
		return nil
	}
	u.finished = true
	return u.tx.Rollback()
}

// Close ends the transaction: commit if Commit ran, rollback otherwise.
// It is safe to defer alongside an explicit Rollback.
func (u *PostgresUnitOfWork) Close() error {
	if u.finished {
		return nil
	}
	u.finished = true
	if u.committed {
		if err := u.tx.Commit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	}
	return u.tx.Rollback()
}

// CollectNewEvents drains pending events from every aggregate the
// repository has seen this cycle, oldest first per aggregate.
func (u *PostgresUnitOfWork) CollectNewEvents() []domain.Event {
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

// postgresAllocationView writes read-model rows inside the unit of
// work's transaction.
type postgresAllocationView struct {
	tx *sql.Tx
}

func (v *postgresAllocationView) Add(ctx context.Context, orderID, sku, batchRef string) error {
	_, err := v.tx.ExecContext(ctx, `
		INSERT INTO allocations_view (orderid, sku, batchref)
		VALUES ($1, $2, $3)
		ON CONFLICT (orderid, sku) DO UPDATE SET batchref = EXCLUDED.batchref
	`, orderID, sku, batchRef)
	if err != nil {
		return fmt.Errorf("upsert allocation view row: %w", err)
	}
	return nil
}

func (v *postgresAllocationView) Remove(ctx context.Context, orderID, sku string) error {
	_, err := v.tx.ExecContext(ctx, `
		DELETE FROM allocations_view WHERE orderid = $1 AND sku = $2
	`, orderID, sku)
	if err != nil {
		return fmt.Errorf("delete allocation view row: %w", err)
	}
	return nil
}
