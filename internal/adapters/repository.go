// internal/adapters/repository.go
package adapters

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Bruna557/python-patterns/internal/domain"
)

// ErrConcurrencyConflict is returned when a save loses the optimistic
// version race against a concurrent unit of work.
var ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")

// EnsureSchema creates the allocation tables if they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS products (
			sku TEXT PRIMARY KEY,
			version_number INT NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS batches (
			reference TEXT PRIMARY KEY,
			sku TEXT NOT NULL REFERENCES products (sku),
			purchased_quantity INT NOT NULL,
			eta DATE
		);
		CREATE TABLE IF NOT EXISTS allocations (
			orderid TEXT NOT NULL,
			sku TEXT NOT NULL,
			qty INT NOT NULL,
			batchref TEXT NOT NULL REFERENCES batches (reference),
			PRIMARY KEY (orderid, sku, batchref)
		);
		CREATE TABLE IF NOT EXISTS allocations_view (
			orderid TEXT NOT NULL,
			sku TEXT NOT NULL,
			batchref TEXT NOT NULL,
			PRIMARY KEY (orderid, sku)
		);
	`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// PostgresRepository loads and saves product aggregates through one
// transaction. It tracks every aggregate it hands out or is given so
// the unit of work can harvest their events; Seen preserves first-touch
// order.
type PostgresRepository struct {
	tx     *sql.Tx
	tracer trace.Tracer

	seen          []*domain.Product
	loadedVersion map[string]int
	added         map[string]bool
}

func NewPostgresRepository(tx *sql.Tx) *PostgresRepository {
	return &PostgresRepository{
		tx:            tx,
		tracer:        otel.Tracer("allocation/repository"),
		loadedVersion: make(map[string]int),
		added:         make(map[string]bool),
	}
}

func (r *PostgresRepository) Add(product *domain.Product) {
	r.added[product.SKU] = true
	r.track(product)
}

func (r *PostgresRepository) Get(ctx context.Context, sku string) (*domain.Product, error) {
	ctx, span := r.tracer.Start(ctx, "repository.get",
		trace.WithAttributes(attribute.String("product.sku", sku)),
	)
	defer span.End()

	// A product touched earlier in this cycle must come back as the
	// same in-memory aggregate, pending events included.
	for _, p := range r.seen {
		if p.SKU == sku {
			return p, nil
		}
	}

	var version int
	err := r.tx.QueryRowContext(ctx, `
		SELECT version_number FROM products WHERE sku = $1
	`, sku).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}

	batches, err := r.loadBatches(ctx, sku)
	if err != nil {
		return nil, err
	}

	product := domain.NewProduct(sku, batches, version)
	r.loadedVersion[sku] = version
	r.track(product)
	span.SetAttributes(attribute.Int("product.batches", len(batches)))
	return product, nil
}

func (r *PostgresRepository) GetByBatchRef(ctx context.Context, ref string) (*domain.Product, error) {
	var sku string
	err := r.tx.QueryRowContext(ctx, `
		SELECT sku FROM batches WHERE reference = $1
	`, ref).Scan(&sku)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query batch %s: %w", ref, err)
	}
	return r.Get(ctx, sku)
}

func (r *PostgresRepository) Seen() []*domain.Product {
	return r.seen
}

func (r *PostgresRepository) track(product *domain.Product) {
	for _, p := range r.seen {
		if p == product {
			return
		}
	}
	r.seen = append(r.seen, product)
}

func (r *PostgresRepository) loadBatches(ctx context.Context, sku string) ([]*domain.Batch, error) {
	rows, err := r.tx.QueryContext(ctx, `
		SELECT reference, purchased_quantity, eta
		FROM batches
		WHERE sku = $1
		ORDER BY reference
	`, sku)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	byRef := make(map[string]*domain.Batch)
	var batches []*domain.Batch
	for rows.Next() {
		var (
			ref string
			qty int
			eta sql.NullTime
		)
		if err := rows.Scan(&ref, &qty, &eta); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		batch := domain.NewBatch(ref, sku, qty, nil)
		if eta.Valid {
			t := eta.Time
			batch.ETA = &t
		}
		byRef[ref] = batch
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}

	lines, err := r.tx.QueryContext(ctx, `
		SELECT a.orderid, a.sku, a.qty, a.batchref
		FROM allocations a
		JOIN batches b ON a.batchref = b.reference
		WHERE b.sku = $1
	`, sku)
	if err != nil {
		return nil, fmt.Errorf("query allocations: %w", err)
	}
	defer lines.Close()

	for lines.Next() {
		var (
			line domain.OrderLine
			ref  string
		)
		if err := lines.Scan(&line.OrderID, &line.SKU, &line.Qty, &ref); err != nil {
			return nil, fmt.Errorf("scan allocation: %w", err)
		}
		if batch, ok := byRef[ref]; ok {
			batch.RestoreAllocation(line)
		}
	}
	if err := lines.Err(); err != nil {
		return nil, fmt.Errorf("iterate allocations: %w", err)
	}

	return batches, nil
}

// save writes one aggregate back through the transaction, enforcing the
// optimistic version check against the version it was loaded at.
func (r *PostgresRepository) save(ctx context.Context, product *domain.Product) error {
	ctx, span := r.tracer.Start(ctx, "repository.save",
		trace.WithAttributes(
			attribute.String("product.sku", product.SKU),
			attribute.Int("product.version", product.VersionNumber),
		),
	)
	defer span.End()

	if r.added[product.SKU] {
		_, err := r.tx.ExecContext(ctx, `
			INSERT INTO products (sku, version_number) VALUES ($1, $2)
		`, product.SKU, product.VersionNumber)
		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
				return ErrConcurrencyConflict
			}
			return fmt.Errorf("insert product: %w", err)
		}
		delete(r.added, product.SKU)
	} else {
		expected := r.loadedVersion[product.SKU]
		result, err := r.tx.ExecContext(ctx, `
			UPDATE products SET version_number = $1
			WHERE sku = $2 AND version_number = $3
		`, product.VersionNumber, product.SKU, expected)
		if err != nil {
			return fmt.Errorf("update product: %w", err)
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			span.SetAttributes(attribute.Bool("conflict.detected", true))
			return ErrConcurrencyConflict
		}
	}
	r.loadedVersion[product.SKU] = product.VersionNumber

	for _, batch := range product.Batches {
		var eta any
		if batch.ETA != nil {
			eta = *batch.ETA
		}
		_, err := r.tx.ExecContext(ctx, `
			INSERT INTO batches (reference, sku, purchased_quantity, eta)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (reference) DO UPDATE
			SET purchased_quantity = EXCLUDED.purchased_quantity,
			    eta = EXCLUDED.eta
		`, batch.Reference, batch.SKU, batch.PurchasedQuantity, eta)
		if err != nil {
			return fmt.Errorf("upsert batch %s: %w", batch.Reference, err)
		}

		_, err = r.tx.ExecContext(ctx, `
			DELETE FROM allocations WHERE batchref = $1
		`, batch.Reference)
		if err != nil {
			return fmt.Errorf("clear allocations for %s: %w", batch.Reference, err)
		}
		for _, line := range batch.Allocations() {
			_, err = r.tx.ExecContext(ctx, `
				INSERT INTO allocations (orderid, sku, qty, batchref)
				VALUES ($1, $2, $3, $4)
			`, line.OrderID, line.SKU, line.Qty, batch.Reference)
			if err != nil {
				return fmt.Errorf("insert allocation: %w", err)
			}
		}
	}
	return nil
}
