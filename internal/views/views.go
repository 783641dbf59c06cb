// internal/views/views.go
package views

import (
	"context"
	"database/sql"
	"fmt"
)

// Allocation is one row of the denormalized allocations read model,
// maintained by the Allocated/Deallocated event handlers.
type Allocation struct {
	SKU      string `json:"sku"`
	BatchRef string `json:"batchref"`
}

// Allocations returns the current allocations for an order. An empty
// slice means the order is unknown or fully deallocated.
func Allocations(ctx context.Context, db *sql.DB, orderID string) ([]Allocation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT sku, batchref FROM allocations_view WHERE orderid = $1
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query allocations view: %w", err)
	}
	defer rows.Close()

	var allocations []Allocation
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(&a.SKU, &a.BatchRef); err != nil {
			return nil, fmt.Errorf("scan allocation row: %w", err)
		}
		allocations = append(allocations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate allocation rows: %w", err)
	}
	return allocations, nil
}
