// internal/domain/messages.go
package domain

import "time"

// Message is the closed union of commands and events the bus routes.
// The unexported marker keeps the union sealed to this package.
type Message interface {
	isMessage()
}

// Command requests one specific effect. Exactly one handler serves each
// command and its failure propagates to the caller.
type Command interface {
	Message
	CommandName() string
}

// Event records something that already happened. Zero or more handlers
// serve each event and their failures are isolated from one another.
type Event interface {
	Message
	EventName() string
}

// CreateBatch adds a batch of purchased stock, creating the product
// aggregate for the sku if it does not exist yet.
type CreateBatch struct {
	Ref string     `json:"ref"`
	SKU string     `json:"sku"`
	Qty int        `json:"qty"`
	ETA *time.Time `json:"eta,omitempty"`
}

func (CreateBatch) isMessage()          {}
func (CreateBatch) CommandName() string { return "CreateBatch" }

// Allocate asks for an order line to be allocated against stock.
type Allocate struct {
	OrderID string `json:"orderid"`
	SKU     string `json:"sku"`
	Qty     int    `json:"qty"`
}

func (Allocate) isMessage()          {}
func (Allocate) CommandName() string { return "Allocate" }

// ChangeBatchQuantity corrects a batch's purchased quantity.
type ChangeBatchQuantity struct {
	Ref string `json:"batchref"`
	Qty int    `json:"qty"`
}

func (ChangeBatchQuantity) isMessage()          {}
func (ChangeBatchQuantity) CommandName() string { return "ChangeBatchQuantity" }

// Allocated is raised when an order line has been allocated to a batch.
type Allocated struct {
	OrderID  string `json:"orderid"`
	SKU      string `json:"sku"`
	Qty      int    `json:"qty"`
	BatchRef string `json:"batchref"`
}

func (Allocated) isMessage()        {}
func (Allocated) EventName() string { return "Allocated" }

// Deallocated is raised when a line is bumped off an over-allocated
// batch and needs reallocating elsewhere.
type Deallocated struct {
	OrderID string `json:"orderid"`
	SKU     string `json:"sku"`
	Qty     int    `json:"qty"`
}

func (Deallocated) isMessage()        {}
func (Deallocated) EventName() string { return "Deallocated" }

// OutOfStock is raised when no batch can satisfy an order line.
type OutOfStock struct {
	SKU string `json:"sku"`
}

func (OutOfStock) isMessage()        {}
func (OutOfStock) EventName() string { return "OutOfStock" }

// BatchCreated is the event-driven counterpart of CreateBatch, for
// callers that seed the bus with facts instead of commands.
type BatchCreated struct {
	Ref string     `json:"ref"`
	SKU string     `json:"sku"`
	Qty int        `json:"qty"`
	ETA *time.Time `json:"eta,omitempty"`
}

func (BatchCreated) isMessage()        {}
func (BatchCreated) EventName() string { return "BatchCreated" }

// AllocationRequired is the event-driven counterpart of Allocate.
type AllocationRequired struct {
	OrderID string `json:"orderid"`
	SKU     string `json:"sku"`
	Qty     int    `json:"qty"`
}

func (AllocationRequired) isMessage()        {}
func (AllocationRequired) EventName() string { return "AllocationRequired" }
