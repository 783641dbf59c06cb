package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Bruna557/python-patterns/internal/domain"
	"github.com/Bruna557/python-patterns/internal/port"
	"github.com/Bruna557/python-patterns/internal/service"
)

// memoryUnitOfWork backs the API tests with an in-memory aggregate
// store shared across requests.
type memoryUnitOfWork struct {
	store *memoryStore
	seen  []*domain.Product
}

type memoryStore struct {
	products []*domain.Product
	viewRows map[string]map[string]string
}

func (u *memoryUnitOfWork) Products() port.ProductRepository { return u }
func (u *memoryUnitOfWork) Views() port.AllocationView       { return &memoryView{store: u.store} }
func (u *memoryUnitOfWork) Commit() error                    { return nil }
func (u *memoryUnitOfWork) Rollback() error                  { return nil }
func (u *memoryUnitOfWork) Close() error                     { return nil }

func (u *memoryUnitOfWork) Add(product *domain.Product) {
	u.store.products = append(u.store.products, product)
	u.track(product)
}

func (u *memoryUnitOfWork) Get(_ context.Context, sku string) (*domain.Product, error) {
	for _, p := range u.store.products {
		if p.SKU == sku {
			u.track(p)
			return p, nil
		}
	}
	return nil, nil
}

func (u *memoryUnitOfWork) GetByBatchRef(_ context.Context, ref string) (*domain.Product, error) {
	for _, p := range u.store.products {
		for _, b := range p.Batches {
			if b.Reference == ref {
				u.track(p)
				return p, nil
			}
		}
	}
	return nil, nil
}

func (u *memoryUnitOfWork) Seen() []*domain.Product { return u.seen }

func (u *memoryUnitOfWork) track(product *domain.Product) {
	for _, p := range u.seen {
		if p == product {
			return
		}
	}
	u.seen = append(u.seen, product)
}

type memoryView struct {
	store *memoryStore
}

func (v *memoryView) Add(_ context.Context, orderID, sku, batchRef string) error {
	if v.store.viewRows == nil {
		v.store.viewRows = make(map[string]map[string]string)
	}
	if v.store.viewRows[orderID] == nil {
		v.store.viewRows[orderID] = make(map[string]string)
	}
	v.store.viewRows[orderID][sku] = batchRef
	return nil
}

func (v *memoryView) Remove(_ context.Context, orderID, sku string) error {
	delete(v.store.viewRows[orderID], sku)
	return nil
}

func (u *memoryUnitOfWork) CollectNewEvents() []domain.Event {
	var events []domain.Event
	for _, product := range u.seen {
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

type noopNotifier struct{}

func (noopNotifier) Send(context.Context, string, string) error { return nil }

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, domain.Event) error { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := &memoryStore{}
	starter := func(context.Context) (port.UnitOfWork, error) {
		return &memoryUnitOfWork{store: store}, nil
	}
	handlers := service.NewHandlers(noopNotifier{}, noopPublisher{})
	logger := zaptest.NewLogger(t)
	bus := service.NewMessageBus(logger, handlers.CommandHandlers(), handlers.EventHandlers())
	return NewServer(bus, starter, nil, logger)
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAddBatchEndpoint(t *testing.T) {
	router := newTestServer(t).Router()

	rec := postJSON(t, router, "/batches", map[string]any{
		"ref": "batch-001", "sku": "SKU-1", "qty": 100,
	})

	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestAddBatchRejectsBadETA(t *testing.T) {
	router := newTestServer(t).Router()

	rec := postJSON(t, router, "/batches", map[string]any{
		"ref": "batch-001", "sku": "SKU-1", "qty": 100, "eta": "not-a-date",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAllocateEndpoint(t *testing.T) {
	router := newTestServer(t).Router()

	rec := postJSON(t, router, "/batches", map[string]any{
		"ref": "batch-001", "sku": "SKU-1", "qty": 100, "eta": "2030-01-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = postJSON(t, router, "/allocations", map[string]any{
		"orderid": "order-1", "sku": "SKU-1", "qty": 10,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "batch-001", resp["batchref"])
}

func TestAllocateUnknownSkuReturns400(t *testing.T) {
	router := newTestServer(t).Router()

	rec := postJSON(t, router, "/allocations", map[string]any{
		"orderid": "order-1", "sku": "NO-SUCH-SKU", "qty": 10,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "NO-SUCH-SKU")
}

func TestAllocateMalformedBodyReturns400(t *testing.T) {
	router := newTestServer(t).Router()

	req := httptest.NewRequest(http.MethodPost, "/allocations", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
