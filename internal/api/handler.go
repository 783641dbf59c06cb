// internal/api/handler.go
package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Bruna557/python-patterns/internal/domain"
	"github.com/Bruna557/python-patterns/internal/port"
	"github.com/Bruna557/python-patterns/internal/service"
	"github.com/Bruna557/python-patterns/internal/views"
)

// Server translates HTTP requests into commands for the message bus.
// Each request opens its own unit of work.
type Server struct {
	bus      *service.MessageBus
	startUow port.UnitOfWorkStarter
	db       *sql.DB
	limiter  *rate.Limiter
	logger   *zap.Logger
}

func NewServer(bus *service.MessageBus, startUow port.UnitOfWorkStarter, db *sql.DB, logger *zap.Logger) *Server {
	return &Server{
		bus:      bus,
		startUow: startUow,
		db:       db,
		limiter:  rate.NewLimiter(rate.Limit(100), 200),
		logger:   logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/batches", s.handleAddBatch)
	r.Post("/allocations", s.handleAllocate)
	r.Get("/allocations/{orderid}", s.handleAllocationsView)

	return r
}

func (s *Server) handleAddBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ref string `json:"ref"`
		SKU string `json:"sku"`
		Qty int    `json:"qty"`
		ETA string `json:"eta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cmd := domain.CreateBatch{Ref: req.Ref, SKU: req.SKU, Qty: req.Qty}
	if req.ETA != "" {
		eta, err := time.Parse("2006-01-02", req.ETA)
		if err != nil {
			http.Error(w, "eta must be a YYYY-MM-DD date", http.StatusBadRequest)
			return
		}
		cmd.ETA = &eta
	}

	if _, err := s.handle(r, cmd); err != nil {
		s.logger.Error("add batch failed", zap.String("ref", req.Ref), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	var req struct {
		OrderID string `json:"orderid"`
		SKU     string `json:"sku"`
		Qty     int    `json:"qty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cmd := domain.Allocate{OrderID: req.OrderID, SKU: req.SKU, Qty: req.Qty}
	results, err := s.handle(r, cmd)
	if err != nil {
		if errors.Is(err, service.ErrInvalidSKU) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Error("allocate failed", zap.String("orderid", req.OrderID), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	batchRef, _ := results[0].(string)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"batchref": batchRef})
}

func (s *Server) handleAllocationsView(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderid")
	result, err := views.Allocations(r.Context(), s.db, orderID)
	if err != nil {
		s.logger.Error("allocations view failed", zap.String("orderid", orderID), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(result) == 0 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// handle runs one command through the bus inside a fresh unit of work.
func (s *Server) handle(r *http.Request, cmd domain.Command) (results []any, err error) {
	uow, err := s.startUow(r.Context())
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := uow.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return s.bus.Handle(r.Context(), cmd, uow)
}
