package broker

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kneeraazon404/delta-hedging-platform/internal/model"
)

// MockMarket generates random-walk quotes per instrument. Used as the
// primary market data source in mock deployments and as the fallback
// for the live client. Safe for concurrent use.
type MockMarket struct {
	basePrice  float64
	volatility float64

	mu    sync.Mutex
	walks map[string]*walkState
}

type walkState struct {
	price      float64
	lastUpdate time.Time
}

// NewMockMarket returns a mock source whose instruments all start at
// basePrice and diffuse with the given annualized-ish volatility per
// second of elapsed time.
func NewMockMarket(basePrice, volatility float64) *MockMarket {
	if basePrice <= 0 {
		basePrice = 1.2
	}
	if volatility <= 0 {
		volatility = 0.02
	}
	return &MockMarket{
		basePrice:  basePrice,
		volatility: volatility,
		walks:      make(map[string]*walkState),
	}
}

// GetQuote steps the instrument's random walk by the elapsed time and
// returns a synthetic two-sided quote around the new price.
func (m *MockMarket) GetQuote(_ context.Context, epic string) (*model.Quote, error) {
	now := time.Now()

	m.mu.Lock()
	w, ok := m.walks[epic]
	if !ok {
		w = &walkState{price: m.basePrice, lastUpdate: now}
		m.walks[epic] = w
	}
	elapsed := now.Sub(w.lastUpdate).Seconds()
	if elapsed >= 1 {
		step := rand.NormFloat64() * m.volatility * math.Sqrt(elapsed)
		w.price *= 1 + step
		if w.price <= 0 {
			w.price = m.basePrice
		}
		w.lastUpdate = now
	}
	price := w.price
	m.mu.Unlock()

	p := decimal.NewFromFloat(price)
	spread := p.Mul(decimal.NewFromFloat(0.0001))
	return &model.Quote{
		Epic:       epic,
		Bid:        p.Sub(spread),
		Offer:      p.Add(spread),
		Price:      p,
		High:       p.Mul(decimal.NewFromFloat(1.01)),
		Low:        p.Mul(decimal.NewFromFloat(0.99)),
		Volatility: m.volatility,
		UpdatedAt:  now.UTC(),
	}, nil
}

// PaperExecutor fills every order instantly against an in-memory book,
// issuing synthetic deal ids. Used by tests and mock deployments.
type PaperExecutor struct {
	mu   sync.Mutex
	open map[string]OrderRequest
}

// NewPaperExecutor returns an executor with an empty book.
func NewPaperExecutor() *PaperExecutor {
	return &PaperExecutor{open: make(map[string]OrderRequest)}
}

// OpenPosition records the order and returns a synthetic deal id.
func (e *PaperExecutor) OpenPosition(_ context.Context, req OrderRequest) (string, error) {
	if !req.Size.IsPositive() {
		return "", fmt.Errorf("%w: size must be positive", ErrExecutionFailed)
	}
	if !req.Direction.Valid() {
		return "", fmt.Errorf("%w: direction %q", ErrExecutionFailed, req.Direction)
	}
	dealID := uuid.New().String()
	e.mu.Lock()
	e.open[dealID] = req
	e.mu.Unlock()
	return dealID, nil
}

// ClosePosition removes the deal from the book.
func (e *PaperExecutor) ClosePosition(_ context.Context, dealID string, _ model.Direction) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.open[dealID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, dealID)
	}
	delete(e.open, dealID)
	return nil
}

// OpenDeals returns the number of deals currently on the book.
func (e *PaperExecutor) OpenDeals() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.open)
}
