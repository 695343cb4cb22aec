package hedger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/kneeraazon404/delta-hedging-platform/internal/broker"
	"github.com/kneeraazon404/delta-hedging-platform/internal/model"
	"github.com/kneeraazon404/delta-hedging-platform/internal/pricing"
	"github.com/kneeraazon404/delta-hedging-platform/internal/risk"
	"github.com/kneeraazon404/delta-hedging-platform/internal/store"
)

// Service exposes the engine over HTTP.
type Service struct {
	engine   *Engine
	hub      *WSHub
	validate *validator.Validate
}

// NewService creates the HTTP service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(engine *Engine, hub *WSHub) *Service {
	return &Service{
		engine:   engine,
		hub:      hub,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// --- Request/Response types ---

// CreatePositionRequest is the JSON body for position creation. Strike
// may be omitted when the epic encodes it.
type CreatePositionRequest struct {
	DealID         string          `json:"deal_id"`
	Epic           string          `json:"epic" validate:"required"`
	UnderlyingEpic string          `json:"underlying_epic"`
	Strike         decimal.Decimal `json:"strike"`
	OptionType     string          `json:"option_type" validate:"omitempty,oneof=CALL PUT"`
	Direction      string          `json:"direction" validate:"omitempty,oneof=BUY SELL"`
	ContractSize   decimal.Decimal `json:"contract_size"`
	Size           decimal.Decimal `json:"size"`
	Level          decimal.Decimal `json:"level"`
	Premium        decimal.Decimal `json:"premium"`
	Currency       string          `json:"currency"`
	MarketName     string          `json:"market_name"`
	Expiry         string          `json:"expiry"`
	TimeToExpiry   float64         `json:"time_to_expiry" validate:"gte=0"`
}

// HedgeRequest is the JSON body for POST /hedge/{dealID}. Both fields
// are optional.
type HedgeRequest struct {
	Size  decimal.Decimal `json:"size"`
	Force bool            `json:"force"`
}

// UpdateSettingsRequest is the JSON body for PUT /settings. All fields
// are required; settings replace as a unit.
type UpdateSettingsRequest struct {
	MinHedgeSize     float64 `json:"min_hedge_size" validate:"required,gt=0"`
	MaxHedgeSize     float64 `json:"max_hedge_size" validate:"required,gtfield=MinHedgeSize"`
	HedgeIntervalSec float64 `json:"hedge_interval_seconds" validate:"required,gt=0"`
	DeltaThreshold   float64 `json:"delta_threshold" validate:"required,gt=0"`
}

// HedgeStatusEntry is one row of GET /hedge/status.
type HedgeStatusEntry struct {
	Epic       string          `json:"epic"`
	Direction  string          `json:"direction"`
	IsActive   bool            `json:"is_active"`
	NeedsHedge bool            `json:"needs_hedge"`
	HedgeSize  decimal.Decimal `json:"hedge_size"`
	PnL        decimal.Decimal `json:"pnl"`
	Delta      float64         `json:"delta"`
}

// MonitorStatusResponse is the body of GET /monitor.
type MonitorStatusResponse struct {
	Active    bool      `json:"active"`
	Interval  string    `json:"interval"`
	Policy    string    `json:"policy"`
	LastCheck time.Time `json:"last_check,omitempty"`
}

// Routes registers all API routes on the router.
func (s *Service) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/positions", s.CreatePosition)
		r.Get("/positions", s.ListPositions)
		r.Get("/positions/sold", s.SoldPositions)
		r.Get("/positions/{dealID}", s.GetPosition)
		r.Get("/positions/{dealID}/history", s.GetHistory)

		r.Post("/hedge/all", s.HedgeAll)
		r.Get("/hedge/status", s.HedgeStatus)
		r.Post("/hedge/{dealID}", s.Hedge)

		r.Get("/settings", s.GetSettings)
		r.Put("/settings", s.UpdateSettings)

		r.Get("/monitor", s.MonitorStatus)
		r.Post("/monitor/start", s.StartMonitor)
		r.Post("/monitor/stop", s.StopMonitor)

		if s.hub != nil {
			r.Get("/ws", s.hub.HandleWS)
		}
	})
}

// --- HTTP Handlers ---

// CreatePosition handles POST /api/v1/positions
func (s *Service) CreatePosition(w http.ResponseWriter, r *http.Request) {
	var req CreatePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !req.Size.IsPositive() {
		writeError(w, "size must be positive", http.StatusBadRequest)
		return
	}

	snap := model.Snapshot{
		DealID:         req.DealID,
		Epic:           req.Epic,
		UnderlyingEpic: req.UnderlyingEpic,
		Strike:         req.Strike,
		OptionType:     req.OptionType,
		Direction:      req.Direction,
		ContractSize:   req.ContractSize,
		Size:           req.Size,
		Level:          req.Level,
		Premium:        req.Premium,
		Currency:       req.Currency,
		MarketName:     req.MarketName,
		Expiry:         req.Expiry,
		TimeToExpiry:   req.TimeToExpiry,
		CreatedAt:      time.Now().UTC(),
		IsActive:       true,
	}

	created, err := s.engine.CreatePosition(r.Context(), snap)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(created)
}

// ListPositions handles GET /api/v1/positions
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	all, err := s.engine.AllPositionsStatus(r.Context())
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, all)
}

// SoldPositions handles GET /api/v1/positions/sold
func (s *Service) SoldPositions(w http.ResponseWriter, r *http.Request) {
	sold, err := s.engine.SoldPositions(r.Context())
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, sold)
}

// GetPosition handles GET /api/v1/positions/{dealID}
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	dealID := chi.URLParam(r, "dealID")
	st, err := s.engine.Status(r.Context(), dealID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, st)
}

// GetHistory handles GET /api/v1/positions/{dealID}/history
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	dealID := chi.URLParam(r, "dealID")
	hist, err := s.engine.History(r.Context(), dealID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if hist == nil {
		hist = []model.HedgeRecord{}
	}
	writeJSON(w, hist)
}

// Hedge handles POST /api/v1/hedge/{dealID}
func (s *Service) Hedge(w http.ResponseWriter, r *http.Request) {
	dealID := chi.URLParam(r, "dealID")

	var req HedgeRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	if req.Size.IsNegative() {
		writeError(w, "size must not be negative", http.StatusBadRequest)
		return
	}

	res, err := s.engine.Evaluate(r.Context(), dealID, EvalOptions{
		Force:        req.Force,
		ExplicitSize: req.Size,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resultStatusCode(res))
	json.NewEncoder(w).Encode(res)
}

// HedgeAll handles POST /api/v1/hedge/all
func (s *Service) HedgeAll(w http.ResponseWriter, r *http.Request) {
	sold, err := s.engine.SoldPositions(r.Context())
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}

	results := make([]*Result, 0, len(sold))
	for _, st := range sold {
		if !st.Position.IsActive {
			continue
		}
		res, err := s.engine.Evaluate(r.Context(), st.Position.DealID, EvalOptions{})
		if err != nil {
			continue
		}
		results = append(results, res)
	}
	writeJSON(w, results)
}

// HedgeStatus handles GET /api/v1/hedge/status
func (s *Service) HedgeStatus(w http.ResponseWriter, r *http.Request) {
	all, err := s.engine.AllPositionsStatus(r.Context())
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}

	out := make(map[string]HedgeStatusEntry, len(all))
	for id, st := range all {
		out[id] = HedgeStatusEntry{
			Epic:       st.Position.Epic,
			Direction:  st.Position.Direction,
			IsActive:   st.Position.IsActive,
			NeedsHedge: st.NeedsHedge,
			HedgeSize:  st.Position.HedgeSize,
			PnL:        st.PnL,
			Delta:      st.Delta,
		}
	}
	writeJSON(w, out)
}

// GetSettings handles GET /api/v1/settings
func (s *Service) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings := s.engine.Settings()
	writeJSON(w, map[string]any{
		"min_hedge_size":         settings.MinHedgeSize,
		"max_hedge_size":         settings.MaxHedgeSize,
		"hedge_interval_seconds": settings.HedgeInterval.Seconds(),
		"delta_threshold":        settings.DeltaThreshold,
	})
}

// UpdateSettings handles PUT /api/v1/settings
func (s *Service) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req UpdateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	settings := Settings{
		MinHedgeSize:   decimal.NewFromFloat(req.MinHedgeSize),
		MaxHedgeSize:   decimal.NewFromFloat(req.MaxHedgeSize),
		HedgeInterval:  time.Duration(req.HedgeIntervalSec * float64(time.Second)),
		DeltaThreshold: req.DeltaThreshold,
	}
	if err := s.engine.UpdateSettings(settings); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.GetSettings(w, r)
}

// MonitorStatus handles GET /api/v1/monitor
func (s *Service) MonitorStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, MonitorStatusResponse{
		Active:    s.engine.MonitorActive(),
		Interval:  s.engine.Settings().HedgeInterval.String(),
		Policy:    s.engine.PolicyName(),
		LastCheck: s.engine.LastCheck(),
	})
}

// StartMonitor handles POST /api/v1/monitor/start
func (s *Service) StartMonitor(w http.ResponseWriter, r *http.Request) {
	// The loop outlives the request, so it runs off a background
	// context and is stopped via POST /monitor/stop or shutdown.
	started := s.engine.StartMonitor(context.Background())
	writeJSON(w, map[string]bool{"started": started, "active": true})
}

// StopMonitor handles POST /api/v1/monitor/stop
func (s *Service) StopMonitor(w http.ResponseWriter, r *http.Request) {
	stopped := s.engine.StopMonitor()
	writeJSON(w, map[string]bool{"stopped": stopped, "active": false})
}

// resultStatusCode maps an evaluation result to an HTTP status.
func resultStatusCode(res *Result) int {
	if res.Status != StatusError {
		return http.StatusOK
	}
	cause := res.Cause()
	switch {
	case errors.Is(cause, risk.ErrUnderlyingLimitExceeded), errors.Is(cause, risk.ErrGrossLimitExceeded):
		return http.StatusConflict
	case errors.Is(cause, broker.ErrMarketDataUnavailable),
		errors.Is(cause, broker.ErrExecutionFailed),
		errors.Is(cause, broker.ErrExecutionTimeout),
		errors.Is(cause, broker.ErrMarketOrderRejected):
		return http.StatusBadGateway
	case errors.Is(cause, pricing.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeEngineError maps engine errors to HTTP statuses.
func (s *Service) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrPositionNotFound), errors.Is(err, store.ErrNotFound), errors.Is(err, broker.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, model.ErrInvalidPosition), errors.Is(err, pricing.ErrInvalidInput), errors.Is(err, ErrInvalidSettings):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, risk.ErrUnderlyingLimitExceeded), errors.Is(err, risk.ErrGrossLimitExceeded):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, broker.ErrMarketDataUnavailable), errors.Is(err, broker.ErrExecutionFailed), errors.Is(err, broker.ErrExecutionTimeout):
		writeError(w, err.Error(), http.StatusBadGateway)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
