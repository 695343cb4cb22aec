// Package hedger implements the delta-hedging decision engine: the
// position cache, the hedge policies, the evaluation loop that decides
// when and how much to hedge, and the HTTP surface exposing it.
//
// All monetary values use shopspring/decimal — never float64 for money.
package hedger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kneeraazon404/delta-hedging-platform/internal/broker"
	"github.com/kneeraazon404/delta-hedging-platform/internal/metrics"
	"github.com/kneeraazon404/delta-hedging-platform/internal/model"
	"github.com/kneeraazon404/delta-hedging-platform/internal/pricing"
	"github.com/kneeraazon404/delta-hedging-platform/internal/risk"
	"github.com/kneeraazon404/delta-hedging-platform/internal/store"
)

const (
	// brokerTimeout bounds every market data and execution call so a
	// stalled collaborator cannot hold a position lock indefinitely.
	brokerTimeout = 10 * time.Second

	// nearExpiryTenor is the horizon at which Black-Scholes greeks are
	// abandoned for intrinsic-value behavior.
	nearExpiryTenor = 1.0 / 365.0

	// volatilityFloor keeps garbage feed values from collapsing the
	// greeks.
	volatilityFloor = 0.1
)

// ErrPositionNotFound is returned when a deal id is in neither the
// cache nor the broker's open positions.
var ErrPositionNotFound = errors.New("hedger: position not found")

// Evaluation outcome statuses.
const (
	StatusHedged       = "hedged"
	StatusHedgeRemoved = "hedge_removed"
	StatusNoAction     = "no_action_needed"
	StatusError        = "error"
)

// Result is the structured outcome of one hedge evaluation. Every
// evaluation returns one; collaborator failures are folded into the
// Error field rather than raised.
type Result struct {
	DealID        string          `json:"deal_id"`
	Status        string          `json:"status"`
	Delta         float64         `json:"delta"`
	PositionDelta float64         `json:"position_delta"`
	Greeks        *pricing.Greeks `json:"greeks,omitempty"`
	HedgeSize     decimal.Decimal `json:"hedge_size"`
	HedgeDealID   string          `json:"hedge_deal_id,omitempty"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	PnL           decimal.Decimal `json:"pnl"`
	Error         string          `json:"error,omitempty"`

	// cause keeps the underlying error so the HTTP layer can map it to
	// a status code without parsing the Error string.
	cause error
}

// Cause returns the error folded into an error-status result, or nil.
func (r *Result) Cause() error { return r.cause }

// EvalOptions tweak a single evaluation.
type EvalOptions struct {
	// Force opens a hedge even when the policy sees no need.
	Force bool
	// ExplicitSize overrides the computed hedge size when positive.
	ExplicitSize decimal.Decimal
}

// PositionStatus is the full read-only view of one position.
type PositionStatus struct {
	Position      model.Snapshot      `json:"position"`
	CurrentPrice  decimal.Decimal     `json:"current_price"`
	Delta         float64             `json:"delta"`
	PositionDelta float64             `json:"position_delta"`
	Greeks        *pricing.Greeks     `json:"greeks,omitempty"`
	PnL           decimal.Decimal     `json:"pnl"`
	NeedsHedge    bool                `json:"needs_hedge"`
	HedgeHistory  []model.HedgeRecord `json:"hedge_history"`
}

// Config wires an Engine. Market, Executor, and Pricer are required;
// everything else is optional.
type Config struct {
	Market    broker.MarketData
	Executor  broker.TradeExecutor
	Positions broker.PositionSource
	Pricer    *pricing.Pricer
	Policy    Policy
	Limiter   *risk.ExposureLimiter
	Store     store.Store
	Hub       *WSHub
	Settings  Settings
}

// Engine owns the canonical in-memory positions and serializes hedge
// decisions per position. Mutation of a position's hedge state happens
// only under that position's lock; the engine-wide lock guards only the
// cache map and the exposure totals.
type Engine struct {
	market   broker.MarketData
	executor broker.TradeExecutor
	source   broker.PositionSource
	pricer   *pricing.Pricer
	policy   Policy
	limiter  *risk.ExposureLimiter
	store    store.Store
	hub      *WSHub

	settingsMu sync.RWMutex
	settings   Settings

	mu        sync.Mutex
	positions map[string]*entry
	exposures map[string]decimal.Decimal

	monitorMu     sync.Mutex
	monitorCancel context.CancelFunc
	lastCheck     time.Time
}

// entry pairs a position with its evaluation lock.
type entry struct {
	mu  sync.Mutex
	pos *model.Position
}

// NewEngine builds an engine from the config.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Market == nil || cfg.Executor == nil {
		return nil, errors.New("hedger: market data and executor are required")
	}
	if cfg.Pricer == nil {
		return nil, errors.New("hedger: pricer is required")
	}
	if cfg.Policy == nil {
		cfg.Policy = PnlHysteresisPolicy{}
	}
	if cfg.Settings.MinHedgeSize.IsZero() && cfg.Settings.MaxHedgeSize.IsZero() {
		cfg.Settings = DefaultSettings()
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		market:    cfg.Market,
		executor:  cfg.Executor,
		source:    cfg.Positions,
		pricer:    cfg.Pricer,
		policy:    cfg.Policy,
		limiter:   cfg.Limiter,
		store:     cfg.Store,
		hub:       cfg.Hub,
		settings:  cfg.Settings,
		positions: make(map[string]*entry),
		exposures: make(map[string]decimal.Decimal),
	}, nil
}

// Settings returns a copy of the current settings.
func (e *Engine) Settings() Settings {
	e.settingsMu.RLock()
	defer e.settingsMu.RUnlock()
	return e.settings
}

// UpdateSettings validates and atomically replaces all settings. On
// failure the previous settings are retained in full.
func (e *Engine) UpdateSettings(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	e.settingsMu.Lock()
	e.settings = s
	e.settingsMu.Unlock()
	slog.Info("settings updated",
		"min_hedge_size", s.MinHedgeSize.String(),
		"max_hedge_size", s.MaxHedgeSize.String(),
		"hedge_interval", s.HedgeInterval.String(),
		"delta_threshold", s.DeltaThreshold,
	)
	return nil
}

// PolicyName reports the active policy.
func (e *Engine) PolicyName() string { return e.policy.Name() }

// hedgeEpic is the instrument the hedge trades in: the underlying when
// known, otherwise the option's own epic.
func hedgeEpic(pos *model.Position) string {
	if pos.UnderlyingEpic != "" {
		return pos.UnderlyingEpic
	}
	return pos.Epic
}

// cache inserts a position, keeping any entry that won a concurrent
// create for the same deal id.
func (e *Engine) cache(pos *model.Position) *entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	if en, ok := e.positions[pos.DealID]; ok {
		return en
	}
	en := &entry{pos: pos}
	e.positions[pos.DealID] = en
	if pos.HasOpenHedge() {
		epic := hedgeEpic(pos)
		e.exposures[epic] = e.exposures[epic].Add(pos.HedgeSize.Abs())
	}
	metrics.ActivePositions.Set(float64(len(e.positions)))
	return en
}

// entryFor resolves a position from the cache, falling back to the
// broker's open-positions snapshot.
func (e *Engine) entryFor(ctx context.Context, dealID string) (*entry, error) {
	e.mu.Lock()
	en, ok := e.positions[dealID]
	e.mu.Unlock()
	if ok {
		return en, nil
	}
	if e.source == nil {
		return nil, ErrPositionNotFound
	}

	lctx, cancel := context.WithTimeout(ctx, brokerTimeout)
	snaps, err := e.source.ListOpenPositions(lctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("list broker positions: %w", err)
	}
	for _, snap := range snaps {
		if snap.DealID != dealID {
			continue
		}
		pos, err := model.NewPosition(snap)
		if err != nil {
			return nil, err
		}
		return e.cache(pos), nil
	}
	return nil, ErrPositionNotFound
}

// adjustExposure applies a signed change to an epic's hedge exposure
// total.
func (e *Engine) adjustExposure(epic string, delta decimal.Decimal) {
	e.mu.Lock()
	v := e.exposures[epic].Add(delta)
	if v.IsNegative() {
		v = decimal.Zero
	}
	e.exposures[epic] = v
	e.mu.Unlock()
}

func (e *Engine) exposureSnapshot() map[string]decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(e.exposures))
	for k, v := range e.exposures {
		out[k] = v
	}
	return out
}

// CreatePosition validates and caches a locally created position,
// assigning a synthetic deal id when the broker has not issued one yet.
func (e *Engine) CreatePosition(ctx context.Context, snap model.Snapshot) (model.Snapshot, error) {
	if snap.DealID == "" {
		snap.DealID = uuid.New().String()
	}
	pos, err := model.NewPosition(snap)
	if err != nil {
		return model.Snapshot{}, err
	}

	en := e.cache(pos)
	en.mu.Lock()
	out := en.pos.Snapshot()
	e.persistPosition(ctx, en.pos)
	en.mu.Unlock()

	slog.Info("position created",
		"deal_id", out.DealID,
		"epic", out.Epic,
		"direction", out.Direction,
		"size", out.Size.String(),
		"premium", out.Premium.String(),
	)
	return out, nil
}

// Evaluate runs one full hedge evaluation for a position. The
// position's lock is held across the decision and any resulting
// executor calls; concurrent evaluations of the same deal serialize and
// observe each other's state. A nil error with Status "error" means a
// collaborator failed; the position's hedge state is unchanged in that
// case.
func (e *Engine) Evaluate(ctx context.Context, dealID string, opts EvalOptions) (*Result, error) {
	start := time.Now()

	en, err := e.entryFor(ctx, dealID)
	if err != nil {
		return nil, err
	}

	en.mu.Lock()
	res := e.evaluateLocked(ctx, en.pos, opts)
	en.mu.Unlock()

	metrics.EvaluationsTotal.WithLabelValues(res.Status).Inc()
	metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	return res, nil
}

func (e *Engine) evaluateLocked(ctx context.Context, pos *model.Position, opts EvalOptions) *Result {
	res := &Result{DealID: pos.DealID, Status: StatusNoAction, HedgeSize: pos.HedgeSize}

	if pos.RefreshTenor(time.Now().UTC()) {
		slog.Info("position expired", "deal_id", pos.DealID, "expiry", pos.Expiry)
		e.persistPosition(ctx, pos)
		return res
	}
	if !pos.IsActive {
		return res
	}

	settings := e.Settings()

	qctx, cancel := context.WithTimeout(ctx, brokerTimeout)
	quote, err := e.market.GetQuote(qctx, pos.Epic)
	cancel()
	if err != nil {
		metrics.MarketDataFailures.Inc()
		return failResult(res, fmt.Errorf("market data: %w", err))
	}
	pos.UpdateQuote(quote)

	price := quote.Mid()
	if !price.IsPositive() {
		metrics.MarketDataFailures.Inc()
		return failResult(res, fmt.Errorf("%w: non-positive price for %s", broker.ErrMarketDataUnavailable, pos.Epic))
	}

	vol := quote.Volatility
	if vol < volatilityFloor {
		vol = volatilityFloor
	}

	spot := price.InexactFloat64()
	strike := pos.Strike.InexactFloat64()
	greeks, err := e.pricer.AllGreeks(spot, strike, pos.TimeToExpiry, vol, pos.OptionType)
	if err != nil {
		return failResult(res, err)
	}

	size := pos.Size.InexactFloat64()
	contract := pos.ContractSize.InexactFloat64()
	dirSign := 1.0
	if pos.Direction == model.DirectionSell {
		dirSign = -1.0
	}
	positionDelta := dirSign * greeks.Delta * size * contract

	pnl := e.CalculatePnL(pos, price)

	res.Delta = greeks.Delta
	res.PositionDelta = positionDelta
	res.Greeks = &greeks
	res.CurrentPrice = price
	res.PnL = pnl

	action := e.policy.Decide(PolicyInputs{
		Position:       pos,
		Delta:          greeks.Delta,
		PositionDelta:  positionDelta,
		PnL:            pnl,
		DeltaThreshold: settings.DeltaThreshold,
	})
	if opts.Force && action == ActionNone {
		action = ActionOpen
	}

	switch action {
	case ActionOpen:
		return e.openHedge(ctx, pos, res, settings, opts.ExplicitSize)
	case ActionClose:
		return e.closeHedge(ctx, pos, res)
	default:
		return res
	}
}

// openHedge sizes, places, and records a hedge trade. No position state
// mutates unless the executor succeeds.
func (e *Engine) openHedge(ctx context.Context, pos *model.Position, res *Result, settings Settings, explicit decimal.Decimal) *Result {
	var hedgeSize decimal.Decimal
	switch {
	case explicit.IsPositive():
		hedgeSize = clampSize(explicit, settings)
	case res.Delta == 0 || pos.TimeToExpiry <= nearExpiryTenor:
		// At the expiry boundary the greeks are unusable; carry a
		// minimal hedge of a tenth of the position instead.
		hedgeSize = clampSize(pos.Size.Abs().Mul(decimal.NewFromFloat(0.1)), settings)
	default:
		hedgeSize = e.pricer.HedgeSize(res.Delta, pos.Size.Abs(), pos.ContractSize, settings.MinHedgeSize, settings.MaxHedgeSize)
	}

	// The hedge offsets the signed net delta: short-call exposure
	// (negative) is hedged by buying the underlying.
	direction := model.DirectionBuy
	if res.PositionDelta > 0 {
		direction = model.DirectionSell
	}

	epic := hedgeEpic(pos)

	if e.limiter != nil {
		change := hedgeSize.Sub(pos.HedgeSize.Abs())
		if err := e.limiter.CheckLimit(epic, change, e.exposureSnapshot()); err != nil {
			metrics.LimitRejections.Inc()
			return failResult(res, err)
		}
	}

	// Supersede any existing hedge before opening the replacement.
	if pos.HasOpenHedge() && pos.HedgeDealID != "" {
		cctx, cancel := context.WithTimeout(ctx, brokerTimeout)
		err := e.executor.ClosePosition(cctx, pos.HedgeDealID, pos.HedgeDirection.Opposite())
		cancel()
		if err != nil && !errors.Is(err, broker.ErrNotFound) {
			return failResult(res, fmt.Errorf("close superseded hedge: %w", err))
		}
		e.adjustExposure(epic, pos.HedgeSize.Abs().Neg())
		pos.ClearHedge()
	}

	octx, cancel := context.WithTimeout(ctx, brokerTimeout)
	dealID, err := e.executor.OpenPosition(octx, broker.OrderRequest{
		Epic:      epic,
		Direction: direction,
		Size:      hedgeSize,
		Kind:      model.OrderMarket,
		Level:     res.CurrentPrice,
		Expiry:    model.NoExpiry,
		Currency:  pos.Currency,
	})
	cancel()
	if err != nil {
		return failResult(res, fmt.Errorf("execute hedge: %w", err))
	}

	// The record carries the signed size; the live hedge state keeps
	// the magnitude plus direction, so UpdateHedge runs last.
	signed := hedgeSize
	if direction == model.DirectionSell {
		signed = signed.Neg()
	}
	if err := pos.AddHedgeRecord(res.Delta, signed, res.CurrentPrice, res.PnL); err != nil {
		slog.Error("hedge record rejected", "deal_id", pos.DealID, "error", err)
	} else {
		e.persistRecord(ctx, pos.DealID, &pos.HedgeHistory[len(pos.HedgeHistory)-1])
	}
	pos.UpdateHedge(dealID, hedgeSize, res.CurrentPrice, direction)
	e.adjustExposure(epic, hedgeSize)
	e.persistPosition(ctx, pos)

	metrics.HedgeTradesTotal.WithLabelValues(string(direction)).Inc()
	slog.Info("hedge executed",
		"deal_id", pos.DealID,
		"hedge_deal_id", dealID,
		"epic", epic,
		"direction", direction,
		"size", hedgeSize.String(),
		"delta", res.Delta,
		"pnl", res.PnL.String(),
	)
	if e.hub != nil {
		e.hub.Broadcast(WSMessage{
			Type:      "hedge_executed",
			DealID:    pos.DealID,
			Status:    StatusHedged,
			HedgeSize: hedgeSize.String(),
			Delta:     res.Delta,
			Price:     res.CurrentPrice.String(),
			PnL:       res.PnL.String(),
		})
	}

	res.Status = StatusHedged
	res.HedgeSize = hedgeSize
	res.HedgeDealID = dealID
	return res
}

// closeHedge unwinds the open hedge after PnL recovery and appends a
// closing record so the history shows the full round trip.
func (e *Engine) closeHedge(ctx context.Context, pos *model.Position, res *Result) *Result {
	epic := hedgeEpic(pos)

	if pos.HedgeDealID != "" {
		cctx, cancel := context.WithTimeout(ctx, brokerTimeout)
		err := e.executor.ClosePosition(cctx, pos.HedgeDealID, pos.HedgeDirection.Opposite())
		cancel()
		if err != nil && !errors.Is(err, broker.ErrNotFound) {
			return failResult(res, fmt.Errorf("close hedge: %w", err))
		}
	}

	closedSize := pos.HedgeSize.Abs()
	closeDir := pos.HedgeDirection.Opposite()
	if err := pos.AddHedgeRecord(res.Delta, decimal.Zero, res.CurrentPrice, res.PnL); err != nil {
		slog.Error("hedge record rejected", "deal_id", pos.DealID, "error", err)
	} else {
		e.persistRecord(ctx, pos.DealID, &pos.HedgeHistory[len(pos.HedgeHistory)-1])
	}
	pos.ClearHedge()
	e.adjustExposure(epic, closedSize.Neg())
	e.persistPosition(ctx, pos)

	metrics.HedgeTradesTotal.WithLabelValues(string(closeDir)).Inc()
	slog.Info("hedge removed",
		"deal_id", pos.DealID,
		"epic", epic,
		"closed_size", closedSize.String(),
		"pnl", res.PnL.String(),
	)
	if e.hub != nil {
		e.hub.Broadcast(WSMessage{
			Type:      "hedge_removed",
			DealID:    pos.DealID,
			Status:    StatusHedgeRemoved,
			HedgeSize: "0",
			Delta:     res.Delta,
			Price:     res.CurrentPrice.String(),
			PnL:       res.PnL.String(),
		})
	}

	res.Status = StatusHedgeRemoved
	res.HedgeSize = decimal.Zero
	return res
}

// CalculatePnL computes premium capture less intrinsic give-back, plus
// the open hedge's mark against its entry price.
func (e *Engine) CalculatePnL(pos *model.Position, price decimal.Decimal) decimal.Decimal {
	intrinsic := pos.IntrinsicValue(price)
	pnl := pos.Premium.Sub(intrinsic.Mul(pos.Size.Abs()).Mul(pos.ContractSize))

	if pos.HasOpenHedge() && pos.LastHedgePrice.IsPositive() {
		signed := pos.HedgeSize
		if pos.HedgeDirection == model.DirectionSell {
			signed = signed.Neg()
		}
		pnl = pnl.Add(signed.Mul(price.Sub(pos.LastHedgePrice)))
	}
	return pnl
}

func clampSize(size decimal.Decimal, settings Settings) decimal.Decimal {
	if size.LessThan(settings.MinHedgeSize) {
		return settings.MinHedgeSize
	}
	if size.GreaterThan(settings.MaxHedgeSize) {
		return settings.MaxHedgeSize
	}
	return size
}

func failResult(res *Result, err error) *Result {
	res.Status = StatusError
	res.Error = err.Error()
	res.cause = err
	return res
}

// Status assembles the read-only view of one position: snapshot, live
// greeks, PnL, and history. Collaborator failures degrade to a partial
// status rather than an error.
func (e *Engine) Status(ctx context.Context, dealID string) (*PositionStatus, error) {
	en, err := e.entryFor(ctx, dealID)
	if err != nil {
		return nil, err
	}

	en.mu.Lock()
	defer en.mu.Unlock()
	pos := en.pos

	st := &PositionStatus{
		Position:     pos.Snapshot(),
		HedgeHistory: append([]model.HedgeRecord(nil), pos.HedgeHistory...),
	}

	qctx, cancel := context.WithTimeout(ctx, brokerTimeout)
	quote, err := e.market.GetQuote(qctx, pos.Epic)
	cancel()
	if err != nil {
		metrics.MarketDataFailures.Inc()
		return st, nil
	}
	pos.UpdateQuote(quote)

	price := quote.Mid()
	if !price.IsPositive() {
		return st, nil
	}
	st.CurrentPrice = price
	st.PnL = e.CalculatePnL(pos, price)

	vol := quote.Volatility
	if vol < volatilityFloor {
		vol = volatilityFloor
	}
	greeks, err := e.pricer.AllGreeks(price.InexactFloat64(), pos.Strike.InexactFloat64(), pos.TimeToExpiry, vol, pos.OptionType)
	if err == nil {
		dirSign := 1.0
		if pos.Direction == model.DirectionSell {
			dirSign = -1.0
		}
		st.Delta = greeks.Delta
		st.Greeks = &greeks
		st.PositionDelta = dirSign * greeks.Delta * pos.Size.InexactFloat64() * pos.ContractSize.InexactFloat64()
	}

	st.NeedsHedge = e.policy.Decide(PolicyInputs{
		Position:       pos,
		Delta:          st.Delta,
		PositionDelta:  st.PositionDelta,
		PnL:            st.PnL,
		DeltaThreshold: e.Settings().DeltaThreshold,
	}) != ActionNone

	st.Position = pos.Snapshot()
	return st, nil
}

// refreshFromBroker folds the broker's open positions into the cache.
// Existing entries keep their accumulated hedge state.
func (e *Engine) refreshFromBroker(ctx context.Context) error {
	if e.source == nil {
		return nil
	}
	lctx, cancel := context.WithTimeout(ctx, brokerTimeout)
	snaps, err := e.source.ListOpenPositions(lctx)
	cancel()
	if err != nil {
		return fmt.Errorf("list broker positions: %w", err)
	}
	for _, snap := range snaps {
		e.mu.Lock()
		_, known := e.positions[snap.DealID]
		e.mu.Unlock()
		if known {
			continue
		}
		pos, err := model.NewPosition(snap)
		if err != nil {
			slog.Warn("skipping unusable broker position", "deal_id", snap.DealID, "error", err)
			continue
		}
		e.cache(pos)
	}
	return nil
}

// dealIDs returns a snapshot of cached deal ids.
func (e *Engine) dealIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.positions))
	for id := range e.positions {
		ids = append(ids, id)
	}
	return ids
}

// AllPositionsStatus returns the status of every known position, after
// merging in the broker's open positions.
func (e *Engine) AllPositionsStatus(ctx context.Context) (map[string]*PositionStatus, error) {
	if err := e.refreshFromBroker(ctx); err != nil {
		slog.Warn("broker refresh failed", "error", err)
	}

	out := make(map[string]*PositionStatus)
	for _, id := range e.dealIDs() {
		st, err := e.Status(ctx, id)
		if err != nil {
			slog.Warn("status failed", "deal_id", id, "error", err)
			continue
		}
		out[id] = st
	}
	return out, nil
}

// SoldPositions returns the status of every short position.
func (e *Engine) SoldPositions(ctx context.Context) ([]*PositionStatus, error) {
	all, err := e.AllPositionsStatus(ctx)
	if err != nil {
		return nil, err
	}
	sold := make([]*PositionStatus, 0, len(all))
	for _, st := range all {
		if st.Position.Direction == string(model.DirectionSell) {
			sold = append(sold, st)
		}
	}
	return sold, nil
}

// History returns a position's hedge records, falling back to the audit
// store for positions not currently cached.
func (e *Engine) History(ctx context.Context, dealID string) ([]model.HedgeRecord, error) {
	e.mu.Lock()
	en, ok := e.positions[dealID]
	e.mu.Unlock()
	if ok {
		en.mu.Lock()
		defer en.mu.Unlock()
		return append([]model.HedgeRecord(nil), en.pos.HedgeHistory...), nil
	}
	if e.store != nil {
		return e.store.HedgeHistory(ctx, dealID)
	}
	return nil, ErrPositionNotFound
}

// Restore reloads the cache from the audit store at startup.
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	snaps, err := e.store.ListPositions(ctx)
	if err != nil {
		return fmt.Errorf("restore positions: %w", err)
	}
	restored := 0
	for _, snap := range snaps {
		pos, err := model.NewPosition(snap)
		if err != nil {
			slog.Warn("skipping unusable stored position", "deal_id", snap.DealID, "error", err)
			continue
		}
		if !snap.IsActive {
			pos.IsActive = false
		}
		if hist, err := e.store.HedgeHistory(ctx, snap.DealID); err == nil {
			pos.HedgeHistory = hist
		}
		e.cache(pos)
		restored++
	}
	slog.Info("positions restored from store", "count", restored)
	return nil
}

// persistPosition writes the snapshot through to the audit store. The
// in-memory cache stays authoritative, so failures are logged and
// swallowed.
func (e *Engine) persistPosition(ctx context.Context, pos *model.Position) {
	if e.store == nil {
		return
	}
	snap := pos.Snapshot()
	if err := e.store.SavePosition(ctx, &snap); err != nil {
		slog.Warn("audit save failed", "deal_id", snap.DealID, "error", err)
	}
}

func (e *Engine) persistRecord(ctx context.Context, dealID string, rec *model.HedgeRecord) {
	if e.store == nil {
		return
	}
	if err := e.store.InsertHedgeRecord(ctx, dealID, rec); err != nil {
		slog.Warn("audit record failed", "deal_id", dealID, "error", err)
	}
}

// StartMonitor launches the periodic re-evaluation loop. Returns false
// if it is already running.
func (e *Engine) StartMonitor(ctx context.Context) bool {
	e.monitorMu.Lock()
	defer e.monitorMu.Unlock()
	if e.monitorCancel != nil {
		return false
	}
	mctx, cancel := context.WithCancel(ctx)
	e.monitorCancel = cancel
	go e.monitorLoop(mctx)
	slog.Info("monitor started", "interval", e.Settings().HedgeInterval.String())
	return true
}

// StopMonitor stops the loop. Returns false if it was not running.
func (e *Engine) StopMonitor() bool {
	e.monitorMu.Lock()
	defer e.monitorMu.Unlock()
	if e.monitorCancel == nil {
		return false
	}
	e.monitorCancel()
	e.monitorCancel = nil
	return true
}

// MonitorActive reports whether the loop is running.
func (e *Engine) MonitorActive() bool {
	e.monitorMu.Lock()
	defer e.monitorMu.Unlock()
	return e.monitorCancel != nil
}

// LastCheck is the completion time of the most recent sweep.
func (e *Engine) LastCheck() time.Time {
	e.monitorMu.Lock()
	defer e.monitorMu.Unlock()
	return e.lastCheck
}

func (e *Engine) monitorLoop(ctx context.Context) {
	for {
		interval := e.Settings().HedgeInterval
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			e.sweep(ctx)
		}
	}
}

// sweep re-evaluates every cached position once.
func (e *Engine) sweep(ctx context.Context) {
	if err := e.refreshFromBroker(ctx); err != nil {
		slog.Warn("broker refresh failed", "error", err)
	}
	for _, id := range e.dealIDs() {
		if ctx.Err() != nil {
			return
		}
		res, err := e.Evaluate(ctx, id, EvalOptions{})
		if err != nil {
			slog.Warn("sweep evaluation failed", "deal_id", id, "error", err)
			continue
		}
		if res.Status == StatusError {
			slog.Warn("sweep evaluation errored", "deal_id", id, "error", res.Error)
		}
	}
	e.monitorMu.Lock()
	e.lastCheck = time.Now().UTC()
	e.monitorMu.Unlock()
}
