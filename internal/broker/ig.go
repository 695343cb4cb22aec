package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kneeraazon404/delta-hedging-platform/internal/model"
)

const (
	defaultBaseURL    = "https://demo-api.ig.com/gateway/deal"
	defaultHTTPWait   = 10 * time.Second
	defaultRequestGap = 500 * time.Millisecond

	loginAttempts   = 3
	loginRetryDelay = 5 * time.Second

	// Venue error code signalling that market orders are not accepted
	// for the instrument; orders are retried once as LIMIT.
	marketOrderRejectedCode = "error.public-api.exchange.market-orders.not-supported"

	igTimeFormat = "2006-01-02T15:04:05"
)

// IGConfig holds credentials and tuning for the IG REST client.
type IGConfig struct {
	BaseURL    string
	APIKey     string
	Identifier string
	Password   string

	// HedgeAccountID, when set, is the account orders are placed
	// against. The client switches the session to it before trading.
	HedgeAccountID string

	// MinRequestGap spaces consecutive API calls to stay inside the
	// venue's rate limits.
	MinRequestGap time.Duration

	// Fallback supplies quotes when the live market data call fails.
	// Nil disables the fallback and surfaces ErrMarketDataUnavailable.
	Fallback *MockMarket
}

// IGClient is a client for the IG REST dealing API. It implements
// MarketData, TradeExecutor, and PositionSource. Safe for concurrent
// use; session tokens and request pacing are guarded internally.
type IGClient struct {
	cfg  IGConfig
	http *http.Client

	mu             sync.Mutex
	cst            string
	securityToken  string
	currentAccount string
	lastRequest    time.Time
}

// NewIGClient validates credentials and returns an unauthenticated
// client; the session is established lazily on first use.
func NewIGClient(cfg IGConfig) (*IGClient, error) {
	if cfg.APIKey == "" || cfg.Identifier == "" || cfg.Password == "" {
		return nil, errors.New("broker: missing IG API credentials")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.MinRequestGap <= 0 {
		cfg.MinRequestGap = defaultRequestGap
	}
	return &IGClient{
		cfg:  cfg,
		http: &http.Client{Timeout: defaultHTTPWait},
	}, nil
}

// Login establishes a dealing session, retrying transient failures.
// Tokens returned in the response headers authenticate all later calls.
func (c *IGClient) Login(ctx context.Context) error {
	body, err := json.Marshal(map[string]any{
		"identifier":        c.cfg.Identifier,
		"password":          c.cfg.Password,
		"encryptedPassword": false,
	})
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= loginAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.cfg.BaseURL+"/session", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("X-IG-API-KEY", c.cfg.APIKey)
		req.Header.Set("Version", "2")
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				c.mu.Lock()
				c.cst = resp.Header.Get("CST")
				c.securityToken = resp.Header.Get("X-SECURITY-TOKEN")
				c.currentAccount = ""
				c.mu.Unlock()
				slog.Info("logged in to dealing API")
				return nil
			}
			err = fmt.Errorf("login status %d", resp.StatusCode)
		}
		lastErr = err
		slog.Warn("login attempt failed", "attempt", attempt, "error", err)

		if attempt < loginAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(loginRetryDelay):
			}
		}
	}
	return fmt.Errorf("login failed after %d attempts: %w", loginAttempts, lastErr)
}

// apiError is a non-2xx response from the dealing API.
type apiError struct {
	status int
	code   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("broker: api status %d code %q", e.status, e.code)
}

// pace blocks until the minimum request gap has elapsed.
func (c *IGClient) pace(ctx context.Context) error {
	c.mu.Lock()
	wait := c.cfg.MinRequestGap - time.Since(c.lastRequest)
	c.lastRequest = time.Now().Add(wait)
	c.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

// do issues an authenticated request, logging in first if needed and
// retrying once on an expired session.
func (c *IGClient) do(ctx context.Context, method, path, version string, body, out any) error {
	if err := c.pace(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	haveSession := c.cst != "" && c.securityToken != ""
	c.mu.Unlock()
	if !haveSession {
		if err := c.Login(ctx); err != nil {
			return err
		}
	}

	for attempt := 0; ; attempt++ {
		var payload io.Reader
		if body != nil {
			buf, err := json.Marshal(body)
			if err != nil {
				return err
			}
			payload = bytes.NewReader(buf)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, payload)
		if err != nil {
			return err
		}
		c.mu.Lock()
		req.Header.Set("X-IG-API-KEY", c.cfg.APIKey)
		req.Header.Set("CST", c.cst)
		req.Header.Set("X-SECURITY-TOKEN", c.securityToken)
		c.mu.Unlock()
		req.Header.Set("Version", version)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json; charset=UTF-8")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			c.mu.Lock()
			c.cst, c.securityToken = "", ""
			c.mu.Unlock()
			if err := c.Login(ctx); err != nil {
				return err
			}
			continue
		}

		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			var ae struct {
				ErrorCode string `json:"errorCode"`
			}
			json.NewDecoder(resp.Body).Decode(&ae)
			return &apiError{status: resp.StatusCode, code: ae.ErrorCode}
		}
		if out != nil {
			return json.NewDecoder(resp.Body).Decode(out)
		}
		io.Copy(io.Discard, resp.Body)
		return nil
	}
}

type igMarketResponse struct {
	Snapshot struct {
		Bid              json.Number `json:"bid"`
		Offer            json.Number `json:"offer"`
		High             json.Number `json:"high"`
		Low              json.Number `json:"low"`
		PercentageChange float64     `json:"percentageChange"`
	} `json:"snapshot"`
}

// GetQuote fetches live market data for an epic. On any failure it falls
// back to the configured mock source so a dead feed degrades hedging
// accuracy instead of halting it.
func (c *IGClient) GetQuote(ctx context.Context, epic string) (*model.Quote, error) {
	var out igMarketResponse
	err := c.do(ctx, http.MethodGet, "/markets/"+epic, "3", nil, &out)
	if err != nil {
		if c.cfg.Fallback != nil {
			slog.Warn("live quote failed, using mock data", "epic", epic, "error", err)
			return c.cfg.Fallback.GetQuote(ctx, epic)
		}
		return nil, fmt.Errorf("%w: %v", ErrMarketDataUnavailable, err)
	}

	q := &model.Quote{
		Epic:      epic,
		UpdatedAt: time.Now().UTC(),
	}
	q.Bid, _ = decimalFromNumber(out.Snapshot.Bid)
	q.Offer, _ = decimalFromNumber(out.Snapshot.Offer)
	q.High, _ = decimalFromNumber(out.Snapshot.High)
	q.Low, _ = decimalFromNumber(out.Snapshot.Low)
	q.Price = q.Mid()

	vol := out.Snapshot.PercentageChange / 100
	if vol < 0 {
		vol = -vol
	}
	if vol < 0.001 {
		vol = 0.001
	}
	q.Volatility = vol

	if !q.Price.IsPositive() {
		if c.cfg.Fallback != nil {
			slog.Warn("empty quote snapshot, using mock data", "epic", epic)
			return c.cfg.Fallback.GetQuote(ctx, epic)
		}
		return nil, fmt.Errorf("%w: empty snapshot for %s", ErrMarketDataUnavailable, epic)
	}
	return q, nil
}

type igPositionsResponse struct {
	Positions []igPositionRecord `json:"positions"`
}

// igPositionRecord is the broker's nested position+market wire record.
type igPositionRecord struct {
	Position struct {
		DealID       string      `json:"dealId"`
		Direction    string      `json:"direction"`
		Size         json.Number `json:"size"`
		Level        json.Number `json:"level"`
		ContractSize json.Number `json:"contractSize"`
		Currency     string      `json:"currency"`
		CreatedDate  string      `json:"createdDateUTC"`
	} `json:"position"`
	Market struct {
		Epic           string `json:"epic"`
		InstrumentName string `json:"instrumentName"`
		InstrumentType string `json:"instrumentType"`
		Expiry         string `json:"expiry"`
	} `json:"market"`
}

// snapshot flattens the wire record into the engine's schema.
func (r igPositionRecord) snapshot() model.Snapshot {
	snap := model.Snapshot{
		DealID:     r.Position.DealID,
		Epic:       r.Market.Epic,
		Direction:  r.Position.Direction,
		Currency:   r.Position.Currency,
		MarketName: r.Market.InstrumentName,
		OptionType: r.Market.InstrumentType,
		Expiry:     r.Market.Expiry,
	}
	snap.Size, _ = decimalFromNumber(r.Position.Size)
	snap.Level, _ = decimalFromNumber(r.Position.Level)
	snap.ContractSize, _ = decimalFromNumber(r.Position.ContractSize)
	if t, err := time.Parse(igTimeFormat, r.Position.CreatedDate); err == nil {
		snap.CreatedAt = t.UTC()
	}
	return snap
}

// ListOpenPositions returns the broker's open positions as flat
// snapshots.
func (c *IGClient) ListOpenPositions(ctx context.Context) ([]model.Snapshot, error) {
	var out igPositionsResponse
	if err := c.do(ctx, http.MethodGet, "/positions", "2", nil, &out); err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	snaps := make([]model.Snapshot, 0, len(out.Positions))
	for _, rec := range out.Positions {
		snaps = append(snaps, rec.snapshot())
	}
	return snaps, nil
}

type igDealResponse struct {
	DealReference string `json:"dealReference"`
}

// OpenPosition places an order, switching to the hedge account first
// when one is configured. A market-order rejection is retried once as a
// LIMIT order at the request's reference level.
func (c *IGClient) OpenPosition(ctx context.Context, req OrderRequest) (string, error) {
	if err := c.ensureAccount(ctx); err != nil {
		return "", execError(err)
	}

	dealID, err := c.placeOrder(ctx, req)
	if errors.Is(err, ErrMarketOrderRejected) && req.Kind == model.OrderMarket && req.Level.IsPositive() {
		slog.Warn("market order rejected, retrying as limit",
			"epic", req.Epic, "level", req.Level)
		req.Kind = model.OrderLimit
		dealID, err = c.placeOrder(ctx, req)
	}
	if err != nil {
		return "", err
	}
	return dealID, nil
}

func (c *IGClient) placeOrder(ctx context.Context, req OrderRequest) (string, error) {
	expiry := req.Expiry
	if expiry == "" {
		expiry = model.NoExpiry
	}
	body := map[string]any{
		"epic":           req.Epic,
		"expiry":         expiry,
		"direction":      string(req.Direction),
		"size":           req.Size.String(),
		"orderType":      string(req.Kind),
		"timeInForce":    "FILL_OR_KILL",
		"guaranteedStop": false,
		"forceOpen":      true,
	}
	if req.Kind == model.OrderLimit {
		body["level"] = req.Level.String()
	}
	if req.Currency != "" {
		body["currencyCode"] = req.Currency
	}

	var out igDealResponse
	if err := c.do(ctx, http.MethodPost, "/positions/otc", "2", body, &out); err != nil {
		var ae *apiError
		if errors.As(err, &ae) && ae.code == marketOrderRejectedCode {
			return "", fmt.Errorf("%w: %s", ErrMarketOrderRejected, req.Epic)
		}
		return "", execError(err)
	}
	if out.DealReference == "" {
		return "", fmt.Errorf("%w: no deal reference returned", ErrExecutionFailed)
	}
	return out.DealReference, nil
}

// ClosePosition closes the whole deal in the given direction.
func (c *IGClient) ClosePosition(ctx context.Context, dealID string, direction model.Direction) error {
	if err := c.ensureAccount(ctx); err != nil {
		return execError(err)
	}
	body := map[string]any{
		"dealId":    dealID,
		"direction": string(direction),
		"size":      "ALL",
		"orderType": string(model.OrderMarket),
	}
	if err := c.do(ctx, http.MethodPost, "/positions/otc", "1", body, nil); err != nil {
		var ae *apiError
		if errors.As(err, &ae) && ae.status == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, dealID)
		}
		return execError(err)
	}
	return nil
}

// ensureAccount switches the session to the hedge account when one is
// configured. No-op otherwise.
func (c *IGClient) ensureAccount(ctx context.Context) error {
	if c.cfg.HedgeAccountID == "" {
		return nil
	}
	c.mu.Lock()
	current := c.currentAccount
	c.mu.Unlock()
	if current == c.cfg.HedgeAccountID {
		return nil
	}

	body := map[string]any{"accountId": c.cfg.HedgeAccountID}
	if err := c.do(ctx, http.MethodPut, "/session", "1", body, nil); err != nil {
		return fmt.Errorf("switch to hedge account: %w", err)
	}
	c.mu.Lock()
	c.currentAccount = c.cfg.HedgeAccountID
	c.mu.Unlock()
	return nil
}

func decimalFromNumber(n json.Number) (decimal.Decimal, error) {
	if n == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(n.String())
}

// execError classifies a transport failure into the executor sentinels.
func execError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrExecutionTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrExecutionFailed, err)
}
