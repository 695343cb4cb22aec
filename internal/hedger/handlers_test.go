package hedger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kneeraazon404/delta-hedging-platform/internal/broker"
	"github.com/kneeraazon404/delta-hedging-platform/internal/model"
)

func newTestServer(t *testing.T, market *stubMarket, exec *stubExecutor) (*Engine, *httptest.Server) {
	t.Helper()
	eng := newTestEngine(t, market, exec)
	svc := NewService(eng, nil)

	r := chi.NewRouter()
	svc.Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	t.Cleanup(func() { eng.StopMonitor() })
	return eng, srv
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestCreatePositionHandler(t *testing.T) {
	_, srv := newTestServer(t, testMarket(100, 100, 0.2), &stubExecutor{})

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/positions", map[string]any{
		"epic":           "TEST.OPT.EPIC",
		"strike":         "100",
		"option_type":    "CALL",
		"direction":      "SELL",
		"size":           "1",
		"level":          "5",
		"time_to_expiry": 0.25,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var snap model.Snapshot
	decodeBody(t, resp, &snap)
	if snap.DealID == "" {
		t.Fatal("created position has no deal id")
	}
	if !snap.Premium.Equal(d(5)) {
		t.Fatalf("premium = %s, want 5", snap.Premium)
	}
}

func TestCreatePositionHandlerRejectsBadInput(t *testing.T) {
	_, srv := newTestServer(t, testMarket(100, 100, 0.2), &stubExecutor{})

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing epic", map[string]any{"size": "1", "strike": "100"}},
		{"zero size", map[string]any{"epic": "X", "size": "0", "strike": "100"}},
		{"bad direction", map[string]any{"epic": "X", "size": "1", "strike": "100", "direction": "SHORT"}},
		{"negative tenor", map[string]any{"epic": "X", "size": "1", "strike": "100", "time_to_expiry": -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/positions", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestGetPositionHandlerNotFound(t *testing.T) {
	_, srv := newTestServer(t, testMarket(100, 100, 0.2), &stubExecutor{})

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/positions/NOPE", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHedgeHandlerEndToEnd(t *testing.T) {
	eng, srv := newTestServer(t, testMarket(109.99, 110.01, 0.2), &stubExecutor{})
	dealID := shortCall(t, eng)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/hedge/"+dealID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var res Result
	decodeBody(t, resp, &res)
	if res.Status != StatusHedged {
		t.Fatalf("result status = %q (%s), want %q", res.Status, res.Error, StatusHedged)
	}
	if res.Delta < 0.80 || res.Delta > 0.95 {
		t.Fatalf("delta = %v, want within [0.80, 0.95]", res.Delta)
	}
}

func TestHedgeHandlerUnknownPosition(t *testing.T) {
	_, srv := newTestServer(t, testMarket(100, 100, 0.2), &stubExecutor{})

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/hedge/NOPE", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHedgeHandlerMapsExecutionFailure(t *testing.T) {
	eng, srv := newTestServer(t, testMarket(109.99, 110.01, 0.2), &stubExecutor{openErr: broker.ErrExecutionFailed})
	dealID := shortCall(t, eng)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/hedge/"+dealID, nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}

	var res Result
	decodeBody(t, resp, &res)
	if res.Status != StatusError || res.Error == "" {
		t.Fatalf("result = %+v, want error status with message", res)
	}
}

func TestHedgeStatusHandler(t *testing.T) {
	eng, srv := newTestServer(t, testMarket(89.99, 90.01, 0.2), &stubExecutor{})
	dealID := shortCall(t, eng)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/hedge/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var entries map[string]HedgeStatusEntry
	decodeBody(t, resp, &entries)
	entry, ok := entries[dealID]
	if !ok {
		t.Fatalf("deal %s missing from status map", dealID)
	}
	if entry.NeedsHedge {
		t.Fatal("profitable position flagged as needing a hedge")
	}
	if !entry.IsActive {
		t.Fatal("position reported inactive")
	}
}

func TestSettingsHandlers(t *testing.T) {
	eng, srv := newTestServer(t, testMarket(100, 100, 0.2), &stubExecutor{})

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/settings", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", resp.StatusCode)
	}

	// max below min is rejected and nothing changes.
	resp = doJSON(t, http.MethodPut, srv.URL+"/api/v1/settings", map[string]any{
		"min_hedge_size":         5.0,
		"max_hedge_size":         1.0,
		"hedge_interval_seconds": 30.0,
		"delta_threshold":        0.1,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad put status = %d, want 400", resp.StatusCode)
	}
	if !eng.Settings().MinHedgeSize.Equal(DefaultSettings().MinHedgeSize) {
		t.Fatal("settings changed after rejected update")
	}

	resp = doJSON(t, http.MethodPut, srv.URL+"/api/v1/settings", map[string]any{
		"min_hedge_size":         0.5,
		"max_hedge_size":         50.0,
		"hedge_interval_seconds": 30.0,
		"delta_threshold":        0.1,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put status = %d, want 200", resp.StatusCode)
	}
	got := eng.Settings()
	if !got.MinHedgeSize.Equal(d(0.5)) || !got.MaxHedgeSize.Equal(d(50)) {
		t.Fatalf("settings not applied: %+v", got)
	}
}

func TestMonitorHandlers(t *testing.T) {
	_, srv := newTestServer(t, testMarket(100, 100, 0.2), &stubExecutor{})

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/monitor/start", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d, want 200", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/monitor", nil)
	var status MonitorStatusResponse
	decodeBody(t, resp, &status)
	if !status.Active {
		t.Fatal("monitor reported inactive after start")
	}
	if status.Policy != "pnl_hysteresis" {
		t.Fatalf("policy = %q, want pnl_hysteresis", status.Policy)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/v1/monitor/stop", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d, want 200", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/monitor", nil)
	decodeBody(t, resp, &status)
	if status.Active {
		t.Fatal("monitor reported active after stop")
	}
}

func TestSoldPositionsHandler(t *testing.T) {
	eng, srv := newTestServer(t, testMarket(89.99, 90.01, 0.2), &stubExecutor{})
	shortCall(t, eng)

	if _, err := eng.CreatePosition(context.Background(), model.Snapshot{
		DealID:       "DEAL-LONG",
		Epic:         "TEST.OPT.EPIC2",
		Strike:       d(100),
		OptionType:   "PUT",
		Direction:    "BUY",
		Size:         d(1),
		Premium:      d(5),
		TimeToExpiry: 0.25,
	}); err != nil {
		t.Fatalf("CreatePosition: %v", err)
	}

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/positions/sold", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var sold []PositionStatus
	decodeBody(t, resp, &sold)
	if len(sold) != 1 {
		t.Fatalf("sold positions = %d, want 1", len(sold))
	}
	if sold[0].Position.Direction != "SELL" {
		t.Fatalf("direction = %q, want SELL", sold[0].Position.Direction)
	}
}

func TestHistoryHandler(t *testing.T) {
	eng, srv := newTestServer(t, testMarket(109.99, 110.01, 0.2), &stubExecutor{})
	dealID := shortCall(t, eng)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/v1/positions/"+dealID+"/history", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var hist []model.HedgeRecord
	decodeBody(t, resp, &hist)
	if len(hist) != 0 {
		t.Fatalf("history = %d records before any hedge, want 0", len(hist))
	}

	if _, err := eng.Evaluate(context.Background(), dealID, EvalOptions{}); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/positions/"+dealID+"/history", nil)
	decodeBody(t, resp, &hist)
	if len(hist) != 1 {
		t.Fatalf("history = %d records after hedge, want 1", len(hist))
	}
}
