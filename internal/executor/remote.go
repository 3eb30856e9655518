package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tradegate/internal/pkg/circuit"
	"tradegate/internal/settlement"
	"tradegate/internal/types"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// Remote routes accepted trades to an external execution engine over REST.
// It also serves as the reconciler's profit source by querying the engine
// for the trade outcome.
type Remote struct {
	baseURL    *url.URL
	httpClient *http.Client
	apiToken   string
	breaker    *circuit.Breaker
}

// RemoteConfig describes how to reach the execution engine.
type RemoteConfig struct {
	APIURL         string
	APIToken       string
	TimeoutSeconds int
}

func NewRemote(cfg RemoteConfig) (*Remote, error) {
	raw := strings.TrimSpace(cfg.APIURL)
	if raw == "" {
		return nil, fmt.Errorf("executor.api_url cannot be empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse executor.api_url failed: %w", err)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Remote{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout},
		apiToken:   strings.TrimSpace(cfg.APIToken),
		breaker:    circuit.NewBreaker("remote-executor", 3, 30*time.Second),
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (r *Remote) SetHTTPClient(client *http.Client) {
	r.httpClient = client
}

// Execute posts the order and maps the engine's fill response to a Trade.
func (r *Remote) Execute(ctx context.Context, signal types.Signal, snapshot types.MarketSnapshot) (types.Trade, error) {
	if signal.Side == types.SideHold {
		return types.Trade{}, ErrHoldSignal
	}
	payload := map[string]any{
		"symbol":            signal.Symbol,
		"side":              string(signal.Side),
		"position_size_pct": signal.PositionSizePct,
		"price":             snapshot.Price,
	}
	var trade types.Trade
	err := r.breaker.Do(func() error {
		raw, err := r.post(ctx, "/orders", payload)
		if err != nil {
			return err
		}
		trade, err = parseFill(raw, signal, snapshot)
		return err
	})
	if err != nil {
		return types.Trade{}, fmt.Errorf("remote execute: %w", err)
	}
	return trade, nil
}

// parseFill tolerates schema drift across engine versions: quantity may be
// reported as amount or filled, and the fields may arrive as strings.
func parseFill(raw []byte, signal types.Signal, snapshot types.MarketSnapshot) (types.Trade, error) {
	body := gjson.ParseBytes(raw)
	if !body.Get("success").Bool() && body.Get("error").Exists() {
		return types.Trade{}, fmt.Errorf("engine rejected order: %s", body.Get("error").String())
	}
	tradeID := body.Get("trade_id").String()
	if tradeID == "" {
		tradeID = body.Get("id").String()
	}
	if tradeID == "" {
		return types.Trade{}, fmt.Errorf("engine response missing trade_id")
	}
	quantity := firstFloat(body, "quantity", "amount", "filled")
	price := firstFloat(body, "price", "fill_price")
	if price <= 0 {
		price = snapshot.Price
	}
	value := firstFloat(body, "value", "notional")
	if value <= 0 {
		value = quantity * price
	}
	ts := body.Get("timestamp").Int()
	executedAt := time.Now().UTC()
	if ts > 0 {
		executedAt = time.UnixMilli(ts).UTC()
	}
	return types.Trade{
		TradeID:   tradeID,
		Symbol:    signal.Symbol,
		Side:      signal.Side,
		Quantity:  quantity,
		Price:     price,
		Value:     value,
		Timestamp: executedAt,
	}, nil
}

// ProfitLoss implements settlement.ProfitSource against the engine's
// outcome endpoint.
func (r *Remote) ProfitLoss(ctx context.Context, trade types.Trade) (decimal.Decimal, error) {
	var pnl decimal.Decimal
	err := r.breaker.Do(func() error {
		raw, err := r.get(ctx, "/orders/"+url.PathEscape(trade.TradeID)+"/outcome")
		if err != nil {
			return err
		}
		body := gjson.ParseBytes(raw)
		if body.Get("status").String() == "UNKNOWN" {
			return fmt.Errorf("%w: %s", settlement.ErrTradeUnknown, trade.TradeID)
		}
		field := body.Get("profit_loss")
		if !field.Exists() {
			return fmt.Errorf("engine outcome missing profit_loss for %s", trade.TradeID)
		}
		pnl = decimal.NewFromFloat(field.Float())
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return pnl, nil
}

func firstFloat(body gjson.Result, keys ...string) float64 {
	for _, key := range keys {
		if v := body.Get(key); v.Exists() {
			return v.Float()
		}
	}
	return 0
}

func (r *Remote) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return r.do(ctx, http.MethodPost, path, bytes.NewReader(body))
}

func (r *Remote) get(ctx context.Context, path string) ([]byte, error) {
	return r.do(ctx, http.MethodGet, path, nil)
}

func (r *Remote) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	endpoint := *r.baseURL
	endpoint.Path = strings.TrimRight(endpoint.Path, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiToken)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("engine %s %s: status=%d body=%s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}
