// Package exchange implements the REST and streaming clients for the
// trading venue.
//
// The REST client (Client) wraps these operations:
//   - PlaceOrder:     POST   /orders          — place one post-only limit order
//   - CancelOrder:    DELETE /orders/{id}     — cancel a single order
//   - CancelAll:      DELETE /orders          — emergency cancel everything
//   - GetActiveOrders: GET   /orders?status=active — authoritative open-order set
//   - GetBalances:    GET   /accounts         — authoritative balance set
//   - GetFills:       GET   /fills            — fill history poll, backup to the stream
//
// Every request is rate-limited via per-category TokenBuckets, automatically
// retried on 5xx errors, and signed with HMAC headers via Auth.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"ladder-mm/internal/config"
	"ladder-mm/pkg/types"
)

// Client is the exchange's REST API client: a resty HTTP client wrapped
// with rate limiting, retry, and HMAC signing.
type Client struct {
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	symbol string
	dryRun bool
	logger *slog.Logger
}

// NewClient creates a REST client with rate limiting and retry.
func NewClient(cfg config.Config, auth *Auth, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.API.RESTBaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(),
		symbol: cfg.Symbol,
		dryRun: cfg.DryRun,
		logger: logger,
	}
}

// placeOrderRequest is the wire shape of a single post-only limit order.
type placeOrderRequest struct {
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	Size        string `json:"size"`
	ClientOID   string `json:"clientOid"`
	Type        string `json:"type"`
	TimeInForce string `json:"timeInForce"`
	PostOnly    bool   `json:"postOnly"`
}

type placeOrderResponse struct {
	OrderID string `json:"orderId"`
}

// PlaceOrder places a single post-only GTC limit order.
func (c *Client) PlaceOrder(ctx context.Context, side types.Side, price, size decimal.Decimal, clientOID string) (string, error) {
	if c.dryRun {
		c.logger.Info("dry-run: would place order", "side", side, "price", price, "size", size, "client_oid", clientOID)
		return "dry-run-" + clientOID, nil
	}
	if err := c.rl.Place.Wait(ctx); err != nil {
		return "", err
	}

	req := placeOrderRequest{
		Symbol:      c.symbol,
		Side:        string(side),
		Price:       price.String(),
		Size:        size.String(),
		ClientOID:   clientOID,
		Type:        "limit",
		TimeInForce: "GTC",
		PostOnly:    true,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal order: %w", err)
	}
	headers, err := c.auth.RESTHeaders(http.MethodPost, "/api/v1/orders", string(body))
	if err != nil {
		return "", fmt.Errorf("sign request: %w", err)
	}

	var result placeOrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Post("/api/v1/orders")
	if err != nil {
		return "", fmt.Errorf("place order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("place order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return result.OrderID, nil
}

// CancelOrder cancels a single order by ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if c.dryRun {
		c.logger.Info("dry-run: would cancel order", "order_id", orderID)
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	path := "/api/v1/orders/" + orderID
	headers, err := c.auth.RESTHeaders(http.MethodDelete, path, "")
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		Delete(path)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusNotFound {
		return fmt.Errorf("cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// CancelAll cancels every open order for the configured symbol. Used at
// startup and shutdown as a safety net, and by the guard when it trips.
func (c *Client) CancelAll(ctx context.Context) error {
	if c.dryRun {
		c.logger.Info("dry-run: would cancel all orders")
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	path := "/api/v1/orders"
	headers, err := c.auth.RESTHeaders(http.MethodDelete, path+"?symbol="+c.symbol, "")
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParam("symbol", c.symbol).
		Delete(path)
	if err != nil {
		return fmt.Errorf("cancel all: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("cancel all: status %d: %s", resp.StatusCode(), resp.String())
	}
	c.logger.Warn("cancelled all orders", "symbol", c.symbol)
	return nil
}

type activeOrderWire struct {
	ID         string `json:"id"`
	ClientOID  string `json:"clientOid"`
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Price      string `json:"price"`
	Size       string `json:"size"`
	FilledSize string `json:"dealSize"`
	IsActive   bool   `json:"isActive"`
	CreatedAt  int64  `json:"createdAt"`
}

type activeOrdersResponse struct {
	Items []activeOrderWire `json:"items"`
}

// GetActiveOrders fetches the authoritative set of open orders for the
// configured symbol — the reconciler's truth source.
func (c *Client) GetActiveOrders(ctx context.Context) ([]types.ActiveOrder, error) {
	if err := c.rl.Fetch.Wait(ctx); err != nil {
		return nil, err
	}

	path := "/api/v1/orders"
	headers, err := c.auth.RESTHeaders(http.MethodGet, path+"?status=active&symbol="+c.symbol, "")
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	var result activeOrdersResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParams(map[string]string{"status": "active", "symbol": c.symbol}).
		SetResult(&result).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("get active orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get active orders: status %d: %s", resp.StatusCode(), resp.String())
	}

	out := make([]types.ActiveOrder, 0, len(result.Items))
	for _, it := range result.Items {
		price, _ := decimal.NewFromString(it.Price)
		size, _ := decimal.NewFromString(it.Size)
		filled, _ := decimal.NewFromString(it.FilledSize)
		status := types.OrderOpen
		if filled.IsPositive() && filled.LessThan(size) {
			status = types.OrderPartialFill
		}
		out = append(out, types.ActiveOrder{
			OrderID:    it.ID,
			ClientOID:  it.ClientOID,
			Symbol:     it.Symbol,
			Side:       types.Side(it.Side),
			Price:      price,
			Size:       size,
			FilledSize: filled,
			Status:     status,
			CreatedAt:  time.UnixMilli(it.CreatedAt),
		})
	}
	return out, nil
}

type accountWire struct {
	Currency  string `json:"currency"`
	Available string `json:"available"`
	Balance   string `json:"balance"`
}

type accountsResponse struct {
	Data []accountWire `json:"data"`
}

// GetBalances fetches trading-account balances for the symbol's base and
// quote currencies.
func (c *Client) GetBalances(ctx context.Context, baseCurrency, quoteCurrency string) (types.Balances, error) {
	if err := c.rl.Fetch.Wait(ctx); err != nil {
		return types.Balances{}, err
	}

	path := "/api/v1/accounts"
	headers, err := c.auth.RESTHeaders(http.MethodGet, path+"?type=trade", "")
	if err != nil {
		return types.Balances{}, fmt.Errorf("sign request: %w", err)
	}

	var result accountsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParam("type", "trade").
		SetResult(&result).
		Get(path)
	if err != nil {
		return types.Balances{}, fmt.Errorf("get balances: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.Balances{}, fmt.Errorf("get balances: status %d: %s", resp.StatusCode(), resp.String())
	}

	bal := types.Balances{AsOf: time.Now()}
	for _, a := range result.Data {
		avail, _ := decimal.NewFromString(a.Available)
		total, _ := decimal.NewFromString(a.Balance)
		switch a.Currency {
		case baseCurrency:
			bal.BaseAvailable = avail
			bal.BaseTotal = total
		case quoteCurrency:
			bal.QuoteAvailable = avail
			bal.QuoteTotal = total
		default:
			// other currencies on the account are not part of this pair
		}
	}
	return bal, nil
}

type fillWire struct {
	OrderID     string `json:"orderId"`
	TradeID     string `json:"tradeId"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	Size        string `json:"size"`
	Fee         string `json:"fee"`
	FeeCurrency string `json:"feeCurrency"`
	CreatedAt   int64  `json:"createdAt"`
}

type fillsResponse struct {
	Items []fillWire `json:"items"`
}

// GetFills polls the account's fill history for the configured symbol since
// the given time. This backs the periodic fills-poll task, a backup path
// for the streaming push channel — both feed the same pnl.Book, which
// deduplicates by TradeID.
func (c *Client) GetFills(ctx context.Context, since time.Time) ([]types.Fill, error) {
	if err := c.rl.Fetch.Wait(ctx); err != nil {
		return nil, err
	}

	path := "/api/v1/fills"
	query := fmt.Sprintf("symbol=%s&startAt=%d", c.symbol, since.UnixMilli())
	headers, err := c.auth.RESTHeaders(http.MethodGet, path+"?"+query, "")
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	var result fillsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParams(map[string]string{
			"symbol":  c.symbol,
			"startAt": fmt.Sprintf("%d", since.UnixMilli()),
		}).
		SetResult(&result).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("get fills: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get fills: status %d: %s", resp.StatusCode(), resp.String())
	}

	out := make([]types.Fill, 0, len(result.Items))
	for _, it := range result.Items {
		price, _ := decimal.NewFromString(it.Price)
		size, _ := decimal.NewFromString(it.Size)
		fee, _ := decimal.NewFromString(it.Fee)
		out = append(out, types.Fill{
			OrderID:     it.OrderID,
			TradeID:     it.TradeID,
			Side:        types.Side(it.Side),
			Price:       price,
			Size:        size,
			Fee:         fee,
			FeeCurrency: it.FeeCurrency,
			Timestamp:   time.UnixMilli(it.CreatedAt),
		})
	}
	return out, nil
}
