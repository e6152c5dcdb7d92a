// orderstream.go implements the duplex private streaming client used to
// place/cancel orders and receive order-lifecycle and fill push events.
//
// Every outbound place/cancel request carries a generated id; replies are
// correlated back to the waiting caller via a mutex-protected pending map
// from id to a one-shot reply channel — the Go analogue of a oneshot
// sender. The connection auto-reconnects with exponential backoff (1s to
// 30s) and re-sends the auth handshake on each reconnect; a ping is sent
// every 2s and a missing pong for three consecutive intervals forces a
// reconnect.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"ladder-mm/pkg/types"
)

const (
	osPingInterval     = 2 * time.Second
	osPongTimeout      = 3 * osPingInterval
	osMaxReconnectWait = 30 * time.Second
	osWriteTimeout     = 10 * time.Second
	osRequestTimeout   = 5 * time.Second
	osEventBufferSize  = 128
)

// OrderPlacement is the request payload for a new post-only limit order.
type OrderPlacement struct {
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	Size        string `json:"size"`
	ClientOID   string `json:"clientOid"`
	Type        string `json:"type"`
	TimeInForce string `json:"timeInForce"`
	PostOnly    bool   `json:"postOnly"`
}

// OrderReply is the correlated response to a place or cancel request.
type OrderReply struct {
	ID      string `json:"id"`
	OrderID string `json:"orderId,omitempty"`
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"msg,omitempty"`
}

// LatencyStats tracks round-trip time for one request-id bucket
// (place_*/cancel_*), used for operator tracing.
type LatencyStats struct {
	mu       sync.Mutex
	count    uint64
	totalUs  int64
	minUs    int64
	maxUs    int64
	lastUs   int64
}

func (l *LatencyStats) record(d time.Duration) {
	us := d.Microseconds()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count++
	l.totalUs += us
	l.lastUs = us
	if l.minUs == 0 || us < l.minUs {
		l.minUs = us
	}
	if us > l.maxUs {
		l.maxUs = us
	}
}

// AvgUs returns the mean recorded latency in microseconds.
func (l *LatencyStats) AvgUs() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count == 0 {
		return 0
	}
	return float64(l.totalUs) / float64(l.count)
}

// ReconnectStats counts connection churn for operator tracing.
type ReconnectStats struct {
	mu               sync.Mutex
	totalConnects    uint64
	totalDisconnects uint64
	consecutiveFails int
}

func (r *ReconnectStats) recordConnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.totalConnects++
	r.consecutiveFails = 0
}

func (r *ReconnectStats) recordDisconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.totalDisconnects++
	r.consecutiveFails++
}

type pendingRequest struct {
	reply  chan OrderReply
	sentAt time.Time
	prefix string
}

// OrderStream is the duplex private streaming client.
type OrderStream struct {
	url    string
	auth   *Auth
	symbol string
	logger *slog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn

	pendingMu sync.Mutex
	pending   map[string]*pendingRequest

	nextID atomic.Int64

	lastPong atomic.Int64 // unix nano, updated on any inbound traffic

	orderEventCh chan types.ActiveOrder
	fillCh       chan types.Fill

	placeLatency  LatencyStats
	cancelLatency LatencyStats
	reconnects    ReconnectStats
}

// NewOrderStream creates a streaming client for the given symbol.
func NewOrderStream(wsURL string, auth *Auth, symbol string, logger *slog.Logger) *OrderStream {
	return &OrderStream{
		url:          wsURL,
		auth:         auth,
		symbol:       symbol,
		logger:       logger.With("component", "order_stream"),
		pending:      make(map[string]*pendingRequest),
		orderEventCh: make(chan types.ActiveOrder, osEventBufferSize),
		fillCh:       make(chan types.Fill, osEventBufferSize),
	}
}

// OrderEvents returns a read-only channel of pushed order-lifecycle updates.
func (s *OrderStream) OrderEvents() <-chan types.ActiveOrder { return s.orderEventCh }

// Fills returns a read-only channel of pushed fill reports.
func (s *OrderStream) Fills() <-chan types.Fill { return s.fillCh }

// Run connects and maintains the connection with auto-reconnect. Blocks
// until ctx is cancelled.
func (s *OrderStream) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.reconnects.recordDisconnect()
		s.failAllPending(fmt.Errorf("connection lost: %w", err))
		s.logger.Warn("order stream disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > osMaxReconnectWait {
			backoff = osMaxReconnectWait
		}
	}
}

func (s *OrderStream) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	defer func() {
		s.connMu.Lock()
		conn.Close()
		s.conn = nil
		s.connMu.Unlock()
	}()

	if err := s.handshake(); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	s.reconnects.recordConnect()
	s.lastPong.Store(time.Now().UnixNano())
	s.logger.Info("order stream connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go s.pingLoop(pingCtx)
	go s.pongWatchdog(pingCtx, conn)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		s.lastPong.Store(time.Now().UnixNano())
		s.dispatch(msg)
	}
}

func (s *OrderStream) handshake() error {
	ts, sig, pass, err := s.auth.StreamHandshake()
	if err != nil {
		return err
	}
	msg := map[string]string{
		"type":       "auth",
		"apiKey":     s.auth.ApiKey(),
		"timestamp":  ts,
		"signature":  sig,
		"passphrase": pass,
	}
	if err := s.writeJSON(msg); err != nil {
		return err
	}
	sub := map[string]interface{}{
		"type":   "subscribe",
		"topic":  "/spot/tradeOrders",
		"symbol": s.symbol,
	}
	return s.writeJSON(sub)
}

func (s *OrderStream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(osPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.writeJSON(map[string]string{"type": "ping"}); err != nil {
				s.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (s *OrderStream) pongWatchdog(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(osPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := time.Unix(0, s.lastPong.Load())
			if time.Since(last) > osPongTimeout {
				s.logger.Warn("no traffic within pong timeout, forcing reconnect")
				conn.Close()
				return
			}
		}
	}
}

// PlaceOrder sends a place request and blocks for the correlated reply or
// ctx/timeout.
func (s *OrderStream) PlaceOrder(ctx context.Context, side types.Side, price, size string, clientOID string) (OrderReply, error) {
	id := "place_" + strconv.FormatInt(s.nextID.Add(1), 10)
	req := map[string]interface{}{
		"type":        "order",
		"id":          id,
		"symbol":      s.symbol,
		"side":        string(side),
		"price":       price,
		"size":        size,
		"clientOid":   clientOID,
		"orderType":   "limit",
		"timeInForce": "GTC",
		"postOnly":    true,
	}
	return s.request(ctx, id, req, &s.placeLatency)
}

// CancelOrder sends a cancel request and blocks for the correlated reply.
func (s *OrderStream) CancelOrder(ctx context.Context, orderID string) (OrderReply, error) {
	id := "cancel_" + strconv.FormatInt(s.nextID.Add(1), 10)
	req := map[string]interface{}{
		"type":    "cancelOrder",
		"id":      id,
		"orderId": orderID,
	}
	return s.request(ctx, id, req, &s.cancelLatency)
}

func (s *OrderStream) request(ctx context.Context, id string, payload map[string]interface{}, stats *LatencyStats) (OrderReply, error) {
	pr := &pendingRequest{reply: make(chan OrderReply, 1), sentAt: time.Now()}
	s.pendingMu.Lock()
	s.pending[id] = pr
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	if err := s.writeJSON(payload); err != nil {
		return OrderReply{}, fmt.Errorf("send %s: %w", id, err)
	}

	timeout := time.NewTimer(osRequestTimeout)
	defer timeout.Stop()

	select {
	case rep := <-pr.reply:
		stats.record(time.Since(pr.sentAt))
		return rep, nil
	case <-timeout.C:
		return OrderReply{}, fmt.Errorf("request %s timed out after %s", id, osRequestTimeout)
	case <-ctx.Done():
		return OrderReply{}, ctx.Err()
	}
}

func (s *OrderStream) failAllPending(err error) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for id, pr := range s.pending {
		select {
		case pr.reply <- OrderReply{ID: id, Success: false, Message: err.Error()}:
		default:
		}
	}
}

type envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Topic   string          `json:"topic"`
	RawData json.RawMessage `json:"data"`
}

func (s *OrderStream) dispatch(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Debug("ignoring non-json stream message", "data", string(data))
		return
	}

	if env.ID != "" {
		var rep OrderReply
		if err := json.Unmarshal(data, &rep); err == nil {
			rep.ID = env.ID
			s.pendingMu.Lock()
			pr, ok := s.pending[env.ID]
			s.pendingMu.Unlock()
			if ok {
				select {
				case pr.reply <- rep:
				default:
				}
				return
			}
		}
	}

	switch env.Type {
	case "pong":
		// handled via lastPong timestamp in the read loop
	case "message":
		s.dispatchPush(env.Topic, env.RawData)
	default:
		s.logger.Debug("unhandled stream message", "type", env.Type)
	}
}

func (s *OrderStream) dispatchPush(topic string, raw json.RawMessage) {
	switch topic {
	case "/spot/tradeOrders":
		var wire struct {
			OrderID    string `json:"orderId"`
			ClientOID  string `json:"clientOid"`
			Symbol     string `json:"symbol"`
			Side       string `json:"side"`
			Price      string `json:"price"`
			Size       string `json:"size"`
			FilledSize string `json:"filledSize"`
			Status     string `json:"status"`
			Ts         int64  `json:"ts"`
		}
		if err := json.Unmarshal(raw, &wire); err != nil {
			s.logger.Error("unmarshal order push", "error", err)
			return
		}
		evt := types.ActiveOrder{
			OrderID:   wire.OrderID,
			ClientOID: wire.ClientOID,
			Symbol:    wire.Symbol,
			Side:      types.Side(wire.Side),
			Status:    mapPushStatus(wire.Status),
			CreatedAt: time.Unix(0, wire.Ts*int64(time.Millisecond)),
		}
		select {
		case s.orderEventCh <- evt:
		default:
			s.logger.Warn("order event channel full, dropping event", "order_id", evt.OrderID)
		}
	case "/spot/fills", "/spot/matches":
		var wire struct {
			OrderID     string `json:"orderId"`
			TradeID     string `json:"tradeId"`
			Side        string `json:"side"`
			Price       string `json:"price"`
			Size        string `json:"size"`
			Fee         string `json:"fee"`
			FeeCurrency string `json:"feeCurrency"`
			Ts          int64  `json:"ts"`
		}
		if err := json.Unmarshal(raw, &wire); err != nil {
			s.logger.Error("unmarshal fill push", "error", err)
			return
		}
		fill, err := decodeFill(wire.OrderID, wire.TradeID, wire.Side, wire.Price, wire.Size, wire.Fee, wire.FeeCurrency, wire.Ts)
		if err != nil {
			s.logger.Error("decode fill", "error", err)
			return
		}
		select {
		case s.fillCh <- fill:
		default:
			s.logger.Warn("fill channel full, dropping event", "order_id", wire.OrderID)
		}
	default:
		s.logger.Debug("unhandled push topic", "topic", topic)
	}
}

func decodeFill(orderID, tradeID, side, price, size, fee, feeCurrency string, tsMs int64) (types.Fill, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return types.Fill{}, fmt.Errorf("price: %w", err)
	}
	sz, err := decimal.NewFromString(size)
	if err != nil {
		return types.Fill{}, fmt.Errorf("size: %w", err)
	}
	f := decimal.Zero
	if fee != "" {
		f, err = decimal.NewFromString(fee)
		if err != nil {
			return types.Fill{}, fmt.Errorf("fee: %w", err)
		}
	}
	return types.Fill{
		OrderID:     orderID,
		TradeID:     tradeID,
		Side:        types.Side(side),
		Price:       p,
		Size:        sz,
		Fee:         f,
		FeeCurrency: feeCurrency,
		Timestamp:   time.Unix(0, tsMs*int64(time.Millisecond)),
	}, nil
}

func mapPushStatus(status string) types.OrderStatus {
	switch status {
	case "open", "new":
		return types.OrderOpen
	case "match":
		return types.OrderPartialFill
	case "done", "filled":
		return types.OrderFilled
	case "canceled", "cancelled":
		return types.OrderCancelled
	default:
		return types.OrderUnknown
	}
}

func (s *OrderStream) writeJSON(v interface{}) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("order stream not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(osWriteTimeout))
	return s.conn.WriteJSON(v)
}
