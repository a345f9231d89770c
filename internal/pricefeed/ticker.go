package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	tickerWSURL    = "wss://fstream.binance.com/ws"
	tickerRestURL  = "https://fapi.binance.com"
	pingInterval   = 30 * time.Second
	reconnectDelay = 5 * time.Second
	quoteTTL       = 5 * time.Second
)

// Compile-time interface check.
var _ Feed = (*TickerFeed)(nil)

// TickerFeed is the live price feed. It keeps a websocket book-ticker
// stream open for subscribed symbols, caches the latest quote in memory,
// mirrors it into redis with a short TTL, and fetches OHLCV windows over
// REST on demand.
type TickerFeed struct {
	wsURL   string
	restURL string
	redis   *redis.Client
	logger  *zap.Logger
	http    *http.Client

	conn        *websocket.Conn
	connMux     sync.Mutex
	isConnected bool

	quotes    map[string]Quote
	quotesMux sync.RWMutex

	subscribed    map[string]bool
	subscribedMux sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTickerFeed creates a live feed. The redis client is optional; when
// present every quote is mirrored for other processes to read.
func NewTickerFeed(rdb *redis.Client, logger *zap.Logger) *TickerFeed {
	return &TickerFeed{
		wsURL:      tickerWSURL,
		restURL:    tickerRestURL,
		redis:      rdb,
		logger:     logger,
		http:       &http.Client{Timeout: 10 * time.Second},
		quotes:     make(map[string]Quote),
		subscribed: make(map[string]bool),
	}
}

// Connect opens the websocket stream and starts the read and ping loops.
func (f *TickerFeed) Connect(ctx context.Context) error {
	f.ctx, f.cancel = context.WithCancel(ctx)

	if err := f.connect(); err != nil {
		return err
	}

	f.wg.Add(2)
	go f.messageLoop()
	go f.pingLoop()
	return nil
}

func (f *TickerFeed) connect() error {
	f.connMux.Lock()
	defer f.connMux.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("ticker feed connect: %w", err)
	}
	f.conn = conn
	f.isConnected = true
	f.logger.Info("ticker feed connected", zap.String("url", f.wsURL))

	f.subscribedMux.Lock()
	symbols := make([]string, 0, len(f.subscribed))
	for symbol := range f.subscribed {
		symbols = append(symbols, symbol)
	}
	f.subscribedMux.Unlock()

	if len(symbols) > 0 {
		return f.sendSubscribe(symbols)
	}
	return nil
}

// Subscribe starts streaming quotes for the given symbols.
func (f *TickerFeed) Subscribe(symbols []string) error {
	f.subscribedMux.Lock()
	var fresh []string
	for _, symbol := range symbols {
		upper := strings.ToUpper(symbol)
		if !f.subscribed[upper] {
			f.subscribed[upper] = true
			fresh = append(fresh, upper)
		}
	}
	f.subscribedMux.Unlock()

	if len(fresh) == 0 {
		return nil
	}
	return f.sendSubscribe(fresh)
}

func (f *TickerFeed) sendSubscribe(symbols []string) error {
	streams := make([]string, len(symbols))
	for i, symbol := range symbols {
		streams[i] = strings.ToLower(symbol) + "@bookTicker"
	}

	f.connMux.Lock()
	defer f.connMux.Unlock()
	if !f.isConnected {
		return fmt.Errorf("ticker feed not connected")
	}
	return f.conn.WriteJSON(map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": streams,
		"id":     time.Now().UnixNano(),
	})
}

// bookTickerMessage is the payload of a @bookTicker stream event.
type bookTickerMessage struct {
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	AskPrice string `json:"a"`
	Time     int64  `json:"E"`
}

func (f *TickerFeed) messageLoop() {
	defer f.wg.Done()

	for {
		select {
		case <-f.ctx.Done():
			return
		default:
		}

		f.connMux.Lock()
		conn := f.conn
		f.connMux.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if f.ctx.Err() != nil {
				return
			}
			f.logger.Warn("ticker feed read failed, reconnecting", zap.Error(err))
			f.reconnect()
			continue
		}

		var msg bookTickerMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Symbol == "" {
			continue
		}

		bid, _ := strconv.ParseFloat(msg.BidPrice, 64)
		ask, _ := strconv.ParseFloat(msg.AskPrice, 64)
		quote := Quote{
			Symbol:    msg.Symbol,
			Bid:       bid,
			Ask:       ask,
			Last:      (bid + ask) / 2,
			Timestamp: time.UnixMilli(msg.Time),
		}
		f.storeQuote(quote)
	}
}

func (f *TickerFeed) pingLoop() {
	defer f.wg.Done()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.connMux.Lock()
			if f.conn != nil {
				_ = f.conn.WriteMessage(websocket.PingMessage, nil)
			}
			f.connMux.Unlock()
		case <-f.ctx.Done():
			return
		}
	}
}

func (f *TickerFeed) reconnect() {
	f.connMux.Lock()
	f.isConnected = false
	if f.conn != nil {
		_ = f.conn.Close()
		f.conn = nil
	}
	f.connMux.Unlock()

	select {
	case <-time.After(reconnectDelay):
	case <-f.ctx.Done():
		return
	}
	if err := f.connect(); err != nil {
		f.logger.Error("ticker feed reconnect failed", zap.Error(err))
	}
}

func (f *TickerFeed) storeQuote(quote Quote) {
	f.quotesMux.Lock()
	f.quotes[quote.Symbol] = quote
	f.quotesMux.Unlock()

	if f.redis == nil {
		return
	}
	key := "quote:" + quote.Symbol
	f.redis.HSet(f.ctx, key, map[string]interface{}{
		"bid":       quote.Bid,
		"ask":       quote.Ask,
		"last":      quote.Last,
		"timestamp": quote.Timestamp.UnixMilli(),
	})
	f.redis.Expire(f.ctx, key, quoteTTL)
	f.redis.Publish(f.ctx, "quote_updates", fmt.Sprintf("%s:%.8f", quote.Symbol, quote.Last))
}

// GetLatest returns the cached quote, falling back to redis when another
// process owns the stream.
func (f *TickerFeed) GetLatest(ctx context.Context, symbol string) (*Quote, error) {
	symbol = strings.ToUpper(symbol)

	f.quotesMux.RLock()
	quote, ok := f.quotes[symbol]
	f.quotesMux.RUnlock()
	if ok {
		return &quote, nil
	}

	if f.redis != nil {
		fields, err := f.redis.HGetAll(ctx, "quote:"+symbol).Result()
		if err == nil && len(fields) > 0 {
			bid, _ := strconv.ParseFloat(fields["bid"], 64)
			ask, _ := strconv.ParseFloat(fields["ask"], 64)
			last, _ := strconv.ParseFloat(fields["last"], 64)
			ms, _ := strconv.ParseInt(fields["timestamp"], 10, 64)
			return &Quote{Symbol: symbol, Bid: bid, Ask: ask, Last: last, Timestamp: time.UnixMilli(ms)}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoData, symbol)
}

// GetOHLCVWindow fetches bars over REST (GET /fapi/v1/klines).
func (f *TickerFeed) GetOHLCVWindow(ctx context.Context, symbol, timeFrame string, end time.Time, size int) ([]Candle, error) {
	url := fmt.Sprintf("%s/fapi/v1/klines?symbol=%s&interval=%s&endTime=%d&limit=%d",
		f.restURL, strings.ToUpper(symbol), timeFrame, end.UnixMilli(), size)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNoData, symbol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s: http %d", ErrNoData, symbol, resp.StatusCode)
	}

	// Kline rows are positional arrays: openTime, open, high, low,
	// close, volume, ...
	var rows [][]interface{}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		openTime, _ := row[0].(float64)
		candles = append(candles, Candle{
			Datetime: time.UnixMilli(int64(openTime)),
			Open:     parseKlineField(row[1]),
			High:     parseKlineField(row[2]),
			Low:      parseKlineField(row[3]),
			Close:    parseKlineField(row[4]),
			Volume:   parseKlineField(row[5]),
		})
	}
	return candles, nil
}

// Close tears down the stream.
func (f *TickerFeed) Close() {
	if f.cancel != nil {
		f.cancel()
	}
	f.connMux.Lock()
	if f.conn != nil {
		_ = f.conn.Close()
		f.conn = nil
	}
	f.isConnected = false
	f.connMux.Unlock()
	f.wg.Wait()
}

func parseKlineField(v interface{}) float64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	out, _ := strconv.ParseFloat(s, 64)
	return out
}
