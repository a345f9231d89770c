// Package binance implements the exchange.Gateway interface against the
// Binance USD-M futures REST API.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tradecore/internal/exchange"
	"github.com/tradecore/internal/models"
	"go.uber.org/zap"
)

const (
	defaultRestURL = "https://fapi.binance.com"
	requestTimeout = 10 * time.Second
	recvWindow     = 5000
)

// Compile-time interface check.
var _ exchange.Gateway = (*Client)(nil)

// Client is a Binance futures REST gateway.
type Client struct {
	restURL   string
	apiKey    string
	apiSecret string
	http      *http.Client
	logger    *zap.Logger
}

// NewClient creates a Binance gateway with the given credentials.
func NewClient(apiKey, apiSecret string, logger *zap.Logger) *Client {
	return &Client{
		restURL:   defaultRestURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		http:      &http.Client{Timeout: requestTimeout},
		logger:    logger,
	}
}

// SetBaseURL overrides the REST endpoint. Used against testnets and in
// tests with an httptest server.
func (c *Client) SetBaseURL(base string) {
	c.restURL = strings.TrimRight(base, "/")
}

// Name returns the venue identifier.
func (c *Client) Name() string {
	return "binance"
}

// orderResponse mirrors the /fapi/v1/order payload.
type orderResponse struct {
	OrderID       int64  `json:"orderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	ClientOrderID string `json:"clientOrderId"`
	Price         string `json:"price"`
	AvgPrice      string `json:"avgPrice"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Type          string `json:"type"`
	Side          string `json:"side"`
	UpdateTime    int64  `json:"updateTime"`
	Time          int64  `json:"time"`
}

// balanceResponse mirrors one element of /fapi/v2/balance.
type balanceResponse struct {
	Asset            string `json:"asset"`
	Balance          string `json:"balance"`
	AvailableBalance string `json:"availableBalance"`
}

// errorResponse mirrors the venue error envelope.
type errorResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// PlaceOrder submits the order via POST /fapi/v1/order.
func (c *Client) PlaceOrder(ctx context.Context, req exchange.PlaceOrderRequest) (*exchange.OrderSnapshot, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Type))
	params.Set("quantity", formatFloat(req.Amount))
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}
	if req.Type == models.OrderTypeLimit {
		params.Set("price", formatFloat(req.Price))
		params.Set("timeInForce", "GTC")
	}

	var resp orderResponse
	if err := c.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", params, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", exchange.ErrPlacementFailed, err)
	}
	return snapshotFromOrder(&resp), nil
}

// CancelOrder cancels via DELETE /fapi/v1/order.
func (c *Client) CancelOrder(ctx context.Context, externalID, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", externalID)

	var resp orderResponse
	if err := c.signedRequest(ctx, http.MethodDelete, "/fapi/v1/order", params, &resp); err != nil {
		return fmt.Errorf("cancel order %s: %w", externalID, err)
	}
	return nil
}

// GetOrder queries via GET /fapi/v1/order.
func (c *Client) GetOrder(ctx context.Context, externalID, symbol string) (*exchange.OrderSnapshot, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", externalID)

	var resp orderResponse
	if err := c.signedRequest(ctx, http.MethodGet, "/fapi/v1/order", params, &resp); err != nil {
		return nil, err
	}
	return snapshotFromOrder(&resp), nil
}

// GetBalance queries via GET /fapi/v2/balance.
func (c *Client) GetBalance(ctx context.Context) (map[string]exchange.Balance, error) {
	var resp []balanceResponse
	if err := c.signedRequest(ctx, http.MethodGet, "/fapi/v2/balance", url.Values{}, &resp); err != nil {
		return nil, err
	}

	balances := make(map[string]exchange.Balance, len(resp))
	for _, b := range resp {
		total := parseFloat(b.Balance)
		free := parseFloat(b.AvailableBalance)
		balances[b.Asset] = exchange.Balance{Free: free, Used: total - free}
	}
	return balances, nil
}

// signedRequest signs the query with HMAC-SHA256 and decodes the JSON
// response into out.
func (c *Client) signedRequest(ctx context.Context, method, path string, params url.Values, out interface{}) error {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.Itoa(recvWindow))

	query := params.Encode()
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(query))
	query += "&signature=" + hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequestWithContext(ctx, method, c.restURL+path+"?"+query, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		var venueErr errorResponse
		if json.Unmarshal(body, &venueErr) == nil && venueErr.Msg != "" {
			if venueErr.Code == -2013 {
				return exchange.ErrOrderNotFound
			}
			return fmt.Errorf("binance: %d %s", venueErr.Code, venueErr.Msg)
		}
		return fmt.Errorf("binance: http %d", resp.StatusCode)
	}

	return json.Unmarshal(body, out)
}

func snapshotFromOrder(resp *orderResponse) *exchange.OrderSnapshot {
	amount := parseFloat(resp.OrigQty)
	filled := parseFloat(resp.ExecutedQty)
	price := parseFloat(resp.Price)
	if avg := parseFloat(resp.AvgPrice); avg > 0 {
		price = avg
	}

	createdAt := time.UnixMilli(resp.Time)
	if resp.Time == 0 {
		createdAt = time.UnixMilli(resp.UpdateTime)
	}

	return &exchange.OrderSnapshot{
		ExternalID: strconv.FormatInt(resp.OrderID, 10),
		Symbol:     resp.Symbol,
		Status:     mapStatus(resp.Status),
		Price:      price,
		Amount:     amount,
		Filled:     filled,
		Remaining:  amount - filled,
		CreatedAt:  createdAt,
	}
}

// mapStatus translates venue statuses into ledger statuses.
func mapStatus(status string) models.OrderStatus {
	switch status {
	case "NEW", "PARTIALLY_FILLED":
		return models.OrderStatusOpen
	case "FILLED":
		return models.OrderStatusClosed
	case "CANCELED", "PENDING_CANCEL":
		return models.OrderStatusCanceled
	case "EXPIRED":
		return models.OrderStatusExpired
	case "REJECTED":
		return models.OrderStatusRejected
	default:
		return models.OrderStatusOpen
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
