// Package oanda is a broker.Gateway backed by the OANDA v20 REST API.
package oanda

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/riskexec/broker"
	"github.com/rustyeddy/riskexec/market"
)

const (
	// PracticeURL is the URL for OANDA's practice/demo environment
	PracticeURL = "https://api-fxpractice.oanda.com"
	// LiveURL is the URL for OANDA's live trading environment
	LiveURL = "https://api-fxtrade.oanda.com"
)

// Client talks to one OANDA account.
type Client struct {
	baseURL    string
	token      string
	accountID  string
	httpClient *http.Client
}

// NewClient creates a new OANDA API client
func NewClient(token, accountID string, practice bool) *Client {
	baseURL := LiveURL
	if practice {
		baseURL = PracticeURL
	}

	return &Client{
		baseURL:   baseURL,
		token:     token,
		accountID: accountID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError is the error body OANDA returns on 4xx.
type apiError struct {
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`

	OrderRejectTransaction *struct {
		RejectReason string `json:"rejectReason"`
	} `json:"orderRejectTransaction"`
}

func (c *Client) accountPath(format string, args ...any) string {
	return "/v3/accounts/" + url.PathEscape(c.accountID) + fmt.Sprintf(format, args...)
}

// do sends a JSON request and decodes a 2xx body into out. Failures are
// mapped onto the broker error set.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept-Datetime-Format", "RFC3339")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return statusError(resp.StatusCode, raw)
}

func transportError(err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %v", broker.ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", broker.ErrUnavailable, err)
}

func statusError(code int, raw []byte) error {
	var ae apiError
	_ = json.Unmarshal(raw, &ae)
	msg := ae.ErrorMessage
	if msg == "" {
		msg = string(raw)
	}

	switch {
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", broker.ErrRateLimited, msg)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: %s", broker.ErrAuthExpired, msg)
	case code == http.StatusNotFound && ae.OrderRejectTransaction == nil:
		return fmt.Errorf("%w: %s", broker.ErrNotFound, msg)
	case code >= 500:
		return fmt.Errorf("%w: API error (status %d): %s", broker.ErrUnavailable, code, msg)
	}

	reason := msg
	if ae.OrderRejectTransaction != nil && ae.OrderRejectTransaction.RejectReason != "" {
		reason = ae.OrderRejectTransaction.RejectReason
	}
	return broker.Rejected(reason)
}

// Instrument names use OANDA's underscore form, e.g. EUR_USD.

type clientExtensions struct {
	ID string `json:"id,omitempty"`
}

type orderSpec struct {
	Type             string            `json:"type"`
	Instrument       string            `json:"instrument"`
	Units            string            `json:"units"`
	Price            string            `json:"price,omitempty"`
	TimeInForce      string            `json:"timeInForce"`
	PositionFill     string            `json:"positionFill"`
	ClientExtensions *clientExtensions `json:"clientExtensions,omitempty"`
}

type orderCreateResponse struct {
	OrderCreateTransaction struct {
		ID string `json:"id"`
	} `json:"orderCreateTransaction"`
	OrderFillTransaction *struct {
		ID string `json:"id"`
	} `json:"orderFillTransaction"`
	OrderCancelTransaction *struct {
		Reason string `json:"reason"`
	} `json:"orderCancelTransaction"`
}

// SubmitOrder places a LIMIT order, or a MARKET order when the limit price is
// zero. The client order ID travels as the order's client extension so the
// order can be found again if the response is lost.
func (c *Client) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.Ack, error) {
	if req.Quantity <= 0 {
		return broker.Ack{}, broker.Rejected("quantity must be positive")
	}

	units := req.Quantity * req.Side.Sign()
	spec := orderSpec{
		Type:         "MARKET",
		Instrument:   req.Symbol,
		Units:        strconv.FormatInt(units, 10),
		TimeInForce:  "FOK",
		PositionFill: "DEFAULT",
	}
	if !req.LimitPrice.IsZero() {
		spec.Type = "LIMIT"
		spec.Price = req.LimitPrice.String()
		spec.TimeInForce = "GTC"
	}
	if req.ClientOrderID != "" {
		spec.ClientExtensions = &clientExtensions{ID: req.ClientOrderID}
	}

	var resp orderCreateResponse
	err := c.do(ctx, http.MethodPost, c.accountPath("/orders"), map[string]any{"order": spec}, &resp)
	if err != nil {
		return broker.Ack{}, err
	}

	ack := broker.Ack{BrokerOrderID: resp.OrderCreateTransaction.ID, State: broker.StateAccepted}
	switch {
	case resp.OrderFillTransaction != nil:
		ack.State = broker.StateFilled
	case resp.OrderCancelTransaction != nil:
		return ack, broker.Rejected(resp.OrderCancelTransaction.Reason)
	}
	return ack, nil
}

type apiOrder struct {
	ID                   string            `json:"id"`
	State                string            `json:"state"`
	Units                string            `json:"units"`
	FillingTransactionID string            `json:"fillingTransactionID"`
	ClientExtensions     *clientExtensions `json:"clientExtensions"`
}

type orderResponse struct {
	Order apiOrder `json:"order"`
}

type transactionResponse struct {
	Transaction struct {
		ID    string `json:"id"`
		Price string `json:"price"`
		Units string `json:"units"`
	} `json:"transaction"`
}

func (c *Client) getOrder(ctx context.Context, specifier string) (apiOrder, error) {
	var resp orderResponse
	if err := c.do(ctx, http.MethodGet, c.accountPath("/orders/%s", url.PathEscape(specifier)), nil, &resp); err != nil {
		return apiOrder{}, err
	}
	return resp.Order, nil
}

func mapState(s string) broker.State {
	switch s {
	case "FILLED":
		return broker.StateFilled
	case "CANCELLED":
		return broker.StateCancelled
	default:
		// PENDING and TRIGGERED are live at the broker
		return broker.StateAccepted
	}
}

// GetOrderStatus reads the order and, once filled, the fill transaction for
// the average price. OANDA fills orders in full, so there is no partial
// state.
func (c *Client) GetOrderStatus(ctx context.Context, brokerOrderID string) (broker.OrderStatus, error) {
	o, err := c.getOrder(ctx, brokerOrderID)
	if err != nil {
		return broker.OrderStatus{}, err
	}

	st := broker.OrderStatus{BrokerOrderID: o.ID, State: mapState(o.State)}
	if st.State != broker.StateFilled {
		return st, nil
	}
	// A fill without its transaction cannot be booked; ask again later.
	if o.FillingTransactionID == "" {
		return broker.OrderStatus{}, fmt.Errorf("%w: order %s filled without a fill transaction", broker.ErrUnavailable, o.ID)
	}

	var tx transactionResponse
	if err := c.do(ctx, http.MethodGet, c.accountPath("/transactions/%s", url.PathEscape(o.FillingTransactionID)), nil, &tx); err != nil {
		return broker.OrderStatus{}, err
	}
	price, err := decimal.NewFromString(tx.Transaction.Price)
	if err != nil {
		return broker.OrderStatus{}, fmt.Errorf("parse fill price %q: %w", tx.Transaction.Price, err)
	}
	units, err := strconv.ParseInt(tx.Transaction.Units, 10, 64)
	if err != nil {
		return broker.OrderStatus{}, fmt.Errorf("parse fill units %q: %w", tx.Transaction.Units, err)
	}
	if units < 0 {
		units = -units
	}
	if units == 0 {
		return broker.OrderStatus{}, fmt.Errorf("%w: fill transaction %s has no units", broker.ErrUnavailable, tx.Transaction.ID)
	}
	st.FilledQuantity = units
	st.AvgFillPrice = price
	return st, nil
}

// LookupOrder finds an order by its client extension ID.
func (c *Client) LookupOrder(ctx context.Context, clientOrderID string) (broker.Ack, error) {
	o, err := c.getOrder(ctx, "@"+clientOrderID)
	if err != nil {
		return broker.Ack{}, err
	}
	return broker.Ack{BrokerOrderID: o.ID, State: mapState(o.State)}, nil
}

// CancelOrder cancels a pending order. OANDA answers 404 for orders that are
// no longer pending; those count as cancelled when the order exists in a
// terminal state.
func (c *Client) CancelOrder(ctx context.Context, brokerOrderID string) (bool, error) {
	err := c.do(ctx, http.MethodPut, c.accountPath("/orders/%s/cancel", url.PathEscape(brokerOrderID)), nil, nil)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, broker.ErrNotFound) && !broker.IsRejected(err) {
		return false, err
	}

	o, gerr := c.getOrder(ctx, brokerOrderID)
	if gerr != nil {
		return false, gerr
	}
	if mapState(o.State).Terminal() {
		return true, nil
	}
	return false, err
}

type summaryResponse struct {
	Account struct {
		NAV             string `json:"NAV"`
		MarginAvailable string `json:"marginAvailable"`
	} `json:"account"`
}

// GetBuyingPower returns the account's net asset value.
func (c *Client) GetBuyingPower(ctx context.Context) (decimal.Decimal, error) {
	var resp summaryResponse
	if err := c.do(ctx, http.MethodGet, c.accountPath("/summary"), nil, &resp); err != nil {
		return decimal.Zero, err
	}
	nav, err := decimal.NewFromString(resp.Account.NAV)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse NAV %q: %w", resp.Account.NAV, err)
	}
	return nav, nil
}

type pricingResponse struct {
	Prices []struct {
		Instrument string `json:"instrument"`
		Time       string `json:"time"`
		Bids       []struct {
			Price string `json:"price"`
		} `json:"bids"`
		Asks []struct {
			Price string `json:"price"`
		} `json:"asks"`
	} `json:"prices"`
}

// GetTick returns the top of book for one instrument.
func (c *Client) GetTick(ctx context.Context, symbol string) (market.Tick, error) {
	var resp pricingResponse
	path := c.accountPath("/pricing") + "?" + url.Values{"instruments": {symbol}}.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return market.Tick{}, err
	}
	if len(resp.Prices) == 0 || len(resp.Prices[0].Bids) == 0 || len(resp.Prices[0].Asks) == 0 {
		return market.Tick{}, fmt.Errorf("%w: %s", market.ErrNoPrice, symbol)
	}

	p := resp.Prices[0]
	bid, err := market.ParsePrice(p.Bids[0].Price)
	if err != nil {
		return market.Tick{}, err
	}
	ask, err := market.ParsePrice(p.Asks[0].Price)
	if err != nil {
		return market.Tick{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, p.Time)
	if err != nil {
		ts = time.Now().UTC()
	}
	return market.Tick{Symbol: p.Instrument, Bid: bid, Ask: ask, Time: ts}, nil
}
