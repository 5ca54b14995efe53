package tradeapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

// APIError carries a classified fetch failure. Auth failures are final for
// the account; network, timeout and protocol failures may clear on retry.
type APIError struct {
	Class   ErrorClass
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("trade api %s error: %s", e.Class, e.Message)
}

// Classify extracts the error class, defaulting to protocol for errors
// produced outside this package.
func Classify(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class
	}
	return ErrorProtocol
}

func NewClient(httpClient *http.Client, baseURL string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// FetchAccount asks the terminal bridge for a fresh account snapshot. A
// response with a populated error field or a disconnected connection status
// reads as a failed fetch.
func (c *Client) FetchAccount(ctx context.Context, params FetchParams) (*Snapshot, error) {
	query := url.Values{}
	query.Set("account", params.AccountNumber)
	query.Set("password", params.Password)
	query.Set("server", params.Server)
	query.Set("terminal", params.Terminal)
	if params.LastHistoryTime > 0 {
		query.Set("last_history_time", strconv.FormatInt(params.LastHistoryTime, 10))
	}
	if params.QueueBatchID != "" {
		query.Set("batch_id", params.QueueBatchID)
	}

	body, err := c.doRequest(ctx, "/api/account", query)
	if err != nil {
		return nil, err
	}

	var resp fetchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &APIError{Class: ErrorProtocol, Message: "malformed response: " + err.Error()}
	}
	if resp.Error != "" {
		return nil, &APIError{Class: ErrorAuth, Message: resp.Error}
	}
	if resp.Account == nil {
		return nil, &APIError{Class: ErrorProtocol, Message: "response missing account payload"}
	}
	if resp.Account.ConnectionStatus == "disconnected" {
		return nil, &APIError{Class: ErrorAuth, Message: "terminal reports account disconnected"}
	}

	snap := &Snapshot{
		Balance:          resp.Account.Balance,
		Equity:           resp.Account.Equity,
		Margin:           resp.Account.Margin,
		Profit:           resp.Account.Profit,
		Leverage:         resp.Account.Leverage,
		OrdersTotal:      resp.Account.OrdersTotal,
		Currency:         resp.Account.Currency,
		Broker:           resp.Account.Broker,
		TraderName:       resp.Account.TraderName,
		LastHistoryTime:  resp.LastHistoryTime,
		ConnectionStatus: resp.Account.ConnectionStatus,
	}
	if resp.Statistics != nil {
		snap.OrdersHistoryTotal = resp.Statistics.OrdersHistoryTotal
	}
	return snap, nil
}

func (c *Client) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if c.baseURL == "" {
		return nil, &APIError{Class: ErrorProtocol, Message: "base url is not configured"}
	}
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL = fullURL + "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, &APIError{Class: ErrorProtocol, Message: "failed to create request: " + err.Error()}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(err)
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		if len(body) == 0 {
			return nil, &APIError{Class: ErrorProtocol, Message: "empty response body"}
		}
		return body, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &APIError{Class: ErrorAuth, Message: fmt.Sprintf("status %d: %s", resp.StatusCode, trimBody(body))}
	default:
		return nil, &APIError{Class: ErrorProtocol, Message: fmt.Sprintf("status %d: %s", resp.StatusCode, trimBody(body))}
	}
}

func classifyTransport(err error) *APIError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &APIError{Class: ErrorTimeout, Message: err.Error()}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &APIError{Class: ErrorTimeout, Message: err.Error()}
	}
	return &APIError{Class: ErrorNetwork, Message: err.Error()}
}

func trimBody(body []byte) string {
	const max = 256
	s := string(body)
	if len(s) > max {
		s = s[:max]
	}
	return s
}
