// Package supplier предоставляет клиент API поставщика SMM-услуг.
//
// Поставщик считается медленным и ненадёжным: все вызовы идут с
// таймаутом и ограниченным числом повторов, а их результат никогда не
// блокирует успех уже зафиксированной локальной операции (кроме
// первичной загрузки каталога).
package supplier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ErrSupplier возвращается, когда поставщик ответил полем error вместо
// ожидаемых данных.
var ErrSupplier = errors.New("supplier error")

// Client инкапсулирует HTTP-взаимодействие с API поставщика.
// API принимает form-POST с полями key и action.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *retryablehttp.Client
}

// OrderStatus описывает ответ поставщика о состоянии заказа.
type OrderStatus struct {
	Status     string      `json:"status"`
	Charge     json.Number `json:"charge"`
	StartCount json.Number `json:"start_count"`
	Remains    json.Number `json:"remains"`
	Currency   string      `json:"currency"`
}

// BalanceInfo описывает остаток средств на счёте у поставщика.
type BalanceInfo struct {
	Balance  json.Number `json:"balance"`
	Currency string      `json:"currency"`
}

// NewClient создаёт клиент API поставщика по указанному адресу.
func NewClient(baseURL, apiKey string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: rc,
	}
}

func (c *Client) do(ctx context.Context, action string, params url.Values) ([]byte, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("supplier client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}

	form := url.Values{}
	form.Set("key", c.apiKey)
	form.Set("action", action)
	for k, vs := range params {
		for _, v := range vs {
			form.Add(k, v)
		}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, base, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return body, nil
}

// checkError распознаёт ответ вида {"error": "..."}; поставщик отдаёт
// ошибки с кодом 200.
func checkError(body []byte) error {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return fmt.Errorf("%w: %s", ErrSupplier, e.Error)
	}
	return nil
}

// Services запрашивает каталог услуг и возвращает сырой ответ;
// нормализацией занимается пакет catalog.
func (c *Client) Services(ctx context.Context) ([]byte, error) {
	body, err := c.do(ctx, "services", nil)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// AddOrder отправляет заказ поставщику и возвращает его идентификатор
// на стороне поставщика.
func (c *Client) AddOrder(ctx context.Context, serviceID int64, link string, quantity int64, drip []DripParam) (string, error) {
	params := url.Values{}
	params.Set("service", fmt.Sprintf("%d", serviceID))
	params.Set("link", link)
	params.Set("quantity", fmt.Sprintf("%d", quantity))
	if len(drip) > 0 {
		// Стандартные поля drip-feed: количество порций и интервал в минутах.
		params.Set("runs", fmt.Sprintf("%d", len(drip)))
		params.Set("interval", fmt.Sprintf("%d", drip[0].IntervalMinutes))
	}

	body, err := c.do(ctx, "add", params)
	if err != nil {
		return "", err
	}
	if err := checkError(body); err != nil {
		return "", err
	}

	var resp struct {
		Order json.Number `json:"order"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if resp.Order.String() == "" {
		return "", fmt.Errorf("%w: response without order id", ErrSupplier)
	}

	return resp.Order.String(), nil
}

// DripParam описывает одну порцию drip-feed при отправке поставщику.
type DripParam struct {
	Quantity        int64
	IntervalMinutes int64
}

// GetOrderStatus запрашивает состояние заказа у поставщика.
func (c *Client) GetOrderStatus(ctx context.Context, supplierOrderID string) (*OrderStatus, error) {
	params := url.Values{}
	params.Set("order", supplierOrderID)

	body, err := c.do(ctx, "status", params)
	if err != nil {
		return nil, err
	}
	if err := checkError(body); err != nil {
		return nil, err
	}

	var st OrderStatus
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &st, nil
}

// Balance запрашивает остаток средств на счёте у поставщика.
func (c *Client) Balance(ctx context.Context) (*BalanceInfo, error) {
	body, err := c.do(ctx, "balance", nil)
	if err != nil {
		return nil, err
	}
	if err := checkError(body); err != nil {
		return nil, err
	}

	var b BalanceInfo
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &b, nil
}

// Refill запрашивает дозалив заказа.
func (c *Client) Refill(ctx context.Context, supplierOrderID string) error {
	params := url.Values{}
	params.Set("order", supplierOrderID)

	body, err := c.do(ctx, "refill", params)
	if err != nil {
		return err
	}
	return checkError(body)
}

// Cancel запрашивает отмену заказа у поставщика.
func (c *Client) Cancel(ctx context.Context, supplierOrderID string) error {
	params := url.Values{}
	params.Set("order", supplierOrderID)

	body, err := c.do(ctx, "cancel", params)
	if err != nil {
		return err
	}
	return checkError(body)
}
