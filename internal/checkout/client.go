// Package checkout предоставляет клиент платёжного провайдера и разбор
// его вебхуков.
package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Client инкапсулирует HTTP-взаимодействие с платёжным провайдером.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// CreateSessionRequest описывает параметры платёжной сессии. Цена намеренно
// не передаётся: стоимость рассчитывается по действующему тарифу в момент
// подтверждения оплаты.
type CreateSessionRequest struct {
	UserID     int64   `json:"user_id"`
	Hours      int     `json:"hours"`
	TvNumber   string  `json:"tv_number"`
	RoomNumber *string `json:"room_number,omitempty"`
	SuccessURL string  `json:"success_url,omitempty"`
	CancelURL  string  `json:"cancel_url,omitempty"`
}

// Session описывает созданную платёжную сессию с адресом перенаправления.
type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// NewClient создаёт HTTP-клиент платёжного провайдера по указанному адресу.
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 3 * time.Second
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc,
	}
}

// CreateSession создаёт платёжную сессию и возвращает адрес страницы оплаты.
func (c *Client) CreateSession(ctx context.Context, reqBody CreateSessionRequest) (*Session, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("checkout client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := base + "/api/v1/sessions"

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &session, nil
}
