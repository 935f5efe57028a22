package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Provider is the fulfillment contract the pipeline depends on. Whether
// the live HTTP client or the mock backs it is a deployment detail.
type Provider interface {
	Submit(ctx context.Context, serviceRef, target string, quantity int) (string, error)
	Status(ctx context.Context, providerOrderID string) (*OrderStatus, error)
}

type OrderStatus struct {
	Status     string `json:"status"`
	StartCount int64  `json:"start_count"`
	Remaining  int64  `json:"remains"`
}

var ErrNoTrackingID = errors.New("provider returned no order id")

type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) Submit(ctx context.Context, serviceRef, target string, quantity int) (string, error) {
	var resp struct {
		Order string `json:"order"`
	}
	err := c.post(ctx, map[string]any{
		"action":   "add",
		"service":  serviceRef,
		"link":     target,
		"quantity": quantity,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Order == "" {
		return "", ErrNoTrackingID
	}
	return resp.Order, nil
}

func (c *Client) Status(ctx context.Context, providerOrderID string) (*OrderStatus, error) {
	var resp OrderStatus
	err := c.post(ctx, map[string]any{
		"action": "status",
		"order":  providerOrderID,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ping is the connectivity probe used at startup to decide whether the
// live provider is reachable.
func (c *Client) Ping(ctx context.Context) error {
	var resp json.RawMessage
	return c.post(ctx, map[string]any{"action": "services"}, &resp)
}

func (c *Client) post(ctx context.Context, payload map[string]any, out any) error {
	payload["key"] = c.apiKey
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v2", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider status %d", resp.StatusCode)
	}

	var probe struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil && probe.Error != "" {
		return errors.New("provider error: " + probe.Error)
	}
	return json.Unmarshal(raw, out)
}

// Mock fulfils everything instantly. Used in degraded environments and
// local development; callers cannot tell it from the live client.
type Mock struct{}

func (Mock) Submit(ctx context.Context, serviceRef, target string, quantity int) (string, error) {
	return "mock-" + uuid.NewString(), nil
}

func (Mock) Status(ctx context.Context, providerOrderID string) (*OrderStatus, error) {
	return &OrderStatus{Status: "Completed", StartCount: 0, Remaining: 0}, nil
}
