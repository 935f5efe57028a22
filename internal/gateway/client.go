package gateway

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
)

// Client talks to the external payment gateway. The contract is narrow:
// create an invoice, get back its id and the URL the customer pays at.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type InvoiceRequest struct {
	OrderNumber   string `json:"order_number"`
	AmountCents   int64  `json:"amount_cents"`
	Description   string `json:"description"`
	TTLSeconds    int    `json:"ttl_seconds"`
	CustomerEmail string `json:"customer_email,omitempty"`
}

type Invoice struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

var ErrInvoiceRejected = errors.New("gateway rejected invoice")

func (c *Client) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/invoices", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("%w: status %d", ErrInvoiceRejected, resp.StatusCode)
	}

	var inv Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, err
	}
	if inv.ID == "" || inv.URL == "" {
		return nil, fmt.Errorf("%w: empty invoice id or url", ErrInvoiceRejected)
	}
	return &inv, nil
}
