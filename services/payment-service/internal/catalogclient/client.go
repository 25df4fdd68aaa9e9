// Package catalogclient fetches product details from the inventory service.
package catalogclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrNotFound reports that the catalog has no product with the requested id.
var ErrNotFound = errors.New("product not found")

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Product mirrors the inventory service's product representation.
type Product struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http: &http.Client{
			Timeout:   5 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *Client) Get(ctx context.Context, productID string) (Product, error) {
	if c.baseURL == "" {
		return Product{}, errors.New("catalog base url not configured")
	}
	url := c.baseURL + "/products/" + productID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Product{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Product{}, fmt.Errorf("fetch product %s: %w", productID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Product{}, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return Product{}, fmt.Errorf("catalog returned %d for product %s", resp.StatusCode, productID)
	}

	var p Product
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return Product{}, fmt.Errorf("decode product %s: %w", productID, err)
	}
	return p, nil
}
