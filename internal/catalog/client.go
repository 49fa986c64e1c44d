// Package catalog предоставляет клиент внешней системы управления каталогом услуг.
package catalog

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const servicesPath = "/api/services"

// Client инкапсулирует HTTP-взаимодействие с системой каталога.
type Client struct {
	http *resty.Client
}

// Item описывает позицию каталога в ответе внешней системы.
type Item struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	Price       int64   `json:"price"`
}

// NewClient создаёт клиент системы каталога по указанному адресу.
func NewClient(baseURL string) *Client {
	base := strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	client := resty.New().
		SetBaseURL(base).
		SetTimeout(5 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second)

	return &Client{http: client}
}

// FetchServices запрашивает полный список услуг.
func (c *Client) FetchServices(ctx context.Context) ([]Item, error) {
	if c == nil || c.http == nil {
		return nil, fmt.Errorf("catalog client not configured")
	}

	var items []Item
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetResult(&items).
		Get(servicesPath)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode())
	}

	return items, nil
}
