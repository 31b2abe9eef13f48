package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrTooLarge is returned when a download exceeds the configured limit
var ErrTooLarge = errors.New("file too large")

// Client downloads uploaded documents from the chat platform's file endpoint
type Client struct {
	http     *resty.Client
	maxBytes int64
}

// NewClient creates a download client. maxBytes <= 0 disables the size check.
func NewClient(timeout time.Duration, maxBytes int64) *Client {
	client := &Client{maxBytes: maxBytes}

	client.http = resty.New().
		SetHeader("User-Agent", "inventorybot").
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if errors.Is(err, resty.ErrResponseBodyTooLarge) {
				return false
			}
			// Retry on 429 (Too Many Requests) and 5xx server errors
			return r.StatusCode() == 429 || (r.StatusCode() >= 500 && r.StatusCode() <= 504)
		})

	// Stop reading once the limit is crossed instead of buffering the whole body
	if maxBytes > 0 {
		client.http.SetResponseBodyLimit(int(maxBytes))
	}

	return client
}

// Download fetches url and returns the body
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.http.R().SetContext(ctx).Get(url)
	if errors.Is(err, resty.ErrResponseBodyTooLarge) {
		return nil, fmt.Errorf("%w: limit %d", ErrTooLarge, c.maxBytes)
	}
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("download failed: %s", resp.Status())
	}

	body := resp.Body()
	if c.maxBytes > 0 && int64(len(body)) > c.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(body), c.maxBytes)
	}
	return body, nil
}
