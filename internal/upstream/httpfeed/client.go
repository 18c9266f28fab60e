// Package httpfeed reads paginated raw records from an HTTP JSON endpoint.
package httpfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/backoffice-reconciliation/internal/domain/feed"
)

const maxErrorBody = 512

// Client fetches pages of GET {endpoint}?source=&offset=&limit= and expects {"records":[...]}.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

type pageResponse struct {
	Records []feed.RawRecord `json:"records"`
}

// NewClient creates a feed client for one endpoint. The page timeout is applied by the caller's context.
func NewClient(logger *slog.Logger, endpoint string, timeout time.Duration) *Client {
	return NewClientWithHTTP(logger, endpoint, &http.Client{Timeout: timeout})
}

func NewClientWithHTTP(logger *slog.Logger, endpoint string, httpClient *http.Client) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: httpClient,
		logger:     logger,
	}
}

// FetchPage implements feed.Feed
func (c *Client) FetchPage(ctx context.Context, source string, offset, limit int) ([]feed.RawRecord, error) {
	params := url.Values{}
	params.Set("source", source)
	params.Set("offset", strconv.Itoa(offset))
	params.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, &feed.UpstreamFetchError{Source: source, Offset: offset, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &feed.UpstreamFetchError{Source: source, Offset: offset, Retryable: retryable(ctx, err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn("Upstream feed returned an error status",
			"source", source,
			"offset", offset,
			"status", resp.StatusCode,
		)
		return nil, &feed.UpstreamFetchError{
			Source:    source,
			Offset:    offset,
			Retryable: resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError,
			Err:       fmt.Errorf("upstream status %d: %s", resp.StatusCode, string(body)),
		}
	}

	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	var page pageResponse
	if err := decoder.Decode(&page); err != nil {
		return nil, &feed.UpstreamFetchError{
			Source:    source,
			Offset:    offset,
			Retryable: retryable(ctx, err),
			Err:       fmt.Errorf("failed to decode upstream page: %w", err),
		}
	}

	c.logger.Debug("Fetched upstream page", "source", source, "offset", offset, "records", len(page.Records))
	return page.Records, nil
}

// retryable treats timeouts and transport failures as transient. A cancelled parent context is not retried.
func retryable(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

var _ feed.Feed = (*Client)(nil)
