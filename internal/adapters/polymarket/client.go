package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/arena/internal/domain"
)

const (
	defaultGammaBase = "https://gamma-api.polymarket.com"

	// Gamma /markets documents 300 req/10s; run at 60% of that.
	gammaRatePerSec = 18

	gammaMarketsPath = "/markets"
	batchMax         = 20

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Client fetches prediction markets from the Polymarket Gamma API, with rate
// limiting and retries. Implements ports.MarketData.
type Client struct {
	http    *http.Client
	base    string
	limiter *rate.Limiter
}

// NewClient creates a Client for the given base URL. An empty base uses the
// production API.
func NewClient(base string) *Client {
	if base == "" {
		base = defaultGammaBase
	}
	return &Client{
		http:    &http.Client{Timeout: 10 * time.Second},
		base:    base,
		limiter: rate.NewLimiter(gammaRatePerSec, 10),
	}
}

// FetchActiveMarkets returns currently tradeable markets ordered by 24h
// volume, up to limit.
func (c *Client) FetchActiveMarkets(ctx context.Context, limit int) ([]domain.Market, error) {
	if limit <= 0 {
		limit = 100
	}
	q := url.Values{}
	q.Set("active", "true")
	q.Set("closed", "false")
	q.Set("order", "volume24hr")
	q.Set("ascending", "false")
	q.Set("limit", fmt.Sprintf("%d", limit))

	var resp gammaMarketsResponse
	if err := c.get(ctx, c.base+gammaMarketsPath+"?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("polymarket.FetchActiveMarkets: %w", err)
	}
	markets := mapGammaMarkets(resp, time.Now().UTC())
	slog.Debug("fetched active markets", "count", len(markets))
	return markets, nil
}

// FetchMarketsByIDs returns the markets with the given condition IDs,
// regardless of status. IDs unknown to the feed are silently absent from the
// result.
func (c *Client) FetchMarketsByIDs(ctx context.Context, ids []string) ([]domain.Market, error) {
	var markets []domain.Market
	now := time.Now().UTC()

	for i := 0; i < len(ids); i += batchMax {
		end := i + batchMax
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[i:end]

		q := url.Values{}
		q.Set("condition_ids", strings.Join(batch, ","))
		q.Set("limit", fmt.Sprintf("%d", batchMax))

		var resp gammaMarketsResponse
		if err := c.get(ctx, c.base+gammaMarketsPath+"?"+q.Encode(), &resp); err != nil {
			return nil, fmt.Errorf("polymarket.FetchMarketsByIDs: batch %d-%d: %w", i, end, err)
		}
		markets = append(markets, mapGammaMarkets(resp, now)...)
	}
	return markets, nil
}

// get does a rate-limited GET with exponential backoff on transient failures.
func (c *Client) get(ctx context.Context, url string, out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("status %d after %d retries", resp.StatusCode, maxRetries)
			}
			slog.Warn("retrying request", "status", resp.StatusCode, "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// sleep waits with exponential backoff, respecting the context.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
