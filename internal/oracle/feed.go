package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/amirphl/amm-limit-orders/internal/types"
)

type feedResponse struct {
	Price string `json:"price"`
}

// FeedOracle reads prices from an external HTTP feed:
//
//	GET {baseURL}?base=<tokenIn>&quote=<tokenOut>  ->  {"price":"<decimal>"}
type FeedOracle struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewFeedOracle builds a feed client allowing at most rps requests per second.
func NewFeedOracle(baseURL string, rps float64, client *http.Client) *FeedOracle {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = max(1, int(rps))
	}
	return &FeedOracle{baseURL: baseURL, client: client, limiter: rate.NewLimiter(limit, burst)}
}

func (f *FeedOracle) CurrentPrice(ctx context.Context, tokenIn, tokenOut types.TokenRef) (decimal.Decimal, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return decimal.Zero, types.ErrFeedUnavailable.Wrapf("rate limiter: %v", err)
	}

	u, err := url.Parse(f.baseURL)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid feed url %q: %w", f.baseURL, err)
	}
	q := u.Query()
	q.Set("base", tokenIn.String())
	q.Set("quote", tokenOut.String())
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return decimal.Zero, types.ErrFeedUnavailable.Wrap(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return decimal.Zero, types.ErrFeedUnavailable.Wrapf("%s: %s", resp.Status, body)
	}

	var out feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return decimal.Zero, types.ErrFeedUnavailable.Wrapf("decode response: %v", err)
	}
	if out.Price == "" {
		return decimal.Zero, types.ErrFeedUnavailable.Wrapf("no price for %s/%s", tokenIn, tokenOut)
	}
	price, err := decimal.NewFromString(out.Price)
	if err != nil {
		return decimal.Zero, types.ErrFeedUnavailable.Wrapf("malformed price %q", out.Price)
	}
	if !price.IsPositive() {
		return decimal.Zero, types.ErrFeedUnavailable.Wrapf("non-positive price %s", price)
	}
	return price, nil
}
