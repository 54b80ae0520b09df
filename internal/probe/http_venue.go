package probe

import (
	"context"
	"fmt"
	"math/big"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wonny/otcseller/internal/contracts"
	"github.com/wonny/otcseller/pkg/httputil"
	"github.com/wonny/otcseller/pkg/redis"
)

// quoteCache wraps the optional redis cache shared by the HTTP venues
type quoteCache struct {
	cache *redis.Cache
	ttl   time.Duration
}

func newQuoteCache(cache *redis.Cache, ttl time.Duration) quoteCache {
	if ttl <= 0 {
		ttl = redis.TTLQuote
	}
	return quoteCache{cache: cache, ttl: ttl}
}

// buyAmount returns the cached or fetched buy amount. A cached value that does
// not parse is evicted so the next call refetches.
func (q quoteCache) buyAmount(ctx context.Context, venue string, sell, buy common.Address, amountIn *big.Int, fetch func() (string, error)) (*big.Int, error) {
	if q.cache == nil {
		raw, err := fetch()
		if err != nil {
			return nil, err
		}
		return parseBuyAmount(venue, raw)
	}

	key := redis.QuoteKey(venue, sell.Hex(), buy.Hex(), amountIn.String())
	var raw string
	err := q.cache.GetOrSet(ctx, key, &raw, q.ttl, func() (interface{}, error) {
		return fetch()
	})
	if err != nil {
		return nil, err
	}

	out, err := parseBuyAmount(venue, raw)
	if err != nil {
		_ = q.cache.Delete(ctx, key)
		return nil, err
	}
	return out, nil
}

func parseBuyAmount(venue, raw string) (*big.Int, error) {
	out, err := contracts.ParseAmount(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", venue, err)
	}
	return out, nil
}

// HTTPVenue reads quotes from an aggregator exposing
// GET {base}/quote?sellToken=&buyToken=&sellAmount= → {"buyAmount": "..."}
type HTTPVenue struct {
	name    string
	baseURL string
	client  *httputil.Client
	cache   quoteCache
}

// NewHTTPVenue creates an aggregator venue; cache may be nil
func NewHTTPVenue(name, baseURL string, client *httputil.Client, cache *redis.Cache, ttl time.Duration) *HTTPVenue {
	return &HTTPVenue{name: name, baseURL: baseURL, client: client, cache: newQuoteCache(cache, ttl)}
}

// Name implements contracts.Venue
func (v *HTTPVenue) Name() string {
	return v.name
}

type quoteResponse struct {
	BuyAmount string `json:"buyAmount"`
}

// Quote implements contracts.Venue
func (v *HTTPVenue) Quote(ctx context.Context, sell, buy common.Address, amountIn *big.Int) (*big.Int, error) {
	return v.cache.buyAmount(ctx, v.name, sell, buy, amountIn, func() (string, error) {
		q := url.Values{}
		q.Set("sellToken", sell.Hex())
		q.Set("buyToken", buy.Hex())
		q.Set("sellAmount", amountIn.String())

		var resp quoteResponse
		if err := v.client.GetJSON(ctx, v.baseURL+"/quote?"+q.Encode(), &resp); err != nil {
			return "", err
		}
		return resp.BuyAmount, nil
	})
}

// OrderBookVenue asks the CoW order book for a sell quote:
// POST {base}/api/v1/quote → {"quote": {"buyAmount": "...", "feeAmount": "..."}}
type OrderBookVenue struct {
	name    string
	baseURL string
	from    common.Address
	client  *httputil.Client
	cache   quoteCache
}

// NewOrderBookVenue creates an order book venue quoting on behalf of from
func NewOrderBookVenue(name, baseURL string, from common.Address, client *httputil.Client, cache *redis.Cache, ttl time.Duration) *OrderBookVenue {
	return &OrderBookVenue{name: name, baseURL: baseURL, from: from, client: client, cache: newQuoteCache(cache, ttl)}
}

// Name implements contracts.Venue
func (v *OrderBookVenue) Name() string {
	return v.name
}

type orderBookQuoteRequest struct {
	SellToken           common.Address `json:"sellToken"`
	BuyToken            common.Address `json:"buyToken"`
	From                common.Address `json:"from"`
	Kind                string         `json:"kind"`
	SellAmountBeforeFee string         `json:"sellAmountBeforeFee"`
}

type orderBookQuoteResponse struct {
	Quote struct {
		BuyAmount string `json:"buyAmount"`
		FeeAmount string `json:"feeAmount"`
	} `json:"quote"`
}

// Quote implements contracts.Venue
func (v *OrderBookVenue) Quote(ctx context.Context, sell, buy common.Address, amountIn *big.Int) (*big.Int, error) {
	return v.cache.buyAmount(ctx, v.name, sell, buy, amountIn, func() (string, error) {
		req := orderBookQuoteRequest{
			SellToken:           sell,
			BuyToken:            buy,
			From:                v.from,
			Kind:                "sell",
			SellAmountBeforeFee: amountIn.String(),
		}

		var resp orderBookQuoteResponse
		if err := v.client.PostJSON(ctx, v.baseURL+"/api/v1/quote", req, &resp); err != nil {
			return "", err
		}
		return resp.Quote.BuyAmount, nil
	})
}
