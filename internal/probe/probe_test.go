package probe

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/otcseller/internal/contracts"
	"github.com/wonny/otcseller/pkg/config"
	"github.com/wonny/otcseller/pkg/httputil"
	"github.com/wonny/otcseller/pkg/logger"
	"github.com/wonny/otcseller/pkg/redis"
)

var (
	weth = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdc = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
)

type fixedVenue struct {
	name string
	out  *big.Int
	err  error
}

func (v fixedVenue) Name() string { return v.name }

func (v fixedVenue) Quote(ctx context.Context, sell, buy common.Address, amountIn *big.Int) (*big.Int, error) {
	return v.out, v.err
}

func TestBestSwapPrice_TakesMaximum(t *testing.T) {
	p := New(logger.Nop(),
		fixedVenue{name: "a", out: big.NewInt(100)},
		fixedVenue{name: "b", out: big.NewInt(130)},
		fixedVenue{name: "c", out: big.NewInt(120)},
	)

	best, err := p.BestSwapPrice(context.Background(), weth, usdc, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, int64(130), best.Int64())
}

func TestBestSwapPrice_DegradesPastFailures(t *testing.T) {
	p := New(logger.Nop(),
		fixedVenue{name: "down", err: errors.New("timeout")},
		fixedVenue{name: "empty", out: big.NewInt(0)},
		fixedVenue{name: "up", out: big.NewInt(7)},
	)

	best, err := p.BestSwapPrice(context.Background(), weth, usdc, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, int64(7), best.Int64())
}

func TestBestSwapPrice_AllFail(t *testing.T) {
	p := New(logger.Nop(), fixedVenue{name: "down", err: errors.New("timeout")})

	_, err := p.BestSwapPrice(context.Background(), weth, usdc, big.NewInt(1))
	assert.ErrorIs(t, err, contracts.ErrNoQuote)

	var nilProbe *Probe
	assert.False(t, nilProbe.Enabled())
	_, err = New(logger.Nop()).BestSwapPrice(context.Background(), weth, usdc, big.NewInt(1))
	assert.ErrorIs(t, err, contracts.ErrNoQuote)
}

func TestPrice_Rescales(t *testing.T) {
	// 1 WETH -> 3000 USDC (6 decimals), expressed with 18 price decimals
	p := New(logger.Nop(), fixedVenue{name: "a", out: big.NewInt(3000_000000)})

	price, err := p.Price(context.Background(), weth, usdc, 18, 6, 18)
	require.NoError(t, err)
	assert.Equal(t, "3000000000000000000000", price.String())
}

func TestHTTPVenue(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, weth.Hex(), r.URL.Query().Get("sellToken"))
		assert.Equal(t, "1000", r.URL.Query().Get("sellAmount"))
		w.Write([]byte(`{"buyAmount":"2999000000"}`))
	}))
	defer server.Close()

	cfg := &config.Config{Env: "development"}
	client := httputil.New(cfg, logger.Nop()).DisableRetry()
	rc, err := redis.New(&config.Config{Redis: config.RedisConfig{Enabled: false}})
	require.NoError(t, err)

	venue := NewHTTPVenue("agg", server.URL, client, redis.NewCache(rc, "test"), time.Second)
	out, err := venue.Quote(context.Background(), weth, usdc, big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, "2999000000", out.String())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestHTTPVenue_BadBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"buyAmount":"lots"}`))
	}))
	defer server.Close()

	client := httputil.New(&config.Config{Env: "development"}, logger.Nop()).DisableRetry()
	venue := NewHTTPVenue("agg", server.URL, client, nil, 0)

	_, err := venue.Quote(context.Background(), weth, usdc, big.NewInt(1000))
	assert.Error(t, err)
}

func TestOrderBookVenue(t *testing.T) {
	seller := common.HexToAddress("0x1111111111111111111111111111111111111111")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/quote", r.URL.Path)

		var req map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sell", req["kind"])
		assert.Equal(t, "1000", req["sellAmountBeforeFee"])
		assert.Equal(t, seller.Hex(), common.HexToAddress(req["from"]).Hex())

		w.Write([]byte(`{"quote":{"buyAmount":"2990000000","feeAmount":"3"}}`))
	}))
	defer server.Close()

	client := httputil.New(&config.Config{Env: "development"}, logger.Nop()).DisableRetry()
	venue := NewOrderBookVenue("cow", server.URL, seller, client, nil, 0)

	assert.Equal(t, "cow", venue.Name())
	out, err := venue.Quote(context.Background(), weth, usdc, big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, "2990000000", out.String())
}

func TestOrderBookVenue_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errorType":"NoLiquidity"}`))
	}))
	defer server.Close()

	client := httputil.New(&config.Config{Env: "development"}, logger.Nop()).DisableRetry()
	venue := NewOrderBookVenue("cow", server.URL, weth, client, nil, 0)

	_, err := venue.Quote(context.Background(), weth, usdc, big.NewInt(1000))
	var statusErr *httputil.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
}
