package oracle

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/amm-limit-orders/internal/cache"
	"github.com/amirphl/amm-limit-orders/internal/chain"
	"github.com/amirphl/amm-limit-orders/internal/chain/chaintest"
	"github.com/amirphl/amm-limit-orders/internal/types"
)

var (
	usdc = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	dai  = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	weth = common.HexToAddress("0x00000000000000000000000000000000000000e1")
)

func newPoolOracle(t *testing.T) (*PoolOracle, *chaintest.Fake, common.Address) {
	t.Helper()
	fake := chaintest.New()
	fake.SetDecimals(usdc, 6)
	fake.SetDecimals(weth, 18)
	fake.SetDecimals(dai, 18)

	tenEth := new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18))
	pool := fake.AddPool(weth, usdc, types.FeeTierLow, tenEth, big.NewInt(25_000_000_000))

	log, _ := test.NewNullLogger()
	tokens := chain.NewTokens(fake, cache.NewMemory(), weth, log)
	return NewPoolOracle(fake, tokens, types.DefaultFeeTiers), fake, pool
}

func TestPoolOracle_CurrentPrice(t *testing.T) {
	o, _, _ := newPoolOracle(t)
	ctx := context.Background()

	price, err := o.CurrentPrice(ctx, types.Native(), types.Contract(usdc))
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(2500)), price.String())

	// Reverse direction resolves the same pool through the other ordering.
	price, err = o.CurrentPrice(ctx, types.Contract(usdc), types.Native())
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("0.0004")), price.String())
}

func TestPoolOracle_ResolvePool(t *testing.T) {
	o, _, pool := newPoolOracle(t)

	p, err := o.ResolvePool(context.Background(), types.Contract(usdc), types.Native())
	require.NoError(t, err)
	assert.Equal(t, pool, p.Address)
	assert.Equal(t, types.FeeTierLow, p.Fee)
	assert.Equal(t, "25000000000", p.ReserveIn.String())
	assert.Equal(t, uint8(6), p.DecimalsIn)
	assert.Equal(t, uint8(18), p.DecimalsOut)
}

func TestPoolOracle_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("no pool", func(t *testing.T) {
		o, _, _ := newPoolOracle(t)
		_, err := o.CurrentPrice(ctx, types.Contract(dai), types.Contract(usdc))
		assert.True(t, errors.Is(err, types.ErrPoolNotFound))
		assert.True(t, types.IsOracleError(err))
	})

	t.Run("empty pool", func(t *testing.T) {
		o, fake, pool := newPoolOracle(t)
		fake.SetReserves(pool, weth, usdc, big.NewInt(0), big.NewInt(25_000_000_000))
		_, err := o.CurrentPrice(ctx, types.Native(), types.Contract(usdc))
		assert.True(t, errors.Is(err, types.ErrPoolEmpty))
	})

	t.Run("native against wrapped native", func(t *testing.T) {
		o, _, _ := newPoolOracle(t)
		_, err := o.CurrentPrice(ctx, types.Native(), types.Contract(weth))
		assert.True(t, errors.Is(err, types.ErrInvalidInput))
	})

	t.Run("rpc failure", func(t *testing.T) {
		o, fake, _ := newPoolOracle(t)
		fake.ReadErr = errors.New("connection refused")
		_, err := o.CurrentPrice(ctx, types.Native(), types.Contract(usdc))
		assert.Error(t, err)
	})
}

func TestFeedOracle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("quote") {
		case usdc.Hex():
			assert.Equal(t, types.NativeSymbol, r.URL.Query().Get("base"))
			w.Write([]byte(`{"price":"2500.5"}`))
		case dai.Hex():
			w.Write([]byte(`{"price":""}`))
		default:
			http.Error(w, "unknown pair", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f := NewFeedOracle(srv.URL+"/price", 100, srv.Client())
	ctx := context.Background()

	price, err := f.CurrentPrice(ctx, types.Native(), types.Contract(usdc))
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("2500.5")))

	_, err = f.CurrentPrice(ctx, types.Native(), types.Contract(dai))
	assert.True(t, errors.Is(err, types.ErrFeedUnavailable))

	_, err = f.CurrentPrice(ctx, types.Native(), types.Contract(weth))
	assert.True(t, errors.Is(err, types.ErrFeedUnavailable))
	assert.True(t, types.IsOracleError(err))
}
