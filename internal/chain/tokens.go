package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/amirphl/amm-limit-orders/internal/cache"
	"github.com/amirphl/amm-limit-orders/internal/types"
)

const decimalsTTL = 24 * time.Hour

// Tokens resolves TokenRefs to on-chain addresses and reads token metadata.
type Tokens struct {
	client        Client
	cache         cache.Cache
	wrappedNative common.Address
	log           logrus.FieldLogger
}

func NewTokens(client Client, c cache.Cache, wrappedNative common.Address, log logrus.FieldLogger) *Tokens {
	return &Tokens{client: client, cache: c, wrappedNative: wrappedNative, log: log}
}

// Address returns the address pools key the token by. The native asset is
// traded through its wrapped contract.
func (t *Tokens) Address(ref types.TokenRef) common.Address {
	if addr, ok := ref.Address(); ok {
		return addr
	}
	return t.wrappedNative
}

// Decimals returns the token's precision, consulting the cache first.
func (t *Tokens) Decimals(ctx context.Context, ref types.TokenRef) (uint8, error) {
	addr, ok := ref.Address()
	if !ok {
		return types.NativeDecimals, nil
	}

	key := "decimals:" + addr.Hex()
	if v, err := t.cache.Get(ctx, key); err == nil {
		if d, perr := strconv.ParseUint(v, 10, 8); perr == nil {
			return uint8(d), nil
		}
	} else if !errors.Is(err, cache.ErrMiss) {
		t.log.WithError(err).WithField("token", addr.Hex()).Warn("Tokens | Cache read failed")
	}

	data, err := PackDecimals()
	if err != nil {
		return 0, err
	}
	out, err := t.client.Call(ctx, addr, data)
	if err != nil {
		return 0, fmt.Errorf("decimals(%s): %w", addr, err)
	}
	d, err := UnpackDecimals(out)
	if err != nil {
		return 0, err
	}

	if err := t.cache.Set(ctx, key, strconv.FormatUint(uint64(d), 10), decimalsTTL); err != nil {
		t.log.WithError(err).WithField("token", addr.Hex()).Warn("Tokens | Cache write failed")
	}
	return d, nil
}

// Balance returns owner's holdings of ref in smallest units.
func (t *Tokens) Balance(ctx context.Context, ref types.TokenRef, owner common.Address) (*big.Int, error) {
	addr, ok := ref.Address()
	if !ok {
		return t.client.BalanceAt(ctx, owner)
	}
	data, err := PackBalanceOf(owner)
	if err != nil {
		return nil, err
	}
	out, err := t.client.Call(ctx, addr, data)
	if err != nil {
		return nil, fmt.Errorf("balanceOf(%s) on %s: %w", owner, addr, err)
	}
	return UnpackBalanceOf(out)
}
