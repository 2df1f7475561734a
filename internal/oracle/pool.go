package oracle

import (
	"context"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/amirphl/amm-limit-orders/internal/chain"
	"github.com/amirphl/amm-limit-orders/internal/swap"
	"github.com/amirphl/amm-limit-orders/internal/types"
)

// Pool is a resolved pool with its reserves oriented to a trade direction.
type Pool struct {
	Address     common.Address
	Fee         types.FeeTier
	ReserveIn   math.Int
	ReserveOut  math.Int
	DecimalsIn  uint8
	DecimalsOut uint8
}

// SpotPrice is the decimal-adjusted reserveOut/reserveIn.
func (p Pool) SpotPrice() (decimal.Decimal, error) {
	return swap.SpotPrice(p.ReserveIn, p.ReserveOut, p.DecimalsIn, p.DecimalsOut)
}

// PoolOracle prices pairs from on-chain pool reserves.
type PoolOracle struct {
	client   chain.Client
	tokens   *chain.Tokens
	feeTiers []types.FeeTier
}

func NewPoolOracle(client chain.Client, tokens *chain.Tokens, feeTiers []types.FeeTier) *PoolOracle {
	if len(feeTiers) == 0 {
		feeTiers = types.DefaultFeeTiers
	}
	return &PoolOracle{client: client, tokens: tokens, feeTiers: append([]types.FeeTier(nil), feeTiers...)}
}

func (o *PoolOracle) CurrentPrice(ctx context.Context, tokenIn, tokenOut types.TokenRef) (decimal.Decimal, error) {
	p, err := o.ResolvePool(ctx, tokenIn, tokenOut)
	if err != nil {
		return decimal.Zero, err
	}
	return p.SpotPrice()
}

// ResolvePool finds the pool for the pair and reads its live reserves. Fee
// tiers are tried in configured order and, within a tier, both orderings of
// the pair. It fails with ErrPoolNotFound when no tier has a pool and with
// ErrPoolEmpty when either reserve is zero.
func (o *PoolOracle) ResolvePool(ctx context.Context, tokenIn, tokenOut types.TokenRef) (Pool, error) {
	in := o.tokens.Address(tokenIn)
	out := o.tokens.Address(tokenOut)
	if in == out {
		return Pool{}, types.ErrInvalidInput.Wrapf("%s and %s resolve to the same contract %s", tokenIn, tokenOut, in)
	}

	addr, fee, err := o.findPool(ctx, in, out)
	if err != nil {
		return Pool{}, err
	}

	r0, r1, err := o.client.GetReserves(ctx, addr)
	if err != nil {
		return Pool{}, err
	}
	reserveIn, reserveOut := r0, r1
	if token0, _ := chain.SortTokens(in, out); token0 != in {
		reserveIn, reserveOut = r1, r0
	}
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return Pool{}, types.ErrPoolEmpty.Wrapf("pool %s (%s/%s, %s) reserves %s/%s", addr.Hex(), tokenIn, tokenOut, fee, reserveIn, reserveOut)
	}

	decIn, err := o.tokens.Decimals(ctx, tokenIn)
	if err != nil {
		return Pool{}, err
	}
	decOut, err := o.tokens.Decimals(ctx, tokenOut)
	if err != nil {
		return Pool{}, err
	}

	return Pool{
		Address:     addr,
		Fee:         fee,
		ReserveIn:   math.NewIntFromBigInt(reserveIn),
		ReserveOut:  math.NewIntFromBigInt(reserveOut),
		DecimalsIn:  decIn,
		DecimalsOut: decOut,
	}, nil
}

func (o *PoolOracle) findPool(ctx context.Context, in, out common.Address) (common.Address, types.FeeTier, error) {
	for _, fee := range o.feeTiers {
		for _, pair := range [2][2]common.Address{{in, out}, {out, in}} {
			addr, err := o.client.GetPool(ctx, pair[0], pair[1], fee)
			if err != nil {
				return common.Address{}, 0, err
			}
			if addr != (common.Address{}) {
				return addr, fee, nil
			}
		}
	}
	return common.Address{}, 0, types.ErrPoolNotFound.Wrapf("no pool for %s/%s at fee tiers %v", in.Hex(), out.Hex(), o.feeTiers)
}
