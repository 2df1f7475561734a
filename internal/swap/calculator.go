// Package swap prices trades against constant-product pools.
//
// All amounts are integers in the token's smallest unit. Intermediate
// products are computed on math/big so reserve sizes never overflow, and
// every result is floor-rounded, which always favors the pool.
package swap

import (
	"math/big"

	"cosmossdk.io/math"
	"github.com/shopspring/decimal"

	"github.com/amirphl/amm-limit-orders/internal/types"
)

// BpsDenominator is the basis-point scale used for fees and slippage.
const BpsDenominator = 10000

// PricePrecision is the number of decimal places kept by SpotPrice.
const PricePrecision = 18

// SwapQuote is the priced outcome of a hypothetical swap.
type SwapQuote struct {
	AmountIn  math.Int
	AmountOut math.Int
	FeeAmount math.Int
	// EffectivePrice is AmountOut/AmountIn; nil when AmountIn is zero.
	EffectivePrice math.LegacyDec
}

// Price returns the effective price and whether it is defined.
func (q SwapQuote) Price() (math.LegacyDec, bool) {
	if q.EffectivePrice.IsNil() {
		return math.LegacyDec{}, false
	}
	return q.EffectivePrice, true
}

// Quote computes the output of swapping amountIn against a pool holding
// reserveIn/reserveOut, with feeBps taken from the input side:
//
//	amountInAfterFee = amountIn * (10000 - feeBps) / 10000
//	amountOut        = amountInAfterFee * reserveOut / (reserveIn + amountInAfterFee)
//
// Both steps are folded into one floor division so no precision is lost
// between them.
func Quote(reserveIn, reserveOut, amountIn math.Int, feeBps uint32) (SwapQuote, error) {
	if reserveIn.IsNil() || !reserveIn.IsPositive() {
		return SwapQuote{}, types.ErrInvalidInput.Wrap("reserveIn must be positive")
	}
	if reserveOut.IsNil() || !reserveOut.IsPositive() {
		return SwapQuote{}, types.ErrInvalidInput.Wrap("reserveOut must be positive")
	}
	if amountIn.IsNil() || amountIn.IsNegative() {
		return SwapQuote{}, types.ErrInvalidInput.Wrap("amountIn must not be negative")
	}
	if feeBps >= BpsDenominator {
		return SwapQuote{}, types.ErrInvalidInput.Wrapf("fee %d bps out of range [0, %d)", feeBps, BpsDenominator)
	}

	if amountIn.IsZero() {
		return SwapQuote{AmountIn: amountIn, AmountOut: math.ZeroInt(), FeeAmount: math.ZeroInt()}, nil
	}

	den := big.NewInt(BpsDenominator)
	inWithFee := new(big.Int).Mul(amountIn.BigInt(), big.NewInt(int64(BpsDenominator-feeBps)))

	numerator := new(big.Int).Mul(inWithFee, reserveOut.BigInt())
	denominator := new(big.Int).Mul(reserveIn.BigInt(), den)
	denominator.Add(denominator, inWithFee)
	out := new(big.Int).Quo(numerator, denominator)

	fee := new(big.Int).Mul(amountIn.BigInt(), big.NewInt(int64(feeBps)))
	fee.Quo(fee, den)

	amountOut := math.NewIntFromBigInt(out)
	return SwapQuote{
		AmountIn:       amountIn,
		AmountOut:      amountOut,
		FeeAmount:      math.NewIntFromBigInt(fee),
		EffectivePrice: math.LegacyNewDecFromInt(amountOut).Quo(math.LegacyNewDecFromInt(amountIn)),
	}, nil
}

// MinOutputWithSlippage returns floor(amountOut * (10000 - slippageBps) / 10000),
// the least output the swap call may accept.
func MinOutputWithSlippage(amountOut math.Int, slippageBps uint32) (math.Int, error) {
	if amountOut.IsNil() || amountOut.IsNegative() {
		return math.Int{}, types.ErrInvalidInput.Wrap("amountOut must not be negative")
	}
	if slippageBps >= BpsDenominator {
		return math.Int{}, types.ErrInvalidInput.Wrapf("slippage %d bps out of range [0, %d)", slippageBps, BpsDenominator)
	}
	out := new(big.Int).Mul(amountOut.BigInt(), big.NewInt(int64(BpsDenominator-slippageBps)))
	out.Quo(out, big.NewInt(BpsDenominator))
	return math.NewIntFromBigInt(out), nil
}

// SpotPrice returns reserveOut/reserveIn expressed in whole tokens, i.e.
// adjusted for each side's decimals.
func SpotPrice(reserveIn, reserveOut math.Int, decimalsIn, decimalsOut uint8) (decimal.Decimal, error) {
	if reserveIn.IsNil() || reserveOut.IsNil() || !reserveIn.IsPositive() || !reserveOut.IsPositive() {
		return decimal.Zero, types.ErrPoolEmpty.Wrapf("reserves %s/%s", reserveIn, reserveOut)
	}
	in := FromUnits(reserveIn, decimalsIn)
	out := FromUnits(reserveOut, decimalsOut)
	return out.DivRound(in, PricePrecision), nil
}

// ToUnits converts a whole-token amount into smallest units, truncating any
// precision the token cannot represent. Amounts that do not fit in 256 bits
// are rejected.
func ToUnits(amount decimal.Decimal, decimals uint8) (math.Int, error) {
	if amount.IsNegative() {
		return math.Int{}, types.ErrInvalidInput.Wrapf("amount %s is negative", amount)
	}
	units := amount.Shift(int32(decimals)).BigInt()
	if units.BitLen() > math.MaxBitLen {
		return math.Int{}, types.ErrInvalidInput.Wrapf("amount %s exceeds %d bits at %d decimals", amount, math.MaxBitLen, decimals)
	}
	return math.NewIntFromBigInt(units), nil
}

// FromUnits converts smallest units into a whole-token amount.
func FromUnits(units math.Int, decimals uint8) decimal.Decimal {
	if units.IsNil() {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(units.BigInt(), -int32(decimals))
}
