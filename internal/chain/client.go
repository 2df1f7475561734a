// Package chain is the boundary between the engine and an EVM chain hosting
// the AMM contracts.
package chain

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/amirphl/amm-limit-orders/internal/types"
)

// ErrNotConfirmed is returned by SendTransaction when the transaction was
// broadcast but the wait for its receipt was abandoned.
var ErrNotConfirmed = errors.New("chain: transaction not confirmed")

// Receipt statuses.
const (
	ReceiptFailed  uint64 = 0
	ReceiptSuccess uint64 = 1
)

// Receipt is the mined outcome of a transaction.
type Receipt struct {
	TxHash      common.Hash
	Status      uint64
	BlockNumber uint64
	BlockTime   time.Time
	GasUsed     uint64
}

func (r Receipt) Succeeded() bool { return r.Status == ReceiptSuccess }

// Signer authorizes transactions for one account. It wraps go-ethereum
// transact options so that key material never leaves the wallet package.
type Signer struct {
	opts *bind.TransactOpts
}

func NewSigner(opts *bind.TransactOpts) *Signer {
	return &Signer{opts: opts}
}

func (s *Signer) Address() common.Address {
	return s.opts.From
}

// TransactOpts returns a copy of the options bound to ctx with the given value.
func (s *Signer) TransactOpts(ctx context.Context, value *big.Int) *bind.TransactOpts {
	opts := *s.opts
	opts.Context = ctx
	opts.Value = value
	return &opts
}

// Client is the set of chain operations the engine needs. None of them
// retry; callers decide what is transient.
type Client interface {
	// GetPool returns the pool for (tokenA, tokenB, fee) as the factory keys
	// it, or the zero address when there is none.
	GetPool(ctx context.Context, tokenA, tokenB common.Address, fee types.FeeTier) (common.Address, error)
	// GetReserves returns the pool's reserves, reserve0 belonging to the
	// lower of the two token addresses.
	GetReserves(ctx context.Context, pool common.Address) (reserve0, reserve1 *big.Int, err error)
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	// SendTransaction signs and broadcasts a call and waits for it to be
	// mined. If the wait is abandoned the receipt carries only TxHash and the
	// error wraps ErrNotConfirmed.
	SendTransaction(ctx context.Context, signer *Signer, to common.Address, data []byte, value *big.Int) (Receipt, error)
	// BalanceAt returns the native balance of account.
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
}

// SortTokens returns a and b in canonical (ascending address) order.
func SortTokens(a, b common.Address) (common.Address, common.Address) {
	if a.Cmp(b) > 0 {
		return b, a
	}
	return a, b
}
