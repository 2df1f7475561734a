// Package chaintest provides an in-memory chain.Client for tests.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/amirphl/amm-limit-orders/internal/chain"
	"github.com/amirphl/amm-limit-orders/internal/types"
)

// Failure scripts the outcome of the next transaction calling a method.
type Failure struct {
	// Err is returned before anything is mined.
	Err error
	// Revert mines the transaction with a failed status.
	Revert bool
	// BlockTime overrides the mined block's timestamp.
	BlockTime time.Time
	// Unconfirmed broadcasts the transaction but abandons the receipt wait.
	Unconfirmed bool
	// AfterBroadcast runs once the transaction is recorded as sent.
	AfterBroadcast func()
}

// SentTx records a transaction submitted to the fake.
type SentTx struct {
	Hash   common.Hash
	From   common.Address
	To     common.Address
	Method string
	Args   []any
	Value  *big.Int
}

type poolKey struct {
	a, b common.Address
	fee  types.FeeTier
}

// Fake is a scriptable chain.Client. The zero value is not usable; call New.
type Fake struct {
	mu sync.Mutex

	pools    map[poolKey]common.Address
	reserves map[common.Address][2]*big.Int
	decimals map[common.Address]uint8
	balances map[common.Address]map[common.Address]*big.Int
	native   map[common.Address]*big.Int
	failures map[string]Failure

	// ReadErr, when set, fails every pool and reserve read.
	ReadErr error
	Now     func() time.Time

	sent      []SentTx
	poolReads int
	block     uint64
}

var _ chain.Client = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		pools:    make(map[poolKey]common.Address),
		reserves: make(map[common.Address][2]*big.Int),
		decimals: make(map[common.Address]uint8),
		balances: make(map[common.Address]map[common.Address]*big.Int),
		native:   make(map[common.Address]*big.Int),
		failures: make(map[string]Failure),
		Now:      time.Now,
		block:    100,
	}
}

// AddPool registers a pool the factory returns for exactly (tokenA, tokenB, fee)
// and seeds its reserves.
func (f *Fake) AddPool(tokenA, tokenB common.Address, fee types.FeeTier, reserveA, reserveB *big.Int) common.Address {
	f.mu.Lock()
	defer f.mu.Unlock()
	pool := common.BytesToAddress(crypto.Keccak256(tokenA.Bytes(), tokenB.Bytes(), big.NewInt(int64(fee)).Bytes()))
	f.pools[poolKey{a: tokenA, b: tokenB, fee: fee}] = pool
	f.setReservesLocked(pool, tokenA, tokenB, reserveA, reserveB)
	return pool
}

// SetReserves replaces the reserves of pool, given per token.
func (f *Fake) SetReserves(pool, tokenA, tokenB common.Address, reserveA, reserveB *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setReservesLocked(pool, tokenA, tokenB, reserveA, reserveB)
}

func (f *Fake) setReservesLocked(pool, tokenA, tokenB common.Address, reserveA, reserveB *big.Int) {
	if tokenA.Cmp(tokenB) > 0 {
		reserveA, reserveB = reserveB, reserveA
	}
	f.reserves[pool] = [2]*big.Int{new(big.Int).Set(reserveA), new(big.Int).Set(reserveB)}
}

func (f *Fake) SetDecimals(token common.Address, d uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decimals[token] = d
}

func (f *Fake) SetBalance(token, owner common.Address, amount *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balances[token] == nil {
		f.balances[token] = make(map[common.Address]*big.Int)
	}
	f.balances[token][owner] = new(big.Int).Set(amount)
}

func (f *Fake) SetNativeBalance(owner common.Address, amount *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.native[owner] = new(big.Int).Set(amount)
}

// FailNext scripts the next transaction calling method.
func (f *Fake) FailNext(method string, failure Failure) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method] = failure
}

// Sent returns the transactions submitted so far.
func (f *Fake) Sent() []SentTx {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentTx(nil), f.sent...)
}

// PoolReads counts GetPool and GetReserves calls.
func (f *Fake) PoolReads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.poolReads
}

func (f *Fake) GetPool(ctx context.Context, tokenA, tokenB common.Address, fee types.FeeTier) (common.Address, error) {
	if err := ctx.Err(); err != nil {
		return common.Address{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.poolReads++
	if f.ReadErr != nil {
		return common.Address{}, f.ReadErr
	}
	return f.pools[poolKey{a: tokenA, b: tokenB, fee: fee}], nil
}

func (f *Fake) GetReserves(ctx context.Context, pool common.Address) (*big.Int, *big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.poolReads++
	if f.ReadErr != nil {
		return nil, nil, f.ReadErr
	}
	r, ok := f.reserves[pool]
	if !ok {
		return nil, nil, fmt.Errorf("no contract at %s", pool)
	}
	return new(big.Int).Set(r[0]), new(big.Int).Set(r[1]), nil
}

func (f *Fake) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.native[account]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (f *Fake) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	method, args, err := chain.DecodeCall(chain.ERC20ABI, data)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	switch method.Name {
	case "decimals":
		d, ok := f.decimals[to]
		if !ok {
			return nil, errors.New("execution reverted")
		}
		return method.Outputs.Pack(d)
	case "balanceOf":
		owner := args[0].(common.Address)
		b := big.NewInt(0)
		if v, ok := f.balances[to][owner]; ok {
			b = new(big.Int).Set(v)
		}
		return method.Outputs.Pack(b)
	default:
		return nil, fmt.Errorf("fake: call to %s not supported", method.Name)
	}
}

func (f *Fake) SendTransaction(ctx context.Context, signer *chain.Signer, to common.Address, data []byte, value *big.Int) (chain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return chain.Receipt{}, err
	}
	method, args, err := decodeAny(data, chain.RouterABI, chain.ERC20ABI)
	if err != nil {
		return chain.Receipt{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	failure, scripted := f.failures[method.Name]
	if scripted {
		delete(f.failures, method.Name)
		if failure.Err != nil {
			return chain.Receipt{}, failure.Err
		}
	}

	f.block++
	hash := crypto.Keccak256Hash(big.NewInt(int64(f.block)).Bytes(), data)
	if value == nil {
		value = big.NewInt(0)
	}
	f.sent = append(f.sent, SentTx{
		Hash:   hash,
		From:   signer.Address(),
		To:     to,
		Method: method.Name,
		Args:   args,
		Value:  new(big.Int).Set(value),
	})
	if scripted && failure.AfterBroadcast != nil {
		failure.AfterBroadcast()
	}

	if scripted && failure.Unconfirmed {
		return chain.Receipt{TxHash: hash}, fmt.Errorf("%w: %s: %v", chain.ErrNotConfirmed, hash.Hex(), context.Canceled)
	}

	rcpt := chain.Receipt{
		TxHash:      hash,
		Status:      chain.ReceiptSuccess,
		BlockNumber: f.block,
		BlockTime:   f.Now().UTC(),
	}
	if scripted {
		if failure.Revert {
			rcpt.Status = chain.ReceiptFailed
		}
		if !failure.BlockTime.IsZero() {
			rcpt.BlockTime = failure.BlockTime
		}
	}
	return rcpt, nil
}

func decodeAny(data []byte, contracts ...abi.ABI) (*abi.Method, []any, error) {
	var lastErr error
	for _, c := range contracts {
		method, args, err := chain.DecodeCall(c, data)
		if err == nil {
			return method, args, nil
		}
		lastErr = err
	}
	return nil, nil, lastErr
}
