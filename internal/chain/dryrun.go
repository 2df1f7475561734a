package chain

import (
	"context"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/amirphl/amm-limit-orders/internal/types"
)

// DryRunClient proxies reads to a real client and answers writes with
// synthetic successful receipts, so the whole pipeline can run against live
// prices without spending funds.
type DryRunClient struct {
	real    Client
	log     logrus.FieldLogger
	counter atomic.Uint64
}

func NewDryRunClient(real Client, log logrus.FieldLogger) *DryRunClient {
	return &DryRunClient{real: real, log: log}
}

// ===== PROXY FUNCTIONS =====

func (d *DryRunClient) GetPool(ctx context.Context, tokenA, tokenB common.Address, fee types.FeeTier) (common.Address, error) {
	return d.real.GetPool(ctx, tokenA, tokenB, fee)
}

func (d *DryRunClient) GetReserves(ctx context.Context, pool common.Address) (*big.Int, *big.Int, error) {
	return d.real.GetReserves(ctx, pool)
}

func (d *DryRunClient) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return d.real.Call(ctx, to, data)
}

func (d *DryRunClient) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return d.real.BalanceAt(ctx, account)
}

// ===== MOCK FUNCTIONS =====

func (d *DryRunClient) SendTransaction(ctx context.Context, signer *Signer, to common.Address, data []byte, value *big.Int) (Receipt, error) {
	select {
	case <-ctx.Done():
		return Receipt{}, ctx.Err()
	default:
	}

	n := d.counter.Add(1)
	hash := crypto.Keccak256Hash(new(big.Int).SetUint64(n).Bytes(), to.Bytes(), data)

	d.log.WithFields(logrus.Fields{
		"tx":    hash.Hex(),
		"from":  signer.Address().Hex(),
		"to":    to.Hex(),
		"value": value,
	}).Info("Chain | Dry run, transaction not broadcast")

	return Receipt{
		TxHash:      hash,
		Status:      ReceiptSuccess,
		BlockNumber: n,
		BlockTime:   time.Now().UTC(),
	}, nil
}
