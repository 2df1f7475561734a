package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/amirphl/amm-limit-orders/internal/types"
)

// EVMClient implements Client over JSON-RPC.
type EVMClient struct {
	eth     *ethclient.Client
	factory common.Address
	log     logrus.FieldLogger
}

// DialEVM connects to rpcURL. factory is the pool factory contract.
func DialEVM(ctx context.Context, rpcURL string, factory common.Address, log logrus.FieldLogger) (*EVMClient, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return &EVMClient{eth: eth, factory: factory, log: log}, nil
}

func (c *EVMClient) ChainID(ctx context.Context) (*big.Int, error) {
	return c.eth.ChainID(ctx)
}

func (c *EVMClient) Close() {
	c.eth.Close()
}

func (c *EVMClient) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

func (c *EVMClient) GetPool(ctx context.Context, tokenA, tokenB common.Address, fee types.FeeTier) (common.Address, error) {
	data, err := PackGetPool(tokenA, tokenB, fee)
	if err != nil {
		return common.Address{}, err
	}
	out, err := c.Call(ctx, c.factory, data)
	if err != nil {
		return common.Address{}, fmt.Errorf("getPool(%s, %s, %s): %w", tokenA, tokenB, fee, err)
	}
	return UnpackGetPool(out)
}

func (c *EVMClient) GetReserves(ctx context.Context, pool common.Address) (*big.Int, *big.Int, error) {
	data, err := PackGetReserves()
	if err != nil {
		return nil, nil, err
	}
	out, err := c.Call(ctx, pool, data)
	if err != nil {
		return nil, nil, fmt.Errorf("getReserves(%s): %w", pool, err)
	}
	return UnpackGetReserves(out)
}

func (c *EVMClient) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return c.eth.BalanceAt(ctx, account, nil)
}

func (c *EVMClient) SendTransaction(ctx context.Context, signer *Signer, to common.Address, data []byte, value *big.Int) (Receipt, error) {
	contract := bind.NewBoundContract(to, abi.ABI{}, c.eth, c.eth, c.eth)
	tx, err := contract.RawTransact(signer.TransactOpts(ctx, value), data)
	if err != nil {
		return Receipt{}, fmt.Errorf("send transaction to %s: %w", to, err)
	}
	c.log.WithFields(logrus.Fields{"tx": tx.Hash().Hex(), "to": to.Hex()}).Info("Chain | Transaction broadcast, waiting for receipt")

	rcpt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return Receipt{TxHash: tx.Hash()}, fmt.Errorf("%w: %s: %v", ErrNotConfirmed, tx.Hash().Hex(), err)
	}

	out := Receipt{
		TxHash:      rcpt.TxHash,
		Status:      rcpt.Status,
		BlockNumber: rcpt.BlockNumber.Uint64(),
		GasUsed:     rcpt.GasUsed,
	}
	header, err := c.eth.HeaderByNumber(ctx, rcpt.BlockNumber)
	if err != nil {
		c.log.WithError(err).WithField("block", out.BlockNumber).Warn("Chain | Failed to fetch block header for receipt")
		return out, nil
	}
	out.BlockTime = time.Unix(int64(header.Time), 0).UTC()
	return out, nil
}
