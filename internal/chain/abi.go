package chain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/amirphl/amm-limit-orders/internal/types"
)

const factoryABIJSON = `[
  {"type":"function","name":"getPool","stateMutability":"view",
   "inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"},{"name":"fee","type":"uint24"}],
   "outputs":[{"name":"pool","type":"address"}]}
]`

const poolABIJSON = `[
  {"type":"function","name":"getReserves","stateMutability":"view","inputs":[],
   "outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}]}
]`

const erc20ABIJSON = `[
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable",
   "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

const routerABIJSON = `[
  {"type":"function","name":"swapExactInputSingle","stateMutability":"payable",
   "inputs":[
     {"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"fee","type":"uint24"},
     {"name":"recipient","type":"address"},{"name":"amountIn","type":"uint256"},
     {"name":"amountOutMinimum","type":"uint256"},{"name":"deadline","type":"uint256"}],
   "outputs":[{"name":"amountOut","type":"uint256"}]}
]`

// Contract ABIs used by the engine.
var (
	FactoryABI = mustParseABI(factoryABIJSON)
	PoolABI    = mustParseABI(poolABIJSON)
	ERC20ABI   = mustParseABI(erc20ABIJSON)
	RouterABI  = mustParseABI(routerABIJSON)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("chain: invalid ABI: %v", err))
	}
	return parsed
}

// SwapParams are the arguments of the router's swapExactInputSingle.
type SwapParams struct {
	TokenIn          common.Address
	TokenOut         common.Address
	Fee              types.FeeTier
	Recipient        common.Address
	AmountIn         *big.Int
	AmountOutMinimum *big.Int
	Deadline         time.Time
}

func PackGetPool(tokenA, tokenB common.Address, fee types.FeeTier) ([]byte, error) {
	return FactoryABI.Pack("getPool", tokenA, tokenB, big.NewInt(int64(fee)))
}

func PackGetReserves() ([]byte, error) {
	return PoolABI.Pack("getReserves")
}

func PackDecimals() ([]byte, error) {
	return ERC20ABI.Pack("decimals")
}

func PackBalanceOf(account common.Address) ([]byte, error) {
	return ERC20ABI.Pack("balanceOf", account)
}

func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return ERC20ABI.Pack("approve", spender, amount)
}

func PackSwapExactInputSingle(p SwapParams) ([]byte, error) {
	return RouterABI.Pack("swapExactInputSingle",
		p.TokenIn, p.TokenOut, big.NewInt(int64(p.Fee)), p.Recipient,
		p.AmountIn, p.AmountOutMinimum, big.NewInt(p.Deadline.Unix()))
}

func UnpackGetPool(data []byte) (common.Address, error) {
	out, err := FactoryABI.Unpack("getPool", data)
	if err != nil {
		return common.Address{}, fmt.Errorf("unpack getPool: %w", err)
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, errors.New("unpack getPool: unexpected output type")
	}
	return addr, nil
}

func UnpackGetReserves(data []byte) (*big.Int, *big.Int, error) {
	out, err := PoolABI.Unpack("getReserves", data)
	if err != nil {
		return nil, nil, fmt.Errorf("unpack getReserves: %w", err)
	}
	r0, ok0 := out[0].(*big.Int)
	r1, ok1 := out[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, nil, errors.New("unpack getReserves: unexpected output type")
	}
	return r0, r1, nil
}

func UnpackDecimals(data []byte) (uint8, error) {
	out, err := ERC20ABI.Unpack("decimals", data)
	if err != nil {
		return 0, fmt.Errorf("unpack decimals: %w", err)
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, errors.New("unpack decimals: unexpected output type")
	}
	return d, nil
}

func UnpackBalanceOf(data []byte) (*big.Int, error) {
	out, err := ERC20ABI.Unpack("balanceOf", data)
	if err != nil {
		return nil, fmt.Errorf("unpack balanceOf: %w", err)
	}
	b, ok := out[0].(*big.Int)
	if !ok {
		return nil, errors.New("unpack balanceOf: unexpected output type")
	}
	return b, nil
}

// DecodeCall resolves calldata against contract and returns the method and
// its decoded arguments.
func DecodeCall(contract abi.ABI, data []byte) (*abi.Method, []any, error) {
	if len(data) < 4 {
		return nil, nil, errors.New("calldata shorter than a selector")
	}
	method, err := contract.MethodById(data[:4])
	if err != nil {
		return nil, nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, fmt.Errorf("unpack %s arguments: %w", method.Name, err)
	}
	return method, args, nil
}
