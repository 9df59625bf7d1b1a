package blockchain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BalanceInfo reports an account balance in wei and in whole ether.
type BalanceInfo struct {
	Address common.Address  `json:"address"`
	Wei     *big.Int        `json:"wei"`
	Eth     decimal.Decimal `json:"eth"`
}

// NetworkInfo is a point-in-time snapshot of chain identity and head height.
// Fields that could not be fetched stay at their zero value.
type NetworkInfo struct {
	ChainID     uint64 `json:"chain_id"`
	BlockNumber uint64 `json:"block_number"`
	GasPrice    string `json:"gas_price_wei,omitempty"`
}

// Balance reads the latest balance of addr. Read-only and best-effort:
// failures are logged and reported as a zero balance rather than returned,
// so status displays never abort a session.
func (p *Pipeline) Balance(ctx context.Context, addr common.Address) BalanceInfo {
	info := BalanceInfo{Address: addr, Wei: new(big.Int), Eth: decimal.Zero}

	var balanceHex string
	if err := p.rpc.Call(ctx, &balanceHex, "eth_getBalance", addr.Hex(), "latest"); err != nil {
		zap.L().Warn("balance read failed", zap.String("address", addr.Hex()), zap.Error(err))
		return info
	}
	wei, err := hexutil.DecodeBig(balanceHex)
	if err != nil {
		zap.L().Warn("undecodable balance", zap.String("raw", balanceHex), zap.Error(err))
		return info
	}

	info.Wei = wei
	weiDec := decimal.NewFromBigInt(wei, 0)
	info.Eth = WeiToEth(&weiDec)
	return info
}

// NetworkInfo snapshots chain id, head block and gas price. Each field is
// fetched independently; a failed read leaves the field zeroed instead of
// failing the snapshot.
func (p *Pipeline) NetworkInfo(ctx context.Context) NetworkInfo {
	var info NetworkInfo

	var chainHex string
	if err := p.rpc.Call(ctx, &chainHex, "eth_chainId"); err == nil {
		if id, err := hexutil.DecodeUint64(chainHex); err == nil {
			info.ChainID = id
		}
	} else {
		zap.L().Warn("chain id read failed", zap.Error(err))
	}

	var blockHex string
	if err := p.rpc.Call(ctx, &blockHex, "eth_blockNumber"); err == nil {
		if n, err := hexutil.DecodeUint64(blockHex); err == nil {
			info.BlockNumber = n
		}
	} else {
		zap.L().Warn("block number read failed", zap.Error(err))
	}

	var priceHex string
	if err := p.rpc.Call(ctx, &priceHex, "eth_gasPrice"); err == nil {
		if price, err := hexutil.DecodeBig(priceHex); err == nil {
			info.GasPrice = price.String()
		}
	} else {
		zap.L().Warn("gas price read failed", zap.Error(err))
	}

	return info
}
