package blockchain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/filstash/filstash-sdk-go/pkg/rpc"
)

const (
	defaultGasMargin    = 1.2
	defaultReceiptWait  = 90 * time.Second
	defaultPollInterval = 2 * time.Second
)

// CallDescriptor describes one contract call to submit. Name and Params are
// carried into the audit payload only; the wire transaction is built from To,
// Data and Value.
type CallDescriptor struct {
	To     common.Address
	Data   []byte
	Value  *big.Int
	Name   string
	Params map[string]any
}

// Result is the terminal outcome of a confirmed submission. Status 0 means
// the call reverted on chain; 1 means it succeeded.
type Result struct {
	Hash        common.Hash
	BlockNumber uint64
	GasUsed     uint64
	Status      uint64
}

// GasEstimationError reports a pre-broadcast estimation failure: the call
// would revert. Nothing was sent and no nonce was consumed.
type GasEstimationError struct {
	Cause error
}

func (e *GasEstimationError) Error() string {
	return fmt.Sprintf("gas estimation failed, call would revert: %v", e.Cause)
}

func (e *GasEstimationError) Unwrap() error { return e.Cause }

// BroadcastError reports that the network rejected the signed transaction.
type BroadcastError struct {
	Cause error
}

func (e *BroadcastError) Error() string {
	return fmt.Sprintf("broadcast rejected: %v", e.Cause)
}

func (e *BroadcastError) Unwrap() error { return e.Cause }

// ConfirmationTimeoutError reports that no receipt appeared within the bound.
// The transaction may still be mined later: re-query by Hash, do not resubmit.
type ConfirmationTimeoutError struct {
	Hash   common.Hash
	Waited time.Duration
}

func (e *ConfirmationTimeoutError) Error() string {
	return fmt.Sprintf("no receipt for %s after %s; transaction may still confirm, re-query by hash", e.Hash, e.Waited)
}

// Pipeline builds, signs, broadcasts and confirms transactions for one chain.
type Pipeline struct {
	rpc          *rpc.Client
	chainID      *big.Int
	gasMargin    float64
	receiptWait  time.Duration
	pollInterval time.Duration
}

// NewPipeline wires a pipeline to an RPC client and chain id. A gasMargin of
// zero defaults to 1.2; a zero receiptWait defaults to 90s.
func NewPipeline(client *rpc.Client, chainID *big.Int, gasMargin float64, receiptWait time.Duration) (*Pipeline, error) {
	if client == nil {
		return nil, errors.New("rpc client is required")
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, errors.New("a positive chain id is required")
	}
	if gasMargin < 1 {
		gasMargin = defaultGasMargin
	}
	if receiptWait <= 0 {
		receiptWait = defaultReceiptWait
	}
	return &Pipeline{
		rpc:          client,
		chainID:      chainID,
		gasMargin:    gasMargin,
		receiptWait:  receiptWait,
		pollInterval: defaultPollInterval,
	}, nil
}

// rpcReceipt is the subset of eth_getTransactionReceipt this pipeline needs.
type rpcReceipt struct {
	TransactionHash common.Hash    `json:"transactionHash"`
	BlockNumber     hexutil.Uint64 `json:"blockNumber"`
	GasUsed         hexutil.Uint64 `json:"gasUsed"`
	Status          hexutil.Uint64 `json:"status"`
}

// Submit runs the full ordered pipeline for call and blocks until the
// transaction is confirmed or a step fails. See the package doc for the error
// contract of each step.
func (p *Pipeline) Submit(ctx context.Context, call CallDescriptor, key *ecdsa.PrivateKey) (*Result, error) {
	if key == nil {
		return nil, errors.New("private key is required for transactions")
	}
	from := crypto.PubkeyToAddress(key.PublicKey)

	// 1. Account nonce.
	var nonceHex string
	if err := p.rpc.Call(ctx, &nonceHex, "eth_getTransactionCount", from.Hex(), "pending"); err != nil {
		return nil, fmt.Errorf("failed to fetch nonce: %w", err)
	}
	nonce, err := hexutil.DecodeUint64(nonceHex)
	if err != nil {
		return nil, fmt.Errorf("undecodable nonce %q: %w", nonceHex, err)
	}
	zap.L().Debug("nonce fetched", zap.Uint64("nonce", nonce), zap.String("from", from.Hex()))

	// 2. Gas estimate. A failure here means the call would revert; abort
	// before anything reaches the network.
	msg := map[string]any{
		"from": from.Hex(),
		"to":   call.To.Hex(),
		"data": hexutil.Encode(call.Data),
	}
	if call.Value != nil && call.Value.Sign() > 0 {
		msg["value"] = hexutil.EncodeBig(call.Value)
	}
	var gasHex string
	if err := p.rpc.Call(ctx, &gasHex, "eth_estimateGas", msg); err != nil {
		zap.L().Warn("gas estimation failed", zap.String("call", call.Name), zap.Error(err))
		return nil, &GasEstimationError{Cause: err}
	}
	estimate, err := hexutil.DecodeUint64(gasHex)
	if err != nil {
		return nil, &GasEstimationError{Cause: fmt.Errorf("undecodable estimate %q: %w", gasHex, err)}
	}
	gasLimit := uint64(float64(estimate) * p.gasMargin)
	zap.L().Debug("gas estimated", zap.Uint64("estimate", estimate), zap.Uint64("limit", gasLimit))

	// 3. Gas price.
	var priceHex string
	if err := p.rpc.Call(ctx, &priceHex, "eth_gasPrice"); err != nil {
		return nil, fmt.Errorf("failed to fetch gas price: %w", err)
	}
	gasPrice, err := hexutil.DecodeBig(priceHex)
	if err != nil {
		return nil, fmt.Errorf("undecodable gas price %q: %w", priceHex, err)
	}

	// 4. Assemble.
	to := call.To
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     call.Data,
	})

	// 5. Sign locally.
	signed, err := types.SignTx(tx, types.NewEIP155Signer(p.chainID), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode signed transaction: %w", err)
	}

	// 6. Broadcast. Never retried: a resend under this nonce risks a
	// duplicate submission.
	var hashHex string
	if err := p.rpc.Call(ctx, &hashHex, "eth_sendRawTransaction", hexutil.Encode(raw)); err != nil {
		zap.L().Error("broadcast rejected", zap.String("call", call.Name), zap.Error(err))
		return nil, &BroadcastError{Cause: err}
	}
	hash := common.HexToHash(hashHex)
	zap.L().Info("transaction broadcast",
		zap.String("hash", hash.Hex()),
		zap.Uint64("nonce", nonce),
		zap.String("call", call.Name))

	// 7. Wait for the receipt.
	receipt, err := p.waitReceipt(ctx, hash)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Hash:        hash,
		BlockNumber: uint64(receipt.BlockNumber),
		GasUsed:     uint64(receipt.GasUsed),
		Status:      uint64(receipt.Status),
	}
	if result.Status == 0 {
		zap.L().Warn("transaction reverted on chain", zap.String("hash", hash.Hex()))
	}
	return result, nil
}

func (p *Pipeline) waitReceipt(ctx context.Context, hash common.Hash) (*rpcReceipt, error) {
	deadline := time.Now().Add(p.receiptWait)
	for {
		var receipt *rpcReceipt
		if err := p.rpc.Call(ctx, &receipt, "eth_getTransactionReceipt", hash.Hex()); err != nil {
			return nil, fmt.Errorf("receipt lookup failed: %w", err)
		}
		if receipt != nil {
			return receipt, nil
		}
		if time.Now().After(deadline) {
			return nil, &ConfirmationTimeoutError{Hash: hash, Waited: p.receiptWait}
		}
		select {
		case <-time.After(p.pollInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
