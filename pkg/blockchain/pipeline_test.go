package blockchain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/filstash/filstash-sdk-go/internal/testutil/rpcmock"
	"github.com/filstash/filstash-sdk-go/pkg/rpc"
)

const testChainID = 1337

func newTestPipeline(t *testing.T, srv *rpcmock.Server) *Pipeline {
	t.Helper()
	client, err := rpc.New([]string{srv.URL}, rpc.RetryPolicy{MaxAttempts: 1, Delay: time.Millisecond}, 5*time.Second)
	if err != nil {
		t.Fatalf("rpc client: %v", err)
	}
	p, err := NewPipeline(client, big.NewInt(testChainID), 1.2, time.Second)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	p.pollInterval = 5 * time.Millisecond
	return p
}

func testKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func testCall() CallDescriptor {
	return CallDescriptor{
		To:   common.HexToAddress("0x1f9090aaE28b8a3dCeaDf281B0F12828e676c326"),
		Data: []byte{0xde, 0xad, 0xbe, 0xef},
		Name: "storeRecord",
	}
}

// captureBroadcast registers an eth_sendRawTransaction handler that decodes
// each signed transaction it receives and echoes the transaction hash back.
func captureBroadcast(t *testing.T, srv *rpcmock.Server, got *[]*types.Transaction) {
	t.Helper()
	srv.Handle("eth_sendRawTransaction", func(params []any) (any, *rpc.Error) {
		raw, ok := params[0].(string)
		if !ok {
			return nil, &rpc.Error{Code: -32602, Message: "raw tx must be a hex string"}
		}
		data, err := hexutil.Decode(raw)
		if err != nil {
			return nil, &rpc.Error{Code: -32602, Message: err.Error()}
		}
		tx := new(types.Transaction)
		if err := tx.UnmarshalBinary(data); err != nil {
			return nil, &rpc.Error{Code: -32602, Message: err.Error()}
		}
		*got = append(*got, tx)
		return tx.Hash().Hex(), nil
	})
}

func TestSubmit_FullPipeline(t *testing.T) {
	srv := rpcmock.New(t)
	srv.HandleResult("eth_getTransactionCount", "0x5")
	srv.HandleResult("eth_estimateGas", "0x5208")
	srv.HandleResult("eth_gasPrice", "0x3b9aca00")

	var broadcast []*types.Transaction
	captureBroadcast(t, srv, &broadcast)
	srv.Handle("eth_getTransactionReceipt", func(params []any) (any, *rpc.Error) {
		return map[string]any{
			"transactionHash": params[0],
			"blockNumber":     "0x10",
			"gasUsed":         "0x5208",
			"status":          "0x1",
		}, nil
	})

	p := newTestPipeline(t, srv)
	result, err := p.Submit(context.Background(), testCall(), testKey(t))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if result.Status != 1 || result.BlockNumber != 16 || result.GasUsed != 21000 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(broadcast) != 1 {
		t.Fatalf("broadcast %d transactions, want 1", len(broadcast))
	}
	tx := broadcast[0]
	if tx.Nonce() != 5 {
		t.Fatalf("nonce = %d, want 5", tx.Nonce())
	}
	// 21000 estimate with the 1.2 safety margin.
	if tx.Gas() != 25200 {
		t.Fatalf("gas limit = %d, want 25200", tx.Gas())
	}
	if tx.GasPrice().Cmp(big.NewInt(1_000_000_000)) != 0 {
		t.Fatalf("gas price = %s", tx.GasPrice())
	}
	if tx.ChainId().Cmp(big.NewInt(testChainID)) != 0 {
		t.Fatalf("chain id = %s, want %d", tx.ChainId(), testChainID)
	}
	if result.Hash != tx.Hash() {
		t.Fatalf("result hash %s does not match broadcast tx %s", result.Hash, tx.Hash())
	}
}

func TestSubmit_EstimationFailureAbortsBeforeBroadcast(t *testing.T) {
	srv := rpcmock.New(t)
	srv.HandleResult("eth_getTransactionCount", "0x7")
	srv.HandleError("eth_estimateGas", 3, "execution reverted")

	p := newTestPipeline(t, srv)
	_, err := p.Submit(context.Background(), testCall(), testKey(t))

	var estErr *GasEstimationError
	if !errors.As(err, &estErr) {
		t.Fatalf("got %v, want GasEstimationError", err)
	}
	if n := srv.Calls("eth_sendRawTransaction"); n != 0 {
		t.Fatalf("estimation failure must not broadcast, saw %d broadcasts", n)
	}
	if n := srv.Calls("eth_gasPrice"); n != 0 {
		t.Fatalf("pipeline continued past a failed estimate, %d gas price calls", n)
	}
}

func TestSubmit_NonceReusedAfterEstimationFailure(t *testing.T) {
	srv := rpcmock.New(t)
	srv.HandleResult("eth_getTransactionCount", "0x7")
	srv.HandleError("eth_estimateGas", 3, "execution reverted")

	p := newTestPipeline(t, srv)
	key := testKey(t)

	if _, err := p.Submit(context.Background(), testCall(), key); err == nil {
		t.Fatal("expected first submit to fail")
	}

	// Corrected call: estimation now succeeds and the same nonce is used,
	// since the failed attempt never consumed it.
	srv.HandleResult("eth_estimateGas", "0x5208")
	srv.HandleResult("eth_gasPrice", "0x3b9aca00")
	var broadcast []*types.Transaction
	captureBroadcast(t, srv, &broadcast)
	srv.Handle("eth_getTransactionReceipt", func(params []any) (any, *rpc.Error) {
		return map[string]any{
			"transactionHash": params[0],
			"blockNumber":     "0x11",
			"gasUsed":         "0x5208",
			"status":          "0x1",
		}, nil
	})

	if _, err := p.Submit(context.Background(), testCall(), key); err != nil {
		t.Fatalf("second submit failed: %v", err)
	}
	if len(broadcast) != 1 || broadcast[0].Nonce() != 7 {
		t.Fatalf("expected one broadcast with nonce 7, got %+v", broadcast)
	}
}

func TestSubmit_BroadcastRejection(t *testing.T) {
	srv := rpcmock.New(t)
	srv.HandleResult("eth_getTransactionCount", "0x2")
	srv.HandleResult("eth_estimateGas", "0x5208")
	srv.HandleResult("eth_gasPrice", "0x3b9aca00")
	srv.HandleError("eth_sendRawTransaction", -32000, "nonce too low")

	p := newTestPipeline(t, srv)
	_, err := p.Submit(context.Background(), testCall(), testKey(t))

	var bErr *BroadcastError
	if !errors.As(err, &bErr) {
		t.Fatalf("got %v, want BroadcastError", err)
	}
	// Exactly one broadcast request: rejections are never retried.
	if n := srv.Calls("eth_sendRawTransaction"); n != 1 {
		t.Fatalf("broadcast attempted %d times, want 1", n)
	}
	if n := srv.Calls("eth_getTransactionReceipt"); n != 0 {
		t.Fatalf("receipt polled after a rejected broadcast, %d calls", n)
	}
}

func TestSubmit_OnChainRevertIsAResultNotAnError(t *testing.T) {
	srv := rpcmock.New(t)
	srv.HandleResult("eth_getTransactionCount", "0x0")
	srv.HandleResult("eth_estimateGas", "0x5208")
	srv.HandleResult("eth_gasPrice", "0x3b9aca00")

	var broadcast []*types.Transaction
	captureBroadcast(t, srv, &broadcast)
	srv.Handle("eth_getTransactionReceipt", func(params []any) (any, *rpc.Error) {
		return map[string]any{
			"transactionHash": params[0],
			"blockNumber":     "0x20",
			"gasUsed":         "0x61a8",
			"status":          "0x0",
		}, nil
	})

	p := newTestPipeline(t, srv)
	result, err := p.Submit(context.Background(), testCall(), testKey(t))
	if err != nil {
		t.Fatalf("a mined revert must not be an error: %v", err)
	}
	if result.Status != 0 {
		t.Fatalf("status = %d, want 0", result.Status)
	}
	if result.GasUsed != 25000 {
		t.Fatalf("gas used = %d, want 25000", result.GasUsed)
	}
}

func TestSubmit_ConfirmationTimeoutCarriesHash(t *testing.T) {
	srv := rpcmock.New(t)
	srv.HandleResult("eth_getTransactionCount", "0x1")
	srv.HandleResult("eth_estimateGas", "0x5208")
	srv.HandleResult("eth_gasPrice", "0x3b9aca00")

	var broadcast []*types.Transaction
	captureBroadcast(t, srv, &broadcast)
	// Receipt never materializes.
	srv.HandleResult("eth_getTransactionReceipt", nil)

	p := newTestPipeline(t, srv)
	p.receiptWait = 30 * time.Millisecond

	_, err := p.Submit(context.Background(), testCall(), testKey(t))

	var toErr *ConfirmationTimeoutError
	if !errors.As(err, &toErr) {
		t.Fatalf("got %v, want ConfirmationTimeoutError", err)
	}
	if len(broadcast) != 1 {
		t.Fatalf("broadcast %d times, want 1", len(broadcast))
	}
	if toErr.Hash != broadcast[0].Hash() {
		t.Fatalf("timeout hash %s does not match broadcast tx %s", toErr.Hash, broadcast[0].Hash())
	}
}

func TestSubmit_RequiresKey(t *testing.T) {
	srv := rpcmock.New(t)
	p := newTestPipeline(t, srv)

	if _, err := p.Submit(context.Background(), testCall(), nil); err == nil {
		t.Fatal("expected an error without a signing key")
	}
	if n := srv.Calls("eth_getTransactionCount"); n != 0 {
		t.Fatalf("key check must run before any network traffic, saw %d calls", n)
	}
}
