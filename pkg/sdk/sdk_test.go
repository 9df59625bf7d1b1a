package sdk

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/filstash/filstash-sdk-go/internal/testutil/rpcmock"
	"github.com/filstash/filstash-sdk-go/pkg/audit"
	"github.com/filstash/filstash-sdk-go/pkg/blockchain"
	"github.com/filstash/filstash-sdk-go/pkg/config"
	"github.com/filstash/filstash-sdk-go/pkg/rpc"
	"github.com/filstash/filstash-sdk-go/pkg/storage"
)

const testPrivateKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

func testConfig(t *testing.T, endpoint string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Endpoints: []string{endpoint},
		Network:   config.Network{ChainID: "1337", Name: "devnet"},
		CacheDir:  filepath.Join(dir, "cache"),
		AuditPath: filepath.Join(dir, "audit.json"),
		// No storage credentials: every remote backend is disabled and
		// uploads resolve through the local fallback.
	}
}

func newTestClient(t *testing.T, endpoint string, key string) Client {
	t.Helper()
	cfg := testConfig(t, endpoint)
	cfg.PrivateKey = key
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("sdk init failed: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestNew_RejectsBadConfig(t *testing.T) {
	if _, err := New(&config.Config{}); err == nil {
		t.Fatal("expected an error with no endpoints")
	}

	cfg := &config.Config{
		Endpoints: []string{"https://rpc.example.org"},
		Network:   config.Network{ChainID: "not-a-number"},
	}
	if _, err := New(cfg); err == nil {
		t.Fatal("expected an error for a malformed chain id")
	}
}

func TestUpload_FallbackAndAudit(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:0", "")

	record, err := c.Upload(context.Background(), []byte("hello filstash"), "greeting.txt", nil)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if record.ID == "" || record.Backend != "local-fallback" {
		t.Fatalf("unexpected record: %+v", record)
	}

	// The cached copy makes the content immediately downloadable.
	data, err := c.Download(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if string(data) != "hello filstash" {
		t.Fatalf("round trip mismatch: %q", data)
	}

	entries, err := c.History(audit.Filter{Type: audit.TypeUpload})
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != audit.StatusSuccess {
		t.Fatalf("unexpected audit entries: %+v", entries)
	}
	if entries[0].Payload["cid"] != record.ID {
		t.Fatalf("audit cid %v does not match record %s", entries[0].Payload["cid"], record.ID)
	}
}

func TestUpload_EmptyInputAudited(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:0", "")

	_, err := c.Upload(context.Background(), nil, "empty.bin", nil)
	var vErr *storage.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("got %v, want ValidationError", err)
	}

	entries, err := c.History(audit.Filter{Status: audit.StatusFailed})
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one failed entry, got %+v", entries)
	}
}

func TestSubmit_RequiresConfiguredKey(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:0", "")

	_, err := c.Submit(context.Background(), blockchain.CallDescriptor{Name: "noop"})
	if err == nil {
		t.Fatal("expected an error without a configured key")
	}
}

func TestSubmit_EndToEndWithAudit(t *testing.T) {
	srv := rpcmock.New(t)
	srv.HandleResult("eth_getTransactionCount", "0x3")
	srv.HandleResult("eth_estimateGas", "0x5208")
	srv.HandleResult("eth_gasPrice", "0x3b9aca00")
	srv.Handle("eth_sendRawTransaction", func(params []any) (any, *rpc.Error) {
		data, err := hexutil.Decode(params[0].(string))
		if err != nil {
			return nil, &rpc.Error{Code: -32602, Message: err.Error()}
		}
		tx := new(types.Transaction)
		if err := tx.UnmarshalBinary(data); err != nil {
			return nil, &rpc.Error{Code: -32602, Message: err.Error()}
		}
		return tx.Hash().Hex(), nil
	})
	srv.Handle("eth_getTransactionReceipt", func(params []any) (any, *rpc.Error) {
		return map[string]any{
			"transactionHash": params[0],
			"blockNumber":     "0x42",
			"gasUsed":         "0x5208",
			"status":          "0x1",
		}, nil
	})

	c := newTestClient(t, srv.URL, testPrivateKey)
	result, err := c.Submit(context.Background(), blockchain.CallDescriptor{
		To:   common.HexToAddress("0x1f9090aaE28b8a3dCeaDf281B0F12828e676c326"),
		Data: []byte{0x01},
		Name: "storeRecord",
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if result.BlockNumber != 66 || result.Status != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	entry, err := c.FindTransaction(result.Hash.Hex())
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if entry == nil || entry.Status != audit.StatusSuccess {
		t.Fatalf("unexpected audit entry: %+v", entry)
	}

	stats, err := c.Stats()
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.TotalGas != 21000 {
		t.Fatalf("total gas = %d, want 21000", stats.TotalGas)
	}
}

func TestSubmit_EstimationFailureAudited(t *testing.T) {
	srv := rpcmock.New(t)
	srv.HandleResult("eth_getTransactionCount", "0x3")
	srv.HandleError("eth_estimateGas", 3, "execution reverted")

	c := newTestClient(t, srv.URL, testPrivateKey)
	_, err := c.Submit(context.Background(), blockchain.CallDescriptor{Name: "storeRecord"})

	var estErr *blockchain.GasEstimationError
	if !errors.As(err, &estErr) {
		t.Fatalf("got %v, want GasEstimationError", err)
	}
	if n := srv.Calls("eth_sendRawTransaction"); n != 0 {
		t.Fatalf("estimation failure must not broadcast, saw %d", n)
	}

	entries, err := c.History(audit.Filter{Type: audit.TypeTransaction})
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Payload["stage"] != "gas_estimation" {
		t.Fatalf("unexpected audit entries: %+v", entries)
	}
}

func TestConnectivityAndReads(t *testing.T) {
	srv := rpcmock.New(t)
	srv.HandleResult("eth_blockNumber", "0x10")
	srv.HandleResult("eth_chainId", "0x539")
	srv.HandleResult("eth_gasPrice", "0x1")
	srv.HandleResult("eth_getBalance", "0xde0b6b3a7640000")

	c := newTestClient(t, srv.URL, testPrivateKey)

	if !c.TestConnectivity(context.Background()) {
		t.Fatal("connectivity probe failed against a healthy endpoint")
	}

	info := c.NetworkInfo(context.Background())
	if info.ChainID != 1337 || info.BlockNumber != 16 {
		t.Fatalf("unexpected network info: %+v", info)
	}

	addr := c.SignerAddress()
	if addr == nil {
		t.Fatal("signer address missing with a configured key")
	}
	balance := c.Balance(context.Background(), *addr)
	if balance.Wei.Cmp(big.NewInt(1_000_000_000_000_000_000)) != 0 {
		t.Fatalf("balance = %s", balance.Wei)
	}
}

func TestTrimHistory(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:0", "")

	for i := 0; i < 5; i++ {
		if _, err := c.Upload(context.Background(), []byte{byte(i + 1)}, "f.bin", nil); err != nil {
			t.Fatalf("upload %d failed: %v", i, err)
		}
	}

	removed, err := c.TrimHistory(2)
	if err != nil {
		t.Fatalf("trim failed: %v", err)
	}
	if removed != 3 {
		t.Fatalf("removed = %d, want 3", removed)
	}
	entries, err := c.History(audit.Filter{})
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
}
