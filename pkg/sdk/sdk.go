package sdk

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/filstash/filstash-sdk-go/pkg/audit"
	"github.com/filstash/filstash-sdk-go/pkg/blockchain"
	"github.com/filstash/filstash-sdk-go/pkg/config"
	"github.com/filstash/filstash-sdk-go/pkg/rpc"
	"github.com/filstash/filstash-sdk-go/pkg/storage"
)

// Production storage API endpoints. Backends whose credential is absent from
// the configuration are constructed disabled and skipped by the uploader.
const (
	web3StorageAPI = "https://api.web3.storage"
	nftStorageAPI  = "https://api.nft.storage"
	pinataAPI      = "https://api.pinata.cloud"
)

// Client is the public interface of an initialized SDK instance.
type Client interface {
	// Upload pushes content through the backend chain and records the
	// terminal outcome in the audit log.
	Upload(ctx context.Context, data []byte, name string, meta map[string]string) (*storage.ContentRecord, error)

	// UploadJSON marshals v and uploads it as "<name>.json".
	UploadJSON(ctx context.Context, v any, name string) (*storage.ContentRecord, error)

	// Download resolves a content id via the local cache and the gateway
	// list.
	Download(ctx context.Context, id string) ([]byte, error)

	// DownloadJSON downloads a content id and unmarshals it into out.
	DownloadJSON(ctx context.Context, id string, out any) error

	// GatewayURL returns the public HTTP URL for a content id.
	GatewayURL(id string) string

	// Submit runs the full transaction pipeline for call and records the
	// outcome in the audit log. Requires a configured private key.
	Submit(ctx context.Context, call blockchain.CallDescriptor) (*blockchain.Result, error)

	// TestConnectivity probes the endpoint pool with the health method.
	TestConnectivity(ctx context.Context) bool

	// Balance reads the latest balance of addr, best-effort.
	Balance(ctx context.Context, addr common.Address) blockchain.BalanceInfo

	// NetworkInfo snapshots chain id, head block and gas price, best-effort.
	NetworkInfo(ctx context.Context) blockchain.NetworkInfo

	// SignerAddress returns the address of the configured key, or nil when
	// running without one.
	SignerAddress() *common.Address

	// History returns audit entries matching the filter, oldest first.
	History(f audit.Filter) ([]audit.Entry, error)

	// Stats aggregates the audit log on demand.
	Stats() (*audit.Stats, error)

	// TrimHistory keeps only the newest keepLastN audit entries.
	TrimHistory(keepLastN int) (int, error)

	// FindTransaction returns the newest audit entry for a transaction hash.
	FindTransaction(hash string) (*audit.Entry, error)

	// Close flushes buffered log output.
	Close()
}

// init configures a default global zap logger for the SDK. Applications may
// replace it with zap.ReplaceGlobals(...) if they need custom logging.
func init() {
	c := zap.Config{
		Level:            zap.NewAtomicLevelAt(zap.InfoLevel),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := c.Build()
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(logger)
}

// Core is the concrete SDK implementation.
type Core struct {
	rpc      *rpc.Client
	uploader *storage.Uploader
	pipeline *blockchain.Pipeline
	log      *audit.Log
	cfg      *config.Config
	prvKey   *ecdsa.PrivateKey
}

// New initializes the SDK from a validated configuration. A missing or
// unparseable private key only disables signed operations; everything else
// must be well formed.
func New(cfg *config.Config) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.Retry = cfg.Retry.WithDefaults()
	cfg.Timeouts = cfg.Timeouts.WithDefaults()

	if cfg.Debug {
		if logger, err := zap.NewDevelopment(); err == nil {
			zap.ReplaceGlobals(logger)
		}
	}

	chainID, ok := new(big.Int).SetString(cfg.Network.ChainID, 10)
	if !ok {
		return nil, fmt.Errorf("invalid chain id %q", cfg.Network.ChainID)
	}

	rpcClient, err := rpc.New(cfg.Endpoints,
		rpc.RetryPolicy{MaxAttempts: cfg.Retry.MaxAttempts, Delay: cfg.Retry.Delay},
		cfg.Timeouts.RPCRequest)
	if err != nil {
		return nil, err
	}
	rpcClient.HealthMethod = cfg.HealthMethod

	pipeline, err := blockchain.NewPipeline(rpcClient, chainID, cfg.GasMargin, cfg.Timeouts.ReceiptWait)
	if err != nil {
		return nil, err
	}

	backends := []storage.Backend{
		storage.NewWeb3Storage(web3StorageAPI, cfg.Web3StorageToken),
		storage.NewNFTStorage(nftStorageAPI, cfg.NFTStorageToken),
		storage.NewPinata(pinataAPI, cfg.PinataAPIKey, cfg.PinataSecretKey),
		storage.NewKubo(cfg.IpfsAPIURL),
	}
	uploader := storage.NewUploader(backends, cfg.Gateways, cfg.CacheDir,
		cfg.Timeouts.Upload, cfg.Timeouts.Download)

	var prvKey *ecdsa.PrivateKey
	if cfg.PrivateKey != "" {
		address, key, err := blockchain.ParsePrivateKeyECDSA(cfg.PrivateKey)
		if err != nil {
			zap.L().Warn("signed operations disabled: private key parsing failed", zap.Error(err))
		} else {
			prvKey = key
			zap.L().Debug("signer configured", zap.String("addr", address.Hex()))
		}
	}

	return &Core{
		rpc:      rpcClient,
		uploader: uploader,
		pipeline: pipeline,
		log:      audit.New(cfg.AuditPath),
		cfg:      cfg,
		prvKey:   prvKey,
	}, nil
}

// Upload pushes data through the backend chain. The audit log receives one
// entry per terminal outcome: the succeeding backend (or the local fallback)
// with every failed attempt embedded, or a failed entry when the input is
// rejected.
func (c *Core) Upload(ctx context.Context, data []byte, name string, meta map[string]string) (*storage.ContentRecord, error) {
	record, err := c.uploader.Upload(ctx, data, name, meta)
	if err != nil {
		c.appendAudit(audit.TypeUpload, audit.StatusFailed, map[string]any{
			"name":  name,
			"error": err.Error(),
		})
		return nil, err
	}

	c.appendAudit(audit.TypeUpload, audit.StatusSuccess, map[string]any{
		"name":       name,
		"cid":        record.ID,
		"backend":    record.Backend,
		"size_bytes": record.Size,
		"attempts":   record.Attempts,
	})
	return record, nil
}

// UploadJSON marshals v (indented) and uploads it as "<name>.json".
func (c *Core) UploadJSON(ctx context.Context, v any, name string) (*storage.ContentRecord, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return c.Upload(ctx, data, name+".json", nil)
}

// Download resolves a content id via the local cache and the gateway list.
func (c *Core) Download(ctx context.Context, id string) ([]byte, error) {
	return c.uploader.Download(ctx, id)
}

// DownloadJSON downloads a content id and unmarshals it into out.
func (c *Core) DownloadJSON(ctx context.Context, id string, out any) error {
	return c.uploader.DownloadJSON(ctx, id, out)
}

// GatewayURL returns the public HTTP URL for a content id.
func (c *Core) GatewayURL(id string) string {
	return c.uploader.GatewayURL(id)
}

// Submit runs the transaction pipeline for call. Every terminal outcome is
// recorded: pipeline failures as failed entries tagged with the failing
// stage, mined transactions as success or failed according to their receipt
// status.
func (c *Core) Submit(ctx context.Context, call blockchain.CallDescriptor) (*blockchain.Result, error) {
	if c.prvKey == nil {
		return nil, errors.New("private key not configured")
	}

	// Overall deadline: the submit phase plus the receipt wait.
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeouts.ChainSubmit+c.cfg.Timeouts.ReceiptWait)
	defer cancel()

	result, err := c.pipeline.Submit(ctx, call, c.prvKey)
	if err != nil {
		c.appendAudit(audit.TypeTransaction, audit.StatusFailed, map[string]any{
			"call":   call.Name,
			"params": call.Params,
			"stage":  submitStage(err),
			"error":  err.Error(),
		})
		return nil, err
	}

	status := audit.StatusSuccess
	if result.Status == 0 {
		status = audit.StatusFailed
	}
	c.appendAudit(audit.TypeTransaction, status, map[string]any{
		"call":         call.Name,
		"params":       call.Params,
		"tx_hash":      result.Hash.Hex(),
		"block_number": result.BlockNumber,
		"gas_used":     result.GasUsed,
	})
	return result, nil
}

// submitStage labels which pipeline step a submission died in.
func submitStage(err error) string {
	var (
		estErr  *blockchain.GasEstimationError
		bErr    *blockchain.BroadcastError
		waitErr *blockchain.ConfirmationTimeoutError
		connErr *rpc.ConnectivityError
	)
	switch {
	case errors.As(err, &estErr):
		return "gas_estimation"
	case errors.As(err, &bErr):
		return "broadcast"
	case errors.As(err, &waitErr):
		return "confirmation"
	case errors.As(err, &connErr):
		return "connectivity"
	default:
		return "pipeline"
	}
}

// TestConnectivity probes the endpoint pool with the configured health method.
func (c *Core) TestConnectivity(ctx context.Context) bool {
	return c.rpc.TestConnectivity(ctx)
}

// Balance reads the latest balance of addr, best-effort.
func (c *Core) Balance(ctx context.Context, addr common.Address) blockchain.BalanceInfo {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeouts.ChainRead)
	defer cancel()
	return c.pipeline.Balance(ctx, addr)
}

// NetworkInfo snapshots chain id, head block and gas price, best-effort.
func (c *Core) NetworkInfo(ctx context.Context) blockchain.NetworkInfo {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeouts.ChainRead)
	defer cancel()
	return c.pipeline.NetworkInfo(ctx)
}

// SignerAddress returns the address of the configured key, or nil.
func (c *Core) SignerAddress() *common.Address {
	return blockchain.GetAddressFromPrivateKeyECDSA(c.prvKey)
}

// History returns audit entries matching the filter, oldest first.
func (c *Core) History(f audit.Filter) ([]audit.Entry, error) {
	return c.log.Query(f)
}

// Stats aggregates the audit log on demand.
func (c *Core) Stats() (*audit.Stats, error) {
	return c.log.Aggregate()
}

// TrimHistory keeps only the newest keepLastN audit entries and reports how
// many were removed.
func (c *Core) TrimHistory(keepLastN int) (int, error) {
	return c.log.Trim(keepLastN)
}

// FindTransaction returns the newest audit entry for a transaction hash, or
// nil when none matches.
func (c *Core) FindTransaction(hash string) (*audit.Entry, error) {
	return c.log.FindTransaction(hash)
}

// Close flushes buffered log output.
func (c *Core) Close() {
	_ = zap.L().Sync()
}

// appendAudit records an entry, logging instead of failing the operation when
// the log itself is unwritable. The log is kept bounded at DefaultRetention
// entries; trims are a noop below the cap.
func (c *Core) appendAudit(t audit.EntryType, status string, payload map[string]any) {
	if _, err := c.log.Append(t, status, payload); err != nil {
		zap.L().Error("failed to append audit entry", zap.Error(err))
		return
	}
	if _, err := c.log.Trim(audit.DefaultRetention); err != nil {
		zap.L().Error("failed to trim audit log", zap.Error(err))
	}
}
