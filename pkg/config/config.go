// Package config defines the runtime configuration for the SDK: the ordered
// RPC endpoint pool, network selection, storage backend credentials, gateway
// list, audit log location, debug mode, and operation timeouts. It also
// provides validation and defaulting helpers.
package config

import (
	"errors"
	"time"
)

// Config holds all SDK settings required to initialize the RPC pool, the
// content uploader and the transaction pipeline.
// Use Validate to fill implicit defaults and to check for required fields.
type Config struct {
	// Endpoints is the ordered JSON-RPC endpoint pool, most preferred first
	// (required).
	Endpoints []string `json:"endpoints" yaml:"endpoints"`
	// HealthMethod is the read-only RPC method used for connectivity probes.
	// Default: eth_blockNumber.
	HealthMethod string `json:"health_method" yaml:"health_method"`
	// Network selects the target chain (chain ID and human-readable name).
	Network Network `json:"network" yaml:"network"`
	// PrivateKey is the hex-encoded ECDSA private key used for signed
	// operations (optional if you only do read-only operations).
	PrivateKey string `json:"private_key" yaml:"private_key"`
	// GasMargin multiplies gas estimates before signing. Default: 1.2.
	GasMargin float64 `json:"gas_margin" yaml:"gas_margin"`

	// PinataAPIKey and PinataSecretKey enable the Pinata upload backend.
	PinataAPIKey    string `json:"pinata_api_key" yaml:"pinata_api_key"`
	PinataSecretKey string `json:"pinata_secret_key" yaml:"pinata_secret_key"`
	// Web3StorageToken enables the web3.storage upload backend.
	Web3StorageToken string `json:"web3_storage_token" yaml:"web3_storage_token"`
	// NFTStorageToken enables the nft.storage upload backend.
	NFTStorageToken string `json:"nft_storage_token" yaml:"nft_storage_token"`
	// IpfsAPIURL is the HTTP API endpoint of a self-hosted IPFS node used as
	// an upload backend (optional).
	IpfsAPIURL string `json:"ipfs_api_url" yaml:"ipfs_api_url"`

	// Gateways are the public HTTP gateways tried in order for downloads.
	// Defaults to ipfs.io, Cloudflare and the Pinata gateway.
	Gateways []string `json:"gateways" yaml:"gateways"`
	// CacheDir is where locally derived content is persisted.
	// Default: .filstash/cache
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`
	// AuditPath is the audit log document location.
	// Default: .filstash/audit.json
	AuditPath string `json:"audit_path" yaml:"audit_path"`

	// Retry bounds per-endpoint RPC retries. See Retry.WithDefaults.
	Retry Retry `json:"retry" yaml:"retry"`
	// Debug enables verbose logging.
	Debug bool `json:"debug" yaml:"debug"`
	// Timeouts configures per-operation timeouts. See Timeouts.WithDefaults.
	Timeouts Timeouts `json:"timeouts" yaml:"timeouts"`
}

// Network describes a blockchain network (chain ID and name). ChainID is used
// for EIP-155 signing; Name is informational.
type Network struct {
	ChainID string `json:"chain_id"`
	Name    string `json:"network_name"`
}

// Sepolia is a predefined Network for Ethereum Sepolia testnet.
var Sepolia = Network{
	ChainID: "11155111",
	Name:    "sepolia",
}

// Main is a predefined Network for Ethereum mainnet.
var Main = Network{
	ChainID: "1",
	Name:    "main",
}

// Retry bounds the attempts made against a single RPC endpoint before the
// pool fails over. Zero values will be replaced in WithDefaults.
type Retry struct {
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts"`
	Delay       time.Duration `json:"delay" yaml:"delay"`
}

// Timeouts controls SDK operation deadlines.
// Zero values will be replaced by sane defaults in WithDefaults.
type Timeouts struct {
	RPCRequest  time.Duration // one HTTP round trip to an RPC endpoint
	Upload      time.Duration // one storage backend upload
	Download    time.Duration // one gateway fetch
	ChainRead   time.Duration // balance, network info
	ChainSubmit time.Duration // send tx
	ReceiptWait time.Duration // wait tx
}

// Validate normalizes the configuration by applying implicit defaults for
// HealthMethod, GasMargin, Gateways, CacheDir, AuditPath and Network
// (defaults to Sepolia) and verifies that at least one endpoint is provided.
func (c *Config) Validate() error {

	if c.HealthMethod == "" {
		c.HealthMethod = "eth_blockNumber"
	}

	if c.GasMargin < 1 {
		c.GasMargin = 1.2
	}

	if len(c.Gateways) == 0 {
		c.Gateways = []string{
			"https://ipfs.io/ipfs/",
			"https://cloudflare-ipfs.com/ipfs/",
			"https://gateway.pinata.cloud/ipfs/",
		}
	}

	if c.CacheDir == "" {
		c.CacheDir = ".filstash/cache"
	}

	if c.AuditPath == "" {
		c.AuditPath = ".filstash/audit.json"
	}

	if c.Network.ChainID == "" {
		c.Network = Sepolia
	}

	if len(c.Endpoints) == 0 {
		return errors.New("at least one RPC endpoint is required")
	}

	return nil
}

// WithDefaults returns a copy of r with zero values replaced by defaults:
//
//	MaxAttempts: 3
//	Delay:       2s
func (r Retry) WithDefaults() Retry {
	rr := r
	if rr.MaxAttempts == 0 {
		rr.MaxAttempts = 3
	}
	if rr.Delay == 0 {
		rr.Delay = 2 * time.Second
	}
	return rr
}

// WithDefaults returns a copy of t with zero values replaced by defaults:
//
//	RPCRequest:  45s
//	Upload:      60s
//	Download:    30s
//	ChainRead:   12s
//	ChainSubmit: 25s
//	ReceiptWait: 90s
func (t Timeouts) WithDefaults() Timeouts {
	tt := t
	if tt.RPCRequest == 0 {
		tt.RPCRequest = 45 * time.Second
	}
	if tt.Upload == 0 {
		tt.Upload = 60 * time.Second
	}
	if tt.Download == 0 {
		tt.Download = 30 * time.Second
	}
	if tt.ChainRead == 0 {
		tt.ChainRead = 12 * time.Second
	}
	if tt.ChainSubmit == 0 {
		tt.ChainSubmit = 25 * time.Second
	}
	if tt.ReceiptWait == 0 {
		tt.ReceiptWait = 90 * time.Second
	}
	return tt
}
