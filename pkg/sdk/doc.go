// Package sdk exposes the high-level filstash entry points. It wires together
// the resilient JSON-RPC endpoint pool, the ordered storage backend chain
// with its local fallback, the transaction pipeline, and the audit log, all
// configured from a single validated Config.
package sdk
