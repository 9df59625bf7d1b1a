package rpc

import (
	"encoding/json"
	"fmt"
	"time"
)

// Endpoint is one JSON-RPC endpoint in the pool. URL and Priority are fixed
// at construction; Latency is the last observed round-trip time and is
// updated by the owning Client.
type Endpoint struct {
	URL      string
	Priority int
	Latency  time.Duration
}

// RetryPolicy bounds the attempts made against a single endpoint before the
// client fails over to the next one. Zero values are replaced with defaults
// (3 attempts, 2s delay) by New.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      uint64 `json:"id"`
}

// Response is a JSON-RPC 2.0 response envelope. Exactly one of Result and
// Error is meaningful.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a structured JSON-RPC error returned by the remote node. It is a
// terminal answer from a healthy endpoint, not a connectivity failure, so it
// never triggers retries or failover.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ConnectivityError reports that every endpoint in the pool exhausted its
// retry budget without producing a response.
type ConnectivityError struct {
	Endpoints int
	Attempts  int
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("could not reach any endpoint after trying %d endpoints with %d attempts each",
		e.Endpoints, e.Attempts)
}
