package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/filstash/filstash-sdk-go/pkg/metrics"
)

const (
	defaultMaxAttempts  = 3
	defaultRetryDelay   = 2 * time.Second
	defaultHealthMethod = "eth_blockNumber"

	// failoverPause is the brief pause between switching endpoints,
	// so a pool-wide outage does not turn into a tight loop.
	failoverPause = time.Second
)

// Client executes JSON-RPC requests against an ordered endpoint pool.
//
// The sticky current-endpoint index is unsynchronized state: a Client must be
// confined to a single logical caller, or guarded externally.
type Client struct {
	// HealthMethod is the read-only method used by TestConnectivity.
	// Defaults to eth_blockNumber.
	HealthMethod string

	endpoints []Endpoint
	current   int
	policy    RetryPolicy
	http      *http.Client
	nextID    uint64

	sleep func(time.Duration)
}

// New builds a Client over the given endpoint URLs, in pool order. Zero
// policy fields and a zero timeout are replaced with defaults. At least one
// endpoint is required.
func New(urls []string, policy RetryPolicy, timeout time.Duration) (*Client, error) {
	if len(urls) == 0 {
		return nil, errors.New("at least one RPC endpoint is required")
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = defaultMaxAttempts
	}
	if policy.Delay <= 0 {
		policy.Delay = defaultRetryDelay
	}
	if timeout <= 0 {
		timeout = 45 * time.Second
	}

	endpoints := make([]Endpoint, len(urls))
	for i, u := range urls {
		endpoints[i] = Endpoint{URL: u, Priority: i}
	}

	c := &Client{
		HealthMethod: defaultHealthMethod,
		endpoints:    endpoints,
		policy:       policy,
		http:         &http.Client{Timeout: timeout},
		sleep:        time.Sleep,
	}
	metrics.RPCEndpointIsCurrent.WithLabelValues(c.endpoints[0].URL).Set(1)
	return c, nil
}

// CurrentEndpoint returns a copy of the endpoint the sticky pointer targets.
func (c *Client) CurrentEndpoint() Endpoint {
	return c.endpoints[c.current]
}

// Endpoints returns a copy of the pool in order.
func (c *Client) Endpoints() []Endpoint {
	out := make([]Endpoint, len(c.endpoints))
	copy(out, c.endpoints)
	return out
}

// outcome tags the result of a single attempt against one endpoint.
type outcome int

const (
	outcomeSuccess outcome = iota // got a JSON-RPC envelope back
	outcomeRetry                  // transient, retry the same endpoint
	outcomeNext                   // give up on this endpoint, fail over
)

type attemptResult struct {
	out         outcome
	result      json.RawMessage
	rpcErr      *Error
	rateLimited bool
	cause       error
}

// Request executes one JSON-RPC call, working through the pool from the
// sticky current endpoint. On success the sticky pointer stays on the
// endpoint that answered. A JSON-RPC error from the node is returned as a
// typed *Error. If every endpoint exhausts its retries, the sticky pointer is
// restored to where it started and a *ConnectivityError is returned.
func (c *Client) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	start := c.current

	for hop := 0; hop < len(c.endpoints); hop++ {
		ep := &c.endpoints[c.current]

		for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			res := c.attempt(ctx, ep, method, params)
			switch res.out {
			case outcomeSuccess:
				metrics.RPCAttemptsTotal.WithLabelValues(ep.URL, "success").Inc()
				if res.rpcErr != nil {
					return nil, res.rpcErr
				}
				return res.result, nil

			case outcomeRetry:
				metrics.RPCAttemptsTotal.WithLabelValues(ep.URL, "retry").Inc()
				if attempt < c.policy.MaxAttempts {
					delay := c.policy.Delay
					if res.rateLimited {
						// Back off harder when the node is shedding load.
						delay = c.policy.Delay * time.Duration(attempt)
					}
					zap.L().Debug("retrying RPC request",
						zap.String("endpoint", ep.URL),
						zap.String("method", method),
						zap.Int("attempt", attempt),
						zap.Error(res.cause))
					c.sleep(delay)
					continue
				}

			case outcomeNext:
				metrics.RPCAttemptsTotal.WithLabelValues(ep.URL, "error").Inc()
			}
			break
		}

		if hop < len(c.endpoints)-1 {
			c.advance()
			c.sleep(failoverPause)
		}
	}

	// Nothing answered; leave the pointer where the caller had it.
	c.setCurrent(start)
	zap.L().Error("all RPC endpoints exhausted",
		zap.String("method", method),
		zap.Int("endpoints", len(c.endpoints)),
		zap.Int("attempts", c.policy.MaxAttempts))
	return nil, &ConnectivityError{Endpoints: len(c.endpoints), Attempts: c.policy.MaxAttempts}
}

// Call executes a request and unmarshals the result into out. A nil out
// discards the result.
func (c *Client) Call(ctx context.Context, out any, method string, params ...any) error {
	raw, err := c.Request(ctx, method, params...)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// TestConnectivity issues the configured health method and collapses any
// failure to false.
func (c *Client) TestConnectivity(ctx context.Context) bool {
	_, err := c.Request(ctx, c.HealthMethod)
	return err == nil
}

func (c *Client) attempt(ctx context.Context, ep *Endpoint, method string, params []any) attemptResult {
	if params == nil {
		params = []any{}
	}
	c.nextID++
	body, err := json.Marshal(Request{JSONRPC: "2.0", Method: method, Params: params, ID: c.nextID})
	if err != nil {
		return attemptResult{out: outcomeNext, cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return attemptResult{out: outcomeNext, cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		// Timeouts and connection failures are both retryable here.
		return attemptResult{out: outcomeRetry, cause: err}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			zap.L().Debug("failed to close RPC response body", zap.Error(cerr))
		}
	}()

	ep.Latency = time.Since(started)
	metrics.RPCEndpointLatency.WithLabelValues(ep.URL).Set(ep.Latency.Seconds())

	switch {
	case resp.StatusCode == http.StatusOK:
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return attemptResult{out: outcomeRetry, cause: err}
		}
		var envelope Response
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return attemptResult{out: outcomeRetry, cause: err}
		}
		return attemptResult{out: outcomeSuccess, result: envelope.Result, rpcErr: envelope.Error}

	case resp.StatusCode == http.StatusTooManyRequests:
		metrics.RPCRateLimitsTotal.WithLabelValues(ep.URL).Inc()
		return attemptResult{out: outcomeRetry, rateLimited: true,
			cause: errors.New("rate limited (HTTP 429)")}

	default:
		return attemptResult{out: outcomeNext,
			cause: errors.New("unexpected HTTP status " + resp.Status)}
	}
}

func (c *Client) advance() {
	metrics.RPCEndpointIsCurrent.WithLabelValues(c.endpoints[c.current].URL).Set(0)
	c.current = (c.current + 1) % len(c.endpoints)
	metrics.RPCFailoversTotal.WithLabelValues(c.endpoints[c.current].URL).Inc()
	metrics.RPCEndpointIsCurrent.WithLabelValues(c.endpoints[c.current].URL).Set(1)
	zap.L().Info("switching RPC endpoint", zap.String("endpoint", c.endpoints[c.current].URL))
}

func (c *Client) setCurrent(i int) {
	metrics.RPCEndpointIsCurrent.WithLabelValues(c.endpoints[c.current].URL).Set(0)
	c.current = i
	metrics.RPCEndpointIsCurrent.WithLabelValues(c.endpoints[c.current].URL).Set(1)
}
