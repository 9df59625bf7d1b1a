// Package rpc implements a JSON-RPC 2.0 client over an ordered pool of HTTPS
// endpoints with per-endpoint retries and sticky failover.
//
// The pool order is fixed at construction; the only mutable state is the
// "current endpoint" index, which is pinned to whichever endpoint answered
// last. A rate-limited response (HTTP 429) is retried on the same endpoint
// with a growing pause; timeouts and connection failures are retried on the
// same endpoint up to the retry limit and then trigger failover to the next
// endpoint in order, wrapping around the pool. Only when every endpoint has
// exhausted its retries does a request fail, with a ConnectivityError that
// reports how much was tried.
//
// # Usage
//
//	client, err := rpc.New([]string{
//		"https://rpc.ankr.com/filecoin_testnet",
//		"https://api.calibration.node.glif.io/rpc/v1",
//	}, rpc.RetryPolicy{}, 45*time.Second)
//	if err != nil {
//		// no endpoints configured
//	}
//
//	var head json.RawMessage
//	err = client.Call(ctx, &head, "Filecoin.ChainHead")
//
// A Client instance confines its sticky pointer to one logical caller. Share
// nothing: concurrent tasks should each construct their own Client, or guard
// a shared one with an external lock.
package rpc
