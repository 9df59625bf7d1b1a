// Package blockchain drives a ledger write end to end: nonce fetch, gas
// estimation, gas price lookup, local EIP-155 signing, broadcast, and receipt
// polling. Every step is issued as a JSON-RPC request through the endpoint
// pool.
//
// The pipeline is strictly ordered and blocking. A failed gas estimate aborts
// before anything reaches the network, so no nonce is consumed and the next
// attempt reuses it. A broadcast is never retried automatically: under an
// already-used nonce a resend risks a duplicate submission, so broadcast
// failures and confirmation timeouts are surfaced as distinct error kinds and
// the caller decides. A confirmation timeout still carries the transaction
// hash: the transaction may land later and should be re-queried by hash,
// never resubmitted.
//
// On-chain reverts are not errors here: a mined receipt with status 0 is a
// valid terminal outcome, distinguished from the transaction never being
// accepted (BroadcastError) or not yet mined (ConfirmationTimeoutError).
package blockchain
