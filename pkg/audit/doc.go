// Package audit keeps an append-only record of upload and transaction
// attempts in a single pretty-printed JSON document.
//
// Every append rewrites the whole file (read, append in memory, write back)
// under an in-process mutex. That is safe for any number of goroutines
// sharing one Log, but concurrent writers from separate processes are not
// coordinated and can lose updates, a deliberate limitation at this scale.
// Aggregation is recomputed by a full scan on demand; callers pay O(n) as
// history grows.
package audit
