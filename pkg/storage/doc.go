// Package storage uploads and retrieves immutable content through a chain of
// credentialed pinning backends with a guaranteed local fallback.
//
// # Backend chain
//
// Upload walks a statically ordered list of backends. A backend whose
// credential is absent is skipped without counting as a failure; an enabled
// backend that errors is recorded and the chain moves on. The first backend
// to answer wins. When no backend is enabled or all of them fail, the
// uploader derives a content id locally, a CIDv1 (raw codec, sha2-256) over
// the exact input bytes, persists the bytes to a content-addressed cache and
// returns that id. For non-empty input, Upload therefore always succeeds.
//
// Supported backends:
//
//   - Pinata (pinFileToIPFS, api-key/secret headers)
//   - web3.storage (bearer token)
//   - nft.storage (bearer token)
//   - a self-hosted IPFS node via the Kubo HTTP API
//
// # Retrieval
//
// Download checks the local cache first, then walks an ordered list of public
// IPFS gateways; any 200 response is taken as-is. When every gateway fails,
// it returns a NotFoundError.
//
// Content ids produced by the fallback are real CIDs but are only guaranteed
// to resolve through this package's cache; nothing has pinned them remotely.
package storage
