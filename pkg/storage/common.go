package storage

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// IpfsPrefix is the URI scheme prefix recognized for IPFS content ids.
const IpfsPrefix = "ipfs://"

// Backend is one upload strategy in the chain. Implementations report
// themselves as disabled when their credential or endpoint is not configured;
// the uploader skips disabled backends without counting an attempt.
type Backend interface {
	Name() string
	Enabled() bool
	Upload(ctx context.Context, data []byte, name string, meta map[string]string) (string, error)
}

// UploadAttempt records the outcome of trying one backend for one upload.
type UploadAttempt struct {
	Backend string `json:"backend"`
	Size    int    `json:"size_bytes"`
	OK      bool   `json:"ok"`
	CID     string `json:"cid,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ContentRecord is the result of a completed upload. CachePath is set only
// when the local fallback produced the id.
type ContentRecord struct {
	ID        string
	Size      int
	Backend   string
	CachePath string
	Attempts  []UploadAttempt
}

// ValidationError reports input rejected before any backend was contacted.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid upload input: " + e.Reason
}

// NotFoundError reports a content id that resolved through neither the local
// cache nor any retrieval gateway.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("content %s not found in cache or on any gateway", e.ID)
}

// IPFSURI returns the ipfs:// URI for a content id.
func IPFSURI(id string) string {
	return IpfsPrefix + id
}

// ValidateSize reports whether a byte count is positive and within maxMB.
func ValidateSize(size int64, maxMB int64) bool {
	return size > 0 && size <= maxMB*1024*1024
}

var cidCharset = regexp.MustCompile("[^a-zA-Z0-9=]")

// formatID strips the ipfs:// prefix and any characters that cannot appear in
// a CID, producing a clean id usable as a cache filename or gateway path.
func formatID(id string) string {
	id = strings.Replace(id, IpfsPrefix, "", -1)
	return cidCharset.ReplaceAllString(id, "")
}
