package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"go.uber.org/zap"

	"github.com/filstash/filstash-sdk-go/pkg/metrics"
)

// fallbackBackendName tags attempts resolved by the local deterministic id.
const fallbackBackendName = "local-fallback"

// Uploader drives the backend chain and the local cache. The backend and
// gateway lists are fixed at construction.
type Uploader struct {
	backends        []Backend
	gateways        []string
	cacheDir        string
	uploadTimeout   time.Duration
	downloadTimeout time.Duration
	client          *http.Client
}

// NewUploader builds an Uploader over the given ordered backends and
// retrieval gateways. cacheDir hosts the content-addressed fallback cache and
// is created lazily on first use.
func NewUploader(backends []Backend, gateways []string, cacheDir string, uploadTimeout, downloadTimeout time.Duration) *Uploader {
	if uploadTimeout <= 0 {
		uploadTimeout = 60 * time.Second
	}
	if downloadTimeout <= 0 {
		downloadTimeout = 30 * time.Second
	}
	return &Uploader{
		backends:        backends,
		gateways:        gateways,
		cacheDir:        cacheDir,
		uploadTimeout:   uploadTimeout,
		downloadTimeout: downloadTimeout,
		client:          &http.Client{},
	}
}

// Upload pushes data through the backend chain and returns the resulting
// content record. Disabled backends are skipped; failing backends are
// recorded in the returned Attempts and the chain moves on. When nothing
// remote succeeds, the deterministic local fallback id is computed and the
// bytes are cached under it, so Upload cannot fail for non-empty input.
//
// Zero-length input is rejected with a ValidationError before any backend is
// contacted.
func (u *Uploader) Upload(ctx context.Context, data []byte, name string, meta map[string]string) (*ContentRecord, error) {
	if len(data) == 0 {
		return nil, &ValidationError{Reason: "file is empty (0 bytes)"}
	}

	record := &ContentRecord{Size: len(data)}

	for _, b := range u.backends {
		if !b.Enabled() {
			zap.L().Debug("backend not configured, skipping", zap.String("backend", b.Name()))
			continue
		}

		zap.L().Info("trying storage backend",
			zap.String("backend", b.Name()),
			zap.String("name", name),
			zap.Int("size", len(data)))

		bctx, cancel := context.WithTimeout(ctx, u.uploadTimeout)
		id, err := b.Upload(bctx, data, name, meta)
		cancel()

		if err != nil {
			zap.L().Warn("backend upload failed",
				zap.String("backend", b.Name()), zap.Error(err))
			metrics.UploadAttemptsTotal.WithLabelValues(b.Name(), "failed").Inc()
			record.Attempts = append(record.Attempts, UploadAttempt{
				Backend: b.Name(), Size: len(data), Error: err.Error(),
			})
			continue
		}

		metrics.UploadAttemptsTotal.WithLabelValues(b.Name(), "success").Inc()
		record.Attempts = append(record.Attempts, UploadAttempt{
			Backend: b.Name(), Size: len(data), OK: true, CID: id,
		})
		record.ID = id
		record.Backend = b.Name()
		return record, nil
	}

	// No backend answered; derive the id locally and keep the bytes.
	id, err := FallbackID(data)
	if err != nil {
		return nil, fmt.Errorf("failed to derive fallback content id: %w", err)
	}
	zap.L().Warn("all backends unavailable, using local fallback id",
		zap.String("cid", id))

	cachePath, err := u.cache(id, data)
	if err != nil {
		// The id is still a pure function of the bytes; losing the cache
		// copy only degrades later downloads.
		zap.L().Error("failed to persist fallback cache copy", zap.Error(err))
	} else {
		record.CachePath = cachePath
	}

	metrics.UploadAttemptsTotal.WithLabelValues(fallbackBackendName, "fallback").Inc()
	record.Attempts = append(record.Attempts, UploadAttempt{
		Backend: fallbackBackendName, Size: len(data), OK: true, CID: id,
	})
	record.ID = id
	record.Backend = fallbackBackendName
	return record, nil
}

// UploadJSON marshals v (indented, for inspectability at the other end) and
// uploads it as "<name>.json".
func (u *Uploader) UploadJSON(ctx context.Context, v any, name string) (*ContentRecord, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return u.Upload(ctx, data, name+".json", nil)
}

// Download resolves a content id to its bytes: local cache first, then each
// retrieval gateway in order. Every gateway failing yields a NotFoundError.
func (u *Uploader) Download(ctx context.Context, id string) ([]byte, error) {
	id = formatID(id)

	if data, err := os.ReadFile(u.cachePath(id)); err == nil {
		zap.L().Debug("content served from local cache", zap.String("cid", id))
		return data, nil
	}

	for _, gw := range u.gateways {
		data, err := u.fetchGateway(ctx, gw, id)
		if err != nil {
			zap.L().Debug("gateway fetch failed",
				zap.String("gateway", gw), zap.String("cid", id), zap.Error(err))
			metrics.GatewayDownloadsTotal.WithLabelValues(gw, "failed").Inc()
			continue
		}
		metrics.GatewayDownloadsTotal.WithLabelValues(gw, "success").Inc()
		return data, nil
	}

	return nil, &NotFoundError{ID: id}
}

// DownloadJSON downloads a content id and unmarshals it into out.
func (u *Uploader) DownloadJSON(ctx context.Context, id string, out any) error {
	data, err := u.Download(ctx, id)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// GatewayURL returns the HTTP URL for a content id on the first configured
// gateway, or the bare id when no gateway is configured.
func (u *Uploader) GatewayURL(id string) string {
	if len(u.gateways) == 0 {
		return id
	}
	return u.gateways[0] + formatID(id)
}

// FallbackID derives the deterministic local content id for data: a CIDv1
// with the raw codec over the sha2-256 multihash of the exact bytes.
// Identical bytes always yield the identical id.
func FallbackID(data []byte) (string, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	return cid.NewCidV1(cid.Raw, mh).String(), nil
}

func (u *Uploader) fetchGateway(ctx context.Context, gateway, id string) ([]byte, error) {
	gctx, cancel := context.WithTimeout(ctx, u.downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(gctx, http.MethodGet, gateway+id, nil)
	if err != nil {
		return nil, err
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			zap.L().Debug("failed to close gateway response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func (u *Uploader) cachePath(id string) string {
	return filepath.Join(u.cacheDir, id+".dat")
}

func (u *Uploader) cache(id string, data []byte) (string, error) {
	if err := os.MkdirAll(u.cacheDir, 0o755); err != nil {
		return "", err
	}
	path := u.cachePath(id)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
