package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/ipfs/kubo/client/rpc"
	"go.uber.org/zap"
)

// kuboBackend pins content to a self-hosted IPFS node through the Kubo HTTP
// API. It is the cheapest backend in the chain when a node is available.
type kuboBackend struct {
	api *rpc.HttpApi
}

// NewKubo returns the Kubo node backend for the given API endpoint. An empty
// URL, or a URL the client cannot be built for, yields a disabled backend.
func NewKubo(apiURL string) Backend {
	if apiURL == "" {
		return &kuboBackend{}
	}
	httpClient := &http.Client{Timeout: 60 * time.Second}
	api, err := rpc.NewURLApiWithClient(apiURL, httpClient)
	if err != nil {
		zap.L().Error("failed to build Kubo API client, backend disabled",
			zap.String("url", apiURL), zap.Error(err))
		return &kuboBackend{}
	}
	return &kuboBackend{api: api}
}

func (b *kuboBackend) Name() string  { return "kubo" }
func (b *kuboBackend) Enabled() bool { return b.api != nil }

func (b *kuboBackend) Upload(ctx context.Context, data []byte, name string, meta map[string]string) (string, error) {
	req := b.api.Request("add")
	req.Body(bytes.NewReader(data))

	resp, err := req.Send(ctx)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := resp.Close(); cerr != nil {
			zap.L().Debug("failed to close Kubo response", zap.Error(cerr))
		}
	}()
	if resp.Error != nil {
		return "", resp.Error
	}

	raw, err := io.ReadAll(resp.Output)
	if err != nil {
		return "", err
	}
	var addResp struct {
		Hash string `json:"Hash"`
	}
	if err := json.Unmarshal(raw, &addResp); err != nil {
		return "", err
	}

	zap.L().Debug("pinned to Kubo node", zap.String("hash", addResp.Hash))
	return addResp.Hash, nil
}
