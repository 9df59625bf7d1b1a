package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"go.uber.org/zap"
)

// bearerBackend uploads via a multipart POST with a bearer-token header and
// extracts the returned content id from a backend-specific JSON field.
// Covers web3.storage and nft.storage, which share the same wire shape.
type bearerBackend struct {
	name      string
	uploadURL string
	token     string
	cidPath   []string
	client    *http.Client
}

// NewWeb3Storage returns the web3.storage backend. The backend is disabled
// when token is empty. baseURL is the API root, e.g. https://api.web3.storage.
func NewWeb3Storage(baseURL, token string) Backend {
	return &bearerBackend{
		name:      "web3.storage",
		uploadURL: baseURL + "/upload",
		token:     token,
		cidPath:   []string{"cid"},
		client:    http.DefaultClient,
	}
}

// NewNFTStorage returns the nft.storage backend. The backend is disabled when
// token is empty.
func NewNFTStorage(baseURL, token string) Backend {
	return &bearerBackend{
		name:      "nft.storage",
		uploadURL: baseURL + "/upload",
		token:     token,
		cidPath:   []string{"value", "cid"},
		client:    http.DefaultClient,
	}
}

func (b *bearerBackend) Name() string  { return b.name }
func (b *bearerBackend) Enabled() bool { return b.token != "" }

func (b *bearerBackend) Upload(ctx context.Context, data []byte, name string, meta map[string]string) (string, error) {
	body, contentType, err := multipartBody(data, name, nil)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.uploadURL, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+b.token)
	req.Header.Set("Content-Type", contentType)

	return doUpload(b.client, req, b.name, b.cidPath)
}

// pinataBackend uploads through Pinata's pinFileToIPFS endpoint using the
// api-key/secret header pair.
type pinataBackend struct {
	baseURL   string
	apiKey    string
	secretKey string
	client    *http.Client
}

// NewPinata returns the Pinata backend. It is disabled unless both the API
// key and the secret key are present. baseURL is the API root, e.g.
// https://api.pinata.cloud.
func NewPinata(baseURL, apiKey, secretKey string) Backend {
	return &pinataBackend{
		baseURL:   baseURL,
		apiKey:    apiKey,
		secretKey: secretKey,
		client:    http.DefaultClient,
	}
}

func (b *pinataBackend) Name() string  { return "pinata" }
func (b *pinataBackend) Enabled() bool { return b.apiKey != "" && b.secretKey != "" }

func (b *pinataBackend) Upload(ctx context.Context, data []byte, name string, meta map[string]string) (string, error) {
	pinMeta := map[string]any{"name": name}
	for k, v := range meta {
		pinMeta[k] = v
	}
	metaJSON, err := json.Marshal(map[string]any{"name": name, "keyvalues": pinMeta})
	if err != nil {
		return "", err
	}
	optsJSON, err := json.Marshal(map[string]any{"cidVersion": 1})
	if err != nil {
		return "", err
	}

	body, contentType, err := multipartBody(data, name, map[string]string{
		"pinataMetadata": string(metaJSON),
		"pinataOptions":  string(optsJSON),
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/pinning/pinFileToIPFS", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("pinata_api_key", b.apiKey)
	req.Header.Set("pinata_secret_api_key", b.secretKey)
	req.Header.Set("Content-Type", contentType)

	return doUpload(b.client, req, "pinata", []string{"IpfsHash"})
}

// multipartBody builds a multipart/form-data body with a "file" part followed
// by any extra form fields.
func multipartBody(data []byte, filename string, fields map[string]string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fw, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, "", err
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func doUpload(client *http.Client, req *http.Request, backend string, cidPath []string) (string, error) {
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			zap.L().Debug("failed to close upload response body", zap.Error(cerr))
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s upload failed: %s: %s", backend, resp.Status, raw)
	}

	id, err := extractCID(raw, cidPath)
	if err != nil {
		return "", fmt.Errorf("%s upload: %w", backend, err)
	}
	return id, nil
}

// extractCID walks the JSON response along path and returns the string leaf.
func extractCID(raw []byte, path []string) (string, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("undecodable response: %w", err)
	}
	var cur any = doc
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return "", fmt.Errorf("no %q field in response", key)
		}
		cur = m[key]
	}
	id, ok := cur.(string)
	if !ok || id == "" {
		return "", fmt.Errorf("response carries no content id at %v", path)
	}
	return id, nil
}
