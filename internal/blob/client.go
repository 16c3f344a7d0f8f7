// Package blob moves binaries in and out of the path-addressed object store.
package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Sentinel errors for blob store failures.
var (
	ErrStoreUnreachable = errors.New("blob store unreachable")
	ErrRequestFailed    = errors.New("blob store request failed")
	// ErrUploadConflict indicates the destination path already holds an
	// object. Collisions are fatal; nothing is ever silently overwritten.
	ErrUploadConflict = errors.New("destination path already exists")
)

// Client is the interface to the object store. The store has no atomic
// rename; every path write is independent.
type Client interface {
	Upload(ctx context.Context, path string, data io.Reader, contentType string) error
	Download(ctx context.Context, path string) (io.ReadCloser, error)
	GetPublicURL(path string) string
	Remove(ctx context.Context, paths []string) error
	List(ctx context.Context, prefix string) ([]string, error)
	CreateSignedUploadURL(ctx context.Context, path string) (string, error)
	UploadToSignedURL(ctx context.Context, signedURL string, data io.Reader, size int64) error
}

// HTTPClient implements Client against the store's REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	bucket  string
	client  *http.Client
}

// NewHTTPClient creates a new object store client for one bucket.
func NewHTTPClient(baseURL, apiKey, bucket string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		bucket:  bucket,
		client:  &http.Client{Timeout: timeout},
	}
}

// Upload writes one object. The store answers 409 when the path is taken.
func (c *HTTPClient) Upload(ctx context.Context, path string, data io.Reader, contentType string) error {
	u := fmt.Sprintf("%s/object/%s/%s", c.baseURL, c.bucket, escapePath(path))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, data)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(req)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "false")

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return fmt.Errorf("%w: %s", ErrUploadConflict, path)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%w: upload %s: status %d", ErrRequestFailed, path, resp.StatusCode)
	}
	return nil
}

// Download streams an object's bytes. The caller closes the reader.
func (c *HTTPClient) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	u := fmt.Sprintf("%s/object/%s/%s", c.baseURL, c.bucket, escapePath(path))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: download %s: status %d", ErrRequestFailed, path, resp.StatusCode)
	}
	return resp.Body, nil
}

// GetPublicURL returns the public address of an object. Purely lexical; it
// does not verify the object exists.
func (c *HTTPClient) GetPublicURL(path string) string {
	return fmt.Sprintf("%s/object/public/%s/%s", c.baseURL, c.bucket, escapePath(path))
}

// Remove deletes the given paths. Missing paths are not an error.
func (c *HTTPClient) Remove(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	body, err := json.Marshal(map[string][]string{"prefixes": paths})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	u := fmt.Sprintf("%s/object/%s", c.baseURL, c.bucket)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: remove: status %d", ErrRequestFailed, resp.StatusCode)
	}
	return nil
}

// List returns the object names under prefix.
func (c *HTTPClient) List(ctx context.Context, prefix string) ([]string, error) {
	body, err := json.Marshal(map[string]string{"prefix": prefix})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	u := fmt.Sprintf("%s/object/list/%s", c.baseURL, c.bucket)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: list %s: status %d", ErrRequestFailed, prefix, resp.StatusCode)
	}

	var entries []struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decoding list response: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names, nil
}

// CreateSignedUploadURL asks the store for a direct-upload URL for path.
func (c *HTTPClient) CreateSignedUploadURL(ctx context.Context, path string) (string, error) {
	u := fmt.Sprintf("%s/object/upload/sign/%s/%s", c.baseURL, c.bucket, escapePath(path))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return "", fmt.Errorf("%w: %s", ErrUploadConflict, path)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: sign %s: status %d", ErrRequestFailed, path, resp.StatusCode)
	}

	var signed struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&signed); err != nil {
		return "", fmt.Errorf("decoding sign response: %w", err)
	}
	if strings.HasPrefix(signed.URL, "/") {
		return c.baseURL + signed.URL, nil
	}
	return signed.URL, nil
}

// UploadToSignedURL streams data through a previously signed URL. The caller
// controls cancellation through ctx; there is no internal timeout beyond the
// transport's.
func (c *HTTPClient) UploadToSignedURL(ctx context.Context, signedURL string, data io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, signedURL, data)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%w: signed upload: status %d", ErrRequestFailed, resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func escapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

func classifyError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrStoreUnreachable, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w: %v", ErrStoreUnreachable, err)
	}
	return err
}

var _ Client = (*HTTPClient)(nil)
