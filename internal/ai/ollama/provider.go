// Package ollama implements models.Backend against a locally hosted Ollama server.
package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/plateworks/reelchef/internal/ai/aierrors"
	"github.com/plateworks/reelchef/internal/config"
	"github.com/plateworks/reelchef/pkg/models"
)

const defaultVisionPrompt = "Describe what is happening in this cooking video frame. " +
	"Name the visible ingredients, tools, and the technique being performed."

// Backend talks to Ollama's generate and embeddings endpoints.
type Backend struct {
	cfg    config.OllamaConfig
	client *http.Client
}

func NewBackend(cfg config.OllamaConfig, timeout time.Duration) *Backend {
	return &Backend{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (b *Backend) Name() string { return "ollama" }

type generateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images,omitempty"`
	Stream bool     `json:"stream"`
	Format string   `json:"format,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// DescribeImage fetches the image, base64-encodes it, and submits it to the
// local completion endpoint alongside the prompt.
func (b *Backend) DescribeImage(ctx context.Context, imageURL, prompt string) (string, error) {
	if prompt == "" {
		prompt = defaultVisionPrompt
	}

	img, err := b.fetchImage(ctx, imageURL)
	if err != nil {
		return "", fmt.Errorf("fetching image: %w", err)
	}

	return b.generate(ctx, generateRequest{
		Model:  b.cfg.VisionModel,
		Prompt: prompt,
		Images: []string{base64.StdEncoding.EncodeToString(img)},
		Stream: false,
	})
}

// Complete generates a text completion using the configured text model.
func (b *Backend) Complete(ctx context.Context, prompt string) (string, error) {
	return b.generate(ctx, generateRequest{
		Model:  b.cfg.TextModel,
		Prompt: prompt,
		Stream: false,
	})
}

// Embed generates one vector per input text. Ollama's embeddings endpoint
// takes a single prompt, so inputs are submitted one at a time in order.
func (b *Backend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := b.embedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vec)
	}
	return vectors, nil
}

func (b *Backend) generate(ctx context.Context, req generateRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.cfg.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", b.statusError(resp.StatusCode, raw, req.Model)
	}

	return decodeGenerateBody(raw)
}

// decodeGenerateBody handles both response shapes the completion endpoint
// produces: a single JSON object, or newline-delimited partial objects each
// carrying a piece of the output in .response.
func decodeGenerateBody(raw []byte) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", fmt.Errorf("%w: empty body", aierrors.ErrInvalidResponse)
	}

	var single generateResponse
	if err := json.Unmarshal(trimmed, &single); err == nil {
		return single.Response, nil
	}

	var sb strings.Builder
	decoded := false
	for _, line := range bytes.Split(trimmed, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var part generateResponse
		if err := json.Unmarshal(line, &part); err != nil {
			continue
		}
		sb.WriteString(part.Response)
		decoded = true
	}
	if !decoded {
		return "", fmt.Errorf("%w: body is neither an object nor a partial stream", aierrors.ErrInvalidResponse)
	}
	return sb.String(), nil
}

func (b *Backend) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: b.cfg.EmbedModel, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.cfg.BaseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, b.statusError(resp.StatusCode, raw, b.cfg.EmbedModel)
	}

	var er embedResponse
	if err := json.Unmarshal(raw, &er); err != nil {
		return nil, fmt.Errorf("%w: decoding embedding: %v", aierrors.ErrInvalidResponse, err)
	}
	return er.Embedding, nil
}

func (b *Backend) fetchImage(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: status %d", imageURL, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// statusError maps a non-200 status to the error taxonomy. Ollama answers 404
// with {"error": "model '...' not found"} when a model has not been pulled.
func (b *Backend) statusError(status int, raw []byte, model string) error {
	var er errorResponse
	_ = json.Unmarshal(raw, &er)
	if status == http.StatusNotFound && strings.Contains(er.Error, "not found") {
		return fmt.Errorf("%w: model %q is not available locally, pull it first", aierrors.ErrModelNotFound, model)
	}
	if er.Error != "" {
		return fmt.Errorf("%w: status %d: %s", aierrors.ErrInvalidResponse, status, er.Error)
	}
	return fmt.Errorf("%w: status %d", aierrors.ErrInvalidResponse, status)
}

func classifyError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", aierrors.ErrBackendUnavailable, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w: %v", aierrors.ErrBackendUnavailable, err)
	}
	return err
}

var _ models.Backend = (*Backend)(nil)
