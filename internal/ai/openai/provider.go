// Package openai implements models.Backend against an OpenAI-compatible hosted API.
package openai

import (
	"bytes"
	"context"
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

// Backend talks to the hosted chat-completions and embeddings endpoints.
type Backend struct {
	cfg    config.OpenAIConfig
	client *http.Client
}

func NewBackend(cfg config.OpenAIConfig, timeout time.Duration) *Backend {
	return &Backend{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (b *Backend) Name() string { return "openai" }

type contentBlock struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// DescribeImage submits the image URL and prompt as multimodal content blocks
// and returns the first choice's text.
func (b *Backend) DescribeImage(ctx context.Context, imgURL, prompt string) (string, error) {
	if prompt == "" {
		prompt = defaultVisionPrompt
	}

	return b.chat(ctx, chatRequest{
		Model: b.cfg.VisionModel,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentBlock{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &imageURL{URL: imgURL}},
			},
		}},
	})
}

// Complete generates a text completion using the configured text model.
func (b *Backend) Complete(ctx context.Context, prompt string) (string, error) {
	return b.chat(ctx, chatRequest{
		Model: b.cfg.TextModel,
		Messages: []chatMessage{{
			Role:    "user",
			Content: []contentBlock{{Type: "text", Text: prompt}},
		}},
	})
}

// Embed submits all inputs in one call; the endpoint returns one vector per
// input, reordered here by index so output order matches input order.
func (b *Backend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	raw, err := b.post(ctx, "/embeddings", embeddingsRequest{Model: b.cfg.EmbedModel, Input: texts})
	if err != nil {
		return nil, err
	}

	var er embeddingsResponse
	if err := json.Unmarshal(raw, &er); err != nil {
		return nil, fmt.Errorf("%w: decoding embeddings: %v", aierrors.ErrInvalidResponse, err)
	}
	if len(er.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", aierrors.ErrInvalidResponse, len(er.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range er.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", aierrors.ErrInvalidResponse, d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func (b *Backend) chat(ctx context.Context, req chatRequest) (string, error) {
	raw, err := b.post(ctx, "/chat/completions", req)
	if err != nil {
		return "", err
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return "", fmt.Errorf("%w: decoding completion: %v", aierrors.ErrInvalidResponse, err)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in completion", aierrors.ErrInvalidResponse)
	}
	return cr.Choices[0].Message.Content, nil
}

func (b *Backend) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)

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
		return nil, statusError(resp.StatusCode, raw)
	}
	return raw, nil
}

func statusError(status int, raw []byte) error {
	var ae apiError
	_ = json.Unmarshal(raw, &ae)
	if ae.Error.Code == "model_not_found" || strings.Contains(ae.Error.Message, "does not exist") {
		return fmt.Errorf("%w: %s", aierrors.ErrModelNotFound, ae.Error.Message)
	}
	if status == http.StatusServiceUnavailable || status == http.StatusBadGateway {
		return fmt.Errorf("%w: status %d", aierrors.ErrBackendUnavailable, status)
	}
	if ae.Error.Message != "" {
		return fmt.Errorf("%w: status %d: %s", aierrors.ErrInvalidResponse, status, ae.Error.Message)
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
