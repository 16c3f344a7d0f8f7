package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/plateworks/reelchef/internal/ai/aierrors"
	"github.com/plateworks/reelchef/internal/config"
)

func newTestBackend(baseURL string) *Backend {
	return NewBackend(config.OpenAIConfig{
		BaseURL:     baseURL,
		APIKey:      "sk-test",
		VisionModel: "gpt-4o-mini",
		TextModel:   "gpt-4o-mini",
		EmbedModel:  "text-embedding-3-small",
	}, 5*time.Second)
}

func TestDescribeImage_MultimodalBlocks(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header: %s", got)
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Messages) != 1 || len(req.Messages[0].Content) != 2 {
			t.Fatalf("expected one message with two content blocks, got %+v", req.Messages)
		}
		if req.Messages[0].Content[0].Type != "text" {
			t.Errorf("first block should be text, got %s", req.Messages[0].Content[0].Type)
		}
		if req.Messages[0].Content[1].Type != "image_url" {
			t.Errorf("second block should be image_url, got %s", req.Messages[0].Content[1].Type)
		}
		if req.Messages[0].Content[1].ImageURL.URL != "https://cdn.example.com/frame.jpg" {
			t.Errorf("unexpected image url: %s", req.Messages[0].Content[1].ImageURL.URL)
		}

		w.Write([]byte(`{"choices":[{"message":{"content":"whisking eggs in a bowl"}}]}`))
	}))
	defer ts.Close()

	b := newTestBackend(ts.URL)
	desc, err := b.DescribeImage(context.Background(), "https://cdn.example.com/frame.jpg", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if desc != "whisking eggs in a bowl" {
		t.Errorf("unexpected description: %q", desc)
	}
}

func TestComplete_FirstChoice(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"first"}},{"message":{"content":"second"}}]}`))
	}))
	defer ts.Close()

	b := newTestBackend(ts.URL)
	out, err := b.Complete(context.Background(), "pick one")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "first" {
		t.Errorf("expected first choice, got %q", out)
	}
}

func TestComplete_NoChoices(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer ts.Close()

	b := newTestBackend(ts.URL)
	_, err := b.Complete(context.Background(), "anything")
	if !errors.Is(err, aierrors.ErrInvalidResponse) {
		t.Fatalf("expected ErrInvalidResponse, got %v", err)
	}
}

func TestEmbed_ReordersByIndex(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		// Out-of-order data entries must still land at their input index.
		w.Write([]byte(`{"data":[
			{"index":1,"embedding":[2.0]},
			{"index":0,"embedding":[1.0]}
		]}`))
	}))
	defer ts.Close()

	b := newTestBackend(ts.URL)
	vectors, err := b.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vectors[0][0] != 1.0 || vectors[1][0] != 2.0 {
		t.Errorf("vectors not reordered by index: %v", vectors)
	}
}

func TestEmbed_CountMismatch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"index":0,"embedding":[1.0]}]}`))
	}))
	defer ts.Close()

	b := newTestBackend(ts.URL)
	_, err := b.Embed(context.Background(), []string{"a", "b"})
	if !errors.Is(err, aierrors.ErrInvalidResponse) {
		t.Fatalf("expected ErrInvalidResponse, got %v", err)
	}
}

func TestEmbed_Empty(t *testing.T) {
	b := newTestBackend("http://127.0.0.1:1")
	vectors, err := b.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vectors != nil {
		t.Errorf("expected nil vectors, got %v", vectors)
	}
}

func TestStatusError_ModelNotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"message":"The model 'gpt-oops' does not exist","code":"model_not_found"}}`))
	}))
	defer ts.Close()

	b := newTestBackend(ts.URL)
	_, err := b.Complete(context.Background(), "anything")
	if !errors.Is(err, aierrors.ErrModelNotFound) {
		t.Fatalf("expected ErrModelNotFound, got %v", err)
	}
}
