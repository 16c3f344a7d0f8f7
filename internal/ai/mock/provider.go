// Package mock provides a deterministic models.Backend for tests.
package mock

import (
	"context"
	"fmt"

	"github.com/plateworks/reelchef/pkg/models"
)

// Backend satisfies models.Backend for testing. Any func left nil falls back
// to a deterministic default.
type Backend struct {
	Name_             string
	DescribeImageFunc func(ctx context.Context, imageURL, prompt string) (string, error)
	EmbedFunc         func(ctx context.Context, texts []string) ([][]float32, error)
	CompleteFunc      func(ctx context.Context, prompt string) (string, error)
}

func (m *Backend) Name() string { return m.Name_ }

func (m *Backend) DescribeImage(ctx context.Context, imageURL, prompt string) (string, error) {
	if m.DescribeImageFunc != nil {
		return m.DescribeImageFunc(ctx, imageURL, prompt)
	}
	return fmt.Sprintf("mock description of %s", imageURL), nil
}

func (m *Backend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, texts)
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		// Length-derived values keep vectors distinct yet reproducible.
		vectors[i] = []float32{float32(len(text)), float32(i + 1), 0.5}
	}
	return vectors, nil
}

func (m *Backend) Complete(ctx context.Context, prompt string) (string, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, prompt)
	}
	return `{"title":"Mock Recipe","description":"A recipe from the mock backend."}`, nil
}

// NewBackend returns a mock with default deterministic responses.
func NewBackend() *Backend {
	return &Backend{Name_: "mock"}
}

// NewFailingBackend returns a mock whose every operation fails with err.
func NewFailingBackend(err error) *Backend {
	return &Backend{
		Name_: "mock-failing",
		DescribeImageFunc: func(context.Context, string, string) (string, error) {
			return "", err
		},
		EmbedFunc: func(context.Context, []string) ([][]float32, error) {
			return nil, err
		},
		CompleteFunc: func(context.Context, string) (string, error) {
			return "", err
		},
	}
}

var _ models.Backend = (*Backend)(nil)
