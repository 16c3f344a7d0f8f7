package mock_test

import (
	"context"
	"testing"

	"github.com/plateworks/reelchef/internal/ai"
	"github.com/plateworks/reelchef/internal/ai/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- NewBackend ---

func TestNewBackend_Name(t *testing.T) {
	b := mock.NewBackend()
	assert.Equal(t, "mock", b.Name())
}

func TestNewBackend_DescribeImage(t *testing.T) {
	b := mock.NewBackend()
	desc, err := b.DescribeImage(context.Background(), "https://cdn.example.com/frame_0001.jpg", "")

	require.NoError(t, err)
	assert.Contains(t, desc, "frame_0001.jpg")
}

func TestNewBackend_Embed(t *testing.T) {
	b := mock.NewBackend()
	vectors, err := b.Embed(context.Background(), []string{"chopping onions", "searing beef"})

	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.NotEqual(t, vectors[0], vectors[1])

	// Deterministic: same inputs produce same vectors.
	again, err := b.Embed(context.Background(), []string{"chopping onions", "searing beef"})
	require.NoError(t, err)
	assert.Equal(t, vectors, again)
}

func TestNewBackend_Complete(t *testing.T) {
	b := mock.NewBackend()
	out, err := b.Complete(context.Background(), "summarize the recipe")

	require.NoError(t, err)
	assert.Contains(t, out, "title")
}

// --- NewFailingBackend ---

func TestNewFailingBackend_Name(t *testing.T) {
	b := mock.NewFailingBackend(ai.ErrBackendUnavailable)
	assert.Equal(t, "mock-failing", b.Name())
}

func TestNewFailingBackend_AllOperationsFail(t *testing.T) {
	b := mock.NewFailingBackend(ai.ErrBackendUnavailable)

	_, err := b.DescribeImage(context.Background(), "https://example.com/f.jpg", "")
	assert.ErrorIs(t, err, ai.ErrBackendUnavailable)

	_, err = b.Embed(context.Background(), []string{"text"})
	assert.ErrorIs(t, err, ai.ErrBackendUnavailable)

	_, err = b.Complete(context.Background(), "prompt")
	assert.ErrorIs(t, err, ai.ErrBackendUnavailable)
}

func TestBackend_CustomFuncs(t *testing.T) {
	b := &mock.Backend{
		Name_: "mock",
		CompleteFunc: func(_ context.Context, prompt string) (string, error) {
			return "echo: " + prompt, nil
		},
	}

	out, err := b.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", out)
}
