package synth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plateworks/reelchef/internal/ai/mock"
	"github.com/plateworks/reelchef/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// timed spaces descriptions five seconds apart for Synthesize calls.
func timed(descs ...string) []TimedDescription {
	out := make([]TimedDescription, len(descs))
	for i, d := range descs {
		out[i] = TimedDescription{Timestamp: i * 5, Description: d}
	}
	return out
}

func TestBuildRecipePrompt(t *testing.T) {
	prompt := BuildRecipePrompt([]string{
		"chopping onions on a board",
		"onions frying in a pan",
	})

	assert.Contains(t, prompt, "1. chopping onions on a board")
	assert.Contains(t, prompt, "2. onions frying in a pan")
	assert.Contains(t, prompt, "Return ONLY valid JSON")
	assert.Contains(t, prompt, `"ingredients"`)
}

func TestSynthesize_StrictJSON(t *testing.T) {
	backend := mock.NewBackend()
	backend.CompleteFunc = func(ctx context.Context, prompt string) (string, error) {
		return `{"title":"French Onion Soup","description":"Caramelized onion soup.","ingredients":["onions","broth"],"instructions":"1. Caramelize onions.\n2. Add broth."}`, nil
	}
	s := NewSynthesizer(backend, testLogger())

	summary, err := s.Synthesize(context.Background(), timed("onions in a pot"))
	require.NoError(t, err)
	assert.Equal(t, "French Onion Soup", summary.Title)
	assert.Equal(t, []string{"onions", "broth"}, summary.Ingredients)
}

func TestSynthesize_DegradedResponseStillYieldsSummary(t *testing.T) {
	backend := mock.NewBackend()
	backend.CompleteFunc = func(ctx context.Context, prompt string) (string, error) {
		return "Sure! The title: Garlic Bread\nIt is toasted bread with garlic butter.", nil
	}
	s := NewSynthesizer(backend, testLogger())

	summary, err := s.Synthesize(context.Background(), timed("bread in an oven"))
	require.NoError(t, err)
	assert.NotEmpty(t, summary.Title)
}

func TestSynthesize_GarbageResponseYieldsPlaceholder(t *testing.T) {
	backend := mock.NewBackend()
	backend.CompleteFunc = func(ctx context.Context, prompt string) (string, error) {
		return "%%%% ??? %%%%", nil
	}
	s := NewSynthesizer(backend, testLogger())

	summary, err := s.Synthesize(context.Background(), timed("something"))
	require.NoError(t, err)
	assert.Equal(t, "Untitled Recipe", summary.Title)
}

func TestSynthesize_BackendErrorPropagates(t *testing.T) {
	backendErr := errors.New("model offline")
	s := NewSynthesizer(mock.NewFailingBackend(backendErr), testLogger())

	_, err := s.Synthesize(context.Background(), timed("a frame"))
	require.Error(t, err)
	assert.ErrorIs(t, err, backendErr)
}

func TestSynthesize_NoDescriptions(t *testing.T) {
	s := NewSynthesizer(mock.NewBackend(), testLogger())

	_, err := s.Synthesize(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoDescriptions)
}

func TestSynthesize_PromptContainsAllDescriptions(t *testing.T) {
	var gotPrompt string
	backend := mock.NewBackend()
	backend.CompleteFunc = func(ctx context.Context, prompt string) (string, error) {
		gotPrompt = prompt
		return `{"title":"X","description":"y"}`, nil
	}
	s := NewSynthesizer(backend, testLogger())

	descriptions := timed("first frame", "second frame", "third frame")
	_, err := s.Synthesize(context.Background(), descriptions)
	require.NoError(t, err)
	for _, d := range descriptions {
		assert.Contains(t, gotPrompt, d.Description)
	}
	// Chronological order preserved
	assert.Less(t, strings.Index(gotPrompt, "first frame"), strings.Index(gotPrompt, "third frame"))
}

func TestExtractAttribution_SentinelHit(t *testing.T) {
	backend := mock.NewBackend()
	backend.DescribeImageFunc = func(ctx context.Context, imageURL, prompt string) (string, error) {
		return "SOCIAL:tiktok:@paprikapete", nil
	}
	s := NewSynthesizer(backend, testLogger())

	attr, ok := s.ExtractAttribution(context.Background(), []string{"https://store.test/last.jpg"})
	require.True(t, ok)
	assert.Equal(t, models.Attribution{Platform: "tiktok", Handle: "@paprikapete"}, attr)
}

func TestExtractAttribution_None(t *testing.T) {
	backend := mock.NewBackend()
	backend.DescribeImageFunc = func(ctx context.Context, imageURL, prompt string) (string, error) {
		return "SOCIAL:none", nil
	}
	s := NewSynthesizer(backend, testLogger())

	_, ok := s.ExtractAttribution(context.Background(), []string{"https://store.test/last.jpg"})
	assert.False(t, ok)
}

func TestExtractAttribution_FallsThroughOnError(t *testing.T) {
	calls := 0
	backend := mock.NewBackend()
	backend.DescribeImageFunc = func(ctx context.Context, imageURL, prompt string) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("vision timeout")
		}
		return "SOCIAL:instagram:@homecook", nil
	}
	s := NewSynthesizer(backend, testLogger())

	attr, ok := s.ExtractAttribution(context.Background(),
		[]string{"https://store.test/a.jpg", "https://store.test/b.jpg"})
	require.True(t, ok)
	assert.Equal(t, "@homecook", attr.Handle)
	assert.Equal(t, 2, calls)
}

func TestExtractAttribution_NoFrames(t *testing.T) {
	s := NewSynthesizer(mock.NewBackend(), testLogger())

	_, ok := s.ExtractAttribution(context.Background(), nil)
	assert.False(t, ok)
}
