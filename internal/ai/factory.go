package ai

import (
	"fmt"

	"github.com/plateworks/reelchef/internal/ai/ollama"
	"github.com/plateworks/reelchef/internal/ai/openai"
	"github.com/plateworks/reelchef/internal/config"
	"github.com/plateworks/reelchef/pkg/models"
)

// NewBackend constructs the configured AI backend. Called once at startup;
// the same backend instance serves vision, embedding, and synthesis for the
// whole process so a job never mixes models.
func NewBackend(cfg config.AIConfig) (models.Backend, error) {
	switch cfg.Backend {
	case "ollama":
		return ollama.NewBackend(cfg.Ollama, cfg.InferenceTimeout), nil
	case "openai":
		return openai.NewBackend(cfg.OpenAI, cfg.InferenceTimeout), nil
	default:
		return nil, fmt.Errorf("%w: unknown AI backend %q, must be one of ollama, openai", ErrBackendUnavailable, cfg.Backend)
	}
}
