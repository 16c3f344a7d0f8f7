// Package synth turns frame descriptions into a structured recipe using the
// configured text model, and recovers creator attribution from closing frames.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/plateworks/reelchef/internal/normalize"
	"github.com/plateworks/reelchef/pkg/models"
)

// ErrNoDescriptions means synthesis was attempted with nothing to work from.
var ErrNoDescriptions = errors.New("no frame descriptions to synthesize from")

// DescribeFramePrompt is sent to the vision model for each sampled frame.
const DescribeFramePrompt = `You are watching one frame of a cooking video.
Describe concisely what is happening: visible ingredients, tools, and the
cooking action in progress. If text is overlaid on the frame, transcribe it.
Keep the description under 60 words.`

// attributionPrompt asks the vision model for a creator handle in a fixed
// sentinel format so the answer can be parsed without guessing.
const attributionPrompt = `Look at this frame from a cooking video. If a social
media handle or watermark identifying the creator is visible, respond with
exactly one line in the form SOCIAL:<platform>:<handle> (for example
SOCIAL:instagram:@somechef). If none is visible, respond with exactly
SOCIAL:none. Do not add any other text.`

// Synthesizer drives recipe synthesis against an AI backend.
type Synthesizer struct {
	backend models.Backend
	logger  *slog.Logger
}

func NewSynthesizer(backend models.Backend, logger *slog.Logger) *Synthesizer {
	return &Synthesizer{backend: backend, logger: logger}
}

// BuildRecipePrompt assembles the synthesis prompt from frame descriptions in
// chronological order. Each description is numbered so the model sees the
// sequence of the video, not a bag of observations.
func BuildRecipePrompt(descriptions []string) string {
	var b strings.Builder
	b.WriteString("The following are chronological descriptions of frames from a single cooking video:\n\n")
	for i, d := range descriptions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, d)
	}
	b.WriteString(`
Reconstruct the recipe being cooked. Return ONLY valid JSON with this exact structure:
{
  "title": "short recipe name",
  "description": "one or two sentence summary",
  "ingredients": ["ingredient with quantity if visible"],
  "instructions": "numbered steps, one per line"
}
Do not include markdown formatting or any text outside the JSON object.`)
	return b.String()
}

// Synthesize asks the text model for a recipe and recovers whatever structure
// the response holds. Runs of consecutive near-identical descriptions (a slow
// step sampled several times) are collapsed first so the prompt stays short.
// It fails only when the backend itself fails; a garbled response still
// yields a usable summary at a degraded parse tier.
func (s *Synthesizer) Synthesize(ctx context.Context, descs []TimedDescription) (models.RecipeSummary, error) {
	if len(descs) == 0 {
		return models.RecipeSummary{}, ErrNoDescriptions
	}

	collapsed := CollapseRuns(descs)
	if len(collapsed) < len(descs) {
		s.logger.Debug("collapsed duplicate frame descriptions",
			slog.Int("frames", len(descs)),
			slog.Int("distinct", len(collapsed)))
	}
	descriptions := make([]string, len(collapsed))
	for i, c := range collapsed {
		descriptions[i] = c.Description
	}

	raw, err := s.backend.Complete(ctx, BuildRecipePrompt(descriptions))
	if err != nil {
		return models.RecipeSummary{}, fmt.Errorf("recipe synthesis: %w", err)
	}

	summary, strategy, err := normalize.ParseSummary(raw)
	if err != nil {
		s.logger.Warn("recipe response needed degraded parsing",
			slog.String("strategy", string(strategy)),
			slog.Int("response_len", len(raw)))
	}
	return summary, nil
}

// ExtractAttribution probes the given frame images (typically the last one or
// two of the video, where watermarks live) for a creator handle. It returns
// false when no handle is found; backend errors on one frame do not stop the
// probe of the next.
func (s *Synthesizer) ExtractAttribution(ctx context.Context, imageURLs []string) (models.Attribution, bool) {
	for _, url := range imageURLs {
		resp, err := s.backend.DescribeImage(ctx, url, attributionPrompt)
		if err != nil {
			s.logger.Warn("attribution probe failed",
				slog.String("image_url", url),
				slog.String("error", err.Error()))
			continue
		}
		if attr, ok := normalize.ParseSocialHandle(resp); ok {
			return attr, true
		}
	}
	return models.Attribution{}, false
}
