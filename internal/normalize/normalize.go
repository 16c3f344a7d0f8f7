// Package normalize recovers structured objects from unreliable model output.
//
// Model responses arrive as pure JSON, JSON buried in prose, newline-delimited
// streamed fragments, or free text. Recovery runs an ordered list of tagged
// strategies and stops at the first success; the final placeholder strategy
// never fails, so callers always get a usable object back.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/plateworks/reelchef/pkg/models"
)

// Strategy tags which parser tier produced a result.
type Strategy string

const (
	StrategyStrict      Strategy = "strict"
	StrategyEmbedded    Strategy = "embedded"
	StrategyStreamed    Strategy = "streamed"
	StrategyLoose       Strategy = "loose"
	StrategyPlaceholder Strategy = "placeholder"
)

// ErrParseDegraded reports that a non-strict strategy served the result.
// It is observable, never fatal: the accompanying summary is still usable.
var ErrParseDegraded = errors.New("model response required degraded parsing")

const (
	placeholderTitle       = "Untitled Recipe"
	placeholderDescription = "We couldn't read the details of this recipe from the video. Try processing it again."
	maxLooseDescription    = 500
)

type summaryStrategy struct {
	name Strategy
	fn   func(string) (*models.RecipeSummary, bool)
}

var summaryStrategies = []summaryStrategy{
	{StrategyStrict, parseStrict},
	{StrategyEmbedded, parseEmbedded},
	{StrategyStreamed, parseStreamed},
	{StrategyLoose, parseLoose},
}

// ParseSummary recovers a RecipeSummary from raw model text. It always
// succeeds; the returned error is nil when the strict tier matched and
// ErrParseDegraded (wrapped with the strategy tag) otherwise.
func ParseSummary(text string) (models.RecipeSummary, Strategy, error) {
	for _, s := range summaryStrategies {
		if summary, ok := s.fn(text); ok {
			if s.name == StrategyStrict {
				return *summary, s.name, nil
			}
			return *summary, s.name, fmt.Errorf("%w: recovered via %s strategy", ErrParseDegraded, s.name)
		}
	}
	return models.RecipeSummary{
		Title:       placeholderTitle,
		Description: placeholderDescription,
	}, StrategyPlaceholder, fmt.Errorf("%w: placeholder used", ErrParseDegraded)
}

// parseStrict parses the whole text as a JSON object bearing a title.
func parseStrict(text string) (*models.RecipeSummary, bool) {
	cleaned := stripCodeFences(text)
	var summary models.RecipeSummary
	if err := json.Unmarshal([]byte(cleaned), &summary); err != nil {
		return nil, false
	}
	if summary.Title == "" {
		return nil, false
	}
	return &summary, true
}

// parseEmbedded scans for balanced {...} substrings and accepts the first one
// that parses and contains the required title field.
func parseEmbedded(text string) (*models.RecipeSummary, bool) {
	for _, candidate := range balancedObjects(text) {
		var summary models.RecipeSummary
		if err := json.Unmarshal([]byte(candidate), &summary); err != nil {
			continue
		}
		if summary.Title != "" {
			return &summary, true
		}
	}
	return nil, false
}

// parseStreamed treats multi-line input as newline-delimited partial objects,
// concatenates their .response fragments, and retries the earlier tiers on
// the concatenation.
func parseStreamed(text string) (*models.RecipeSummary, bool) {
	if !strings.Contains(text, "\n") {
		return nil, false
	}

	type fragment struct {
		Response string `json:"response"`
	}

	var sb strings.Builder
	joined := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var f fragment
		if err := json.Unmarshal([]byte(line), &f); err != nil {
			continue
		}
		sb.WriteString(f.Response)
		joined = true
	}
	if !joined {
		return nil, false
	}

	assembled := sb.String()
	if summary, ok := parseStrict(assembled); ok {
		return summary, true
	}
	return parseEmbedded(assembled)
}

var looseTitleRes = []*regexp.Regexp{
	regexp.MustCompile(`"title"\s*:\s*"([^"\n]+)"`),
	regexp.MustCompile(`(?im)^.*?\btitle\b\s*[:\-]\s*(.+)$`),
}

// parseLoose regex-extracts a title-like field and composes a description
// from lightly sanitized remaining text.
func parseLoose(text string) (*models.RecipeSummary, bool) {
	for _, re := range looseTitleRes {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		title := strings.TrimSpace(strings.Trim(m[1], `"',.`))
		if title == "" {
			continue
		}
		desc := truncateRunes(sanitize(strings.Replace(text, m[0], "", 1)), maxLooseDescription)
		return &models.RecipeSummary{Title: title, Description: desc}, true
	}
	return nil, false
}

// balancedObjects returns every top-level balanced {...} substring, in order
// of appearance. Braces inside JSON strings are not counted.
func balancedObjects(text string) []string {
	var objects []string
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i, r := range text {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if inString {
				continue
			}
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if inString || depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				objects = append(objects, text[start:i+1])
				start = -1
			}
		}
	}
	return objects
}

// stripCodeFences removes markdown code block wrappers. Models often wrap
// JSON in ```json ... ``` even when told not to.
func stripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

var (
	junkChars  = regexp.MustCompile("[{}`\"\\[\\]]+")
	whitespace = regexp.MustCompile(`\s+`)
)

func sanitize(text string) string {
	text = junkChars.ReplaceAllString(text, " ")
	text = whitespace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// truncateRunes caps text at max bytes without splitting a multi-byte rune,
// so the result is always valid UTF-8.
func truncateRunes(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
