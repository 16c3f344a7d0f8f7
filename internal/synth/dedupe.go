package synth

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
)

// Normalization regexes compiled once at package init.
var (
	reNumbers    = regexp.MustCompile(`\b\d+(\.\d+)?\b`)
	rePunct      = regexp.MustCompile(`[.,;:!?'"()\[\]]`)
	reWhitespace = regexp.MustCompile(`\s+`)
)

// TimedDescription is one frame description with its position in the video.
type TimedDescription struct {
	Timestamp   int
	Description string
}

// CollapsedDescription is a run of consecutive near-identical descriptions
// reduced to a single entry. Span counts the frames it replaced.
type CollapsedDescription struct {
	Timestamp   int
	Description string
	Span        int
}

// Fingerprint normalizes a description and returns a stable hash for
// near-duplicate detection. Quantities and punctuation are stripped so
// "add 2 cups of flour" and "adds 3 cups of flour." collide.
func Fingerprint(description string) string {
	s := strings.ToLower(description)
	s = reNumbers.ReplaceAllString(s, "#")
	s = rePunct.ReplaceAllString(s, "")
	s = reWhitespace.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	sum := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", sum[:8])
}

// CollapseRuns merges consecutive descriptions with the same fingerprint
// into one entry keyed at the run's first timestamp. Only adjacent frames
// are merged: if the cook returns to a step later, it stays a separate
// entry so the chronological order survives. Returns empty slice for empty
// input (never nil).
func CollapseRuns(descs []TimedDescription) []CollapsedDescription {
	if len(descs) == 0 {
		return []CollapsedDescription{}
	}

	out := make([]CollapsedDescription, 0, len(descs))
	cur := CollapsedDescription{
		Timestamp:   descs[0].Timestamp,
		Description: descs[0].Description,
		Span:        1,
	}
	curFP := Fingerprint(descs[0].Description)

	for _, d := range descs[1:] {
		fp := Fingerprint(d.Description)
		if fp == curFP {
			cur.Span++
			continue
		}
		out = append(out, cur)
		cur = CollapsedDescription{Timestamp: d.Timestamp, Description: d.Description, Span: 1}
		curFP = fp
	}
	out = append(out, cur)
	return out
}
