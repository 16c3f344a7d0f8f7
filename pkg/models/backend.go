// Package models contains shared data models used across the ReelChef codebase.
package models

import "context"

// Backend is the core interface every AI backend must implement.
// Never call a concrete backend directly — always inject this interface.
// A backend is selected once per process at startup; the pipeline never
// switches backends mid-job.
type Backend interface {
	// DescribeImage produces a natural-language description of the image at
	// imageURL. An empty prompt selects the backend's default vision prompt.
	DescribeImage(ctx context.Context, imageURL, prompt string) (string, error)
	// Embed turns each input text into a numeric vector. The output slice
	// preserves input order and has exactly one vector per input.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Complete generates a text completion for the prompt.
	Complete(ctx context.Context, prompt string) (string, error)
	// Name returns the backend identifier (e.g., "ollama", "openai").
	Name() string
}
