package models

import (
	"time"

	"github.com/google/uuid"
)

// Frame is one still image sampled from a recipe video. Timestamps are
// non-negative seconds and strictly increasing within a recipe. Once an
// embedding is set the row is immutable except for explicit correction.
type Frame struct {
	ID          uuid.UUID `db:"id"          json:"id"`
	RecipeID    uuid.UUID `db:"recipe_id"   json:"recipe_id"`
	Timestamp   int       `db:"ts_seconds"  json:"timestamp"`
	Description *string   `db:"description" json:"description,omitempty"`
	ImageURL    string    `db:"image_url"   json:"image_url"`
	Embedding   []float32 `db:"embedding"   json:"-"`
	CreatedAt   time.Time `db:"created_at"  json:"created_at"`
}

// FrameMatch is returned by semantic frame search, ranked by similarity.
type FrameMatch struct {
	Frame
	Similarity float64 `json:"similarity"`
}
