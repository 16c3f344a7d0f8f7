package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RecipeStatusDraft      = "draft"
	RecipeStatusProcessing = "processing"
	RecipeStatusCompleted  = "completed"
	RecipeStatusFailed     = "failed"
)

// Recipe is the user-facing result of processing one cooking video.
// Status transitions are owned exclusively by the pipeline.
type Recipe struct {
	ID           uuid.UUID `db:"id"            json:"id"`
	OwnerID      uuid.UUID `db:"owner_id"      json:"owner_id"`
	Status       string    `db:"status"        json:"status"`
	Title        string    `db:"title"         json:"title"`
	Description  string    `db:"description"   json:"description"`
	Ingredients  []string  `db:"ingredients"   json:"ingredients"`
	Instructions string    `db:"instructions"  json:"instructions"`
	SourceHandle *string   `db:"source_handle" json:"source_handle,omitempty"`
	OriginalURL  *string   `db:"original_url"  json:"original_url,omitempty"`
	VideoURL     *string   `db:"video_url"     json:"video_url,omitempty"`
	ThumbnailURL *string   `db:"thumbnail_url" json:"thumbnail_url,omitempty"`
	CreatedAt    time.Time `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"    json:"updated_at"`
}

// RecipeSummary is the structured output recovered from a synthesis response.
type RecipeSummary struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Ingredients  []string `json:"ingredients,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
}

// Attribution identifies the creator of the source video.
type Attribution struct {
	Platform string `json:"platform"`
	Handle   string `json:"handle"`
}
