package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	QueueStatusPending    = "pending"
	QueueStatusProcessing = "processing"
	QueueStatusCompleted  = "completed"
	QueueStatusFailed     = "failed"
)

// ProcessingQueueEntry tracks the pipeline run for one recipe. It is created
// atomically alongside its Recipe and is terminal at completed or failed.
type ProcessingQueueEntry struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	RecipeID     uuid.UUID  `db:"recipe_id"     json:"recipe_id"`
	Status       string     `db:"status"        json:"status"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	StartedAt    *time.Time `db:"started_at"    json:"started_at,omitempty"`
	CompletedAt  *time.Time `db:"completed_at"  json:"completed_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`
}

// StatusEvent is pushed to subscribers when a recipe's processing status
// changes. Delivery is at-most-once with no replay; subscribers re-fetch
// current state on (re)connect rather than trusting the stream alone.
type StatusEvent struct {
	RecipeID uuid.UUID `json:"recipe_id"`
	Status   string    `json:"status"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}
