package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	UploadStatusUploading = "uploading"
	UploadStatusCompleted = "completed"
	UploadStatusFailed    = "failed"
)

// UploadProgress is the ephemeral record of one in-flight upload. Exactly one
// live row exists per recipe; it is deleted once the transfer settles.
type UploadProgress struct {
	RecipeID      uuid.UUID `db:"recipe_id"      json:"recipe_id"`
	BytesUploaded int64     `db:"bytes_uploaded" json:"bytes_uploaded"`
	TotalBytes    int64     `db:"total_bytes"    json:"total_bytes"`
	BytesPerSec   float64   `db:"bytes_per_sec"  json:"bytes_per_sec"`
	Status        string    `db:"status"         json:"status"`
	UpdatedAt     time.Time `db:"updated_at"     json:"updated_at"`
}
