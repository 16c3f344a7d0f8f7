package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/plateworks/reelchef/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrEmbeddingSet means the frame already has an embedding. Embeddings are
// write-once; use CorrectFrameEmbedding for deliberate replacement.
var ErrEmbeddingSet = errors.New("frame embedding already set")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateRecipeWithQueueEntry(ctx context.Context, recipe *models.Recipe) (*models.ProcessingQueueEntry, error)
	GetRecipe(ctx context.Context, id uuid.UUID) (*models.Recipe, error)
	UpdateRecipeStatus(ctx context.Context, id uuid.UUID, status string) error
	SetRecipeVideoURL(ctx context.Context, id uuid.UUID, url string) error
	SetRecipeThumbnail(ctx context.Context, id uuid.UUID, url string) error
	SetRecipeSummary(ctx context.Context, id uuid.UUID, summary models.RecipeSummary) error
	SetRecipeAttribution(ctx context.Context, id uuid.UUID, handle string) error

	CreateFrame(ctx context.Context, frame *models.Frame) error
	ListFrames(ctx context.Context, recipeID uuid.UUID) ([]*models.Frame, error)
	UpdateFrameDescription(ctx context.Context, frameID uuid.UUID, description string) error
	SetFrameEmbedding(ctx context.Context, frameID uuid.UUID, embedding []float32) error
	CorrectFrameEmbedding(ctx context.Context, frameID uuid.UUID, embedding []float32) error
	SearchSimilarFrames(ctx context.Context, recipeID uuid.UUID, query []float32, limit int) ([]*models.FrameMatch, error)

	GetQueueEntry(ctx context.Context, recipeID uuid.UUID) (*models.ProcessingQueueEntry, error)
	UpdateQueueStatus(ctx context.Context, recipeID uuid.UUID, status string, opts ...QueueUpdateOption) error
	RecoverStuckEntries(ctx context.Context, cutoff time.Duration) (int, error)

	UpsertUploadProgress(ctx context.Context, progress *models.UploadProgress) error
	GetUploadProgress(ctx context.Context, recipeID uuid.UUID) (*models.UploadProgress, error)
	DeleteUploadProgress(ctx context.Context, recipeID uuid.UUID) error
}

// QueueUpdate collects the optional fields of a queue status update.
type QueueUpdate struct {
	ErrorMessage *string
}

type QueueUpdateOption func(*QueueUpdate)

func WithErrorMessage(msg string) QueueUpdateOption {
	return func(p *QueueUpdate) {
		p.ErrorMessage = &msg
	}
}
