package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/plateworks/reelchef/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Recipes ---

// CreateRecipeWithQueueEntry inserts the recipe and its queue entry in one
// transaction. Either both rows exist afterwards or neither does.
func (s *PostgresStore) CreateRecipeWithQueueEntry(ctx context.Context, recipe *models.Recipe) (*models.ProcessingQueueEntry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO recipes (id, owner_id, status, title, description, ingredients, instructions, original_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		recipe.ID, recipe.OwnerID, recipe.Status, recipe.Title, recipe.Description,
		recipe.Ingredients, recipe.Instructions, recipe.OriginalURL, recipe.CreatedAt, recipe.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("create recipe: %w", err)
	}

	entry := &models.ProcessingQueueEntry{
		ID:        uuid.New(),
		RecipeID:  recipe.ID,
		Status:    models.QueueStatusPending,
		CreatedAt: recipe.CreatedAt,
		UpdatedAt: recipe.CreatedAt,
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO processing_queue (id, recipe_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.RecipeID, entry.Status, entry.CreatedAt, entry.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create queue entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit recipe creation: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) GetRecipe(ctx context.Context, id uuid.UUID) (*models.Recipe, error) {
	var r models.Recipe
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, status, title, description, ingredients, instructions,
		        source_handle, original_url, video_url, thumbnail_url, created_at, updated_at
		 FROM recipes WHERE id = $1`, id,
	).Scan(&r.ID, &r.OwnerID, &r.Status, &r.Title, &r.Description, &r.Ingredients,
		&r.Instructions, &r.SourceHandle, &r.OriginalURL, &r.VideoURL, &r.ThumbnailURL,
		&r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get recipe: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) UpdateRecipeStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE recipes SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update recipe status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetRecipeVideoURL(ctx context.Context, id uuid.UUID, url string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE recipes SET video_url = $2, updated_at = NOW() WHERE id = $1`, id, url)
	if err != nil {
		return fmt.Errorf("set recipe video url: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetRecipeThumbnail(ctx context.Context, id uuid.UUID, url string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE recipes SET thumbnail_url = $2, updated_at = NOW() WHERE id = $1`, id, url)
	if err != nil {
		return fmt.Errorf("set recipe thumbnail: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetRecipeSummary(ctx context.Context, id uuid.UUID, summary models.RecipeSummary) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE recipes SET title = $2, description = $3, ingredients = $4, instructions = $5, updated_at = NOW()
		 WHERE id = $1`,
		id, summary.Title, summary.Description, summary.Ingredients, summary.Instructions)
	if err != nil {
		return fmt.Errorf("set recipe summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetRecipeAttribution(ctx context.Context, id uuid.UUID, handle string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE recipes SET source_handle = $2, updated_at = NOW() WHERE id = $1`, id, handle)
	if err != nil {
		return fmt.Errorf("set recipe attribution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Frames ---

func (s *PostgresStore) CreateFrame(ctx context.Context, frame *models.Frame) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO video_frames (id, recipe_id, ts_seconds, description, image_url, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		frame.ID, frame.RecipeID, frame.Timestamp, frame.Description, frame.ImageURL, frame.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create frame: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListFrames(ctx context.Context, recipeID uuid.UUID) ([]*models.Frame, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, recipe_id, ts_seconds, description, image_url, embedding, created_at
		 FROM video_frames WHERE recipe_id = $1 ORDER BY ts_seconds ASC`, recipeID)
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	defer rows.Close()

	var frames []*models.Frame
	for rows.Next() {
		f, err := scanFrame(rows)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, rows.Err()
}

func (s *PostgresStore) UpdateFrameDescription(ctx context.Context, frameID uuid.UUID, description string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE video_frames SET description = $2 WHERE id = $1`, frameID, description)
	if err != nil {
		return fmt.Errorf("update frame description: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetFrameEmbedding writes an embedding only if none exists yet.
func (s *PostgresStore) SetFrameEmbedding(ctx context.Context, frameID uuid.UUID, embedding []float32) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE video_frames SET embedding = $2 WHERE id = $1 AND embedding IS NULL`,
		frameID, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("set frame embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing frame from one that already has a vector.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM video_frames WHERE id = $1)`, frameID).Scan(&exists); err != nil {
			return fmt.Errorf("check frame: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrEmbeddingSet
	}
	return nil
}

// CorrectFrameEmbedding replaces an embedding unconditionally.
func (s *PostgresStore) CorrectFrameEmbedding(ctx context.Context, frameID uuid.UUID, embedding []float32) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE video_frames SET embedding = $2 WHERE id = $1`,
		frameID, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("correct frame embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SearchSimilarFrames ranks a recipe's embedded frames by cosine similarity
// to the query vector. Ties resolve to the earlier timestamp.
func (s *PostgresStore) SearchSimilarFrames(ctx context.Context, recipeID uuid.UUID, query []float32, limit int) ([]*models.FrameMatch, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, recipe_id, ts_seconds, description, image_url, embedding, created_at,
		        1 - (embedding <=> $2) AS similarity
		 FROM video_frames
		 WHERE recipe_id = $1 AND embedding IS NOT NULL
		 ORDER BY embedding <=> $2 ASC, ts_seconds ASC
		 LIMIT $3`, recipeID, pgvector.NewVector(query), limit)
	if err != nil {
		return nil, fmt.Errorf("search frames: %w", err)
	}
	defer rows.Close()

	var matches []*models.FrameMatch
	for rows.Next() {
		var m models.FrameMatch
		var vec *pgvector.Vector
		if err := rows.Scan(&m.ID, &m.RecipeID, &m.Timestamp, &m.Description, &m.ImageURL,
			&vec, &m.CreatedAt, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scan frame match: %w", err)
		}
		if vec != nil {
			m.Embedding = vec.Slice()
		}
		matches = append(matches, &m)
	}
	return matches, rows.Err()
}

func scanFrame(rows pgx.Rows) (*models.Frame, error) {
	var f models.Frame
	var vec *pgvector.Vector
	if err := rows.Scan(&f.ID, &f.RecipeID, &f.Timestamp, &f.Description, &f.ImageURL,
		&vec, &f.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan frame: %w", err)
	}
	if vec != nil {
		f.Embedding = vec.Slice()
	}
	return &f, nil
}

// --- Processing queue ---

func (s *PostgresStore) GetQueueEntry(ctx context.Context, recipeID uuid.UUID) (*models.ProcessingQueueEntry, error) {
	var e models.ProcessingQueueEntry
	err := s.pool.QueryRow(ctx,
		`SELECT id, recipe_id, status, error_message, started_at, completed_at, created_at, updated_at
		 FROM processing_queue WHERE recipe_id = $1`, recipeID,
	).Scan(&e.ID, &e.RecipeID, &e.Status, &e.ErrorMessage, &e.StartedAt, &e.CompletedAt,
		&e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get queue entry: %w", err)
	}
	return &e, nil
}

var validTransitions = map[string][]string{
	models.QueueStatusPending:    {models.QueueStatusProcessing, models.QueueStatusFailed},
	models.QueueStatusProcessing: {models.QueueStatusCompleted, models.QueueStatusFailed},
}

func (s *PostgresStore) UpdateQueueStatus(ctx context.Context, recipeID uuid.UUID, status string, opts ...QueueUpdateOption) error {
	params := &QueueUpdate{}
	for _, opt := range opts {
		opt(params)
	}

	var currentStatus string
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM processing_queue WHERE recipe_id = $1`, recipeID).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get queue status: %w", err)
	}

	allowed := validTransitions[currentStatus]
	valid := false
	for _, a := range allowed {
		if a == status {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid queue status transition: %s -> %s", currentStatus, status)
	}

	now := time.Now().UTC()
	query := `UPDATE processing_queue SET status = $2, updated_at = $3`
	args := []any{recipeID, status, now}
	argIdx := 4

	if status == models.QueueStatusProcessing {
		query += fmt.Sprintf(", started_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if status == models.QueueStatusCompleted || status == models.QueueStatusFailed {
		query += fmt.Sprintf(", completed_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}

	query += " WHERE recipe_id = $1"

	_, err = s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update queue status: %w", err)
	}
	return nil
}

// RecoverStuckEntries fails queue entries (and their recipes) that have been
// processing longer than cutoff. Runs at startup so a crash mid-pipeline
// cannot strand a recipe in processing forever.
func (s *PostgresStore) RecoverStuckEntries(ctx context.Context, cutoff time.Duration) (int, error) {
	deadline := time.Now().UTC().Add(-cutoff)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE processing_queue
		 SET status = $1, error_message = 'processing interrupted', completed_at = NOW(), updated_at = NOW()
		 WHERE status = $2 AND updated_at < $3`,
		models.QueueStatusFailed, models.QueueStatusProcessing, deadline)
	if err != nil {
		return 0, fmt.Errorf("recover stuck entries: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE recipes SET status = $1, updated_at = NOW()
		 WHERE id IN (
		   SELECT recipe_id FROM processing_queue
		   WHERE status = $2 AND error_message = 'processing interrupted'
		 ) AND status = $3`,
		models.RecipeStatusFailed, models.QueueStatusFailed, models.RecipeStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("fail stuck recipes: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit recovery: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// --- Upload progress ---

func (s *PostgresStore) UpsertUploadProgress(ctx context.Context, progress *models.UploadProgress) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO upload_progress (recipe_id, bytes_uploaded, total_bytes, bytes_per_sec, status, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (recipe_id) DO UPDATE SET
		   bytes_uploaded = EXCLUDED.bytes_uploaded,
		   total_bytes = EXCLUDED.total_bytes,
		   bytes_per_sec = EXCLUDED.bytes_per_sec,
		   status = EXCLUDED.status,
		   updated_at = EXCLUDED.updated_at`,
		progress.RecipeID, progress.BytesUploaded, progress.TotalBytes,
		progress.BytesPerSec, progress.Status, progress.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert upload progress: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUploadProgress(ctx context.Context, recipeID uuid.UUID) (*models.UploadProgress, error) {
	var p models.UploadProgress
	err := s.pool.QueryRow(ctx,
		`SELECT recipe_id, bytes_uploaded, total_bytes, bytes_per_sec, status, updated_at
		 FROM upload_progress WHERE recipe_id = $1`, recipeID,
	).Scan(&p.RecipeID, &p.BytesUploaded, &p.TotalBytes, &p.BytesPerSec, &p.Status, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get upload progress: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) DeleteUploadProgress(ctx context.Context, recipeID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM upload_progress WHERE recipe_id = $1`, recipeID)
	if err != nil {
		return fmt.Errorf("delete upload progress: %w", err)
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
