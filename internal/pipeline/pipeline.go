// Package pipeline orchestrates the video-to-recipe flow: upload, frame
// extraction, vision descriptions, embeddings, synthesis, and the durable
// status transitions around them.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/plateworks/reelchef/internal/blob"
	"github.com/plateworks/reelchef/internal/cache"
	"github.com/plateworks/reelchef/internal/config"
	"github.com/plateworks/reelchef/internal/embedding"
	"github.com/plateworks/reelchef/internal/frames"
	"github.com/plateworks/reelchef/internal/store"
	"github.com/plateworks/reelchef/internal/synth"
	"github.com/plateworks/reelchef/pkg/models"
)

// ErrJobFailed wraps every terminal pipeline failure. The queue entry carries
// the specific message; this sentinel lets callers test for the class.
var ErrJobFailed = errors.New("processing job failed")

const statusTTL = 30 * time.Minute

// frameExtractor pulls still frames from a video file.
type frameExtractor interface {
	Extract(ctx context.Context, videoPath string, interval int) ([]frames.Frame, error)
}

// videoUploader moves the source video into the object store.
type videoUploader interface {
	Upload(ctx context.Context, path string, data io.Reader, size int64, contentType string, progress blob.ProgressFunc) error
}

// Service runs the processing pipeline for one recipe at a time per call.
// All state transitions of recipes and queue entries happen here.
type Service struct {
	store     store.Store
	cache     cache.Cache
	blobs     blob.Client
	uploader  videoUploader
	backend   models.Backend
	embedder  *embedding.Service
	extractor frameExtractor
	synth     *synth.Synthesizer
	cfg       config.PipelineConfig
	timeout   time.Duration
	logger    *slog.Logger
}

func NewService(
	st store.Store,
	ca cache.Cache,
	blobs blob.Client,
	uploader videoUploader,
	backend models.Backend,
	embedder *embedding.Service,
	extractor frameExtractor,
	synthesizer *synth.Synthesizer,
	cfg config.PipelineConfig,
	inferenceTimeout time.Duration,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:     st,
		cache:     ca,
		blobs:     blobs,
		uploader:  uploader,
		backend:   backend,
		embedder:  embedder,
		extractor: extractor,
		synth:     synthesizer,
		cfg:       cfg,
		timeout:   inferenceTimeout,
		logger:    logger,
	}
}

// CreateJob registers a new recipe and its queue entry atomically. Either
// both exist afterwards or neither does; a recipe can never be observed
// without its queue entry.
func (s *Service) CreateJob(ctx context.Context, ownerID uuid.UUID, originalURL string) (*models.Recipe, error) {
	now := time.Now().UTC()
	recipe := &models.Recipe{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		Status:      models.RecipeStatusDraft,
		Ingredients: []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if originalURL != "" {
		recipe.OriginalURL = &originalURL
	}

	if _, err := s.store.CreateRecipeWithQueueEntry(ctx, recipe); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	_ = s.cache.SetRecipeStatus(ctx, recipe.ID, models.QueueStatusPending, statusTTL)
	s.publish(ctx, recipe.ID, models.QueueStatusPending, "")

	return recipe, nil
}

// Start dispatches processing in a background goroutine and returns
// immediately. videoPath must be a temp file owned by the pipeline; it is
// removed when processing ends.
func (s *Service) Start(recipeID uuid.UUID, videoPath string) {
	go func() {
		ctx := context.Background()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic in pipeline run",
					slog.String("recipe_id", recipeID.String()),
					slog.Any("error", r))
				s.fail(ctx, recipeID, fmt.Sprintf("panic: %v", r))
			}
		}()
		defer os.Remove(videoPath)

		if err := s.Process(ctx, recipeID, videoPath); err != nil {
			s.logger.Error("pipeline run failed",
				slog.String("recipe_id", recipeID.String()),
				slog.String("error", err.Error()))
		}
	}()
}

// Process runs the full pipeline synchronously. It owns every status
// transition while the queue entry is live: the recipe, cache, and event
// stream only ever mirror a queue transition that was accepted, so they can
// never contradict the persisted entry. If a terminal write is rejected the
// entry is left for its current owner (or stuck-job recovery) to settle.
// Individual frame failures do not abort the run; only systemic errors do.
func (s *Service) Process(ctx context.Context, recipeID uuid.UUID, videoPath string) error {
	if err := s.uploadVideo(ctx, recipeID, videoPath); err != nil {
		return s.fail(ctx, recipeID, fmt.Sprintf("uploading video: %v", err))
	}

	if err := s.store.UpdateQueueStatus(ctx, recipeID, models.QueueStatusProcessing); err != nil {
		return s.fail(ctx, recipeID, fmt.Sprintf("marking processing: %v", err))
	}
	_ = s.store.UpdateRecipeStatus(ctx, recipeID, models.RecipeStatusProcessing)
	_ = s.cache.SetRecipeStatus(ctx, recipeID, models.QueueStatusProcessing, statusTTL)
	s.publish(ctx, recipeID, models.QueueStatusProcessing, "")

	extracted, err := s.extractor.Extract(ctx, videoPath, s.cfg.FrameInterval)
	if err != nil {
		return s.fail(ctx, recipeID, fmt.Sprintf("extracting frames: %v", err))
	}
	if len(extracted) == 0 {
		return s.fail(ctx, recipeID, "no frames extracted from video")
	}

	results, failed := s.processFrames(ctx, recipeID, extracted)

	total := len(extracted)
	succeeded := total - failed
	if succeeded == 0 {
		return s.fail(ctx, recipeID, fmt.Sprintf("all %d frames failed processing", total))
	}
	if rate := float64(succeeded) / float64(total); rate < s.cfg.MinFrameSuccessRate {
		return s.fail(ctx, recipeID,
			fmt.Sprintf("frame success rate %.2f below required %.2f", rate, s.cfg.MinFrameSuccessRate))
	}

	if err := s.synthesizeRecipe(ctx, recipeID, results); err != nil {
		return s.fail(ctx, recipeID, fmt.Sprintf("synthesizing recipe: %v", err))
	}

	s.attachAttribution(ctx, recipeID, results)
	s.attachThumbnail(ctx, recipeID, results)

	// The queue entry is the source of truth. If the transition is rejected
	// (stuck-job recovery on another instance already failed it, or the DB
	// errored) the recipe, cache, and subscribers must not be told otherwise.
	if err := s.store.UpdateQueueStatus(ctx, recipeID, models.QueueStatusCompleted); err != nil {
		s.logger.Error("failed to mark queue entry completed",
			slog.String("recipe_id", recipeID.String()),
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: marking completed: %v", ErrJobFailed, err)
	}
	_ = s.store.UpdateRecipeStatus(ctx, recipeID, models.RecipeStatusCompleted)
	_ = s.cache.SetRecipeStatus(ctx, recipeID, models.QueueStatusCompleted, statusTTL)
	s.publish(ctx, recipeID, models.QueueStatusCompleted, "")

	s.logger.Info("pipeline run completed",
		slog.String("recipe_id", recipeID.String()),
		slog.Int("frames", total),
		slog.Int("failed_frames", failed))
	return nil
}

// uploadVideo streams the source file into the object store, tracking
// progress in the upload_progress table. The progress row is deleted once
// the transfer settles either way.
func (s *Service) uploadVideo(ctx context.Context, recipeID uuid.UUID, videoPath string) error {
	f, err := os.Open(videoPath)
	if err != nil {
		return fmt.Errorf("opening video: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat video: %w", err)
	}

	dest := videoObjectPath(recipeID)
	progress := func(uploaded, total int64, bytesPerSec float64) {
		_ = s.store.UpsertUploadProgress(ctx, &models.UploadProgress{
			RecipeID:      recipeID,
			BytesUploaded: uploaded,
			TotalBytes:    total,
			BytesPerSec:   bytesPerSec,
			Status:        models.UploadStatusUploading,
			UpdatedAt:     time.Now().UTC(),
		})
	}

	uploadErr := s.uploader.Upload(ctx, dest, f, info.Size(), "video/mp4", progress)
	_ = s.store.DeleteUploadProgress(ctx, recipeID)
	if uploadErr != nil {
		return uploadErr
	}

	return s.store.SetRecipeVideoURL(ctx, recipeID, s.blobs.GetPublicURL(dest))
}

// frameResult is what one frame contributes after the per-frame pipeline.
type frameResult struct {
	timestamp   int
	imageURL    string
	description string
	ok          bool
}

// processFrames runs the per-frame pipeline (store image, describe, embed)
// with bounded concurrency. A failing frame is isolated: it gets a
// placeholder description pointing at the stored image and the run carries
// on. Returns results sorted by timestamp and the count of failed frames.
func (s *Service) processFrames(ctx context.Context, recipeID uuid.UUID, extracted []frames.Frame) ([]frameResult, int) {
	results := make([]frameResult, len(extracted))
	var failed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.FrameWorkers)

	for i, fr := range extracted {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					failed.Add(1)
					results[i] = frameResult{timestamp: fr.Timestamp}
					s.logger.Error("panic processing frame",
						slog.String("recipe_id", recipeID.String()),
						slog.Int("timestamp", fr.Timestamp),
						slog.Any("error", r))
				}
			}()
			res, err := s.processFrame(gctx, recipeID, fr)
			if err != nil {
				failed.Add(1)
				s.logger.Warn("frame processing failed",
					slog.String("recipe_id", recipeID.String()),
					slog.Int("timestamp", fr.Timestamp),
					slog.String("error", err.Error()))
			}
			results[i] = res
			return nil // frame failures never cancel siblings
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(a, b int) bool {
		return results[a].timestamp < results[b].timestamp
	})
	return results, int(failed.Load())
}

// processFrame stores one frame image, records it, and attaches a vision
// description plus embedding. Any failure past image storage leaves a
// placeholder description so downstream synthesis still sees the timeline.
func (s *Service) processFrame(ctx context.Context, recipeID uuid.UUID, fr frames.Frame) (frameResult, error) {
	res := frameResult{timestamp: fr.Timestamp}

	imagePath := frameObjectPath(recipeID, fr.Timestamp)
	if err := s.blobs.Upload(ctx, imagePath, bytes.NewReader(fr.Image), "image/jpeg"); err != nil {
		return res, fmt.Errorf("storing frame image: %w", err)
	}
	res.imageURL = s.blobs.GetPublicURL(imagePath)

	now := time.Now().UTC()
	row := &models.Frame{
		ID:        uuid.New(),
		RecipeID:  recipeID,
		Timestamp: fr.Timestamp,
		ImageURL:  res.imageURL,
		CreatedAt: now,
	}
	if err := s.store.CreateFrame(ctx, row); err != nil {
		return res, fmt.Errorf("recording frame: %w", err)
	}

	description, err := s.describeFrame(ctx, res.imageURL)
	if err != nil {
		// Isolate the failure: keep the stored image reachable through a
		// placeholder so the timeline stays complete.
		placeholder := fmt.Sprintf("Frame at %ds (description unavailable, image: %s)", fr.Timestamp, res.imageURL)
		_ = s.store.UpdateFrameDescription(ctx, row.ID, placeholder)
		res.description = placeholder
		return res, fmt.Errorf("describing frame: %w", err)
	}
	if err := s.store.UpdateFrameDescription(ctx, row.ID, description); err != nil {
		return res, fmt.Errorf("recording description: %w", err)
	}
	res.description = description

	vector, err := s.embedFrame(ctx, description)
	if err != nil {
		return res, fmt.Errorf("embedding frame: %w", err)
	}
	if err := s.store.SetFrameEmbedding(ctx, row.ID, vector); err != nil && !errors.Is(err, store.ErrEmbeddingSet) {
		return res, fmt.Errorf("recording embedding: %w", err)
	}

	res.ok = true
	return res, nil
}

func (s *Service) describeFrame(ctx context.Context, imageURL string) (string, error) {
	dctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.backend.DescribeImage(dctx, imageURL, synth.DescribeFramePrompt)
}

func (s *Service) embedFrame(ctx context.Context, description string) ([]float32, error) {
	ectx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.embedder.Embed(ectx, description)
}

func (s *Service) synthesizeRecipe(ctx context.Context, recipeID uuid.UUID, results []frameResult) error {
	var descriptions []synth.TimedDescription
	for _, r := range results {
		if r.ok {
			descriptions = append(descriptions, synth.TimedDescription{
				Timestamp:   r.timestamp,
				Description: r.description,
			})
		}
	}

	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	summary, err := s.synth.Synthesize(sctx, descriptions)
	if err != nil {
		return err
	}
	return s.store.SetRecipeSummary(ctx, recipeID, summary)
}

// attachAttribution probes the last two frames for a creator watermark.
// Attribution is best-effort; its absence never fails the run.
func (s *Service) attachAttribution(ctx context.Context, recipeID uuid.UUID, results []frameResult) {
	var urls []string
	for i := len(results) - 1; i >= 0 && len(urls) < 2; i-- {
		if results[i].imageURL != "" {
			urls = append(urls, results[i].imageURL)
		}
	}
	if len(urls) == 0 {
		return
	}

	actx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	attr, ok := s.synth.ExtractAttribution(actx, urls)
	if !ok {
		return
	}

	handle := attr.Handle
	if attr.Platform != "" {
		handle = attr.Platform + ":" + attr.Handle
	}
	if err := s.store.SetRecipeAttribution(ctx, recipeID, handle); err != nil {
		s.logger.Warn("failed to record attribution",
			slog.String("recipe_id", recipeID.String()),
			slog.String("error", err.Error()))
	}
}

// attachThumbnail points the recipe at its first successfully stored frame.
func (s *Service) attachThumbnail(ctx context.Context, recipeID uuid.UUID, results []frameResult) {
	for _, r := range results {
		if r.imageURL == "" {
			continue
		}
		if err := s.store.SetRecipeThumbnail(ctx, recipeID, r.imageURL); err != nil {
			s.logger.Warn("failed to record thumbnail",
				slog.String("recipe_id", recipeID.String()),
				slog.String("error", err.Error()))
		}
		return
	}
}

// SearchFrames embeds the query text and ranks the recipe's frames by
// cosine similarity against their stored embeddings.
func (s *Service) SearchFrames(ctx context.Context, recipeID uuid.UUID, query string, limit int) ([]*models.FrameMatch, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return s.store.SearchSimilarFrames(ctx, recipeID, vec, limit)
}

// fail drives the recipe and queue entry to their failed terminal state and
// returns ErrJobFailed carrying the message. The queue transition guards the
// rest: when it is rejected, whoever owns the entry's terminal state has
// already mirrored it, and writing recipe, cache, or an event here would
// contradict the persisted record.
func (s *Service) fail(ctx context.Context, recipeID uuid.UUID, msg string) error {
	if err := s.store.UpdateQueueStatus(ctx, recipeID, models.QueueStatusFailed,
		store.WithErrorMessage(msg)); err != nil {
		s.logger.Error("failed to mark queue entry failed",
			slog.String("recipe_id", recipeID.String()),
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: %s", ErrJobFailed, msg)
	}
	_ = s.store.UpdateRecipeStatus(ctx, recipeID, models.RecipeStatusFailed)
	_ = s.cache.SetRecipeStatus(ctx, recipeID, models.QueueStatusFailed, statusTTL)
	s.publish(ctx, recipeID, models.QueueStatusFailed, msg)
	return fmt.Errorf("%w: %s", ErrJobFailed, msg)
}

func (s *Service) publish(ctx context.Context, recipeID uuid.UUID, status, errMsg string) {
	err := s.cache.PublishStatus(ctx, models.StatusEvent{
		RecipeID: recipeID,
		Status:   status,
		Error:    errMsg,
		At:       time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("failed to publish status event",
			slog.String("recipe_id", recipeID.String()),
			slog.String("error", err.Error()))
	}
}

func videoObjectPath(recipeID uuid.UUID) string {
	return fmt.Sprintf("recipes/%s/video.mp4", recipeID)
}

func frameObjectPath(recipeID uuid.UUID, ts int) string {
	return fmt.Sprintf("recipes/%s/frames/%06d.jpg", recipeID, ts)
}
