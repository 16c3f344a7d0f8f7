package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/plateworks/reelchef/internal/api/response"
	"github.com/plateworks/reelchef/internal/store"
	"github.com/plateworks/reelchef/pkg/models"
)

// maxVideoBytes caps the multipart upload size. Videos past this point
// should arrive via signed upload URLs instead.
const maxVideoBytes = 512 << 20

// RecipeCreator is the pipeline surface the create handler needs.
type RecipeCreator interface {
	CreateJob(ctx context.Context, ownerID uuid.UUID, originalURL string) (*models.Recipe, error)
	Start(recipeID uuid.UUID, videoPath string)
}

// FrameSearcher ranks a recipe's frames against a free-text query.
type FrameSearcher interface {
	SearchFrames(ctx context.Context, recipeID uuid.UUID, query string, limit int) ([]*models.FrameMatch, error)
}

// RecipeStore is the read-side store surface the GET handlers need.
type RecipeStore interface {
	GetRecipe(ctx context.Context, id uuid.UUID) (*models.Recipe, error)
	GetQueueEntry(ctx context.Context, recipeID uuid.UUID) (*models.ProcessingQueueEntry, error)
	ListFrames(ctx context.Context, recipeID uuid.UUID) ([]*models.Frame, error)
	GetUploadProgress(ctx context.Context, recipeID uuid.UUID) (*models.UploadProgress, error)
}

// NewCreateRecipeHandler returns the handler for POST /api/v1/recipes.
// It accepts a multipart form with a required "video" file and optional
// "owner_id" and "original_url" fields, creates the job, and dispatches
// processing in the background.
func NewCreateRecipeHandler(pipe RecipeCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxVideoBytes)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"Expected multipart form with a video file", nil)
			return
		}

		file, _, err := r.FormFile("video")
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"video file is required", nil)
			return
		}
		defer file.Close()

		ownerID := uuid.New()
		if raw := r.FormValue("owner_id"); raw != "" {
			ownerID, err = uuid.Parse(raw)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"owner_id must be a valid UUID", nil)
				return
			}
		}
		originalURL := r.FormValue("original_url")

		tmp, err := os.CreateTemp("", "reelchef-upload-*.mp4")
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Could not store upload", nil)
			return
		}
		if _, err := io.Copy(tmp, file); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Could not store upload", nil)
			return
		}
		tmp.Close()

		recipe, err := pipe.CreateJob(r.Context(), ownerID, originalURL)
		if err != nil {
			os.Remove(tmp.Name())
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Could not create processing job", nil)
			return
		}

		// The pipeline owns the temp file from here.
		pipe.Start(recipe.ID, tmp.Name())

		response.Accepted(w, recipe)
	}
}

// recipeView joins the recipe with its processing state.
type recipeView struct {
	*models.Recipe
	Processing *models.ProcessingQueueEntry `json:"processing"`
}

// NewGetRecipeHandler returns the handler for GET /api/v1/recipes/{recipeID}.
func NewGetRecipeHandler(st RecipeStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recipeID, ok := parseRecipeID(w, r)
		if !ok {
			return
		}

		recipe, err := st.GetRecipe(r.Context(), recipeID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Recipe not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Could not load recipe", nil)
			return
		}

		entry, err := st.GetQueueEntry(r.Context(), recipeID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Could not load processing state", nil)
			return
		}

		response.JSON(w, recipeView{Recipe: recipe, Processing: entry})
	}
}

// NewListFramesHandler returns the handler for
// GET /api/v1/recipes/{recipeID}/frames.
func NewListFramesHandler(st RecipeStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recipeID, ok := parseRecipeID(w, r)
		if !ok {
			return
		}

		if _, err := st.GetRecipe(r.Context(), recipeID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Recipe not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Could not load recipe", nil)
			return
		}

		frames, err := st.ListFrames(r.Context(), recipeID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Could not load frames", nil)
			return
		}
		if frames == nil {
			frames = []*models.Frame{}
		}
		response.JSON(w, frames)
	}
}

// NewSearchFramesHandler returns the handler for
// GET /api/v1/recipes/{recipeID}/frames/search?q=...&k=...
func NewSearchFramesHandler(search FrameSearcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recipeID, ok := parseRecipeID(w, r)
		if !ok {
			return
		}

		query := r.URL.Query().Get("q")
		if query == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"q is required", nil)
			return
		}

		limit := 10
		if raw := r.URL.Query().Get("k"); raw != "" {
			k, err := strconv.Atoi(raw)
			if err != nil || k <= 0 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"k must be a positive integer", nil)
				return
			}
			limit = k
		}

		matches, err := search.SearchFrames(r.Context(), recipeID, query, limit)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Search failed", nil)
			return
		}
		if matches == nil {
			matches = []*models.FrameMatch{}
		}
		response.JSON(w, matches)
	}
}

// NewUploadProgressHandler returns the handler for
// GET /api/v1/recipes/{recipeID}/progress.
func NewUploadProgressHandler(st RecipeStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recipeID, ok := parseRecipeID(w, r)
		if !ok {
			return
		}

		progress, err := st.GetUploadProgress(r.Context(), recipeID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND",
				"No upload in flight for this recipe", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Could not load upload progress", nil)
			return
		}
		response.JSON(w, progress)
	}
}

func parseRecipeID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	recipeID, err := uuid.Parse(chi.URLParam(r, "recipeID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			"recipeID must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return recipeID, true
}
