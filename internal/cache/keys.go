package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func RecipeKey(recipeID uuid.UUID) string {
	return fmt.Sprintf("recipe:%s", recipeID)
}

func RecipeStatusKey(recipeID uuid.UUID) string {
	return fmt.Sprintf("recipe:status:%s", recipeID)
}

func UploadProgressKey(recipeID uuid.UUID) string {
	return fmt.Sprintf("upload:progress:%s", recipeID)
}

func RateLimitKey(clientKey string) string {
	return fmt.Sprintf("ratelimit:%s", clientKey)
}

func StatusChannel(recipeID uuid.UUID) string {
	return fmt.Sprintf("events:recipe:%s", recipeID)
}
