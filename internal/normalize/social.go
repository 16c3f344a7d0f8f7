package normalize

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/plateworks/reelchef/pkg/models"
)

// The attribution prompt asks the model to answer with a sentinel line:
// SOCIAL:platform:handle when a creator handle is visible, SOCIAL:none when
// it is not. Models being models, we also accept a {platform, handle} JSON
// object anywhere in the response.
var sentinelRe = regexp.MustCompile(`SOCIAL:([A-Za-z0-9_]+):(@?[\w.\-]+)`)

// ParseSocialHandle extracts a creator attribution from model text. The
// boolean reports whether a handle was actually found; callers leave existing
// attribution untouched when it is false.
func ParseSocialHandle(text string) (models.Attribution, bool) {
	if strings.Contains(text, "SOCIAL:none") {
		return models.Attribution{}, false
	}

	if m := sentinelRe.FindStringSubmatch(text); m != nil {
		return models.Attribution{
			Platform: strings.ToLower(m[1]),
			Handle:   m[2],
		}, true
	}

	for _, candidate := range balancedObjects(text) {
		var attr models.Attribution
		if err := json.Unmarshal([]byte(candidate), &attr); err != nil {
			continue
		}
		if attr.Handle != "" && !strings.EqualFold(attr.Handle, "none") {
			attr.Platform = strings.ToLower(attr.Platform)
			return attr, true
		}
	}

	return models.Attribution{}, false
}
