package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSocialHandle(t *testing.T) {
	tests := []struct {
		name         string
		in           string
		wantFound    bool
		wantPlatform string
		wantHandle   string
	}{
		{
			name:         "sentinel",
			in:           "SOCIAL:instagram:@cookswithfire",
			wantFound:    true,
			wantPlatform: "instagram",
			wantHandle:   "@cookswithfire",
		},
		{
			name:         "sentinel in prose",
			in:           "Looking at the frame, the overlay reads SOCIAL:tiktok:chef.anna here.",
			wantFound:    true,
			wantPlatform: "tiktok",
			wantHandle:   "chef.anna",
		},
		{
			name:      "sentinel none",
			in:        "SOCIAL:none",
			wantFound: false,
		},
		{
			name:         "json fallback",
			in:           `I found this: {"platform":"YouTube","handle":"@bakerstreet"}`,
			wantFound:    true,
			wantPlatform: "youtube",
			wantHandle:   "@bakerstreet",
		},
		{
			name:      "json none handle",
			in:        `{"platform":"","handle":"none"}`,
			wantFound: false,
		},
		{
			name:      "no handle at all",
			in:        "Just a pan on a stove, no text visible.",
			wantFound: false,
		},
		{
			name:      "empty",
			in:        "",
			wantFound: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attr, found := ParseSocialHandle(tt.in)
			assert.Equal(t, tt.wantFound, found)
			if tt.wantFound {
				assert.Equal(t, tt.wantPlatform, attr.Platform)
				assert.Equal(t, tt.wantHandle, attr.Handle)
			}
		})
	}
}
