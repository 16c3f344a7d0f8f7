// Package frames extracts timestamped still images from a video file.
package frames

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// ErrDecode indicates the video could not be loaded or probed at all.
var ErrDecode = errors.New("video could not be decoded")

// Frame is one captured still image and the second it was sampled at.
type Frame struct {
	Timestamp int
	Image     []byte
}

// runner abstracts command execution so tests can inject canned output.
type runner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// Extractor captures raster snapshots at fixed intervals. Each call is
// stateless and restartable; a mutex serializes decoding so only one stream
// is open at a time.
type Extractor struct {
	mu  sync.Mutex
	run runner
}

func NewExtractor() *Extractor {
	return &Extractor{run: execRunner{}}
}

// Extract seeks to 0, interval, 2·interval, … up to the video's duration and
// captures an MJPEG snapshot at fixed quality for each point. The returned
// frames are ordered by strictly increasing timestamp.
func (e *Extractor) Extract(ctx context.Context, videoPath string, interval int) ([]Frame, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %d", interval)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	duration, err := e.probeDuration(ctx, videoPath)
	if err != nil {
		return nil, err
	}

	var result []Frame
	for _, ts := range timestampsFor(duration, interval) {
		img, err := e.snapshot(ctx, videoPath, ts)
		if err != nil {
			return nil, fmt.Errorf("capturing frame at %ds: %w", ts, err)
		}
		result = append(result, Frame{Timestamp: ts, Image: img})
	}
	return result, nil
}

// timestampsFor returns 0, interval, 2·interval, … while the point lies
// within the duration.
func timestampsFor(duration float64, interval int) []int {
	var out []int
	for ts := 0; float64(ts) <= duration; ts += interval {
		out = append(out, ts)
	}
	return out
}

func (e *Extractor) probeDuration(ctx context.Context, videoPath string) (float64, error) {
	out, err := e.run.Output(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil || duration < 0 {
		return 0, fmt.Errorf("%w: unparseable duration %q", ErrDecode, strings.TrimSpace(string(out)))
	}
	return duration, nil
}

func (e *Extractor) snapshot(ctx context.Context, videoPath string, ts int) ([]byte, error) {
	return e.run.Output(ctx, "ffmpeg",
		"-ss", strconv.Itoa(ts),
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "2",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-",
	)
}
