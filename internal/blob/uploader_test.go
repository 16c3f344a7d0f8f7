package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeClient records every object written and removed so tests can check
// that a failed parted upload leaves nothing behind.
type fakeClient struct {
	mu       sync.Mutex
	objects  map[string][]byte
	failOn   string
	failErr  error
	failOnce string // first write to a matching path fails, then succeeds
}

func newFakeClient() *fakeClient {
	return &fakeClient{objects: make(map[string][]byte)}
}

func (f *fakeClient) Upload(ctx context.Context, path string, data io.Reader, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != "" && strings.Contains(path, f.failOn) {
		return f.failErr
	}
	if f.failOnce != "" && strings.Contains(path, f.failOnce) {
		f.failOnce = ""
		return errors.New("transient store error")
	}
	if _, exists := f.objects[path]; exists {
		return fmt.Errorf("%w: %s", ErrUploadConflict, path)
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.objects[path] = b
	return nil
}

func (f *fakeClient) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[path]
	if !ok {
		return nil, fmt.Errorf("%w: download %s", ErrRequestFailed, path)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *fakeClient) GetPublicURL(path string) string {
	return "https://store.test/object/public/videos/" + path
}

func (f *fakeClient) Remove(ctx context.Context, paths []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range paths {
		delete(f.objects, p)
	}
	return nil
}

func (f *fakeClient) List(ctx context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for p := range f.objects {
		if strings.HasPrefix(p, prefix) {
			names = append(names, p)
		}
	}
	return names, nil
}

func (f *fakeClient) CreateSignedUploadURL(ctx context.Context, path string) (string, error) {
	return "https://store.test/signed/" + path, nil
}

func (f *fakeClient) UploadToSignedURL(ctx context.Context, signedURL string, data io.Reader, size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.objects[signedURL] = b
	return nil
}

func (f *fakeClient) partPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var parts []string
	for p := range f.objects {
		if strings.Contains(p, ".part.") {
			parts = append(parts, p)
		}
	}
	return parts
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUploadSingleShot(t *testing.T) {
	client := newFakeClient()
	up := NewUploader(client, 1024, 0, testLogger())

	data := []byte("small payload")
	err := up.Upload(context.Background(), "jobs/a/video.mp4", bytes.NewReader(data), int64(len(data)), "video/mp4", nil)
	if err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}

	if got := client.objects["jobs/a/video.mp4"]; !bytes.Equal(got, data) {
		t.Errorf("stored object = %q", got)
	}
	if parts := client.partPaths(); len(parts) != 0 {
		t.Errorf("single-shot upload wrote parts: %v", parts)
	}
}

func TestUploadParted(t *testing.T) {
	client := newFakeClient()
	up := NewUploader(client, 4, 0, testLogger())

	data := []byte("abcdefghij") // 10 bytes, 4-byte parts -> 3 parts
	err := up.Upload(context.Background(), "jobs/a/video.mp4", bytes.NewReader(data), int64(len(data)), "video/mp4", nil)
	if err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}

	if got := client.objects["jobs/a/video.mp4"]; !bytes.Equal(got, data) {
		t.Errorf("reassembled object = %q, want %q", got, data)
	}
	if parts := client.partPaths(); len(parts) != 0 {
		t.Errorf("parts left after successful upload: %v", parts)
	}
}

func TestUploadPartedFailureRemovesParts(t *testing.T) {
	client := newFakeClient()
	client.failOn = ".part.0002"
	client.failErr = errors.New("store exploded")
	up := NewUploader(client, 4, 0, testLogger())

	data := []byte("abcdefghijkl") // 3 parts, third fails
	err := up.Upload(context.Background(), "jobs/a/video.mp4", bytes.NewReader(data), int64(len(data)), "video/mp4", nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	if parts := client.partPaths(); len(parts) != 0 {
		t.Errorf("orphaned parts after failure: %v", parts)
	}
	if _, exists := client.objects["jobs/a/video.mp4"]; exists {
		t.Error("destination object exists after failed upload")
	}
}

func TestUploadPartedCommitFailureRemovesParts(t *testing.T) {
	client := newFakeClient()
	client.failOn = "video.mp4" // parts succeed, the final reassembly write fails
	client.failErr = errors.New("store exploded")
	up := NewUploader(client, 4, 0, testLogger())

	data := []byte("abcdefghij")
	err := up.Upload(context.Background(), "jobs/a/video.mp4", bytes.NewReader(data), int64(len(data)), "video/mp4", nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if parts := client.partPaths(); len(parts) != 0 {
		t.Errorf("orphaned parts after commit failure: %v", parts)
	}
}

func TestUploadPartedShortReaderFails(t *testing.T) {
	client := newFakeClient()
	up := NewUploader(client, 4, 0, testLogger())

	// The reader holds 10 bytes but 20 are declared; the upload must not
	// commit a truncated object.
	err := up.Upload(context.Background(), "jobs/a/video.mp4", strings.NewReader("0123456789"), 20, "video/mp4", nil)
	if !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("expected ErrSizeMismatch, got %v", err)
	}
	if _, exists := client.objects["jobs/a/video.mp4"]; exists {
		t.Error("destination object exists after short read")
	}
	if parts := client.partPaths(); len(parts) != 0 {
		t.Errorf("orphaned parts after short read: %v", parts)
	}
}

func TestUploadSingleShotShortReaderFails(t *testing.T) {
	client := newFakeClient()
	up := NewUploader(client, 1024, 0, testLogger())

	err := up.Upload(context.Background(), "jobs/a/video.mp4", strings.NewReader("abc"), 5, "video/mp4", nil)
	if !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("expected ErrSizeMismatch, got %v", err)
	}
	if _, exists := client.objects["jobs/a/video.mp4"]; exists {
		t.Error("truncated object left at destination")
	}
}

func TestUploadWithProgressIsRetryable(t *testing.T) {
	client := newFakeClient()
	client.failOnce = "video.mp4"
	up := NewUploader(client, 1024, 2, testLogger())

	var final int64
	data := []byte("retryable payload")
	err := up.Upload(context.Background(), "jobs/a/video.mp4", bytes.NewReader(data), int64(len(data)), "video/mp4",
		func(uploaded, total int64, bytesPerSec float64) { final = uploaded })
	if err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}
	if got := client.objects["jobs/a/video.mp4"]; !bytes.Equal(got, data) {
		t.Errorf("stored object = %q, want %q", got, data)
	}
	if final != int64(len(data)) {
		t.Errorf("final progress = %d, want %d", final, len(data))
	}
}

func TestProgressReaderSeekResetsCount(t *testing.T) {
	r := &progressReader{
		inner: bytes.NewReader([]byte("abcdefgh")),
		total: 8,
		start: time.Unix(1000, 0),
		now:   func() time.Time { return time.Unix(1001, 0) },
	}

	buf := make([]byte, 4)
	if _, err := r.Read(buf); err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if r.uploaded != 4 {
		t.Fatalf("uploaded = %d, want 4", r.uploaded)
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("Seek returned error: %v", err)
	}
	if r.uploaded != 0 {
		t.Errorf("uploaded after rewind = %d, want 0", r.uploaded)
	}

	n, err := io.Copy(io.Discard, r)
	if err != nil {
		t.Fatalf("Copy returned error: %v", err)
	}
	if n != 8 || r.uploaded != 8 {
		t.Errorf("read %d bytes, uploaded = %d, want 8 and 8", n, r.uploaded)
	}
}

func TestProgressReaderSeekNonSeekable(t *testing.T) {
	r := &progressReader{inner: strings.NewReader("x")}
	// strings.Reader is seekable; wrap it so it is not.
	r.inner = io.MultiReader(r.inner)

	if _, err := r.Seek(0, io.SeekStart); err == nil {
		t.Fatal("expected error seeking a non-seekable reader")
	}
}

func TestUploadConflictNotRetried(t *testing.T) {
	client := newFakeClient()
	client.objects["jobs/a/video.mp4"] = []byte("already here")
	up := NewUploader(client, 1024, 3, testLogger())

	err := up.Upload(context.Background(), "jobs/a/video.mp4", strings.NewReader("new"), 3, "video/mp4", nil)
	if !errors.Is(err, ErrUploadConflict) {
		t.Fatalf("expected ErrUploadConflict, got %v", err)
	}
	if got := client.objects["jobs/a/video.mp4"]; string(got) != "already here" {
		t.Errorf("existing object was overwritten: %q", got)
	}
}

func TestUploadProgress(t *testing.T) {
	client := newFakeClient()
	up := NewUploader(client, 4, 0, testLogger())

	var updates []int64
	data := []byte("abcdefghij")
	err := up.Upload(context.Background(), "jobs/a/video.mp4", bytes.NewReader(data), int64(len(data)), "video/mp4",
		func(uploaded, total int64, bytesPerSec float64) {
			if total != 10 {
				t.Errorf("total = %d, want 10", total)
			}
			updates = append(updates, uploaded)
		})
	if err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}

	if len(updates) == 0 {
		t.Fatal("no progress updates")
	}
	for i := 1; i < len(updates); i++ {
		if updates[i] < updates[i-1] {
			t.Errorf("progress regressed: %v", updates)
		}
	}
	if updates[len(updates)-1] != 10 {
		t.Errorf("final progress = %d, want 10", updates[len(updates)-1])
	}
}

func TestUploadSigned(t *testing.T) {
	client := newFakeClient()
	up := NewUploader(client, 1024, 0, testLogger())

	var final int64
	url, err := up.UploadSigned(context.Background(), "jobs/a/video.mp4", strings.NewReader("payload"), 7,
		func(uploaded, total int64, bytesPerSec float64) { final = uploaded })
	if err != nil {
		t.Fatalf("UploadSigned returned error: %v", err)
	}
	if url != "https://store.test/object/public/videos/jobs/a/video.mp4" {
		t.Errorf("url = %q", url)
	}
	if final != 7 {
		t.Errorf("final progress = %d, want 7", final)
	}
	if got := client.objects["https://store.test/signed/jobs/a/video.mp4"]; string(got) != "payload" {
		t.Errorf("signed upload stored %q", got)
	}
}

func TestProgressReaderRate(t *testing.T) {
	var gotRate float64
	base := time.Unix(1000, 0)
	clock := base
	r := &progressReader{
		inner:    strings.NewReader("abcdefgh"),
		total:    8,
		progress: func(uploaded, total int64, bytesPerSec float64) { gotRate = bytesPerSec },
		start:    base,
		now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	}

	buf := make([]byte, 8)
	if _, err := r.Read(buf); err != nil && err != io.EOF {
		t.Fatalf("Read returned error: %v", err)
	}
	// 8 bytes over 1 simulated second
	if gotRate != 8 {
		t.Errorf("rate = %v, want 8", gotRate)
	}
}
