package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// ErrSizeMismatch means the reader held a different number of bytes than the
// declared size; the destination is never left holding a truncated object.
var ErrSizeMismatch = errors.New("upload size mismatch")

// ProgressFunc receives byte counts as an upload advances. bytesPerSec is a
// running average since the upload started.
type ProgressFunc func(uploaded, total int64, bytesPerSec float64)

// Uploader writes large payloads to the object store. Payloads at or below
// partSize go up in a single request; anything larger is split into numbered
// part objects that are reassembled into the final path afterwards. The final
// single write is the commit point: until it succeeds the destination path
// does not exist, and on any failure every part already written is removed
// so no orphans remain.
type Uploader struct {
	client   Client
	partSize int64
	retries  int
	logger   *slog.Logger
	now      func() time.Time
}

// NewUploader creates an Uploader. partSize must be positive.
func NewUploader(client Client, partSize int64, retries int, logger *slog.Logger) *Uploader {
	if partSize <= 0 {
		partSize = 8 << 20
	}
	if retries < 0 {
		retries = 0
	}
	return &Uploader{
		client:   client,
		partSize: partSize,
		retries:  retries,
		logger:   logger,
		now:      time.Now,
	}
}

// Upload writes data to path, choosing single-shot or parted transfer by
// size. size must be the exact byte length of data.
func (u *Uploader) Upload(ctx context.Context, path string, data io.Reader, size int64, contentType string, progress ProgressFunc) error {
	if size <= u.partSize {
		reader := u.wrapProgress(data, size, progress)
		if err := u.uploadWithRetry(ctx, path, reader, contentType); err != nil {
			return err
		}
		if reader.uploaded != size {
			// The truncated object is already at the destination; take it
			// back out rather than leave a silently short video.
			if rerr := u.client.Remove(ctx, []string{path}); rerr != nil {
				u.logger.Error("failed to remove truncated upload",
					slog.String("path", path),
					slog.String("error", rerr.Error()))
			}
			return fmt.Errorf("%w: read %d of %d bytes for %s", ErrSizeMismatch, reader.uploaded, size, path)
		}
		if progress != nil {
			progress(size, size, 0)
		}
		return nil
	}
	return u.uploadParted(ctx, path, data, size, contentType, progress)
}

// UploadSigned streams data through a signed URL for path, reporting progress
// as bytes move.
func (u *Uploader) UploadSigned(ctx context.Context, path string, data io.Reader, size int64, progress ProgressFunc) (string, error) {
	signedURL, err := u.client.CreateSignedUploadURL(ctx, path)
	if err != nil {
		return "", fmt.Errorf("signing upload for %s: %w", path, err)
	}

	reader := u.wrapProgress(data, size, progress)
	if err := u.client.UploadToSignedURL(ctx, signedURL, reader, size); err != nil {
		return "", fmt.Errorf("streaming to signed url: %w", err)
	}
	if progress != nil {
		progress(size, size, 0)
	}
	return u.client.GetPublicURL(path), nil
}

func (u *Uploader) uploadParted(ctx context.Context, path string, data io.Reader, size int64, contentType string, progress ProgressFunc) error {
	var (
		written  []string
		uploaded int64
		start    = u.now()
	)

	cleanup := func() {
		if len(written) == 0 {
			return
		}
		// Best effort with a fresh context: the original may already be
		// cancelled, and leftover parts must still go.
		cctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := u.client.Remove(cctx, written); err != nil {
			u.logger.Error("failed to remove upload parts",
				slog.String("path", path),
				slog.Int("parts", len(written)),
				slog.String("error", err.Error()))
		}
	}

	buf := make([]byte, u.partSize)
	for i := 0; uploaded < size; i++ {
		n, err := io.ReadFull(data, buf)
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			err = nil
		}
		if err != nil {
			cleanup()
			return fmt.Errorf("reading part %d: %w", i, err)
		}
		if n == 0 {
			break
		}

		partPath := fmt.Sprintf("%s.part.%04d", path, i)
		if err := u.uploadWithRetry(ctx, partPath, bytes.NewReader(buf[:n]), contentType); err != nil {
			cleanup()
			return fmt.Errorf("uploading part %d: %w", i, err)
		}
		written = append(written, partPath)
		uploaded += int64(n)

		if progress != nil {
			progress(uploaded, size, rate(uploaded, u.now().Sub(start)))
		}
	}

	if uploaded != size {
		cleanup()
		return fmt.Errorf("%w: read %d of %d bytes for %s", ErrSizeMismatch, uploaded, size, path)
	}

	// Commit: reassemble the parts into the destination path in one write.
	// Until this write succeeds the destination does not exist.
	if err := u.commitParts(ctx, path, written, contentType); err != nil {
		cleanup()
		return err
	}
	cleanup()
	return nil
}

// commitParts concatenates the written parts into the final object. Parts
// were produced by this process moments ago, so a re-download is cheap
// relative to the original transfer.
func (u *Uploader) commitParts(ctx context.Context, path string, parts []string, contentType string) error {
	readers := make([]io.Reader, 0, len(parts))
	bodies := make([]io.Closer, 0, len(parts))
	defer func() {
		for _, b := range bodies {
			b.Close()
		}
	}()

	for _, p := range parts {
		body, err := u.client.Download(ctx, p)
		if err != nil {
			return fmt.Errorf("reading back part %s: %w", p, err)
		}
		bodies = append(bodies, body)
		readers = append(readers, body)
	}

	if err := u.uploadWithRetry(ctx, path, io.MultiReader(readers...), contentType); err != nil {
		return fmt.Errorf("committing %s: %w", path, err)
	}
	return nil
}

func (u *Uploader) uploadWithRetry(ctx context.Context, path string, data io.Reader, contentType string) error {
	var err error
	for attempt := 0; attempt <= u.retries; attempt++ {
		if attempt > 0 {
			// Conflicts and cancellations never resolve on retry.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
		err = u.client.Upload(ctx, path, data, contentType)
		if err == nil {
			return nil
		}
		if isPermanent(err) {
			return err
		}
		// The reader may be partially consumed after a failed attempt;
		// only seekable readers can retry.
		seeker, ok := data.(io.Seeker)
		if !ok {
			return err
		}
		if _, serr := seeker.Seek(0, io.SeekStart); serr != nil {
			return err
		}
	}
	return err
}

func isPermanent(err error) bool {
	return errors.Is(err, ErrUploadConflict) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (u *Uploader) wrapProgress(data io.Reader, total int64, progress ProgressFunc) *progressReader {
	return &progressReader{
		inner:    data,
		total:    total,
		progress: progress,
		start:    u.now(),
		now:      u.now,
	}
}

// progressReader counts bytes as they pass through and reports to the
// callback (when set) on every read. The byte count doubles as the
// post-upload size check, so every upload is wrapped.
type progressReader struct {
	inner    io.Reader
	total    int64
	uploaded int64
	progress ProgressFunc
	start    time.Time
	now      func() time.Time
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.inner.Read(p)
	if n > 0 {
		r.uploaded += int64(n)
		if r.progress != nil {
			r.progress(r.uploaded, r.total, rate(r.uploaded, r.now().Sub(r.start)))
		}
	}
	return n, err
}

// Seek forwards to the underlying reader when it is seekable, keeping the
// byte count in step, so a wrapped upload stays retryable.
func (r *progressReader) Seek(offset int64, whence int) (int64, error) {
	seeker, ok := r.inner.(io.Seeker)
	if !ok {
		return 0, errors.New("underlying reader is not seekable")
	}
	pos, err := seeker.Seek(offset, whence)
	if err != nil {
		return pos, err
	}
	r.uploaded = pos
	return pos, nil
}

func rate(bytes int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(bytes) / elapsed.Seconds()
}
