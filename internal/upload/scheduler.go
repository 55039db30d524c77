// Package upload drives a batch of local files through compression, duplicate
// checking, blob transfer and record insertion.
package upload

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mornew/gallery/internal/compress"
	"github.com/mornew/gallery/internal/dedup"
	"github.com/mornew/gallery/internal/ledger"
	"github.com/mornew/gallery/internal/models"
	"github.com/mornew/gallery/internal/observability"
	"github.com/mornew/gallery/internal/session"
	"github.com/mornew/gallery/internal/store"
)

// ProgressFunc receives batch progress in percent. Values are monotonically
// non-decreasing and 100 is reported exactly once, after the last file settles.
type ProgressFunc func(percent int)

// LocalEcho receives freshly inserted items so the local view updates without
// waiting for the change feed.
type LocalEcho interface {
	ApplyInsert(item models.GalleryItem) bool
}

// Scheduler uploads batches with bounded concurrency. One batch is in flight
// at a time; files are processed in sequential groups of the concurrency
// width, so at most width transfers run at once.
type Scheduler struct {
	records    store.RecordStore
	objects    store.ObjectStore
	compressor *compress.Compressor
	checker    *dedup.Checker
	ledger     *ledger.Ledger
	session    *session.Session
	echo       LocalEcho
	metrics    *observability.PipelineMetrics
	width      int

	mu       sync.Mutex
	inFlight bool
	held     []models.LocalFile
}

// NewScheduler creates a Scheduler. echo and metrics may be nil.
func NewScheduler(
	records store.RecordStore,
	objects store.ObjectStore,
	compressor *compress.Compressor,
	checker *dedup.Checker,
	led *ledger.Ledger,
	sess *session.Session,
	echo LocalEcho,
	metrics *observability.PipelineMetrics,
	width int,
) *Scheduler {
	if width <= 0 {
		width = 5
	}
	return &Scheduler{
		records:    records,
		objects:    objects,
		compressor: compressor,
		checker:    checker,
		ledger:     led,
		session:    sess,
		echo:       echo,
		metrics:    metrics,
		width:      width,
	}
}

// Submit uploads a batch of files. An empty batch is rejected. If the uploader
// has not declared a display name the files are held aside and ErrNameRequired
// is returned; ResumeHeld retries them once the name is set. Only one batch
// may be in flight at a time.
//
// Per-file failures do not abort the batch; they are counted in the result. A
// store that is unreachable before the first transfer aborts the whole batch
// with a single error and leaves the ledger entry in place for resumption.
func (s *Scheduler) Submit(ctx context.Context, files []models.LocalFile, progress ProgressFunc) (*models.BatchResult, error) {
	if len(files) == 0 {
		return nil, models.ErrEmptyBatch
	}
	if !s.session.HasName() {
		s.mu.Lock()
		s.held = append(s.held[:0], files...)
		s.mu.Unlock()
		return nil, models.ErrNameRequired
	}

	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return nil, models.ErrBatchInFlight
	}
	s.inFlight = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	// Record intent before any network traffic so an interrupted batch can be
	// offered for resumption.
	descriptors := make([]models.FileDescriptor, len(files))
	for i, f := range files {
		descriptors[i] = f.Descriptor()
	}
	if err := s.ledger.Save(descriptors); err != nil {
		observability.Warnf("upload: could not record pending batch: %v", err)
	}

	// Reachability check. If the record store is down before the first
	// transfer, fail the batch as a unit and keep the ledger entry.
	if _, err := s.records.CountItems(ctx, store.ItemFilter{}); err != nil {
		return nil, fmt.Errorf("record store unreachable: %w", err)
	}

	result := s.run(ctx, files, progress)

	s.ledger.Clear()
	if progress != nil {
		progress(100)
	}

	observability.Infof("upload: batch done, %d uploaded, %d skipped, %d failed",
		result.Uploaded, result.Skipped, result.Failed)
	return result, nil
}

// ResumeHeld retries the files held back by a missing display name. It is a
// no-op when nothing is held.
func (s *Scheduler) ResumeHeld(ctx context.Context, progress ProgressFunc) (*models.BatchResult, error) {
	s.mu.Lock()
	files := s.held
	s.held = nil
	s.mu.Unlock()

	if len(files) == 0 {
		return &models.BatchResult{}, nil
	}
	return s.Submit(ctx, files, progress)
}

// HeldCount reports how many files are waiting on a display name.
func (s *Scheduler) HeldCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.held)
}

// run processes the batch in sequential groups of width files.
func (s *Scheduler) run(ctx context.Context, files []models.LocalFile, progress ProgressFunc) *models.BatchResult {
	var (
		resultMu sync.Mutex
		result   models.BatchResult
		settled  int
	)

	// The callback runs under the lock so the computed percentage and its
	// delivery order cannot diverge when several files settle at once.
	report := func(outcome func(*models.BatchResult)) {
		resultMu.Lock()
		defer resultMu.Unlock()
		outcome(&result)
		settled++
		pct := settled * 100 / len(files)
		// 100 is reserved for batch completion.
		if pct >= 100 {
			pct = 99
		}
		if progress != nil {
			progress(pct)
		}
	}

	for start := 0; start < len(files); start += s.width {
		end := start + s.width
		if end > len(files) {
			end = len(files)
		}

		var wg sync.WaitGroup
		for _, f := range files[start:end] {
			wg.Add(1)
			go func(f models.LocalFile) {
				defer wg.Done()

				switch err := s.uploadOne(ctx, f); {
				case err == nil:
					report(func(r *models.BatchResult) { r.Uploaded++ })
				case err == errSkipped:
					report(func(r *models.BatchResult) { r.Skipped++ })
				default:
					observability.Warnf("upload: %s failed: %v", f.Name, err)
					if s.metrics != nil {
						s.metrics.RecordUploadFailure(ctx, s.session.DisplayName())
					}
					report(func(r *models.BatchResult) { r.Failed++ })
				}
			}(f)
		}
		wg.Wait()
	}

	return &result
}

// errSkipped marks a file that was dropped by the duplicate check. Internal
// control flow only, never returned to callers.
var errSkipped = models.GalleryError{Message: "duplicate, skipped"}

func (s *Scheduler) uploadOne(ctx context.Context, f models.LocalFile) error {
	ctx, span := observability.StartServiceSpan(ctx, "upload", "file")
	defer span.End()
	span.SetAttributes(observability.Filename(f.Name))

	compressed := s.compressor.Compress(ctx, f)
	if s.metrics != nil {
		s.metrics.RecordCompression(ctx, f.Size(), compressed.Size())
	}

	// Name may arrive as a full path; records carry only the base name.
	baseName := path.Base(strings.ReplaceAll(compressed.Name, "\\", "/"))

	exists, err := s.checker.Exists(ctx, models.DedupKey{
		Filename:     baseName,
		FileSize:     compressed.Size(),
		MimeType:     compressed.MimeType,
		UploaderName: s.session.DisplayName(),
	})
	if err != nil {
		observability.RecordError(span, err)
		return err
	}
	if exists {
		observability.Debugf("upload: %s already present, skipping", f.Name)
		if s.metrics != nil {
			s.metrics.RecordDedupSkip(ctx, s.session.DisplayName())
		}
		return errSkipped
	}

	key := storageKey(s.session.SafeName(), compressed)

	err = s.objects.Put(ctx, key, compressed.Data, store.PutOptions{
		ContentType:  compressed.MimeType,
		CacheControl: "public, max-age=31536000",
	})
	if err == store.ErrObjectExists {
		// Same outcome as the metadata check firing: the blob is there.
		if s.metrics != nil {
			s.metrics.RecordDedupSkip(ctx, s.session.DisplayName())
		}
		return errSkipped
	}
	if err != nil {
		observability.RecordError(span, err)
		return err
	}

	width, height := compress.Dimensions(compressed)

	item, err := s.records.InsertItem(ctx, models.NewItem{
		Filename:     baseName,
		StoragePath:  key,
		URL:          s.objects.PublicURL(key),
		UploaderName: s.session.DisplayName(),
		UploaderID:   s.session.UploaderID(),
		FileSize:     compressed.Size(),
		MimeType:     compressed.MimeType,
		Width:        width,
		Height:       height,
	})
	if err != nil {
		observability.RecordError(span, err)
		return err
	}

	if s.echo != nil {
		s.echo.ApplyInsert(*item)
	}
	if s.metrics != nil {
		s.metrics.RecordUpload(ctx, item.UploaderName, item.FileSize)
	}
	observability.SetSuccess(span)
	return nil
}

// storageKey builds the blob key for a file. The key embeds the transliterated
// uploader name and derives uniqueness from the clock and a random suffix,
// never from the user-supplied filename.
func storageKey(safeName string, f models.LocalFile) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(f.Name)), ".")
	if f.MimeType == "image/jpeg" {
		ext = "jpg"
	}
	if ext == "" {
		ext = "bin"
	}
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:10]
	return fmt.Sprintf("%s/%d-%s.%s", safeName, time.Now().UnixMilli(), suffix, ext)
}
