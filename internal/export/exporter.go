// Package export downloads every pool item to a local directory.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mornew/gallery/internal/models"
	"github.com/mornew/gallery/internal/observability"
	"github.com/mornew/gallery/internal/store"
)

// Result summarizes one export run.
type Result struct {
	Saved  int
	Failed int
}

// ProgressFunc receives (completed, total) after each item settles.
type ProgressFunc func(done, total int)

// Exporter performs a sequential bulk download. Items are fetched one at a
// time with a small delay in between so a large export does not hammer the
// object store.
type Exporter struct {
	objects store.ObjectStore
	delay   time.Duration
}

// NewExporter creates an Exporter.
func NewExporter(objects store.ObjectStore) *Exporter {
	return &Exporter{
		objects: objects,
		delay:   300 * time.Millisecond,
	}
}

// Export downloads each item's blob into dir. Filenames are prefixed with a
// running index so same-named items from different uploaders do not clobber
// each other. Cancellation is cooperative between items: the in-progress
// download finishes, the rest are abandoned. Per-item failures are counted
// and the run continues.
func (e *Exporter) Export(ctx context.Context, items []models.GalleryItem, dir string, progress ProgressFunc) (*Result, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	result := &Result{}
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			observability.Infof("export: cancelled after %d of %d items", i, len(items))
			return result, err
		}

		if err := e.saveOne(ctx, item, dir, i+1); err != nil {
			observability.Warnf("export: %s failed: %v", item.Filename, err)
			result.Failed++
		} else {
			result.Saved++
		}

		if progress != nil {
			progress(i+1, len(items))
		}

		if i < len(items)-1 {
			select {
			case <-time.After(e.delay):
			case <-ctx.Done():
			}
		}
	}

	observability.Infof("export: %d saved, %d failed", result.Saved, result.Failed)
	return result, nil
}

func (e *Exporter) saveOne(ctx context.Context, item models.GalleryItem, dir string, index int) error {
	data, err := e.objects.Get(ctx, item.StoragePath)
	if err != nil {
		return err
	}

	name := fmt.Sprintf("%03d-%s", index, sanitize(item.Filename))
	return os.WriteFile(filepath.Join(dir, name), data, 0o644)
}

// sanitize strips path separators and control characters from a stored
// filename before it touches the local filesystem.
func sanitize(name string) string {
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == '/' || r == '\\' || r == ':' {
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "item"
	}
	return name
}
