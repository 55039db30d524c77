// Package dedup decides whether a candidate upload is already present for a
// given uploader.
package dedup

import (
	"context"

	"github.com/mornew/gallery/internal/models"
	"github.com/mornew/gallery/internal/store"
)

// Checker queries the record store for an existing item matching the
// application-level dedup key. The key carries no content hash: two different
// files that share filename, size and type from the same uploader are
// indistinguishable here. That is a documented limitation carried over from
// the dataset's schema, not an oversight to fix locally.
type Checker struct {
	records store.RecordStore
}

// NewChecker creates a Checker.
func NewChecker(records store.RecordStore) *Checker {
	return &Checker{records: records}
}

// Exists reports whether an item with the given dedup key is already stored.
// Callers run this before the blob write to avoid wasted transfer; the
// check-then-write window is racy under concurrent uploads from the same
// uploader, so the object store's key collision error acts as the backstop.
func (c *Checker) Exists(ctx context.Context, key models.DedupKey) (bool, error) {
	count, err := c.records.CountItems(ctx, store.ItemFilter{
		Filename:     key.Filename,
		FileSize:     key.FileSize,
		MimeType:     key.MimeType,
		UploaderName: key.UploaderName,
	})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
