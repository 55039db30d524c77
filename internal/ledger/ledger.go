// Package ledger persists the intent to upload a batch so an interrupted
// batch can be offered for resumption after a restart.
package ledger

import (
	"encoding/json"
	"time"

	"github.com/mornew/gallery/internal/models"
	"github.com/mornew/gallery/internal/observability"
	"github.com/mornew/gallery/internal/store"
)

const pendingBatchKey = "pending_batch"

// Ledger is a single-slot durable record of the in-flight batch. Saving a new
// batch overwrites the slot, matching the one-batch-in-flight invariant.
type Ledger struct {
	kv store.KeyValue
}

// New creates a Ledger over the given key-value store.
func New(kv store.KeyValue) *Ledger {
	return &Ledger{kv: kv}
}

// Save writes the pending batch descriptor before the first network call.
func (l *Ledger) Save(files []models.FileDescriptor) error {
	batch := models.PendingBatch{
		Files:     files,
		CreatedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	return l.kv.Set(pendingBatchKey, string(data))
}

// Load returns the pending batch, or nil when none is recorded. A corrupt
// entry is cleared and reported absent rather than surfaced as an error.
func (l *Ledger) Load() *models.PendingBatch {
	raw, ok := l.kv.Get(pendingBatchKey)
	if !ok {
		return nil
	}

	var batch models.PendingBatch
	if err := json.Unmarshal([]byte(raw), &batch); err != nil || len(batch.Files) == 0 {
		observability.Warnf("ledger: discarding corrupt pending batch entry")
		l.Clear()
		return nil
	}
	return &batch
}

// Clear removes the pending batch record.
func (l *Ledger) Clear() {
	l.kv.Remove(pendingBatchKey)
}
