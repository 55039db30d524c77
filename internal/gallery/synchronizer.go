// Package gallery maintains the authoritative local ordered view of the
// shared pool. Three input sources feed one owned list: a one-shot bootstrap
// fetch, a low-frequency poll, and a push change feed. All merge operations
// are idempotent, so the sources need no coordination beyond the list lock.
package gallery

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mornew/gallery/internal/models"
	"github.com/mornew/gallery/internal/observability"
	"github.com/mornew/gallery/internal/store"
)

// Subscriber opens a change feed. Both the record store itself and the
// websocket feed client satisfy this.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan store.ChangeEvent, error)
}

// Synchronizer owns the in-memory gallery list, ordered by creation
// timestamp descending. Other components read snapshots and request
// insert-if-absent through ApplyInsert; only the synchronizer mutates the
// list (single writer, multiple requesters).
type Synchronizer struct {
	records      store.RecordStore
	feed         Subscriber
	pollInterval time.Duration
	metrics      *observability.PipelineMetrics

	mu      sync.RWMutex
	items   []models.GalleryItem
	loading bool

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewSynchronizer creates a Synchronizer. feed may be nil, in which case the
// record store's own subscription is used. metrics may be nil.
func NewSynchronizer(records store.RecordStore, feed Subscriber, pollInterval time.Duration, metrics *observability.PipelineMetrics) *Synchronizer {
	if feed == nil {
		feed = records
	}
	if pollInterval < time.Second {
		pollInterval = time.Second
	}
	return &Synchronizer{
		records:      records,
		feed:         feed,
		pollInterval: pollInterval,
		metrics:      metrics,
		loading:      true,
		done:         make(chan struct{}),
	}
}

// Bootstrap performs the initial full fetch. The loading flag drops on
// completion whether or not the fetch succeeded.
func (s *Synchronizer) Bootstrap(ctx context.Context) error {
	items, err := s.records.SelectItems(ctx, store.Query{
		Order: store.Order{Column: "created_at", Descending: true},
	})

	s.mu.Lock()
	s.loading = false
	if err == nil {
		s.items = sortedCopy(items)
	}
	s.mu.Unlock()

	if err != nil {
		observability.Errorf("gallery: bootstrap fetch failed: %v", err)
		return err
	}
	return nil
}

// Run starts the poll timer and the change-feed consumer. Both stop together
// when ctx is cancelled or Close is called.
func (s *Synchronizer) Run(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	events, err := s.feed.Subscribe(ctx)
	if err != nil {
		if errors.Is(err, store.ErrSubscribeUnsupported) {
			observability.Infof("gallery: change feed unavailable, relying on polling")
		} else {
			observability.Warnf("gallery: change feed subscription failed: %v", err)
		}
		events = nil
	}

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return

			case <-ticker.C:
				s.refresh(ctx)

			case ev, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				s.apply(ev)
			}
		}
	}()
}

// Close tears down the subscription and the poll timer together and waits
// for the loop to exit.
func (s *Synchronizer) Close() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
	})
}

// refresh is the self-healing poll: a full refetch replacing the whole list,
// bounding staleness if the change feed silently drops messages.
func (s *Synchronizer) refresh(ctx context.Context) {
	items, err := s.records.SelectItems(ctx, store.Query{
		Order: store.Order{Column: "created_at", Descending: true},
	})
	if err != nil {
		observability.Warnf("gallery: poll refresh failed: %v", err)
		return
	}
	s.Replace(items)
}

func (s *Synchronizer) apply(ev store.ChangeEvent) {
	switch ev.Type {
	case store.EventInsert:
		if ev.Item != nil {
			s.ApplyInsert(*ev.Item)
		}
	case store.EventUpdate:
		if ev.Item != nil {
			s.ApplyUpdate(*ev.Item)
		}
	case store.EventDelete:
		s.ApplyDelete(ev.ItemID)
	}
}

// ApplyInsert adds an item unless one with the same ID is already present,
// which happens under local echo or duplicate feed delivery. Returns whether
// the item was inserted.
func (s *Synchronizer) ApplyInsert(item models.GalleryItem) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].ID == item.ID {
			return false
		}
	}

	// Insert at the ordered position; the common case is a prepend of the
	// newest item.
	pos := sort.Search(len(s.items), func(i int) bool {
		return s.items[i].CreatedAt.Before(item.CreatedAt)
	})
	s.items = append(s.items, models.GalleryItem{})
	copy(s.items[pos+1:], s.items[pos:])
	s.items[pos] = item
	s.recordMerge("insert")
	return true
}

// ApplyUpdate replaces the item with a matching ID in place, preserving its
// list position. Unknown IDs are ignored.
func (s *Synchronizer) ApplyUpdate(item models.GalleryItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].ID == item.ID {
			s.items[i] = item
			s.recordMerge("update")
			return
		}
	}
}

// ApplyDelete removes the item with the given ID. Deleting an absent ID is a
// no-op.
func (s *Synchronizer) ApplyDelete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			s.recordMerge("delete")
			return
		}
	}
}

// Replace swaps in a freshly fetched list wholesale.
func (s *Synchronizer) Replace(items []models.GalleryItem) {
	sorted := sortedCopy(items)

	s.mu.Lock()
	s.items = sorted
	s.mu.Unlock()
}

// Snapshot returns a copy of the current list.
func (s *Synchronizer) Snapshot() []models.GalleryItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.GalleryItem, len(s.items))
	copy(out, s.items)
	return out
}

// Len returns the current item count.
func (s *Synchronizer) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Loading reports whether the bootstrap fetch has completed yet.
func (s *Synchronizer) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// recordMerge counts a merge that actually mutated the list. Rejected
// duplicates and no-op deletes are not counted.
func (s *Synchronizer) recordMerge(op string) {
	if s.metrics != nil {
		s.metrics.RecordMergeOp(context.Background(), op)
	}
}

func sortedCopy(items []models.GalleryItem) []models.GalleryItem {
	out := make([]models.GalleryItem, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
