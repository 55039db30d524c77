package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mornew/gallery/internal/models"
	"github.com/mornew/gallery/internal/store"
)

type fakeRecords struct {
	items []models.GalleryItem
	err   error
}

func (f *fakeRecords) SelectItems(ctx context.Context, q store.Query) ([]models.GalleryItem, error) {
	return f.items, f.err
}

func (f *fakeRecords) CountItems(ctx context.Context, filter store.ItemFilter) (int, error) {
	return len(f.items), f.err
}

func (f *fakeRecords) InsertItem(ctx context.Context, n models.NewItem) (*models.GalleryItem, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeRecords) DeleteItems(ctx context.Context, filter store.ItemFilter) error {
	return errors.New("not implemented")
}

func (f *fakeRecords) Subscribe(ctx context.Context) (<-chan store.ChangeEvent, error) {
	return nil, store.ErrSubscribeUnsupported
}

type fakeNotifier struct {
	messages []store.Message
	err      error
}

func (f *fakeNotifier) Post(ctx context.Context, msg store.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msg)
	return nil
}

func poolItem(id, filename string, size int64, uploader string, created time.Time) models.GalleryItem {
	return models.GalleryItem{
		ID:           id,
		Filename:     filename,
		FileSize:     size,
		UploaderName: uploader,
		URL:          "https://cdn.test/" + id,
		CreatedAt:    created,
	}
}

func TestAuditor_Audit(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("groups by filename and size across uploaders", func(t *testing.T) {
		records := &fakeRecords{items: []models.GalleryItem{
			poolItem("a1", "beach.jpg", 100, "Somchai", base),
			poolItem("a2", "beach.jpg", 100, "Malee", base.Add(time.Hour)),
			poolItem("b1", "beach.jpg", 999, "Somchai", base),
			poolItem("c1", "cat.png", 50, "Malee", base),
		}}
		a := NewAuditor(records, nil, nil)

		groups, err := a.Audit(ctx)
		require.NoError(t, err)
		require.Len(t, groups, 1)

		g := groups[0]
		assert.Equal(t, "beach.jpg", g.Filename)
		assert.Equal(t, int64(100), g.FileSize)
		assert.Equal(t, "a1", g.Original().ID, "earliest copy is the original")
		require.Len(t, g.Removable(), 1)
		assert.Equal(t, "a2", g.Removable()[0].ID)
	})

	t.Run("same filename different size is not a duplicate", func(t *testing.T) {
		records := &fakeRecords{items: []models.GalleryItem{
			poolItem("a", "x.jpg", 100, "A", base),
			poolItem("b", "x.jpg", 200, "B", base),
		}}
		a := NewAuditor(records, nil, nil)

		groups, err := a.Audit(ctx)
		require.NoError(t, err)
		assert.Empty(t, groups)
	})

	t.Run("equal timestamps fall back to id order", func(t *testing.T) {
		records := &fakeRecords{items: []models.GalleryItem{
			poolItem("zz", "x.jpg", 100, "A", base),
			poolItem("aa", "x.jpg", 100, "B", base),
		}}
		a := NewAuditor(records, nil, nil)

		groups, err := a.Audit(ctx)
		require.NoError(t, err)
		require.Len(t, groups, 1)
		assert.Equal(t, "aa", groups[0].Original().ID)
	})

	t.Run("custom ordering overrides the default", func(t *testing.T) {
		records := &fakeRecords{items: []models.GalleryItem{
			poolItem("a", "x.jpg", 100, "A", base),
			poolItem("b", "x.jpg", 100, "B", base.Add(time.Hour)),
		}}
		newestFirst := func(x, y models.GalleryItem) bool {
			return x.CreatedAt.After(y.CreatedAt)
		}
		a := NewAuditor(records, nil, nil, WithOrdering(newestFirst))

		groups, err := a.Audit(ctx)
		require.NoError(t, err)
		require.Len(t, groups, 1)
		assert.Equal(t, "b", groups[0].Original().ID)
	})

	t.Run("store errors surface", func(t *testing.T) {
		a := NewAuditor(&fakeRecords{err: errors.New("down")}, nil, nil)
		_, err := a.Audit(ctx)
		assert.Error(t, err)
	})
}

func TestAuditor_Report(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	// Builds n duplicate pairs with distinct filenames.
	manyDuplicates := func(n int) []models.GalleryItem {
		var items []models.GalleryItem
		for i := 0; i < n; i++ {
			name := "file" + string(rune('a'+i)) + ".jpg"
			items = append(items,
				poolItem("orig-"+name, name, 100, "A", base.Add(time.Duration(i)*time.Minute)),
				poolItem("copy-"+name, name, 100, "B", base.Add(time.Duration(i)*time.Minute+time.Second)),
			)
		}
		return items
	}

	t.Run("posts one message per group plus summary", func(t *testing.T) {
		notifier := &fakeNotifier{}
		a := NewAuditor(&fakeRecords{items: manyDuplicates(2)}, notifier, nil,
			WithReportLimits(10, 0))

		groups, err := a.Report(ctx)
		require.NoError(t, err)
		assert.Len(t, groups, 2)
		// Summary + one per group.
		require.Len(t, notifier.messages, 3)

		section := notifier.messages[1].Sections[0]
		var sqlField string
		for _, f := range section.Fields {
			if f.Name == "Cleanup SQL" {
				sqlField = f.Value
			}
		}
		assert.Contains(t, sqlField, "DELETE FROM images WHERE id IN")
		assert.Contains(t, sqlField, "copy-filea.jpg")
		assert.NotContains(t, sqlField, "'orig-filea.jpg'", "the original must never be in the delete list")
	})

	t.Run("caps groups per run with an overflow marker", func(t *testing.T) {
		notifier := &fakeNotifier{}
		a := NewAuditor(&fakeRecords{items: manyDuplicates(5)}, notifier, nil,
			WithReportLimits(3, 0))

		groups, err := a.Report(ctx)
		require.NoError(t, err)
		assert.Len(t, groups, 5, "audit result is never truncated")

		// Summary + 3 groups + overflow marker.
		require.Len(t, notifier.messages, 5)
		last := notifier.messages[len(notifier.messages)-1]
		assert.Contains(t, last.Body, "2 more")
	})

	t.Run("notifier failure is not fatal", func(t *testing.T) {
		notifier := &fakeNotifier{err: errors.New("webhook down")}
		a := NewAuditor(&fakeRecords{items: manyDuplicates(1)}, notifier, nil,
			WithReportLimits(10, 0))

		groups, err := a.Report(ctx)
		require.NoError(t, err)
		assert.Len(t, groups, 1)
	})

	t.Run("no notifier means audit only", func(t *testing.T) {
		a := NewAuditor(&fakeRecords{items: manyDuplicates(1)}, nil, nil)
		groups, err := a.Report(ctx)
		require.NoError(t, err)
		assert.Len(t, groups, 1)
	})
}
