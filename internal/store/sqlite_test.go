package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mornew/gallery/internal/models"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func insertTestItem(t *testing.T, s *SQLiteStore, filename string, size int64, uploader string) *models.GalleryItem {
	t.Helper()

	item, err := s.InsertItem(context.Background(), models.NewItem{
		Filename:     filename,
		StoragePath:  "u/" + filename,
		URL:          "https://cdn.test/u/" + filename,
		UploaderName: uploader,
		UploaderID:   "uid-1",
		FileSize:     size,
		MimeType:     "image/jpeg",
	})
	require.NoError(t, err)
	return item
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()

	t.Run("insert assigns id and timestamps", func(t *testing.T) {
		s := newTestSQLite(t)

		item := insertTestItem(t, s, "a.jpg", 100, "Somchai")
		assert.NotEmpty(t, item.ID)
		assert.False(t, item.CreatedAt.IsZero())
		assert.Equal(t, item.CreatedAt, item.UpdatedAt)
	})

	t.Run("insert validates the item", func(t *testing.T) {
		s := newTestSQLite(t)

		_, err := s.InsertItem(ctx, models.NewItem{Filename: "x.jpg"})
		assert.Error(t, err)
	})

	t.Run("select orders and paginates", func(t *testing.T) {
		s := newTestSQLite(t)
		insertTestItem(t, s, "a.jpg", 300, "Somchai")
		insertTestItem(t, s, "b.jpg", 100, "Somchai")
		insertTestItem(t, s, "c.jpg", 200, "Somchai")

		bySize, err := s.SelectItems(ctx, Query{Order: Order{Column: "file_size"}})
		require.NoError(t, err)
		require.Len(t, bySize, 3)
		assert.Equal(t, "b.jpg", bySize[0].Filename)
		assert.Equal(t, "a.jpg", bySize[2].Filename)

		page, err := s.SelectItems(ctx, Query{Order: Order{Column: "file_size"}, Offset: 1, Limit: 1})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "c.jpg", page[0].Filename)
	})

	t.Run("count with the dedup filter", func(t *testing.T) {
		s := newTestSQLite(t)
		insertTestItem(t, s, "a.jpg", 100, "Somchai")
		insertTestItem(t, s, "a.jpg", 100, "Malee")

		count, err := s.CountItems(ctx, ItemFilter{
			Filename:     "a.jpg",
			FileSize:     100,
			MimeType:     "image/jpeg",
			UploaderName: "Somchai",
		})
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		total, err := s.CountItems(ctx, ItemFilter{})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
	})

	t.Run("delete by filter", func(t *testing.T) {
		s := newTestSQLite(t)
		item := insertTestItem(t, s, "a.jpg", 100, "Somchai")
		insertTestItem(t, s, "b.jpg", 100, "Somchai")

		require.NoError(t, s.DeleteItems(ctx, ItemFilter{ID: item.ID}))

		total, err := s.CountItems(ctx, ItemFilter{})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
	})

	t.Run("delete with empty filter is refused", func(t *testing.T) {
		s := newTestSQLite(t)
		insertTestItem(t, s, "a.jpg", 100, "Somchai")

		assert.Error(t, s.DeleteItems(ctx, ItemFilter{}))
	})

	t.Run("subscribe is unsupported", func(t *testing.T) {
		s := newTestSQLite(t)
		_, err := s.Subscribe(ctx)
		assert.Equal(t, ErrSubscribeUnsupported, err)
	})
}
