package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mornew/gallery/internal/models"
	"github.com/mornew/gallery/internal/observability"
)

// SQLiteStore is the single-machine RecordStore, used for development and
// self-contained deployments. It has no push channel: Subscribe reports
// ErrSubscribeUnsupported and the synchronizer runs on polling alone.
type SQLiteStore struct {
	db *observability.TraceDB
}

// NewSQLiteStore opens or creates the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}
	// Serialized writes; the scheduler issues concurrent inserts.
	db.SetMaxOpenConns(1)

	if err := createSQLiteSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: observability.NewTraceDB(db, "sqlite")}, nil
}

func createSQLiteSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS images (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		storage_path TEXT NOT NULL,
		url TEXT NOT NULL,
		uploader_name TEXT NOT NULL,
		uploader_id TEXT NOT NULL DEFAULT '',
		file_size INTEGER NOT NULL,
		mime_type TEXT NOT NULL DEFAULT '',
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_images_dedup ON images(filename, file_size, mime_type, uploader_name);
	CREATE INDEX IF NOT EXISTS idx_images_created ON images(created_at);
	CREATE INDEX IF NOT EXISTS idx_images_uploader ON images(uploader_name);
	`

	_, err := db.Exec(schema)
	return err
}

// SelectItems returns items matching the query.
func (s *SQLiteStore) SelectItems(ctx context.Context, q Query) ([]models.GalleryItem, error) {
	where, args := buildFilter(q.Filter, placeholderQuestion)

	query := fmt.Sprintf("SELECT %s FROM images%s%s", imageColumns, where, buildOrder(q.Order))
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	if q.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanItems(rows)
}

// CountItems returns the number of items matching the filter.
func (s *SQLiteStore) CountItems(ctx context.Context, f ItemFilter) (int, error) {
	where, args := buildFilter(f, placeholderQuestion)

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM images"+where, args...).Scan(&count)
	return count, err
}

// InsertItem stores a new item, assigning its ID and timestamps.
func (s *SQLiteStore) InsertItem(ctx context.Context, n models.NewItem) (*models.GalleryItem, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	item := models.GalleryItem{
		ID:           uuid.New().String(),
		Filename:     n.Filename,
		StoragePath:  n.StoragePath,
		URL:          n.URL,
		UploaderName: n.UploaderName,
		UploaderID:   n.UploaderID,
		FileSize:     n.FileSize,
		MimeType:     n.MimeType,
		Width:        n.Width,
		Height:       n.Height,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO images (`+imageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Filename, item.StoragePath, item.URL,
		item.UploaderName, item.UploaderID, item.FileSize, item.MimeType,
		item.Width, item.Height, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// DeleteItems removes items matching the filter. An empty filter is rejected.
func (s *SQLiteStore) DeleteItems(ctx context.Context, f ItemFilter) error {
	where, args := buildFilter(f, placeholderQuestion)
	if where == "" {
		return StoreError{"refusing to delete with an empty filter"}
	}

	_, err := s.db.ExecContext(ctx, "DELETE FROM images"+where, args...)
	return err
}

// Subscribe reports that SQLite has no change feed.
func (s *SQLiteStore) Subscribe(ctx context.Context) (<-chan ChangeEvent, error) {
	return nil, ErrSubscribeUnsupported
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.DB().Close()
}
