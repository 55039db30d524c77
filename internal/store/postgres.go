package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mornew/gallery/internal/models"
	"github.com/mornew/gallery/internal/observability"
)

const imagesChannel = "images_changes"

// PostgresStore is the production RecordStore. Change notifications ride on
// LISTEN/NOTIFY: a trigger posts the operation and row ID, and the subscriber
// refetches the row, keeping payloads under the NOTIFY size limit.
type PostgresStore struct {
	db      *observability.TraceDB
	connStr string
}

// NewPostgresStore connects, ensures the schema and notification trigger
// exist, and returns the store.
func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if err := createPostgresSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &PostgresStore{
		db:      observability.NewTraceDB(db, "postgresql"),
		connStr: connStr,
	}, nil
}

func createPostgresSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS images (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		storage_path TEXT NOT NULL,
		url TEXT NOT NULL,
		uploader_name TEXT NOT NULL,
		uploader_id TEXT NOT NULL DEFAULT '',
		file_size BIGINT NOT NULL,
		mime_type TEXT NOT NULL DEFAULT '',
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_images_dedup ON images(filename, file_size, mime_type, uploader_name);
	CREATE INDEX IF NOT EXISTS idx_images_created ON images(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_images_uploader ON images(uploader_name);

	CREATE OR REPLACE FUNCTION notify_images_change() RETURNS trigger AS $$
	BEGIN
		IF TG_OP = 'DELETE' THEN
			PERFORM pg_notify('images_changes', json_build_object('op', TG_OP, 'id', OLD.id)::text);
			RETURN OLD;
		END IF;
		PERFORM pg_notify('images_changes', json_build_object('op', TG_OP, 'id', NEW.id)::text);
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql;

	DROP TRIGGER IF EXISTS images_change_notify ON images;
	CREATE TRIGGER images_change_notify
		AFTER INSERT OR UPDATE OR DELETE ON images
		FOR EACH ROW EXECUTE FUNCTION notify_images_change();
	`

	_, err := db.Exec(schema)
	return err
}

const imageColumns = "id, filename, storage_path, url, uploader_name, uploader_id, file_size, mime_type, width, height, created_at, updated_at"

// SelectItems returns items matching the query.
func (s *PostgresStore) SelectItems(ctx context.Context, q Query) ([]models.GalleryItem, error) {
	where, args := buildFilter(q.Filter, placeholderDollar)

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
func (s *PostgresStore) CountItems(ctx context.Context, f ItemFilter) (int, error) {
	where, args := buildFilter(f, placeholderDollar)

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM images"+where, args...).Scan(&count)
	return count, err
}

// InsertItem stores a new item, assigning its ID and timestamps.
func (s *PostgresStore) InsertItem(ctx context.Context, n models.NewItem) (*models.GalleryItem, error) {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
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
func (s *PostgresStore) DeleteItems(ctx context.Context, f ItemFilter) error {
	where, args := buildFilter(f, placeholderDollar)
	if where == "" {
		return StoreError{"refusing to delete with an empty filter"}
	}

	_, err := s.db.ExecContext(ctx, "DELETE FROM images"+where, args...)
	return err
}

// Subscribe opens a LISTEN connection and forwards table changes. Inserts and
// updates are refetched by ID so the event carries the full row.
func (s *PostgresStore) Subscribe(ctx context.Context) (<-chan ChangeEvent, error) {
	listener := pq.NewListener(s.connStr, 10*time.Second, time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				observability.Warnf("postgres: listener event %d: %v", ev, err)
			}
		})

	if err := listener.Listen(imagesChannel); err != nil {
		listener.Close()
		return nil, err
	}

	events := make(chan ChangeEvent)

	go func() {
		defer close(events)
		defer listener.Close()

		for {
			select {
			case <-ctx.Done():
				return

			case n, ok := <-listener.Notify:
				if !ok {
					return
				}
				// Reconnect notifications arrive as nil; the poll path
				// covers anything missed while disconnected.
				if n == nil {
					continue
				}

				ev, err := s.decodeNotification(ctx, n.Extra)
				if err != nil {
					observability.Debugf("postgres: dropping notification: %v", err)
					continue
				}

				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events, nil
}

func (s *PostgresStore) decodeNotification(ctx context.Context, payload string) (ChangeEvent, error) {
	var note struct {
		Op string `json:"op"`
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(payload), &note); err != nil {
		return ChangeEvent{}, err
	}

	switch note.Op {
	case "INSERT", "UPDATE":
		items, err := s.SelectItems(ctx, Query{Filter: ItemFilter{ID: note.ID}, Limit: 1})
		if err != nil {
			return ChangeEvent{}, err
		}
		if len(items) == 0 {
			// Row already gone again; report it as a delete.
			return ChangeEvent{Type: EventDelete, ItemID: note.ID}, nil
		}
		t := EventInsert
		if note.Op == "UPDATE" {
			t = EventUpdate
		}
		return ChangeEvent{Type: t, ItemID: note.ID, Item: &items[0]}, nil

	case "DELETE":
		return ChangeEvent{Type: EventDelete, ItemID: note.ID}, nil

	default:
		return ChangeEvent{}, fmt.Errorf("unknown operation %q", note.Op)
	}
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.DB().Close()
}

// Shared query building for the SQL stores.

type placeholderStyle int

const (
	placeholderDollar placeholderStyle = iota
	placeholderQuestion
)

func placeholder(style placeholderStyle, n int) string {
	if style == placeholderDollar {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func buildFilter(f ItemFilter, style placeholderStyle) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	add := func(column string, value interface{}) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = %s", column, placeholder(style, len(args))))
	}

	if f.ID != "" {
		add("id", f.ID)
	}
	if f.Filename != "" {
		add("filename", f.Filename)
	}
	if f.FileSize != 0 {
		add("file_size", f.FileSize)
	}
	if f.MimeType != "" {
		add("mime_type", f.MimeType)
	}
	if f.UploaderName != "" {
		add("uploader_name", f.UploaderName)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// buildOrder maps the order spec onto a whitelisted column. Anything else
// falls back to created_at.
func buildOrder(o Order) string {
	column := "created_at"
	switch o.Column {
	case "filename", "file_size", "created_at":
		column = o.Column
	}
	direction := "ASC"
	if o.Descending {
		direction = "DESC"
	}
	return fmt.Sprintf(" ORDER BY %s %s, id %s", column, direction, direction)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanItems(rows rowScanner) ([]models.GalleryItem, error) {
	var items []models.GalleryItem
	for rows.Next() {
		var it models.GalleryItem
		err := rows.Scan(
			&it.ID, &it.Filename, &it.StoragePath, &it.URL,
			&it.UploaderName, &it.UploaderID, &it.FileSize, &it.MimeType,
			&it.Width, &it.Height, &it.CreatedAt, &it.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
