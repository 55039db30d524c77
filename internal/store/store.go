// Package store defines the narrow collaborator interfaces the upload and
// synchronization pipeline consumes: the remote record store, the remote
// object store, the outbound notifier and the local durable key-value store.
package store

import (
	"context"

	"github.com/mornew/gallery/internal/models"
)

// EventType tags a change-feed event.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// ChangeEvent is one insert/update/delete notification for the images table.
// Item is populated for inserts and updates; ItemID is always set.
type ChangeEvent struct {
	Type   EventType
	ItemID string
	Item   *models.GalleryItem
}

// ItemFilter is an exact-match filter over indexed columns. Zero values mean
// "no constraint" on that column.
type ItemFilter struct {
	ID           string
	Filename     string
	FileSize     int64
	MimeType     string
	UploaderName string
}

// Order selects the sort column and direction for SelectItems.
type Order struct {
	Column     string // "created_at", "filename" or "file_size"
	Descending bool
}

// Query combines filter, order and range for SelectItems.
type Query struct {
	Filter ItemFilter
	Order  Order
	Offset int
	Limit  int // 0 means no limit
}

// RecordStore is the relational table holding gallery item records, with
// row-level change notifications.
type RecordStore interface {
	SelectItems(ctx context.Context, q Query) ([]models.GalleryItem, error)
	CountItems(ctx context.Context, f ItemFilter) (int, error)
	InsertItem(ctx context.Context, item models.NewItem) (*models.GalleryItem, error)
	DeleteItems(ctx context.Context, f ItemFilter) error

	// Subscribe opens the change feed. The channel is closed when ctx is
	// cancelled or the feed fails. Stores without push support return
	// ErrSubscribeUnsupported; callers then rely on polling alone.
	Subscribe(ctx context.Context) (<-chan ChangeEvent, error)
}

// PutOptions control a blob write.
type PutOptions struct {
	CacheControl string
	ContentType  string
	Overwrite    bool
}

// ObjectStore is the binary blob store with public URL issuance.
type ObjectStore interface {
	// Put writes a blob. With Overwrite false, a key collision returns
	// ErrObjectExists rather than replacing the blob.
	Put(ctx context.Context, key string, data []byte, opts PutOptions) error
	PublicURL(key string) string
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, keys []string) error
}

// Notifier delivers a structured human-readable message, best effort. Callers
// are responsible for pacing repeated posts.
type Notifier interface {
	Post(ctx context.Context, msg Message) error
}

// Message is a structured notification: a summary line plus titled sections.
type Message struct {
	Title    string
	Body     string
	Sections []Section
}

// Section is one titled block of a Message.
type Section struct {
	Title  string
	Fields []Field
	Image  string // optional thumbnail URL
}

// Field is a labelled value within a Section.
type Field struct {
	Name  string
	Value string
}

// KeyValue is the small synchronous durable store backing the ledger and the
// local user profile, the moral equivalent of browser localStorage.
type KeyValue interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Remove(key string)
}

// Errors

type StoreError struct {
	Message string
}

func (e StoreError) Error() string {
	return e.Message
}

var (
	ErrObjectExists         = StoreError{"object already exists at this key"}
	ErrSubscribeUnsupported = StoreError{"record store does not support change notifications"}
)
