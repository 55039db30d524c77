package models

import (
	"strings"
	"time"
)

// GalleryItem represents a single uploaded image record in the shared pool.
// The ID is assigned by the record store at insert time, never by clients.
type GalleryItem struct {
	ID           string    `json:"id"`
	Filename     string    `json:"filename"`
	StoragePath  string    `json:"storagePath"`
	URL          string    `json:"url"`
	UploaderName string    `json:"uploaderName"`
	UploaderID   string    `json:"uploaderId"`
	FileSize     int64     `json:"fileSize"`
	MimeType     string    `json:"mimeType"`
	Width        int       `json:"width,omitempty"`
	Height       int       `json:"height,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// NewItem describes an item about to be inserted. The store fills in ID and
// the timestamps.
type NewItem struct {
	Filename     string
	StoragePath  string
	URL          string
	UploaderName string
	UploaderID   string
	FileSize     int64
	MimeType     string
	Width        int
	Height       int
}

// Validate checks the fields a client is responsible for.
func (n *NewItem) Validate() error {
	if strings.TrimSpace(n.Filename) == "" {
		return ErrEmptyFilename
	}
	if strings.TrimSpace(n.StoragePath) == "" {
		return ErrEmptyStoragePath
	}
	if n.FileSize <= 0 {
		return ErrInvalidFileSize
	}
	return nil
}

// DedupKey is the application-level identity of an upload: two files matching
// on all four fields are the same logical upload for that uploader. The key is
// purely metadata, no content hash, so two different files sharing name, size
// and type from the same uploader are treated as duplicates. Scoped per
// uploader: the same filename and size from two uploaders are distinct items.
type DedupKey struct {
	Filename     string
	FileSize     int64
	MimeType     string
	UploaderName string
}

// Key returns the dedup key of an item.
func (it *GalleryItem) Key() DedupKey {
	return DedupKey{
		Filename:     it.Filename,
		FileSize:     it.FileSize,
		MimeType:     it.MimeType,
		UploaderName: it.UploaderName,
	}
}

// Errors

type GalleryError struct {
	Message string
}

func (e GalleryError) Error() string {
	return e.Message
}

var (
	ErrEmptyFilename    = GalleryError{"filename cannot be empty"}
	ErrEmptyStoragePath = GalleryError{"storage path cannot be empty"}
	ErrInvalidFileSize  = GalleryError{"file size must be positive"}
	ErrEmptyBatch       = GalleryError{"upload batch contains no files"}
	ErrBatchInFlight    = GalleryError{"an upload batch is already in progress"}
	ErrNameRequired     = GalleryError{"uploader display name is not set"}
	ErrItemNotFound     = GalleryError{"gallery item not found"}
)
