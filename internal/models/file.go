package models

import "strings"

// LocalFile is a user-selected file held in memory for the duration of an
// upload batch.
type LocalFile struct {
	Name     string
	MimeType string
	Data     []byte
}

// Size returns the byte size of the file content.
func (f LocalFile) Size() int64 {
	return int64(len(f.Data))
}

// IsImage reports whether the declared MIME type is an image type.
func (f LocalFile) IsImage() bool {
	return strings.HasPrefix(f.MimeType, "image/")
}

// Descriptor returns the durable metadata for the ledger.
func (f LocalFile) Descriptor() FileDescriptor {
	return FileDescriptor{
		Filename: f.Name,
		FileSize: f.Size(),
		MimeType: f.MimeType,
	}
}
