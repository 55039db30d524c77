package models

import "time"

// FileDescriptor is the durable metadata of one selected file. Raw bytes are
// never persisted; a resume prompt can only ask the user to re-select the
// same files.
type FileDescriptor struct {
	Filename string `json:"filename"`
	FileSize int64  `json:"fileSize"`
	MimeType string `json:"mimeType"`
}

// PendingBatch records the intent to upload a batch before the first network
// call. It exists in durable storage exactly while a batch has not reached a
// terminal state, and there is at most one per profile: writing a new batch
// overwrites the slot.
type PendingBatch struct {
	Files     []FileDescriptor `json:"files"`
	CreatedAt time.Time        `json:"createdAt"`
}

// BatchResult summarizes a finished upload batch.
type BatchResult struct {
	Uploaded int
	Skipped  int
	Failed   int
}

// Total returns the number of files that reached a terminal state.
func (r BatchResult) Total() int {
	return r.Uploaded + r.Skipped + r.Failed
}
