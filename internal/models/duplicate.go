package models

// DuplicateGroup is a derived grouping of items sharing (filename, file size).
// Members are ordered oldest first; the first member is the original to keep,
// the rest are removable. Groups are recomputed on every audit run and never
// persisted.
type DuplicateGroup struct {
	Filename string
	FileSize int64
	Members  []GalleryItem
}

// Original returns the member designated to keep.
func (g *DuplicateGroup) Original() GalleryItem {
	return g.Members[0]
}

// Removable returns the members past the original.
func (g *DuplicateGroup) Removable() []GalleryItem {
	return g.Members[1:]
}
