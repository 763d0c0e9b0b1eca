package l4overlay

import "github.com/banshee-data/loiter.report/internal/vision/l1meta"

// MaxDisplayLen is the size of the annotation text buffer including its
// terminator, so at most MaxDisplayLen-1 bytes of text are kept.
const MaxDisplayLen = 64

// Font selects the overlay typeface.
type Font struct {
	Name string  `json:"name"`
	Size float64 `json:"size"`
}

// AnnotationRecord is one text overlay directive for the renderer.
// Ownership passes to the sink on submission.
type AnnotationRecord struct {
	Text          string      `json:"text"`
	X             int         `json:"x"`
	Y             int         `json:"y"`
	Font          Font        `json:"font"`
	Foreground    l1meta.RGBA `json:"foreground"`
	Background    l1meta.RGBA `json:"background"`
	HasBackground bool        `json:"has_background"`
}
