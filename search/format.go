package search

import (
	"math"
	"time"

	"github.com/lxw15337674/memox-sub000/server/store"
)

const (
	DefaultPreviewLength = 150
	DefaultDateLayout    = "2006-01-02 15:04"
	UnknownDate          = "Unknown date"
	ellipsis             = "..."
)

// Result is the API representation of a search hit.
type Result struct {
	ID          string   `json:"id"`
	Content     string   `json:"content"`
	Similarity  *float64 `json:"similarity"`
	Preview     string   `json:"preview"`
	CreatedAt   *string  `json:"createdAt"`
	UpdatedAt   *string  `json:"updatedAt"`
	DisplayDate string   `json:"displayDate"`
}

type FormatterOptions struct {
	PreviewLength int
	DateLayout    string
	Location      *time.Location
}

type Formatter struct {
	previewLen int
	layout     string
	loc        *time.Location
}

func NewFormatter(opts FormatterOptions) *Formatter {
	f := &Formatter{
		previewLen: opts.PreviewLength,
		layout:     opts.DateLayout,
		loc:        opts.Location,
	}
	if f.previewLen <= 0 {
		f.previewLen = DefaultPreviewLength
	}
	if f.layout == "" {
		f.layout = DefaultDateLayout
	}
	if f.loc == nil {
		f.loc = time.Local
	}
	return f
}

// Format converts rows one-for-one, preserving order.
func (f *Formatter) Format(rows []store.Row) []Result {
	out := make([]Result, len(rows))
	for i, r := range rows {
		out[i] = Result{
			ID:          r.ID,
			Content:     r.Content,
			Similarity:  similarity(r.Distance),
			Preview:     f.preview(r.Content),
			CreatedAt:   timestamp(r.CreatedAt),
			UpdatedAt:   timestamp(r.UpdatedAt),
			DisplayDate: f.displayDate(r.CreatedAt),
		}
	}
	return out
}

// similarity is 1 - distance, unclamped. Non-finite distances have no
// meaningful similarity.
func similarity(distance float64) *float64 {
	if math.IsNaN(distance) || math.IsInf(distance, 0) {
		return nil
	}
	s := 1 - distance
	return &s
}

func (f *Formatter) preview(content string) string {
	runes := []rune(content)
	if len(runes) <= f.previewLen {
		return content
	}
	return string(runes[:f.previewLen]) + ellipsis
}

func timestamp(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func (f *Formatter) displayDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return UnknownDate
	}
	return t.In(f.loc).Format(f.layout)
}
