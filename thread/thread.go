// Package thread holds the domain models for captured source threads and
// their translations, plus their SQLite persistence.
package thread

import (
	"time"
)

// MediaType is the supported media category for a segment.
type MediaType string

const (
	MediaPhoto MediaType = "photo"
	MediaVideo MediaType = "video"
)

// MediaAsset is metadata for a media item attached to a segment.
type MediaAsset struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	PreviewURL string    `json:"preview_url,omitempty"`
	Type       MediaType `json:"type"`
}

// Segment is a single post within a thread.
type Segment struct {
	ID        string       `json:"id"`
	Text      string       `json:"text"`
	Timestamp time.Time    `json:"timestamp"`
	Media     []MediaAsset `json:"media,omitempty"`
}

// Thread is an ordered sequence of connected posts authored as one logical
// unit by a monitored account. The first segment's id is the thread's
// root id.
type Thread struct {
	AuthorHandle string    `json:"author_handle"`
	Segments     []Segment `json:"segments"`
	CollectedAt  time.Time `json:"collected_at"`
}

// RootID returns the identifier of the thread's first segment, which keys
// the thread everywhere.
func (t *Thread) RootID() string {
	if len(t.Segments) == 0 {
		return ""
	}
	return t.Segments[0].ID
}

// TranslationStatus is the lifecycle state for a translation.
type TranslationStatus string

const (
	TranslationDraft     TranslationStatus = "draft"
	TranslationReady     TranslationStatus = "ready"
	TranslationPublished TranslationStatus = "published"
)

// TranslationSegment pairs translated text with the original segment id.
type TranslationSegment struct {
	SegmentID string `json:"segment_id"`
	Text      string `json:"text"`
	HasMedia  bool   `json:"has_media,omitempty"`
}

// Translation is the translated view of a thread.
type Translation struct {
	AuthorHandle   string               `json:"author_handle"`
	RootID         string               `json:"root_id"`
	Segments       []TranslationSegment `json:"segments"`
	Titles         []string             `json:"titles,omitempty"`
	Status         TranslationStatus    `json:"status"`
	ManualOverride bool                 `json:"manual_override,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// MarkReady flags the translation as ready for publishing.
func (tr *Translation) MarkReady() {
	tr.Status = TranslationReady
	tr.UpdatedAt = time.Now().UTC()
}

// MarkPublished flags the translation as published.
func (tr *Translation) MarkPublished() {
	tr.Status = TranslationPublished
	tr.UpdatedAt = time.Now().UTC()
}
