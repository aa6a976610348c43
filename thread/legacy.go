package thread

import (
	"encoding/json"
	"os"
	"sort"
	"time"

	"github.com/sakaguchi/xbot/errors"
)

// Legacy exports map an author handle to a list of thread records in the old
// schema: the root post's fields inline, children under a Thread array, and
// media split into Photos and Videos.
type legacyMedia struct {
	ID      string `json:"ID"`
	URL     string `json:"URL"`
	Preview string `json:"Preview"`
}

type legacyRecord struct {
	ID        string         `json:"ID"`
	Text      string         `json:"Text"`
	Timestamp float64        `json:"Timestamp"`
	Photos    []legacyMedia  `json:"Photos"`
	Videos    []legacyMedia  `json:"Videos"`
	Titles    []string       `json:"Titles"`
	Thread    []legacyRecord `json:"Thread"`
}

// LoadLegacyThreads converts the legacy tweets export at path into threads,
// ordered by handle. A missing file yields nothing, matching the old
// importer's behavior.
func LoadLegacyThreads(path string) ([]*Thread, error) {
	payload, err := loadLegacyFile(path)
	if err != nil {
		return nil, err
	}
	var threads []*Thread
	for _, handle := range sortedHandles(payload) {
		for _, rec := range payload[handle] {
			threads = append(threads, legacyThread(handle, rec))
		}
	}
	return threads, nil
}

// LoadLegacyTranslations converts the legacy translations export at path
// into ready-to-publish translation records, ordered by handle.
func LoadLegacyTranslations(path string) ([]*Translation, error) {
	payload, err := loadLegacyFile(path)
	if err != nil {
		return nil, err
	}
	var translations []*Translation
	for _, handle := range sortedHandles(payload) {
		for _, rec := range payload[handle] {
			translations = append(translations, legacyTranslation(handle, rec))
		}
	}
	return translations, nil
}

func loadLegacyFile(path string) (map[string][]legacyRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to read legacy export %s", path)
	}
	var payload map[string][]legacyRecord
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, errors.Wrapf(err, "failed to parse legacy export %s", path)
	}
	return payload, nil
}

func sortedHandles(payload map[string][]legacyRecord) []string {
	handles := make([]string, 0, len(payload))
	for handle := range payload {
		handles = append(handles, handle)
	}
	sort.Strings(handles)
	return handles
}

func legacyThread(handle string, rec legacyRecord) *Thread {
	t := &Thread{
		AuthorHandle: handle,
		CollectedAt:  legacyTime(rec.Timestamp),
		Segments:     []Segment{legacySegment(rec)},
	}
	for _, child := range rec.Thread {
		t.Segments = append(t.Segments, legacySegment(child))
	}
	return t
}

func legacySegment(rec legacyRecord) Segment {
	seg := Segment{ID: rec.ID, Text: rec.Text, Timestamp: legacyTime(rec.Timestamp)}
	for _, m := range rec.Photos {
		seg.Media = append(seg.Media, MediaAsset{ID: m.ID, URL: m.URL, PreviewURL: m.Preview, Type: MediaPhoto})
	}
	for _, m := range rec.Videos {
		seg.Media = append(seg.Media, MediaAsset{ID: m.ID, URL: m.URL, PreviewURL: m.Preview, Type: MediaVideo})
	}
	return seg
}

func legacyTranslation(handle string, rec legacyRecord) *Translation {
	at := legacyTime(rec.Timestamp)
	tr := &Translation{
		AuthorHandle: handle,
		RootID:       rec.ID,
		Titles:       rec.Titles,
		Status:       TranslationReady,
		CreatedAt:    at,
		UpdatedAt:    at,
		Segments: []TranslationSegment{{
			SegmentID: rec.ID,
			Text:      rec.Text,
			HasMedia:  len(rec.Photos)+len(rec.Videos) > 0,
		}},
	}
	for _, child := range rec.Thread {
		tr.Segments = append(tr.Segments, TranslationSegment{
			SegmentID: child.ID,
			Text:      child.Text,
			HasMedia:  len(child.Photos)+len(child.Videos) > 0,
		})
	}
	return tr
}

// legacyTime interprets the export's unix timestamp; zero means the export
// predates timestamping, so the import time stands in.
func legacyTime(ts float64) time.Time {
	if ts == 0 {
		return time.Now().UTC()
	}
	return time.Unix(int64(ts), 0).UTC()
}
