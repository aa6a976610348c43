// Package translate defines the translation provider contract and the
// prompts used for both automatic and operator-driven translation.
package translate

import (
	"context"
	"fmt"
	"strings"

	"github.com/sakaguchi/xbot/errors"
	"github.com/sakaguchi/xbot/thread"
)

// Provider failure sentinels, mapped by the pipeline onto the scheduler's
// retry taxonomy.
var (
	ErrRateLimited     = errors.New("provider rate limited")
	ErrQuotaExceeded   = errors.New("provider quota exceeded")
	ErrContentRejected = errors.New("content rejected by provider")
	ErrAuth            = errors.New("provider authentication failed")
)

// Profile describes the target of a translation.
type Profile struct {
	TargetLanguage string `json:"target_language"`
	Tone           string `json:"tone,omitempty"` // free-form styling hint, e.g. "casual"
	TitleCount     int    `json:"title_count,omitempty"`
}

// Provider is any translation backend. The pipeline depends only on this
// capability set, so backends are swappable.
type Provider interface {
	// TranslateSegments returns one translated string per thread segment,
	// in order.
	TranslateSegments(ctx context.Context, t *thread.Thread, profile Profile) ([]string, error)

	// GenerateTitles proposes alternate titles for the translated thread.
	GenerateTitles(ctx context.Context, t *thread.Thread, translated []string, count int) ([]string, error)
}

// BuildManualPrompt renders the prompt an operator pastes into a translation
// tool when producing a manual override.
func BuildManualPrompt(t *thread.Thread, profile Profile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Translate the following %d-post thread by @%s into %s.\n",
		len(t.Segments), t.AuthorHandle, profile.TargetLanguage)
	b.WriteString("Keep one translated post per numbered item, preserving order and tone.\n\n")
	for i, seg := range t.Segments {
		fmt.Fprintf(&b, "%d. %s\n", i+1, seg.Text)
	}
	return b.String()
}

// BuildTitlePrompt renders the prompt for alternate title generation.
func BuildTitlePrompt(t *thread.Thread, translated []string, count int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create %d alternate titles for the following thread. Return one title per line.\n", count)
	b.WriteString("Thread:\n")
	b.WriteString(strings.Join(translated, "\n"))
	return b.String()
}
