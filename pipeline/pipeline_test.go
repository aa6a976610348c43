package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sakaguchi/xbot/sched"
	"github.com/sakaguchi/xbot/thread"
	"github.com/sakaguchi/xbot/translate"
)

var testLog = zap.NewNop().Sugar()

// recordingEnqueuer captures enqueued follow-up jobs.
type recordingEnqueuer struct {
	mu    sync.Mutex
	calls []enqueueCall
	err   error
}

type enqueueCall struct {
	kind       sched.JobKind
	payloadKey string
	payload    json.RawMessage
	runAt      time.Time
}

func (e *recordingEnqueuer) Enqueue(kind sched.JobKind, payloadKey string, payload json.RawMessage, runAt time.Time) (*sched.Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	e.calls = append(e.calls, enqueueCall{kind: kind, payloadKey: payloadKey, payload: payload, runAt: runAt})
	return sched.NewJob(kind, payloadKey, payload, runAt), nil
}

func (e *recordingEnqueuer) Calls() []enqueueCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]enqueueCall(nil), e.calls...)
}

// fakeScraper returns canned threads and a canned cursor.
type fakeScraper struct {
	threads    []*thread.Thread
	nextCursor string
	err        error

	gotHandle string
	gotCursor string
}

func (s *fakeScraper) FetchSince(_ context.Context, handle, cursor string) ([]*thread.Thread, string, error) {
	s.gotHandle = handle
	s.gotCursor = cursor
	if s.err != nil {
		return nil, "", s.err
	}
	return s.threads, s.nextCursor, nil
}

// fakeProvider returns canned translations and titles.
type fakeProvider struct {
	segments  []string
	segErr    error
	titles    []string
	titlesErr error
}

func (p *fakeProvider) TranslateSegments(context.Context, *thread.Thread, translate.Profile) ([]string, error) {
	if p.segErr != nil {
		return nil, p.segErr
	}
	return p.segments, nil
}

func (p *fakeProvider) GenerateTitles(context.Context, *thread.Thread, []string, int) ([]string, error) {
	if p.titlesErr != nil {
		return nil, p.titlesErr
	}
	return p.titles, nil
}

// fakePublisher records posted segments and hands out sequential ids.
type fakePublisher struct {
	posts   []postedSegment
	failAt  int // 1-based index of the post to fail on, 0 disables
	failErr error
}

type postedSegment struct {
	text      string
	mediaURLs []string
	inReplyTo string
}

func (p *fakePublisher) PostSegment(_ context.Context, text string, mediaURLs []string, inReplyTo string) (string, error) {
	if p.failAt > 0 && len(p.posts)+1 == p.failAt {
		return "", p.failErr
	}
	p.posts = append(p.posts, postedSegment{text: text, mediaURLs: mediaURLs, inReplyTo: inReplyTo})
	return fmt.Sprintf("post-%d", len(p.posts)), nil
}

func storedThread(rootID, handle string, texts ...string) *thread.Thread {
	t := &thread.Thread{AuthorHandle: handle, CollectedAt: time.Now().UTC()}
	for i, text := range texts {
		id := rootID
		if i > 0 {
			id = fmt.Sprintf("%s-%d", rootID, i)
		}
		t.Segments = append(t.Segments, thread.Segment{ID: id, Text: text, Timestamp: time.Now().UTC()})
	}
	return t
}

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
