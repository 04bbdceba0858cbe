package gmail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vishnu0414/email-attachment-download/internal/errs"
	"github.com/vishnu0414/email-attachment-download/internal/model"
)

// fastPolicy keeps retry sleeps negligible in tests.
func fastPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}
}

type fakeInvalidator struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeInvalidator) Invalidate(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, userID)
}

func (f *fakeInvalidator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeAPI serves scripted pages keyed by cursor and scripted attachment
// bodies keyed by message/part.
type fakeAPI struct {
	mu         sync.Mutex
	pages      map[string]*MessagePage
	pageErrs   map[string][]error // errors served before the page succeeds
	listCalls  int
	bodies     map[string][]byte
	bodyErrs   map[string][]error
	fetchCalls map[string]int
}

var _ API = (*fakeAPI)(nil)

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		pages:      make(map[string]*MessagePage),
		pageErrs:   make(map[string][]error),
		bodies:     make(map[string][]byte),
		bodyErrs:   make(map[string][]error),
		fetchCalls: make(map[string]int),
	}
}

func (f *fakeAPI) ListMessages(_ context.Context, _ string, cursor string, _ int64) (*MessagePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if queue := f.pageErrs[cursor]; len(queue) > 0 {
		err := queue[0]
		f.pageErrs[cursor] = queue[1:]
		return nil, err
	}
	page, ok := f.pages[cursor]
	if !ok {
		return nil, fmt.Errorf("%w: unknown cursor %q", errs.ErrProviderProtocol, cursor)
	}
	return page, nil
}

func (f *fakeAPI) GetAttachment(_ context.Context, messageID, partID string) (io.Reader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := messageID + "/" + partID
	f.fetchCalls[key]++
	if queue := f.bodyErrs[key]; len(queue) > 0 {
		err := queue[0]
		f.bodyErrs[key] = queue[1:]
		return nil, err
	}
	data, ok := f.bodies[key]
	if !ok {
		return nil, fmt.Errorf("%w: no body for %s", errs.ErrPermanentFetch, key)
	}
	return newChunkReader(data), nil
}

func (f *fakeAPI) fetchCount(messageID, partID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls[messageID+"/"+partID]
}

// chunkReader yields one byte per Read so hashing genuinely streams.
type chunkReader struct {
	data []byte
	pos  int
}

func newChunkReader(data []byte) *chunkReader { return &chunkReader{data: data} }

func (c *chunkReader) Read(p []byte) (int, error) {
	if c.pos >= len(c.data) {
		return 0, io.EOF
	}
	p[0] = c.data[c.pos]
	c.pos++
	return 1, nil
}

func summaries(prefix string, n int) []model.MessageSummary {
	out := make([]model.MessageSummary, n)
	for i := range out {
		out[i] = model.MessageSummary{ID: fmt.Sprintf("%s-%d", prefix, i)}
	}
	return out
}

// script chains pages: cursor "" -> p1 -> p2 -> ... -> done.
func scriptPages(api *fakeAPI, perPage int, pageCount int) []string {
	var wantIDs []string
	cursor := ""
	for p := 0; p < pageCount; p++ {
		next := fmt.Sprintf("cursor-%d", p+1)
		if p == pageCount-1 {
			next = ""
		}
		page := &MessagePage{
			Summaries:  summaries(fmt.Sprintf("msg-p%d", p), perPage),
			NextCursor: next,
		}
		api.pages[cursor] = page
		for _, s := range page.Summaries {
			wantIDs = append(wantIDs, s.ID)
		}
		cursor = next
	}
	return wantIDs
}

func TestLister_YieldsAllPagesInOrder(t *testing.T) {
	api := newFakeAPI()
	wantIDs := scriptPages(api, 100, 10)

	lister := NewLister(api, &fakeInvalidator{}, "user1", fastPolicy(), zap.NewNop())
	it := lister.List("has:attachment", 100)

	var gotIDs []string
	for it.Next(context.Background()) {
		gotIDs = append(gotIDs, it.Summary().ID)
	}
	require.NoError(t, it.Err())
	assert.Equal(t, wantIDs, gotIDs, "summaries must preserve page-then-in-page order")
	assert.Equal(t, 10, api.listCalls, "exactly one list call per page")
}

func TestLister_FetchesPagesLazily(t *testing.T) {
	api := newFakeAPI()
	scriptPages(api, 10, 3)

	lister := NewLister(api, &fakeInvalidator{}, "user1", fastPolicy(), zap.NewNop())
	it := lister.List("has:attachment", 10)

	// Drain only the first page's worth of items.
	for i := 0; i < 10; i++ {
		require.True(t, it.Next(context.Background()))
	}
	assert.Equal(t, 1, api.listCalls, "second page must not be fetched until the consumer asks")

	require.True(t, it.Next(context.Background()))
	assert.Equal(t, 2, api.listCalls)
}

func TestLister_EmptyResultSet(t *testing.T) {
	api := newFakeAPI()
	api.pages[""] = &MessagePage{}

	lister := NewLister(api, &fakeInvalidator{}, "user1", fastPolicy(), zap.NewNop())
	it := lister.List("has:attachment", 50)

	assert.False(t, it.Next(context.Background()))
	assert.NoError(t, it.Err())
}

func TestLister_AuthRejectRetriesOnceWithRefreshedToken(t *testing.T) {
	api := newFakeAPI()
	scriptPages(api, 5, 1)
	api.pageErrs[""] = []error{errs.ErrUnauthorized}
	inv := &fakeInvalidator{}

	lister := NewLister(api, inv, "user1", fastPolicy(), zap.NewNop())
	it := lister.List("has:attachment", 5)

	require.True(t, it.Next(context.Background()))
	assert.Equal(t, 1, inv.count(), "token must be invalidated exactly once")
}

func TestLister_AuthRejectTwiceFailsAuthExpired(t *testing.T) {
	api := newFakeAPI()
	scriptPages(api, 5, 1)
	api.pageErrs[""] = []error{errs.ErrUnauthorized, errs.ErrUnauthorized}
	inv := &fakeInvalidator{}

	lister := NewLister(api, inv, "user1", fastPolicy(), zap.NewNop())
	it := lister.List("has:attachment", 5)

	assert.False(t, it.Next(context.Background()))
	require.Error(t, it.Err())
	assert.True(t, errors.Is(it.Err(), errs.ErrAuthExpired))
	assert.Equal(t, 1, inv.count())
}

func TestLister_RateLimitBacksOffAndRetries(t *testing.T) {
	api := newFakeAPI()
	scriptPages(api, 5, 1)
	api.pageErrs[""] = []error{errs.ErrRateLimited, errs.ErrRateLimited}

	lister := NewLister(api, &fakeInvalidator{}, "user1", fastPolicy(), zap.NewNop())
	it := lister.List("has:attachment", 5)

	require.True(t, it.Next(context.Background()))
	assert.Equal(t, 3, api.listCalls)
}

func TestLister_RateLimitExhaustionSurfaces(t *testing.T) {
	api := newFakeAPI()
	scriptPages(api, 5, 1)
	api.pageErrs[""] = []error{
		errs.ErrRateLimited, errs.ErrRateLimited, errs.ErrRateLimited, errs.ErrRateLimited,
	}

	lister := NewLister(api, &fakeInvalidator{}, "user1", fastPolicy(), zap.NewNop())
	it := lister.List("has:attachment", 5)

	assert.False(t, it.Next(context.Background()))
	assert.True(t, errors.Is(it.Err(), errs.ErrRateLimited))
}

func TestLister_MalformedPageAbortsSequence(t *testing.T) {
	api := newFakeAPI()
	// First page succeeds, second page is malformed.
	api.pages[""] = &MessagePage{Summaries: summaries("p0", 3), NextCursor: "bad"}
	api.pageErrs["bad"] = []error{fmt.Errorf("%w: truncated payload", errs.ErrProviderProtocol)}

	lister := NewLister(api, &fakeInvalidator{}, "user1", fastPolicy(), zap.NewNop())
	it := lister.List("has:attachment", 3)

	seen := 0
	for it.Next(context.Background()) {
		seen++
	}
	assert.Equal(t, 3, seen)
	require.Error(t, it.Err())
	assert.True(t, errors.Is(it.Err(), errs.ErrProviderProtocol))

	// The iterator stays failed; it never skips the bad page silently.
	assert.False(t, it.Next(context.Background()))
}
