package downloader

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vishnu0414/email-attachment-download/internal/archive"
	"github.com/vishnu0414/email-attachment-download/internal/errs"
	"github.com/vishnu0414/email-attachment-download/internal/model"
)

func ref(part, filename string) model.AttachmentRef {
	return model.AttachmentRef{MessageID: "m-" + part, PartID: part, Filename: filename}
}

func success(data []byte) model.FetchResult {
	sum := sha256.Sum256(data)
	return model.FetchResult{Data: data, ContentHash: hex.EncodeToString(sum[:])}
}

// fakeFetcher serves scripted results keyed by PartID and tracks
// concurrency.
type fakeFetcher struct {
	mu          sync.Mutex
	results     map[string]model.FetchResult
	delay       time.Duration
	started     chan string
	calls       int32
	inflight    int32
	maxInflight int32
}

var _ Fetcher = (*fakeFetcher)(nil)

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{results: make(map[string]model.FetchResult)}
}

func (f *fakeFetcher) Fetch(_ context.Context, r model.AttachmentRef) model.FetchResult {
	atomic.AddInt32(&f.calls, 1)
	cur := atomic.AddInt32(&f.inflight, 1)
	defer atomic.AddInt32(&f.inflight, -1)
	f.mu.Lock()
	if cur > f.maxInflight {
		f.maxInflight = cur
	}
	res, ok := f.results[r.PartID]
	f.mu.Unlock()

	if f.started != nil {
		f.started <- r.PartID
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	if !ok {
		res = model.FetchResult{Err: fmt.Errorf("%w: unscripted part %s", errs.ErrPermanentFetch, r.PartID)}
	}
	res.Ref = r
	return res
}

func TestCoordinator_IdenticalContentIsDeduplicated(t *testing.T) {
	fetcher := newFakeFetcher()
	payload := []byte("same bytes in two parts")
	fetcher.results["a"] = success(payload)
	fetcher.results["b"] = success(payload)

	coord := NewCoordinator(fetcher, 1, zap.NewNop())
	report := coord.DownloadBatch(context.Background(),
		[]model.AttachmentRef{ref("a", "one.pdf"), ref("b", "two.pdf")}, nil)

	require.Len(t, report.Items, 2)
	assert.Equal(t, 1, report.Count(model.OutcomeSuccess))
	assert.Equal(t, 1, report.Count(model.OutcomeDuplicate))

	// Single worker makes arrival order deterministic: "a" wins.
	assert.Equal(t, model.OutcomeSuccess, report.Items[0].Outcome)
	assert.Equal(t, model.OutcomeDuplicate, report.Items[1].Outcome)
	require.NotNil(t, report.Items[1].DuplicateOf)
	assert.Equal(t, "a", report.Items[1].DuplicateOf.PartID)
}

func TestCoordinator_OneFailureNeverAbortsBatch(t *testing.T) {
	fetcher := newFakeFetcher()
	refs := make([]model.AttachmentRef, 5)
	for i := range refs {
		part := fmt.Sprintf("p%d", i)
		refs[i] = ref(part, fmt.Sprintf("file%d.csv", i))
		if i == 2 {
			fetcher.results[part] = model.FetchResult{
				Err: fmt.Errorf("%w: 500 after max attempts", errs.ErrTransientNetwork),
			}
			continue
		}
		fetcher.results[part] = success([]byte("content of " + part))
	}

	var zipBuf bytes.Buffer
	builder := archive.NewBuilder(&zipBuf)
	sink := func(_ context.Context, res model.FetchResult) error {
		return builder.AddBytes(res.Ref.Filename, res.Data)
	}

	coord := NewCoordinator(fetcher, 3, zap.NewNop())
	report := coord.DownloadBatch(context.Background(), refs, sink)
	require.NoError(t, builder.Close())

	require.Len(t, report.Items, 5)
	assert.Equal(t, 4, report.Count(model.OutcomeSuccess))
	assert.Equal(t, 1, report.Count(model.OutcomeFailed))
	assert.Equal(t, model.OutcomeFailed, report.Items[2].Outcome)
	assert.True(t, errors.Is(report.Items[2].Err, errs.ErrTransientNetwork))

	// Archive entry count plus failures equals the total requested.
	zr, err := zip.NewReader(bytes.NewReader(zipBuf.Bytes()), int64(zipBuf.Len()))
	require.NoError(t, err)
	assert.Len(t, zr.File, 4)
}

func TestCoordinator_ConcurrencyIsBounded(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.delay = 20 * time.Millisecond
	var refs []model.AttachmentRef
	for i := 0; i < 12; i++ {
		part := fmt.Sprintf("p%d", i)
		refs = append(refs, ref(part, part+".dat"))
		fetcher.results[part] = success([]byte(part))
	}

	coord := NewCoordinator(fetcher, 3, zap.NewNop())
	report := coord.DownloadBatch(context.Background(), refs, nil)

	assert.Equal(t, 12, report.Count(model.OutcomeSuccess))
	assert.LessOrEqual(t, fetcher.maxInflight, int32(3))
}

func TestCoordinator_CancellationStopsDispatchOnly(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.started = make(chan string, 16)
	fetcher.delay = 30 * time.Millisecond
	var refs []model.AttachmentRef
	for i := 0; i < 6; i++ {
		part := fmt.Sprintf("p%d", i)
		refs = append(refs, ref(part, part+".dat"))
		fetcher.results[part] = success([]byte(part))
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		// Cancel once the first fetch is in flight.
		<-fetcher.started
		cancel()
	}()

	coord := NewCoordinator(fetcher, 1, zap.NewNop())
	report := coord.DownloadBatch(ctx, refs, nil)

	require.Len(t, report.Items, 6)
	// The in-flight fetch completes rather than being killed mid-stream.
	assert.GreaterOrEqual(t, report.Count(model.OutcomeSuccess), 1)
	assert.Greater(t, report.Count(model.OutcomeCancelled), 0)
	assert.Equal(t, len(refs),
		report.Count(model.OutcomeSuccess)+report.Count(model.OutcomeCancelled))
}

func TestCoordinator_PreCancelledContextDispatchesNothing(t *testing.T) {
	fetcher := newFakeFetcher()
	var refs []model.AttachmentRef
	for i := 0; i < 200; i++ {
		part := fmt.Sprintf("p%d", i)
		refs = append(refs, ref(part, part+".dat"))
		fetcher.results[part] = success([]byte(part))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	coord := NewCoordinator(fetcher, 4, zap.NewNop())
	report := coord.DownloadBatch(ctx, refs, nil)

	assert.EqualValues(t, 0, atomic.LoadInt32(&fetcher.calls),
		"a dead context must never dispatch a fetch")
	assert.Equal(t, len(refs), report.Count(model.OutcomeCancelled))
}

func TestCoordinator_ReauthRequiredStopsDispatch(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.results["p0"] = model.FetchResult{Err: errs.ErrReauthRequired}
	for i := 1; i < 4; i++ {
		part := fmt.Sprintf("p%d", i)
		fetcher.results[part] = success([]byte(part))
	}
	refs := []model.AttachmentRef{
		ref("p0", "a.txt"), ref("p1", "b.txt"), ref("p2", "c.txt"), ref("p3", "d.txt"),
	}

	// Slow fetches so the reauth flag is set before later refs dispatch.
	fetcher.delay = 10 * time.Millisecond

	coord := NewCoordinator(fetcher, 1, zap.NewNop())
	report := coord.DownloadBatch(context.Background(), refs, nil)

	require.Len(t, report.Items, 4)
	assert.Equal(t, model.OutcomeFailed, report.Items[0].Outcome)
	assert.True(t, errors.Is(report.Items[0].Err, errs.ErrReauthRequired))

	// Everything after the reauth signal is failed, not retried.
	failed := report.Count(model.OutcomeFailed)
	assert.GreaterOrEqual(t, failed, 2)
	for _, item := range report.Items[1:] {
		if item.Outcome == model.OutcomeFailed {
			assert.True(t, errors.Is(item.Err, errs.ErrReauthRequired))
		}
	}
}

func TestCoordinator_SinkErrorFailsOnlyThatItem(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.results["p0"] = success([]byte("first"))
	fetcher.results["p1"] = success([]byte("second"))

	sinkErr := errors.New("disk full")
	calls := 0
	sink := func(_ context.Context, res model.FetchResult) error {
		calls++
		if res.Ref.PartID == "p0" {
			return sinkErr
		}
		return nil
	}

	coord := NewCoordinator(fetcher, 1, zap.NewNop())
	report := coord.DownloadBatch(context.Background(),
		[]model.AttachmentRef{ref("p0", "a.txt"), ref("p1", "b.txt")}, sink)

	assert.Equal(t, 2, calls)
	assert.Equal(t, model.OutcomeFailed, report.Items[0].Outcome)
	assert.True(t, errors.Is(report.Items[0].Err, sinkErr))
	assert.Equal(t, model.OutcomeSuccess, report.Items[1].Outcome)
}

func TestCoordinator_EmptyBatch(t *testing.T) {
	coord := NewCoordinator(newFakeFetcher(), 4, zap.NewNop())
	report := coord.DownloadBatch(context.Background(), nil, nil)
	assert.Empty(t, report.Items)
	assert.NotEqual(t, "", report.BatchID.String())
}
