// Package downloader orchestrates bulk attachment retrieval: a bounded
// worker pool over the fetcher, batch-local content dedup, and a report
// that accounts for every requested ref.
package downloader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vishnu0414/email-attachment-download/internal/errs"
	"github.com/vishnu0414/email-attachment-download/internal/model"
)

// Fetcher is the single-attachment retrieval surface the coordinator
// fans out over.
type Fetcher interface {
	Fetch(ctx context.Context, ref model.AttachmentRef) model.FetchResult
}

// Sink receives each unique successful fetch. Invocations are serialized,
// so non-concurrent-safe consumers (zip writers, DB transactions) work
// unchanged. A sink error marks that item failed without touching the
// rest of the batch.
type Sink func(ctx context.Context, res model.FetchResult) error

// Coordinator fans fetches across a bounded pool of workers.
type Coordinator struct {
	fetcher        Fetcher
	maxConcurrency int
	log            *zap.Logger
}

func NewCoordinator(fetcher Fetcher, maxConcurrency int, log *zap.Logger) *Coordinator {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &Coordinator{fetcher: fetcher, maxConcurrency: maxConcurrency, log: log}
}

// DownloadBatch drains refs through at most maxConcurrency concurrent
// fetches. Dedup is decided only after bytes are retrieved and hashed:
// the first success for a content hash is kept, later identical content
// is reported as a duplicate of the first ref. One failure never aborts
// the batch.
//
// Cancelling ctx stops dispatch; in-flight fetches run to completion on a
// detached context so no partial provider-side state is leaked, and
// undispatched refs are reported Cancelled. When the token store signals
// that re-authorization is required, dispatch stops the same way and the
// remaining refs are reported Failed, since no retry can succeed.
func (c *Coordinator) DownloadBatch(ctx context.Context, refs []model.AttachmentRef, sink Sink) *model.BatchReport {
	report := &model.BatchReport{
		BatchID: uuid.New(),
		Items:   make([]model.ItemReport, len(refs)),
	}

	// DedupIndex: content hash -> first ref that produced it. Scoped to
	// this batch only; repeated content across batches is legitimate.
	dedup := make(map[string]model.AttachmentRef)

	var (
		mu           sync.Mutex
		wg           sync.WaitGroup
		reauthNeeded atomic.Bool
		sem          = make(chan struct{}, c.maxConcurrency)
		// In-flight work survives cancellation; only dispatch is gated.
		fetchCtx = context.WithoutCancel(ctx)
	)

	for i := range refs {
		if reauthNeeded.Load() {
			report.Items[i] = model.ItemReport{
				Ref:     refs[i],
				Outcome: model.OutcomeFailed,
				Err:     errs.ErrReauthRequired,
			}
			continue
		}

		if ctx.Err() != nil {
			report.Items[i] = model.ItemReport{Ref: refs[i], Outcome: model.OutcomeCancelled}
			continue
		}

		select {
		case <-ctx.Done():
			report.Items[i] = model.ItemReport{Ref: refs[i], Outcome: model.OutcomeCancelled}
			continue
		case sem <- struct{}{}:
		}
		// The select picks arbitrarily when both cases are ready; re-check
		// so a dead context never dispatches.
		if ctx.Err() != nil {
			<-sem
			report.Items[i] = model.ItemReport{Ref: refs[i], Outcome: model.OutcomeCancelled}
			continue
		}

		wg.Add(1)
		go func(idx int, ref model.AttachmentRef) {
			defer wg.Done()
			defer func() { <-sem }()

			res := c.fetcher.Fetch(fetchCtx, ref)
			if res.Err != nil && (errors.Is(res.Err, errs.ErrReauthRequired) || errors.Is(res.Err, errs.ErrAuthExpired)) {
				reauthNeeded.Store(true)
			}

			mu.Lock()
			defer mu.Unlock()
			report.Items[idx] = c.settle(fetchCtx, res, dedup, sink)
		}(i, refs[i])
	}

	wg.Wait()

	c.log.Info("batch complete",
		zap.String("batch", report.BatchID.String()),
		zap.Int("requested", len(refs)),
		zap.Int("success", report.Count(model.OutcomeSuccess)),
		zap.Int("duplicate", report.Count(model.OutcomeDuplicate)),
		zap.Int("failed", report.Count(model.OutcomeFailed)),
		zap.Int("cancelled", report.Count(model.OutcomeCancelled)),
	)
	return report
}

// settle resolves one completed fetch into an item report. Caller holds
// the batch mutex, which also serializes sink invocations.
func (c *Coordinator) settle(ctx context.Context, res model.FetchResult, dedup map[string]model.AttachmentRef, sink Sink) model.ItemReport {
	if res.Err != nil {
		return model.ItemReport{Ref: res.Ref, Outcome: model.OutcomeFailed, Err: res.Err}
	}

	if first, seen := dedup[res.ContentHash]; seen {
		firstRef := first
		return model.ItemReport{
			Ref:         res.Ref,
			Outcome:     model.OutcomeDuplicate,
			ContentHash: res.ContentHash,
			DuplicateOf: &firstRef,
		}
	}

	if sink != nil {
		if err := sink(ctx, res); err != nil {
			return model.ItemReport{Ref: res.Ref, Outcome: model.OutcomeFailed, Err: err}
		}
	}

	dedup[res.ContentHash] = res.Ref
	return model.ItemReport{Ref: res.Ref, Outcome: model.OutcomeSuccess, ContentHash: res.ContentHash}
}
