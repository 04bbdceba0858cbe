// Package gmail talks to the mail provider: search pagination and
// attachment retrieval over the narrow API surface the engine needs.
package gmail

import (
	"context"
	"io"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vishnu0414/email-attachment-download/internal/model"
)

// MessagePage is one page of search results. NextCursor is the provider's
// opaque pagination token; empty means the page is the last one.
type MessagePage struct {
	Summaries  []model.MessageSummary
	NextCursor string
}

// API is the narrow provider surface required by the engine. The real
// implementation is Client; tests substitute fakes.
type API interface {
	// ListMessages fetches one page of message summaries for the translated
	// query. An empty pageCursor requests the first page.
	ListMessages(ctx context.Context, query, pageCursor string, pageSize int64) (*MessagePage, error)

	// GetAttachment retrieves one attachment part as a byte stream.
	GetAttachment(ctx context.Context, messageID, partID string) (io.Reader, error)
}

// RetryPolicy bounds retry behavior for provider calls. Timeouts apply per
// individual network call, never to a whole batch.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	CallTimeout time.Duration
}

// DefaultRetryPolicy matches the provider's published rate-limit guidance.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  8 * time.Second,
		CallTimeout: 30 * time.Second,
	}
}

func (p RetryPolicy) backoff() retry.Backoff {
	b := retry.NewExponential(p.BaseBackoff)
	b = retry.WithJitterPercent(20, b)
	b = retry.WithCappedDuration(p.MaxBackoff, b)
	if p.MaxAttempts > 0 {
		b = retry.WithMaxRetries(uint64(p.MaxAttempts-1), b)
	}
	return b
}

// callCtx applies the per-call timeout when one is configured.
func (p RetryPolicy) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.CallTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.CallTimeout)
}
