package gmail

import (
	"context"
	"errors"
	"fmt"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/vishnu0414/email-attachment-download/internal/errs"
	"github.com/vishnu0414/email-attachment-download/internal/model"
)

// TokenInvalidator is the slice of the token store the lister and fetcher
// need when the provider rejects a token mid-flight.
type TokenInvalidator interface {
	Invalidate(userID string)
}

// Lister paginates the provider search endpoint for one user. Pages are
// fetched lazily: the next page is not requested until the consumer has
// drained the current one.
type Lister struct {
	api    API
	tokens TokenInvalidator
	userID string
	policy RetryPolicy
	log    *zap.Logger
}

func NewLister(api API, tokens TokenInvalidator, userID string, policy RetryPolicy, log *zap.Logger) *Lister {
	return &Lister{api: api, tokens: tokens, userID: userID, policy: policy, log: log}
}

// List starts a pull-based traversal of the query results. The iterator
// holds at most one page of summaries in memory.
func (l *Lister) List(query string, pageSize int64) *Iterator {
	return &Iterator{l: l, query: query, pageSize: pageSize}
}

// Iterator yields message summaries in exact page-then-in-page order.
// Usage follows bufio.Scanner: Next, Summary, then Err after the loop.
type Iterator struct {
	l        *Lister
	query    string
	pageSize int64

	buf     []model.MessageSummary
	cur     model.MessageSummary
	cursor  string
	started bool
	done    bool
	err     error
}

// Next advances to the next summary, fetching the following page only
// when the buffered one is exhausted. It returns false at the end of the
// result set or on the first page failure.
func (it *Iterator) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}

	for len(it.buf) == 0 {
		if it.started && it.done {
			return false
		}
		page, err := it.l.fetchPage(ctx, it.query, it.cursor, it.pageSize)
		if err != nil {
			// A failing page aborts the listing: later pages are
			// unreachable without its cursor.
			it.err = err
			return false
		}
		it.started = true
		it.buf = page.Summaries
		it.cursor = page.NextCursor
		it.done = page.NextCursor == ""
	}

	it.cur = it.buf[0]
	it.buf = it.buf[1:]
	return true
}

// Summary returns the summary produced by the last successful Next.
func (it *Iterator) Summary() model.MessageSummary { return it.cur }

// Err returns the terminal error, if any, once Next has returned false.
func (it *Iterator) Err() error { return it.err }

// fetchPage retrieves one page with the shared retry discipline:
// rate-limit and transient failures back off and retry; an auth rejection
// invalidates the cached token and retries the same page exactly once.
func (l *Lister) fetchPage(ctx context.Context, query, cursor string, pageSize int64) (*MessagePage, error) {
	authRetried := false
	var page *MessagePage

	err := retry.Do(ctx, l.policy.backoff(), func(ctx context.Context) error {
		callCtx, cancel := l.policy.callCtx(ctx)
		p, err := l.api.ListMessages(callCtx, query, cursor, pageSize)
		cancel()
		switch {
		case err == nil:
			page = p
			return nil
		case errors.Is(err, errs.ErrUnauthorized):
			if authRetried {
				return fmt.Errorf("%w: page rejected after token refresh", errs.ErrAuthExpired)
			}
			authRetried = true
			l.tokens.Invalidate(l.userID)
			l.log.Debug("auth rejected, retrying page with refreshed token",
				zap.String("user", l.userID))
			return retry.RetryableError(err)
		case errors.Is(err, errs.ErrRateLimited), errors.Is(err, errs.ErrTransientNetwork):
			l.log.Debug("page fetch backing off", zap.Error(err))
			return retry.RetryableError(err)
		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}
