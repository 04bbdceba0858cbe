package gmail

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/vishnu0414/email-attachment-download/internal/errs"
	"github.com/vishnu0414/email-attachment-download/internal/model"
)

// Fetcher downloads single attachment parts with bounded retry and
// computes the content hash while the bytes stream in.
type Fetcher struct {
	api    API
	tokens TokenInvalidator
	userID string
	policy RetryPolicy
	log    *zap.Logger
}

func NewFetcher(api API, tokens TokenInvalidator, userID string, policy RetryPolicy, log *zap.Logger) *Fetcher {
	return &Fetcher{api: api, tokens: tokens, userID: userID, policy: policy, log: log}
}

// Fetch retrieves one attachment. Transient failures (network, 5xx, rate
// limit) retry with capped exponential backoff; an auth rejection
// invalidates the token and retries exactly once; any other 4xx fails
// immediately as errs.ErrPermanentFetch. The result always carries the
// ref so the caller can report per-item fate.
func (f *Fetcher) Fetch(ctx context.Context, ref model.AttachmentRef) model.FetchResult {
	authRetried := false
	var data []byte
	var hash string
	start := time.Now()

	err := retry.Do(ctx, f.policy.backoff(), func(ctx context.Context) error {
		callCtx, cancel := f.policy.callCtx(ctx)
		defer cancel()

		body, err := f.api.GetAttachment(callCtx, ref.MessageID, ref.PartID)
		if err == nil {
			data, hash, err = drainAndHash(body)
		}
		switch {
		case err == nil:
			return nil
		case errors.Is(err, errs.ErrUnauthorized):
			if authRetried {
				return fmt.Errorf("%w: fetch rejected after token refresh", errs.ErrAuthExpired)
			}
			authRetried = true
			f.tokens.Invalidate(f.userID)
			return retry.RetryableError(err)
		case errors.Is(err, errs.ErrRateLimited), errors.Is(err, errs.ErrTransientNetwork):
			return retry.RetryableError(err)
		default:
			return err
		}
	})
	if err != nil {
		f.log.Warn("attachment fetch failed",
			zap.String("message", ref.MessageID),
			zap.String("filename", ref.Filename),
			zap.Error(err),
		)
		return model.FetchResult{Ref: ref, Err: err}
	}

	f.log.Debug("attachment fetched",
		zap.String("filename", ref.Filename),
		zap.Int("bytes", len(data)),
		zap.Duration("took", time.Since(start)),
	)
	return model.FetchResult{Ref: ref, Data: data, ContentHash: hash}
}

// drainAndHash buffers the stream while feeding the digest, so the hash
// never needs a second pass over the data.
func drainAndHash(r io.Reader) ([]byte, string, error) {
	hasher := sha256.New()
	var buf bytes.Buffer
	if _, err := io.Copy(io.MultiWriter(&buf, hasher), r); err != nil {
		return nil, "", fmt.Errorf("%w: reading attachment body: %v", errs.ErrTransientNetwork, err)
	}
	return buf.Bytes(), hex.EncodeToString(hasher.Sum(nil)), nil
}
