// Package token manages the OAuth2 credential lifecycle per user: cached
// working copies, on-demand refresh with a per-user single-flight guard,
// and persistence through the account store collaborator.
package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/vishnu0414/email-attachment-download/internal/errs"
	"github.com/vishnu0414/email-attachment-download/internal/model"
)

// DefaultMargin is the minimum remaining validity a served token must have.
const DefaultMargin = 60 * time.Second

// CredentialStore is the persistence collaborator. The token store never
// owns persistence itself.
type CredentialStore interface {
	LoadCredential(ctx context.Context, userID string) (*model.Credential, error)
	SaveCredential(ctx context.Context, userID string, cred *model.Credential) error
}

// Refresher performs the refresh exchange against the provider token endpoint.
type Refresher interface {
	Refresh(ctx context.Context, cred *model.Credential) (*model.Credential, error)
}

// Store holds an in-memory working copy of each user's credential and
// guarantees any served token is valid for at least the safety margin.
type Store struct {
	creds     CredentialStore
	refresher Refresher
	margin    time.Duration
	log       *zap.Logger

	mu    sync.Mutex
	cache map[string]*model.Credential

	// One in-flight refresh per user; concurrent callers share its result.
	group singleflight.Group
}

// NewStore constructs a token store. A margin <= 0 falls back to DefaultMargin.
func NewStore(creds CredentialStore, refresher Refresher, margin time.Duration, log *zap.Logger) *Store {
	if margin <= 0 {
		margin = DefaultMargin
	}
	return &Store{
		creds:     creds,
		refresher: refresher,
		margin:    margin,
		log:       log,
		cache:     make(map[string]*model.Credential),
	}
}

// Token returns a credential guaranteed valid for at least the safety
// margin from now, refreshing first when the held one is expired or
// close to it. A refresh rejected by the provider (revoked grant)
// surfaces as errs.ErrReauthRequired; transient failures as
// errs.ErrTransientNetwork.
func (s *Store) Token(ctx context.Context, userID string) (*model.Credential, error) {
	if cred := s.cached(userID); cred.ValidFor(s.margin) {
		return cred, nil
	}

	v, err, _ := s.group.Do(userID, func() (interface{}, error) {
		// Re-check under the guard: a concurrent caller may have already
		// refreshed while this one waited.
		if cred := s.cached(userID); cred.ValidFor(s.margin) {
			return cred, nil
		}
		return s.refresh(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Credential), nil
}

// Invalidate drops the cached token so the next Token call refreshes.
// Used when the provider rejects a token with an auth error mid-batch.
func (s *Store) Invalidate(userID string) {
	s.mu.Lock()
	if cred, ok := s.cache[userID]; ok {
		// Replace rather than mutate: earlier callers may still hold the
		// old pointer.
		dropped := *cred
		dropped.AccessToken = ""
		dropped.Expiry = time.Time{}
		s.cache[userID] = &dropped
	}
	s.mu.Unlock()
	s.log.Debug("token invalidated", zap.String("user", userID))
}

// Put seeds the store with a freshly authorized credential (OAuth flow
// completion) and persists it.
func (s *Store) Put(ctx context.Context, userID string, cred *model.Credential) error {
	if err := s.creds.SaveCredential(ctx, userID, cred); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	s.mu.Lock()
	s.cache[userID] = cred
	s.mu.Unlock()
	return nil
}

func (s *Store) cached(userID string) *model.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache[userID]
}

// refresh loads the working copy if needed, runs the refresh exchange,
// and persists the result. Callers hold the single-flight guard.
func (s *Store) refresh(ctx context.Context, userID string) (*model.Credential, error) {
	cred := s.cached(userID)
	if cred == nil || cred.RefreshToken == "" {
		loaded, err := s.creds.LoadCredential(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("load credential: %w", err)
		}
		if loaded == nil || loaded.RefreshToken == "" {
			return nil, errs.ErrNoCredential
		}
		cred = loaded
		if cred.ValidFor(s.margin) {
			s.mu.Lock()
			s.cache[userID] = cred
			s.mu.Unlock()
			return cred, nil
		}
	}

	start := time.Now()
	fresh, err := s.refresher.Refresh(ctx, cred)
	if err != nil {
		s.log.Warn("token refresh failed", zap.String("user", userID), zap.Error(err))
		return nil, err
	}
	if fresh.RefreshToken == "" {
		// Providers may omit the refresh token on refresh responses.
		fresh.RefreshToken = cred.RefreshToken
	}

	s.mu.Lock()
	s.cache[userID] = fresh
	s.mu.Unlock()

	if err := s.creds.SaveCredential(ctx, userID, fresh); err != nil {
		// The token itself is good; persistence failure must not block the batch.
		s.log.Error("persist refreshed credential", zap.String("user", userID), zap.Error(err))
	}

	s.log.Info("token refreshed",
		zap.String("user", userID),
		zap.Time("expiry", fresh.Expiry),
		zap.Duration("took", time.Since(start)),
	)
	return fresh, nil
}
