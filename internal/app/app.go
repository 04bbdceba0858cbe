// Application layer - wires the engine components behind the surface the
// CLI (or any other caller) consumes.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/vishnu0414/email-attachment-download/internal/archive"
	"github.com/vishnu0414/email-attachment-download/internal/config"
	"github.com/vishnu0414/email-attachment-download/internal/downloader"
	"github.com/vishnu0414/email-attachment-download/internal/gmail"
	"github.com/vishnu0414/email-attachment-download/internal/model"
	"github.com/vishnu0414/email-attachment-download/internal/query"
	"github.com/vishnu0414/email-attachment-download/internal/storage"
	"github.com/vishnu0414/email-attachment-download/internal/token"
	"github.com/vishnu0414/email-attachment-download/internal/utils"
)

// App coordinates all components with constructor injection.
type App struct {
	cfg    *config.Config
	log    *zap.Logger
	store  *storage.Store
	tokens *token.Store
	oauth  *oauth2.Config
}

// New builds the application: config, storage, OAuth client configuration,
// and the token store.
func New(configPath string, log *zap.Logger) (*App, error) {
	cfg, err := config.NewManager().Load(configPath)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.Database)
	if err != nil {
		return nil, err
	}

	oauthConf, err := loadOAuthConfig(cfg.Gmail.CredentialsFile)
	if err != nil {
		return nil, err
	}

	tokens := token.NewStore(store, token.NewOAuthRefresher(oauthConf), cfg.Gmail.TokenMargin, log)

	return &App{
		cfg:    cfg,
		log:    log,
		store:  store,
		tokens: tokens,
		oauth:  oauthConf,
	}, nil
}

func loadOAuthConfig(credentialsFile string) (*oauth2.Config, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("reading OAuth client secret %s: %w", credentialsFile, err)
	}
	conf, err := google.ConfigFromJSON(data, gmailapi.GmailReadonlyScope, gmailapi.GmailModifyScope)
	if err != nil {
		return nil, fmt.Errorf("parsing OAuth client secret: %w", err)
	}
	return conf, nil
}

// AuthURL returns the provider authorization URL for the OAuth flow.
// Offline access with forced consent so a refresh token is always issued.
func (a *App) AuthURL(state string) string {
	return a.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// CompleteAuth exchanges the authorization code and persists the credential.
func (a *App) CompleteAuth(ctx context.Context, userID, code string) error {
	tok, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchanging authorization code: %w", err)
	}
	cred := &model.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		Scopes:       a.oauth.Scopes,
	}
	if err := a.tokens.Put(ctx, userID, cred); err != nil {
		return err
	}
	a.log.Info("authorization complete", zap.String("user", userID))
	return nil
}

// Search translates the query and returns a lazy iterator over matching
// message summaries.
func (a *App) Search(ctx context.Context, userID string, q model.SearchQuery) (*gmail.Iterator, error) {
	translated, err := query.Translate(q)
	if err != nil {
		return nil, err
	}

	api, err := a.clientFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	lister := gmail.NewLister(api, a.tokens, userID, a.retryPolicy(), a.log)
	a.log.Debug("search started", zap.String("user", userID), zap.String("query", translated))
	return lister.List(translated, a.cfg.Gmail.PageSize), nil
}

// DownloadOptions controls one batch download.
type DownloadOptions struct {
	// MaxConcurrency caps the worker pool; 0 uses the configured default.
	MaxConcurrency int
	// Archive, when non-nil, additionally streams unique successes into a
	// zip written to this writer.
	Archive io.Writer
}

// Download fans the refs out through the coordinator. Unique successes are
// written under the user's download directory and recorded in the history
// store; the report enumerates every requested ref.
func (a *App) Download(ctx context.Context, userID string, refs []model.AttachmentRef, opts DownloadOptions) (*model.BatchReport, error) {
	api, err := a.clientFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	maxConc := opts.MaxConcurrency
	if maxConc <= 0 {
		maxConc = a.cfg.Download.MaxConcurrent
	}

	userDir := filepath.Join(a.cfg.Download.BaseDir, userID)
	if err := utils.EnsureDirectory(userDir); err != nil {
		return nil, fmt.Errorf("creating download directory: %w", err)
	}

	var builder *archive.Builder
	if opts.Archive != nil {
		builder = archive.NewBuilder(opts.Archive)
	}

	sink := func(ctx context.Context, res model.FetchResult) error {
		if err := a.persistAttachment(ctx, userID, userDir, res); err != nil {
			return err
		}
		if builder != nil {
			return builder.AddBytes(res.Ref.Filename, res.Data)
		}
		return nil
	}

	fetcher := gmail.NewFetcher(api, a.tokens, userID, a.retryPolicy(), a.log)
	coord := downloader.NewCoordinator(fetcher, maxConc, a.log)
	report := coord.DownloadBatch(ctx, refs, sink)

	if builder != nil {
		if err := builder.Close(); err != nil {
			return report, fmt.Errorf("finalizing archive: %w", err)
		}
	}
	return report, nil
}

// persistAttachment writes the payload to disk and records it in history.
// The on-disk name is prefixed with the content hash so two distinct
// attachments sharing a filename never overwrite each other.
func (a *App) persistAttachment(ctx context.Context, userID, userDir string, res model.FetchResult) error {
	safe := utils.SanitizeFilename(res.Ref.Filename)
	prefix := res.ContentHash
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}
	path := filepath.Join(userDir, fmt.Sprintf("%s_%s", prefix, safe))

	if err := os.WriteFile(path, res.Data, 0o644); err != nil {
		return fmt.Errorf("writing attachment %s: %w", safe, err)
	}

	_, err := a.store.SaveAttachment(ctx, &storage.AttachmentRecord{
		UserID:      userID,
		MessageID:   res.Ref.MessageID,
		PartID:      res.Ref.PartID,
		Filename:    safe,
		Filepath:    path,
		Filetype:    utils.FileType(safe),
		Size:        int64(len(res.Data)),
		ContentHash: res.ContentHash,
	})
	if err != nil {
		return err
	}
	return nil
}

// History lists the user's download history.
func (a *App) History(ctx context.Context, userID string, filter storage.HistoryFilter) ([]storage.AttachmentRecord, error) {
	return a.store.ListAttachments(ctx, userID, filter)
}

// Stats summarizes the user's download history.
func (a *App) Stats(ctx context.Context, userID string) (*storage.Stats, error) {
	return a.store.UserStats(ctx, userID)
}

func (a *App) retryPolicy() gmail.RetryPolicy {
	return gmail.RetryPolicy{
		MaxAttempts: a.cfg.Gmail.MaxAttempts,
		BaseBackoff: a.cfg.Gmail.BaseBackoff,
		MaxBackoff:  a.cfg.Gmail.MaxBackoff,
		CallTimeout: a.cfg.Gmail.CallTimeout,
	}
}

// clientFor builds a provider client whose every call re-validates the
// user's token through the token store.
func (a *App) clientFor(ctx context.Context, userID string) (gmail.API, error) {
	ts := &storeTokenSource{ctx: ctx, tokens: a.tokens, userID: userID}
	return gmail.NewClient(ctx, ts, a.log)
}

// storeTokenSource adapts the token store to oauth2.TokenSource so the
// HTTP transport picks up refreshed tokens transparently.
type storeTokenSource struct {
	ctx    context.Context
	tokens *token.Store
	userID string
}

func (s *storeTokenSource) Token() (*oauth2.Token, error) {
	cred, err := s.tokens.Token(s.ctx, s.userID)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: cred.AccessToken, Expiry: cred.Expiry}, nil
}
