package token

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/vishnu0414/email-attachment-download/internal/errs"
	"github.com/vishnu0414/email-attachment-download/internal/model"
)

// OAuthRefresher runs the refresh exchange against the provider's token
// endpoint through the oauth2 client configuration.
type OAuthRefresher struct {
	conf *oauth2.Config
}

var _ Refresher = (*OAuthRefresher)(nil)

func NewOAuthRefresher(conf *oauth2.Config) *OAuthRefresher {
	return &OAuthRefresher{conf: conf}
}

// Refresh exchanges the refresh token for a new access token. A rejected
// grant (revoked refresh token or consent) maps to errs.ErrReauthRequired;
// anything else is a transient network condition.
func (r *OAuthRefresher) Refresh(ctx context.Context, cred *model.Credential) (*model.Credential, error) {
	stale := &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		// Force the token source to hit the token endpoint.
		Expiry: time.Now().Add(-time.Hour),
	}

	fresh, err := r.conf.TokenSource(ctx, stale).Token()
	if err != nil {
		return nil, classifyRefreshError(err)
	}

	return &model.Credential{
		AccessToken:  fresh.AccessToken,
		RefreshToken: fresh.RefreshToken,
		Expiry:       fresh.Expiry,
		Scopes:       cred.Scopes,
	}, nil
}

func classifyRefreshError(err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		status := 0
		if rerr.Response != nil {
			status = rerr.Response.StatusCode
		}
		// invalid_grant covers revoked refresh tokens and withdrawn consent.
		if rerr.ErrorCode == "invalid_grant" ||
			status == http.StatusBadRequest || status == http.StatusUnauthorized {
			return fmt.Errorf("%w: %s", errs.ErrReauthRequired, rerr.ErrorCode)
		}
	}
	return fmt.Errorf("%w: token refresh: %v", errs.ErrTransientNetwork, err)
}
