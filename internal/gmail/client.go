package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/vishnu0414/email-attachment-download/internal/errs"
	"github.com/vishnu0414/email-attachment-download/internal/model"
)

// Client implements API against the Gmail REST service. All responses pass
// through a validating parse step: dict-shaped provider payloads become
// typed entities or fail as errs.ErrProviderProtocol.
type Client struct {
	svc *gmailapi.Service
	log *zap.Logger
}

var _ API = (*Client)(nil)

// NewClient builds an authenticated client. The token source is expected
// to be backed by the token store so every call re-validates the token.
func NewClient(ctx context.Context, ts oauth2.TokenSource, log *zap.Logger, opts ...option.ClientOption) (*Client, error) {
	opts = append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)
	svc, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gmail service: %w", err)
	}
	return &Client{svc: svc, log: log}, nil
}

// ListMessages fetches one page of the search endpoint and hydrates each
// hit into a MessageSummary with its attachment refs.
func (c *Client) ListMessages(ctx context.Context, query, pageCursor string, pageSize int64) (*MessagePage, error) {
	call := c.svc.Users.Messages.List("me").Q(query).MaxResults(pageSize).Context(ctx)
	if pageCursor != "" {
		call = call.PageToken(pageCursor)
	}

	resp, err := call.Do()
	if err != nil {
		return nil, mapListError(err)
	}

	page := &MessagePage{NextCursor: resp.NextPageToken}
	for _, m := range resp.Messages {
		if m == nil || m.Id == "" {
			return nil, fmt.Errorf("%w: message list entry without id", errs.ErrProviderProtocol)
		}
		full, err := c.svc.Users.Messages.Get("me", m.Id).Format("full").Context(ctx).Do()
		if err != nil {
			return nil, mapListError(err)
		}
		summary, err := parseMessage(full)
		if err != nil {
			return nil, err
		}
		page.Summaries = append(page.Summaries, summary)
	}
	return page, nil
}

// GetAttachment retrieves a single attachment part. The provider returns
// the body base64url-encoded; the returned reader decodes on the fly so
// callers hash and buffer in a single pass.
func (c *Client) GetAttachment(ctx context.Context, messageID, partID string) (io.Reader, error) {
	body, err := c.svc.Users.Messages.Attachments.Get("me", messageID, partID).Context(ctx).Do()
	if err != nil {
		return nil, mapFetchError(err)
	}
	if body == nil || body.Data == "" {
		return nil, fmt.Errorf("%w: empty attachment body for message %s part %s",
			errs.ErrProviderProtocol, messageID, partID)
	}
	data := strings.TrimRight(body.Data, "=")
	return base64.NewDecoder(base64.RawURLEncoding, strings.NewReader(data)), nil
}

// parseMessage validates the provider payload into a typed summary.
func parseMessage(msg *gmailapi.Message) (model.MessageSummary, error) {
	if msg == nil || msg.Id == "" || msg.Payload == nil {
		return model.MessageSummary{}, fmt.Errorf("%w: message without payload", errs.ErrProviderProtocol)
	}

	summary := model.MessageSummary{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
	}

	for _, h := range msg.Payload.Headers {
		if h == nil {
			continue
		}
		switch strings.ToLower(h.Name) {
		case "subject":
			summary.Subject = h.Value
		case "from":
			summary.From = h.Value
		case "date":
			if t, err := mail.ParseDate(h.Value); err == nil {
				summary.Date = t.UTC()
			}
		}
	}
	if summary.Date.IsZero() && msg.InternalDate > 0 {
		summary.Date = time.UnixMilli(msg.InternalDate).UTC()
	}

	summary.Attachments = collectAttachments(msg.Id, msg.Payload)
	return summary, nil
}

// collectAttachments walks the MIME part tree. A part is fetchable when it
// declares a filename and the provider assigned it an attachment handle.
func collectAttachments(messageID string, part *gmailapi.MessagePart) []model.AttachmentRef {
	if part == nil {
		return nil
	}

	var refs []model.AttachmentRef
	if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
		mime := part.MimeType
		if mime == "" {
			mime = "application/octet-stream"
		}
		refs = append(refs, model.AttachmentRef{
			MessageID: messageID,
			PartID:    part.Body.AttachmentId,
			Filename:  part.Filename,
			MimeType:  mime,
			Size:      part.Body.Size,
		})
	}
	for _, child := range part.Parts {
		refs = append(refs, collectAttachments(messageID, child)...)
	}
	return refs
}

// mapListError classifies search-path failures. A 4xx here means the
// request or response violated the provider contract, not that an item
// is unfetchable.
func mapListError(err error) error {
	return mapAPIError(err, errs.ErrProviderProtocol)
}

// mapFetchError classifies attachment-path failures. A non-auth 4xx is a
// permanent per-item failure (e.g. the part no longer exists).
func mapFetchError(err error) error {
	return mapAPIError(err, errs.ErrPermanentFetch)
}

// mapAPIError classifies provider failures onto the engine's taxonomy;
// on4xx is the sentinel for non-auth, non-rate-limit client errors.
func mapAPIError(err error, on4xx error) error {
	if err == nil {
		return nil
	}
	// Errors raised by the token source (e.g. a rejected refresh) surface
	// through the HTTP transport already classified; keep them intact.
	for _, sentinel := range []error{
		errs.ErrReauthRequired, errs.ErrNoCredential, errs.ErrUnauthorized,
		errs.ErrRateLimited, errs.ErrTransientNetwork,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	if apiErr, ok := err.(*googleapi.Error); ok {
		switch {
		case apiErr.Code == http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", errs.ErrUnauthorized, apiErr.Message)
		case apiErr.Code == http.StatusTooManyRequests || isRateLimit(apiErr):
			return fmt.Errorf("%w: %s", errs.ErrRateLimited, apiErr.Message)
		case apiErr.Code >= http.StatusInternalServerError:
			return fmt.Errorf("%w: provider %d: %s", errs.ErrTransientNetwork, apiErr.Code, apiErr.Message)
		case apiErr.Code >= http.StatusBadRequest:
			return fmt.Errorf("%w: provider %d: %s", on4xx, apiErr.Code, apiErr.Message)
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	// Per-call deadline expiry and plain network failures are both transient.
	return fmt.Errorf("%w: %v", errs.ErrTransientNetwork, err)
}

// isRateLimit catches the 403 variants Gmail uses for quota exhaustion.
func isRateLimit(apiErr *googleapi.Error) bool {
	if apiErr.Code != http.StatusForbidden {
		return false
	}
	for _, item := range apiErr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "dailyLimitExceeded":
			return true
		}
	}
	return false
}

