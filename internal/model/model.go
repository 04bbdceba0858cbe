// Package model defines the domain entities shared across the engine.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Credential is the OAuth2 material held for one user. Owned by the token
// store; mutated only by the refresh exchange.
type Credential struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scopes       []string
}

// ValidFor reports whether the access token is still usable at least
// margin from now.
func (c *Credential) ValidFor(margin time.Duration) bool {
	if c == nil || c.AccessToken == "" {
		return false
	}
	return time.Now().Add(margin).Before(c.Expiry)
}

// SearchQuery is a structured search request. Immutable once constructed;
// translated to the provider grammar exactly once per search.
type SearchQuery struct {
	Text             string
	From             string
	Subject          string
	After            time.Time
	Before           time.Time
	LargerThan       int64 // bytes, 0 means no size filter
	FilenameContains string
	HasAttachment    bool
}

// MessageSummary is one search hit. Read-only downstream of the lister.
type MessageSummary struct {
	ID          string
	ThreadID    string
	Subject     string
	From        string
	Date        time.Time
	Attachments []AttachmentRef
}

// AttachmentRef identifies a single fetchable attachment part.
// PartID is the provider's attachment handle (the only identifier the
// attachment endpoint accepts); it carries no bytes.
type AttachmentRef struct {
	MessageID string
	PartID    string
	Filename  string
	MimeType  string
	Size      int64
}

// FetchResult is the outcome of one fetch attempt. On success Data holds
// the attachment bytes and ContentHash their hex SHA-256.
type FetchResult struct {
	Ref         AttachmentRef
	Data        []byte
	ContentHash string
	Err         error
}

// Outcome classifies one ref inside a batch report.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeDuplicate
	OutcomeFailed
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	}
	return "unknown"
}

// ItemReport records the fate of one requested ref.
type ItemReport struct {
	Ref         AttachmentRef
	Outcome     Outcome
	ContentHash string
	// DuplicateOf names the first ref that produced identical content.
	// Set only when Outcome is OutcomeDuplicate.
	DuplicateOf *AttachmentRef
	Err         error
}

// BatchReport enumerates every requested ref with its outcome. Items keep
// the request order regardless of completion order.
type BatchReport struct {
	BatchID uuid.UUID
	Items   []ItemReport
}

// Count returns the number of items with the given outcome.
func (r *BatchReport) Count(o Outcome) int {
	n := 0
	for i := range r.Items {
		if r.Items[i].Outcome == o {
			n++
		}
	}
	return n
}

// Failures returns the failed items, in request order.
func (r *BatchReport) Failures() []ItemReport {
	var out []ItemReport
	for i := range r.Items {
		if r.Items[i].Outcome == OutcomeFailed {
			out = append(out, r.Items[i])
		}
	}
	return out
}
