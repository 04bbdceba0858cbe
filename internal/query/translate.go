// Package query translates structured search requests into the Gmail
// search grammar. Translation is pure: no I/O, deterministic output.
package query

import (
	"fmt"
	"strings"

	"github.com/vishnu0414/email-attachment-download/internal/errs"
	"github.com/vishnu0414/email-attachment-download/internal/model"
)

// providerDateFormat is the date layout Gmail's after:/before: operators accept.
const providerDateFormat = "2006/01/02"

// Translate maps a SearchQuery onto the provider grammar. It fails with
// errs.ErrInvalidQuery before any network call when the request cannot
// produce a valid search: an inverted date range, or a query with no
// predicate at all.
func Translate(q model.SearchQuery) (string, error) {
	if !q.After.IsZero() && !q.Before.IsZero() && q.After.After(q.Before) {
		return "", fmt.Errorf("%w: date range start %s is after end %s",
			errs.ErrInvalidQuery, q.After.Format(providerDateFormat), q.Before.Format(providerDateFormat))
	}

	var parts []string

	if q.HasAttachment {
		parts = append(parts, "has:attachment")
	}
	if q.From != "" {
		parts = append(parts, "from:"+quoteTerm(q.From))
	}
	if q.Subject != "" {
		parts = append(parts, "subject:"+quoteTerm(q.Subject))
	}
	if !q.After.IsZero() {
		parts = append(parts, "after:"+q.After.Format(providerDateFormat))
	}
	if !q.Before.IsZero() {
		parts = append(parts, "before:"+q.Before.Format(providerDateFormat))
	}
	if q.LargerThan > 0 {
		parts = append(parts, fmt.Sprintf("larger:%d", q.LargerThan))
	}
	if q.FilenameContains != "" {
		parts = append(parts, "filename:"+quoteTerm(q.FilenameContains))
	}
	if text := strings.TrimSpace(q.Text); text != "" {
		parts = append(parts, quoteTerm(text))
	}

	if len(parts) == 0 {
		return "", fmt.Errorf("%w: no search predicates", errs.ErrInvalidQuery)
	}

	return strings.Join(parts, " "), nil
}

// quoteTerm wraps a term in double quotes when it contains characters the
// provider grammar reserves (operators, grouping, whitespace). Embedded
// quotes are dropped: the grammar has no escape sequence for them.
func quoteTerm(term string) string {
	if !strings.ContainsAny(term, " \t(){}:\"-") {
		return term
	}
	return `"` + strings.ReplaceAll(term, `"`, "") + `"`
}
