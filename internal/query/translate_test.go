package query

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vishnu0414/email-attachment-download/internal/errs"
	"github.com/vishnu0414/email-attachment-download/internal/model"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name string
		in   model.SearchQuery
		want string
	}{
		{
			name: "has attachment only",
			in:   model.SearchQuery{HasAttachment: true},
			want: "has:attachment",
		},
		{
			name: "sender filter",
			in:   model.SearchQuery{HasAttachment: true, From: "alice@example.com"},
			want: "has:attachment from:alice@example.com",
		},
		{
			name: "subject with spaces is quoted",
			in:   model.SearchQuery{HasAttachment: true, Subject: "quarterly report"},
			want: `has:attachment subject:"quarterly report"`,
		},
		{
			name: "date range",
			in: model.SearchQuery{
				HasAttachment: true,
				After:         date(2024, time.January, 1),
				Before:        date(2024, time.June, 30),
			},
			want: "has:attachment after:2024/01/01 before:2024/06/30",
		},
		{
			name: "size and filename filters",
			in:   model.SearchQuery{HasAttachment: true, LargerThan: 5 << 20, FilenameContains: "pdf"},
			want: "has:attachment larger:5242880 filename:pdf",
		},
		{
			name: "free text with reserved characters is quoted",
			in:   model.SearchQuery{HasAttachment: true, Text: "invoice (final)"},
			want: `has:attachment "invoice (final)"`,
		},
		{
			name: "embedded quotes are stripped",
			in:   model.SearchQuery{HasAttachment: true, Text: `say "hello"`},
			want: `has:attachment "say hello"`,
		},
		{
			name: "text only without attachment flag",
			in:   model.SearchQuery{Text: "budget"},
			want: "budget",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Translate(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTranslate_Deterministic(t *testing.T) {
	q := model.SearchQuery{
		HasAttachment: true,
		From:          "bob@example.com",
		Text:          "report",
		After:         date(2024, time.March, 5),
	}
	first, err := Translate(q)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Translate(q)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestTranslate_InvalidDateRange(t *testing.T) {
	_, err := Translate(model.SearchQuery{
		HasAttachment: true,
		After:         date(2024, time.June, 1),
		Before:        date(2024, time.January, 1),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrInvalidQuery))
}

func TestTranslate_EmptyQuery(t *testing.T) {
	_, err := Translate(model.SearchQuery{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrInvalidQuery))

	_, err = Translate(model.SearchQuery{Text: "   "})
	assert.True(t, errors.Is(err, errs.ErrInvalidQuery))
}
