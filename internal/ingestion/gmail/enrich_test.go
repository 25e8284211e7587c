package gmail

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBusinessHours_Contains(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	hours := BusinessHours{Location: ny, StartHour: 9, EndHour: 17}

	// Monday 14:30 UTC is 10:30 in New York
	assert.True(t, hours.Contains(time.Date(2024, 3, 11, 14, 30, 0, 0, time.UTC)))
	// Monday 22:00 UTC is 18:00 in New York
	assert.False(t, hours.Contains(time.Date(2024, 3, 11, 22, 0, 0, 0, time.UTC)))
	// Saturday
	assert.False(t, hours.Contains(time.Date(2024, 3, 9, 15, 0, 0, 0, time.UTC)))
}

func TestEnrich(t *testing.T) {
	hours := BusinessHours{StartHour: 9, EndHour: 17}
	monday := time.Date(2024, 3, 11, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		msg  ParsedMessage
		raw  RawMessage
		want Enrichment
	}{
		{
			name: "internal subdomain during hours",
			msg:  ParsedMessage{From: "bob@eu.acme.com", Subject: "lunch"},
			raw:  RawMessage{InternalDate: monday},
			want: Enrichment{SenderDomain: "eu.acme.com", IsInternal: true, WithinBusinessHours: true},
		},
		{
			name: "external forwarded by subject",
			msg:  ParsedMessage{From: "jane@partner.io", Subject: "Re: Fwd: contract"},
			raw:  RawMessage{InternalDate: monday.Add(10 * time.Hour)},
			want: Enrichment{SenderDomain: "partner.io", IsForwarded: true},
		},
		{
			name: "forwarded by header",
			msg:  ParsedMessage{From: "jane@partner.io", Headers: map[string]string{"X-Forwarded-To": "ops@acme.com"}},
			raw:  RawMessage{InternalDate: monday},
			want: Enrichment{SenderDomain: "partner.io", IsForwarded: true, WithinBusinessHours: true},
		},
		{
			name: "important by label",
			msg:  ParsedMessage{From: "jane@partner.io"},
			raw:  RawMessage{InternalDate: monday, LabelIDs: []string{"INBOX", "IMPORTANT"}},
			want: Enrichment{SenderDomain: "partner.io", IsImportant: true, WithinBusinessHours: true},
		},
		{
			name: "important by header",
			msg:  ParsedMessage{From: "jane@partner.io", Headers: map[string]string{"Importance": "High"}},
			raw:  RawMessage{InternalDate: monday},
			want: Enrichment{SenderDomain: "partner.io", IsImportant: true, WithinBusinessHours: true},
		},
		{
			name: "date header used without internal date",
			msg:  ParsedMessage{From: "jane@notacme.com", Date: monday},
			want: Enrichment{SenderDomain: "notacme.com", WithinBusinessHours: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := tt.raw
			got := Enrich(&tt.msg, &raw, []string{"acme.com"}, hours)
			assert.Equal(t, tt.want, got)
		})
	}
}
