package gmail

import (
	"regexp"
	"strings"
	"time"

	"github.com/samber/lo"
)

// BusinessHours is the working window of the organization
type BusinessHours struct {
	Location  *time.Location
	StartHour int
	EndHour   int
}

// Contains reports whether t falls on a weekday inside [StartHour, EndHour)
func (b BusinessHours) Contains(t time.Time) bool {
	loc := b.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}
	return local.Hour() >= b.StartHour && local.Hour() < b.EndHour
}

// Enrichment classifies one message
type Enrichment struct {
	SenderDomain        string `json:"senderDomain"`
	IsInternal          bool   `json:"isInternal"`
	WithinBusinessHours bool   `json:"withinBusinessHours"`
	IsForwarded         bool   `json:"isForwarded"`
	IsImportant         bool   `json:"isImportant"`
}

var forwardedSubject = regexp.MustCompile(`(?i)^\s*(re:\s*)*(fwd?|fw)\s*:`)

// Enrich classifies msg against the organization's domains and business hours
func Enrich(msg *ParsedMessage, raw *RawMessage, domains []string, hours BusinessHours) Enrichment {
	e := Enrichment{SenderDomain: domainOf(msg.From)}
	e.IsInternal = isInternal(e.SenderDomain, domains)

	received := raw.InternalDate
	if received.IsZero() {
		received = msg.Date
	}
	e.WithinBusinessHours = hours.Contains(received)

	e.IsForwarded = forwardedSubject.MatchString(msg.Subject) ||
		msg.Headers["X-Forwarded-For"] != "" ||
		msg.Headers["X-Forwarded-To"] != "" ||
		msg.Headers["Resent-From"] != ""

	e.IsImportant = lo.Contains(raw.LabelIDs, "IMPORTANT") || lo.Contains(raw.LabelIDs, "STARRED") ||
		strings.EqualFold(msg.Headers["Importance"], "high") ||
		strings.EqualFold(msg.Headers["Priority"], "urgent") ||
		strings.HasPrefix(strings.TrimSpace(msg.Headers["X-Priority"]), "1") ||
		strings.HasPrefix(strings.TrimSpace(msg.Headers["X-Priority"]), "2")

	return e
}

func domainOf(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(address[at+1:])
}

// isInternal matches the sender domain or any of its parents against domains
func isInternal(domain string, domains []string) bool {
	if domain == "" {
		return false
	}
	for _, d := range domains {
		d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "@"))
		if d == "" {
			continue
		}
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return true
		}
	}
	return false
}
