package gmail

import (
	"bytes"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	strip "github.com/grokify/html-strip-tags-go"
)

const (
	snippetRunes = 280
	maxBodyBytes = 1 << 20
)

// ParsedMessage is the content extracted from one RFC 822 message
type ParsedMessage struct {
	MessageID string
	From      string
	FromName  string
	To        []string
	Cc        []string
	Subject   string
	Date      time.Time
	Snippet   string
	Headers   map[string]string
}

// interestingHeaders are kept for enrichment
var interestingHeaders = []string{
	"Importance", "Priority", "X-Priority", "X-Forwarded-For", "X-Forwarded-To",
	"Resent-From", "Auto-Submitted", "List-Id",
}

// ParseMessage reads headers and a plain-text snippet from raw. Messages in
// unknown charsets are still parsed on a best-effort basis.
func ParseMessage(raw []byte) (*ParsedMessage, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, err
	}
	defer mr.Close()

	p := &ParsedMessage{Headers: make(map[string]string)}

	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		p.From = strings.ToLower(from[0].Address)
		p.FromName = from[0].Name
	}
	p.To = addresses(mr.Header, "To")
	p.Cc = addresses(mr.Header, "Cc")
	p.Subject, _ = mr.Header.Subject()
	p.MessageID, _ = mr.Header.MessageID()
	if date, err := mr.Header.Date(); err == nil {
		p.Date = date.UTC()
	}
	for _, key := range interestingHeaders {
		if v := mr.Header.Get(key); v != "" {
			p.Headers[key] = v
		}
	}

	var plain, html string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			// a broken part still leaves the headers usable
			break
		}

		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := inline.ContentType()
		body, _ := io.ReadAll(io.LimitReader(part.Body, maxBodyBytes))

		switch {
		case contentType == "text/plain" && plain == "":
			plain = string(body)
		case contentType == "text/html" && html == "":
			html = string(body)
		}
	}

	text := plain
	if text == "" && html != "" {
		text = strip.StripTags(html)
	}
	p.Snippet = snippet(text)

	return p, nil
}

func addresses(h mail.Header, key string) []string {
	list, err := h.AddressList(key)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, strings.ToLower(a.Address))
	}
	return out
}

func snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= snippetRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:snippetRunes]) + "…"
}
