package webhooks

import (
	"bytes"
	"crypto/subtle"
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/net/html"

	"github.com/tbourn/unified-inbox/internal/domain"
)

// HeaderWebhookSecret carries the shared secret for the email webhook.
const HeaderWebhookSecret = "X-Webhook-Secret"

//go:embed email.schema.json
var emailSchemaJSON string

var (
	emailSchemaOnce sync.Once
	emailSchema     *jsonschema.Schema
	emailSchemaErr  error
)

func compiledEmailSchema() (*jsonschema.Schema, error) {
	emailSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(emailSchemaJSON))
		if err != nil {
			emailSchemaErr = err
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("email.schema.json", doc); err != nil {
			emailSchemaErr = err
			return
		}
		emailSchema, emailSchemaErr = c.Compile("email.schema.json")
	})
	return emailSchema, emailSchemaErr
}

// EmailInbound is an inbound email as forwarded by the mail provider.
type EmailInbound struct {
	FromName    string // display name, or the address when none was given
	FromAddress string // lowercased
	To          []string
	Subject     string
	Text        string
	HTML        string
	MessageID   string
}

// Content is the message body stored in the ledger: plain text, else the
// text of the HTML part, else the subject.
func (e *EmailInbound) Content() string {
	if strings.TrimSpace(e.Text) != "" {
		return e.Text
	}
	if t := HTMLToText(e.HTML); t != "" {
		return t
	}
	return e.Subject
}

type emailPayload struct {
	From      string          `json:"from"`
	To        json.RawMessage `json:"to"`
	Subject   string          `json:"subject"`
	Text      string          `json:"text"`
	HTML      string          `json:"html"`
	MessageID string          `json:"messageId"`
}

// ParseEmailInbound validates body against the inbound email schema and
// extracts the sender.
func ParseEmailInbound(body []byte) (*EmailInbound, error) {
	sch, err := compiledEmailSchema()
	if err != nil {
		return nil, fmt.Errorf("compile email schema: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := sch.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	var p emailPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	name, addr, err := ParseAddress(p.From)
	if err != nil {
		return nil, err
	}

	return &EmailInbound{
		FromName:    name,
		FromAddress: addr,
		To:          parseRecipients(p.To),
		Subject:     strings.TrimSpace(p.Subject),
		Text:        p.Text,
		HTML:        p.HTML,
		MessageID:   strings.TrimSpace(p.MessageID),
	}, nil
}

var (
	angleAddr   = regexp.MustCompile(`<(.+)>`)
	displayName = regexp.MustCompile(`^(.+?)\s*<`)
)

// ParseAddress splits `"Display Name" <addr>` or a bare address. The name
// falls back to the address when absent.
func ParseAddress(from string) (name, addr string, err error) {
	from = strings.TrimSpace(from)
	raw := from
	if m := angleAddr.FindStringSubmatch(from); m != nil {
		raw = m[1]
	}
	addr, ok := domain.NormalizeEmail(raw)
	if !ok {
		return "", "", fmt.Errorf("%w: sender %q is not an email address", ErrInvalidPayload, from)
	}
	if m := displayName.FindStringSubmatch(from); m != nil {
		name = strings.Trim(strings.TrimSpace(m[1]), `"'`)
	}
	if name == "" {
		name = addr
	}
	return name, addr, nil
}

func parseRecipients(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var one string
	if json.Unmarshal(raw, &one) == nil {
		if one = strings.TrimSpace(one); one != "" {
			return []string{one}
		}
		return nil
	}
	var many []string
	_ = json.Unmarshal(raw, &many)
	return many
}

// VerifySecret compares the configured shared secret with the header value
// in constant time. An empty configured secret disables the check.
func VerifySecret(expected, got string) error {
	if expected == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(got)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

var blockTags = map[string]bool{
	"p": true, "br": true, "div": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true, "table": true, "ul": true, "ol": true,
}

// HTMLToText extracts readable text from an HTML fragment: scripts and
// styles are dropped, block elements become line breaks, runs of spaces
// collapse.
func HTMLToText(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return tidyLines(b.String())
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				skip++
			}
			if blockTags[tag] {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if (tag == "script" || tag == "style") && skip > 0 {
				skip--
			}
			if blockTags[tag] {
				b.WriteByte('\n')
			}
		}
	}
}

func tidyLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
