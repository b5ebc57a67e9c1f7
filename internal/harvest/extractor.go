package harvest

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/altafino/fetch-attach/internal/mailstore"
)

// DefaultURLPrefix is the link prefix matched when no pattern is configured
const DefaultURLPrefix = "https://usosapps"

// TargetKind tells attachments from links
type TargetKind int

const (
	TargetAttachment TargetKind = iota
	TargetLink
)

func (k TargetKind) String() string {
	if k == TargetLink {
		return "link"
	}
	return "attachment"
}

// Target is one file to harvest from a message: an attachment whose payload
// is embedded (Data) or referenced (AttachmentID), or a link (URL).
type Target struct {
	Kind         TargetKind
	MessageID    string
	Filename     string
	Data         string
	AttachmentID string
	URL          string
}

// LinkPattern builds the link pattern. A non-empty override must have
// exactly two capture groups (URL, file name); otherwise the pattern matches
// `"<prefix>...">NAME<`.
func LinkPattern(prefix, override string) (*regexp.Regexp, error) {
	if override != "" {
		re, err := regexp.Compile(override)
		if err != nil {
			return nil, fmt.Errorf("invalid link pattern: %w", err)
		}
		if re.NumSubexp() != 2 {
			return nil, fmt.Errorf("link pattern must have 2 capture groups, has %d", re.NumSubexp())
		}
		return re, nil
	}
	if prefix == "" {
		prefix = DefaultURLPrefix
	}
	return regexp.Compile(`"(` + regexp.QuoteMeta(prefix) + `.*?)">(.*?)<`)
}

// Extractor splits a message into attachment and link targets
type Extractor struct {
	pattern *regexp.Regexp
}

// NewExtractor creates an extractor matching links with pattern
func NewExtractor(pattern *regexp.Regexp) *Extractor {
	return &Extractor{pattern: pattern}
}

// Extract returns the message's attachments and the links found in its
// decoded text, both in message order. Nested parts are flattened one level.
func (e *Extractor) Extract(msg *mailstore.Message) (attachments, links []Target) {
	var text strings.Builder

	visit := func(p mailstore.Part) {
		if p.Filename != "" {
			attachments = append(attachments, Target{
				Kind:         TargetAttachment,
				MessageID:    msg.ID,
				Filename:     p.Filename,
				Data:         p.Data,
				AttachmentID: p.AttachmentID,
			})
			return
		}
		if body, ok := decodeText(p.Data); ok {
			text.WriteString(body)
		}
	}

	for _, p := range msg.Parts {
		if len(p.Parts) == 0 {
			visit(p)
			continue
		}
		for _, child := range p.Parts {
			visit(child)
		}
	}

	for _, m := range e.pattern.FindAllStringSubmatch(text.String(), -1) {
		links = append(links, Target{
			Kind:      TargetLink,
			MessageID: msg.ID,
			URL:       m[1],
			Filename:  m[2],
		})
	}

	return attachments, links
}

func decodeText(data string) (string, bool) {
	if data == "" {
		return "", false
	}
	b, err := mailstore.DecodeData(data)
	if err != nil || !utf8.Valid(b) {
		return "", false
	}
	return string(b), true
}
