package mailstore

import (
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/jhillyerd/enmime"
)

// ParseMIME reads a raw RFC 5322 message and converts it to a Message for
// providers that only deliver raw MIME (IMAP, POP3).
func ParseMIME(id string, r io.Reader) (*Message, error) {
	env, err := enmime.ReadEnvelope(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	msg := &Message{
		ID:      id,
		From:    env.GetHeader("From"),
		Subject: env.GetHeader("Subject"),
	}

	if env.Text != "" {
		msg.Parts = append(msg.Parts, Part{MimeType: "text/plain", Data: EncodeData([]byte(env.Text))})
	}
	if env.HTML != "" {
		msg.Parts = append(msg.Parts, Part{MimeType: "text/html", Data: EncodeData([]byte(env.HTML))})
	}

	files := append(append([]*enmime.Part{}, env.Attachments...), env.Inlines...)
	for _, p := range files {
		name := strings.TrimSpace(p.FileName)
		if name == "" {
			continue
		}
		msg.Parts = append(msg.Parts, Part{
			Filename: name,
			MimeType: p.ContentType,
			Data:     EncodeData(p.Content),
		})
	}

	return msg, nil
}

// EncodeData encodes a body the way Part.Data expects it.
func EncodeData(b []byte) string {
	return base64.URLEncoding.EncodeToString(b)
}

// DecodeData decodes Part.Data, accepting both padded and unpadded input.
func DecodeData(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
