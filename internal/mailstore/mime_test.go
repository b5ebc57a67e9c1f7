package mailstore

import (
	"errors"
	"strings"
	"testing"
)

const rawMessage = "From: USOS <usos@example.edu>\r\n" +
	"Subject: Grades\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<a href=\"https://usosapps.example.org/f\">report.pdf</a>\r\n" +
	"--b1\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=\"grade.pdf\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"JVBERi0xLjQ=\r\n" +
	"--b1--\r\n"

func TestParseMIME(t *testing.T) {
	msg, err := ParseMIME("42", strings.NewReader(rawMessage))
	if err != nil {
		t.Fatalf("ParseMIME: %v", err)
	}
	if msg.ID != "42" || msg.Subject != "Grades" || !strings.Contains(msg.From, "usos@example.edu") {
		t.Errorf("header fields = %+v", msg)
	}

	var html, pdf *Part
	for i := range msg.Parts {
		switch {
		case msg.Parts[i].Filename == "grade.pdf":
			pdf = &msg.Parts[i]
		case msg.Parts[i].MimeType == "text/html":
			html = &msg.Parts[i]
		}
	}
	if html == nil || pdf == nil {
		t.Fatalf("parts = %+v", msg.Parts)
	}

	body, err := DecodeData(html.Data)
	if err != nil || !strings.Contains(string(body), `"https://usosapps.example.org/f">report.pdf<`) {
		t.Errorf("html body = %q, %v", body, err)
	}
	content, err := DecodeData(pdf.Data)
	if err != nil || string(content) != "%PDF-1.4" {
		t.Errorf("attachment = %q, %v", content, err)
	}
}

func TestDecodeData(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{EncodeData([]byte("a?b>")), "a?b>", false},
		{"YT9iPg", "a?b>", false}, // unpadded
		{"YT9iPg==", "a?b>", false},
		{"", "", false},
		{"!!", "", true},
	}
	for _, tt := range tests {
		got, err := DecodeData(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("DecodeData(%q) error = %v", tt.in, err)
			continue
		}
		if string(got) != tt.want {
			t.Errorf("DecodeData(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWrap(t *testing.T) {
	if Wrap("gmail", "op", nil) != nil {
		t.Error("Wrap(nil) != nil")
	}
	base := errors.New("boom")
	err := Wrap("imap", "fetch", base)
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Op != "fetch" || !errors.Is(err, base) {
		t.Errorf("Wrap = %v", err)
	}
	if again := Wrap("imap", "other", err); again != err {
		t.Error("Wrap re-wrapped a ProviderError")
	}
}
