package harvest

import (
	"regexp"
	"testing"

	"github.com/altafino/fetch-attach/internal/mailstore"
)

func defaultExtractor(t *testing.T) *Extractor {
	t.Helper()
	re, err := LinkPattern("", "")
	if err != nil {
		t.Fatalf("LinkPattern: %v", err)
	}
	return NewExtractor(re)
}

func textPart(s string) mailstore.Part {
	return mailstore.Part{MimeType: "text/html", Data: mailstore.EncodeData([]byte(s))}
}

func TestExtractLink(t *testing.T) {
	e := defaultExtractor(t)
	msg := &mailstore.Message{
		ID:    "m1",
		Parts: []mailstore.Part{textPart(`<p>Plik: <a href="https://usosapps.example.org/f1">report.pdf</a></p>`)},
	}

	attachments, links := e.Extract(msg)
	if len(attachments) != 0 {
		t.Errorf("got %d attachments, want 0", len(attachments))
	}
	if len(links) != 1 {
		t.Fatalf("got %d links, want 1", len(links))
	}
	if links[0].URL != "https://usosapps.example.org/f1" {
		t.Errorf("URL = %q", links[0].URL)
	}
	if links[0].Filename != "report.pdf" {
		t.Errorf("Filename = %q", links[0].Filename)
	}
	if links[0].Kind != TargetLink || links[0].MessageID != "m1" {
		t.Errorf("link = %+v", links[0])
	}
}

func TestExtractNothing(t *testing.T) {
	e := defaultExtractor(t)
	msg := &mailstore.Message{
		ID:    "m1",
		Parts: []mailstore.Part{textPart(`<a href="https://example.com/f1">report.pdf</a>`)},
	}

	attachments, links := e.Extract(msg)
	if len(attachments) != 0 || len(links) != 0 {
		t.Fatalf("Extract = %v, %v; want nothing", attachments, links)
	}

	var o Outcome
	if got := o.Final().Kind; got != OutcomeNoAttachment {
		t.Errorf("outcome = %s, want no_attachment", got)
	}
}

func TestExtractParts(t *testing.T) {
	e := defaultExtractor(t)
	msg := &mailstore.Message{
		ID: "m1",
		Parts: []mailstore.Part{
			{
				MimeType: "multipart/alternative",
				Parts: []mailstore.Part{
					textPart(`first "https://usosapps.example.org/a">a.pdf<`),
					textPart(` and "https://usosapps.example.org/b">b.zip< `),
					{
						// Nested deeper than one level: not visited
						MimeType: "multipart/related",
						Parts:    []mailstore.Part{textPart(`"https://usosapps.example.org/c">c.pdf<`)},
					},
				},
			},
			{Filename: "grade.pdf", Data: mailstore.EncodeData([]byte("%PDF-1.4"))},
			{Filename: "big.zip", AttachmentID: "att-1"},
			// No filename and not text
			{MimeType: "application/octet-stream", Data: mailstore.EncodeData([]byte{0xff, 0xfe, 0xfd})},
			// No filename and no body
			{MimeType: "text/plain"},
		},
	}

	attachments, links := e.Extract(msg)

	if len(attachments) != 2 {
		t.Fatalf("got %d attachments, want 2", len(attachments))
	}
	if attachments[0].Filename != "grade.pdf" || attachments[0].Data == "" {
		t.Errorf("attachment[0] = %+v", attachments[0])
	}
	if attachments[1].Filename != "big.zip" || attachments[1].AttachmentID != "att-1" {
		t.Errorf("attachment[1] = %+v", attachments[1])
	}

	want := []struct{ url, name string }{
		{"https://usosapps.example.org/a", "a.pdf"},
		{"https://usosapps.example.org/b", "b.zip"},
	}
	if len(links) != len(want) {
		t.Fatalf("got %d links, want %d: %+v", len(links), len(want), links)
	}
	for i, w := range want {
		if links[i].URL != w.url || links[i].Filename != w.name {
			t.Errorf("link[%d] = %s %s, want %s %s", i, links[i].URL, links[i].Filename, w.url, w.name)
		}
	}
}

func TestExtractNamedTextPart(t *testing.T) {
	e := defaultExtractor(t)
	named := textPart(`"https://usosapps.example.org/n">n.pdf<`)
	named.Filename = "notice.html"
	msg := &mailstore.Message{ID: "m1", Parts: []mailstore.Part{named}}

	attachments, links := e.Extract(msg)

	if len(attachments) != 1 || attachments[0].Filename != "notice.html" {
		t.Fatalf("attachments = %+v, want notice.html", attachments)
	}
	if len(links) != 0 {
		t.Fatalf("links = %+v, want none from a named part", links)
	}
}

func TestExtractUnpaddedData(t *testing.T) {
	e := defaultExtractor(t)
	// Gmail delivers unpadded base64url
	data := "Imh0dHBzOi8vdXNvc2FwcHMueC9hIj5hLnBkZjw"
	msg := &mailstore.Message{ID: "m1", Parts: []mailstore.Part{{MimeType: "text/plain", Data: data}}}

	_, links := e.Extract(msg)
	if len(links) != 1 || links[0].URL != "https://usosapps.x/a" || links[0].Filename != "a.pdf" {
		t.Fatalf("links = %+v", links)
	}
}

func TestLinkPattern(t *testing.T) {
	tests := []struct {
		name     string
		prefix   string
		override string
		input    string
		want     int
		wantErr  bool
	}{
		{"default prefix", "", "", `"https://usosapps.a/1">x.pdf<`, 1, false},
		{"custom prefix", "https://files.example.org", "", `"https://files.example.org/1">x.pdf< "https://usosapps.a/2">y<`, 1, false},
		{"prefix is literal", "https://a.b", "", `"https://aXb/1">x<`, 0, false},
		{"override", "", `href='(https://[^']+)'>([^<]+)<`, `href='https://x/1'>one.pdf<`, 1, false},
		{"override needs two groups", "", `"(https://.*?)"`, "", 0, true},
		{"override must compile", "", `(`, "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			re, err := LinkPattern(tt.prefix, tt.override)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got := len(re.FindAllStringSubmatch(tt.input, -1)); got != tt.want {
				t.Errorf("matches = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestExtractCustomPattern(t *testing.T) {
	e := NewExtractor(regexp.MustCompile(`"(https://cdn\.example\.org/.*?)">(.*?)<`))
	msg := &mailstore.Message{ID: "m1", Parts: []mailstore.Part{textPart(`"https://cdn.example.org/x">x.zip<`)}}
	if _, links := e.Extract(msg); len(links) != 1 || links[0].Filename != "x.zip" {
		t.Fatalf("links = %+v", links)
	}
}
