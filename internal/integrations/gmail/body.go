package gmail

import (
	"encoding/base64"
	"strings"

	gmailapi "google.golang.org/api/gmail/v1"
	"golang.org/x/net/html"
)

// extractBody prefers text/plain, then text/html rendered to text, then the
// snippet. Quoted history is cut in every case.
func extractBody(p *gmailapi.MessagePart, snippet string) string {
	if text, ok := findPart(p, "text/plain"); ok {
		return cutQuoted(text)
	}
	if markup, ok := findPart(p, "text/html"); ok {
		return cutQuoted(htmlToText(markup))
	}
	return strings.TrimSpace(snippet)
}

func findPart(p *gmailapi.MessagePart, mimeType string) (string, bool) {
	if p == nil {
		return "", false
	}
	if strings.EqualFold(p.MimeType, mimeType) && p.Body != nil && p.Body.Data != "" {
		if text, err := decodeData(p.Body.Data); err == nil {
			return text, true
		}
	}
	for _, child := range p.Parts {
		if text, ok := findPart(child, mimeType); ok {
			return text, true
		}
	}
	return "", false
}

func decodeData(data string) (string, error) {
	b, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		b, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var quoteHeaders = []string{"From:", "Sent:", "To:", "Subject:"}

// cutQuoted keeps the text above the first line that starts quoted history.
func cutQuoted(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if startsQuote(strings.TrimSpace(line)) {
			break
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func startsQuote(line string) bool {
	if strings.HasPrefix(line, ">") || strings.Contains(line, "________") {
		return true
	}
	for _, h := range quoteHeaders {
		if strings.HasPrefix(line, h) {
			return true
		}
	}
	return strings.HasPrefix(line, "On ") && strings.HasSuffix(line, "wrote:")
}

var blockTags = map[string]bool{
	"br": true, "p": true, "div": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "blockquote": true,
}

// htmlToText renders markup as plain text, one line per block element.
func htmlToText(markup string) string {
	z := html.NewTokenizer(strings.NewReader(markup))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return collapseBlankLines(b.String())
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
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
