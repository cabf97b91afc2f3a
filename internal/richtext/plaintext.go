package richtext

import (
	"strings"

	"golang.org/x/net/html"
)

var blockElements = map[string]bool{
	"p": true, "br": true, "li": true, "blockquote": true, "pre": true, "hr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"ul": true, "ol": true, "figure": true, "figcaption": true,
}

// PlainText extracts readable text from an HTML fragment, one space
// between words and blocks.
func PlainText(markup string) string {
	if markup == "" {
		return ""
	}
	var sb strings.Builder
	tokenizer := html.NewTokenizer(strings.NewReader(markup))
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(sb.String()), " ")
		case html.TextToken:
			sb.Write(tokenizer.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := tokenizer.TagName()
			if blockElements[string(name)] {
				sb.WriteByte(' ')
			}
		}
	}
}
