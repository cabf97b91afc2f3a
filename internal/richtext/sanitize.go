package richtext

import (
	"bytes"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// AllowedTags and AllowedAttrs are the only markup that reaches readers.
var (
	AllowedTags = []string{
		"a", "abbr", "b", "blockquote", "br", "code", "del", "em", "i", "img",
		"ins", "kbd", "li", "mark", "ol", "p", "pre", "s", "small", "span",
		"strong", "sub", "sup", "u", "ul", "h1", "h2", "h3", "h4", "h5", "h6",
		"figure", "figcaption", "hr",
	}
	AllowedAttrs = []string{
		"href", "title", "target", "rel", "src", "alt", "width", "height",
		"loading", "decoding", "class", "id", "aria-label", "role",
	}
)

// bluemonday drops the content of these elements unless told otherwise.
var contentElements = []string{
	"script", "style", "noscript", "title", "iframe", "object",
	"noembed", "noframes", "frameset", "nostyle",
}

type sanitizerConfig struct {
	schemes []string
}

type SanitizerOption func(*sanitizerConfig)

// WithURLSchemes restricts href and src values to the given schemes.
// Relative URLs stay allowed.
func WithURLSchemes(schemes ...string) SanitizerOption {
	return func(c *sanitizerConfig) {
		for _, scheme := range schemes {
			if scheme = strings.ToLower(strings.TrimSpace(scheme)); scheme != "" {
				c.schemes = append(c.schemes, scheme)
			}
		}
	}
}

// Sanitizer strips every tag and attribute outside the allow-list. Stripped
// tags are unwrapped so their text survives.
type Sanitizer struct {
	policy *bluemonday.Policy
}

// NewSanitizer builds the policy. Without WithURLSchemes attribute values are
// not inspected, so an allowed href keeps whatever scheme it carries.
func NewSanitizer(opts ...SanitizerOption) *Sanitizer {
	var cfg sanitizerConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	policy := bluemonday.NewPolicy()
	policy.AllowElements(AllowedTags...)
	policy.AllowAttrs(AllowedAttrs...).Globally()
	policy.AllowElementsContent(contentElements...)
	if len(cfg.schemes) > 0 {
		policy.RequireParseableURLs(true)
		policy.AllowRelativeURLs(true)
		policy.AllowURLSchemes(cfg.schemes...)
	}
	return &Sanitizer{policy: policy}
}

func (s *Sanitizer) Sanitize(markup string) string {
	if markup == "" {
		return ""
	}
	return s.policy.Sanitize(unwrapRawText(markup))
}

// unwrapRawText replaces script and style elements with their text.
// bluemonday never emits the body of those elements, even when their
// content is allowed.
func unwrapRawText(markup string) string {
	lower := strings.ToLower(markup)
	if !strings.Contains(lower, "<script") && !strings.Contains(lower, "<style") {
		return markup
	}
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(markup), body)
	if err != nil {
		return markup
	}

	var buf bytes.Buffer
	for _, node := range nodes {
		if node.Type == html.ElementNode && isRawText(node) {
			node = &html.Node{Type: html.TextNode, Data: textContent(node)}
		} else {
			unwrapRawTextNodes(node)
		}
		if err := html.Render(&buf, node); err != nil {
			return markup
		}
	}
	return buf.String()
}

func unwrapRawTextNodes(n *html.Node) {
	for child := n.FirstChild; child != nil; {
		next := child.NextSibling
		if child.Type == html.ElementNode && isRawText(child) {
			n.InsertBefore(&html.Node{Type: html.TextNode, Data: textContent(child)}, child)
			n.RemoveChild(child)
		} else {
			unwrapRawTextNodes(child)
		}
		child = next
	}
}

func isRawText(n *html.Node) bool {
	return n.DataAtom == atom.Script || n.DataAtom == atom.Style
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return sb.String()
}
