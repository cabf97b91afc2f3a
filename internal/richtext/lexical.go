package richtext

import (
	"errors"
	"fmt"
	"html"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrTooDeep is returned for node trees nested beyond MaxDepth.
	ErrTooDeep = errors.New("rich text nested too deeply")
	// ErrMalformed is returned when a node tree cannot be walked.
	ErrMalformed = errors.New("malformed rich text")
)

// MaxDepth bounds the recursion of ToHTML.
const MaxDepth = 200

// Text format bits.
const (
	FormatBold          = 1 << 0
	FormatItalic        = 1 << 1
	FormatUnderline     = 1 << 2
	FormatStrikethrough = 1 << 3
)

var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

var headingTag = regexp.MustCompile(`^[hH][1-6]$`)

// ToHTML renders a Lexical document ({"root": {"children": [...]}}) to HTML.
// Documents without a root render as "". Unknown node types contribute
// their children only. On failure no partial output is returned.
func ToHTML(doc any) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = "", fmt.Errorf("%w: %v", ErrMalformed, r)
		}
	}()

	root, _ := asMap(doc)["root"].(map[string]any)
	var sb strings.Builder
	if err := renderChildren(&sb, root, 0); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func renderChildren(sb *strings.Builder, node map[string]any, depth int) error {
	if depth > MaxDepth {
		return ErrTooDeep
	}
	children, _ := node["children"].([]any)
	for _, child := range children {
		if err := renderNode(sb, asMap(child), depth+1); err != nil {
			return err
		}
	}
	return nil
}

func renderNode(sb *strings.Builder, node map[string]any, depth int) error {
	nodeType, _ := node["type"].(string)
	switch nodeType {
	case "text":
		sb.WriteString(renderText(node))
		return nil
	case "linebreak":
		sb.WriteString("<br />")
		return nil
	case "link":
		href := html.EscapeString(linkURL(node))
		sb.WriteString(`<a href="` + href + `">`)
		if err := renderChildren(sb, node, depth); err != nil {
			return err
		}
		sb.WriteString("</a>")
		return nil
	case "paragraph":
		return wrap(sb, "p", node, depth)
	case "heading":
		return wrap(sb, headingLevel(node), node, depth)
	case "list":
		tag := "ul"
		if listType, _ := node["listType"].(string); listType == "number" {
			tag = "ol"
		}
		return wrap(sb, tag, node, depth)
	case "listitem":
		return wrap(sb, "li", node, depth)
	case "quote":
		return wrap(sb, "blockquote", node, depth)
	default:
		return renderChildren(sb, node, depth)
	}
}

func wrap(sb *strings.Builder, tag string, node map[string]any, depth int) error {
	sb.WriteString("<" + tag + ">")
	if err := renderChildren(sb, node, depth); err != nil {
		return err
	}
	sb.WriteString("</" + tag + ">")
	return nil
}

func renderText(node map[string]any) string {
	var text string
	switch v := node["text"].(type) {
	case nil:
	case string:
		text = v
	default:
		text = fmt.Sprint(v)
	}
	out := textEscaper.Replace(text)

	format := formatBits(node["format"])
	// innermost first so strong ends up outermost
	if format&FormatStrikethrough != 0 {
		out = "<s>" + out + "</s>"
	}
	if format&FormatUnderline != 0 {
		out = "<u>" + out + "</u>"
	}
	if format&FormatItalic != 0 {
		out = "<em>" + out + "</em>"
	}
	if format&FormatBold != 0 {
		out = "<strong>" + out + "</strong>"
	}
	return out
}

func formatBits(value any) int64 {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

func linkURL(node map[string]any) string {
	if fields, ok := node["fields"].(map[string]any); ok {
		if url, ok := fields["url"]; ok && url != nil {
			return fmt.Sprint(url)
		}
	}
	if url, ok := node["url"]; ok && url != nil {
		return fmt.Sprint(url)
	}
	return "#"
}

// headingLevel reads tag, then level, then size.
func headingLevel(node map[string]any) string {
	var raw any
	for _, key := range []string{"tag", "level", "size"} {
		if value, ok := node[key]; ok && value != nil {
			raw = value
			break
		}
	}
	switch v := raw.(type) {
	case string:
		if headingTag.MatchString(v) {
			return strings.ToLower(v)
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || strings.TrimSpace(v) == "" {
			return "h2"
		}
		return clampHeading(n)
	case float64:
		return clampHeading(v)
	case int:
		return clampHeading(float64(v))
	case int64:
		return clampHeading(float64(v))
	default:
		return "h2"
	}
}

func clampHeading(n float64) string {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return "h2"
	}
	level := math.Min(6, math.Max(1, math.Trunc(n)))
	return "h" + strconv.Itoa(int(level))
}

func asMap(value any) map[string]any {
	m, _ := value.(map[string]any)
	return m
}
