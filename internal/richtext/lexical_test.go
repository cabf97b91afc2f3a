package richtext

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doc(children ...any) map[string]any {
	return map[string]any{"root": map[string]any{"type": "root", "children": children}}
}

func node(nodeType string, fields map[string]any, children ...any) map[string]any {
	out := map[string]any{"type": nodeType}
	for key, value := range fields {
		out[key] = value
	}
	if children != nil {
		out["children"] = children
	}
	return out
}

func text(value string, format float64) map[string]any {
	return map[string]any{"type": "text", "text": value, "format": format}
}

func mustRender(t *testing.T, d any) string {
	t.Helper()
	out, err := ToHTML(d)
	require.NoError(t, err)
	return out
}

func TestTextFormatNesting(t *testing.T) {
	assert.Equal(t, "<strong><em>hi</em></strong>", mustRender(t, doc(text("hi", 3))))
	assert.Equal(t, "<strong><em><u><s>x</s></u></em></strong>", mustRender(t, doc(text("x", 15))))
	assert.Equal(t, "<u>x</u>", mustRender(t, doc(text("x", 4))))
	assert.Equal(t, "plain", mustRender(t, doc(text("plain", 0))))
}

func TestTextIsEscaped(t *testing.T) {
	out := mustRender(t, doc(text(`<script>alert("x") & more</script>`, 0)))
	assert.Equal(t, `&lt;script&gt;alert("x") &amp; more&lt;/script&gt;`, out)
}

func TestUnknownNodesRenderChildrenOnly(t *testing.T) {
	out := mustRender(t, doc(node("script", nil, text("inside", 0)), node("custom-block", nil)))
	assert.Equal(t, "inside", out)
}

func TestParagraphsAndBreaks(t *testing.T) {
	out := mustRender(t, doc(
		node("paragraph", nil),
		node("paragraph", nil, text("a", 0), node("linebreak", nil), text("b", 0)),
	))
	assert.Equal(t, "<p></p><p>a<br />b</p>", out)
}

func TestHeadingLevels(t *testing.T) {
	cases := []struct {
		fields map[string]any
		want   string
	}{
		{fields: map[string]any{"tag": "H3"}, want: "h3"},
		{fields: map[string]any{"tag": "h1", "level": 5.0}, want: "h1"},
		{fields: map[string]any{"level": 9.0}, want: "h6"},
		{fields: map[string]any{"size": 0.0}, want: "h1"},
		{fields: map[string]any{"level": 2.7}, want: "h2"},
		{fields: map[string]any{"level": "4"}, want: "h4"},
		{fields: map[string]any{"tag": "big"}, want: "h2"},
		{fields: map[string]any{"tag": ""}, want: "h2"},
		{fields: map[string]any{"tag": nil, "size": 5.0}, want: "h5"},
		{fields: nil, want: "h2"},
	}
	for _, tc := range cases {
		out := mustRender(t, doc(node("heading", tc.fields, text("T", 0))))
		assert.Equal(t, "<"+tc.want+">T</"+tc.want+">", out, "%v", tc.fields)
	}
}

func TestListsAndQuotes(t *testing.T) {
	out := mustRender(t, doc(
		node("list", map[string]any{"listType": "number"}, node("listitem", nil, text("one", 0))),
		node("list", map[string]any{"listType": "bullet"}, node("listitem", nil, text("two", 0))),
		node("quote", nil, text("said", 2)),
	))
	assert.Equal(t, "<ol><li>one</li></ol><ul><li>two</li></ul><blockquote><em>said</em></blockquote>", out)
}

func TestLinkTargets(t *testing.T) {
	fromFields := node("link", map[string]any{"fields": map[string]any{"url": "https://a.example"}, "url": "https://b.example"}, text("a", 0))
	direct := node("link", map[string]any{"url": "https://b.example/?q=1&x=\"y\""}, text("b", 0))
	missing := node("link", nil, text("c", 0))

	assert.Equal(t, `<a href="https://a.example">a</a>`, mustRender(t, doc(fromFields)))
	assert.Equal(t, `<a href="https://b.example/?q=1&amp;x=&#34;y&#34;">b</a>`, mustRender(t, doc(direct)))
	assert.Equal(t, `<a href="#">c</a>`, mustRender(t, doc(missing)))
}

func TestSiblingOrderPreserved(t *testing.T) {
	var decoded any
	raw := `{"root":{"children":[
		{"type":"heading","tag":"h2","children":[{"type":"text","text":"Title","format":0}]},
		{"type":"paragraph","children":[{"type":"text","text":"one ","format":1},{"type":"text","text":"two","format":0}]}
	]}}`
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	assert.Equal(t, "<h2>Title</h2><p><strong>one </strong>two</p>", mustRender(t, decoded))
}

func TestDocumentsWithoutRoot(t *testing.T) {
	for _, d := range []any{nil, "text", 42.0, map[string]any{}, map[string]any{"root": "x"}, map[string]any{"root": map[string]any{"children": "x"}}} {
		assert.Equal(t, "", mustRender(t, d), "%#v", d)
	}
}

func TestDeepTreesFail(t *testing.T) {
	deepest := text("bottom", 0)
	current := deepest
	for i := 0; i < MaxDepth+10; i++ {
		current = node("quote", nil, current)
	}
	out, err := ToHTML(doc(current))
	assert.ErrorIs(t, err, ErrTooDeep)
	assert.Empty(t, out)
}
