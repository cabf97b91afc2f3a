package richtext

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizerKeepsAllowedMarkup(t *testing.T) {
	s := NewSanitizer()
	in := `<h2 id="top">T</h2><p class="lead">a <strong>b</strong> <a href="https://x.example" title="t" rel="noopener" target="_blank">c</a></p><figure><img src="/m/kid.png" alt="kid" loading="lazy"><figcaption>cap</figcaption></figure>`
	out := s.Sanitize(in)
	for _, want := range []string{`<h2 id="top">T</h2>`, `<p class="lead">`, `<strong>b</strong>`, `href="https://x.example"`, `target="_blank"`, `<figcaption>cap</figcaption>`, `src="/m/kid.png"`, `loading="lazy"`} {
		assert.Contains(t, out, want)
	}
}

func TestSanitizerUnwrapsDisallowedTags(t *testing.T) {
	s := NewSanitizer()
	out := s.Sanitize(`<div onclick="steal()"><p style="color:red" aria-label="note">kept <script>alert(1)</script><iframe src="https://evil.example">frame text</iframe></p></div>`)
	assert.NotContains(t, out, "<div")
	assert.NotContains(t, out, "<script")
	assert.NotContains(t, out, "<iframe")
	assert.NotContains(t, out, "onclick")
	assert.NotContains(t, out, "style=")
	assert.Contains(t, out, `<p aria-label="note">kept alert(1)`)
}

func TestSanitizerScriptTextRetained(t *testing.T) {
	out := NewSanitizer().Sanitize(`<script>var a = 1 < 2;</script>`)
	assert.NotContains(t, out, "<script")
	assert.Contains(t, out, "var a = 1 &lt; 2;")
}

func TestSanitizerIsAttributeAllowListOnly(t *testing.T) {
	markup, err := ToHTML(doc(node("paragraph", nil, node("link", map[string]any{"url": "javascript:alert(1)"}, text("click", 0)))))
	assert.NoError(t, err)

	out := NewSanitizer().Sanitize(markup)
	assert.Contains(t, out, `href="javascript:alert(1)"`)
}

func TestSanitizerWithURLSchemes(t *testing.T) {
	s := NewSanitizer(WithURLSchemes("HTTP", "https", " mailto "))
	out := s.Sanitize(`<p><a href="javascript:alert(1)">bad</a> <a href="https://ok.example/">good</a> <a href="/updates/x">rel</a> <a href="mailto:a@b.c">mail</a><img src="data:image/png;base64,AAAA" alt="d"></p>`)
	assert.NotContains(t, out, "javascript")
	assert.NotContains(t, out, "data:image")
	assert.Contains(t, out, "bad")
	assert.Contains(t, out, `href="https://ok.example/"`)
	assert.Contains(t, out, `href="/updates/x"`)
	assert.Contains(t, out, `href="mailto:a@b.c"`)
}

func TestSanitizeEmpty(t *testing.T) {
	assert.Equal(t, "", NewSanitizer().Sanitize(""))
}

func TestPlainText(t *testing.T) {
	assert.Equal(t, "Title Hello world & more one two", PlainText("<h2>Title</h2><p>Hello <strong>world</strong> &amp; more</p><ul><li>one</li><li>two</li></ul>"))
	assert.Equal(t, "", PlainText(""))
}
