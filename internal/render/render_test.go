package render

import (
	"strings"
	"testing"
)

func TestStripFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"html fence", "```html\n<p>hi</p>\n```", "<p>hi</p>"},
		{"bare fence", "```\n<p>hi</p>\n```", "<p>hi</p>"},
		{"unterminated", "```html\n<p>hi", "<p>hi"},
		{"opening only", "```html", ""},
		{"no fence", "<p>hi</p>", "<p>hi</p>"},
		{"fence mid text kept", "<p>use ```code```</p>", "<p>use ```code```</p>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripFence(tt.in); got != tt.want {
				t.Errorf("StripFence(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"allowed html", "<p>Bees <strong>dance</strong>.</p>", "<p>Bees <strong>dance</strong>.</p>"},
		{"attributes removed", `<p class="x" onclick="steal()">hi</p>`, "<p>hi</p>"},
		{"script dropped", "<p>hi</p><script>alert(1)</script>", "<p>hi</p>"},
		{"style dropped", "<style>p{color:red}</style><p>hi</p>", "<p>hi</p>"},
		{"link unwrapped", `<p><a href="javascript:alert(1)">click</a></p>`, "<p>click</p>"},
		{"fenced", "```html\n<ul><li>one</li><li>two</li></ul>\n```", "<ul><li>one</li><li>two</li></ul>"},
		{"markdown emphasis", "**Bees** dance", "<p><strong>Bees</strong> dance</p>"},
		{"markdown heading", "# Pollination", "<p><strong>Pollination</strong></p>"},
		{"partial tag closed", "<p>Bees <strong>dan", "<p>Bees <strong>dan</strong></p>"},
		{"text escaped", "<p>1 &lt; 2</p>", "<p>1 &lt; 2</p>"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.in); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeHardWraps(t *testing.T) {
	got := Sanitize("first line\nsecond line")
	if !strings.Contains(got, "<br>") {
		t.Errorf("newline should become <br>: %q", got)
	}
}

func TestSanitizeOnlyAllowedTags(t *testing.T) {
	in := `<div><h2>Title</h2><table><tr><td>cell</td></tr></table><img src=x onerror=alert(1)><ol><li><em>a</em></li></ol></div>`
	got := Sanitize(in)
	for _, bad := range []string{"<div", "<table", "<td", "<img", "<h2", "onerror", "src="} {
		if strings.Contains(got, bad) {
			t.Errorf("output contains %q: %s", bad, got)
		}
	}
	for _, want := range []string{"Title", "cell", "<ol><li><em>a</em></li></ol>"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q: %s", want, got)
		}
	}
}

func TestMarkdown(t *testing.T) {
	got, err := Markdown("<p>Bees <strong>dance</strong>.</p><ul><li>waggle</li></ul>")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "**dance**") || !strings.Contains(got, "waggle") {
		t.Errorf("markdown = %q", got)
	}
	if strings.Contains(got, "<") {
		t.Errorf("markdown still has tags: %q", got)
	}
}
