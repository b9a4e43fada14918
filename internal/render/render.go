// Package render turns answer text from the model into the restricted HTML
// the widget displays, and into markdown for terminals.
package render

import (
	"bytes"
	"regexp"
	"strings"

	htmltomd "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	. "github.com/roelfdiedericks/readmore/internal/logging"
)

var md = goldmark.New(
	goldmark.WithExtensions(extension.Strikethrough),
	goldmark.WithRendererOptions(
		gmhtml.WithHardWraps(),
		gmhtml.WithUnsafe(), // raw HTML passes through to the sanitizer
	),
)

// allowed elements; everything else is unwrapped or dropped
var allowed = map[atom.Atom]bool{
	atom.P:      true,
	atom.Ul:     true,
	atom.Ol:     true,
	atom.Li:     true,
	atom.Strong: true,
	atom.Em:     true,
	atom.B:      true,
	atom.I:      true,
	atom.Br:     true,
}

// dropped together with their content
var dropped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Iframe:   true,
	atom.Object:   true,
	atom.Embed:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Head:     true,
	atom.Title:    true,
	atom.Svg:      true,
	atom.Math:     true,
	atom.Textarea: true,
	atom.Select:   true,
}

var headings = map[atom.Atom]bool{
	atom.H1: true, atom.H2: true, atom.H3: true,
	atom.H4: true, atom.H5: true, atom.H6: true,
}

var fenceRe = regexp.MustCompile("(?s)^\\s*```[a-zA-Z]*[ \\t]*\\n?(.*?)(?:\\n?```\\s*)?$")

// StripFence removes a ``` or ```html fence around the whole answer. An
// unterminated opening fence, as seen mid-stream, is removed as well.
func StripFence(s string) string {
	if !strings.HasPrefix(strings.TrimSpace(s), "```") {
		return s
	}
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// Sanitize converts an answer, complete or partial, into HTML containing only
// p, ul, ol, li, strong, em, b, i and br without attributes. Markdown is
// rendered first so answers that ignore the HTML instruction still display.
func Sanitize(answer string) string {
	src := strings.TrimSpace(StripFence(answer))
	if src == "" {
		return ""
	}

	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		L_debug("render: markdown conversion failed, sanitizing raw text", "error", err)
		buf.Reset()
		buf.WriteString(src)
	}

	ctx := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(&buf, ctx)
	if err != nil {
		L_warn("render: html parse failed", "error", err)
		return "<p>" + html.EscapeString(src) + "</p>"
	}

	var out strings.Builder
	for _, n := range nodes {
		writeNode(&out, n)
	}
	return strings.TrimSpace(out.String())
}

func writeNode(out *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		out.WriteString(html.EscapeString(n.Data))
		return
	case html.ElementNode:
	case html.DocumentNode:
		writeChildren(out, n)
		return
	default:
		return
	}

	switch {
	case dropped[n.DataAtom]:
		return
	case n.DataAtom == atom.Br:
		out.WriteString("<br>")
	case allowed[n.DataAtom]:
		out.WriteString("<" + n.DataAtom.String() + ">")
		writeChildren(out, n)
		out.WriteString("</" + n.DataAtom.String() + ">")
	case headings[n.DataAtom]:
		out.WriteString("<p><strong>")
		writeChildren(out, n)
		out.WriteString("</strong></p>")
	default:
		writeChildren(out, n)
	}
}

func writeChildren(out *strings.Builder, n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeNode(out, c)
	}
}

// Markdown converts an answer to markdown for terminal output.
func Markdown(answer string) (string, error) {
	clean := Sanitize(answer)
	if clean == "" {
		return "", nil
	}
	out, err := htmltomd.ConvertString(clean)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
