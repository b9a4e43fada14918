// Package extract reads a host page and pulls out the article text the
// widget works from, checking that the elements it needs are present.
package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	htmltomd "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-shiori/go-readability"

	"github.com/roelfdiedericks/readmore/internal/llm"
	. "github.com/roelfdiedericks/readmore/internal/logging"
)

const (
	DefaultContentSelector = "#page-wrapper"
	DefaultMountSelector   = "#root"

	FormatText     = "text"
	FormatMarkdown = "markdown"

	// MaxSourceBytes caps how much of a page is read.
	MaxSourceBytes = 5 << 20
	fetchTimeout   = 30 * time.Second
)

// Options selects the page elements.
type Options struct {
	// ContentSelector finds the article element. Empty lets readability
	// pick the main content.
	ContentSelector string
	// MountSelector finds the element the widget mounts into. Empty skips the check.
	MountSelector string
	// Format is FormatText or FormatMarkdown.
	Format string
	// BaseURL resolves relative links for readability.
	BaseURL string
}

// DefaultOptions returns the standard page contract.
func DefaultOptions() Options {
	return Options{
		ContentSelector: DefaultContentSelector,
		MountSelector:   DefaultMountSelector,
		Format:          FormatText,
	}
}

// Page is what the widget needs from the host page.
type Page struct {
	Title   string
	Article string
	Mount   bool
}

// Load reads a page from a file path, "-" for stdin, or an http(s) URL.
func Load(ctx context.Context, source string) ([]byte, error) {
	var r io.Reader
	switch {
	case source == "-":
		r = os.Stdin
	case strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://"):
		body, err := fetch(ctx, source)
		if err != nil {
			return nil, err
		}
		defer body.Close()
		r = body
	default:
		f, err := os.Open(source)
		if err != nil {
			return nil, fmt.Errorf("open page: %w", err)
		}
		defer f.Close()
		r = f
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxSourceBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}
	if len(data) > MaxSourceBytes {
		return nil, fmt.Errorf("page exceeds %d bytes", MaxSourceBytes)
	}
	L_debug("extract: page loaded", "source", source, "bytes", len(data))
	return data, nil
}

func fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	req.Header.Set("User-Agent", "readmore/1.0")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("fetch page: HTTP %s", resp.Status)
	}
	return &cancelBody{ReadCloser: resp.Body, cancel: cancel}, nil
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// FromBytes sniffs data and extracts a page from HTML or plain text.
func FromBytes(data []byte, opts Options) (Page, error) {
	mtype := mimetype.Detect(data)
	L_trace("extract: detected content type", "mime", mtype.String())

	if mtype.Is("text/html") || mtype.Is("application/xhtml+xml") {
		return FromHTML(string(data), opts)
	}
	for m := mtype; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return Page{Article: normalizeSpace(string(data))}, nil
		}
	}
	return Page{}, llm.ConfigError("Unsupported page content type %s.", mtype.String())
}

// FromHTML finds the content and mount elements and extracts the article.
// A missing element is a configuration error.
func FromHTML(html string, opts Options) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Page{}, fmt.Errorf("parse page: %w", err)
	}

	page := Page{Title: strings.TrimSpace(doc.Find("title").First().Text())}

	if opts.MountSelector != "" {
		if doc.Find(opts.MountSelector).Length() == 0 {
			return Page{}, llm.ConfigError("Mount element %q not found on the page.", opts.MountSelector)
		}
		page.Mount = true
	}

	if opts.ContentSelector == "" {
		return fromReadability(html, opts, page)
	}

	content := doc.Find(opts.ContentSelector).First()
	if content.Length() == 0 {
		return Page{}, llm.ConfigError("Content element %q not found on the page.", opts.ContentSelector)
	}
	content.Find("script, style, noscript, template").Remove()

	if opts.Format == FormatMarkdown {
		inner, err := content.Html()
		if err != nil {
			return Page{}, fmt.Errorf("render content: %w", err)
		}
		md, err := htmltomd.ConvertString(inner)
		if err != nil {
			return Page{}, fmt.Errorf("convert content: %w", err)
		}
		page.Article = strings.TrimSpace(md)
	} else {
		page.Article = normalizeSpace(content.Text())
	}
	if strings.TrimSpace(page.Article) == "" {
		return Page{}, llm.ConfigError("Content element %q has no text.", opts.ContentSelector)
	}

	L_debug("extract: article extracted", "selector", opts.ContentSelector, "chars", len(page.Article), "title", page.Title)
	return page, nil
}

func fromReadability(html string, opts Options, page Page) (Page, error) {
	base := opts.BaseURL
	if base == "" {
		base = "http://localhost/"
	}
	pageURL, err := url.Parse(base)
	if err != nil {
		return Page{}, fmt.Errorf("base url: %w", err)
	}

	article, err := readability.FromReader(strings.NewReader(html), pageURL)
	if err != nil {
		return Page{}, fmt.Errorf("readability: %w", err)
	}
	if article.Title != "" {
		page.Title = article.Title
	}

	if opts.Format == FormatMarkdown {
		md, err := htmltomd.ConvertString(article.Content)
		if err != nil {
			return Page{}, fmt.Errorf("convert content: %w", err)
		}
		page.Article = strings.TrimSpace(md)
	} else {
		page.Article = normalizeSpace(article.TextContent)
	}

	L_debug("extract: article extracted by readability", "chars", len(page.Article), "title", page.Title)
	return page, nil
}

// normalizeSpace collapses whitespace runs to single spaces.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
