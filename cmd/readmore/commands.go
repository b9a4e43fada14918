package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"golang.org/x/term"

	"github.com/roelfdiedericks/readmore/internal/config"
	"github.com/roelfdiedericks/readmore/internal/extract"
	httpserver "github.com/roelfdiedericks/readmore/internal/http"
	"github.com/roelfdiedericks/readmore/internal/instance"
	. "github.com/roelfdiedericks/readmore/internal/logging"
	"github.com/roelfdiedericks/readmore/internal/paths"
	"github.com/roelfdiedericks/readmore/internal/render"
)

// loadPage reads source and extracts the article. The terminal is the mount
// point, so only the content element is required.
func loadPage(ctx context.Context, cli *CLI, cfg *config.Config, source string) (extract.Page, error) {
	data, err := extract.Load(ctx, source)
	if err != nil {
		return extract.Page{}, err
	}
	opts := instance.PageOptions(cfg)
	opts.MountSelector = ""
	if cli.Readability {
		opts.ContentSelector = ""
	}
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		opts.BaseURL = source
	}
	return extract.FromBytes(data, opts)
}

// SuggestCmd prints suggestions one per line.
type SuggestCmd struct {
	Source string `arg:"" help:"Page file, URL, or - for stdin"`
	JSON   bool   `help:"Print a JSON array"`
}

func (c *SuggestCmd) Run(cli *CLI) error {
	cfg, err := cli.setup()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	page, err := loadPage(ctx, cli, cfg, c.Source)
	if err != nil {
		return err
	}
	inst := instance.New(cfg, instance.Options{})
	defer inst.Close()
	if err := inst.BackendErr(); err != nil {
		return err
	}

	list := []string{}
	if strings.TrimSpace(page.Article) != "" {
		list, err = inst.Gateway.GenerateSuggestions(ctx, page.Article)
		if err != nil {
			return err
		}
	}

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}
	for _, s := range list {
		fmt.Println(s)
	}
	return nil
}

// AskCmd answers one suggestion.
type AskCmd struct {
	Source     string `arg:"" help:"Page file, URL, or - for stdin"`
	Suggestion string `arg:"" help:"The question to answer"`
	HTML       bool   `help:"Print sanitized HTML instead of markdown"`
}

func (c *AskCmd) Run(cli *CLI) error {
	cfg, err := cli.setup()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	page, err := loadPage(ctx, cli, cfg, c.Source)
	if err != nil {
		return err
	}
	inst := instance.New(cfg, instance.Options{})
	defer inst.Close()
	if err := inst.BackendErr(); err != nil {
		return err
	}

	format := func(s string) string {
		if c.HTML {
			return render.Sanitize(s)
		}
		md, err := render.Markdown(s)
		if err != nil {
			L_debug("ask: markdown conversion failed", "error", err)
			return render.Sanitize(s)
		}
		return md
	}

	out := newRedrawer(os.Stdout)
	var onChunk func(string)
	if out.tty {
		onChunk = func(snap string) { out.draw(format(snap)) }
	}

	answer, err := inst.Gateway.GetAnswerForSuggestion(ctx, c.Suggestion, page.Article, onChunk)
	if err != nil {
		return err
	}
	out.draw(format(answer))
	return nil
}

// redrawer repaints a block of terminal output in place.
type redrawer struct {
	w     io.Writer
	tty   bool
	width int
	rows  int
	last  string
}

func newRedrawer(f *os.File) *redrawer {
	r := &redrawer{w: f, tty: term.IsTerminal(int(f.Fd())), width: 80}
	if r.tty {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			r.width = w
		}
	}
	return r
}

func (r *redrawer) draw(text string) {
	if text == r.last {
		return
	}
	r.last = text
	if !r.tty {
		fmt.Fprintln(r.w, text)
		return
	}
	if r.rows > 0 {
		fmt.Fprintf(r.w, "\033[%dA", r.rows)
	}
	fmt.Fprint(r.w, "\r\033[J", text, "\n")
	r.rows = r.countRows(text)
}

// countRows is the number of terminal rows text occupies after wrapping.
func (r *redrawer) countRows(text string) int {
	rows := 0
	for _, line := range strings.Split(text, "\n") {
		n := len([]rune(line))
		if n == 0 {
			rows++
			continue
		}
		rows += (n + r.width - 1) / r.width
	}
	return rows
}

// ServeCmd runs the preview server.
type ServeCmd struct {
	Listen string `help:"Listen address (overrides http.listen)"`
	Dev    bool   `help:"Reload templates from disk on each request"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := cli.setup()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	var current atomic.Pointer[config.Config]
	current.Store(cfg)

	if cfg.Path != "" {
		w, err := config.Watch(cfg.Path, func(next *config.Config) {
			current.Store(next)
			if cli.logLevel() < 0 {
				SetLevel(ParseLevel(next.Logging.Level))
			}
			L_info("serve: config reloaded; new widget instances use it", "path", next.Path)
		})
		if err != nil {
			L_warn("serve: config watch unavailable", "error", err)
		} else {
			defer w.Close()
		}
	}

	listen := c.Listen
	if listen == "" {
		listen = cfg.HTTP.Listen
	}
	srv, err := httpserver.NewServer(&httpserver.ServerConfig{
		Listen:  listen,
		DevMode: c.Dev,
		Config:  current.Load,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	L_info("serve: preview ready", "url", "http://"+srv.Addr()+"/")

	<-ctx.Done()
	L_info("serve: shutting down")
	return srv.Stop()
}

// ConfigCmd groups config file commands.
type ConfigCmd struct {
	Init ConfigInitCmd `cmd:"" help:"Write the default config file"`
	Show ConfigShowCmd `cmd:"" help:"Print the effective config with secrets redacted"`
}

type ConfigInitCmd struct {
	Path  string `arg:"" optional:"" help:"Destination (default ~/.readmore/readmore.json)" type:"path"`
	Force bool   `help:"Overwrite an existing file, keeping a .bak copy"`
}

func (c *ConfigInitCmd) Run(cli *CLI) error {
	lc := DefaultLogConfig()
	lc.Level = max(cli.logLevel(), LevelInfo)
	Init(lc)

	path := c.Path
	if path == "" {
		p, err := paths.DefaultConfigPath()
		if err != nil {
			return err
		}
		path = p
	}
	if err := paths.EnsureParentDir(path); err != nil {
		return err
	}
	if err := config.WriteDefault(path, c.Force); err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

type ConfigShowCmd struct{}

func (c *ConfigShowCmd) Run(cli *CLI) error {
	cfg, err := cli.setup()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg.Redacted())
}

// VersionCmd prints the version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("readmore %s\n", version)
	return nil
}
