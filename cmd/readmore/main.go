// Command readmore suggests follow-up questions for an article and answers
// them, from the terminal or through a local preview server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/roelfdiedericks/readmore/internal/config"
	. "github.com/roelfdiedericks/readmore/internal/logging"
)

const version = "0.3.0"

// CLI is the root command.
type CLI struct {
	Config string `short:"c" help:"Config file (default: ./readmore.json, then ~/.readmore/readmore.json)" type:"path"`
	Debug  bool   `short:"d" help:"Enable debug logging"`
	Trace  bool   `help:"Enable trace logging"`

	Readability bool `help:"Pick the article with readability instead of page.contentSelector"`

	Suggest SuggestCmd `cmd:"" help:"Print follow-up questions for a page"`
	Ask     AskCmd     `cmd:"" help:"Answer a question about a page"`
	Explore ExploreCmd `cmd:"" help:"Pick suggestions interactively and read the answers"`
	Serve   ServeCmd   `cmd:"" help:"Run the local preview server"`
	Cfg     ConfigCmd  `cmd:"" name:"config" help:"Manage the config file"`
	Version VersionCmd `cmd:"" help:"Show version"`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("readmore"),
		kong.Description("Follow-up questions and answers for any article."),
		kong.UsageOnError(),
	)
	err := kctx.Run(&cli)
	kctx.FatalIfErrorf(err)
}

// logLevel is the level chosen by flags, or -1 when the config decides.
func (c *CLI) logLevel() int {
	switch {
	case c.Trace:
		return LevelTrace
	case c.Debug:
		return LevelDebug
	}
	return -1
}

// setup initializes logging and loads the config.
func (c *CLI) setup() (*config.Config, error) {
	lvl := c.logLevel()
	lc := DefaultLogConfig()
	lc.Level = max(lvl, LevelInfo)
	lc.ShowCaller = lvl >= LevelDebug
	Init(lc)

	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	if lvl < 0 {
		SetLevel(ParseLevel(cfg.Logging.Level))
	}
	L_debug("config loaded", "path", cfg.Path, "backend", cfg.Backend.Type, "primary", cfg.Models.Primary)
	return cfg, nil
}

// signalContext is cancelled on interrupt or termination.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
