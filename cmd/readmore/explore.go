package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/roelfdiedericks/readmore/internal/instance"
	. "github.com/roelfdiedericks/readmore/internal/logging"
	"github.com/roelfdiedericks/readmore/internal/render"
	"github.com/roelfdiedericks/readmore/internal/widget"
)

const quitOption = "__quit__"

var (
	exploreTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	exploreMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	exploreErrorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	exploreRuleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
)

// ExploreCmd runs the widget interactively in the terminal.
type ExploreCmd struct {
	Source string `arg:"" help:"Page file, URL, or - for stdin"`
}

// snapshots keeps only the newest widget snapshot.
type snapshots struct {
	mu     sync.Mutex
	latest widget.Snapshot
	wake   chan struct{}
}

func newSnapshots() *snapshots {
	return &snapshots{wake: make(chan struct{}, 1)}
}

func (s *snapshots) push(_ string, snap widget.Snapshot) {
	s.mu.Lock()
	s.latest = snap
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// wait blocks until a snapshot satisfies done, calling each on every update.
func (s *snapshots) wait(ctx context.Context, done func(widget.Snapshot) bool, each func(widget.Snapshot)) (widget.Snapshot, error) {
	for {
		s.mu.Lock()
		snap := s.latest
		s.mu.Unlock()
		if each != nil {
			each(snap)
		}
		if done(snap) {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-s.wake:
		}
	}
}

func (c *ExploreCmd) Run(cli *CLI) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.New("explore needs an interactive terminal; use suggest and ask instead")
	}

	cfg, err := cli.setup()
	if err != nil {
		return err
	}
	// Keep log lines from tearing the form
	if cli.logLevel() < 0 {
		SetLevel(LevelError)
	}

	ctx, cancel := signalContext()
	defer cancel()

	page, err := loadPage(ctx, cli, cfg, c.Source)
	if err != nil {
		return err
	}

	snaps := newSnapshots()
	inst := instance.New(cfg, instance.Options{Listener: snaps.push})
	defer inst.Close()

	if page.Title != "" {
		fmt.Println(exploreTitleStyle.Render(page.Title))
	}
	fmt.Println(exploreMutedStyle.Render("Thinking of questions..."))
	inst.MountText(ctx, page.Article)

	seenLoading := false
	snap, err := snaps.wait(ctx, func(s widget.Snapshot) bool {
		if s.SuggestionsLoading {
			seenLoading = true
			return false
		}
		return s.Fatal != "" || s.SuggestionsError != "" || s.Suggestions != nil || seenLoading
	}, nil)
	if err != nil {
		return nil
	}
	if snap.Fatal != "" {
		return errors.New(snap.Fatal)
	}
	if snap.SuggestionsError != "" {
		fmt.Println(exploreErrorStyle.Render(snap.SuggestionsError))
		return nil
	}
	if len(snap.Suggestions) == 0 {
		fmt.Println(exploreMutedStyle.Render("Nothing to ask about this page."))
		return nil
	}

	out := newRedrawer(os.Stdout)
	for {
		choice, err := pickSuggestion(snap.Suggestions, snap.Selected)
		if err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				return nil
			}
			return err
		}
		if choice == quitOption {
			return nil
		}

		fmt.Println(exploreRuleStyle.Render(strings.Repeat("─", min(out.width, 60))))
		fmt.Println(exploreTitleStyle.Render(choice))
		inst.Widget.Select(choice)

		snap, err = c.follow(ctx, inst, snaps, newRedrawer(os.Stdout))
		if err != nil {
			return nil
		}
	}
}

// follow renders the answer for the current selection until it settles,
// offering a manual retry when one is allowed.
func (c *ExploreCmd) follow(ctx context.Context, inst *instance.Instance, snaps *snapshots, out *redrawer) (widget.Snapshot, error) {
	for {
		snap, err := snaps.wait(ctx, func(s widget.Snapshot) bool {
			return s.Phase == widget.Ready || (s.Phase == widget.Failed && s.RetryInMs == 0)
		}, func(s widget.Snapshot) {
			out.draw(exploreView(s))
		})
		if err != nil {
			return snap, err
		}
		if snap.Phase == widget.Ready || !snap.CanRetry {
			return snap, nil
		}

		again := true
		err = huh.NewConfirm().
			Title("Try again?").
			Affirmative("Retry").
			Negative("Back").
			Value(&again).
			Run()
		if err != nil && !errors.Is(err, huh.ErrUserAborted) {
			return snap, err
		}
		if err != nil || !again || !inst.Widget.Retry() {
			return snap, nil
		}
		out = newRedrawer(os.Stdout)
	}
}

// exploreView renders one snapshot of the answer area.
func exploreView(s widget.Snapshot) string {
	switch s.Phase {
	case widget.Loading:
		return exploreMutedStyle.Render("Loading...")
	case widget.Streaming, widget.Ready:
		md, err := render.Markdown(s.Answer)
		if err != nil {
			return render.Sanitize(s.Answer)
		}
		return md
	case widget.Failed:
		msg := exploreErrorStyle.Render(s.Error)
		if s.RetryInMs > 0 {
			wait := time.Duration(s.RetryInMs) * time.Millisecond
			msg += "\n" + exploreMutedStyle.Render(fmt.Sprintf("Retrying in %s (attempt %d)...", wait.Round(time.Second), s.Attempts))
		}
		return msg
	}
	return ""
}

func pickSuggestion(suggestions []string, selected string) (string, error) {
	options := make([]huh.Option[string], 0, len(suggestions)+1)
	for _, s := range suggestions {
		options = append(options, huh.NewOption(s, s))
	}
	options = append(options, huh.NewOption("Quit", quitOption))

	choice := selected
	if choice == "" {
		choice = suggestions[0]
	}
	err := huh.NewSelect[string]().
		Title("Keep reading").
		Options(options...).
		Value(&choice).
		Run()
	return choice, err
}
