// Package widget sequences suggestion and answer requests for one widget
// instance and publishes the state the presentation layer renders.
package widget

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/roelfdiedericks/readmore/internal/gateway"
	"github.com/roelfdiedericks/readmore/internal/llm"
	. "github.com/roelfdiedericks/readmore/internal/logging"
	. "github.com/roelfdiedericks/readmore/internal/metrics"
	"github.com/roelfdiedericks/readmore/internal/render"
)

// AnswerPhase is the state of the answer for the selected suggestion.
type AnswerPhase string

const (
	Idle      AnswerPhase = "idle"
	Loading   AnswerPhase = "loading"
	Streaming AnswerPhase = "streaming"
	Ready     AnswerPhase = "ready"
	Failed    AnswerPhase = "failed"
)

const (
	DefaultMaxAutoRetries = 3
	DefaultBaseDelay      = 2 * time.Second
)

// Answerer is the gateway surface the orchestrator needs.
type Answerer interface {
	GenerateSuggestions(ctx context.Context, articleText string) ([]string, error)
	GetAnswerForSuggestion(ctx context.Context, suggestion, articleText string, onChunk gateway.ChunkFunc) (string, error)
}

// Timer is a pending scheduled call.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Options configures an Orchestrator.
type Options struct {
	// Listener receives every new snapshot. It is called with the
	// orchestrator lock held and must not call back into it.
	Listener func(Snapshot)

	// Scheduler runs auto-retry timers. Nil uses time.AfterFunc.
	Scheduler Scheduler

	// MaxAutoRetries caps automatic retries per selection. Zero means
	// DefaultMaxAutoRetries; negative disables auto-retry.
	MaxAutoRetries int

	// BaseDelay is the first auto-retry delay; each later one doubles.
	BaseDelay time.Duration

	// ID names the instance in logs.
	ID string
}

// RetryState tracks retries for the current selection.
type RetryState struct {
	Attempts      int
	LastErrorKind llm.ErrorKind
}

// Snapshot is an immutable view of the widget.
type Snapshot struct {
	Fatal              string   `json:"fatal,omitempty"`
	Suggestions        []string `json:"suggestions"`
	SuggestionsLoading bool     `json:"suggestionsLoading"`
	SuggestionsError   string   `json:"suggestionsError,omitempty"`

	Selected   string      `json:"selected,omitempty"`
	Phase      AnswerPhase `json:"phase"`
	Answer     string      `json:"answer,omitempty"`
	AnswerHTML string      `json:"answerHTML,omitempty"`

	Error     string        `json:"error,omitempty"`
	ErrorKind llm.ErrorKind `json:"errorKind,omitempty"`
	Attempts  int           `json:"attempts"`
	CanRetry  bool          `json:"canRetry"`
	RetryInMs int64         `json:"retryInMs,omitempty"`
}

// Orchestrator drives one widget instance.
type Orchestrator struct {
	gw     Answerer
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	mounted bool
	article string
	fatal   *llm.Error

	suggestions []string
	sugLoading  bool
	sugErr      string

	selected  string
	phase     AnswerPhase
	answer    string
	errMsg    string
	retry     RetryState
	gen       uint64
	reqCancel context.CancelFunc
	timer     Timer
	retryIn   time.Duration
}

// New creates an orchestrator in the Idle phase.
func New(gw Answerer, opts Options) *Orchestrator {
	if opts.Scheduler == nil {
		opts.Scheduler = realScheduler{}
	}
	if opts.MaxAutoRetries == 0 {
		opts.MaxAutoRetries = DefaultMaxAutoRetries
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		gw:     gw,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		phase:  Idle,
	}
}

// Mount captures the article and fetches suggestions in the background.
// A non-nil mountErr is fatal: the instance shows it and ignores selections.
// Only the first call has any effect.
func (o *Orchestrator) Mount(ctx context.Context, article string, mountErr error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.mounted {
		return
	}
	o.mounted = true
	o.article = article

	if mountErr != nil {
		o.fatal = llm.Classify(mountErr)
		if o.fatal.Kind != llm.KindConfiguration {
			o.fatal = llm.NewError(llm.KindConfiguration, mountErr.Error(), mountErr)
		}
		L_error("widget: configuration error", "instance", o.opts.ID, "error", mountErr)
		o.publish()
		return
	}

	if strings.TrimSpace(article) == "" {
		L_debug("widget: empty article, no suggestions", "instance", o.opts.ID)
		o.suggestions = []string{}
		o.publish()
		return
	}

	o.sugLoading = true
	o.publish()

	fctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(o.ctx, cancel)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer stop()
		defer cancel()
		list, err := o.gw.GenerateSuggestions(fctx, article)
		o.finishSuggestions(list, err)
	}()
}

func (o *Orchestrator) finishSuggestions(list []string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.sugLoading = false
	if err != nil {
		cerr := llm.Classify(err)
		o.sugErr = cerr.UserMessage()
		L_warn("widget: suggestions failed", "instance", o.opts.ID, "kind", cerr.Kind, "error", err)
	} else {
		o.suggestions = list
		L_debug("widget: suggestions loaded", "instance", o.opts.ID, "count", len(list))
	}
	o.publish()
}

// Select shows the answer for suggestion. Selecting the suggestion whose
// answer is already shown or on its way does nothing.
func (o *Orchestrator) Select(suggestion string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.fatal != nil || suggestion == "" {
		return
	}
	if suggestion == o.selected {
		switch o.phase {
		case Ready, Loading, Streaming:
			L_trace("widget: re-click ignored", "instance", o.opts.ID, "phase", o.phase)
			return
		}
	}

	MetricInc(TopicWidget, "select")
	o.selected = suggestion
	o.retry = RetryState{}
	o.stopTimer()
	o.launch()
}

// Retry re-requests the failed answer. It reports whether a request started.
func (o *Orchestrator) Retry() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || !o.canRetry() {
		return false
	}
	MetricInc(TopicWidget, "manual_retry")
	o.stopTimer()
	o.retry.Attempts++
	o.launch()
	return true
}

// Snapshot returns the current view.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshot()
}

// Retries returns the retry state of the current selection.
func (o *Orchestrator) Retries() RetryState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.retry
}

// Close stops timers and in-flight requests and waits for them to finish.
// No snapshot is published after Close returns.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.stopTimer()
	o.cancel()
	o.mu.Unlock()

	o.wg.Wait()
	L_debug("widget: closed", "instance", o.opts.ID)
}

// launch starts a request for the selected suggestion. Caller holds o.mu.
func (o *Orchestrator) launch() {
	if o.reqCancel != nil {
		o.reqCancel()
	}
	o.gen++
	gen := o.gen
	o.phase = Loading
	o.answer = ""
	o.errMsg = ""
	o.retryIn = 0
	o.publish()

	ctx, cancel := context.WithCancel(o.ctx)
	o.reqCancel = cancel
	suggestion, article := o.selected, o.article

	L_debug("widget: answer requested", "instance", o.opts.ID, "gen", gen, "attempts", o.retry.Attempts)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		answer, err := o.gw.GetAnswerForSuggestion(ctx, suggestion, article, func(snap string) {
			o.chunk(gen, snap)
		})
		o.finish(gen, answer, err)
	}()
}

func (o *Orchestrator) chunk(gen uint64, snap string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || gen != o.gen {
		return
	}
	o.phase = Streaming
	o.answer = snap
	o.publish()
}

func (o *Orchestrator) finish(gen uint64, answer string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || gen != o.gen {
		L_trace("widget: stale response discarded", "instance", o.opts.ID, "gen", gen, "current", o.gen)
		return
	}
	o.reqCancel = nil

	if err == nil {
		o.phase = Ready
		o.answer = answer
		o.retry = RetryState{}
		MetricSuccess(TopicWidget, "answer")
		o.publish()
		return
	}

	cerr := llm.Classify(err)
	o.phase = Failed
	o.answer = ""
	o.errMsg = cerr.UserMessage()
	o.retry.LastErrorKind = cerr.Kind
	MetricFailWithReason(TopicWidget, "answer", string(cerr.Kind))
	L_warn("widget: answer failed", "instance", o.opts.ID, "kind", cerr.Kind, "attempts", o.retry.Attempts, "error", err)

	if cerr.Kind == llm.KindOverload && o.retry.Attempts < o.opts.MaxAutoRetries {
		delay := o.opts.BaseDelay << o.retry.Attempts
		o.retryIn = delay
		o.timer = o.opts.Scheduler.AfterFunc(delay, func() { o.autoRetry(gen) })
		L_info("widget: auto-retry scheduled", "instance", o.opts.ID, "delay", delay, "attempt", o.retry.Attempts+1)
	}
	o.publish()
}

func (o *Orchestrator) autoRetry(gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || gen != o.gen || o.phase != Failed {
		return
	}
	o.timer = nil
	MetricInc(TopicWidget, "auto_retry")
	o.retry.Attempts++
	o.launch()
}

func (o *Orchestrator) stopTimer() {
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	o.retryIn = 0
}

func (o *Orchestrator) canRetry() bool {
	if o.phase != Failed {
		return false
	}
	switch o.retry.LastErrorKind {
	case llm.KindConfiguration, llm.KindQuotaExceeded:
		return false
	}
	return true
}

func (o *Orchestrator) snapshot() Snapshot {
	s := Snapshot{
		SuggestionsLoading: o.sugLoading,
		SuggestionsError:   o.sugErr,
		Selected:           o.selected,
		Phase:              o.phase,
		Answer:             o.answer,
		Attempts:           o.retry.Attempts,
		CanRetry:           o.canRetry(),
		RetryInMs:          o.retryIn.Milliseconds(),
	}
	if o.fatal != nil {
		s.Fatal = o.fatal.UserMessage()
	}
	if o.suggestions != nil {
		s.Suggestions = append([]string{}, o.suggestions...)
	}
	if o.answer != "" {
		s.AnswerHTML = render.Sanitize(o.answer)
	}
	if o.phase == Failed {
		s.Error = o.errMsg
		s.ErrorKind = o.retry.LastErrorKind
	}
	return s
}

// publish hands a snapshot to the listener. Caller holds o.mu.
func (o *Orchestrator) publish() {
	if o.closed || o.opts.Listener == nil {
		return
	}
	o.opts.Listener(o.snapshot())
}
