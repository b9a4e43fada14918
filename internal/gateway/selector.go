package gateway

import (
	"sync"
	"time"

	. "github.com/roelfdiedericks/readmore/internal/logging"
)

// ModelTier identifies which configured model is active.
type ModelTier int

const (
	Primary ModelTier = iota
	Fallback
)

func (t ModelTier) String() string {
	if t == Fallback {
		return "fallback"
	}
	return "primary"
}

// ModelSelector tracks the active model tier for one widget instance.
//
// Demotion (Primary to Fallback) requires the cooldown to have passed since
// the last switch. Promotion back to Primary happens on any success.
type ModelSelector struct {
	mu         sync.Mutex
	primary    string
	fallback   string
	current    ModelTier
	lastSwitch time.Time
	cooldown   time.Duration
	now        func() time.Time
}

// NewModelSelector starts on Primary. A nil now uses time.Now.
func NewModelSelector(primary, fallback string, cooldown time.Duration, now func() time.Time) *ModelSelector {
	if now == nil {
		now = time.Now
	}
	return &ModelSelector{
		primary:  primary,
		fallback: fallback,
		cooldown: cooldown,
		now:      now,
	}
}

// Current returns the active tier.
func (s *ModelSelector) Current() ModelTier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// CurrentModel returns the model identifier for the active tier.
func (s *ModelSelector) CurrentModel() string {
	return s.ModelFor(s.Current())
}

// ModelFor returns the model identifier for a tier.
func (s *ModelSelector) ModelFor(t ModelTier) string {
	if t == Fallback {
		return s.fallback
	}
	return s.primary
}

// LastSwitch returns the time of the last tier change, zero if none.
func (s *ModelSelector) LastSwitch() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSwitch
}

// Demote switches to Fallback if on Primary and the cooldown has elapsed.
// Reports whether a switch happened.
func (s *ModelSelector) Demote() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != Primary {
		return false
	}
	now := s.now()
	if !s.lastSwitch.IsZero() && now.Sub(s.lastSwitch) < s.cooldown {
		L_debug("gateway: demotion suppressed by cooldown",
			"sinceSwitch", now.Sub(s.lastSwitch).Round(time.Millisecond), "cooldown", s.cooldown)
		return false
	}
	s.current = Fallback
	s.lastSwitch = now
	L_info("gateway: switched to fallback model", "model", s.fallback)
	return true
}

// Promote switches back to Primary immediately if on Fallback.
func (s *ModelSelector) Promote() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != Fallback {
		return
	}
	s.current = Primary
	s.lastSwitch = s.now()
	L_info("gateway: restored primary model", "model", s.primary)
}
