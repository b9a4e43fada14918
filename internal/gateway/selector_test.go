package gateway

import (
	"testing"
	"time"
)

func TestModelSelector(t *testing.T) {
	clk := newClock()
	s := NewModelSelector("p", "f", 30*time.Second, clk.Now)

	if s.Current() != Primary || s.CurrentModel() != "p" {
		t.Fatalf("initial = %s %s", s.Current(), s.CurrentModel())
	}
	if !s.LastSwitch().IsZero() {
		t.Error("no switch yet")
	}

	if !s.Demote() {
		t.Fatal("first demotion should be allowed")
	}
	if s.CurrentModel() != "f" {
		t.Errorf("model = %s", s.CurrentModel())
	}
	if s.Demote() {
		t.Error("demote while on fallback should report no switch")
	}

	clk.Advance(time.Second)
	s.Promote()
	if s.Current() != Primary {
		t.Fatal("promotion is eager")
	}

	clk.Advance(28 * time.Second)
	if s.Demote() {
		t.Error("demotion within cooldown of last switch")
	}
	clk.Advance(2 * time.Second)
	if !s.Demote() {
		t.Error("demotion after cooldown should be allowed")
	}

	before := s.LastSwitch()
	s.Promote()
	s.Promote()
	if s.LastSwitch().Before(before) {
		t.Error("lastSwitch went backwards")
	}
}

func TestModelTierString(t *testing.T) {
	if Primary.String() != "primary" || Fallback.String() != "fallback" {
		t.Errorf("strings = %s %s", Primary, Fallback)
	}
}
