package platform

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestGuardAllowsUnderThreshold(t *testing.T) {
	g := &Guard{log: zerolog.Nop(), threshold: 85.0}
	g.currentCPU.Store(10.0)

	ok, reason := g.Allow()
	if !ok {
		t.Fatalf("expected Allow to permit admission, got reason %q", reason)
	}
}

func TestGuardRejectsOverThreshold(t *testing.T) {
	g := &Guard{log: zerolog.Nop(), threshold: 85.0}
	g.currentCPU.Store(95.0)

	ok, reason := g.Allow()
	if ok {
		t.Fatal("expected Allow to reject admission above threshold")
	}
	if reason == "" {
		t.Fatal("expected a non-empty rejection reason")
	}
}

func TestGuardCurrentCPUReflectsLastSample(t *testing.T) {
	g := &Guard{log: zerolog.Nop(), threshold: 85.0}
	g.currentCPU.Store(42.5)

	if got := g.CurrentCPU(); got != 42.5 {
		t.Fatalf("got %v, want 42.5", got)
	}
}
