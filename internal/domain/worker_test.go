package domain

import (
	"errors"
	"testing"
	"time"
)

func TestEligibleClasses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		caps CapabilityProfile
		want []ComponentClass
	}{
		{"default profile", CapabilityProfile{}, []ComponentClass{ClassGeneral}},
		{"gpu with little memory", CapabilityProfile{GPUAvailable: true, RAMGB: 16}, []ComponentClass{ClassGeneral}},
		{"gpu desktop", CapabilityProfile{GPUAvailable: true, RAMGB: 32}, []ComponentClass{ClassFast, ClassGeneral}},
		{"memory server", CapabilityProfile{RAMGB: 64}, []ComponentClass{ClassDeep, ClassGeneral}},
		{"workstation", CapabilityProfile{GPUAvailable: true, RAMGB: 128}, []ComponentClass{ClassFast, ClassDeep, ClassGeneral}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.caps.EligibleClasses()
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Expected %v, got %v", tt.want, got)
				}
			}
		})
	}
}

func TestNewWorker(t *testing.T) {
	t.Parallel()

	now := time.Now()
	w, err := NewWorker("  desktop-1 ", CapabilityProfile{}, now)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if w.ID != "desktop-1" {
		t.Errorf("Expected trimmed ID, got %q", w.ID)
	}
	if w.Capabilities.RAMGB != DefaultRAMGB {
		t.Errorf("Expected default RAM %d, got %d", DefaultRAMGB, w.Capabilities.RAMGB)
	}

	_, err = NewWorker("", CapabilityProfile{}, now)
	if !errors.Is(err, ErrInvalidWorker) {
		t.Errorf("Expected ErrInvalidWorker, got %v", err)
	}
}

func TestLivenessPolicyStatus(t *testing.T) {
	t.Parallel()

	p := DefaultLivenessPolicy()
	now := time.Now()

	if got := p.Status(now.Add(-time.Minute), now); got != WorkerStatusActive {
		t.Errorf("Expected active, got %s", got)
	}
	if got := p.Status(now.Add(-10*time.Minute), now); got != WorkerStatusStale {
		t.Errorf("Expected stale, got %s", got)
	}
	if got := p.Status(now.Add(-time.Hour), now); got != WorkerStatusOffline {
		t.Errorf("Expected offline, got %s", got)
	}
}
