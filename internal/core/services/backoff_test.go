package services

import (
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	p := DefaultBackoffPolicy()

	tests := []struct {
		count int
		want  time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{6, 60 * time.Second},  // 64s capped
		{20, 60 * time.Second}, // deep into the cap
		{-1, time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.count); got != tt.want {
			t.Errorf("Delay(%d) = %s, want %s", tt.count, got, tt.want)
		}
	}
}

func TestBackoffDelayNonDecreasing(t *testing.T) {
	p := DefaultBackoffPolicy()
	prev := time.Duration(0)
	for n := 0; n <= 64; n++ {
		d := p.Delay(n)
		if d < prev {
			t.Fatalf("Delay(%d) = %s decreased from %s", n, d, prev)
		}
		if d > p.Max {
			t.Fatalf("Delay(%d) = %s exceeds cap %s", n, d, p.Max)
		}
		prev = d
	}
}

func TestBackoffShouldPause(t *testing.T) {
	p := DefaultBackoffPolicy()

	for n := 0; n < p.MaxErrors; n++ {
		if p.ShouldPause(n) {
			t.Errorf("ShouldPause(%d) = true before budget exhausted", n)
		}
	}
	if !p.ShouldPause(p.MaxErrors) {
		t.Errorf("ShouldPause(%d) = false at the budget boundary", p.MaxErrors)
	}
	if !p.ShouldPause(p.MaxErrors + 3) {
		t.Error("ShouldPause past the budget must stay true")
	}
}
