package monitor

import (
	"testing"
	"time"
)

func TestBackoffManager(t *testing.T) {
	b := NewBackoffManager(time.Second, 5*time.Second)
	want := []time.Duration{2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		b.IncreaseInterval()
		if got := b.GetInterval(); got != w {
			t.Fatalf("step %d: interval = %v, want %v", i, got, w)
		}
	}
	b.ResetInterval()
	if got := b.GetInterval(); got != time.Second {
		t.Fatalf("after reset interval = %v, want 1s", got)
	}
}

func TestBackoffManager_Disabled(t *testing.T) {
	b := NewBackoffManager(time.Minute, 0)
	b.IncreaseInterval()
	if got := b.GetInterval(); got != time.Minute {
		t.Fatalf("interval = %v, want 1m when backoff is disabled", got)
	}
}
