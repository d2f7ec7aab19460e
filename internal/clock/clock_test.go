package clock

import (
	"testing"
	"time"
)

func TestNormalizeTruncatesToMicroseconds(t *testing.T) {
	in := time.Date(2025, 1, 2, 3, 4, 5, 123456789, time.FixedZone("BRT", -3*3600))
	got := Normalize(in)
	if got.Location() != time.UTC {
		t.Fatalf("expected UTC, got %v", got.Location())
	}
	if got.Nanosecond() != 123456000 {
		t.Fatalf("expected microsecond precision, got %d", got.Nanosecond())
	}
	if got.Hour() != 6 {
		t.Fatalf("expected hour 6 UTC, got %d", got.Hour())
	}
}

func TestTickingClockAdvances(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewTickingClock(start, time.Second)
	first := c.Now()
	second := c.Now()
	if !second.After(first) || second.Sub(first) != time.Second {
		t.Fatalf("expected one second step, got %v -> %v", first, second)
	}
}
