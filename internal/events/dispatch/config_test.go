package dispatch

import (
	"testing"
	"time"
)

func TestConfigNormalizeClampsAttempts(t *testing.T) {
	cases := []struct {
		in, want int
	}{
		{0, 1},
		{3, 3},
		{64, MaxAttempts},
	}
	for _, tc := range cases {
		if got := (Config{Attempts: tc.in}).normalize().Attempts; got != tc.want {
			t.Fatalf("attempts %d: want=%d got=%d", tc.in, tc.want, got)
		}
	}
}

func TestMaxIntervalNeverOverflows(t *testing.T) {
	cases := []struct {
		cfg  Config
		want time.Duration
	}{
		{Config{Attempts: 3, BaseDelay: 100 * time.Millisecond}, 400 * time.Millisecond},
		{Config{Attempts: 1, BaseDelay: time.Second}, time.Second},
		{Config{Attempts: 200, BaseDelay: time.Hour}, MaxBackoff},
		{Config{Attempts: 64, BaseDelay: time.Millisecond}, MaxBackoff},
		{Config{Attempts: 5, BaseDelay: 0}, 0},
	}
	for _, tc := range cases {
		if got := tc.cfg.maxInterval(); got != tc.want {
			t.Fatalf("%+v: want=%s got=%s", tc.cfg, tc.want, got)
		}
	}
}
