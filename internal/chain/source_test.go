package chain

import (
	"context"
	"testing"
	"time"
)

func TestIntervalHeight(t *testing.T) {
	source, err := NewInterval(1000, 10*time.Minute)
	if err != nil {
		t.Fatalf("new interval: %v", err)
	}

	cases := []struct {
		elapsed time.Duration
		want    uint64
	}{
		{0, 0},
		{9*time.Minute + 59*time.Second, 0},
		{10 * time.Minute, 1},
		{25 * time.Minute, 2},
		{100 * time.Minute, 10},
	}
	for _, tc := range cases {
		source.now = func() time.Time { return time.Unix(1000, 0).Add(tc.elapsed) }
		height, err := source.Height(context.Background())
		if err != nil {
			t.Fatalf("height after %s: %v", tc.elapsed, err)
		}
		if height != tc.want {
			t.Fatalf("height after %s = %d, want %d", tc.elapsed, height, tc.want)
		}
	}
}

func TestIntervalHeightBeforeGenesis(t *testing.T) {
	source, err := NewInterval(1000, 10*time.Minute)
	if err != nil {
		t.Fatalf("new interval: %v", err)
	}
	source.now = func() time.Time { return time.Unix(500, 0) }

	height, err := source.Height(context.Background())
	if err != nil {
		t.Fatalf("height: %v", err)
	}
	if height != 0 {
		t.Fatalf("pre-genesis height = %d, want 0", height)
	}
}

func TestIntervalRequiresPositiveInterval(t *testing.T) {
	if _, err := NewInterval(1000, 0); err == nil {
		t.Fatal("zero interval should be rejected")
	}
}
