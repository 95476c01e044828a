package snowflake

import (
	"errors"
	"testing"
	"time"
)

func TestNewNodeRejectsOutOfRange(t *testing.T) {
	for _, node := range []int64{-1, 1024} {
		if _, err := NewNode(node); !errors.Is(err, ErrNodeRange) {
			t.Fatalf("node %d: expected range error, got %v", node, err)
		}
	}
}

func TestGenerateIsStrictlyIncreasing(t *testing.T) {
	n, err := NewNode(7)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	prev := n.Generate()
	for i := 0; i < 10000; i++ {
		id := n.Generate()
		if id <= prev {
			t.Fatalf("id %d not greater than %d", id, prev)
		}
		prev = id
	}
	if NodeOf(prev) != 7 {
		t.Fatalf("node = %d, want 7", NodeOf(prev))
	}
}

func TestGenerateSurvivesClockStepBack(t *testing.T) {
	n, _ := NewNode(1)
	clock := int64(1800000000000)
	n.now = func() int64 { return clock }
	first := n.Generate()
	clock -= 5000
	second := n.Generate()
	if second <= first {
		t.Fatalf("expected monotonic ids across clock step back: %d then %d", first, second)
	}
}

func TestTimeRoundTrip(t *testing.T) {
	n, _ := NewNode(1)
	before := time.Now().Add(-time.Millisecond)
	id := n.Generate()
	got := Time(id)
	if got.Before(before.Truncate(time.Millisecond)) || got.After(time.Now().Add(time.Millisecond)) {
		t.Fatalf("decoded time %v out of range", got)
	}
}
