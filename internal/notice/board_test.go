package notice

import (
	"testing"
	"time"
)

func TestBoardExpiresAfterTTL(t *testing.T) {
	now := time.Unix(1700000000, 0)
	b := NewBoard(8*time.Second, 10)
	b.now = func() time.Time { return now }

	n := b.Success("Loan funded successfully!")
	if n.ID == "" || n.Level != LevelSuccess {
		t.Fatalf("unexpected notice %+v", n)
	}
	if got := len(b.Active()); got != 1 {
		t.Fatalf("expected 1 active notice, got %d", got)
	}

	now = now.Add(8 * time.Second)
	if got := len(b.Active()); got != 0 {
		t.Fatalf("expected notice to expire, got %d", got)
	}
}

func TestBoardDropsOldestWhenFull(t *testing.T) {
	now := time.Unix(1700000000, 0)
	b := NewBoard(time.Minute, 2)
	b.now = func() time.Time { return now }

	first := b.Info("first")
	now = now.Add(time.Second)
	b.Info("second")
	now = now.Add(time.Second)
	b.Error("third")

	active := b.Active()
	if len(active) != 2 {
		t.Fatalf("expected 2 notices, got %d", len(active))
	}
	for _, n := range active {
		if n.ID == first.ID {
			t.Fatalf("oldest notice should have been dropped")
		}
	}
	if active[0].Message != "second" || active[1].Message != "third" {
		t.Fatalf("unexpected order: %+v", active)
	}
}

func TestBoardDismiss(t *testing.T) {
	b := NewBoard(0, 0)
	n := b.Error("Failed to repay loan: boom")

	if !b.Dismiss(n.ID) {
		t.Fatalf("expected dismiss to find notice")
	}
	if b.Dismiss(n.ID) {
		t.Fatalf("second dismiss should report missing")
	}
	if len(b.Active()) != 0 {
		t.Fatalf("board should be empty")
	}
}
