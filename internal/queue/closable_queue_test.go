package queue

import (
	"context"
	"testing"
	"time"

	"github.com/taegeonum/onyx/internal/schederror"
)

func TestClosableQueue_FIFO(t *testing.T) {
	q := NewClosableQueue()
	for _, v := range []string{"a", "b", "c"} {
		if err := q.Put(v); err != nil {
			t.Fatalf("Put(%q): %v", v, err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		got, ok, err := q.Take(context.Background())
		if err != nil || !ok {
			t.Fatalf("Take: ok=%v err=%v", ok, err)
		}
		if got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
}

func TestClosableQueue_PeekDoesNotRemove(t *testing.T) {
	q := NewClosableQueue()
	if err := q.Put("x"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	for i := 0; i < 2; i++ {
		got, ok, err := q.Peek(context.Background())
		if err != nil || !ok || got != "x" {
			t.Fatalf("Peek #%d: got=%v ok=%v err=%v", i, got, ok, err)
		}
	}
	if q.Len() != 1 {
		t.Fatalf("Peek must not consume, len=%d", q.Len())
	}
}

func TestClosableQueue_TakeBlocksUntilPut(t *testing.T) {
	q := NewClosableQueue()
	got := make(chan interface{}, 1)
	go func() {
		v, _, _ := q.Take(context.Background())
		got <- v
	}()

	time.Sleep(10 * time.Millisecond)
	if err := q.Put("late"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	select {
	case v := <-got:
		if v != "late" {
			t.Fatalf("expected \"late\", got %v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Take never unblocked after Put")
	}
}

func TestClosableQueue_CloseRejectsPutsAndDrains(t *testing.T) {
	q := NewClosableQueue()
	if err := q.Put("leftover"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	q.Close()
	q.Close() // idempotent

	if err := q.Put("rejected"); err != schederror.QueueClosed {
		t.Fatalf("Put after Close must fail with QueueClosed, got %v", err)
	}

	// The element put before Close is still deliverable.
	v, ok, err := q.Take(context.Background())
	if err != nil || !ok || v != "leftover" {
		t.Fatalf("Take after Close: got=%v ok=%v err=%v", v, ok, err)
	}
	// Once drained, Take reports no-more without blocking.
	_, ok, err = q.Take(context.Background())
	if err != nil || ok {
		t.Fatalf("drained closed queue must report no-more, ok=%v err=%v", ok, err)
	}
}

func TestClosableQueue_CloseWakesABlockedTaker(t *testing.T) {
	q := NewClosableQueue()
	done := make(chan bool, 1)
	go func() {
		_, ok, _ := q.Take(context.Background())
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case ok := <-done:
		if ok {
			t.Fatal("a taker woken by Close on an empty queue must see no-more")
		}
	case <-time.After(time.Second):
		t.Fatal("Close never woke the blocked taker")
	}
}

func TestClosableQueue_CancellationUnblocksTake(t *testing.T) {
	q := NewClosableQueue()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, _, err := q.Take(ctx)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancellation never unblocked Take")
	}
}
