package async

import (
	"errors"
	"testing"
	"time"
)

func TestRunAsync_CallbackFiresOnProcessMessages(t *testing.T) {
	r := NewRunner()
	var got error
	fired := false
	r.RunAsync(func() error { return nil }, func(err error) {
		got = err
		fired = true
	})

	deadline := time.Now().Add(time.Second)
	for !fired && time.Now().Before(deadline) {
		r.ProcessMessages()
		time.Sleep(time.Millisecond)
	}
	if !fired {
		t.Fatal("callback never fired")
	}
	if got != nil {
		t.Fatalf("expected nil error, got %v", got)
	}
	if n := r.NumRunning(); n != 0 {
		t.Fatalf("expected nothing in flight after delivery, got %d", n)
	}
}

func TestRunAsync_ErrorsReachTheCallback(t *testing.T) {
	r := NewRunner()
	want := errors.New("boom")
	var got error
	fired := false
	r.RunAsync(func() error { return want }, func(err error) {
		got = err
		fired = true
	})

	deadline := time.Now().Add(time.Second)
	for !fired && time.Now().Before(deadline) {
		r.ProcessMessages()
		time.Sleep(time.Millisecond)
	}
	if got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestProcessMessages_LeavesUnfinishedWorkPending(t *testing.T) {
	r := NewRunner()
	release := make(chan struct{})
	r.RunAsync(func() error { <-release; return nil }, func(error) {})

	r.ProcessMessages()
	if n := r.NumRunning(); n != 1 {
		t.Fatalf("an unfinished function must stay tracked, got %d", n)
	}
	close(release)
}
