package policy

import (
	"testing"
	"time"

	"github.com/driftmirror/driftmirror/internal/wire"
)

func TestFanoutPushPopFIFO(t *testing.T) {
	f := NewFanout()
	f.Push("replica-1", wire.PolicyFile{Path: "a"})
	f.Push("replica-1", wire.PolicyFile{Path: "b"})

	first := f.Pop("replica-1")
	second := f.Pop("replica-1")

	if first.File.Path != "a" || second.File.Path != "b" {
		t.Fatalf("expected FIFO order, got %q then %q", first.File.Path, second.File.Path)
	}
}

func TestFanoutEnqueuesOncePerHost(t *testing.T) {
	f := NewFanout()
	f.Push("replica-1", wire.PolicyFile{Path: "a"})
	f.Push("replica-2", wire.PolicyFile{Path: "a"})

	if stats := f.Stats("replica-1"); stats.Remaining != 1 {
		t.Fatalf("expected replica-1 remaining=1, got %+v", stats)
	}
	if stats := f.Stats("replica-2"); stats.Remaining != 1 {
		t.Fatalf("expected replica-2 remaining=1, got %+v", stats)
	}
}

func TestFanoutPopBlocksUntilPush(t *testing.T) {
	f := NewFanout()
	done := make(chan wire.PolicyPlan, 1)
	go func() { done <- f.Pop("replica-1") }()

	select {
	case <-done:
		t.Fatal("Pop returned before any Push")
	case <-time.After(50 * time.Millisecond):
	}

	f.Push("replica-1", wire.PolicyFile{Path: "a"})

	select {
	case plan := <-done:
		if plan.File.Path != "a" {
			t.Fatalf("unexpected plan: %+v", plan)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock after Push")
	}
}

func TestFanoutWaitUntilEmpty(t *testing.T) {
	f := NewFanout()
	f.Push("replica-1", wire.PolicyFile{Path: "a"})

	done := make(chan struct{})
	go func() {
		f.WaitUntilEmpty()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("WaitUntilEmpty returned before the queue drained")
	case <-time.After(50 * time.Millisecond):
	}

	f.Pop("replica-1")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitUntilEmpty did not unblock after the queue drained")
	}
}

func TestFanoutCompleteTracksStats(t *testing.T) {
	f := NewFanout()
	f.Push("replica-1", wire.PolicyFile{Path: "a"})
	f.Pop("replica-1")
	f.Complete("replica-1")

	stats := f.Stats("replica-1")
	if stats.Remaining != 0 || stats.Completed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestChainPopOnlyMatchesFirstStep(t *testing.T) {
	c := NewChain()
	c.Push("replica-1", wire.PolicyFile{Path: "a"})
	c.Push("replica-2", wire.PolicyFile{Path: "b"})

	plan := c.Pop("replica-2")
	if plan.File.Path != "b" {
		t.Fatalf("expected plan for replica-2, got %+v", plan)
	}

	if stats := c.Stats("replica-1"); stats.Remaining != 1 {
		t.Fatalf("expected replica-1's entry untouched, got %+v", stats)
	}
}

func TestChainPopBlocksForWrongHost(t *testing.T) {
	c := NewChain()
	c.Push("replica-1", wire.PolicyFile{Path: "a"})

	done := make(chan wire.PolicyPlan, 1)
	go func() { done <- c.Pop("replica-2") }()

	select {
	case <-done:
		t.Fatal("Pop(replica-2) should not match replica-1's entry")
	case <-time.After(50 * time.Millisecond):
	}

	c.Push("replica-2", wire.PolicyFile{Path: "b"})

	select {
	case plan := <-done:
		if plan.File.Path != "b" {
			t.Fatalf("unexpected plan: %+v", plan)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop(replica-2) did not unblock after its own entry arrived")
	}
}
