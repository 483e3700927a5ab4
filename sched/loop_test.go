package sched

import (
	"sync"
	"testing"
	"time"
)

func TestPostRunsOnRunPending(t *testing.T) {
	l := New()
	var got []int
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.Post(func() { got = append(got, i) })
		}(i)
	}
	wg.Wait()

	if len(got) != 0 {
		t.Fatalf("tasks ran before RunPending: %v", got)
	}
	if n := l.RunPending(); n != 3 {
		t.Errorf("RunPending() = %d, want 3", n)
	}
	if len(got) != 3 {
		t.Errorf("ran %d tasks, want 3", len(got))
	}
}

func TestRunPendingDefersReentrantPosts(t *testing.T) {
	l := New()
	ran := 0
	l.Post(func() {
		ran++
		l.Post(func() { ran++ })
	})

	l.RunPending()
	if ran != 1 {
		t.Fatalf("ran = %d after first RunPending, want 1", ran)
	}
	l.RunPending()
	if ran != 2 {
		t.Errorf("ran = %d after second RunPending, want 2", ran)
	}
}

func TestDeferRespectsCapacity(t *testing.T) {
	l := New(WithMaxIdle(2))
	if !l.Defer(func() {}) || !l.Defer(func() {}) {
		t.Fatal("Defer refused below capacity")
	}
	if l.Defer(func() {}) {
		t.Error("Defer accepted past capacity")
	}
	if n := l.RunIdle(time.Time{}); n != 2 {
		t.Errorf("RunIdle() = %d, want 2", n)
	}
	if !l.Defer(func() {}) {
		t.Error("Defer refused after drain")
	}
}

func TestRunIdleStopsAtDeadline(t *testing.T) {
	l := New()
	for i := 0; i < 5; i++ {
		l.Defer(func() { time.Sleep(2 * time.Millisecond) })
	}
	n := l.RunIdle(time.Now())
	if n != 1 {
		t.Errorf("RunIdle(past deadline) = %d, want 1", n)
	}
	_, idle := l.Pending()
	if idle != 4 {
		t.Errorf("idle = %d, want 4", idle)
	}
}

func TestAfterPostsToLoop(t *testing.T) {
	l := New()
	fired := false
	l.After(time.Millisecond, func() { fired = true })

	select {
	case <-l.Wake():
	case <-time.After(time.Second):
		t.Fatal("timer never woke the loop")
	}
	if fired {
		t.Fatal("timer task ran off-loop")
	}
	l.RunPending()
	if !fired {
		t.Error("timer task did not run on RunPending")
	}
}

func TestAfterStop(t *testing.T) {
	l := New()
	stop := l.After(time.Hour, func() { t.Error("stopped timer fired") })
	if !stop() {
		t.Error("stop() = false for pending timer")
	}
}

func TestFrameRequest(t *testing.T) {
	l := New()
	if l.TakeFrameRequest() {
		t.Fatal("frame requested on a fresh loop")
	}
	l.RequestFrame()
	l.RequestFrame()
	if !l.TakeFrameRequest() {
		t.Error("TakeFrameRequest() = false after RequestFrame")
	}
	if l.TakeFrameRequest() {
		t.Error("frame request was not cleared")
	}
}

func TestPanickingTaskDoesNotStopOthers(t *testing.T) {
	l := New()
	ran := false
	l.Post(func() { panic("boom") })
	l.Post(func() { ran = true })
	l.RunPending()
	if !ran {
		t.Error("task after panic did not run")
	}
}

func TestClose(t *testing.T) {
	l := New()
	l.Post(func() { t.Error("posted task ran after Close") })
	l.Close()
	l.Post(func() { t.Error("post after Close ran") })
	if l.Defer(func() {}) {
		t.Error("Defer accepted after Close")
	}
	if n := l.RunPending(); n != 0 {
		t.Errorf("RunPending() = %d after Close, want 0", n)
	}
}
