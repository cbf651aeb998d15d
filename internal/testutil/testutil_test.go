package testutil

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestEventually(t *testing.T) {
	t.Run("condition met immediately", func(t *testing.T) {
		called := false
		Eventually(t, func() bool {
			called = true
			return true
		}, 100*time.Millisecond, 10*time.Millisecond)

		if !called {
			t.Error("condition function should be called")
		}
	})

	t.Run("condition met after delay", func(t *testing.T) {
		var counter int32
		go func() {
			time.Sleep(50 * time.Millisecond)
			atomic.StoreInt32(&counter, 1)
		}()

		Eventually(t, func() bool {
			return atomic.LoadInt32(&counter) == 1
		}, time.Second, 10*time.Millisecond)
	})
}

func TestWaitForInt64(t *testing.T) {
	var value int64

	go func() {
		time.Sleep(30 * time.Millisecond)
		atomic.StoreInt64(&value, 100)
	}()

	WaitForInt64(t, &value, 100, time.Second)
}

func TestCallbackTracker(t *testing.T) {
	tracker := NewCallbackTracker[string]()
	if tracker.CallCount() != 0 {
		t.Fatal("tracker should start empty")
	}

	tracker.Record("a")
	tracker.Record("b")

	if tracker.CallCount() != 2 {
		t.Errorf("call count = %d, want 2", tracker.CallCount())
	}
	values := tracker.Values()
	if values[0] != "a" || values[1] != "b" {
		t.Errorf("values = %v, want [a b]", values)
	}
}

func TestWithTimeout(t *testing.T) {
	ctx, cancel := WithTimeout(t)
	defer cancel()

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("context should have deadline")
	}
	if time.Until(deadline) > TestTimeout {
		t.Error("deadline beyond TestTimeout")
	}
	if ctx.Err() != nil {
		t.Error("context should not be done yet")
	}
	cancel()
	if ctx.Err() != context.Canceled {
		t.Errorf("ctx.Err() = %v, want Canceled", ctx.Err())
	}
}

func TestAssertions(t *testing.T) {
	AssertNoError(t, nil)
	AssertError(t, context.Canceled)
	AssertEqual(t, 42, 42)
	AssertNotEqual(t, "a", "b")
}

func TestMockClock(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	clock.Advance(time.Minute)
	AssertEqual(t, clock.Now(), start.Add(time.Minute))
}

func TestMockWriter(t *testing.T) {
	w := NewMockWriter()
	_, _ = w.Write([]byte("first\n\nsecond\n"))

	if !w.Contains("second") {
		t.Error("expected captured output")
	}
	AssertEqual(t, len(w.Lines()), 2)

	w.Reset()
	AssertEqual(t, w.String(), "")
}
