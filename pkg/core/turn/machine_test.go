package turn

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeInterruptor struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (f *fakeInterruptor) InterruptNow(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, d)
}

func (f *fakeInterruptor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestMachine(interruptor Interruptor, grace, ceiling time.Duration) *Machine {
	return NewMachine(testLogger(), Config{
		GracePeriod:   grace,
		SignalCeiling: ceiling,
		Squelch:       50 * time.Millisecond,
	}, interruptor)
}

func TestInterruptedCutsPlaybackAndCounts(t *testing.T) {
	fi := &fakeInterruptor{}
	m := newTestMachine(fi, time.Hour, time.Hour)

	bargeIns := make(chan int, 2)
	m.SetCallbacks(func(n int) { bargeIns <- n }, nil)

	m.ModelSpeaking()
	m.Interrupted()

	if fi.count() != 1 {
		t.Fatalf("InterruptNow called %d times, want 1", fi.count())
	}
	if got := m.State(); got != StateInterrupted {
		t.Fatalf("state = %v, want interrupted", got)
	}

	select {
	case n := <-bargeIns:
		if n != 1 {
			t.Fatalf("barge-in count = %d, want 1", n)
		}
	case <-time.After(time.Second):
		t.Fatal("barge-in callback never fired")
	}

	m.Interrupted()
	if got := m.BargeIns(); got != 2 {
		t.Fatalf("BargeIns = %d, want 2", got)
	}
}

func TestDualBarrierRequiresBothChannels(t *testing.T) {
	m := newTestMachine(&fakeInterruptor{}, 20*time.Millisecond, time.Hour)

	terminated := make(chan struct{})
	m.SetCallbacks(nil, func() { close(terminated) })

	m.RequestHangup()
	m.EndTurn("AUDIO")

	// Only one channel has closed: must not terminate.
	select {
	case <-terminated:
		t.Fatal("terminated on a single end-of-turn signal")
	case <-time.After(150 * time.Millisecond):
	}
	if got := m.State(); got != StateAwaitingDualEndTurn {
		t.Fatalf("state = %v, want awaiting_dual_end_turn", got)
	}

	m.EndTurn("TEXT")

	select {
	case <-terminated:
	case <-time.After(time.Second):
		t.Fatal("never terminated after both channels closed")
	}
	if got := m.State(); got != StateTerminating {
		t.Fatalf("state = %v, want terminating", got)
	}
}

func TestBarrierOrderDoesNotMatter(t *testing.T) {
	m := newTestMachine(&fakeInterruptor{}, 10*time.Millisecond, time.Hour)
	terminated := make(chan struct{})
	m.SetCallbacks(nil, func() { close(terminated) })

	m.RequestHangup()
	m.EndTurn("TEXT")
	m.EndTurn("AUDIO")

	select {
	case <-terminated:
	case <-time.After(time.Second):
		t.Fatal("never terminated")
	}
}

func TestEndTurnWithoutHangupReturnsToIdle(t *testing.T) {
	m := newTestMachine(&fakeInterruptor{}, time.Hour, time.Hour)

	m.ModelSpeaking()
	m.EndTurn("AUDIO")
	m.EndTurn("TEXT")

	if got := m.State(); got != StateIdle {
		t.Fatalf("state = %v, want idle", got)
	}
}

func TestCeilingForcesTerminationOnLoneSignal(t *testing.T) {
	m := newTestMachine(&fakeInterruptor{}, time.Hour, 50*time.Millisecond)
	terminated := make(chan struct{})
	m.SetCallbacks(nil, func() { close(terminated) })

	m.RequestHangup()
	m.EndTurn("AUDIO")

	select {
	case <-terminated:
	case <-time.After(time.Second):
		t.Fatal("ceiling never forced termination")
	}
}

func TestRequestHangupIdempotent(t *testing.T) {
	m := newTestMachine(&fakeInterruptor{}, 10*time.Millisecond, time.Hour)
	terminations := make(chan struct{}, 4)
	m.SetCallbacks(nil, func() { terminations <- struct{}{} })

	m.RequestHangup()
	m.RequestHangup()
	m.EndTurn("AUDIO")
	m.EndTurn("TEXT")

	select {
	case <-terminations:
	case <-time.After(time.Second):
		t.Fatal("never terminated")
	}
	select {
	case <-terminations:
		t.Fatal("terminate callback fired more than once")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestInterruptResetsBarrierProgress(t *testing.T) {
	m := newTestMachine(&fakeInterruptor{}, 10*time.Millisecond, time.Hour)
	terminated := make(chan struct{})
	m.SetCallbacks(nil, func() { close(terminated) })

	m.RequestHangup()
	m.EndTurn("AUDIO")
	m.Interrupted()
	m.EndTurn("TEXT")

	// The audio signal was invalidated by the barge-in; one fresh TEXT
	// signal alone must not complete the barrier.
	select {
	case <-terminated:
		t.Fatal("terminated despite barge-in resetting the barrier")
	case <-time.After(100 * time.Millisecond):
	}

	m.EndTurn("AUDIO")
	select {
	case <-terminated:
	case <-time.After(time.Second):
		t.Fatal("never terminated after fresh dual signals")
	}
}

func TestForceTerminate(t *testing.T) {
	m := newTestMachine(&fakeInterruptor{}, time.Hour, time.Hour)
	terminated := make(chan struct{})
	m.SetCallbacks(nil, func() { close(terminated) })

	m.ForceTerminate()

	select {
	case <-terminated:
	case <-time.After(time.Second):
		t.Fatal("ForceTerminate never fired the callback")
	}
	if got := m.State(); got != StateTerminating {
		t.Fatalf("state = %v, want terminating", got)
	}
}

func TestShutdownSuppressesCallbacks(t *testing.T) {
	m := newTestMachine(&fakeInterruptor{}, 10*time.Millisecond, 20*time.Millisecond)
	terminated := make(chan struct{}, 1)
	m.SetCallbacks(nil, func() { terminated <- struct{}{} })

	m.RequestHangup()
	m.EndTurn("AUDIO")
	m.Shutdown()

	select {
	case <-terminated:
		t.Fatal("callback fired after shutdown")
	case <-time.After(100 * time.Millisecond):
	}
}
