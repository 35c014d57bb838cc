package workflow

import "testing"

func TestNewIsIdle(t *testing.T) {
	w := New(Hooks{})
	if w.State() != Idle {
		t.Fatalf("new workflow state = %v, want Idle", w.State())
	}
}

func TestStartTransitionsToRunning(t *testing.T) {
	var started bool
	w := New(Hooks{OnStart: func() { started = true }})
	w.Start()
	if w.State() != Running {
		t.Fatalf("state = %v, want Running", w.State())
	}
	if !started {
		t.Fatal("OnStart hook was not called")
	}
}

func TestStartIsNoOpWhenAlreadyRunning(t *testing.T) {
	var calls int
	w := New(Hooks{OnStart: func() { calls++ }})
	w.Start()
	w.Start()
	if calls != 1 {
		t.Fatalf("OnStart called %d times, want 1", calls)
	}
}

func TestPauseOnlyFromRunning(t *testing.T) {
	var paused bool
	w := New(Hooks{OnPause: func(r *PauseReason) { paused = true }})
	w.Pause(&PauseReason{Data: "M0"}) // Idle: no-op
	if paused || w.State() != Idle {
		t.Fatal("Pause from Idle must be a no-op")
	}
	w.Start()
	w.Pause(&PauseReason{Data: "M0"})
	if !paused || w.State() != Paused {
		t.Fatalf("expected Paused after Pause from Running, got %v", w.State())
	}
}

func TestResumeOnlyFromPaused(t *testing.T) {
	var resumed bool
	w := New(Hooks{OnResume: func() { resumed = true }})
	w.Resume() // Idle: no-op
	if resumed {
		t.Fatal("Resume from Idle must be a no-op")
	}
	w.Start()
	w.Pause(nil)
	w.Resume()
	if !resumed || w.State() != Running {
		t.Fatalf("expected Running after Resume from Paused, got %v", w.State())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	var stops int
	w := New(Hooks{OnStop: func() { stops++ }})
	w.Start()
	w.Stop()
	w.Stop()
	if w.State() != Idle {
		t.Fatalf("state = %v, want Idle", w.State())
	}
	if stops != 1 {
		t.Fatalf("OnStop called %d times, want 1", stops)
	}
}

func TestStateStringer(t *testing.T) {
	cases := map[State]string{Idle: "idle", Running: "running", Paused: "paused"}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
