package voice_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/voicepool/pkg/voice"
)

func TestNotifier_PanickingCallbackIsContained(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	var delivered atomic.Int32
	n := voice.NewNotifier(
		voice.WithNotifierLogger(logger),
		voice.OnDelivered(func(voice.Eviction) { delivered.Add(1) }),
	)
	p := newPool(t, 1, voice.WithNotifier(n))

	mustAcquire(t, p, 1, func(voice.Handle, any) { panic("owner bug") }, nil)
	mustAcquire(t, p, 2, func(voice.Handle, any) {}, nil)
	mustAcquire(t, p, 3, nil, nil)

	if got := n.Drain(); got != 2 {
		t.Fatalf("Drain = %d, want 2", got)
	}
	if delivered.Load() != 1 {
		t.Fatalf("delivered = %d, want 1 (the panicking callback is not counted)", delivered.Load())
	}
	if !strings.Contains(buf.String(), "eviction callback panicked") {
		t.Fatalf("panic not logged: %q", buf.String())
	}
	mustCheck(t, p)
}

func TestNotifier_CallbackMayReenterPool(t *testing.T) {
	t.Parallel()

	p := newPool(t, 1)
	var refused atomic.Bool
	mustAcquire(t, p, 1, func(voice.Handle, any) {
		// The pool lock is not held here, so this must not deadlock.
		_, ok := p.AcquireVoice(0, nil, nil)
		refused.Store(!ok)
		_ = p.Check()
	}, nil)
	mustAcquire(t, p, 5, nil, nil)

	done := make(chan struct{})
	go func() {
		p.Notifier().Drain()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback re-entering the pool deadlocked")
	}
	if !refused.Load() {
		t.Fatal("callback's low-priority acquisition should have been refused")
	}
}

func TestNotifier_Run(t *testing.T) {
	t.Parallel()

	p := newPool(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Notifier().Run(ctx) }()

	got := make(chan voice.Handle, 1)
	first := mustAcquire(t, p, 1, func(h voice.Handle, _ any) { got <- h }, nil)
	mustAcquire(t, p, 2, nil, nil)

	select {
	case h := <-got:
		if h != first {
			t.Fatalf("notified %v, want %v", h, first)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not deliver the eviction")
	}

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
}

func TestNotifier_RunDeliversAfterAcquireCompletes(t *testing.T) {
	t.Parallel()

	n := voice.NewNotifier()
	var acquiredDone, early atomic.Bool
	p := newPool(t, 1,
		voice.WithNotifier(n),
		voice.WithHooks(voice.Hooks{
			// Slow observers widen the window between the eviction and the
			// end of the acquiring call.
			Evicted: func(voice.Eviction, voice.Handle) { time.Sleep(50 * time.Millisecond) },
			Acquired: func(_ voice.Handle, _ uint32, evicted bool) {
				if evicted {
					time.Sleep(50 * time.Millisecond)
					acquiredDone.Store(true)
				}
			},
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = n.Run(ctx) }()

	got := make(chan struct{})
	mustAcquire(t, p, 1, func(voice.Handle, any) {
		early.Store(!acquiredDone.Load())
		close(got)
	}, nil)
	mustAcquire(t, p, 5, nil, nil)

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not deliver the eviction")
	}
	if early.Load() {
		t.Fatal("eviction callback ran before the evicting AcquireVoice finished")
	}
}

func TestNotifier_RunDeliversOnShutdown(t *testing.T) {
	t.Parallel()

	n := voice.NewNotifier()
	p := newPool(t, 1, voice.WithNotifier(n))
	var delivered atomic.Int32
	mustAcquire(t, p, 1, func(voice.Handle, any) { delivered.Add(1) }, nil)
	mustAcquire(t, p, 2, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = n.Run(ctx)
	if delivered.Load() != 1 {
		t.Fatalf("delivered = %d, want 1", delivered.Load())
	}
	if n.Pending() != 0 {
		t.Fatalf("pending = %d after shutdown", n.Pending())
	}
}
