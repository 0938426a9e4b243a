package shutdown_test

import (
	"context"
	"errors"
	"io"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"focuslist/internal/shutdown"
	"focuslist/internal/utils"
)

func init() {
	utils.SetOutput(io.Discard)
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestShutdownCancelsContext verifies in-flight work sees the cancellation
func TestShutdownCancelsContext(t *testing.T) {
	mgr := shutdown.NewManager()
	if mgr.IsShutdown() {
		t.Fatal("new manager should not be shut down")
	}

	mgr.Shutdown()

	if !mgr.IsShutdown() {
		t.Error("expected IsShutdown after Shutdown")
	}
	select {
	case <-mgr.Context().Done():
	default:
		t.Error("expected context to be cancelled after shutdown")
	}
}

// TestShutdownOnSignal verifies a signal triggers shutdown
func TestShutdownOnSignal(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("signals are not delivered this way on windows")
	}
	mgr := shutdown.NewManager()
	stop := mgr.NotifyOn(syscall.SIGUSR1)
	defer stop()

	proc, err := os.FindProcess(os.Getpid())
	if err != nil {
		t.Fatal(err)
	}
	if err := proc.Signal(syscall.SIGUSR1); err != nil {
		t.Fatal(err)
	}

	select {
	case <-mgr.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("signal did not trigger shutdown")
	}
}

// TestStopIgnoresLaterSignals verifies stop is idempotent and detaches
func TestStopIgnoresLaterSignals(t *testing.T) {
	mgr := shutdown.NewManager()
	stop := mgr.NotifyOn(syscall.SIGUSR2)
	stop()
	stop()

	if mgr.IsShutdown() {
		t.Error("stop should not trigger shutdown")
	}
}

// TestCleanupWaitsForInflightRequest mirrors serve: the server drains first
func TestCleanupWaitsForInflightRequest(t *testing.T) {
	mgr := shutdown.NewManager()

	requestDone := make(chan struct{})
	var drained atomic.Bool

	mgr.RegisterCleanup("http-server", func(ctx context.Context) error {
		select {
		case <-requestDone:
			drained.Store(true)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(requestDone)
	}()

	mgr.Shutdown()
	if err := mgr.Wait(waitCtx(t)); err != nil {
		t.Errorf("expected no error, got: %v", err)
	}
	if !drained.Load() {
		t.Error("expected in-flight request to finish before shutdown completed")
	}
}

// TestCleanupOrder verifies cleanups run last registered first
func TestCleanupOrder(t *testing.T) {
	mgr := shutdown.NewManager()

	var order []string
	var mu sync.Mutex
	for _, name := range []string{"store", "controller", "http-server"} {
		name := name
		mgr.RegisterCleanup(name, func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		})
	}

	mgr.Shutdown()
	_ = mgr.Wait(waitCtx(t))

	want := []string{"http-server", "controller", "store"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

// TestCleanupErrorsAreJoined verifies a failing cleanup does not stop the rest
func TestCleanupErrorsAreJoined(t *testing.T) {
	mgr := shutdown.NewManager()
	errStore := errors.New("close failed")
	var ranFirst atomic.Bool

	mgr.RegisterCleanup("first", func(ctx context.Context) error {
		ranFirst.Store(true)
		return nil
	})
	mgr.RegisterCleanup("store", func(ctx context.Context) error {
		return errStore
	})

	mgr.Shutdown()
	err := mgr.Wait(waitCtx(t))
	if !errors.Is(err, errStore) {
		t.Errorf("Wait error = %v, want it to wrap errStore", err)
	}
	if !ranFirst.Load() {
		t.Error("remaining cleanups should still run")
	}
}

// TestShutdownTimeout verifies Wait gives up at the deadline
func TestShutdownTimeout(t *testing.T) {
	mgr := shutdown.NewManager()

	mgr.RegisterCleanup("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	mgr.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := mgr.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait error = %v, want deadline exceeded", err)
	}
}

// TestCleanupRunsOnce verifies concurrent Shutdown and repeated Wait
func TestCleanupRunsOnce(t *testing.T) {
	mgr := shutdown.NewManager()

	var count atomic.Int32
	mgr.RegisterCleanup("test", func(ctx context.Context) error {
		count.Add(1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mgr.Shutdown()
		}()
	}
	wg.Wait()

	_ = mgr.Wait(waitCtx(t))
	_ = mgr.Wait(waitCtx(t))

	if count.Load() != 1 {
		t.Errorf("expected cleanup to run exactly once, got %d", count.Load())
	}
}
