package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/voxgate/voxgate/internal/model"
)

func recvReport(t *testing.T, d *Dispatcher) Report {
	t.Helper()
	select {
	case r := <-d.Reports():
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for report")
		return Report{}
	}
}

func TestDispatchExecutes(t *testing.T) {
	d := New(2, zap.NewNop())
	defer d.Close()

	var calls atomic.Int32
	d.RegisterFunc("media_pause", func(ctx context.Context, in *model.Intent) error {
		calls.Add(1)
		return nil
	})

	d.Dispatch(&model.Intent{Name: "media_pause", Confidence: 0.9})

	r := recvReport(t, d)
	if r.Outcome != model.OutcomeExecuted || r.Err != nil {
		t.Fatalf("got %+v", r)
	}
	if calls.Load() != 1 {
		t.Fatalf("handler called %d times, want 1", calls.Load())
	}
}

func TestDispatchNoHandler(t *testing.T) {
	d := New(1, zap.NewNop())
	defer d.Close()

	d.Dispatch(&model.Intent{Name: "media_stop"})

	r := recvReport(t, d)
	if r.Outcome != model.OutcomeRejected || r.Reason != model.ReasonHandlerUnavailable {
		t.Fatalf("got %+v", r)
	}
}

func TestDispatchHandlerError(t *testing.T) {
	d := New(1, zap.NewNop())
	defer d.Close()

	want := errors.New("player not running")
	d.RegisterFunc("media_resume", func(ctx context.Context, in *model.Intent) error {
		return want
	})

	d.Dispatch(&model.Intent{Name: "media_resume"})

	r := recvReport(t, d)
	if r.Reason != model.ReasonHandlerFailed || !errors.Is(r.Err, want) {
		t.Fatalf("got %+v", r)
	}
}

func TestDispatchNeverBlocksPipeline(t *testing.T) {
	d := New(1, zap.NewNop())
	defer d.Close()

	release := make(chan struct{})
	d.RegisterFunc("slow", func(ctx context.Context, in *model.Intent) error {
		<-release
		return nil
	})

	done := make(chan struct{})
	go func() {
		// One in-flight, queueSize queued, plus overflow rejections. The
		// caller must return from every Dispatch without the handler
		// finishing.
		for i := 0; i < queueSize+10; i++ {
			d.Dispatch(&model.Intent{Name: "slow"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Dispatch blocked on a hung handler")
	}
	close(release)
}

func TestCloseWaitsForInFlight(t *testing.T) {
	d := New(2, zap.NewNop())

	var finished atomic.Bool
	d.RegisterFunc("lights_off", func(ctx context.Context, in *model.Intent) error {
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	})

	d.Dispatch(&model.Intent{Name: "lights_off"})
	d.Close()

	if !finished.Load() {
		t.Fatal("Close returned before in-flight handler completed")
	}
}
