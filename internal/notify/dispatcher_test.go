package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeSender struct {
	mu       sync.Mutex
	sent     []string
	failures int
}

func (f *fakeSender) SendMessage(_ context.Context, _ int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("transport down")
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestDispatchSendsOnce(t *testing.T) {
	f := &fakeSender{}
	d := NewDispatcher(f, zerolog.Nop())

	n := sampleNotification(KindCompletion)
	if err := d.Dispatch(context.Background(), n); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if f.count() != 1 {
		t.Fatalf("sent %d messages, want 1", f.count())
	}
}

func TestDispatchSuppressesRapidDuplicates(t *testing.T) {
	f := &fakeSender{}
	d := NewDispatcher(f, zerolog.Nop())

	n := sampleNotification(KindCompletion)
	_ = d.Dispatch(context.Background(), n)
	_ = d.Dispatch(context.Background(), n)

	if f.count() != 1 {
		t.Errorf("sent %d messages, want 1 (duplicate suppressed)", f.count())
	}

	// A different kind for the same session is not a duplicate.
	n.Kind = KindWaitingInput
	_ = d.Dispatch(context.Background(), n)
	if f.count() != 2 {
		t.Errorf("sent %d messages, want 2", f.count())
	}
}

func TestDispatchRetriesTransientFailure(t *testing.T) {
	f := &fakeSender{failures: 2}
	d := NewDispatcher(f, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := d.Dispatch(ctx, sampleNotification(KindWaitingInput)); err != nil {
		t.Fatalf("Dispatch() after transient failures = %v, want nil", err)
	}
	if f.count() != 1 {
		t.Errorf("sent %d messages, want 1", f.count())
	}
}

func TestDispatchRespectsCancellation(t *testing.T) {
	f := &fakeSender{failures: 100}
	d := NewDispatcher(f, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.Dispatch(ctx, sampleNotification(KindCompletion))
	if err == nil {
		t.Fatal("Dispatch() with cancelled context = nil, want error")
	}
}
