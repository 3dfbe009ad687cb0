package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/traduki/traduki/internal/storage"
)

type fakeChecker struct {
	checked []string
	err     error
}

func (f *fakeChecker) CheckForUpdates(ctx context.Context, conversationID string) error {
	f.checked = append(f.checked, conversationID)
	return f.err
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestWorkerProcessesEnqueuedExtraction(t *testing.T) {
	store := newTestStore(t)
	checker := &fakeChecker{}
	q := NewQueue(store)
	w := NewWorker(store, checker, 0)

	if err := q.EnqueueExtraction("c1"); err != nil {
		t.Fatalf("EnqueueExtraction: %v", err)
	}

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("no job claimed")
	}
	if len(checker.checked) != 1 || checker.checked[0] != "c1" {
		t.Errorf("checked = %v", checker.checked)
	}

	// Queue drained.
	done, err = w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if done {
		t.Error("claimed a job from an empty queue")
	}
}

func TestWorkerRetriesFailedJob(t *testing.T) {
	store := newTestStore(t)
	checker := &fakeChecker{err: errors.New("extraction failed")}
	q := NewQueue(store)
	w := NewWorker(store, checker, 0)

	if err := q.EnqueueExtraction("c1"); err != nil {
		t.Fatalf("EnqueueExtraction: %v", err)
	}

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("no job claimed")
	}

	// The failure marks the job for retry with backoff, so an immediate
	// second poll finds nothing runnable.
	done, err = w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if done {
		t.Error("failed job claimed again before its backoff elapsed")
	}
}
