package batch

import (
	"context"
	"sync/atomic"

	"github.com/Sternrassler/cnpj-batch-client/pkg/projector"
	"github.com/google/uuid"
)

// Task is a handle on a run executing in the background.
type Task struct {
	runID     string
	total     int
	completed atomic.Int64
	cancel    context.CancelFunc
	done      chan struct{}

	// Written by the worker before done is closed.
	rows []projector.Row
	err  error
}

// Start runs the scheduler on its own goroutine. onProgress, if non-nil, is
// invoked on that goroutine. The identifier and field slices are copied.
func (s *Scheduler) Start(ctx context.Context, ids []string, fields projector.FieldSpec, onProgress ProgressFunc) *Task {
	ids = append([]string(nil), ids...)
	fields = append(projector.FieldSpec(nil), fields...)

	taskCtx, cancel := context.WithCancel(ctx)
	t := &Task{
		runID:  uuid.NewString(),
		total:  len(ids),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(t.done)
		defer cancel()

		t.rows, t.err = s.run(taskCtx, t.runID, ids, fields, func(completed, total int) {
			t.completed.Store(int64(completed))
			if onProgress != nil {
				onProgress(completed, total)
			}
		})
	}()

	return t
}

// RunID identifies the run in logs.
func (t *Task) RunID() string {
	return t.runID
}

// Wait blocks until the run finishes and returns its rows and error.
func (t *Task) Wait() ([]projector.Row, error) {
	<-t.done
	return t.rows, t.err
}

// Cancel asks the run to stop at the next identifier or delay boundary.
// It does not wait; call Wait to collect the partial rows.
func (t *Task) Cancel() {
	t.cancel()
}

// Done is closed when the run has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// IsDone reports whether the run has finished.
func (t *Task) IsDone() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Progress returns the latest progress snapshot.
func (t *Task) Progress() Progress {
	return Progress{
		Completed: int(t.completed.Load()),
		Total:     t.total,
	}
}
