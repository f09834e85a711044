package provision

import (
	"context"
	"sync"
)

// Fake is an in-memory Executor for tests. It tracks a status per instance
// and can be told to fail or block on demand.
type Fake struct {
	mu       sync.Mutex
	statuses map[string]Status

	// FailNext, when set, makes the next mutating call return the error and
	// mark the instance failed.
	FailNext error

	// Gate, when non-nil, is received from at the start of every mutating
	// call, letting tests hold an operation in flight.
	Gate chan struct{}

	calls int
}

// NewFake creates a fake executor.
func NewFake() *Fake {
	return &Fake{statuses: make(map[string]Status)}
}

// SetStatus overrides the ground-truth status of an instance.
func (f *Fake) SetStatus(instanceID string, status Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[instanceID] = status
}

// Calls returns how many mutating operations ran.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *Fake) begin(ctx context.Context) error {
	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (f *Fake) apply(instanceID string, onSuccess Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.FailNext; err != nil {
		f.FailNext = nil
		f.statuses[instanceID] = StatusFailed
		return err
	}
	f.statuses[instanceID] = onSuccess
	return nil
}

// Allocate implements Executor.
func (f *Fake) Allocate(ctx context.Context, spec Spec) error {
	if err := f.begin(ctx); err != nil {
		return err
	}
	return f.apply(spec.InstanceID, StatusRunning)
}

// Transition implements Executor.
func (f *Fake) Transition(ctx context.Context, spec Spec, op Operation) error {
	if err := f.begin(ctx); err != nil {
		return err
	}
	target := StatusRunning
	if op == OpStop {
		target = StatusStopped
	}
	return f.apply(spec.InstanceID, target)
}

// Deallocate implements Executor.
func (f *Fake) Deallocate(ctx context.Context, spec Spec) error {
	if err := f.begin(ctx); err != nil {
		return err
	}
	return f.apply(spec.InstanceID, StatusAbsent)
}

// Status implements Executor.
func (f *Fake) Status(ctx context.Context, spec Spec) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.statuses[spec.InstanceID]; ok {
		return s, nil
	}
	return StatusAbsent, nil
}
