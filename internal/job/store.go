package job

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Store keeps job records. All implementations must be safe for concurrent
// use and must never expose a partially applied update to readers.
type Store interface {
	// Create inserts a new job. The ID must be unique.
	Create(ctx context.Context, j Job) error

	// Get returns a snapshot of the job. Returns [ErrNotFound] when absent.
	Get(ctx context.Context, id string) (View, error)

	// Start moves a queued job to processing.
	Start(ctx context.Context, id string) error

	// Progress records progress and, when transcript is non-empty, a partial
	// transcript. Progress never decreases and is clamped to [0, 100].
	Progress(ctx context.Context, id string, progress int, transcript string) error

	// AddTemp registers a temp file on the job.
	AddTemp(ctx context.Context, id, path string) error

	// Complete moves a processing job to completed with its final result.
	Complete(ctx context.Context, id string, res Result) error

	// Fail moves a processing job to failed.
	Fail(ctx context.Context, id string, msg string) error

	// Delete removes the job and reports whether it existed. A job that is
	// not yet terminal is tombstoned: it disappears from Get immediately and
	// later writes return [ErrDeleted]. The tombstone is retired by the
	// writer's last write, which is Start for a job deleted while queued.
	Delete(ctx context.Context, id string) bool
}

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
type MemStore struct {
	mu         sync.RWMutex
	jobs       map[string]*Job
	tombstones map[string]struct{}
	now        func() time.Time
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		jobs:       make(map[string]*Job),
		tombstones: make(map[string]struct{}),
		now:        time.Now,
	}
}

// Create implements [Store.Create].
func (s *MemStore) Create(_ context.Context, j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[j.ID]; exists {
		return ErrDuplicateID
	}
	now := s.now()
	j.Status = StatusQueued
	j.Progress = 0
	j.CreatedAt = now
	j.UpdatedAt = now
	j.Temps = slices.Clone(j.Temps)
	s.jobs[j.ID] = &j
	return nil
}

// Get implements [Store.Get].
func (s *MemStore) Get(_ context.Context, id string) (View, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return View{}, ErrNotFound
	}
	return j.view(), nil
}

// Start implements [Store.Start].
func (s *MemStore) Start(_ context.Context, id string) error {
	// A job deleted while queued is never processed, so this is its last write.
	return s.update(id, true, func(j *Job) error {
		return s.transition(j, StatusProcessing)
	})
}

// Progress implements [Store.Progress].
func (s *MemStore) Progress(_ context.Context, id string, progress int, transcript string) error {
	return s.update(id, false, func(j *Job) error {
		if j.Status != StatusProcessing {
			return ErrInvalidTransition
		}
		progress = min(max(progress, 0), 100)
		j.Progress = max(j.Progress, progress)
		if transcript != "" {
			if j.Result == nil {
				j.Result = &Result{}
			}
			j.Result.Transcript = transcript
		}
		return nil
	})
}

// AddTemp implements [Store.AddTemp].
func (s *MemStore) AddTemp(_ context.Context, id, path string) error {
	return s.update(id, false, func(j *Job) error {
		if !slices.Contains(j.Temps, path) {
			j.Temps = append(j.Temps, path)
		}
		return nil
	})
}

// Complete implements [Store.Complete].
func (s *MemStore) Complete(_ context.Context, id string, res Result) error {
	return s.update(id, true, func(j *Job) error {
		if err := s.transition(j, StatusCompleted); err != nil {
			return err
		}
		j.Progress = 100
		j.Result = res.clone()
		return nil
	})
}

// Fail implements [Store.Fail].
func (s *MemStore) Fail(_ context.Context, id string, msg string) error {
	return s.update(id, true, func(j *Job) error {
		if err := s.transition(j, StatusFailed); err != nil {
			return err
		}
		j.Error = msg
		return nil
	})
}

// Delete implements [Store.Delete].
func (s *MemStore) Delete(_ context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return false
	}
	delete(s.jobs, id)
	if !j.Status.Terminal() {
		s.tombstones[id] = struct{}{}
	}
	return true
}

// Len returns the number of visible jobs.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// update applies fn to the job under the write lock. A final write to a
// tombstoned job clears the tombstone.
func (s *MemStore) update(id string, final bool, fn func(*Job) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		if _, dead := s.tombstones[id]; dead {
			if final {
				delete(s.tombstones, id)
			}
			return ErrDeleted
		}
		return ErrNotFound
	}
	if err := fn(j); err != nil {
		return err
	}
	j.UpdatedAt = s.now()
	return nil
}

func (s *MemStore) transition(j *Job, to Status) error {
	if !canTransition(j.Status, to) {
		return ErrInvalidTransition
	}
	j.Status = to
	return nil
}
