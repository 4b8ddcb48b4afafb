package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrJobNotFound is returned for lookups of unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// Runner executes a job's pipeline to completion. Implemented by the
// orchestration pipeline; the manager stays free of pipeline internals.
type Runner interface {
	Run(ctx context.Context, j *Job) error
}

// Records persists job snapshots across runs. Implemented by the store.
type Records interface {
	SaveJob(ctx context.Context, snap Snapshot) error
	LoadJob(ctx context.Context, id string) (Snapshot, error)
	ListJobs(ctx context.Context) ([]Snapshot, error)
	DeleteJob(ctx context.Context, id string) error
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Kind   Kind
	Status Status
}

// Manager supervises jobs: submission, status, cancellation, resume,
// listing, and deletion. One goroutine per running job drives the pipeline.
type Manager struct {
	runner  Runner
	records Records
	bus     *Bus
	logger  *slog.Logger

	mu     sync.Mutex
	active map[string]*handle
}

type handle struct {
	job  *Job
	done chan struct{}
}

// NewManager creates a job manager.
func NewManager(runner Runner, records Records, bus *Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if bus == nil {
		bus = NewBus()
	}
	return &Manager{
		runner:  runner,
		records: records,
		bus:     bus,
		logger:  logger,
		active:  make(map[string]*handle),
	}
}

// Bus returns the progress event bus.
func (m *Manager) Bus() *Bus { return m.bus }

// Submit validates the configuration and dispatches a new job. Configuration
// errors fail the submission before any work is dispatched.
func (m *Manager) Submit(ctx context.Context, cfg Config) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	j := New(cfg)
	if err := m.records.SaveJob(ctx, j.Snapshot()); err != nil {
		return "", fmt.Errorf("persist job: %w", err)
	}

	m.dispatch(j)
	return j.ID, nil
}

// Resume re-opens a failed or cancelled job: persisted frontier state is
// restored by the pipeline and only entries not yet fetched are re-seeded.
func (m *Manager) Resume(ctx context.Context, id string) error {
	m.mu.Lock()
	if _, running := m.active[id]; running {
		m.mu.Unlock()
		return fmt.Errorf("job %s is already running", id)
	}
	m.mu.Unlock()

	snap, err := m.records.LoadJob(ctx, id)
	if err != nil {
		return err
	}
	if snap.Status != StatusFailed && snap.Status != StatusCancelled {
		return fmt.Errorf("job %s is %s, only failed or cancelled jobs can be resumed", id, snap.Status)
	}

	j := restore(snap)
	j.MarkResumed()
	m.dispatch(j)
	return nil
}

func (m *Manager) dispatch(j *Job) {
	h := &handle{job: j, done: make(chan struct{})}
	m.mu.Lock()
	m.active[j.ID] = h
	m.mu.Unlock()

	go m.run(h)
}

func (m *Manager) run(h *handle) {
	defer close(h.done)
	j := h.job
	ctx := context.Background()

	if err := j.Transition(StatusRunning); err != nil {
		m.logger.Error("cannot start job", "job", j.ID, "error", err)
		return
	}
	m.save(ctx, j)

	runErr := m.runner.Run(ctx, j)

	final := StatusCompleted
	switch {
	case j.Cancelled():
		final = StatusCancelled
	case runErr != nil:
		final = StatusFailed
	}
	if err := j.Transition(final); err != nil {
		m.logger.Error("terminal transition failed", "job", j.ID, "error", err)
	}
	if runErr != nil {
		m.logger.Warn("job finished with error", "job", j.ID, "status", final, "error", runErr)
	} else {
		m.logger.Info("job finished", "job", j.ID, "status", final)
	}

	m.save(ctx, j)
	m.bus.Publish(Event{
		Type:     EventTerminal,
		JobID:    j.ID,
		Status:   final,
		Counters: j.Counters.Snapshot(),
	})

	m.mu.Lock()
	delete(m.active, j.ID)
	m.mu.Unlock()
}

func (m *Manager) save(ctx context.Context, j *Job) {
	if err := m.records.SaveJob(ctx, j.Snapshot()); err != nil {
		m.logger.Error("persist job state", "job", j.ID, "error", err)
	}
}

// Status returns the current snapshot for a job, preferring the live job
// over the persisted record.
func (m *Manager) Status(ctx context.Context, id string) (Snapshot, error) {
	m.mu.Lock()
	h, running := m.active[id]
	m.mu.Unlock()

	if running {
		return h.job.Snapshot(), nil
	}
	return m.records.LoadJob(ctx, id)
}

// Cancel requests cooperative cancellation of a running job.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	h, running := m.active[id]
	m.mu.Unlock()

	if !running {
		return fmt.Errorf("job %s is not running", id)
	}
	h.job.Cancel()
	m.logger.Info("cancellation requested", "job", id)
	return nil
}

// Wait blocks until the job's supervising goroutine exits or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) error {
	m.mu.Lock()
	h, running := m.active[id]
	m.mu.Unlock()

	if !running {
		return nil
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// List returns job snapshots matching the filter, live state included.
func (m *Manager) List(ctx context.Context, filter ListFilter) ([]Snapshot, error) {
	snaps, err := m.records.ListJobs(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	for i, snap := range snaps {
		if h, running := m.active[snap.ID]; running {
			snaps[i] = h.job.Snapshot()
		}
	}
	m.mu.Unlock()

	var out []Snapshot
	for _, snap := range snaps {
		if filter.Kind != "" && snap.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && snap.Status != filter.Status {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

// Delete removes a terminal job and cascades to its documents and snippets.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	_, running := m.active[id]
	m.mu.Unlock()
	if running {
		return fmt.Errorf("job %s is running, cancel it first", id)
	}

	snap, err := m.records.LoadJob(ctx, id)
	if err != nil {
		return err
	}
	if !snap.Status.Terminal() {
		return fmt.Errorf("job %s is %s, only terminal jobs can be deleted", id, snap.Status)
	}
	return m.records.DeleteJob(ctx, id)
}
