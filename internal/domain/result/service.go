// Package result runs queries against the configured warehouse adapter and
// keeps track of their results.
package result

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/warehouse/internal/platform/failure"
	"github.com/ehr/warehouse/pkg/resource"
)

type Service struct {
	adapter resource.Adapter
	repo    Repository
	logger  zerolog.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewService(adapter resource.Adapter, repo Repository, logger zerolog.Logger) *Service {
	return &Service{
		adapter: adapter,
		repo:    repo,
		logger:  logger.With().Str("component", "result").Logger(),
		running: make(map[string]context.CancelFunc),
	}
}

func (s *Service) Adapter() resource.Adapter {
	return s.adapter
}

func (s *Service) newResult(ctx context.Context, q resource.Query) (*resource.Result, error) {
	r := &resource.Result{
		ID:           uuid.New().String(),
		ResourceName: s.adapter.Name(),
		Status:       resource.StatusCreated,
		DataType:     s.adapter.QueryDataType(q),
		StartedAt:    time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, r); err != nil {
		return nil, failure.Wrapf(err, "store result")
	}
	return r, nil
}

// Run executes q to a terminal state and returns the stored result. An
// upstream failure is not an error here; it is recorded on the result.
func (s *Service) Run(ctx context.Context, session *resource.Session, q resource.Query) (*resource.Result, error) {
	r, err := s.newResult(ctx, q)
	if err != nil {
		return nil, err
	}
	s.adapter.SubmitAndExecute(s.track(ctx), session, q, r)
	s.persist(context.WithoutCancel(ctx), r)
	return r, nil
}

// Start executes q in the background and returns a snapshot of the result
// as it was created. The run outlives ctx and stops only on Cancel or
// Shutdown.
func (s *Service) Start(ctx context.Context, session *resource.Session, q resource.Query) (*resource.Result, error) {
	r, err := s.newResult(ctx, q)
	if err != nil {
		return nil, err
	}
	snapshot := *r

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.running[r.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.running, r.ID)
			s.mu.Unlock()
			cancel()
		}()
		s.adapter.SubmitAndExecute(s.track(runCtx), session, q, r)
		s.persist(context.WithoutCancel(runCtx), r)
	}()

	s.logger.Info().Str("result_id", r.ID).Msg("query started in background")
	return &snapshot, nil
}

// track stores the result each time the adapter reports a new status or
// handle, so readers see SUBMITTED and RUNNING while the run is in flight.
// The stored copy leaves out Data, which the run is still filling.
func (s *Service) track(ctx context.Context) context.Context {
	return resource.WithProgress(ctx, func(ctx context.Context, r *resource.Result) {
		snapshot := *r
		snapshot.Data = nil
		if err := s.repo.Update(context.WithoutCancel(ctx), &snapshot); err != nil {
			s.logger.Warn().Err(err).Str("result_id", r.ID).Msg("failed to store result progress")
			return
		}
		s.logger.Debug().
			Str("result_id", r.ID).
			Str("status", string(r.Status)).
			Str("handle", r.ActionID).
			Msg("query progress")
	})
}

func (s *Service) persist(ctx context.Context, r *resource.Result) {
	if err := s.repo.Update(ctx, r); err != nil {
		s.logger.Error().Err(err).Str("result_id", r.ID).Msg("failed to store result")
		return
	}
	s.logger.Info().Str("result_id", r.ID).Str("status", string(r.Status)).Msg("query finished")
}

func (s *Service) Get(ctx context.Context, id string) (*resource.Result, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*resource.Result, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// Running reports whether a background run for id is in flight.
func (s *Service) Running(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	return ok
}

// Cancel stops an in-flight run, which then finishes with an ERROR status.
// A result that is no longer running is deleted instead. cancelled reports
// which of the two happened.
func (s *Service) Cancel(ctx context.Context, id string) (cancelled bool, err error) {
	s.mu.Lock()
	cancel, ok := s.running[id]
	s.mu.Unlock()
	if ok {
		cancel()
		s.logger.Info().Str("result_id", id).Msg("query cancelled")
		return true, nil
	}
	return false, s.repo.Delete(ctx, id)
}

// Shutdown cancels every background run and waits for them to store their
// results, or for ctx to be done.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, cancel := range s.running {
		cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
