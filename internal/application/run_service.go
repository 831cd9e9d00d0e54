package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jobrunner/verdant/internal/domain"
)

// ErrRateLimited is returned when the run API rate limit is exceeded.
var ErrRateLimited = errors.New("rate limit exceeded")

// triggerCooldown is the minimum gap between manual triggers.
const triggerCooldown = 30 * time.Second

// RunService schedules pipeline runs and serves manual triggers.
type RunService struct {
	pipeline *PipelineService
	request  domain.RunRequest
	interval time.Duration
	logger   *slog.Logger

	// Lifecycle management
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Rate limiting for API triggers
	lastTrigger time.Time
	apiMutex    sync.Mutex

	// Serializes pipeline runs
	runMutex sync.Mutex

	// Latest report and scheduling state
	stateMu sync.RWMutex
	latest  *domain.RunReport
	runs    int
	nextRun time.Time
}

// NewRunService creates a run service. A zero interval disables the scheduler.
func NewRunService(pipeline *PipelineService, request domain.RunRequest, interval time.Duration, logger *slog.Logger) *RunService {
	return &RunService{
		pipeline: pipeline,
		request:  request,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		// Initialize to past time to allow immediate first API call
		lastTrigger: time.Now().Add(-triggerCooldown - time.Second),
	}
}

// Start begins the periodic scheduler.
func (s *RunService) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("run scheduler disabled")
		return
	}
	s.logger.Info("starting run scheduler", "interval", s.interval)

	s.wg.Add(1)
	go s.loop(ctx)
}

func (s *RunService) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.setNextRun(time.Now().Add(s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("run scheduler stopped: context canceled")
			return
		case <-s.stopCh:
			s.logger.Info("run scheduler stopped")
			return
		case <-ticker.C:
			s.logger.Debug("scheduled run triggered")
			s.RunNow(ctx)
			s.setNextRun(time.Now().Add(s.interval))
		}
	}
}

// Stop gracefully stops the scheduler and waits for a running pass.
func (s *RunService) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("stopping run scheduler")
		close(s.stopCh)
	})
	s.wg.Wait()
}

// TriggerRun runs the pipeline now. It returns ErrRateLimited when called
// again within the cooldown.
func (s *RunService) TriggerRun(ctx context.Context) (domain.RunReport, error) {
	s.apiMutex.Lock()
	if time.Since(s.lastTrigger) < triggerCooldown {
		s.apiMutex.Unlock()
		return domain.RunReport{}, ErrRateLimited
	}
	s.lastTrigger = time.Now()
	s.apiMutex.Unlock()

	return s.RunNow(ctx), nil
}

// RunNow runs the pipeline without rate limiting. Runs never overlap.
func (s *RunService) RunNow(ctx context.Context) domain.RunReport {
	s.runMutex.Lock()
	defer s.runMutex.Unlock()

	report := s.pipeline.Run(ctx, s.request)

	s.stateMu.Lock()
	s.latest = &report
	s.runs++
	s.stateMu.Unlock()

	return report
}

// LatestReport returns the report of the most recent run.
func (s *RunService) LatestReport() (domain.RunReport, bool) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.latest == nil {
		return domain.RunReport{}, false
	}
	return *s.latest, true
}

// RunsTotal returns the number of runs since start.
func (s *RunService) RunsTotal() int {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.runs
}

// NextRun returns the next scheduled run time, zero when unscheduled.
func (s *RunService) NextRun() time.Time {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.nextRun
}

func (s *RunService) setNextRun(t time.Time) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.nextRun = t
}

// Interval returns the scheduler interval.
func (s *RunService) Interval() time.Duration {
	return s.interval
}

// Request returns the configured run request.
func (s *RunService) Request() domain.RunRequest {
	return s.request
}
