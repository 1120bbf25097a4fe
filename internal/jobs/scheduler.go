package jobs

import (
	"context"
	"sync"
	"time"

	"tenantcore/internal/logger"
	"tenantcore/internal/metrics"

	"github.com/go-co-op/gocron/v2"
)

const trialSweepTimeout = time.Minute

// TrialExpirer is the slice of the tenant registry the sweep needs.
type TrialExpirer interface {
	ExpireTrials(ctx context.Context, now time.Time) (int, error)
}

// JobScheduler runs the periodic maintenance jobs.
type JobScheduler struct {
	scheduler gocron.Scheduler
	tenants   TrialExpirer
	metrics   *metrics.Metrics
	log       logger.Logger
	now       func() time.Time

	mu   sync.RWMutex
	jobs map[string]gocron.Job
}

// NewJobScheduler builds the scheduler and registers the trial sweep every
// interval. Pass a gocron.WithClock option in tests.
func NewJobScheduler(tenants TrialExpirer, m *metrics.Metrics, log logger.Logger, interval time.Duration, opts ...gocron.SchedulerOption) (*JobScheduler, error) {
	scheduler, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, err
	}
	js := &JobScheduler{
		scheduler: scheduler,
		tenants:   tenants,
		metrics:   m,
		log:       log,
		now:       time.Now,
		jobs:      make(map[string]gocron.Job),
	}

	job, err := scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(js.SweepTrials, context.Background()),
		gocron.WithName("trial-expiry-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return nil, err
	}
	js.jobs["trial-sweep"] = job

	log.Info("Registered background jobs", logger.Int("count", len(js.jobs)))
	return js, nil
}

func (js *JobScheduler) Start() {
	js.log.Info("Starting background job scheduler")
	js.scheduler.Start()
}

func (js *JobScheduler) Stop() error {
	js.log.Info("Stopping background job scheduler")
	return js.scheduler.Shutdown()
}

// Job returns a registered job by key.
func (js *JobScheduler) Job(key string) (gocron.Job, bool) {
	js.mu.RLock()
	defer js.mu.RUnlock()
	job, ok := js.jobs[key]
	return job, ok
}

// SweepTrials marks every trial whose window has elapsed as expired.
func (js *JobScheduler) SweepTrials(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, trialSweepTimeout)
	defer cancel()

	n, err := js.tenants.ExpireTrials(ctx, js.now())
	if err != nil {
		js.log.Error("Trial expiry sweep failed", logger.Error(err))
		return err
	}
	js.metrics.ObserveTrialsExpired(n)
	if n > 0 {
		js.log.Info("Expired tenant trials", logger.Int("count", n))
	}
	return nil
}
