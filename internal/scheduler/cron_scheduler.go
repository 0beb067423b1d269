// Package scheduler runs the agent's periodic housekeeping jobs, such as
// watch resynchronisation and history cleanup.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// JobFunc is the work of a scheduled job
type JobFunc func(ctx context.Context)

// JobInfo describes a registered job
type JobInfo struct {
	Name       string     `json:"name"`
	Expression string     `json:"expression"`
	Runs       int64      `json:"runs"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	NextRun    *time.Time `json:"next_run,omitempty"`
}

// CronScheduler runs named jobs on cron expressions
type CronScheduler struct {
	logger *zap.Logger
	cron   *cron.Cron
	parser cron.Parser

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[string]*cronJob
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}

// NewCronScheduler creates a scheduler. Expressions take an optional leading
// seconds field and the @every / @daily style descriptors.
func NewCronScheduler(logger *zap.Logger) *CronScheduler {
	logger = logger.Named("scheduler")
	cronLogger := &cronLogger{logger: logger.Named("cron")}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

	ctx, cancel := context.WithCancel(context.Background())
	return &CronScheduler{
		logger: logger,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		parser: parser,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*cronJob),
	}
}

// Start starts the scheduler
func (s *CronScheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish
func (s *CronScheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Scheduler stopped")
}

// AddJob registers fn under name, to run on expression
func (s *CronScheduler) AddJob(name, expression string, fn JobFunc) error {
	spec, err := s.parser.Parse(expression)
	if err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidSchedule, expression, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}

	job := &cronJob{scheduler: s, name: name, expression: expression, fn: fn}
	job.entryID = s.cron.Schedule(spec, job)
	s.jobs[name] = job

	s.logger.Info("Added job",
		zap.String("name", name),
		zap.String("expression", expression),
		zap.Time("next_run", spec.Next(time.Now())))

	return nil
}

// RemoveJob unregisters a job
func (s *CronScheduler) RemoveJob(name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	if ok {
		delete(s.jobs, name)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}

	s.cron.Remove(job.entryID)
	s.logger.Info("Removed job", zap.String("name", name))
	return nil
}

// Jobs lists the registered jobs, sorted by name
func (s *CronScheduler) Jobs() []JobInfo {
	s.mu.Lock()
	jobs := make([]JobInfo, 0, len(s.jobs))
	for _, job := range s.jobs {
		info := JobInfo{
			Name:       job.name,
			Expression: job.expression,
			Runs:       job.runs,
			LastRun:    job.lastRun,
		}
		if next := s.cron.Entry(job.entryID).Next; !next.IsZero() {
			info.NextRun = &next
		}
		jobs = append(jobs, info)
	}
	s.mu.Unlock()

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs
}

// cronJob implements cron.Job
type cronJob struct {
	scheduler  *CronScheduler
	name       string
	expression string
	fn         JobFunc
	entryID    cron.EntryID

	// guarded by scheduler.mu
	runs    int64
	lastRun *time.Time
}

// Run implements cron.Job
func (j *cronJob) Run() {
	start := time.Now()

	j.fn(j.scheduler.ctx)

	j.scheduler.mu.Lock()
	j.runs++
	j.lastRun = &start
	j.scheduler.mu.Unlock()

	j.scheduler.logger.Debug("Executed job",
		zap.String("name", j.name),
		zap.Duration("duration", time.Since(start)))
}
