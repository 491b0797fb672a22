// Package schedule runs the periodic jobs: the daily digest posted to
// source rooms and the janitor that evicts finished tasks.
package schedule

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"taskbot/pkg/logx"
)

type Config struct {
	Timezone string
	// Digest and Janitor are cron specs; empty disables the job.
	Digest  string
	Janitor string
}

// Job is one scheduled unit of work.
type Job func(ctx context.Context, now time.Time) error

type Jobs struct {
	Digest  Job
	Janitor Job
}

// Job names, as used in logs, Next and RunNow.
const (
	JobDigest  = "digest"
	JobJanitor = "janitor"

	jobTimeout = 2 * time.Minute
)

type run struct {
	name string
	job  Job
	at   time.Time
}

// Service owns one cron instance; Apply rebuilds it when specs or the
// timezone change.
type Service struct {
	log    logx.Logger
	jobs   Jobs
	parser cron.Parser

	mu     sync.Mutex
	cfg    Config
	loc    *time.Location
	c      *cron.Cron
	ids    map[string]cron.EntryID
	queue  chan run
	stopCh chan struct{}
	wg     sync.WaitGroup

	runs     atomic.Uint64
	failures atomic.Uint64
	dropped  atomic.Uint64
}

func New(log logx.Logger, jobs Jobs) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:    log.With(logx.String("comp", "schedule")),
		jobs:   jobs,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		loc:    time.Local,
	}
}

// Start begins firing jobs. It is a no-op when already running.
func (s *Service) Start(ctx context.Context, cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.cfg = cfg
	s.stopCh = make(chan struct{})
	s.queue = make(chan run, 16)

	stopCh, queue := s.stopCh, s.queue
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.worker(ctx, stopCh, queue)
	}()
	s.startCronLocked()
}

// Apply swaps the config, rebuilding the cron table if anything changed.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.cfg
	s.cfg = cfg
	if s.stopCh == nil || prev == cfg {
		return
	}
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	s.startCronLocked()
	s.log.Info("schedule reloaded", logx.String("tz", s.loc.String()))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	c := s.c
	s.c = nil
	close(s.stopCh)
	s.stopCh = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("schedule stopped")
	case <-ctx.Done():
		s.log.Warn("schedule stop timed out")
	}
}

func (s *Service) startCronLocked() {
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	s.ids = map[string]cron.EntryID{}
	s.addLocked(JobDigest, s.cfg.Digest, s.jobs.Digest)
	s.addLocked(JobJanitor, s.cfg.Janitor, s.jobs.Janitor)
	s.c.Start()
	s.log.Info("schedule started",
		logx.String("tz", s.loc.String()),
		logx.String("digest", s.cfg.Digest),
		logx.String("janitor", s.cfg.Janitor),
	)
}

func (s *Service) addLocked(name, spec string, job Job) {
	spec = strings.TrimSpace(spec)
	if spec == "" || job == nil {
		return
	}
	loc, queue := s.loc, s.queue
	id, err := s.c.AddFunc(spec, func() {
		s.enqueue(queue, run{name: name, job: job, at: time.Now().In(loc)})
	})
	if err != nil {
		s.log.Warn("invalid schedule, job disabled", logx.String("job", name), logx.String("spec", spec), logx.Err(err))
		return
	}
	s.ids[name] = id
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Location is the timezone jobs currently fire in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// Next reports when each enabled job fires next.
func (s *Service) Next() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]time.Time{}
	if s.c == nil {
		return out
	}
	for name, id := range s.ids {
		out[name] = s.c.Entry(id).Next
	}
	return out
}

func (s *Service) enqueue(queue chan run, r run) {
	select {
	case queue <- r:
	default:
		s.dropped.Add(1)
		s.log.Warn("schedule queue full, dropping run", logx.String("job", r.name))
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan run) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case r := <-queue:
			s.exec(ctx, r)
		}
	}
}

// RunNow executes a job synchronously, outside the cron table.
func (s *Service) RunNow(ctx context.Context, name string) error {
	var job Job
	switch name {
	case JobDigest:
		job = s.jobs.Digest
	case JobJanitor:
		job = s.jobs.Janitor
	}
	if job == nil {
		return nil
	}
	return s.exec(ctx, run{name: name, job: job, at: time.Now().In(s.Location())})
}

func (s *Service) exec(ctx context.Context, r run) (err error) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			s.failures.Add(1)
			err = fmt.Errorf("job %s panicked: %v", r.name, p)
			s.log.Error("panic in scheduled job", logx.String("job", r.name), logx.Any("panic", p), logx.Stack(string(debug.Stack())))
		}
	}()
	rctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	s.runs.Add(1)
	if err = r.job(rctx, r.at); err != nil {
		s.failures.Add(1)
		s.log.Warn("scheduled job failed", logx.String("job", r.name), logx.Err(err), logx.Duration("took", time.Since(start)))
		return err
	}
	s.log.Debug("scheduled job ok", logx.String("job", r.name), logx.Duration("took", time.Since(start)))
	return nil
}

// Counters feeds the health report.
func (s *Service) Counters() map[string]uint64 {
	return map[string]uint64{
		"schedule_runs":     s.runs.Load(),
		"schedule_failures": s.failures.Load(),
		"schedule_dropped":  s.dropped.Load(),
	}
}
