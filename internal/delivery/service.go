package delivery

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"taskbot/internal/transport"
	"taskbot/pkg/logx"
)

type Service struct {
	out transport.Sender
	log logx.Logger

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
}

func New(out transport.Sender, cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{out: out, log: log}
	s.Apply(cfg)
	return s
}

// Apply swaps pacing and retry settings; in-flight fan-outs keep the old ones.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

func (s *Service) snapshot() (Config, *rate.Limiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.limiter
}

// Send posts every message and reports per-destination results.
func (s *Service) Send(ctx context.Context, msgs []Message) Report {
	rep := s.run(ctx, len(msgs), func(i int) transport.ChatTarget { return msgs[i].To },
		func(ctx context.Context, i int) (transport.MessageRef, error) {
			m := msgs[i]
			if m.Attachment != nil && !m.Attachment.IsZero() {
				return s.out.SendAttachment(ctx, m.To, *m.Attachment, m.Text, m.Options)
			}
			return s.out.SendText(ctx, m.To, m.Text, m.Options)
		})
	s.logReport("send", rep)
	return rep
}

// Edit applies every edit and reports per-message results.
func (s *Service) Edit(ctx context.Context, edits []Edit) Report {
	target := func(i int) transport.ChatTarget {
		return transport.ChatTarget{ChatID: edits[i].Ref.ChatID, ThreadID: edits[i].Ref.ThreadID}
	}
	rep := s.run(ctx, len(edits), target, func(ctx context.Context, i int) (transport.MessageRef, error) {
		e := edits[i]
		var err error
		if e.ClearOnly {
			err = s.out.ClearMarkup(ctx, e.Ref)
		} else {
			err = s.out.EditText(ctx, e.Ref, e.Text, e.Options)
		}
		if err != nil {
			return transport.MessageRef{}, err
		}
		return e.Ref, nil
	})
	s.logReport("edit", rep)
	return rep
}

func (s *Service) run(ctx context.Context, n int, target func(int) transport.ChatTarget, op func(context.Context, int) (transport.MessageRef, error)) Report {
	start := time.Now()
	cfg, lim := s.snapshot()
	refs := make([]transport.MessageRef, n)
	errs := make([]error, n)

	var eg errgroup.Group
	eg.SetLimit(cfg.Workers)
	for i := 0; i < n; i++ {
		eg.Go(func() error {
			refs[i], errs[i] = s.attempt(ctx, cfg, lim, target(i), func(c context.Context) (transport.MessageRef, error) {
				return op(c, i)
			})
			return nil
		})
	}
	_ = eg.Wait()

	rep := Report{Total: n, Refs: refs, Took: time.Since(start)}
	for i, err := range errs {
		if err != nil {
			refs[i] = transport.MessageRef{}
			rep.Failures = append(rep.Failures, Failure{Index: i, To: target(i), Err: err})
			continue
		}
		rep.Delivered++
	}
	return rep
}

func (s *Service) attempt(ctx context.Context, cfg Config, lim *rate.Limiter, to transport.ChatTarget, fn func(context.Context) (transport.MessageRef, error)) (transport.MessageRef, error) {
	var last error
	for i := 0; i <= cfg.RetryMax; i++ {
		if err := lim.Wait(ctx); err != nil {
			return transport.MessageRef{}, err
		}
		sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		ref, err := fn(sctx)
		cancel()
		if err == nil {
			return ref, nil
		}
		last = err
		if i == cfg.RetryMax {
			break
		}
		delay := time.Duration(200+100*i) * time.Millisecond
		s.log.Debug("delivery retry scheduled", logx.Int64("chat_id", to.ChatID), logx.Int("attempt", i+2), logx.Duration("delay", delay), logx.Err(err))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return transport.MessageRef{}, ctx.Err()
		case <-t.C:
		}
	}
	s.log.Warn("delivery failed", logx.Int64("chat_id", to.ChatID), logx.Int("thread_id", to.ThreadID), logx.Err(last))
	return transport.MessageRef{}, last
}

func (s *Service) logReport(op string, rep Report) {
	if rep.Total == 0 {
		return
	}
	fields := []logx.Field{
		logx.String("op", op),
		logx.Int("total", rep.Total),
		logx.Int("delivered", rep.Delivered),
		logx.Duration("dur", rep.Took),
	}
	if len(rep.Failures) > 0 {
		s.log.Warn("fan-out finished with failures", fields...)
		return
	}
	s.log.Debug("fan-out finished", fields...)
}
