package daemon

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	dirsync "github.com/thaliawww/cxdir/internal/directory/sync"
)

// PassRunner triggers reconciliation passes.
type PassRunner interface {
	Run(ctx context.Context, kind dirsync.Kind) (*dirsync.Result, error)
}

// Scheduler fires passes on cron schedules, one entry per kind.
type Scheduler struct {
	cron   *cron.Cron
	runner PassRunner
	logger *zap.Logger

	mu      sync.Mutex
	ctx     context.Context
	entries map[dirsync.Kind]scheduled
}

type scheduled struct {
	id   cron.EntryID
	spec string
}

// NewScheduler creates a stopped scheduler. Passes it fires run under ctx.
func NewScheduler(ctx context.Context, runner PassRunner, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("scheduler")

	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cronLogger{logger.Sugar()}))),
		runner:  runner,
		logger:  logger,
		ctx:     ctx,
		entries: make(map[dirsync.Kind]scheduled),
	}
}

// Schedule sets the cron spec for kind, replacing any previous entry.
// An unchanged spec keeps the existing entry and its next run time.
func (s *Scheduler) Schedule(kind dirsync.Kind, spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.entries[kind]; ok {
		if prev.spec == spec {
			return nil
		}
		s.cron.Remove(prev.id)
		delete(s.entries, kind)
	}

	id, err := s.cron.AddFunc(spec, func() { s.fire(kind) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", spec, kind, err)
	}
	s.entries[kind] = scheduled{id: id, spec: spec}

	s.logger.Info("scheduled pass", zap.String("kind", string(kind)), zap.String("schedule", spec))
	return nil
}

func (s *Scheduler) fire(kind dirsync.Kind) {
	if s.ctx.Err() != nil {
		return
	}
	// The runner logs and records failures; nothing more to do here.
	_, _ = s.runner.Run(s.ctx, kind)
}

// Start begins firing entries.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for running passes to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Entry describes one scheduled kind.
type Entry struct {
	Kind dirsync.Kind
	Spec string
	Next time.Time
}

// Entries lists the scheduled kinds in name order.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for kind, e := range s.entries {
		out = append(out, Entry{Kind: kind, Spec: e.spec, Next: s.cron.Entry(e.id).Next})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
