package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	gosync "sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/thaliawww/cxdir/internal/directory/db"
	"github.com/thaliawww/cxdir/internal/directory/remote"
	"github.com/thaliawww/cxdir/internal/metrics"
)

// ErrUnknownKind is returned by Run for a kind without a reconciler.
var ErrUnknownKind = errors.New("unknown reconciler kind")

// Status is the last known outcome of one reconciler.
type Status struct {
	Kind        Kind      `json:"kind"`
	Running     bool      `json:"running"`
	Runs        int       `json:"runs"`
	LastRun     time.Time `json:"last_run,omitempty"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	LastResult  *Result   `json:"last_result,omitempty"`
}

// Runner is the single entry point for triggering passes.
//
// Concurrent calls to Run for the same kind share one pass. Different kinds
// run independently.
type Runner struct {
	db          *db.DB
	reconcilers map[Kind]Reconciler
	flight      singleflight.Group
	logger      *zap.Logger

	mu        gosync.RWMutex
	observers []Observer
	status    map[Kind]*Status
}

// NewRunner creates a runner over the given reconcilers.
// database may be nil; when set, row gauges are refreshed after each pass.
func NewRunner(database *db.DB, logger *zap.Logger, reconcilers ...Reconciler) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Runner{
		db:          database,
		reconcilers: make(map[Kind]Reconciler, len(reconcilers)),
		logger:      logger.Named("runner"),
		status:      make(map[Kind]*Status, len(reconcilers)),
	}
	for _, rec := range reconcilers {
		r.reconcilers[rec.Kind()] = rec
		r.status[rec.Kind()] = &Status{Kind: rec.Kind()}
	}
	return r
}

// AddObserver registers o for pass notifications.
func (r *Runner) AddObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// Kinds returns the registered kinds in a stable order.
func (r *Runner) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.reconcilers))
	for k := range r.reconcilers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Run triggers a pass of kind, or joins the one already in flight.
// The shared pass is detached from the caller's cancellation, so one caller
// going away does not abort the pass for the others.
func (r *Runner) Run(ctx context.Context, kind Kind) (*Result, error) {
	rec, ok := r.reconcilers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	v, err, shared := r.flight.Do(string(kind), func() (interface{}, error) {
		return r.run(context.WithoutCancel(ctx), rec)
	})
	if shared {
		r.logger.Debug("joined in-flight pass", zap.String("kind", string(kind)))
	}

	res, _ := v.(*Result)
	return res, err
}

// RunAll runs every registered kind one after another and joins the errors.
func (r *Runner) RunAll(ctx context.Context) error {
	var errs []error
	for _, kind := range r.Kinds() {
		if _, err := r.Run(ctx, kind); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Status returns a snapshot of every reconciler's status.
func (r *Runner) Status() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Status, 0, len(r.status))
	for _, kind := range r.Kinds() {
		out = append(out, *r.status[kind])
	}
	return out
}

func (r *Runner) run(ctx context.Context, rec Reconciler) (*Result, error) {
	kind := rec.Kind()
	r.setRunning(kind, true)

	res, err := rec.Reconcile(ctx)
	if res == nil {
		res = newResult(kind).finish()
	}

	metrics.ReconcileDuration.WithLabelValues(string(kind)).Observe(res.Duration.Seconds())
	metrics.ReconcileRunsTotal.WithLabelValues(string(kind), outcome(err)).Inc()

	r.mu.Lock()
	st := r.status[kind]
	st.Running = false
	st.Runs++
	st.LastRun = res.StartedAt
	st.LastResult = res
	if err != nil {
		st.LastError = err.Error()
	} else {
		st.LastError = ""
		st.LastSuccess = res.StartedAt
	}
	observers := append([]Observer(nil), r.observers...)
	r.mu.Unlock()

	if err != nil {
		r.logger.Error("pass failed",
			zap.String("kind", string(kind)),
			zap.String("run_id", res.RunID),
			zap.Error(err))
		for _, o := range observers {
			o.PassFailed(res, err)
		}
		return res, err
	}

	metrics.ReconcileLastSuccess.WithLabelValues(string(kind)).Set(float64(res.StartedAt.Unix()))
	r.refreshGauges(ctx)
	for _, o := range observers {
		o.PassCompleted(res)
	}
	return res, nil
}

func (r *Runner) setRunning(kind Kind, running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status[kind].Running = running
}

func (r *Runner) refreshGauges(ctx context.Context) {
	if r.db == nil {
		return
	}
	stats, err := r.db.GetStats(ctx)
	if err != nil {
		r.logger.Warn("failed to refresh cache gauges", zap.Error(err))
		return
	}
	metrics.CacheRows.WithLabelValues("users").Set(float64(stats.Users))
	metrics.CacheRows.WithLabelValues("groups").Set(float64(stats.Groups))
	metrics.CacheRows.WithLabelValues("memberships").Set(float64(stats.Memberships))
	metrics.CacheRows.WithLabelValues("manual_memberships").Set(float64(stats.ManualMemberships))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, remote.ErrFetchFailed):
		return "fetch_failed"
	default:
		return "error"
	}
}
