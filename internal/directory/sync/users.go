package sync

import (
	"context"
	"fmt"
	gosync "sync"

	"go.uber.org/zap"

	"github.com/thaliawww/cxdir/internal/directory/db"
	"github.com/thaliawww/cxdir/internal/directory/host"
	"github.com/thaliawww/cxdir/internal/directory/schema"
	"github.com/thaliawww/cxdir/internal/metrics"
)

// UserReconciler reloads the users table and pushes email and quota to the
// identity host for accounts it already knows.
type UserReconciler struct {
	db       *db.DB
	source   UserSource
	registry host.UserRegistry
	logger   *zap.Logger

	mu    gosync.RWMutex
	quota string
}

var _ Reconciler = (*UserReconciler)(nil)

// NewUserReconciler creates a user reconciler. A nil registry disables the
// host push.
func NewUserReconciler(database *db.DB, source UserSource, registry host.UserRegistry, quota string, logger *zap.Logger) *UserReconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserReconciler{
		db:       database,
		source:   source,
		registry: registry,
		quota:    quota,
		logger:   logger.Named("sync.users"),
	}
}

// Kind implements Reconciler.
func (r *UserReconciler) Kind() Kind { return KindUsers }

// SetQuota changes the quota pushed by later passes.
func (r *UserReconciler) SetQuota(quota string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quota = quota
}

// Quota returns the quota pushed to the host.
func (r *UserReconciler) Quota() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.quota
}

// Reconcile implements Reconciler.
//
// The users table is truncated and reloaded in one transaction. Host
// updates happen after the commit; a host failure for one account is logged
// and counted but does not fail the pass.
func (r *UserReconciler) Reconcile(ctx context.Context) (*Result, error) {
	res := newResult(KindUsers)

	remoteUsers, err := r.source.FetchUsers(ctx)
	if err != nil {
		r.logger.Warn("user fetch failed, keeping cached users", zap.Error(err))
		return res.finish(), fmt.Errorf("failed to fetch users: %w", err)
	}

	rows := make([]schema.User, 0, len(remoteUsers))
	for _, u := range remoteUsers {
		rows = append(rows, u.ToUser())
	}

	err = r.db.WithTx(ctx, func(tx *db.Tx) error {
		return tx.ReplaceUsers(ctx, rows)
	})
	if err != nil {
		return res.finish(), fmt.Errorf("failed to replace users: %w", err)
	}
	res.Users = len(rows)

	if r.registry != nil {
		r.pushToHost(ctx, remoteUsers, res)
	}

	res.finish()
	r.logger.Info("user pass complete",
		zap.String("run_id", res.RunID),
		zap.Int("users", res.Users),
		zap.Int("host_updates", res.HostUpdates),
		zap.Int("host_failures", res.HostFailures),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (r *UserReconciler) pushToHost(ctx context.Context, users []schema.RemoteUser, res *Result) {
	quota := r.Quota()

	for _, u := range users {
		if ctx.Err() != nil {
			r.logger.Warn("host push interrupted", zap.Error(ctx.Err()))
			return
		}

		acct, err := r.registry.Lookup(ctx, u.Username)
		if err != nil {
			res.HostFailures++
			r.logger.Warn("host lookup failed", zap.String("uid", u.Username), zap.Error(err))
			continue
		}
		if acct == nil {
			continue
		}

		update := host.AccountUpdate{Quota: &quota}
		if u.Email != "" && acct.Email != u.Email {
			email := u.Email
			update.Email = &email
		}

		if err := r.registry.Update(ctx, acct, update); err != nil {
			res.HostFailures++
			recordHostUpdate(update, "error")
			r.logger.Warn("host update failed", zap.String("uid", u.Username), zap.Error(err))
			continue
		}
		res.HostUpdates++
		recordHostUpdate(update, "success")
	}
}

func recordHostUpdate(update host.AccountUpdate, result string) {
	if update.Email != nil {
		metrics.HostUpdatesTotal.WithLabelValues("email", result).Inc()
	}
	if update.Quota != nil {
		metrics.HostUpdatesTotal.WithLabelValues("quota", result).Inc()
	}
}
