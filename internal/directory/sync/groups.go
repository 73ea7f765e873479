package sync

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/thaliawww/cxdir/internal/directory/db"
	"github.com/thaliawww/cxdir/internal/directory/schema"
)

// GroupReconciler mirrors remote groups and their remote-owned memberships.
type GroupReconciler struct {
	db     *db.DB
	source GroupSource
	logger *zap.Logger
}

var _ Reconciler = (*GroupReconciler)(nil)

// NewGroupReconciler creates a group reconciler.
// The cache must have its schema initialized.
func NewGroupReconciler(database *db.DB, source GroupSource, logger *zap.Logger) *GroupReconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GroupReconciler{
		db:     database,
		source: source,
		logger: logger.Named("sync.groups"),
	}
}

// Kind implements Reconciler.
func (r *GroupReconciler) Kind() Kind { return KindGroups }

// Reconcile implements Reconciler.
//
// Within each remote group, a member already present in the cache keeps its
// row as-is whatever its manual flag. Remote-owned rows missing from the
// snapshot are deleted. Groups missing from the snapshot are deleted with
// all their memberships, manual ones included.
//
// If the snapshot repeats a primary key, the last record wins.
func (r *GroupReconciler) Reconcile(ctx context.Context) (*Result, error) {
	res := newResult(KindGroups)

	groups, err := r.source.FetchGroups(ctx)
	if err != nil {
		r.logger.Warn("group fetch failed, keeping cached groups", zap.Error(err))
		return res.finish(), fmt.Errorf("failed to fetch groups: %w", err)
	}
	res.Groups = len(groups)

	err = r.db.WithTx(ctx, func(tx *db.Tx) error {
		existing, err := tx.GroupIDs(ctx)
		if err != nil {
			return err
		}
		candidateGroups := toSet(existing)

		for _, g := range groups {
			if err := r.applyGroup(ctx, tx, g, res); err != nil {
				return err
			}
			delete(candidateGroups, g.GID())
		}

		for _, gid := range sortedKeys(candidateGroups) {
			removed, err := tx.DeleteGroup(ctx, gid)
			if err != nil {
				return err
			}
			res.GroupsDeleted++
			res.MembersRemoved += int(removed)
			r.logger.Debug("deleted group", zap.String("gid", gid), zap.Int64("memberships", removed))
		}
		return nil
	})
	if err != nil {
		return res.finish(), fmt.Errorf("failed to apply group snapshot: %w", err)
	}

	res.finish()
	r.logger.Info("group pass complete",
		zap.String("run_id", res.RunID),
		zap.Int("groups", res.Groups),
		zap.Int("created", res.GroupsCreated),
		zap.Int("renamed", res.GroupsRenamed),
		zap.Int("deleted", res.GroupsDeleted),
		zap.Int("members_added", res.MembersAdded),
		zap.Int("members_removed", res.MembersRemoved),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// applyGroup upserts one remote group and diffs its remote-owned members.
func (r *GroupReconciler) applyGroup(ctx context.Context, tx *db.Tx, g schema.RemoteGroup, res *Result) error {
	gid := g.GID()

	outcome, err := tx.UpsertGroup(ctx, schema.Group{GID: gid, Name: g.Name})
	if err != nil {
		return err
	}
	switch outcome {
	case db.GroupCreated:
		res.GroupsCreated++
	case db.GroupRenamed:
		res.GroupsRenamed++
	}

	current, err := tx.RemoteMemberIDs(ctx, gid)
	if err != nil {
		return err
	}
	candidateMembers := toSet(current)

	for _, uid := range g.UniqueMembers() {
		delete(candidateMembers, uid)

		exists, err := tx.MembershipExists(ctx, uid, gid)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if err := tx.InsertMembership(ctx, uid, gid, false); err != nil {
			return err
		}
		res.MembersAdded++
	}

	for _, uid := range sortedKeys(candidateMembers) {
		deleted, err := tx.DeleteRemoteMembership(ctx, uid, gid)
		if err != nil {
			return err
		}
		if deleted {
			res.MembersRemoved++
		}
	}
	return nil
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
