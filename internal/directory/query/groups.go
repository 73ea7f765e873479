package query

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/thaliawww/cxdir/internal/directory/db"
	"github.com/thaliawww/cxdir/internal/directory/schema"
	"github.com/thaliawww/cxdir/internal/metrics"
)

// GroupProvider implements GroupDirectory over the cache.
type GroupProvider struct {
	db     *db.DB
	logger *zap.Logger
}

var _ GroupDirectory = (*GroupProvider)(nil)

// NewGroupProvider creates a group provider.
func NewGroupProvider(database *db.DB, logger *zap.Logger) *GroupProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GroupProvider{db: database, logger: logger.Named("groups")}
}

// GroupExists reports whether gid is cached.
func (p *GroupProvider) GroupExists(ctx context.Context, gid string) (bool, error) {
	return p.db.GroupExists(ctx, gid)
}

// InGroup reports whether uid is a member of gid, manual or not.
func (p *GroupProvider) InGroup(ctx context.Context, uid, gid string) (bool, error) {
	return p.db.InGroup(ctx, uid, gid)
}

// GroupDetails returns the display name of a concrexit_ group.
// Every other gid, admin included, yields nil without error.
func (p *GroupProvider) GroupDetails(ctx context.Context, gid string) (*GroupDetails, error) {
	if !schema.IsRemoteGroupID(gid) {
		return nil, nil
	}

	g, err := p.db.GetGroup(ctx, gid)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &GroupDetails{DisplayName: g.Name}, nil
}

// Groups lists gids matching page.Search, ascending.
func (p *GroupProvider) Groups(ctx context.Context, page Page) ([]string, error) {
	return p.db.ListGroupIDs(ctx, filter(page))
}

// UsersInGroup lists the uids of gid matching page.Search, ascending.
func (p *GroupProvider) UsersInGroup(ctx context.Context, gid string, page Page) ([]string, error) {
	return p.db.GroupMemberIDs(ctx, gid, filter(page))
}

// UserGroups lists the gids uid belongs to.
func (p *GroupProvider) UserGroups(ctx context.Context, uid string) ([]string, error) {
	return p.db.UserGroupIDs(ctx, uid)
}

// CountUsersInGroup counts with the same filter as UsersInGroup.
func (p *GroupProvider) CountUsersInGroup(ctx context.Context, gid, search string) (int, error) {
	n, err := p.db.CountGroupMembers(ctx, gid, search)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, nil
	}
	return n, nil
}

// AddToGroup adds a manual membership unless the pair already exists.
// Returns ErrGroupNotFound when gid is not cached.
func (p *GroupProvider) AddToGroup(ctx context.Context, uid, gid string) (bool, error) {
	added, err := p.db.AddManualMembership(ctx, uid, gid)
	if errors.Is(err, db.ErrNotFound) {
		return false, fmt.Errorf("%w: %s", ErrGroupNotFound, gid)
	}
	if err != nil {
		return false, err
	}

	if added {
		metrics.ManualMembershipChangesTotal.WithLabelValues("add").Inc()
		p.logger.Info("manual membership added", zap.String("uid", uid), zap.String("gid", gid))
	}
	return added, nil
}

// RemoveFromGroup deletes a manual membership. Remote-owned rows stay.
func (p *GroupProvider) RemoveFromGroup(ctx context.Context, uid, gid string) (bool, error) {
	removed, err := p.db.RemoveManualMembership(ctx, uid, gid)
	if err != nil {
		return false, err
	}

	if removed {
		metrics.ManualMembershipChangesTotal.WithLabelValues("remove").Inc()
		p.logger.Info("manual membership removed", zap.String("uid", uid), zap.String("gid", gid))
	}
	return removed, nil
}

func filter(page Page) db.SearchFilter {
	return db.SearchFilter{Search: page.Search, Limit: page.Limit, Offset: page.Offset}
}
