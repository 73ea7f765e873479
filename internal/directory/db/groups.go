package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/thaliawww/cxdir/internal/directory/schema"
)

// GroupExists reports whether gid has a cached row.
func (db *DB) GroupExists(ctx context.Context, gid string) (bool, error) {
	n, err := count(ctx, db.read, "check group",
		`SELECT COUNT(*) FROM `+groupsTable+` WHERE gid = ?`, gid)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetGroup returns the cached row for gid, or ErrNotFound.
func (db *DB) GetGroup(ctx context.Context, gid string) (*schema.Group, error) {
	var g schema.Group
	var name sql.NullString
	err := db.read.QueryRowContext(ctx,
		`SELECT gid, name FROM `+groupsTable+` WHERE gid = ?`, gid,
	).Scan(&g.GID, &name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get group", err)
	}
	g.Name = name.String
	return &g, nil
}

// ListGroupIDs returns gids containing f.Search, ascending and paginated.
func (db *DB) ListGroupIDs(ctx context.Context, f SearchFilter) ([]string, error) {
	query := `SELECT gid FROM ` + groupsTable
	var args []interface{}
	if f.Search != "" {
		query += ` WHERE gid LIKE ? ESCAPE '\'`
		args = append(args, likePattern(f.Search))
	}
	query += ` ORDER BY gid ASC`
	query, args = paginate(query, args, f)

	rows, err := db.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list groups", err)
	}
	return scanStrings(rows, "list groups")
}

// ListGroups returns every cached group ordered by gid.
func (db *DB) ListGroups(ctx context.Context) ([]schema.Group, error) {
	rows, err := db.read.QueryContext(ctx,
		`SELECT gid, name FROM `+groupsTable+` ORDER BY gid ASC`)
	if err != nil {
		return nil, storeErr("list groups", err)
	}
	defer rows.Close()

	groups := []schema.Group{}
	for rows.Next() {
		var g schema.Group
		var name sql.NullString
		if err := rows.Scan(&g.GID, &name); err != nil {
			return nil, storeErr("list groups", err)
		}
		g.Name = name.String
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list groups", err)
	}
	return groups, nil
}

// InGroup reports whether (uid, gid) has a membership row of either kind.
func (db *DB) InGroup(ctx context.Context, uid, gid string) (bool, error) {
	n, err := count(ctx, db.read, "check membership",
		`SELECT COUNT(*) FROM `+membershipsTable+` WHERE uid = ? AND gid = ?`, uid, gid)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UserGroupIDs returns the gids uid belongs to, ascending.
func (db *DB) UserGroupIDs(ctx context.Context, uid string) ([]string, error) {
	rows, err := db.read.QueryContext(ctx,
		`SELECT gid FROM `+membershipsTable+` WHERE uid = ? ORDER BY gid ASC`, uid)
	if err != nil {
		return nil, storeErr("list user groups", err)
	}
	return scanStrings(rows, "list user groups")
}

// GroupMemberIDs returns the uids in gid containing f.Search, ascending and paginated.
func (db *DB) GroupMemberIDs(ctx context.Context, gid string, f SearchFilter) ([]string, error) {
	query := `SELECT uid FROM ` + membershipsTable + ` WHERE gid = ?`
	args := []interface{}{gid}
	if f.Search != "" {
		query += ` AND uid LIKE ? ESCAPE '\'`
		args = append(args, likePattern(f.Search))
	}
	query += ` ORDER BY uid ASC`
	query, args = paginate(query, args, f)

	rows, err := db.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list group members", err)
	}
	return scanStrings(rows, "list group members")
}

// CountGroupMembers counts the uids in gid containing search, using the same
// filter as GroupMemberIDs.
func (db *DB) CountGroupMembers(ctx context.Context, gid, search string) (int, error) {
	query := `SELECT COUNT(*) FROM ` + membershipsTable + ` WHERE gid = ?`
	args := []interface{}{gid}
	if search != "" {
		query += ` AND uid LIKE ? ESCAPE '\'`
		args = append(args, likePattern(search))
	}
	return count(ctx, db.read, "count group members", query, args...)
}

// GetMembership returns the row for (uid, gid), or ErrNotFound.
func (db *DB) GetMembership(ctx context.Context, uid, gid string) (*schema.Membership, error) {
	m := schema.Membership{UID: uid, GID: gid}
	err := db.read.QueryRowContext(ctx,
		`SELECT manual FROM `+membershipsTable+` WHERE uid = ? AND gid = ?`, uid, gid,
	).Scan(&m.Manual)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get membership", err)
	}
	return &m, nil
}

// ListMemberships returns every membership row ordered by gid, then uid.
func (db *DB) ListMemberships(ctx context.Context) ([]schema.Membership, error) {
	rows, err := db.read.QueryContext(ctx,
		`SELECT uid, gid, manual FROM `+membershipsTable+` ORDER BY gid ASC, uid ASC`)
	if err != nil {
		return nil, storeErr("list memberships", err)
	}
	defer rows.Close()

	memberships := []schema.Membership{}
	for rows.Next() {
		var m schema.Membership
		if err := rows.Scan(&m.UID, &m.GID, &m.Manual); err != nil {
			return nil, storeErr("list memberships", err)
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list memberships", err)
	}
	return memberships, nil
}

// AddManualMembership inserts (uid, gid, manual=true) unless a row for the
// pair already exists, and reports whether an insert happened.
// An existing remote-owned row is left as it is.
// Returns an error wrapping ErrNotFound when gid is not cached.
func (db *DB) AddManualMembership(ctx context.Context, uid, gid string) (bool, error) {
	added := false
	err := db.WithTx(ctx, func(tx *Tx) error {
		exists, err := tx.GroupExists(ctx, gid)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("group %s: %w", gid, ErrNotFound)
		}

		present, err := tx.MembershipExists(ctx, uid, gid)
		if err != nil {
			return err
		}
		if present {
			return nil
		}

		if err := tx.InsertMembership(ctx, uid, gid, true); err != nil {
			return err
		}
		added = true
		return nil
	})
	return added, err
}

// RemoveManualMembership deletes (uid, gid) only when it is marked manual,
// and reports whether a row was deleted.
func (db *DB) RemoveManualMembership(ctx context.Context, uid, gid string) (bool, error) {
	res, err := db.write.ExecContext(ctx,
		`DELETE FROM `+membershipsTable+` WHERE uid = ? AND gid = ? AND manual = 1`, uid, gid)
	if err != nil {
		return false, storeErr("remove manual membership", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("remove manual membership", err)
	}
	return n > 0, nil
}
