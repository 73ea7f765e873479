package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/thaliawww/cxdir/internal/directory/schema"
)

// UpsertResult describes what UpsertGroup did.
type UpsertResult int

const (
	GroupUnchanged UpsertResult = iota
	GroupCreated
	GroupRenamed
)

// Tx exposes the write primitives used by the reconcilers.
// It is only valid inside the WithTx callback.
type Tx struct {
	tx *sql.Tx
}

// GroupIDs returns every cached gid.
func (t *Tx) GroupIDs(ctx context.Context) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT gid FROM `+groupsTable+` ORDER BY gid ASC`)
	if err != nil {
		return nil, storeErr("list groups", err)
	}
	return scanStrings(rows, "list groups")
}

// GroupExists reports whether gid has a row, as seen by this transaction.
func (t *Tx) GroupExists(ctx context.Context, gid string) (bool, error) {
	n, err := count(ctx, t.tx, "check group",
		`SELECT COUNT(*) FROM `+groupsTable+` WHERE gid = ?`, gid)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpsertGroup inserts the group or updates its name when it differs.
func (t *Tx) UpsertGroup(ctx context.Context, g schema.Group) (UpsertResult, error) {
	var name sql.NullString
	err := t.tx.QueryRowContext(ctx,
		`SELECT name FROM `+groupsTable+` WHERE gid = ?`, g.GID,
	).Scan(&name)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := t.tx.ExecContext(ctx,
			`INSERT INTO `+groupsTable+` (gid, name) VALUES (?, ?)`, g.GID, g.Name); err != nil {
			return GroupUnchanged, storeErr("insert group", err)
		}
		return GroupCreated, nil
	case err != nil:
		return GroupUnchanged, storeErr("get group", err)
	}

	if name.Valid && name.String == g.Name {
		return GroupUnchanged, nil
	}

	if _, err := t.tx.ExecContext(ctx,
		`UPDATE `+groupsTable+` SET name = ? WHERE gid = ?`, g.Name, g.GID); err != nil {
		return GroupUnchanged, storeErr("rename group", err)
	}
	return GroupRenamed, nil
}

// RemoteMemberIDs returns the uids of gid whose rows are not manual.
func (t *Tx) RemoteMemberIDs(ctx context.Context, gid string) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT uid FROM `+membershipsTable+` WHERE gid = ? AND manual = 0 ORDER BY uid ASC`, gid)
	if err != nil {
		return nil, storeErr("list remote members", err)
	}
	return scanStrings(rows, "list remote members")
}

// MembershipExists reports whether any row exists for (uid, gid).
func (t *Tx) MembershipExists(ctx context.Context, uid, gid string) (bool, error) {
	n, err := count(ctx, t.tx, "check membership",
		`SELECT COUNT(*) FROM `+membershipsTable+` WHERE uid = ? AND gid = ?`, uid, gid)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// InsertMembership inserts a new (uid, gid) row. The caller checks existence first.
func (t *Tx) InsertMembership(ctx context.Context, uid, gid string, manual bool) error {
	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO `+membershipsTable+` (uid, gid, manual) VALUES (?, ?, ?)`,
		uid, gid, manual); err != nil {
		return storeErr("insert membership", err)
	}
	return nil
}

// DeleteRemoteMembership deletes (uid, gid) if it is not manual.
func (t *Tx) DeleteRemoteMembership(ctx context.Context, uid, gid string) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM `+membershipsTable+` WHERE uid = ? AND gid = ? AND manual = 0`, uid, gid)
	if err != nil {
		return false, storeErr("delete membership", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("delete membership", err)
	}
	return n > 0, nil
}

// DeleteGroup removes gid and every membership row under it, manual ones included.
// Returns the number of membership rows removed.
func (t *Tx) DeleteGroup(ctx context.Context, gid string) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM `+membershipsTable+` WHERE gid = ?`, gid)
	if err != nil {
		return 0, storeErr("delete group memberships", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("delete group memberships", err)
	}

	if _, err := t.tx.ExecContext(ctx, `DELETE FROM `+groupsTable+` WHERE gid = ?`, gid); err != nil {
		return 0, storeErr("delete group", err)
	}
	return removed, nil
}

// ReplaceUsers truncates the users table and loads users in its place.
// A uid repeated in users keeps the last display name.
func (t *Tx) ReplaceUsers(ctx context.Context, users []schema.User) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM `+usersTable); err != nil {
		return storeErr("truncate users", err)
	}

	stmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO `+usersTable+` (uid, displayname) VALUES (?, ?)
		ON CONFLICT(uid) DO UPDATE SET displayname = excluded.displayname
	`)
	if err != nil {
		return storeErr("prepare user insert", err)
	}
	defer stmt.Close()

	for _, u := range users {
		if _, err := stmt.ExecContext(ctx, u.UID, u.DisplayName); err != nil {
			return storeErr("insert user", err)
		}
	}
	return nil
}
