package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/thaliawww/cxdir/internal/directory/schema"
)

// CountUsers returns the number of cached users.
func (db *DB) CountUsers() (int, error) {
	return db.CountUsersContext(context.Background())
}

// CountUsersContext returns the number of cached users with context support.
func (db *DB) CountUsersContext(ctx context.Context) (int, error) {
	return count(ctx, db.read, "count users", `SELECT COUNT(*) FROM `+usersTable)
}

// UserExists reports whether uid has a cached row. The match is exact.
func (db *DB) UserExists(ctx context.Context, uid string) (bool, error) {
	n, err := count(ctx, db.read, "check user",
		`SELECT COUNT(*) FROM `+usersTable+` WHERE uid = ?`, uid)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetUser returns the cached row for uid, or ErrNotFound.
func (db *DB) GetUser(ctx context.Context, uid string) (*schema.User, error) {
	var u schema.User
	var token sql.NullString
	err := db.read.QueryRowContext(ctx,
		`SELECT uid, displayname, token FROM `+usersTable+` WHERE uid = ?`, uid,
	).Scan(&u.UID, &u.DisplayName, &token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get user", err)
	}
	u.Token = token.String
	return &u, nil
}

// SearchUsers returns users whose uid or display name contains f.Search
// (ASCII case-insensitive), ordered by lower-cased display name, then uid.
func (db *DB) SearchUsers(ctx context.Context, f SearchFilter) ([]schema.User, error) {
	query := `SELECT uid, displayname, token FROM ` + usersTable
	var args []interface{}
	if f.Search != "" {
		query += ` WHERE uid LIKE ? ESCAPE '\' OR displayname LIKE ? ESCAPE '\'`
		p := likePattern(f.Search)
		args = append(args, p, p)
	}
	query += ` ORDER BY lower(displayname), uid`
	query, args = paginate(query, args, f)

	rows, err := db.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("search users", err)
	}
	defer rows.Close()

	users := []schema.User{}
	for rows.Next() {
		var u schema.User
		var token sql.NullString
		if err := rows.Scan(&u.UID, &u.DisplayName, &token); err != nil {
			return nil, storeErr("search users", err)
		}
		u.Token = token.String
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("search users", err)
	}
	return users, nil
}

// ListUsers returns every cached user ordered by uid.
func (db *DB) ListUsers(ctx context.Context) ([]schema.User, error) {
	rows, err := db.read.QueryContext(ctx,
		`SELECT uid, displayname, token FROM `+usersTable+` ORDER BY uid`)
	if err != nil {
		return nil, storeErr("list users", err)
	}
	defer rows.Close()

	users := []schema.User{}
	for rows.Next() {
		var u schema.User
		var token sql.NullString
		if err := rows.Scan(&u.UID, &u.DisplayName, &token); err != nil {
			return nil, storeErr("list users", err)
		}
		u.Token = token.String
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list users", err)
	}
	return users, nil
}

// DeleteUser removes the cached row for uid and reports whether one existed.
// Memberships are untouched; the next user pass restores a user still upstream.
func (db *DB) DeleteUser(ctx context.Context, uid string) (bool, error) {
	res, err := db.write.ExecContext(ctx, `DELETE FROM `+usersTable+` WHERE uid = ?`, uid)
	if err != nil {
		return false, storeErr("delete user", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("delete user", err)
	}
	return n > 0, nil
}
