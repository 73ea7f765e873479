// Package query is the read and administration surface over the directory cache.
//
// The identity host consumes two providers. UserProvider answers user
// existence, listing, display names and password checks. GroupProvider
// answers group existence, listing, membership and details, and owns manual
// membership changes. Each capability is a small interface so a host adapter
// can depend on exactly what it calls.
package query

import (
	"context"
	"errors"
)

var (
	// ErrGroupNotFound is returned when a gid is not cached.
	ErrGroupNotFound = errors.New("group not found")

	// ErrUserNotFound is returned when a uid is not cached.
	ErrUserNotFound = errors.New("user not found")
)

// Page bounds a listing. Limit <= 0 means unbounded.
type Page struct {
	Search string
	Limit  int
	Offset int
}

// GroupDetails is the rich information exposed for remote-sourced groups.
type GroupDetails struct {
	DisplayName string `json:"displayName"`
}

// GroupLookup answers existence and membership questions.
type GroupLookup interface {
	GroupExists(ctx context.Context, gid string) (bool, error)
	InGroup(ctx context.Context, uid, gid string) (bool, error)
	GroupDetails(ctx context.Context, gid string) (*GroupDetails, error)
}

// GroupSearch lists groups and members.
type GroupSearch interface {
	Groups(ctx context.Context, page Page) ([]string, error)
	UsersInGroup(ctx context.Context, gid string, page Page) ([]string, error)
	UserGroups(ctx context.Context, uid string) ([]string, error)
	CountUsersInGroup(ctx context.Context, gid, search string) (int, error)
}

// GroupMutation changes manual memberships. Remote-owned rows are never touched.
type GroupMutation interface {
	AddToGroup(ctx context.Context, uid, gid string) (bool, error)
	RemoveFromGroup(ctx context.Context, uid, gid string) (bool, error)
}

// GroupDirectory is the full group capability set.
type GroupDirectory interface {
	GroupLookup
	GroupSearch
	GroupMutation
}

// UserLookup answers user existence and naming questions.
type UserLookup interface {
	UserExists(ctx context.Context, uid string) (bool, error)
	DisplayName(ctx context.Context, uid string) (string, error)
	CountUsers(ctx context.Context) (int, error)
}

// UserSearch lists users.
type UserSearch interface {
	Users(ctx context.Context, page Page) ([]string, error)
	DisplayNames(ctx context.Context, page Page) ([]UserName, error)
}

// PasswordChecker authenticates users against the concrexit API.
type PasswordChecker interface {
	CheckPassword(ctx context.Context, uid, password string) (string, bool, error)
}

// UserMutation removes cached users.
type UserMutation interface {
	DeleteUser(ctx context.Context, uid string) (bool, error)
}

// UserDirectory is the full user capability set.
type UserDirectory interface {
	UserLookup
	UserSearch
	PasswordChecker
	UserMutation

	BackendName() string
	HasUserListings() bool
}

// UserName pairs a uid with its display name.
type UserName struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName"`
}
