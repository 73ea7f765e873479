// Package host talks to the identity-management host's own user registry.
//
// The user reconciler pushes email and quota to accounts that already exist
// on the host. Accounts are never created or deleted from here.
package host

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the host registry cannot be reached.
var ErrUnavailable = errors.New("identity host unavailable")

// Account is a user known to the identity host.
type Account struct {
	ID       string
	Username string
	Email    string
	Quota    string
}

// AccountUpdate lists the attributes to push. Nil fields are left alone.
type AccountUpdate struct {
	Email *string
	Quota *string
}

// Empty reports whether the update changes nothing.
func (u AccountUpdate) Empty() bool {
	return u.Email == nil && u.Quota == nil
}

// UserRegistry is the host capability consumed by the user reconciler.
type UserRegistry interface {
	// Lookup returns the account for uid, or nil when the host has none.
	Lookup(ctx context.Context, uid string) (*Account, error)

	// Update pushes the non-nil attributes of update to acct.
	Update(ctx context.Context, acct *Account, update AccountUpdate) error
}
