package query

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/thaliawww/cxdir/internal/directory/db"
)

// BackendName is the name the user provider reports to the host.
const BackendName = "concrexit"

// Authenticator checks credentials against the concrexit API.
type Authenticator interface {
	CheckPassword(ctx context.Context, uid, password string) (bool, error)
}

// UserProvider implements UserDirectory over the cache.
type UserProvider struct {
	db     *db.DB
	auth   Authenticator
	logger *zap.Logger
}

var _ UserDirectory = (*UserProvider)(nil)

// NewUserProvider creates a user provider. A nil auth rejects every password.
func NewUserProvider(database *db.DB, auth Authenticator, logger *zap.Logger) *UserProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserProvider{db: database, auth: auth, logger: logger.Named("users")}
}

// BackendName implements UserDirectory.
func (p *UserProvider) BackendName() string { return BackendName }

// HasUserListings implements UserDirectory. Listings come from the host's
// own search, not from a dedicated listing page.
func (p *UserProvider) HasUserListings() bool { return false }

// UserExists reports whether uid is cached.
func (p *UserProvider) UserExists(ctx context.Context, uid string) (bool, error) {
	return p.db.UserExists(ctx, uid)
}

// DisplayName returns the cached display name of uid, or ErrUserNotFound.
func (p *UserProvider) DisplayName(ctx context.Context, uid string) (string, error) {
	u, err := p.db.GetUser(ctx, uid)
	if errors.Is(err, db.ErrNotFound) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", err
	}
	return u.DisplayName, nil
}

// CountUsers returns the number of cached users.
func (p *UserProvider) CountUsers(ctx context.Context) (int, error) {
	return p.db.CountUsersContext(ctx)
}

// DisplayNames searches uid and display name, ordered case-insensitively by
// display name and then uid.
func (p *UserProvider) DisplayNames(ctx context.Context, page Page) ([]UserName, error) {
	users, err := p.db.SearchUsers(ctx, filter(page))
	if err != nil {
		return nil, err
	}

	names := make([]UserName, 0, len(users))
	for _, u := range users {
		names = append(names, UserName{UID: u.UID, DisplayName: u.DisplayName})
	}
	return names, nil
}

// Users returns the uids of DisplayNames in the same order.
func (p *UserProvider) Users(ctx context.Context, page Page) ([]string, error) {
	names, err := p.DisplayNames(ctx, page)
	if err != nil {
		return nil, err
	}

	uids := make([]string, 0, len(names))
	for _, n := range names {
		uids = append(uids, n.UID)
	}
	return uids, nil
}

// CheckPassword authenticates a cached user. It returns the uid on success.
// Unknown users are rejected without contacting the API.
func (p *UserProvider) CheckPassword(ctx context.Context, uid, password string) (string, bool, error) {
	exists, err := p.db.UserExists(ctx, uid)
	if err != nil {
		return "", false, err
	}
	if !exists || p.auth == nil {
		return "", false, nil
	}

	ok, err := p.auth.CheckPassword(ctx, uid, password)
	if err != nil {
		p.logger.Warn("password check failed", zap.String("uid", uid), zap.Error(err))
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return uid, true, nil
}

// DeleteUser removes the cached row for uid. A user still present upstream
// is restored by the next user pass.
func (p *UserProvider) DeleteUser(ctx context.Context, uid string) (bool, error) {
	deleted, err := p.db.DeleteUser(ctx, uid)
	if err != nil {
		return false, err
	}
	if deleted {
		p.logger.Info("cached user deleted", zap.String("uid", uid))
	}
	return deleted, nil
}
