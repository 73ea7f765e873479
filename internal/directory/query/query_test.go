package query_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thaliawww/cxdir/internal/directory/db"
	"github.com/thaliawww/cxdir/internal/directory/query"
	"github.com/thaliawww/cxdir/internal/directory/remote"
	"github.com/thaliawww/cxdir/internal/directory/remote/remotetest"
	"github.com/thaliawww/cxdir/internal/directory/sync"
)

type env struct {
	db     *db.DB
	srv    *remotetest.Server
	groups *query.GroupProvider
	users  *query.UserProvider
}

// newEnv loads a small directory through the real reconcilers.
func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	cache, err := db.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	require.NoError(t, cache.InitSchema())

	srv := remotetest.NewServer("s3cret")
	t.Cleanup(srv.Close)
	srv.SetGroups(
		remotetest.Group{PK: -1, Name: "Administrators", Members: []string{"root"}},
		remotetest.Group{PK: 3, Name: "Board", Members: []string{"alice", "bob"}},
		remotetest.Group{PK: 30, Name: "Board archive", Members: []string{"alice"}},
	)
	srv.SetUsers(
		remotetest.User{Username: "alice", FirstName: "Alice", LastName: "Liddell"},
		remotetest.User{Username: "bob", FirstName: "bob", LastName: "Builder"},
		remotetest.User{Username: "root", FirstName: "Root", LastName: "Admin"},
	)
	srv.SetPassword("alice", "wonderland")
	srv.SetPassword("ghost", "boo")

	client := remote.New(remote.Config{Host: srv.URL, Secret: "s3cret"}, nil, nil)
	runner := sync.NewRunner(cache, nil,
		sync.NewGroupReconciler(cache, client, nil),
		sync.NewUserReconciler(cache, client, nil, "100MB", nil),
	)
	require.NoError(t, runner.RunAll(ctx))

	return &env{
		db:     cache,
		srv:    srv,
		groups: query.NewGroupProvider(cache, nil),
		users:  query.NewUserProvider(cache, client, nil),
	}
}

func TestGroupProvider_Lookup(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	exists, err := e.groups.GroupExists(ctx, "concrexit_3")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = e.groups.GroupExists(ctx, "concrexit_4")
	require.NoError(t, err)
	assert.False(t, exists)

	in, err := e.groups.InGroup(ctx, "bob", "concrexit_3")
	require.NoError(t, err)
	assert.True(t, in)

	in, err = e.groups.InGroup(ctx, "bob", "concrexit_30")
	require.NoError(t, err)
	assert.False(t, in)
}

func TestGroupProvider_Details(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	details, err := e.groups.GroupDetails(ctx, "concrexit_3")
	require.NoError(t, err)
	require.NotNil(t, details)
	assert.Equal(t, "Board", details.DisplayName)

	for _, gid := range []string{"admin", "concrexit_404", "other"} {
		details, err := e.groups.GroupDetails(ctx, gid)
		require.NoError(t, err)
		assert.Nil(t, details, gid)
	}
}

func TestGroupProvider_ListingConsistency(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	gids, err := e.groups.Groups(ctx, query.Page{})
	require.NoError(t, err)
	assert.Equal(t, []string{"admin", "concrexit_3", "concrexit_30"}, gids)
	for i := 1; i < len(gids); i++ {
		assert.Less(t, gids[i-1], gids[i])
	}

	gids, err = e.groups.Groups(ctx, query.Page{Search: "3", Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"concrexit_30"}, gids)

	for _, gid := range []string{"admin", "concrexit_3", "concrexit_30", "concrexit_404"} {
		for _, search := range []string{"", "a", "B", "none"} {
			members, err := e.groups.UsersInGroup(ctx, gid, query.Page{Search: search})
			require.NoError(t, err)
			n, err := e.groups.CountUsersInGroup(ctx, gid, search)
			require.NoError(t, err)
			assert.Equal(t, len(members), n, "gid=%s search=%q", gid, search)
		}
	}

	groups, err := e.groups.UserGroups(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"concrexit_3", "concrexit_30"}, groups)
}

func TestGroupProvider_ManualMembership(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	added, err := e.groups.AddToGroup(ctx, "carol", "concrexit_3")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = e.groups.AddToGroup(ctx, "carol", "concrexit_3")
	require.NoError(t, err)
	assert.False(t, added)

	_, err = e.groups.AddToGroup(ctx, "carol", "concrexit_404")
	assert.ErrorIs(t, err, query.ErrGroupNotFound)

	removed, err := e.groups.RemoveFromGroup(ctx, "bob", "concrexit_3")
	require.NoError(t, err)
	assert.False(t, removed, "remote-owned membership must not be removable")

	in, err := e.groups.InGroup(ctx, "bob", "concrexit_3")
	require.NoError(t, err)
	assert.True(t, in)

	removed, err = e.groups.RemoveFromGroup(ctx, "carol", "concrexit_3")
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestUserProvider(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	assert.Equal(t, "concrexit", e.users.BackendName())
	assert.False(t, e.users.HasUserListings())

	n, err := e.users.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	name, err := e.users.DisplayName(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob Builder", name)

	_, err = e.users.DisplayName(ctx, "nobody")
	assert.ErrorIs(t, err, query.ErrUserNotFound)

	names, err := e.users.DisplayNames(ctx, query.Page{})
	require.NoError(t, err)
	assert.Equal(t, []query.UserName{
		{UID: "alice", DisplayName: "Alice Liddell"},
		{UID: "bob", DisplayName: "bob Builder"},
		{UID: "root", DisplayName: "Root Admin"},
	}, names)

	uids, err := e.users.Users(ctx, query.Page{Search: "li"})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, uids)
}

func TestUserProvider_CheckPassword(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	uid, ok, err := e.users.CheckPassword(ctx, "alice", "wonderland")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "alice", uid)

	_, ok, err = e.users.CheckPassword(ctx, "alice", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	// Not cached: rejected without asking the API.
	before := e.srv.Requests("token-auth")
	_, ok, err = e.users.CheckPassword(ctx, "ghost", "boo")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, before, e.srv.Requests("token-auth"))
}

func TestUserProvider_DeleteUser(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	deleted, err := e.users.DeleteUser(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, deleted)

	exists, err := e.users.UserExists(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, exists)

	deleted, err = e.users.DeleteUser(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, deleted)
}
