package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thaliawww/cxdir/internal/directory/api"
	"github.com/thaliawww/cxdir/internal/directory/db"
	"github.com/thaliawww/cxdir/internal/directory/query"
	"github.com/thaliawww/cxdir/internal/directory/remote"
	"github.com/thaliawww/cxdir/internal/directory/remote/remotetest"
	"github.com/thaliawww/cxdir/internal/directory/sync"
)

type recorder struct {
	changes []string
}

func (r *recorder) MembershipChanged(uid, gid string, added bool) {
	op := "-"
	if added {
		op = "+"
	}
	r.changes = append(r.changes, op+uid+"@"+gid)
}

type env struct {
	srv      *remotetest.Server
	ts       *httptest.Server
	recorder *recorder
}

func newEnv(t *testing.T) *env {
	t.Helper()

	cache, err := db.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	require.NoError(t, cache.InitSchema())

	srv := remotetest.NewServer("s3cret")
	t.Cleanup(srv.Close)
	srv.SetGroups(
		remotetest.Group{PK: -1, Name: "Administrators", Members: []string{"root"}},
		remotetest.Group{PK: 3, Name: "Board", Members: []string{"alice", "bob"}},
	)
	srv.SetUsers(
		remotetest.User{Username: "alice", FirstName: "Alice", LastName: "Liddell"},
		remotetest.User{Username: "bob", FirstName: "Bob", LastName: "Builder"},
	)
	srv.SetPassword("alice", "wonderland")

	client := remote.New(remote.Config{Host: srv.URL, Secret: "s3cret"}, nil, nil)
	runner := sync.NewRunner(cache, nil,
		sync.NewGroupReconciler(cache, client, nil),
		sync.NewUserReconciler(cache, client, nil, "", nil),
	)
	require.NoError(t, runner.RunAll(context.Background()))

	rec := &recorder{}
	h := api.New(query.NewGroupProvider(cache, nil), query.NewUserProvider(cache, client, nil), runner, nil)
	h.AddListener(rec)

	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	return &env{srv: srv, ts: ts, recorder: rec}
}

func (e *env) do(t *testing.T, method, path, body string, out interface{}) int {
	t.Helper()

	req, err := http.NewRequest(method, e.ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestGroups(t *testing.T) {
	e := newEnv(t)

	var gids []string
	require.Equal(t, http.StatusOK, e.do(t, "GET", "/groups", "", &gids))
	assert.Equal(t, []string{"admin", "concrexit_3"}, gids)

	require.Equal(t, http.StatusOK, e.do(t, "GET", "/groups?search=CONCREXIT&limit=1", "", &gids))
	assert.Equal(t, []string{"concrexit_3"}, gids)

	var group api.GroupResponse
	require.Equal(t, http.StatusOK, e.do(t, "GET", "/groups/concrexit_3", "", &group))
	require.NotNil(t, group.Details)
	assert.Equal(t, "Board", group.Details.DisplayName)

	var admin api.GroupResponse
	require.Equal(t, http.StatusOK, e.do(t, "GET", "/groups/admin", "", &admin))
	assert.Equal(t, "admin", admin.GID)
	assert.Nil(t, admin.Details)

	var apiErr api.ErrorResponse
	assert.Equal(t, http.StatusNotFound, e.do(t, "GET", "/groups/concrexit_99", "", &apiErr))
	assert.Equal(t, http.StatusBadRequest, e.do(t, "GET", "/groups?limit=-1", "", &apiErr))
	assert.Contains(t, apiErr.Error, "limit")
}

func TestMembers(t *testing.T) {
	e := newEnv(t)

	var uids []string
	require.Equal(t, http.StatusOK, e.do(t, "GET", "/groups/concrexit_3/members", "", &uids))
	assert.Equal(t, []string{"alice", "bob"}, uids)

	var count api.CountResponse
	require.Equal(t, http.StatusOK, e.do(t, "GET", "/groups/concrexit_3/members/count?search=ali", "", &count))
	assert.Equal(t, 1, count.Count)

	var member api.MemberResponse
	require.Equal(t, http.StatusOK, e.do(t, "GET", "/groups/admin/members/root", "", &member))
	assert.True(t, member.Member)

	require.Equal(t, http.StatusOK, e.do(t, "GET", "/users/alice/groups", "", &uids))
	assert.Equal(t, []string{"concrexit_3"}, uids)

	require.Equal(t, http.StatusOK, e.do(t, "GET", "/users/nobody/groups", "", &uids))
	assert.Empty(t, uids)
}

func TestManualMembership(t *testing.T) {
	e := newEnv(t)

	var change api.ChangeResponse
	require.Equal(t, http.StatusOK, e.do(t, "PUT", "/groups/admin/members/alice", "", &change))
	assert.True(t, change.Changed)

	require.Equal(t, http.StatusOK, e.do(t, "PUT", "/groups/admin/members/alice", "", &change))
	assert.False(t, change.Changed, "second add is a no-op")

	// remote-owned rows cannot be removed
	require.Equal(t, http.StatusOK, e.do(t, "DELETE", "/groups/admin/members/root", "", &change))
	assert.False(t, change.Changed)

	require.Equal(t, http.StatusOK, e.do(t, "DELETE", "/groups/admin/members/alice", "", &change))
	assert.True(t, change.Changed)

	var apiErr api.ErrorResponse
	assert.Equal(t, http.StatusNotFound, e.do(t, "PUT", "/groups/nope/members/alice", "", &apiErr))

	assert.Equal(t, []string{"+alice@admin", "-alice@admin"}, e.recorder.changes)
}

func TestUsers(t *testing.T) {
	e := newEnv(t)

	var names []query.UserName
	require.Equal(t, http.StatusOK, e.do(t, "GET", "/users?search=builder", "", &names))
	assert.Equal(t, []query.UserName{{UID: "bob", DisplayName: "Bob Builder"}}, names)

	var count api.CountResponse
	require.Equal(t, http.StatusOK, e.do(t, "GET", "/users/count", "", &count))
	assert.Equal(t, 2, count.Count)

	var user api.UserResponse
	require.Equal(t, http.StatusOK, e.do(t, "GET", "/users/alice", "", &user))
	assert.Equal(t, "Alice Liddell", user.DisplayName)

	var apiErr api.ErrorResponse
	assert.Equal(t, http.StatusNotFound, e.do(t, "GET", "/users/ghost", "", &apiErr))

	var change api.ChangeResponse
	require.Equal(t, http.StatusOK, e.do(t, "DELETE", "/users/bob", "", &change))
	assert.True(t, change.Changed)
	require.Equal(t, http.StatusOK, e.do(t, "DELETE", "/users/bob", "", &change))
	assert.False(t, change.Changed)
}

func TestCheckPassword(t *testing.T) {
	e := newEnv(t)

	var res api.PasswordResponse
	require.Equal(t, http.StatusOK, e.do(t, "POST", "/users/alice/password", `{"password":"wonderland"}`, &res))
	assert.True(t, res.Authenticated)
	assert.Equal(t, "alice", res.UID)

	require.Equal(t, http.StatusOK, e.do(t, "POST", "/users/alice/password", `{"password":"nope"}`, &res))
	assert.False(t, res.Authenticated)

	var apiErr api.ErrorResponse
	assert.Equal(t, http.StatusBadRequest, e.do(t, "POST", "/users/alice/password", `{`, &apiErr))
}

func TestSync(t *testing.T) {
	e := newEnv(t)

	e.srv.SetGroups(remotetest.Group{PK: 4, Name: "Committee", Members: []string{"bob"}})

	var res sync.Result
	require.Equal(t, http.StatusOK, e.do(t, "POST", "/sync/groups", "", &res))
	assert.Equal(t, sync.KindGroups, res.Kind)
	assert.Equal(t, 1, res.GroupsCreated)

	var gids []string
	e.do(t, "GET", "/groups", "", &gids)
	assert.Equal(t, []string{"concrexit_4"}, gids)

	var status []sync.Status
	require.Equal(t, http.StatusOK, e.do(t, "GET", "/sync", "", &status))
	assert.Len(t, status, 2)

	var apiErr api.ErrorResponse
	assert.Equal(t, http.StatusNotFound, e.do(t, "POST", "/sync/everything", "", &apiErr))

	e.srv.FailGroups(http.StatusServiceUnavailable)
	assert.Equal(t, http.StatusBadGateway, e.do(t, "POST", "/sync/groups", "", &apiErr))
}
