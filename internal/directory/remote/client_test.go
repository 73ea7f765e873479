package remote_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thaliawww/cxdir/internal/directory/remote"
	"github.com/thaliawww/cxdir/internal/directory/remote/remotetest"
	"github.com/thaliawww/cxdir/internal/directory/schema"
)

func newClient(t *testing.T, srv *remotetest.Server, secret string) *remote.Client {
	t.Helper()
	return remote.New(remote.Config{Host: srv.URL + "/", Secret: secret, Timeout: 5 * time.Second}, nil, nil)
}

func TestFetchGroups(t *testing.T) {
	srv := remotetest.NewServer("s3cret")
	defer srv.Close()
	srv.SetGroups(
		remotetest.Group{PK: -1, Name: "Admins", Members: []string{"root"}},
		remotetest.Group{PK: 3, Name: "Board", Members: []string{"bob", "alice", "bob"}},
	)

	groups, err := newClient(t, srv, "s3cret").FetchGroups(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 2)

	assert.Equal(t, schema.AdminGroupID, groups[0].GID())
	assert.Equal(t, "concrexit_3", groups[1].GID())
	assert.Equal(t, "Board", groups[1].Name)
	assert.Equal(t, []string{"bob", "alice", "bob"}, groups[1].Members)
	assert.Equal(t, 1, srv.Requests("groups"))
}

func TestFetchUsers(t *testing.T) {
	srv := remotetest.NewServer("s3cret")
	defer srv.Close()
	srv.SetUsers(remotetest.User{Username: "alice", FirstName: "Alice", LastName: "Liddell", Email: "alice@example.org"})

	users, err := newClient(t, srv, "s3cret").FetchUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "Alice Liddell", users[0].DisplayName())
	assert.Equal(t, "alice@example.org", users[0].Email)
}

func TestFetch_Failures(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		prepare func(*remotetest.Server)
		remote  bool
	}{
		{"wrong secret", "nope", func(*remotetest.Server) {}, true},
		{"server error", "s3cret", func(s *remotetest.Server) { s.FailGroups(http.StatusInternalServerError) }, true},
		{"not json", "s3cret", func(s *remotetest.Server) { s.SetRawGroups([]byte("<html>")) }, true},
		{"object instead of array", "s3cret", func(s *remotetest.Server) { s.SetRawGroups([]byte(`{"pk":1}`)) }, true},
		{"null body", "s3cret", func(s *remotetest.Server) { s.SetRawGroups([]byte(`null`)) }, true},
		{"missing pk", "s3cret", func(s *remotetest.Server) {
			s.SetRawGroups([]byte(`[{"name":"Board","members":[]}]`))
		}, true},
		{"empty member name", "s3cret", func(s *remotetest.Server) {
			s.SetRawGroups([]byte(`[{"pk":1,"name":"Board","members":["bob",""]}]`))
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := remotetest.NewServer("s3cret")
			defer srv.Close()
			tt.prepare(srv)

			groups, err := newClient(t, srv, tt.secret).FetchGroups(context.Background())
			require.Error(t, err)
			assert.Nil(t, groups)
			assert.True(t, errors.Is(err, remote.ErrFetchFailed))

			var re *remote.RemoteError
			assert.Equal(t, tt.remote, errors.As(err, &re))
		})
	}
}

func TestFetchGroups_EmptyMembersIsValid(t *testing.T) {
	srv := remotetest.NewServer("s3cret")
	defer srv.Close()
	srv.SetRawGroups([]byte(`[{"pk":7,"name":"Empty","members":[]}]`))

	groups, err := newClient(t, srv, "s3cret").FetchGroups(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Empty(t, groups[0].Members)
}

func TestFetchUsers_InvalidRecord(t *testing.T) {
	srv := remotetest.NewServer("s3cret")
	defer srv.Close()
	srv.SetRawUsers([]byte(`[{"username":"bob","first_name":"Bob"}]`))

	_, err := newClient(t, srv, "s3cret").FetchUsers(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, remote.ErrFetchFailed)
}

func TestFetchUsers_NullEmail(t *testing.T) {
	srv := remotetest.NewServer("s3cret")
	defer srv.Close()
	srv.SetRawUsers([]byte(`[{"username":"bob","first_name":"Bob","last_name":"","email":null}]`))

	users, err := newClient(t, srv, "s3cret").FetchUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "Bob ", users[0].DisplayName())
	assert.Empty(t, users[0].Email)
}

func TestFetch_TransportError(t *testing.T) {
	srv := remotetest.NewServer("s3cret")
	client := newClient(t, srv, "s3cret")
	srv.Close()

	_, err := client.FetchUsers(context.Background())
	require.Error(t, err)

	var te *remote.TransportError
	assert.True(t, errors.As(err, &te))
	assert.ErrorIs(t, err, remote.ErrFetchFailed)
}

func TestConfigure(t *testing.T) {
	srv := remotetest.NewServer("new-secret")
	defer srv.Close()

	client := remote.New(remote.Config{Host: "http://127.0.0.1:1", Secret: "old"}, nil, nil)
	client.Configure(srv.URL, "new-secret")
	assert.Equal(t, srv.URL, client.Host())

	_, err := client.FetchGroups(context.Background())
	require.NoError(t, err)
}

func TestCheckPassword(t *testing.T) {
	srv := remotetest.NewServer("s3cret")
	defer srv.Close()
	srv.SetPassword("alice", "wonderland")
	client := newClient(t, srv, "s3cret")

	ok, err := client.CheckPassword(context.Background(), "alice", "wonderland")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.CheckPassword(context.Background(), "alice", "looking-glass")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 2, srv.Requests("token-auth"))
}
