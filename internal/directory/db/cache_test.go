package db

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/thaliawww/cxdir/internal/directory/schema"
)

// testDBPath returns a temporary path for test databases
func testDBPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "cache.db")
}

// newTestDB opens a migrated cache that is closed when the test ends.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return db
}

// seed loads groups, memberships and users in one transaction.
func seed(t *testing.T, db *DB, groups []schema.Group, members []schema.Membership, users []schema.User) {
	t.Helper()
	ctx := context.Background()
	err := db.WithTx(ctx, func(tx *Tx) error {
		for _, g := range groups {
			if _, err := tx.UpsertGroup(ctx, g); err != nil {
				return err
			}
		}
		for _, m := range members {
			if err := tx.InsertMembership(ctx, m.UID, m.GID, m.Manual); err != nil {
				return err
			}
		}
		if users != nil {
			return tx.ReplaceUsers(ctx, users)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

func TestOpen_Success(t *testing.T) {
	path := testDBPath(t)
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("Open(\"\") should fail")
	}
}

func TestBuildDSN(t *testing.T) {
	dsn := buildDSN("/tmp/cache.db", "write", 0)
	if !strings.HasPrefix(dsn, "file:/tmp/cache.db?") {
		t.Errorf("dsn = %q, want file: prefix", dsn)
	}
	for _, want := range []string{"foreign_keys(1)", "journal_mode(wal)", "_txlock=immediate"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("write dsn %q missing %q", dsn, want)
		}
	}

	if strings.Contains(buildDSN("/tmp/cache.db", "read", 0), "_txlock") {
		t.Error("read dsn should not request immediate transactions")
	}
}

func TestInitSchema_CreatesTables(t *testing.T) {
	db := newTestDB(t)

	for _, table := range []string{usersTable, groupsTable, membershipsTable} {
		var n int
		err := db.read.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n)
		if err != nil {
			t.Fatalf("Failed to query table %s: %v", table, err)
		}
		if n != 1 {
			t.Errorf("Table %s does not exist", table)
		}
	}
}

func TestInitSchema_Idempotent(t *testing.T) {
	db := newTestDB(t)

	if err := db.InitSchema(); err != nil {
		t.Errorf("Second InitSchema() failed: %v", err)
	}
}

func TestUpsertGroup(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		group schema.Group
		want  UpsertResult
	}{
		{"insert", schema.Group{GID: "concrexit_1", Name: "Board"}, GroupCreated},
		{"same name", schema.Group{GID: "concrexit_1", Name: "Board"}, GroupUnchanged},
		{"rename", schema.Group{GID: "concrexit_1", Name: "Board 2026"}, GroupRenamed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got UpsertResult
			err := db.WithTx(ctx, func(tx *Tx) error {
				var err error
				got, err = tx.UpsertGroup(ctx, tt.group)
				return err
			})
			if err != nil {
				t.Fatalf("UpsertGroup() failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("UpsertGroup() = %v, want %v", got, tt.want)
			}
		})
	}

	g, err := db.GetGroup(ctx, "concrexit_1")
	if err != nil {
		t.Fatalf("GetGroup() failed: %v", err)
	}
	if g.Name != "Board 2026" {
		t.Errorf("Name = %q, want %q", g.Name, "Board 2026")
	}
}

func TestWithTx_RollbackOnError(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.UpsertGroup(ctx, schema.Group{GID: "admin", Name: "Admins"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx() error = %v, want %v", err, boom)
	}

	exists, err := db.GroupExists(ctx, "admin")
	if err != nil {
		t.Fatalf("GroupExists() failed: %v", err)
	}
	if exists {
		t.Error("group should not exist after rollback")
	}
}

func TestListGroupIDs_FilterAndPagination(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seed(t, db, []schema.Group{
		{GID: "concrexit_2", Name: "Two"},
		{GID: "admin", Name: "Admins"},
		{GID: "concrexit_10", Name: "Ten"},
		{GID: "concrexit_1", Name: "One"},
	}, nil, nil)

	tests := []struct {
		name   string
		filter SearchFilter
		want   []string
	}{
		{"all", SearchFilter{}, []string{"admin", "concrexit_1", "concrexit_10", "concrexit_2"}},
		{"case insensitive", SearchFilter{Search: "CONCREXIT_1"}, []string{"concrexit_1", "concrexit_10"}},
		{"limit", SearchFilter{Limit: 2}, []string{"admin", "concrexit_1"}},
		{"offset only", SearchFilter{Offset: 3}, []string{"concrexit_2"}},
		{"limit and offset", SearchFilter{Limit: 1, Offset: 1}, []string{"concrexit_1"}},
		{"underscore is literal", SearchFilter{Search: "t_"}, []string{"concrexit_1", "concrexit_10", "concrexit_2"}},
		{"percent is literal", SearchFilter{Search: "%"}, []string{}},
		{"no match", SearchFilter{Search: "nope"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.ListGroupIDs(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListGroupIDs() failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ListGroupIDs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGroupMembers_CountMatchesListing(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seed(t, db,
		[]schema.Group{{GID: "concrexit_3", Name: "Three"}},
		[]schema.Membership{
			{UID: "bob", GID: "concrexit_3"},
			{UID: "alice", GID: "concrexit_3"},
			{UID: "Albert", GID: "concrexit_3", Manual: true},
		}, nil)

	for _, search := range []string{"", "al", "AL", "b", "zzz"} {
		members, err := db.GroupMemberIDs(ctx, "concrexit_3", SearchFilter{Search: search})
		if err != nil {
			t.Fatalf("GroupMemberIDs(%q) failed: %v", search, err)
		}
		n, err := db.CountGroupMembers(ctx, "concrexit_3", search)
		if err != nil {
			t.Fatalf("CountGroupMembers(%q) failed: %v", search, err)
		}
		if n != len(members) {
			t.Errorf("CountGroupMembers(%q) = %d, want %d", search, n, len(members))
		}
	}

	got, err := db.GroupMemberIDs(ctx, "concrexit_3", SearchFilter{Search: "al"})
	if err != nil {
		t.Fatalf("GroupMemberIDs() failed: %v", err)
	}
	if want := []string{"Albert", "alice"}; !reflect.DeepEqual(got, want) {
		t.Errorf("GroupMemberIDs() = %v, want %v", got, want)
	}

	n, err := db.CountGroupMembers(ctx, "missing", "")
	if err != nil {
		t.Fatalf("CountGroupMembers() failed: %v", err)
	}
	if n != 0 {
		t.Errorf("CountGroupMembers(missing) = %d, want 0", n)
	}
}

func TestManualMembership(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seed(t, db,
		[]schema.Group{{GID: "concrexit_3", Name: "Three"}},
		[]schema.Membership{{UID: "bob", GID: "concrexit_3"}}, nil)

	added, err := db.AddManualMembership(ctx, "carol", "concrexit_3")
	if err != nil {
		t.Fatalf("AddManualMembership() failed: %v", err)
	}
	if !added {
		t.Error("AddManualMembership(carol) = false, want true")
	}

	added, err = db.AddManualMembership(ctx, "carol", "concrexit_3")
	if err != nil {
		t.Fatalf("AddManualMembership() failed: %v", err)
	}
	if added {
		t.Error("second AddManualMembership(carol) = true, want false")
	}

	// A remote-owned row is neither converted nor duplicated.
	added, err = db.AddManualMembership(ctx, "bob", "concrexit_3")
	if err != nil {
		t.Fatalf("AddManualMembership() failed: %v", err)
	}
	if added {
		t.Error("AddManualMembership(bob) = true, want false")
	}
	m, err := db.GetMembership(ctx, "bob", "concrexit_3")
	if err != nil {
		t.Fatalf("GetMembership() failed: %v", err)
	}
	if m.Manual {
		t.Error("bob's membership should stay remote-owned")
	}

	removed, err := db.RemoveManualMembership(ctx, "bob", "concrexit_3")
	if err != nil {
		t.Fatalf("RemoveManualMembership() failed: %v", err)
	}
	if removed {
		t.Error("RemoveManualMembership(bob) must not delete a remote-owned row")
	}

	removed, err = db.RemoveManualMembership(ctx, "carol", "concrexit_3")
	if err != nil {
		t.Fatalf("RemoveManualMembership() failed: %v", err)
	}
	if !removed {
		t.Error("RemoveManualMembership(carol) = false, want true")
	}

	_, err = db.AddManualMembership(ctx, "carol", "concrexit_404")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("AddManualMembership(unknown group) error = %v, want ErrNotFound", err)
	}
}

func TestDeleteGroup_RemovesAllMemberships(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seed(t, db,
		[]schema.Group{{GID: "concrexit_3", Name: "Three"}, {GID: "admin", Name: "Admins"}},
		[]schema.Membership{
			{UID: "alice", GID: "concrexit_3"},
			{UID: "carol", GID: "concrexit_3", Manual: true},
			{UID: "carol", GID: "admin", Manual: true},
		}, nil)

	var removed int64
	err := db.WithTx(ctx, func(tx *Tx) error {
		var err error
		removed, err = tx.DeleteGroup(ctx, "concrexit_3")
		return err
	})
	if err != nil {
		t.Fatalf("DeleteGroup() failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("DeleteGroup() removed %d memberships, want 2", removed)
	}

	memberships, err := db.ListMemberships(ctx)
	if err != nil {
		t.Fatalf("ListMemberships() failed: %v", err)
	}
	want := []schema.Membership{{UID: "carol", GID: "admin", Manual: true}}
	if !reflect.DeepEqual(memberships, want) {
		t.Errorf("ListMemberships() = %v, want %v", memberships, want)
	}
}

func TestReplaceUsers(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seed(t, db, nil, nil, []schema.User{
		{UID: "old", DisplayName: "Old User"},
		{UID: "bob", DisplayName: "Bob B"},
	})
	seed(t, db, nil, nil, []schema.User{
		{UID: "bob", DisplayName: "Bob Builder"},
		{UID: "alice", DisplayName: "alice Liddell"},
		{UID: "bob", DisplayName: "Bob Marley"},
	})

	users, err := db.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers() failed: %v", err)
	}
	want := []schema.User{
		{UID: "alice", DisplayName: "alice Liddell"},
		{UID: "bob", DisplayName: "Bob Marley"},
	}
	if !reflect.DeepEqual(users, want) {
		t.Errorf("ListUsers() = %v, want %v", users, want)
	}

	n, err := db.CountUsers()
	if err != nil {
		t.Fatalf("CountUsers() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("CountUsers() = %d, want 2", n)
	}
}

func TestSearchUsers(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seed(t, db, nil, nil, []schema.User{
		{UID: "zed", DisplayName: "Anna Zed"},
		{UID: "bob", DisplayName: "bob Builder"},
		{UID: "anna", DisplayName: "Anna Zed"},
	})

	tests := []struct {
		name   string
		filter SearchFilter
		want   []string
	}{
		{"all ordered by display name then uid", SearchFilter{}, []string{"anna", "zed", "bob"}},
		{"matches display name", SearchFilter{Search: "builder"}, []string{"bob"}},
		{"matches uid", SearchFilter{Search: "ZE"}, []string{"anna", "zed"}},
		{"paginated", SearchFilter{Limit: 1, Offset: 1}, []string{"zed"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users, err := db.SearchUsers(ctx, tt.filter)
			if err != nil {
				t.Fatalf("SearchUsers() failed: %v", err)
			}
			got := make([]string, 0, len(users))
			for _, u := range users {
				got = append(got, u.UID)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SearchUsers() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeleteUser(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seed(t, db, nil, nil, []schema.User{{UID: "bob", DisplayName: "Bob B"}})

	deleted, err := db.DeleteUser(ctx, "BOB")
	if err != nil {
		t.Fatalf("DeleteUser() failed: %v", err)
	}
	if deleted {
		t.Error("DeleteUser() must match uid exactly")
	}

	deleted, err = db.DeleteUser(ctx, "bob")
	if err != nil {
		t.Fatalf("DeleteUser() failed: %v", err)
	}
	if !deleted {
		t.Error("DeleteUser(bob) = false, want true")
	}

	if _, err := db.GetUser(ctx, "bob"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUser() error = %v, want ErrNotFound", err)
	}
}

func TestGetStats(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seed(t, db,
		[]schema.Group{{GID: "admin", Name: "Admins"}},
		[]schema.Membership{{UID: "a", GID: "admin"}, {UID: "b", GID: "admin", Manual: true}},
		[]schema.User{{UID: "a", DisplayName: "A A"}})

	stats, err := db.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats() failed: %v", err)
	}
	want := Stats{Users: 1, Groups: 1, Memberships: 2, ManualMemberships: 1}
	if *stats != want {
		t.Errorf("GetStats() = %+v, want %+v", *stats, want)
	}
}

func TestStoreError(t *testing.T) {
	db := newTestDB(t)
	if err := db.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	reopened, err := Open(db.Path())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	reopened.read.Close()
	defer reopened.write.Close()

	_, err = reopened.GroupExists(context.Background(), "admin")
	if !IsStoreError(err) {
		t.Errorf("GroupExists() on closed pool error = %v, want StoreError", err)
	}
}

func TestClose_ThenUse(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}

	err := db.WithTx(ctx, func(tx *Tx) error { return nil })
	if !errors.Is(err, ErrClosed) || !IsStoreError(err) {
		t.Errorf("WithTx() after Close error = %v, want StoreError wrapping ErrClosed", err)
	}

	if _, err := db.GroupExists(ctx, "admin"); !IsStoreError(err) {
		t.Errorf("GroupExists() after Close error = %v, want StoreError", err)
	}
	if _, err := db.RemoveManualMembership(ctx, "alice", "admin"); !IsStoreError(err) {
		t.Errorf("RemoveManualMembership() after Close error = %v, want StoreError", err)
	}
}
