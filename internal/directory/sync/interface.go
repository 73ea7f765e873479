package sync

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/thaliawww/cxdir/internal/directory/schema"
)

// Kind names a reconciler.
type Kind string

const (
	KindGroups Kind = "groups"
	KindUsers  Kind = "users"
)

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindGroups, KindUsers:
		return Kind(s), true
	}
	return "", false
}

// Reconciler runs one kind of pass against the cache.
type Reconciler interface {
	// Kind identifies the pass.
	Kind() Kind

	// Reconcile fetches a snapshot and applies it.
	//
	// A fetch failure returns an error matching remote.ErrFetchFailed and
	// leaves the cache untouched. Store errors are returned as-is.
	// The returned Result is never nil.
	Reconcile(ctx context.Context) (*Result, error)
}

// GroupSource supplies group snapshots.
type GroupSource interface {
	FetchGroups(ctx context.Context) ([]schema.RemoteGroup, error)
}

// UserSource supplies user snapshots.
type UserSource interface {
	FetchUsers(ctx context.Context) ([]schema.RemoteUser, error)
}

// Observer is notified after every pass.
type Observer interface {
	PassCompleted(res *Result)
	PassFailed(res *Result, err error)
}

// Result summarises one pass.
type Result struct {
	RunID     string        `json:"run_id"`
	Kind      Kind          `json:"kind"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	// Group pass
	Groups         int `json:"groups,omitempty"`
	GroupsCreated  int `json:"groups_created,omitempty"`
	GroupsRenamed  int `json:"groups_renamed,omitempty"`
	GroupsDeleted  int `json:"groups_deleted,omitempty"`
	MembersAdded   int `json:"members_added,omitempty"`
	MembersRemoved int `json:"members_removed,omitempty"`

	// User pass
	Users        int `json:"users,omitempty"`
	HostUpdates  int `json:"host_updates,omitempty"`
	HostFailures int `json:"host_failures,omitempty"`
}

func newResult(kind Kind) *Result {
	return &Result{
		RunID:     uuid.NewString(),
		Kind:      kind,
		StartedAt: time.Now().UTC(),
	}
}

func (r *Result) finish() *Result {
	r.Duration = time.Since(r.StartedAt)
	return r
}
