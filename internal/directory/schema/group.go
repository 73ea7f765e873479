package schema

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// AdminGroupID is the gid of the remote group with primary key AdminPK.
	AdminGroupID = "admin"

	// AdminPK is the remote primary key reserved for the administrators group.
	AdminPK = -1

	// GroupIDPrefix prefixes every gid derived from a regular remote primary key.
	GroupIDPrefix = "concrexit_"
)

// Group is a cached group row.
type Group struct {
	GID  string `json:"gid" yaml:"gid"`
	Name string `json:"name" yaml:"name"`
}

// Membership is a cached (uid, gid) row.
//
// Manual memberships were added by a local administrative action and are never
// removed by the reconciler's cleanup.
type Membership struct {
	UID    string `json:"uid" yaml:"uid"`
	GID    string `json:"gid" yaml:"gid"`
	Manual bool   `json:"manual" yaml:"manual"`
}

// RemoteGroup is one group record of a remote snapshot.
type RemoteGroup struct {
	PK      int64
	Name    string
	Members []string
}

// GID returns the cache id for this remote group.
func (g RemoteGroup) GID() string {
	return GroupID(g.PK)
}

// UniqueMembers returns the member list with duplicates removed, keeping first-seen order.
func (g RemoteGroup) UniqueMembers() []string {
	seen := make(map[string]struct{}, len(g.Members))
	members := make([]string, 0, len(g.Members))
	for _, uid := range g.Members {
		if _, ok := seen[uid]; ok {
			continue
		}
		seen[uid] = struct{}{}
		members = append(members, uid)
	}
	return members
}

// GroupID derives the gid for a remote primary key.
func GroupID(pk int64) string {
	if pk == AdminPK {
		return AdminGroupID
	}
	return GroupIDPrefix + strconv.FormatInt(pk, 10)
}

// IsRemoteGroupID reports whether gid was derived from a regular remote primary key.
// Only these groups expose details to the identity host.
func IsRemoteGroupID(gid string) bool {
	return strings.HasPrefix(gid, GroupIDPrefix)
}

// ParseGroupID is the inverse of GroupID.
func ParseGroupID(gid string) (int64, error) {
	if gid == AdminGroupID {
		return AdminPK, nil
	}
	if !IsRemoteGroupID(gid) {
		return 0, fmt.Errorf("gid %q is not a concrexit group id", gid)
	}
	pk, err := strconv.ParseInt(strings.TrimPrefix(gid, GroupIDPrefix), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("gid %q has invalid primary key: %w", gid, err)
	}
	return pk, nil
}
