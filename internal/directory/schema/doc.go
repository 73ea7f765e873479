// Package schema defines the entities stored in the directory cache.
//
// # Overview
//
// The cache mirrors the concrexit member directory. Three entities exist:
//
//   - User: one row per remote member, keyed by the remote username (uid)
//   - Group: one row per remote group, keyed by a gid derived from the remote primary key
//   - Membership: one row per (uid, gid) pair, flagged manual when created locally
//
// # Group identifiers
//
// Group ids are a stable function of the remote primary key so repeated syncs
// recognise the same group even after it is renamed:
//
//	schema.GroupID(3)  // "concrexit_3"
//	schema.GroupID(-1) // "admin"
//
// # Memberships
//
// Remote-owned memberships (Manual == false) are kept in sync with the latest
// remote snapshot by the group reconciler. Manual memberships are created and
// removed only through the directory's add/remove operations and survive every
// sync, unless the group itself disappears upstream.
package schema
