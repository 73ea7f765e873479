// Package sync reconciles the directory cache with the concrexit API.
//
// Overview
//
// Two reconcilers each own a slice of the cache:
//
//	concrexit API
//	     ├── groups endpoint  → GroupReconciler → groups + remote-owned memberships
//	     └── users endpoint   → UserReconciler  → users (+ email/quota push to the host)
//	                                   ↓
//	                            directory cache
//
// A pass fetches a full snapshot first. If the fetch fails nothing is
// written and the previous cache state stays in place until the next
// scheduled pass.
//
// Manual memberships
//
// Rows with manual = 1 come from an administrative add. The group reconciler
// never inserts over them, never deletes them during member cleanup and never
// flips their flag. They disappear only through an explicit remove, or when
// their whole group vanishes upstream.
//
// Usage
//
//	cache, err := db.Open(".cxdir/cache.db")
//	if err != nil {
//	    return err
//	}
//	defer cache.Close()
//
//	client := remote.New(remote.Config{Host: host, Secret: secret}, nil, logger)
//	runner := sync.NewRunner(cache, logger,
//	    sync.NewGroupReconciler(cache, client, logger),
//	    sync.NewUserReconciler(cache, client, nil, "100MB", logger),
//	)
//	if _, err := runner.Run(ctx, sync.KindGroups); err != nil {
//	    return err
//	}
//
// Concurrency
//
// Runner coalesces concurrent triggers of the same kind, so at most one pass
// per reconciler is in flight. A group pass is applied in a single write
// transaction; readers see the cache either before or after it.
package sync
