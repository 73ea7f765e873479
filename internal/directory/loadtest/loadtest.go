// Package loadtest exercises the directory cache under concurrent access.
//
// A fake concrexit API serves generated snapshots. Group passes run against
// it back to back while reader goroutines query the cache through the group
// provider, recording latency and checking that no reader ever observes a
// half-applied pass or a lost manual membership.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/thaliawww/cxdir/internal/directory/db"
	"github.com/thaliawww/cxdir/internal/directory/query"
	"github.com/thaliawww/cxdir/internal/directory/remote"
	"github.com/thaliawww/cxdir/internal/directory/remote/remotetest"
	"github.com/thaliawww/cxdir/internal/directory/schema"
	dirsync "github.com/thaliawww/cxdir/internal/directory/sync"
)

const secret = "loadtest"

// Options sizes the generated directory and the run.
type Options struct {
	Groups          int
	Users           int
	MembersPerGroup int
	ManualMembers   int

	Readers int
	Passes  int
	Seed    int64
}

// DefaultOptions returns a medium-sized directory.
func DefaultOptions() Options {
	return Options{
		Groups:          200,
		Users:           2000,
		MembersPerGroup: 25,
		ManualMembers:   10,
		Readers:         16,
		Passes:          20,
		Seed:            42,
	}
}

func (o Options) validate() error {
	switch {
	case o.Groups < 2:
		return errors.New("at least two groups are required")
	case o.Users < 1:
		return errors.New("at least one user is required")
	case o.MembersPerGroup < 1 || o.MembersPerGroup > o.Users:
		return fmt.Errorf("members per group must be between 1 and %d", o.Users)
	case o.Readers < 1:
		return errors.New("at least one reader is required")
	case o.Passes < 1:
		return errors.New("at least one pass is required")
	}
	return nil
}

// Env is a populated cache wired to a fake remote.
type Env struct {
	DB     *db.DB
	Remote *remotetest.Server
	Runner *dirsync.Runner
	Groups *query.GroupProvider

	opts   Options
	rng    *rand.Rand
	users  []schema.RemoteUser
	manual []string
	logger *zap.Logger
}

// NewEnv creates the cache at dbPath, populates it through one group and
// one user pass, and adds the manual memberships to the admin group.
func NewEnv(ctx context.Context, dbPath string, opts Options, logger *zap.Logger) (*Env, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	database, err := db.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.InitSchemaContext(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	srv := remotetest.NewServer(secret)
	client := remote.New(remote.Config{Host: srv.URL, Secret: secret}, nil, logger)

	e := &Env{
		DB:     database,
		Remote: srv,
		Runner: dirsync.NewRunner(database, logger,
			dirsync.NewGroupReconciler(database, client, logger),
			dirsync.NewUserReconciler(database, client, nil, "", logger),
		),
		Groups: query.NewGroupProvider(database, logger),
		opts:   opts,
		rng:    rand.New(rand.NewSource(opts.Seed)),
		logger: logger.Named("loadtest"),
	}

	e.users = generateUsers(opts.Users)
	srv.SetUsers(remotetest.UsersFrom(e.users)...)
	srv.SetGroups(remotetest.GroupsFrom(e.snapshot(0))...)

	if err := e.Runner.RunAll(ctx); err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("failed to populate cache: %w", err)
	}

	for i := 0; i < opts.ManualMembers; i++ {
		uid := fmt.Sprintf("manual-%03d", i)
		if _, err := e.Groups.AddToGroup(ctx, uid, schema.AdminGroupID); err != nil {
			_ = e.Close()
			return nil, fmt.Errorf("failed to add manual member %s: %w", uid, err)
		}
		e.manual = append(e.manual, uid)
	}

	return e, nil
}

// Close releases the fake remote and the database.
func (e *Env) Close() error {
	if e.Remote != nil {
		e.Remote.Close()
	}
	if e.DB != nil {
		return e.DB.Close()
	}
	return nil
}

func generateUsers(count int) []schema.RemoteUser {
	users := make([]schema.RemoteUser, count)
	for i := range users {
		users[i] = schema.RemoteUser{
			Username:  fmt.Sprintf("user-%05d", i),
			FirstName: "Member",
			LastName:  fmt.Sprintf("%05d", i),
			Email:     fmt.Sprintf("user-%05d@members.example", i),
		}
	}
	return users
}

// snapshot builds the group snapshot for one pass.
//
// The admin group and pk 1..Groups-1 exist in every version, except that
// every tenth group is present only in even versions. Each group has
// exactly MembersPerGroup members, drawn at random, so a reader can tell a
// complete member list from a torn one by its length alone.
func (e *Env) snapshot(version int) []schema.RemoteGroup {
	groups := make([]schema.RemoteGroup, 0, e.opts.Groups)
	for i := 0; i < e.opts.Groups; i++ {
		pk := int64(i)
		if i == 0 {
			pk = schema.AdminPK
		} else if i%10 == 0 && version%2 == 1 {
			continue
		}

		members := make([]string, 0, e.opts.MembersPerGroup)
		for _, idx := range e.rng.Perm(len(e.users))[:e.opts.MembersPerGroup] {
			members = append(members, e.users[idx].Username)
		}
		groups = append(groups, schema.RemoteGroup{
			PK:      pk,
			Name:    fmt.Sprintf("Group %d v%d", i, version),
			Members: members,
		})
	}
	return groups
}

// LatencyStats captures performance metrics.
type LatencyStats struct {
	Min   time.Duration `json:"min" yaml:"min"`
	Max   time.Duration `json:"max" yaml:"max"`
	Mean  time.Duration `json:"mean" yaml:"mean"`
	P50   time.Duration `json:"p50" yaml:"p50"`
	P95   time.Duration `json:"p95" yaml:"p95"`
	P99   time.Duration `json:"p99" yaml:"p99"`
	Count int           `json:"count" yaml:"count"`
}

// Report is the outcome of Run.
type Report struct {
	Passes     LatencyStats `json:"passes" yaml:"passes"`
	Reads      LatencyStats `json:"reads" yaml:"reads"`
	Errors     int          `json:"errors" yaml:"errors"`
	Violations []string     `json:"violations,omitempty" yaml:"violations,omitempty"`
}

// OK reports whether the run saw no errors and no consistency violations.
func (r *Report) OK() bool {
	return r.Errors == 0 && len(r.Violations) == 0
}

// Run fires Passes group passes while Readers goroutines query the cache.
func (e *Env) Run(ctx context.Context) (*Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		reads      []time.Duration
		violations []string
		errCount   atomic.Int64
	)

	record := func(durations []time.Duration, found []string) {
		mu.Lock()
		defer mu.Unlock()
		reads = append(reads, durations...)
		violations = append(violations, found...)
	}

	gids := make([]string, 0, e.opts.Groups)
	for i := 0; i < e.opts.Groups; i++ {
		if i == 0 {
			gids = append(gids, schema.AdminGroupID)
		} else {
			gids = append(gids, schema.GroupID(int64(i)))
		}
	}

	for i := 0; i < e.opts.Readers; i++ {
		wg.Add(1)
		go func(reader int) {
			defer wg.Done()

			rng := rand.New(rand.NewSource(e.opts.Seed + int64(reader) + 1))
			durations := make([]time.Duration, 0, 1024)
			var found []string

			for ctx.Err() == nil {
				start := time.Now()
				v, err := e.check(ctx, gids[rng.Intn(len(gids))], rng)
				durations = append(durations, time.Since(start))

				if err != nil {
					if ctx.Err() == nil {
						errCount.Add(1)
						e.logger.Warn("read failed", zap.Int("reader", reader), zap.Error(err))
					}
					continue
				}
				if v != "" {
					found = append(found, fmt.Sprintf("reader %d: %s", reader, v))
				}
			}
			record(durations, found)
		}(i)
	}

	passes := make([]time.Duration, 0, e.opts.Passes)
	for version := 1; version <= e.opts.Passes; version++ {
		e.Remote.SetGroups(remotetest.GroupsFrom(e.snapshot(version))...)

		start := time.Now()
		if _, err := e.Runner.Run(ctx, dirsync.KindGroups); err != nil {
			errCount.Add(1)
			e.logger.Warn("pass failed", zap.Int("version", version), zap.Error(err))
		}
		passes = append(passes, time.Since(start))
	}

	cancel()
	wg.Wait()

	return &Report{
		Passes:     computeLatencyStats(passes),
		Reads:      computeLatencyStats(reads),
		Errors:     int(errCount.Load()),
		Violations: violations,
	}, nil
}

// check performs one read and returns a description of any inconsistency.
func (e *Env) check(ctx context.Context, gid string, rng *rand.Rand) (string, error) {
	if gid == schema.AdminGroupID && len(e.manual) > 0 {
		uid := e.manual[rng.Intn(len(e.manual))]
		in, err := e.Groups.InGroup(ctx, uid, gid)
		if err != nil {
			return "", err
		}
		if !in {
			return fmt.Sprintf("manual member %s missing from %s", uid, gid), nil
		}
		return "", nil
	}

	switch rng.Intn(3) {
	case 0:
		groups, err := e.Groups.Groups(ctx, query.Page{})
		if err != nil {
			return "", err
		}
		if !sort.StringsAreSorted(groups) {
			return "group listing is not ascending", nil
		}
	case 1:
		// Counting and listing are separate reads, so each is only checked
		// against the fixed group size.
		n, err := e.Groups.CountUsersInGroup(ctx, gid, "")
		if err != nil {
			return "", err
		}
		if n != 0 && n != e.opts.MembersPerGroup {
			return fmt.Sprintf("%s counts %d members, want 0 or %d", gid, n, e.opts.MembersPerGroup), nil
		}
	default:
		members, err := e.Groups.UsersInGroup(ctx, gid, query.Page{})
		if err != nil {
			return "", err
		}
		if n := len(members); n != 0 && n != e.opts.MembersPerGroup {
			return fmt.Sprintf("%s has %d members, want 0 or %d", gid, n, e.opts.MembersPerGroup), nil
		}
	}
	return "", nil
}

func computeLatencyStats(durations []time.Duration) LatencyStats {
	if len(durations) == 0 {
		return LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return LatencyStats{
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  sum / time.Duration(len(sorted)),
		P50:   sorted[len(sorted)*50/100],
		P95:   sorted[len(sorted)*95/100],
		P99:   sorted[len(sorted)*99/100],
		Count: len(sorted),
	}
}

// Print writes a human-readable summary.
func (r *Report) Print(w io.Writer) {
	section := func(name string, s LatencyStats) {
		fmt.Fprintf(w, "%s (%d):\n", name, s.Count)
		fmt.Fprintf(w, "  Min:           %v\n", s.Min)
		fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
		fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
		fmt.Fprintf(w, "  P95:           %v\n", s.P95)
		fmt.Fprintf(w, "  P99:           %v\n", s.P99)
		fmt.Fprintf(w, "  Max:           %v\n", s.Max)
	}
	section("Group passes", r.Passes)
	section("Reads", r.Reads)
	fmt.Fprintf(w, "Errors:     %d\n", r.Errors)
	fmt.Fprintf(w, "Violations: %d\n", len(r.Violations))
	for _, v := range r.Violations {
		fmt.Fprintf(w, "  %s\n", v)
	}
}
