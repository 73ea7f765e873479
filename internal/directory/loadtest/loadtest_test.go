package loadtest

import (
	"bytes"
	"context"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/thaliawww/cxdir/internal/directory/schema"
)

func smallOptions() Options {
	return Options{
		Groups:          30,
		Users:           100,
		MembersPerGroup: 8,
		ManualMembers:   3,
		Readers:         4,
		Passes:          4,
		Seed:            7,
	}
}

func TestNewEnv(t *testing.T) {
	ctx := context.Background()
	opts := smallOptions()

	env, err := NewEnv(ctx, filepath.Join(t.TempDir(), "load.db"), opts, nil)
	if err != nil {
		t.Fatalf("Failed to create env: %v", err)
	}
	defer env.Close()

	stats, err := env.DB.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.Groups != opts.Groups {
		t.Errorf("Expected %d groups, got %d", opts.Groups, stats.Groups)
	}
	if stats.Users != opts.Users {
		t.Errorf("Expected %d users, got %d", opts.Users, stats.Users)
	}
	if stats.ManualMemberships != opts.ManualMembers {
		t.Errorf("Expected %d manual memberships, got %d", opts.ManualMembers, stats.ManualMemberships)
	}

	want := opts.Groups*opts.MembersPerGroup + opts.ManualMembers
	if stats.Memberships != want {
		t.Errorf("Expected %d memberships, got %d", want, stats.Memberships)
	}
}

func TestNewEnv_InvalidOptions(t *testing.T) {
	opts := smallOptions()
	opts.MembersPerGroup = opts.Users + 1

	if _, err := NewEnv(context.Background(), filepath.Join(t.TempDir(), "load.db"), opts, nil); err == nil {
		t.Fatal("Expected error for more members than users")
	}
}

func TestSnapshotShape(t *testing.T) {
	env := &Env{opts: smallOptions()}
	env.users = generateUsers(env.opts.Users)
	env.rng = rand.New(rand.NewSource(1))

	even := env.snapshot(2)
	odd := env.snapshot(3)

	if len(even) != env.opts.Groups {
		t.Errorf("Expected %d groups in even version, got %d", env.opts.Groups, len(even))
	}
	if len(odd) != env.opts.Groups-2 {
		t.Errorf("Expected groups 10 and 20 to be absent in odd version, got %d groups", len(odd))
	}
	if even[0].PK != schema.AdminPK {
		t.Errorf("Expected admin group first, got pk %d", even[0].PK)
	}
	for _, g := range append(even, odd...) {
		if len(g.UniqueMembers()) != env.opts.MembersPerGroup {
			t.Fatalf("Group %d has %d unique members", g.PK, len(g.UniqueMembers()))
		}
	}
}

func TestRun(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping load test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	env, err := NewEnv(ctx, filepath.Join(t.TempDir(), "load.db"), smallOptions(), nil)
	if err != nil {
		t.Fatalf("Failed to create env: %v", err)
	}
	defer env.Close()

	report, err := env.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !report.OK() {
		t.Fatalf("Expected clean run, got %d errors and violations %v", report.Errors, report.Violations)
	}
	if report.Passes.Count != smallOptions().Passes {
		t.Errorf("Expected %d passes, got %d", smallOptions().Passes, report.Passes.Count)
	}
	if report.Reads.Count == 0 {
		t.Error("Expected some reads")
	}

	// manual memberships survive every pass
	for _, uid := range env.manual {
		in, err := env.Groups.InGroup(ctx, uid, schema.AdminGroupID)
		if err != nil || !in {
			t.Errorf("Manual member %s lost (err=%v)", uid, err)
		}
	}

	var buf bytes.Buffer
	report.Print(&buf)
	if !strings.Contains(buf.String(), "Violations: 0") {
		t.Errorf("Unexpected report output:\n%s", buf.String())
	}
	t.Logf("\n%s", buf.String())
}

func TestComputeLatencyStats(t *testing.T) {
	durations := make([]time.Duration, 100)
	for i := range durations {
		durations[len(durations)-1-i] = time.Duration(i+1) * time.Millisecond
	}

	s := computeLatencyStats(durations)
	if s.Min != time.Millisecond || s.Max != 100*time.Millisecond {
		t.Errorf("Unexpected min/max: %v/%v", s.Min, s.Max)
	}
	if s.P50 != 51*time.Millisecond {
		t.Errorf("Expected P50 51ms, got %v", s.P50)
	}
	if s.P99 != 100*time.Millisecond {
		t.Errorf("Expected P99 100ms, got %v", s.P99)
	}
	if s.Count != 100 {
		t.Errorf("Expected count 100, got %d", s.Count)
	}

	if empty := computeLatencyStats(nil); empty.Count != 0 {
		t.Errorf("Expected empty stats, got %+v", empty)
	}
}
