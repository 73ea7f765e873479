package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/thaliawww/cxdir/internal/directory/loadtest"
	"github.com/thaliawww/cxdir/internal/logging"
	"github.com/thaliawww/cxdir/internal/ui"
)

var loadtestOpts = loadtest.DefaultOptions()

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "admin",
	Short:   "Exercise the cache with concurrent readers during group passes",
	Long: `Populate a scratch cache from a generated directory served by an
in-process fake concrexit API, then run group passes back to back while
reader goroutines query the cache.

Reports pass and read latency and fails when any reader sees a torn
member list or a lost manual membership. The real cache is not touched.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		level := logLevel
		if level == "" {
			level = "warn"
		}
		logger, closeLog, err := logging.New(logging.Options{Level: level})
		if err != nil {
			return err
		}
		defer closeLog()

		dir, err := os.MkdirTemp("", "cxdir-loadtest-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)

		ctx := cmd.Context()
		env, err := loadtest.NewEnv(ctx, filepath.Join(dir, "cache.db"), loadtestOpts, logger)
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Run(ctx)
		if err != nil {
			return err
		}

		if jsonOutput {
			if err := printJSON(report); err != nil {
				return err
			}
		} else {
			report.Print(os.Stdout)
			if report.OK() {
				ui.OK(os.Stdout, "no consistency violations")
			} else {
				ui.Fail(os.Stdout, "load test found problems")
			}
		}

		if !report.OK() {
			return &exitError{code: 1}
		}
		return nil
	},
}

func init() {
	f := loadtestCmd.Flags()
	f.IntVar(&loadtestOpts.Groups, "groups", loadtestOpts.Groups, "groups in the generated directory")
	f.IntVar(&loadtestOpts.Users, "users", loadtestOpts.Users, "users in the generated directory")
	f.IntVar(&loadtestOpts.MembersPerGroup, "members", loadtestOpts.MembersPerGroup, "members per group")
	f.IntVar(&loadtestOpts.ManualMembers, "manual", loadtestOpts.ManualMembers, "manual memberships added to admin")
	f.IntVar(&loadtestOpts.Readers, "readers", loadtestOpts.Readers, "concurrent readers")
	f.IntVar(&loadtestOpts.Passes, "passes", loadtestOpts.Passes, "group passes to run")
	f.Int64Var(&loadtestOpts.Seed, "seed", loadtestOpts.Seed, "random seed")

	rootCmd.AddCommand(loadtestCmd)
}
