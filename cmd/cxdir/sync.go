package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	dirsync "github.com/thaliawww/cxdir/internal/directory/sync"
	"github.com/thaliawww/cxdir/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync [groups|users|all]",
	GroupID: "sync",
	Short:   "Run reconciliation passes once",
	Long: `Fetch a snapshot from concrexit and apply it to the cache.

  groups  mirror groups and memberships, keeping manual memberships
  users   replace cached users and push email and quota to the identity host
  all     both, groups first (default)

A failed fetch leaves the cache untouched.`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"groups", "users", "all"},
	RunE: func(cmd *cobra.Command, args []string) error {
		which := "all"
		if len(args) == 1 {
			which = args[0]
		}

		var kinds []dirsync.Kind
		if which == "all" {
			kinds = []dirsync.Kind{dirsync.KindGroups, dirsync.KindUsers}
		} else {
			kind, ok := dirsync.ParseKind(which)
			if !ok {
				return fmt.Errorf("unknown pass %q (want groups, users or all)", which)
			}
			kinds = []dirsync.Kind{kind}
		}

		return withApp(cmd.Context(), func(a *app) error {
			var results []*dirsync.Result
			var errs []error

			for _, kind := range kinds {
				res, err := a.runner.Run(cmd.Context(), kind)
				if res != nil {
					results = append(results, res)
				}
				if err != nil {
					errs = append(errs, fmt.Errorf("%s pass: %w", kind, err))
					if !jsonOutput {
						ui.Fail(os.Stderr, "%s pass failed: %v", kind, err)
					}
					continue
				}
				if !jsonOutput {
					printResult(res)
				}
			}

			if jsonOutput {
				if err := printJSON(results); err != nil {
					return err
				}
				if len(errs) > 0 {
					return &exitError{code: 1}
				}
				return nil
			}
			return errors.Join(errs...)
		})
	},
}

func printResult(res *dirsync.Result) {
	ui.OK(os.Stdout, "%s pass complete in %v", res.Kind, res.Duration.Round(time.Millisecond))

	kv := map[string]string{"run": res.RunID}
	switch res.Kind {
	case dirsync.KindGroups:
		kv["groups"] = strconv.Itoa(res.Groups)
		kv["created"] = strconv.Itoa(res.GroupsCreated)
		kv["renamed"] = strconv.Itoa(res.GroupsRenamed)
		kv["deleted"] = strconv.Itoa(res.GroupsDeleted)
		kv["members added"] = strconv.Itoa(res.MembersAdded)
		kv["members removed"] = strconv.Itoa(res.MembersRemoved)
	case dirsync.KindUsers:
		kv["users"] = strconv.Itoa(res.Users)
		kv["host updates"] = strconv.Itoa(res.HostUpdates)
		kv["host failures"] = strconv.Itoa(res.HostFailures)
	}
	ui.KeyValues(os.Stdout, kv)
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
