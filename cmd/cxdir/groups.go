package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/thaliawww/cxdir/internal/directory/query"
	"github.com/thaliawww/cxdir/internal/ui"
)

// pageFlags registers --search, --limit and --offset on cmd.
func pageFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("search", "s", "", "case-insensitive substring filter")
	cmd.Flags().IntP("limit", "n", 0, "maximum results (0 = all)")
	cmd.Flags().Int("offset", 0, "results to skip")
}

func pageFrom(cmd *cobra.Command) query.Page {
	search, _ := cmd.Flags().GetString("search")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")
	return query.Page{Search: search, Limit: limit, Offset: offset}
}

var groupsCmd = &cobra.Command{
	Use:     "groups",
	GroupID: "query",
	Short:   "List cached group ids",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			gids, err := a.groupDir.Groups(cmd.Context(), pageFrom(cmd))
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(gids)
			}
			ui.List(os.Stdout, gids)
			return nil
		})
	},
}

var groupCmd = &cobra.Command{
	Use:     "group <gid>",
	GroupID: "query",
	Short:   "Show one group",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		gid := args[0]
		return withApp(cmd.Context(), func(a *app) error {
			ctx := cmd.Context()

			exists, err := a.groupDir.GroupExists(ctx, gid)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("%w: %s", query.ErrGroupNotFound, gid)
			}

			details, err := a.groupDir.GroupDetails(ctx, gid)
			if err != nil {
				return err
			}
			count, err := a.groupDir.CountUsersInGroup(ctx, gid, "")
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(struct {
					GID     string              `json:"gid"`
					Details *query.GroupDetails `json:"details,omitempty"`
					Members int                 `json:"members"`
				}{gid, details, count})
			}

			kv := map[string]string{"gid": gid, "members": strconv.Itoa(count)}
			if details != nil {
				kv["display name"] = details.DisplayName
			}
			ui.Title(os.Stdout, gid)
			ui.KeyValues(os.Stdout, kv)
			return nil
		})
	},
}

var membersCmd = &cobra.Command{
	Use:     "members <gid>",
	GroupID: "query",
	Short:   "List the members of a group",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			uids, err := a.groupDir.UsersInGroup(cmd.Context(), args[0], pageFrom(cmd))
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(uids)
			}
			ui.List(os.Stdout, uids)
			return nil
		})
	},
}

var userGroupsCmd = &cobra.Command{
	Use:     "user-groups <uid>",
	GroupID: "query",
	Short:   "List the groups a user belongs to",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			gids, err := a.groupDir.UserGroups(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(gids)
			}
			ui.List(os.Stdout, gids)
			return nil
		})
	},
}

var addMemberCmd = &cobra.Command{
	Use:     "add-member <uid> <gid>",
	GroupID: "admin",
	Short:   "Add a manual membership",
	Long: `Add uid to gid as a manual membership.

Manual memberships survive group passes even when concrexit does not list
the user as a member. The group must already be cached.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		uid, gid := args[0], args[1]
		return withApp(cmd.Context(), func(a *app) error {
			added, err := a.groupDir.AddToGroup(cmd.Context(), uid, gid)
			if errors.Is(err, query.ErrGroupNotFound) {
				return fmt.Errorf("group %s is not cached; run 'cxdir sync groups' first", gid)
			}
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(map[string]bool{"changed": added})
			}
			if added {
				ui.OK(os.Stdout, "added %s to %s", uid, gid)
			} else {
				ui.Warn(os.Stdout, "%s is already a member of %s", uid, gid)
			}
			return nil
		})
	},
}

var removeMemberCmd = &cobra.Command{
	Use:     "remove-member <uid> <gid>",
	GroupID: "admin",
	Short:   "Remove a manual membership",
	Long: `Remove a manual membership of uid in gid.

Memberships that come from concrexit are left alone; change them upstream.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		uid, gid := args[0], args[1]
		return withApp(cmd.Context(), func(a *app) error {
			removed, err := a.groupDir.RemoveFromGroup(cmd.Context(), uid, gid)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(map[string]bool{"changed": removed})
			}
			if removed {
				ui.OK(os.Stdout, "removed %s from %s", uid, gid)
			} else {
				ui.Warn(os.Stdout, "no manual membership of %s in %s", uid, gid)
			}
			return nil
		})
	},
}

func init() {
	pageFlags(groupsCmd)
	pageFlags(membersCmd)

	rootCmd.AddCommand(groupsCmd, groupCmd, membersCmd, userGroupsCmd, addMemberCmd, removeMemberCmd)
}
