package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/thaliawww/cxdir/internal/directory/query"
	"github.com/thaliawww/cxdir/internal/ui"
)

var usersCmd = &cobra.Command{
	Use:     "users",
	GroupID: "query",
	Short:   "List cached users with display names",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			names, err := a.userDir.DisplayNames(cmd.Context(), pageFrom(cmd))
			if err != nil {
				return err
			}
			if jsonOutput {
				if names == nil {
					names = []query.UserName{}
				}
				return printJSON(names)
			}

			lines := make([]string, 0, len(names))
			for _, n := range names {
				lines = append(lines, fmt.Sprintf("%-20s %s", n.UID, ui.Styles.Muted.Render(n.DisplayName)))
			}
			ui.List(os.Stdout, lines)
			return nil
		})
	},
}

var checkPasswordCmd = &cobra.Command{
	Use:     "check-password <uid>",
	GroupID: "admin",
	Short:   "Check a user's password against concrexit",
	Long: `Prompt for a password and check it against the concrexit token endpoint.

Only cached users are checked. The password is read from the terminal
with echo disabled, or from the first line of stdin when piped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		uid := args[0]
		return withApp(cmd.Context(), func(a *app) error {
			password, err := ui.PromptPassword("Password for "+uid, os.Stdin)
			if err != nil {
				return err
			}

			_, ok, err := a.userDir.CheckPassword(cmd.Context(), uid, password)
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := printJSON(map[string]bool{"authenticated": ok}); err != nil {
					return err
				}
			} else if ok {
				ui.OK(os.Stdout, "password accepted for %s", uid)
			} else {
				ui.Fail(os.Stdout, "password rejected for %s", uid)
			}

			if !ok {
				return &exitError{code: 2}
			}
			return nil
		})
	},
}

var deleteUserCmd = &cobra.Command{
	Use:     "delete-user <uid>",
	GroupID: "admin",
	Short:   "Remove a user from the cache",
	Long: `Remove the cached row for uid.

A user still present in concrexit is restored by the next user pass.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		uid := args[0]
		return withApp(cmd.Context(), func(a *app) error {
			deleted, err := a.userDir.DeleteUser(cmd.Context(), uid)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(map[string]bool{"changed": deleted})
			}
			if deleted {
				ui.OK(os.Stdout, "deleted %s", uid)
			} else {
				ui.Warn(os.Stdout, "%s is not cached", uid)
			}
			return nil
		})
	},
}

func init() {
	pageFlags(usersCmd)

	rootCmd.AddCommand(usersCmd, checkPasswordCmd, deleteUserCmd)
}
