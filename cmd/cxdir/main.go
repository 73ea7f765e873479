// Command cxdir synchronizes the concrexit member directory into a local
// cache and serves it to the identity host.
package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/thaliawww/cxdir/internal/ui"
)

var (
	configFile string
	logLevel   string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "cxdir",
	Short: "concrexit directory synchronizer",
	Long: `cxdir keeps a local cache of concrexit groups and users.

Group passes mirror remote groups and memberships while preserving
memberships added by hand. User passes replace the user table and push
email addresses and quota to the identity host.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.Init()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default: search ./cxdir.*, ~/.config/cxdir, /etc/cxdir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print machine-readable JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Synchronization:"},
		&cobra.Group{ID: "query", Title: "Directory queries:"},
		&cobra.Group{ID: "admin", Title: "Administration:"},
	)
}

// exitError carries a process exit code without printing anything extra.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return "exit"
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		ui.Fail(os.Stderr, "%v", err)
		os.Exit(1)
	}
}
