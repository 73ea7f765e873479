package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/thaliawww/cxdir/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show cache location and row counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			stats, err := a.db.GetStats(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(struct {
					Cache  string      `json:"cache"`
					Config string      `json:"config,omitempty"`
					Remote string      `json:"remote"`
					Stats  interface{} `json:"stats"`
				}{a.db.Path(), a.cfg.File, a.client.Host(), stats})
			}

			size := "unknown"
			if info, err := os.Stat(a.db.Path()); err == nil {
				size = formatSize(info.Size())
			}

			configPath := a.cfg.File
			if configPath == "" {
				configPath = "(defaults and environment)"
			}

			ui.Title(os.Stdout, "cxdir cache")
			ui.KeyValues(os.Stdout, map[string]string{
				"cache":              a.db.Path(),
				"size":               size,
				"config":             configPath,
				"remote":             a.client.Host(),
				"users":              strconv.Itoa(stats.Users),
				"groups":             strconv.Itoa(stats.Groups),
				"memberships":        strconv.Itoa(stats.Memberships),
				"manual memberships": strconv.Itoa(stats.ManualMemberships),
			})
			return nil
		})
	},
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
