package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Import a session left by the previous client",
	Long:  "Adopt an unexpired legacy session, if no session is stored, and delete every legacy credential. Running it again does nothing.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openAgent(cmd, true)
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		res := a.migrated
		if res.Adopted == "" && len(res.Discarded) == 0 {
			fmt.Fprintln(out, "Nothing to migrate.")
			return nil
		}
		if res.Adopted != "" {
			fmt.Fprintf(out, "Adopted legacy session from %s.\n", res.Adopted)
		}
		if len(res.Discarded) > 0 {
			fmt.Fprintf(out, "Discarded: %s\n", strings.Join(res.Discarded, ", "))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
