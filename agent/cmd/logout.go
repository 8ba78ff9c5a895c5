package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session",
	Long:  "Revoke the refresh token on the server and remove the stored session and any legacy credentials.",
	RunE:  runLogout,
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}

func runLogout(cmd *cobra.Command, args []string) error {
	a, err := openAgent(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.sess.Logout(cmd.Context()); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Logged out successfully. Session credentials removed.")
	return nil
}
