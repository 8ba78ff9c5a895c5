package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Digital-master-solutions/sen-alerte-sub000/agent/internal/api"
	"github.com/Digital-master-solutions/sen-alerte-sub000/agent/internal/session"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openAgent(cmd, true)
		if err != nil {
			return err
		}
		defer a.Close()

		printSession(cmd.OutOrStdout(), a.sess)
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Rotate the session now",
	Long:  "Exchange the stored refresh token for a new pair. A rejected token ends the session.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openAgent(cmd, true)
		if err != nil {
			return err
		}
		defer a.Close()

		err = a.sess.RefreshNow(cmd.Context())
		if errors.Is(err, session.ErrNotAuthenticated) {
			return errors.New("not logged in")
		}
		if err != nil {
			return fmt.Errorf("%w; please log in again", err)
		}
		printSession(cmd.OutOrStdout(), a.sess)
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Ask the server who the access token belongs to",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openAgent(cmd, true)
		if err != nil {
			return err
		}
		defer a.Close()

		if !a.sess.IsSessionValid() {
			return errors.New("not logged in")
		}
		token := a.sess.AccessToken()
		if token == "" {
			return errors.New("session has no access token; please log in again")
		}

		me, err := a.client.Me(cmd.Context(), token)
		if errors.Is(err, api.ErrUnauthorized) {
			return errors.New("the server rejected the access token; run 'sen-alerte refresh' or log in again")
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Name:       %s\n", me.User.Name)
		fmt.Fprintf(out, "Email:      %s\n", me.User.Email)
		fmt.Fprintf(out, "Type:       %s\n", me.User.Type)
		fmt.Fprintf(out, "Session:    %s\n", me.SessionID)
		fmt.Fprintf(out, "Expires at: %s\n", me.ExpiresAt.Local().Format(time.RFC3339))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(whoamiCmd)
}

func printSession(out io.Writer, sess *session.Context) {
	state := sess.State()
	snap, ok := sess.Snapshot()
	if !ok || !state.Authenticated() {
		fmt.Fprintln(out, "Not logged in.")
		return
	}

	fmt.Fprintf(out, "State:      %s\n", state)
	if snap.User != nil {
		fmt.Fprintf(out, "User:       %s <%s>\n", snap.User.Name, snap.User.Email)
	}
	fmt.Fprintf(out, "Type:       %s\n", snap.UserType)
	if expiry, ok := snap.Expiry(); ok {
		fmt.Fprintf(out, "Expires at: %s\n", expiry.Local().Format(time.RFC3339))
	} else {
		fmt.Fprintln(out, "Expires at: never")
	}
	if snap.RefreshToken == "" {
		fmt.Fprintln(out, "Refresh:    unavailable (migrated session)")
	}
}
