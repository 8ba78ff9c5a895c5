package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// watchPoll is how often watch checks the session for changes
var watchPoll = time.Second

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the session refreshed until interrupted",
	Long:  "Rehydrate the stored session and refresh it before each access token expires. Exits when the session ends or on interrupt.",
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openAgent(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.sess.IsSessionValid() {
		return errors.New("not logged in")
	}

	out := cmd.OutOrStdout()
	lastToken := a.sess.AccessToken()
	if at, ok := a.sess.Scheduler().NextAt(); ok {
		fmt.Fprintf(out, "Watching session, next refresh at %s\n", at.Local().Format(time.RFC3339))
	} else {
		fmt.Fprintln(out, "Watching session, no refresh scheduled")
	}

	ticker := time.NewTicker(watchPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "Stopped. Session kept.")
			return nil
		case <-ticker.C:
		}

		if !a.sess.State().Authenticated() {
			return errors.New("session ended; please log in again")
		}
		if token := a.sess.AccessToken(); token != lastToken {
			lastToken = token
			if at, ok := a.sess.Scheduler().NextAt(); ok {
				fmt.Fprintf(out, "Session refreshed, next refresh at %s\n", at.Local().Format(time.RFC3339))
			}
		}
	}
}
