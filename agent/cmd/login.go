package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Digital-master-solutions/sen-alerte-sub000/agent/internal/api"
)

var (
	loginEmail    string
	loginPassword string
	loginType     string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate with the Sen Alerte server",
	Long:  "Sign in as an administrator or an organization and store the session securely.",
	RunE:  runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Email address")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Password (will prompt if not provided)")
	loginCmd.Flags().StringVar(&loginType, "type", "organization", "Account type: admin or organization")
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	// Reset flags for reuse in tests
	defer func() {
		loginEmail, loginPassword, loginType = "", "", "organization"
	}()

	userType := strings.ToLower(loginType)
	if userType != "admin" && userType != "organization" {
		return fmt.Errorf("invalid account type %q: use admin or organization", loginType)
	}

	a, err := openAgent(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	in := bufio.NewReader(cmd.InOrStdin())
	if loginEmail == "" {
		fmt.Fprint(cmd.OutOrStdout(), "Email: ")
		if loginEmail, err = readLine(in); err != nil {
			return fmt.Errorf("failed to read email: %w", err)
		}
	}
	if loginPassword == "" {
		fmt.Fprint(cmd.OutOrStdout(), "Password: ")
		if loginPassword, err = readPassword(cmd, in); err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout())
	}

	ctx := cmd.Context()
	if a.sess.State().Authenticated() {
		if err := a.sess.Logout(ctx); err != nil {
			a.log.Warn("login.previous_session_not_cleared", "err", err)
		}
	}

	resp, err := a.client.Login(ctx, loginEmail, loginPassword, userType)
	if errors.Is(err, api.ErrUnauthorized) {
		return errors.New("login failed: invalid credentials or inactive account")
	}
	if errors.Is(err, api.ErrRateLimited) {
		return errors.New("login failed: too many attempts, try again later")
	}
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	if err := a.sess.SetAuth(resp.User, userType, resp.Token, resp.RefreshToken, time.Duration(resp.ExpiresIn)*time.Second); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s). Session stored securely.\n", resp.User.Name, userType)
	return nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readPassword reads without echo from a terminal, or a plain line otherwise
func readPassword(cmd *cobra.Command, r *bufio.Reader) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	return readLine(r)
}
