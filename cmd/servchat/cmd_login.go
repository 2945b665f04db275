package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"servchat/internal/client"
)

// readPassword is replaced in tests.
var readPassword = term.ReadPassword

var loginEmail string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with email and password and print a token",
	Long: `Prompts for the password without echo and prints the bearer token.

Example:
  export SERVCHAT_TOKEN=$(servchat login --email ana@corp.example)`,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "account email")
}

func runLogin(cmd *cobra.Command, args []string) error {
	email := strings.TrimSpace(loginEmail)
	if email == "" {
		fmt.Fprint(cmd.ErrOrStderr(), "Email: ")
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return err
		}
		email = strings.TrimSpace(line)
	}

	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	c, err := client.New(client.Config{BaseURL: serverURL, Logger: logger})
	if err != nil {
		return err
	}
	u, err := c.Login(cmd.Context(), email, string(pw))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Signed in as %s (%s)\n", u.Name, u.Role)
	fmt.Fprintln(cmd.OutOrStdout(), c.Token())
	return nil
}
