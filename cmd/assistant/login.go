package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	userFlag     string
	passwordFlag string
	signupFlag   bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and save the token for later commands",
	Long: `Log in with a user id and password. The token is saved to
ASSISTANT_TOKEN_FILE (by default ~/.venture-assistant/token).

Use --signup to create the account first.`,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVarP(&userFlag, "user", "u", "", "User id")
	loginCmd.Flags().StringVarP(&passwordFlag, "password", "p", "", "Password (prompted when empty)")
	loginCmd.Flags().BoolVar(&signupFlag, "signup", false, "Create the account before logging in")
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	in := bufio.NewReader(os.Stdin)
	out := cmd.OutOrStdout()

	user := strings.TrimSpace(userFlag)
	if user == "" {
		if user, err = prompt(in, out, "User id: "); err != nil {
			return err
		}
	}
	password := passwordFlag
	if password == "" {
		if password, err = prompt(in, out, "Password: "); err != nil {
			return err
		}
	}

	authenticate := a.login.Login
	if signupFlag {
		authenticate = a.login.Signup
	}
	tok, err := authenticate(cmd.Context(), user, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if err := a.token.Save(tok); err != nil {
		return err
	}
	fmt.Fprintf(out, "Logged in as %s.\n", user)
	return nil
}

func prompt(in *bufio.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("%s is required", strings.TrimSuffix(label, ": "))
	}
	return line, nil
}
