package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pocketdo/pocketdo/internal/ui"
)

var loginToken string

var loginCmd = &cobra.Command{
	Use:     "login",
	GroupID: "sync",
	Short:   "Store the sync auth token",
	Long: `Store the auth token used to authenticate sync requests.

The token is written to the token file with owner-only permissions. Pass it
with --token, or omit the flag to be prompted (input is hidden).`,
	Run: func(cmd *cobra.Command, args []string) {
		token := strings.TrimSpace(loginToken)
		if token == "" {
			var err error
			token, err = promptToken()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading token: %v\n", err)
				os.Exit(1)
			}
		}
		if token == "" {
			fmt.Fprintf(os.Stderr, "Error: empty token\n")
			os.Exit(1)
		}

		provider := credProvider()
		if err := provider.Save(token); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving token: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Token saved to %s\n", ui.RenderPass("✓"), cfg.TokenPath)
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "sync",
	Short:   "Remove the stored auth token",
	Run: func(cmd *cobra.Command, args []string) {
		if err := credProvider().Clear(); err != nil {
			fmt.Fprintf(os.Stderr, "Error removing token: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Logged out\n", ui.RenderPass("✓"))
	},
}

// promptToken reads the token from the terminal without echoing it. When
// stdin is not a terminal (piped input), a plain line read is used instead.
func promptToken() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		var line string
		if _, err := fmt.Fscanln(os.Stdin, &line); err != nil {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}

	fmt.Fprint(os.Stderr, "Token: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func init() {
	loginCmd.Flags().StringVar(&loginToken, "token", "", "auth token (prompted if omitted)")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}
