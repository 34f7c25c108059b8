package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Akgit99/message-dash-f/internal/api"
)

func newSignupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signup <username>",
		Short: "Register a new account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, _ := cmd.Flags().GetString("password")
			if password == "" {
				return errors.New("--password is required")
			}

			client, stop, err := startApp(cmd)
			if err != nil {
				return err
			}
			defer stop()

			if err := client.Signup(cmd.Context(), args[0], password); err != nil {
				return errors.New(userMessage(err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "account %s created, run `msgdash chat --user %s` to log in\n", args[0], args[0])
			return nil
		},
	}
	cmd.Flags().String("password", "", "account password")
	return cmd
}

// userMessage extracts the text shown to the user for an auth failure.
func userMessage(err error) string {
	var authErr *api.AuthError
	if errors.As(err, &authErr) {
		return authErr.UserMessage()
	}
	return err.Error()
}
