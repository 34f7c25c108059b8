package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Akgit99/message-dash-f/internal/app"
)

const helpText = `commands:
  /login <user> <password>   log in and connect
  /signup <user> <password>  register a new account
  /contacts                  list contacts
  /open <id>                 open a conversation
  /close                     leave the conversation
  /logout                    log out and forget the token
  /quit                      exit
anything else is sent to the open conversation`

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, stop, err := startApp(cmd)
			if err != nil {
				return err
			}
			defer stop()

			out := newPrinter(cmd.OutOrStdout())
			events, unsub := client.Subscribe("", 256)
			defer unsub()
			done := make(chan struct{})
			defer close(done)
			go renderEvents(done, out, client, events)

			if user, _ := cmd.Flags().GetString("user"); user != "" {
				password, _ := cmd.Flags().GetString("password")
				if err := client.Login(cmd.Context(), user, password); err != nil {
					out.Printf("login failed: %s", userMessage(err))
				}
			}

			out.Printf("type /help for commands")
			return runREPL(cmd.Context(), cmd.InOrStdin(), out, client)
		},
	}
	cmd.Flags().String("user", "", "log in as this user on start")
	cmd.Flags().String("password", "", "password for --user")
	return cmd
}

func runREPL(ctx context.Context, in io.Reader, out *printer, client *app.Client) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		name, args := parseCommand(line)
		quit, err := execute(ctx, out, client, name, args, line)
		if err != nil {
			out.Printf("error: %s", userMessage(err))
		}
		if quit {
			return nil
		}
	}
	return scanner.Err()
}

// parseCommand splits "/open u2" into ("open", ["u2"]). Lines not starting
// with a slash yield an empty name.
func parseCommand(line string) (string, []string) {
	if !strings.HasPrefix(line, "/") {
		return "", nil
	}
	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}

func execute(ctx context.Context, out *printer, client *app.Client, name string, args []string, line string) (bool, error) {
	switch name {
	case "":
		if err := client.Compose(line); err != nil {
			out.Printf("typing signal not sent: %v", err)
		}
		_, err := client.Send(line)
		return false, err
	case "help":
		out.Printf("%s", helpText)
	case "quit", "exit":
		return true, nil
	case "login", "signup":
		if len(args) != 2 {
			return false, fmt.Errorf("usage: /%s <user> <password>", name)
		}
		if name == "signup" {
			if err := client.Signup(ctx, args[0], args[1]); err != nil {
				return false, err
			}
			out.Printf("account %s created", args[0])
			return false, nil
		}
		return false, client.Login(ctx, args[0], args[1])
	case "logout":
		return false, client.Logout(ctx)
	case "contacts":
		for _, c := range client.Contacts() {
			out.Printf("%s", formatContact(c))
		}
	case "open":
		if len(args) != 1 {
			return false, errors.New("usage: /open <id>")
		}
		return false, client.Open(args[0])
	case "close":
		client.CloseConversation()
	default:
		return false, fmt.Errorf("unknown command /%s", name)
	}
	return false, nil
}
