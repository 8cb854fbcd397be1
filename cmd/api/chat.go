package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/ewilliams-labs/mirror/internal/core/domain"
	"github.com/ewilliams-labs/mirror/internal/core/services"
	"github.com/spf13/cobra"
)

var chatSession string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the assistant from the terminal",
	Long: `Runs an interactive session against the same router the HTTP API uses.
Music requests need a Spotify login stored for the session; get a ticket
from POST /login-ticket with X-Session-Id: <session> and open
/login?ticket=<ticket> in a browser to share one.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatSession, "session", "console", "session ID to use")
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Mirror chat (session %q). Type 'exit' to quit.\n", chatSession)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		cred, err := a.auth.Credential(ctx, chatSession)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			a.log.WithError(err).Debug("no usable credential for console session")
		}
		res, err := a.orch.Ask(ctx, services.AskRequest{SessionID: chatSession, Credential: cred, Query: line})
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		fmt.Fprintln(out, res.Response)
	}
}
