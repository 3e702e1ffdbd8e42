package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/rahul/dealdesk/internal/agent"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newChatCmd(configPath *string) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the desk from the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if sessionID == "" {
				sessionID = "cli:" + uuid.NewString()
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			interactive := term.IsTerminal(int(os.Stdin.Fd()))
			return chatLoop(ctx, a.orchestrator, sessionID, os.Stdin, cmd.OutOrStdout(), interactive)
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "resume an existing session id")
	return cmd
}

type turnHandler interface {
	HandleTurn(ctx context.Context, req agent.TurnRequest) (*agent.TurnResponse, error)
}

// chatLoop reads one operator message per line until EOF, "exit" or ctx
// is done. Prompt decoration is only shown on a terminal.
func chatLoop(ctx context.Context, turns turnHandler, sessionID string, in io.Reader, out io.Writer, interactive bool) error {
	if interactive {
		fmt.Fprintf(out, "%s\nsession %s, type exit to quit\n%s\n", divider(), sessionID, divider())
	}

	scanner := bufio.NewScanner(in)
	for {
		if interactive {
			fmt.Fprint(out, "> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		text := strings.TrimSpace(scanner.Text())
		switch text {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		resp, err := turns.HandleTurn(ctx, agent.TurnRequest{SessionID: sessionID, Text: text})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if agent.IsRetryable(err) {
				fmt.Fprintf(out, "! %v (send it again to retry)\n", err)
				continue
			}
			return err
		}

		label := resp.Executor
		if resp.EntityDisplayName != "" {
			label += " @ " + resp.EntityDisplayName
		}
		fmt.Fprintf(out, "[%s] %s\n", label, resp.Text)
	}
}

func divider() string {
	width := 60
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 && w < width {
		width = w
	}
	return strings.Repeat("-", width)
}
