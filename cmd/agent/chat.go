package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"chasingclaw/internal/domain"
	"chasingclaw/internal/usecase"
)

var exitCommands = map[string]bool{"exit": true, "quit": true, "/exit": true, "/quit": true, ":q": true}

func newChatCmd() *cobra.Command {
	var (
		message string
		session string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the agent from the terminal",
		Long: `Send a single message with -m, or start an interactive session.
Type "exit" or press Ctrl+D to leave an interactive session.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, shutdown, err := bootstrap(ctx, cmd)
			if err != nil {
				return err
			}
			defer shutdown()

			agent := rt.Agent.Agent
			out := cmd.OutOrStdout()
			if strings.TrimSpace(message) != "" {
				reply, err := ask(ctx, agent, message, session)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, reply)
				return nil
			}
			return chatLoop(ctx, agent, session, cmd.InOrStdin(), out)
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "message to send; omit for interactive mode")
	cmd.Flags().StringVarP(&session, "session", "s", "direct", "chat id of the cli session")
	return cmd
}

func ask(ctx context.Context, agent *usecase.Agent, content, session string) (string, error) {
	key := domain.SessionKey(domain.ChannelCLI, session)
	return agent.ProcessDirect(ctx, content, key, domain.ChannelCLI, session)
}

// chatLoop reads one message per line until EOF, an exit command or ctx ends.
// Turn failures are printed and the loop continues.
func chatLoop(ctx context.Context, agent *usecase.Agent, session string, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	fmt.Fprintln(out, "chasingclaw interactive mode (type exit or Ctrl+D to quit)")
	for {
		fmt.Fprint(out, "\nYou: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if exitCommands[strings.ToLower(line)] {
			return nil
		}

		reply, err := ask(ctx, agent, line, session)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			fmt.Fprintf(out, "\nError: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "\nchasingclaw: %s\n", reply)
	}
}
