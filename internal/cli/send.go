package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"chatrelay/internal/chat"
)

func (a *app) newSender(out io.Writer) (*chat.Sender, error) {
	return chat.NewSender(chat.Config{
		Relay:    a.relay,
		Sessions: a.sessions,
		Prompt:   a.prompt,
		OnChunk: func(chunk string) {
			_, _ = io.WriteString(out, chunk)
		},
		Logger: a.logger,
	})
}

func send(ctx context.Context, sender *chat.Sender, out io.Writer, text string) error {
	_, err := sender.Send(ctx, text)
	fmt.Fprintln(out)
	return err
}

func newSendCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "send <message>",
		Short: "Send a message in the selected conversation and stream the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sender, err := a.newSender(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if err := send(cmd.Context(), sender, cmd.OutOrStdout(), strings.Join(args, " ")); err != nil {
				return errors.New(chat.UserMessage(err))
			}
			return nil
		},
	}
}

func newChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat session",
		Long: `Read messages from standard input and stream replies until EOF or /quit.

Commands:
  /new             start a new conversation
  /list            list conversations
  /select <id>     switch conversation
  /delete <id>     delete a conversation
  /rename <title>  rename the selected conversation
  /show            print the selected conversation
  /prompt          show the system prompt
  /quit            exit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			sender, err := a.newSender(out)
			if err != nil {
				return err
			}
			scanner := bufio.NewScanner(cmd.InOrStdin())
			scanner.Buffer(make([]byte, 64*1024), 1<<20)
			for {
				fmt.Fprint(out, "> ")
				if !scanner.Scan() {
					fmt.Fprintln(out)
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if strings.HasPrefix(line, "/") {
					if quit := a.runSlash(cmd, line); quit {
						return nil
					}
					continue
				}
				err := send(cmd.Context(), sender, out, line)
				if errors.Is(err, context.Canceled) {
					return err
				}
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "error: %s\n", chat.UserMessage(err))
				}
			}
		},
	}
}

func (a *app) runSlash(cmd *cobra.Command, line string) bool {
	out := cmd.OutOrStdout()
	name, rest, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "quit", "exit":
		return true
	case "new":
		conv := a.sessions.Create()
		fmt.Fprintf(out, "new conversation %s\n", conv.ID)
	case "list":
		printConversations(cmd, a.sessions.ListNewestFirst(), a.sessions.Selected())
	case "select":
		if !a.sessions.Select(rest) {
			fmt.Fprintf(out, "conversation not found: %s\n", rest)
		}
	case "delete":
		a.sessions.Delete(rest)
		fmt.Fprintf(out, "selected: %s\n", a.sessions.Selected())
	case "rename":
		if rest == "" {
			fmt.Fprintln(out, "usage: /rename <title>")
			break
		}
		a.sessions.Rename(a.sessions.Selected(), rest)
	case "show":
		if conv, ok := a.sessions.Current(); ok {
			printConversation(cmd, conv)
		}
	case "prompt":
		printPrompt(out, a.prompt)
	default:
		fmt.Fprintf(out, "unknown command: /%s\n", name)
	}
	return false
}
