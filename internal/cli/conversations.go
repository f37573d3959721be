package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"chatrelay/pkg/domain"
)

func newNewCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Start a new conversation and select it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conv := a.sessions.Create()
			fmt.Fprintln(cmd.OutOrStdout(), conv.ID)
			a.warnSingleRestore(cmd)
			return nil
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List conversations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			printConversations(cmd, a.sessions.ListNewestFirst(), a.sessions.Selected())
			return nil
		},
	}
}

func newSelectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "select <id>",
		Short: "Select a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.sessions.Select(args[0]) {
				return fmt.Errorf("conversation not found: %s", args[0])
			}
			a.warnSingleRestore(cmd)
			return nil
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a conversation",
		Long: `Delete a conversation. Deleting the selected conversation selects the
first remaining one, or starts a new one when none remain.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.sessions.Delete(args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "selected: %s\n", a.sessions.Selected())
			a.warnSingleRestore(cmd)
			return nil
		},
	}
}

func newRenameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Rename a conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.Join(args[1:], " ")
			if !a.sessions.Rename(args[0], title) {
				return fmt.Errorf("conversation not found: %s", args[0])
			}
			return nil
		},
	}
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Print the messages of a conversation (default: selected)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				conv domain.Conversation
				ok   bool
			)
			if len(args) == 1 {
				conv, ok = a.sessions.Get(args[0])
			} else {
				conv, ok = a.sessions.Current()
			}
			if !ok {
				return fmt.Errorf("conversation not found")
			}
			printConversation(cmd, conv)
			return nil
		},
	}
}

// warnSingleRestore tells the user that the next chatctl run will only load
// the first stored conversation.
func (a *app) warnSingleRestore(cmd *cobra.Command) {
	if a.cfg.RestoreAll {
		return
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "warning: restoreAll is off; the next run keeps only the first stored conversation")
}

func printConversations(cmd *cobra.Command, list []domain.Conversation, selected string) {
	out := cmd.OutOrStdout()
	for _, conv := range list {
		marker := " "
		if conv.ID == selected {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %s  %s  %-33s %d messages\n",
			marker, conv.ID, conv.CreatedAt.Local().Format(time.DateTime), conv.Title, len(conv.Messages))
	}
}

func printConversation(cmd *cobra.Command, conv domain.Conversation) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "# %s\n", conv.Title)
	for _, msg := range conv.Messages {
		fmt.Fprintf(out, "\n%s: %s\n", msg.Role, msg.Content)
	}
}
