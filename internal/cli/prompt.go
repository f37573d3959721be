package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"chatrelay/internal/prompt"
)

func newPromptCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Show or change the system prompt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			printPrompt(cmd.OutOrStdout(), a.prompt)
			return nil
		},
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <text>",
			Short: "Replace the system prompt text",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.prompt.SetText(cmd.Context(), strings.Join(args, " "))
			},
		},
		&cobra.Command{
			Use:   "preset <name>",
			Short: "Use one of the built-in prompts",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ok, err := a.prompt.SelectPreset(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintf(cmd.ErrOrStderr(), "unknown preset %q (available: %s)\n", args[0], strings.Join(prompt.PresetNames(), ", "))
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "presets",
			Short: "List the built-in prompts",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				presets := prompt.Presets()
				for _, name := range prompt.PresetNames() {
					fmt.Fprintf(cmd.OutOrStdout(), "%-13s %s\n", name, presets[name])
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "enable",
			Short: "Prepend the system prompt to outgoing messages",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.prompt.SetEnabled(cmd.Context(), true)
			},
		},
		&cobra.Command{
			Use:   "disable",
			Short: "Stop sending the system prompt",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.prompt.SetEnabled(cmd.Context(), false)
			},
		},
		&cobra.Command{
			Use:   "toggle",
			Short: "Flip whether the system prompt is sent",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				enabled, err := a.prompt.Toggle(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "enabled: %t\n", enabled)
				return nil
			},
		},
	)
	return cmd
}

func printPrompt(out io.Writer, p *prompt.Preference) {
	fmt.Fprintf(out, "enabled: %t\n%s\n", p.Enabled(), p.Text())
}
