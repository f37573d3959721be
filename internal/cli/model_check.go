package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newModelCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "model-check",
		Short: "Ask the relay which model actually serves requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			check, err := a.relay.CheckModel(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(check)
		},
	}
}
