package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget every mapping, instance record and cached context",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		before, err := svc.Stats(cmd.Context())
		if err != nil {
			return err
		}
		if err := svc.ClearMetadata(cmd.Context()); err != nil {
			return fmt.Errorf("failed to clear metadata: %w", err)
		}
		total := 0
		for _, n := range before {
			total += n
		}
		render(cmd.OutOrStdout(), "metadata cleared", before)
		renderHelp(cmd.OutOrStdout(), fmt.Sprintf("%d mapping rows removed", total))
		return nil
	},
}

func init() {
	RootCmd.AddCommand(clearCmd)
}
