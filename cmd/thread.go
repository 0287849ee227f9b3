package cmd

import (
	"fmt"

	"github.com/deemkeen/fedmerge/domain"
	"github.com/deemkeen/fedmerge/merge"
	"github.com/deemkeen/fedmerge/util"
	"github.com/spf13/cobra"
)

var threadCmd = &cobra.Command{
	Use:   "thread <host> <id>",
	Short: "Show the merged context of a status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		host := util.NormalizeHost(args[0])
		tree, ok := svc.Thread(cmd.Context(), host, args[1])
		if !ok {
			renderMiss(cmd.OutOrStdout(), "status "+args[1]+" not found via "+host)
			return nil
		}

		injected := 0
		for _, list := range [][]domain.Post{tree.Ancestors, tree.Descendants} {
			for _, p := range list {
				if p.Application != nil && p.Application.Name == merge.Application {
					injected++
				}
			}
		}
		render(cmd.OutOrStdout(), "thread of "+args[1]+" on "+host, tree)
		renderHelp(cmd.OutOrStdout(), fmt.Sprintf("%d ancestors, %d descendants, %d from the origin",
			len(tree.Ancestors), len(tree.Descendants), injected))
		return nil
	},
}

func init() {
	RootCmd.AddCommand(threadCmd)
}
