package cmd

import (
	"github.com/deemkeen/fedmerge/util"
	"github.com/spf13/cobra"
)

var forceFlag bool

var instanceCmd = &cobra.Command{
	Use:   "instance <host>",
	Short: "Show what is known about an instance",
	Long:  `Shows the cached capability record of an instance, probing it when the record is stale. --force probes it in any case.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		host := util.NormalizeHost(args[0])
		rec := svc.GetInstanceInfo(cmd.Context(), host, forceFlag)
		render(cmd.OutOrStdout(), "instance "+host, rec)
		return nil
	},
}

func init() {
	instanceCmd.Flags().BoolVarP(&forceFlag, "force", "f", false, "probe even when the record is fresh")
	RootCmd.AddCommand(instanceCmd)
}
