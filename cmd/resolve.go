package cmd

import (
	"github.com/deemkeen/fedmerge/util"
	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve a status or account id into its full mapping",
}

var resolveStatusCmd = &cobra.Command{
	Use:   "status <host> <id>",
	Short: "Resolve a status id as seen on host",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		host := util.NormalizeHost(args[0])
		res := svc.ResolveStatusID(cmd.Context(), host, args[1])
		if res == nil {
			renderMiss(cmd.OutOrStdout(), "status "+args[1]+" not found via "+host)
			return nil
		}
		render(cmd.OutOrStdout(), "status "+args[1]+" on "+host, res)
		return nil
	},
}

var resolveAccountCmd = &cobra.Command{
	Use:   "account <host> <id>",
	Short: "Resolve an account id as seen on host",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		host := util.NormalizeHost(args[0])
		m := svc.ResolveAccountID(cmd.Context(), host, args[1])
		if m == nil {
			renderMiss(cmd.OutOrStdout(), "account "+args[1]+" not found via "+host)
			return nil
		}
		render(cmd.OutOrStdout(), "account "+args[1]+" on "+host, m)
		return nil
	},
}

func init() {
	resolveCmd.AddCommand(resolveStatusCmd, resolveAccountCmd)
	RootCmd.AddCommand(resolveCmd)
}
