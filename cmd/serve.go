package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/deemkeen/fedmerge/web"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, logger, err := openService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		logger.Info("configuration", "host", svc.Config().Conf.Host, "port", svc.Config().Conf.HttpPort,
			"database", svc.Config().Conf.Database, "redis", svc.Config().Conf.RedisUrl != "")
		return web.Router(ctx, svc, logger)
	},
}

func init() {
	RootCmd.AddCommand(serveCmd)
}
