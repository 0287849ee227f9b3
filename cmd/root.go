package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/fedmerge/engine"
	"github.com/deemkeen/fedmerge/util"
	"github.com/spf13/cobra"
)

var configPath string

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   util.Name,
	Short: "Cross-instance thread and profile completion for Mastodon-compatible servers",
	Long: `fedmerge resolves statuses and accounts across federated instances and
merges what their origin server knows into what the home instance served.`,
	Version:       util.GetVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		log.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./config.yaml or ~/.config/fedmerge/config.yaml)")
}

func loadConf() (*util.AppConfig, error) {
	if configPath != "" {
		return util.ReadConfFrom(configPath)
	}
	return util.ReadConf()
}

// openService loads the configuration and opens the service it describes
func openService(ctx context.Context) (*engine.Service, *log.Logger, error) {
	conf, err := loadConf()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := util.NewLogger(conf.Conf.LogLevel)
	svc, err := engine.Open(ctx, conf, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open service: %w", err)
	}
	return svc, logger, nil
}
