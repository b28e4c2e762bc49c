package main

import (
	"log/slog"

	"github.com/a-essam23/go-relay/pkg/config"
	"github.com/a-essam23/go-relay/pkg/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cli carries the state shared by every subcommand.
type cli struct {
	v          *viper.Viper
	configFile string
	logger     *slog.Logger
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{v: config.New()}

	root := &cobra.Command{
		Use:          "go-relay",
		Short:        "Real-time message relay and presence tracker",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := c.bindFlags(cmd); err != nil {
				return err
			}
			return c.load()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configFile, "config", "c", "config", "config file name or path")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	bindKey(flags, "log-level", "log.level")
	bindKey(flags, "log-format", "log.format")

	root.AddCommand(
		newServeCmd(c),
		newMigrateCmd(c),
		newTokenCmd(c),
		newVersionCmd(),
	)
	return root
}

// load builds the logger and the configuration once flags are parsed.
func (c *cli) load() error {
	level, err := logging.ParseLevel(c.v.GetString("log.level"))
	if err != nil {
		return err
	}
	c.logger = logging.New(level, c.v.GetString("log.format"))
	slog.SetDefault(c.logger)

	cfg, err := config.Load(c.logger, c.v, c.configFile)
	if err != nil {
		c.logger.Error("Failed to load configuration", slog.Any("error", err))
		return err
	}
	c.cfg = cfg
	return nil
}
