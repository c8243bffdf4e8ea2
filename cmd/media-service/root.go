package main

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/book-expert/logger"
	"github.com/book-expert/media-service/internal/config"
	"github.com/spf13/cobra"
)

const (
	bootstrapLogFileName = "media-service-bootstrap.log"
	serviceLogFileName   = "media-service.log"
	sweepLogFileName     = "media-service-sweep.log"
)

// commandContext loads the configuration once for whichever subcommand runs.
type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newRootCommand() *cobra.Command {
	var configFlag string

	ctx := &commandContext{configFlag: &configFlag}

	rootCmd := &cobra.Command{
		Use:           "media-service",
		Short:         "Transcribe, synthesize, and transcode media over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "",
		"Configuration file path (defaults to the project.toml discovered by the configurator)")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newSweepCommand(ctx))

	return rootCmd
}

// ensureConfig loads an explicit --config file, or falls back to the
// configurator's discovery with a bootstrap logger in the system temp dir.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		path := strings.TrimSpace(*c.configFlag)
		if path != "" {
			c.config, c.configErr = config.LoadFile(path)

			return
		}

		bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFileName)
		if err != nil {
			c.configErr = err

			return
		}

		defer closeLogger(bootstrapLog)

		bootstrapLog.Info("Bootstrap logger created.")

		c.config, c.configErr = config.Load(bootstrapLog)
		if c.configErr != nil {
			bootstrapLog.Error("Failed to load configuration: %v", c.configErr)

			return
		}

		bootstrapLog.Info("Configuration loaded successfully.")
	})

	return c.config, c.configErr
}

func setupLogger(dir, fileName string) (*logger.Logger, error) {
	log, err := logger.New(dir, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger in %s: %w", dir, err)
	}

	return log, nil
}

func closeLogger(log *logger.Logger) {
	closeErr := log.Close()
	if closeErr != nil {
		fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
	}
}
