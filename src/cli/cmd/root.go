package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/damoti/shipmaster/src/build"
	"github.com/damoti/shipmaster/src/config"
	"github.com/damoti/shipmaster/src/logging"
)

var (
	workspace    string
	settingsFile string
	cfg          *config.Config
	logger       *log.Logger
)

var rootCmd = &cobra.Command{
	Use:   "shipmaster",
	Short: "Layered container image builder",
	Long: `shipmaster builds, tests and deploys the images described in .shipmaster.yaml.

Images are built stage by stage from shell scripts run inside containers,
tested inside a docker compose project and deployed as compose services.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadSettings(workspace, settingsFile); err != nil {
			return err
		}
		var err error
		logger, err = logging.New(logging.Config{
			Level:  settings.GetString("log.level"),
			Format: logging.Format(settings.GetString("log.format")),
		})
		if err != nil {
			return err
		}
		if f := settings.ConfigFileUsed(); f != "" {
			logger.Debug("using settings", "file", f)
		}

		// Skip config loading for commands that don't need it.
		if cmd.Name() == "version" {
			return nil
		}
		cfg, err = config.Load(workspace)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&workspace, "workspace", "C", ".", "project directory holding "+config.DefaultFile)
	flags.StringVar(&settingsFile, "settings", "", "settings file (default: settings.yaml in the workspace or $XDG_CONFIG_HOME/shipmaster)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text, json, logfmt (default: text on a terminal, logfmt otherwise)")
	bindFlag("log.level", flags.Lookup("log-level"))
	bindFlag("log.format", flags.Lookup("log-format"))
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}

// ExitCode maps an error to the process exit status: 2 for invalid
// configuration, 3 for failed builds, test runs or deployments and 1
// otherwise.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, config.ErrInvalid), errors.Is(err, config.ErrNotFound):
		return 2
	case errors.Is(err, build.ErrBuildFailed), errors.Is(err, build.ErrTestFailed), errors.Is(err, build.ErrDeployFailed):
		return 3
	}
	return 1
}
