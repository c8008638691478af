package cmd

import (
	"github.com/spf13/cobra"

	"github.com/damoti/shipmaster/src/config"
)

var configFormat string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate and show the configuration",
	Long: `Validate .shipmaster.yaml and print it with defaults applied.
Warnings are logged; problems make the command fail.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		warnings, err := config.Validate(cfg)
		for _, w := range warnings {
			logger.Warn(w)
		}
		if err != nil {
			return err
		}
		data, err := cfg.Marshal(configFormat)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	configCmd.Flags().StringVar(&configFormat, "format", "yaml", "output format: yaml, toml")
	rootCmd.AddCommand(configCmd)
}
