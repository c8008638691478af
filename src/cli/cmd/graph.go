package cmd

import (
	"github.com/spf13/cobra"

	"github.com/damoti/shipmaster/src/output"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Show the stage graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Check(); err != nil {
			return err
		}
		stages := make([]output.GraphStage, 0, len(cfg.Stages))
		for _, name := range cfg.Stages {
			st := output.GraphStage{Name: name}
			for _, img := range cfg.StageImages(name) {
				st.Images = append(st.Images, img.Name)
			}
			stages = append(stages, st)
		}
		output.Graph(cmd.OutOrStdout(), stages)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
}
