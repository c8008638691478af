package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/damoti/shipmaster/src/build"
	"github.com/damoti/shipmaster/src/plugin"
)

var scriptMode string

var scriptCmd = &cobra.Command{
	Use:   "script <image>",
	Short: "Print the script an image mode would run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := plugin.ParseMode(scriptMode)
		if err != nil {
			return err
		}
		b, err := newBuilder(nil)
		if err != nil {
			return err
		}
		defer b.Close()

		ib, ok := b.Lookup(args[0])
		if !ok {
			return fmt.Errorf("%w: %s", build.ErrUnknownImage, args[0])
		}
		src, err := ib.RenderScript(cmd.Context(), m)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), src)
		return nil
	},
}

func init() {
	addBuildFlags(scriptCmd)
	scriptCmd.Flags().StringVar(&scriptMode, "mode", "build", "mode whose script to print: build, run, start")
	rootCmd.AddCommand(scriptCmd)
}
