package cmd

import (
	"github.com/spf13/cobra"

	"github.com/damoti/shipmaster/src/plugin"
)

var buildCmd = &cobra.Command{
	Use:   "build [image...]",
	Short: "Build images",
	Long: `Build images stage by stage. Without arguments every image is built.

Each image's build commands run in a container created from its base
image; on success the container is committed as <project>/<image>:b<build>.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runModes("build", args, plugin.Build)
	},
}

var testCmd = &cobra.Command{
	Use:   "test [image...]",
	Short: "Run image tests in a compose project",
	Long: `Run each image's run commands as the "test" service of a throwaway
docker compose project. The image must already be built for this build number.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runModes("test", args, plugin.Run)
	},
}

var deployCmd = &cobra.Command{
	Use:   "deploy [image...]",
	Short: "Deploy images as compose services",
	Long: `Tag each image as its compose service image, replace the running
containers and watch the new ones start. Prepare commands run first, in a
one-off container, and abort the deploy when they fail.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runModes("deploy", args, plugin.Start)
	},
}

var allModes []string

var runCmd = &cobra.Command{
	Use:   "run [image...]",
	Short: "Build, test and deploy images",
	RunE: func(cmd *cobra.Command, args []string) error {
		modes, err := parseModes(allModes)
		if err != nil {
			return err
		}
		return runModes("run", args, modes...)
	},
}

func parseModes(names []string) ([]plugin.Mode, error) {
	modes := make([]plugin.Mode, 0, len(names))
	for _, n := range names {
		m, err := plugin.ParseMode(n)
		if err != nil {
			return nil, err
		}
		modes = append(modes, m)
	}
	return modes, nil
}

func init() {
	for _, c := range []*cobra.Command{buildCmd, testCmd, deployCmd, runCmd} {
		addBuildFlags(c)
		rootCmd.AddCommand(c)
	}
	runCmd.Flags().StringSliceVar(&allModes, "modes", []string{"build", "run", "start"}, "modes to run, in order")
}
