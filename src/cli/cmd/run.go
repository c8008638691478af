package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/damoti/shipmaster/src/build"
	"github.com/damoti/shipmaster/src/compose"
	"github.com/damoti/shipmaster/src/engine"
	"github.com/damoti/shipmaster/src/gitver"
	"github.com/damoti/shipmaster/src/output"
	"github.com/damoti/shipmaster/src/plugin"
	"github.com/damoti/shipmaster/src/plugins"
	"github.com/damoti/shipmaster/src/script"
)

// addBuildFlags registers the flags shared by the commands that run
// images. They are bound to settings keys when the command runs.
func addBuildFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("build-num", "0", "build number, part of every image tag")
	f.String("job", "0", "job number, part of test project names")
	f.Int("parallel", 1, "images of one stage to run at once")
	f.String("policy", "none", "parent image policy: none, validate, trigger")
	f.Bool("rebuild", false, "with --policy trigger, rebuild parents that already exist")
	f.Bool("trace", false, "trace script commands (set -x)")
	f.String("compression", "none", "archive compression: none, xz")
	f.String("reports-dir", "", "host directory mounted as /app/reports; a JUnit summary is written there")
	f.String("service", "", "compose service to deploy as (default: the image name)")

	cmd.PreRunE = bindBuildFlags
}

// buildFlags maps settings keys to the flags of addBuildFlags.
var buildFlags = map[string]string{
	"build.number":        "build-num",
	"build.job":           "job",
	"build.parallel":      "parallel",
	"build.policy":        "policy",
	"build.rebuild":       "rebuild",
	"build.trace":         "trace",
	"archive.compression": "compression",
	"reports.dir":         "reports-dir",
	"deploy.service":      "service",
}

// bindBuildFlags binds the flags of the command being run. Binding late
// keeps commands that share keys from overwriting each other.
func bindBuildFlags(cmd *cobra.Command, _ []string) error {
	for key, name := range buildFlags {
		bindFlag(key, cmd.Flags().Lookup(name))
	}
	return nil
}

// newBuilder wires the engine, compose and plugins into a Builder for the
// loaded configuration.
func newBuilder(commitInfo map[string]string) (*build.Builder, error) {
	policy, err := build.ParsePolicy(settings.GetString("build.policy"))
	if err != nil {
		return nil, err
	}
	compression, err := script.ParseCompression(settings.GetString("archive.compression"))
	if err != nil {
		return nil, err
	}

	binary := settings.GetString("engine.binary")
	eng := engine.New(binary)
	eng.Logger = logger

	file := settings.GetString("compose.file")
	if !filepath.IsAbs(file) {
		file = filepath.Join(cfg.Workspace, file)
	}
	orch := compose.New(binary, file)
	orch.Logger = logger

	reports := settings.GetString("reports.dir")
	if reports != "" {
		if reports, err = filepath.Abs(reports); err != nil {
			return nil, err
		}
	}

	return build.New(cfg, eng, orch, build.Options{
		BuildNum:      settings.GetString("build.number"),
		JobNum:        settings.GetString("build.job"),
		CommitInfo:    commitInfo,
		Policy:        policy,
		Rebuild:       settings.GetBool("build.rebuild"),
		Parallel:      settings.GetInt("build.parallel"),
		Trace:         settings.GetBool("build.trace"),
		Compression:   compression,
		ReportsDir:    reports,
		DeployService: settings.GetString("deploy.service"),
		Plugins:       plugins.Default(),
		Settings:      settings,
		Logger:        logger,
	})
}

// commitInfo reads git metadata of the workspace. A workspace outside git
// builds without commit labels.
func commitInfo() map[string]string {
	info, err := gitver.CommitInfo(cfg.Workspace)
	switch {
	case errors.Is(err, gitver.ErrNoRepository):
		logger.Debug("workspace is not a git repository; images get no git labels")
	case err != nil:
		logger.Warn("reading commit info", "err", err)
	}
	return info
}

// runModes executes modes for the named images (all images when none are
// named), prints a summary and writes a JUnit report when a reports
// directory is set.
func runModes(title string, names []string, modes ...plugin.Mode) error {
	info := commitInfo()
	if branch := info[gitver.KeyBranch]; branch != "" && !cfg.BranchAllowed(branch) {
		logger.Info("builds are not enabled for this branch", "branch", branch)
		return nil
	}

	b, err := newBuilder(info)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Warn("closing plugins", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	color := output.UseColor()
	output.ContextBlock(os.Stdout, []output.KV{
		{Key: "project", Value: cfg.Name},
		{Key: "build", Value: settings.GetString("build.number")},
		{Key: "commit", Value: info[gitver.KeyShortHash]},
		{Key: "branch", Value: info[gitver.KeyBranch]},
	})

	output.SectionStart(os.Stdout, "shipmaster_"+title, "shipmaster "+title)
	res, runErr := b.Execute(ctx, names, modes...)
	output.SectionEnd(os.Stdout, "shipmaster_"+title)
	if res == nil {
		return runErr
	}

	rows := summaryRows(res)
	output.Summary(os.Stdout, title, rows, res.Duration, color)
	if dir := settings.GetString("reports.dir"); dir != "" {
		if err := output.WriteJUnit(dir, "shipmaster-"+title, rows, res.Duration); err != nil {
			logger.Warn("writing report", "err", err)
		}
	}
	return runErr
}

func summaryRows(res *build.Result) []output.Result {
	rows := make([]output.Result, 0, len(res.Phases))
	for _, p := range res.Phases {
		detail := p.ImageID
		switch {
		case p.Error != nil:
			detail = p.Error.Error()
		case p.ExitCode > 0:
			detail = fmt.Sprintf("exit %d", p.ExitCode)
		}
		rows = append(rows, output.Result{
			Name:    fmt.Sprintf("%s %s", p.Image, p.Mode),
			Status:  p.Status,
			Detail:  detail,
			Elapsed: p.Duration,
		})
	}
	return rows
}
