package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// settings holds runtime settings: flags, SHIPMASTER_* environment
// variables and settings.yaml, in that order of precedence. It is handed
// to plugins as their plugin.Settings.
var settings = viper.New()

func init() {
	settings.SetDefault("engine.binary", "docker")
	settings.SetDefault("compose.file", "docker-compose.yml")
	settings.SetDefault("build.number", "0")
	settings.SetDefault("build.job", "0")
	settings.SetDefault("build.parallel", 1)
	settings.SetDefault("build.policy", "none")
	settings.SetDefault("archive.compression", "none")
	settings.SetDefault("log.level", "info")
}

func bindFlag(key string, f *pflag.Flag) {
	if err := settings.BindPFlag(key, f); err != nil {
		panic(fmt.Sprintf("binding %s: %v", key, err))
	}
}

// loadSettings reads settings.yaml. An explicit file must exist; otherwise
// the workspace and then $XDG_CONFIG_HOME/shipmaster are searched.
func loadSettings(workspace, file string) error {
	settings.SetEnvPrefix("SHIPMASTER")
	settings.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	settings.AutomaticEnv()

	if file != "" {
		settings.SetConfigFile(file)
	} else {
		settings.SetConfigName("settings")
		settings.SetConfigType("yaml")
		settings.AddConfigPath(workspace)
		settings.AddConfigPath(filepath.Join(xdg.ConfigHome, "shipmaster"))
	}

	if err := settings.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("reading settings: %w", err)
	}
	return nil
}
