package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"aptkeeper/internal/app"
	"aptkeeper/internal/types"
)

func setConfigDefaults() {
	viper.SetDefault("downloadConcurrency", 4)
	viper.SetDefault("downloadRetries", 3)
	viper.SetDefault("gpgProvider", "internal")
	viper.SetDefault("databaseBackend.type", "leveldb")
	viper.SetDefault("packagePoolStorage.type", "local")
	viper.SetDefault("apiListen", ":8080")
	viper.SetDefault("serveListen", ":8080")
}

// loadConfig decodes the effective viper configuration.
func loadConfig() (types.Config, error) {
	var cfg types.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("invalid configuration").
			WithCause(err)
	}
	if cfg.RootDir == "" {
		return cfg, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("rootDir is not configured (use --root-dir or APTKEEPER_ROOTDIR)")
	}
	return app.WithDefaults(cfg), nil
}

// withService opens the service for one command and closes it afterwards.
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc *app.Service) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	svc, err := app.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()
	return fn(ctx, svc)
}

func resolveString(cmd *cobra.Command, value string, key string, flagName string) string {
	if cmd == nil {
		if value != "" {
			return value
		}
		return viper.GetString(key)
	}
	if flagChanged(cmd, flagName) {
		return value
	}
	return viper.GetString(key)
}

func resolveStrings(cmd *cobra.Command, values []string, key string, flagName string) []string {
	if cmd == nil {
		if len(values) > 0 {
			return values
		}
		return viper.GetStringSlice(key)
	}
	if flagChanged(cmd, flagName) {
		return values
	}
	return viper.GetStringSlice(key)
}

func resolveBool(cmd *cobra.Command, value bool, key string, flagName string) bool {
	if cmd == nil {
		return value
	}
	if flagChanged(cmd, flagName) {
		return value
	}
	return viper.GetBool(key)
}

func resolveInt(cmd *cobra.Command, value int, key string, flagName string) int {
	if cmd == nil {
		return value
	}
	if flagChanged(cmd, flagName) {
		return value
	}
	return viper.GetInt(key)
}

func flagChanged(cmd *cobra.Command, name string) bool {
	if cmd == nil || strings.TrimSpace(name) == "" {
		return false
	}
	if flag := cmd.Flags().Lookup(name); flag != nil {
		return flag.Changed
	}
	if flag := cmd.PersistentFlags().Lookup(name); flag != nil {
		return flag.Changed
	}
	return false
}

// architectures returns the --architectures flag or the configured list.
func architectures(cmd *cobra.Command) []string {
	values, _ := cmd.Flags().GetStringSlice("architectures")
	return resolveStrings(cmd, values, "architectures", "architectures")
}

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cfg types.Config
			if err := viper.Unmarshal(&cfg); err != nil {
				return err
			}
			return writeYAML(cmd.OutOrStdout(), app.WithDefaults(cfg))
		},
	})
	return cmd
}

func writeYAML(w io.Writer, value any) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(value); err != nil {
		return err
	}
	return encoder.Close()
}

func writeJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func printLines(w io.Writer, lines []string) {
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
}
