package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"aptkeeper/internal/shared"
)

// version is set at build time via ldflags.
var version = "dev"

const envPrefix = "APTKEEPER"

type RootConfig struct {
	ConfigFile string
	LogLevel   string
}

func Execute() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", errorMessage(err))
		os.Exit(exitCodeForError(err))
	}
}

func newRootCommand() *cobra.Command {
	cfg := RootConfig{}
	cmd := &cobra.Command{
		Use:           "aptkeeper",
		Short:         "Debian repository mirroring, snapshotting and publishing",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := initConfig(cfg.ConfigFile); err != nil {
				return err
			}
			setupLogging(cmd.ErrOrStderr(), viper.GetString("log_level"), viper.GetString("logFile"))
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})
	cmd.PersistentFlags().StringVar(&cfg.ConfigFile, "config", "", "Config file path")
	cmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("root-dir", "", "Root directory for database, pool and published files")
	cmd.PersistentFlags().StringSlice("architectures", nil, "Architectures to work on (default: all)")
	cmd.PersistentFlags().Bool("dep-follow-suggests", false, "Follow Suggests when resolving dependencies")
	cmd.PersistentFlags().Bool("dep-follow-recommends", false, "Follow Recommends when resolving dependencies")
	cmd.PersistentFlags().Bool("dep-follow-all-variants", false, "Follow every alternative of a dependency")
	cmd.PersistentFlags().Bool("dep-follow-source", false, "Follow source packages of binaries")
	_ = viper.BindPFlag("log_level", cmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("rootDir", cmd.PersistentFlags().Lookup("root-dir"))
	_ = viper.BindPFlag("architectures", cmd.PersistentFlags().Lookup("architectures"))
	_ = viper.BindPFlag("dependencyFollowSuggests", cmd.PersistentFlags().Lookup("dep-follow-suggests"))
	_ = viper.BindPFlag("dependencyFollowRecommends", cmd.PersistentFlags().Lookup("dep-follow-recommends"))
	_ = viper.BindPFlag("dependencyFollowAllVariants", cmd.PersistentFlags().Lookup("dep-follow-all-variants"))
	_ = viper.BindPFlag("dependencyFollowSource", cmd.PersistentFlags().Lookup("dep-follow-source"))

	cmd.AddCommand(newRepoCommand())
	cmd.AddCommand(newMirrorCommand())
	cmd.AddCommand(newSnapshotCommand())
	cmd.AddCommand(newPublishCommand())
	cmd.AddCommand(newPackageCommand())
	cmd.AddCommand(newDBCommand())
	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newAPICommand())
	cmd.AddCommand(newGraphCommand())
	cmd.AddCommand(newConfigCommand())
	cmd.AddCommand(newTaskCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func initConfig(configFile string) error {
	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()
	setConfigDefaults()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("failed to read config file").
				WithCause(err)
		}
		return nil
	}

	viper.SetConfigName("aptkeeper")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.config/aptkeeper")
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("failed to parse config file").
			WithCause(err)
	}
	return nil
}

func setupLogging(out io.Writer, level string, logFile string) {
	var writer io.Writer = zerolog.ConsoleWriter{Out: out}
	if logFile != "" {
		writer = zerolog.MultiLevelWriter(writer, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		})
	}
	log.Logger = log.Output(writer)
	zerolog.DefaultContextLogger = &log.Logger
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// usageError marks err as a command line mistake.
func usageError(err error) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(err.Error()).
		WithCause(err)
}

// usageArgs wraps a positional argument check so its failures exit with
// the usage code.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return usageError(err)
		}
		return nil
	}
}

// exitCodeForError returns 2 for usage errors and 1 for every operational
// failure.
func exitCodeForError(err error) int {
	if errbuilder.CodeOf(err) == errbuilder.CodeInvalidArgument {
		return 2
	}
	if strings.HasPrefix(err.Error(), "unknown command") || strings.HasPrefix(err.Error(), "unknown flag") {
		return 2
	}
	return 1
}

func errorMessage(err error) string {
	return strings.TrimSpace(shared.Message(err))
}
