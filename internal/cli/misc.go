package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"aptkeeper/internal/api"
	"aptkeeper/internal/app"
	"aptkeeper/internal/types"
)

func newPackageCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "package",
		Short: "Query the package catalog",
	}
	var format string
	search := &cobra.Command{
		Use:   "search [query]",
		Short: "Search every package known to the catalog",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				keys, err := svc.SearchCatalog(ctx, args)
				if err != nil {
					return err
				}
				if len(keys) == 0 {
					return notFoundError("no results")
				}
				if format == "" {
					printLines(cmd.OutOrStdout(), keys)
					return nil
				}
				for _, key := range keys {
					details, err := svc.ShowPackage(ctx, key, false)
					if err != nil {
						return err
					}
					if err := printFormatted(cmd.OutOrStdout(), format, []types.Package{details.Package}); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	search.Flags().StringVar(&format, "format", "", "Go template applied to every package, e.g. {{.Name}}")

	var withReferences bool
	show := &cobra.Command{
		Use:   "show <key>",
		Short: "Show a package record",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				details, err := svc.ShowPackage(ctx, args[0], withReferences)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, field := range details.Package.Stanza {
					fmt.Fprintf(out, "%s: %s\n", field.Name, field.Value)
				}
				fmt.Fprintf(out, "Files size: %s\n", sizeOf(details.Package.Files))
				if withReferences {
					fmt.Fprintln(out)
					fmt.Fprintln(out, "References to package:")
					for _, ref := range details.References {
						fmt.Fprintf(out, "  %s %s\n", ref.Kind, ref.Name)
					}
				}
				return nil
			})
		},
	}
	show.Flags().BoolVar(&withReferences, "with-references", false, "List repos, mirrors and snapshots containing the package")

	cmd.AddCommand(search, show)
	return cmd
}

func newDBCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Maintain the database and package pool",
	}
	req := app.DBCleanupRequest{}
	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove unreferenced packages, files and index data",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				result, err := svc.CleanupDB(ctx, req)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				verb := "Deleted"
				if result.DryRun {
					verb = "Would delete"
				}
				fmt.Fprintf(out, "%s %d unreferenced packages.\n", verb, len(result.Packages))
				fmt.Fprintf(out, "%s %d unreferenced files (%s).\n", verb, len(result.PoolFiles), humanize.Bytes(uint64(result.FreedBytes)))
				fmt.Fprintf(out, "%s %d orphan reflists and %d orphan buckets.\n", verb, len(result.RefLists), result.Buckets)
				if req.Verbose {
					printLines(out, result.Packages)
					printLines(out, result.PoolFiles)
				}
				return nil
			})
		},
	}
	cleanup.Flags().BoolVar(&req.DryRun, "dry-run", false, "Report what would be deleted")
	cleanup.Flags().BoolVar(&req.Verbose, "verbose", false, "List every deleted item")

	recoverDB := &cobra.Command{
		Use:   "recover",
		Short: "Check the database and repair it when corrupted",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				if err := svc.RecoverDB(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Database has been checked.")
				return nil
			})
		},
	}
	cmd.AddCommand(cleanup, recoverDB)
	return cmd
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func newServeCommand() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve published repositories over HTTP",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr := resolveString(cmd, listen, "serveListen", "listen")
			ctx, cancel := signalContext(cmd)
			defer cancel()
			var root string
			err := withService(cmd, func(ctx context.Context, svc *app.Service) error {
				root = filepath.Join(svc.Config.RootDir, "public")
				repos, err := svc.ListPublished(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(repos) == 0 {
					fmt.Fprintln(out, "No published repositories, nothing to serve.")
				}
				for _, repo := range repos {
					if repo.Storage != "" {
						continue
					}
					fmt.Fprintf(out, "deb http://%s/%s %s %s\n", addr, strings.TrimPrefix(repo.Prefix, "."), repo.Distribution, strings.Join(repo.Components(), " "))
				}
				return nil
			})
			if err != nil {
				return err
			}
			return api.ServePublic(ctx, addr, root)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", ":8080", "Host and port to listen on")
	return cmd
}

func newAPICommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "api",
		Short: "HTTP API",
	}
	var listen string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr := resolveString(cmd, listen, "apiListen", "listen")
			ctx, cancel := signalContext(cmd)
			defer cancel()
			cmd.SetContext(ctx)
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				svc.Tasks.Echo = cmd.ErrOrStderr()
				log.Info().Str("version", version).Str("rootDir", svc.Config.RootDir).Msg("starting api")
				return api.NewServer(svc, version).ListenAndServe(ctx, addr)
			})
		},
	}
	serve.Flags().StringVar(&listen, "listen", ":8080", "Host and port to listen on")
	cmd.AddCommand(serve)
	return cmd
}

func newGraphCommand() *cobra.Command {
	var output, layout string
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print a Graphviz graph of mirrors, repos, snapshots and publications",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if layout != "horizontal" && layout != "vertical" {
				return usageError(fmt.Errorf("invalid --layout %q, expected horizontal or vertical", layout))
			}
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				dot, err := svc.Graph(ctx, layout)
				if err != nil {
					return err
				}
				if output == "" {
					_, err = fmt.Fprint(cmd.OutOrStdout(), dot)
					return err
				}
				if err := os.WriteFile(output, []byte(dot), 0o644); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Graph written to %s\n", output)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&output, "output", "", "Write the DOT document to a file instead of stdout")
	cmd.Flags().StringVar(&layout, "layout", "horizontal", "Graph layout: horizontal or vertical")
	return cmd
}

func newTaskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Run several commands in one process",
	}
	var filename string
	run := &cobra.Command{
		Use:   "run [--filename <file>] | <command>, <command>, ...",
		Short: "Run commands one after another, stopping at the first failure",
		RunE: func(cmd *cobra.Command, args []string) error {
			commands, err := taskCommands(filename, args)
			if err != nil {
				return err
			}
			for i, line := range commands {
				fmt.Fprintf(cmd.OutOrStdout(), "%d) [Running]: %s\n", i+1, line)
				child := newRootCommand()
				child.SetOut(cmd.OutOrStdout())
				child.SetErr(cmd.ErrOrStderr())
				child.SetArgs(append(configArgs(cmd), strings.Fields(line)...))
				if err := child.ExecuteContext(cmd.Context()); err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%d) [Failed]: %s\n", i+1, line)
					return err
				}
			}
			return nil
		},
	}
	run.Flags().StringVar(&filename, "filename", "", "File with one command per line")
	cmd.AddCommand(run)
	return cmd
}

// configArgs forwards the global flags given to the parent to child
// commands.
func configArgs(cmd *cobra.Command) []string {
	var args []string
	cmd.Root().PersistentFlags().Visit(func(flag *pflag.Flag) {
		value := flag.Value.String()
		if slice, ok := flag.Value.(pflag.SliceValue); ok {
			value = strings.Join(slice.GetSlice(), ",")
		}
		args = append(args, "--"+flag.Name+"="+value)
	})
	return args
}

func taskCommands(filename string, args []string) ([]string, error) {
	var commands []string
	if filename != "" {
		file, err := os.Open(filename)
		if err != nil {
			return nil, usageError(err)
		}
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			commands = append(commands, line)
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	} else {
		for _, part := range strings.Split(strings.Join(args, " "), ",") {
			if part = strings.TrimSpace(part); part != "" {
				commands = append(commands, part)
			}
		}
	}
	if len(commands) == 0 {
		return nil, usageError(fmt.Errorf("no commands to run"))
	}
	return commands, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "aptkeeper version: %s\n", version)
			return nil
		},
	}
}
