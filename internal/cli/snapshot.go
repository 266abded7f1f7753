package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"aptkeeper/internal/app"
)

func newSnapshotCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage immutable snapshots",
	}
	cmd.AddCommand(newSnapshotCreateCommand())
	cmd.AddCommand(newSnapshotMergeCommand())
	cmd.AddCommand(newSnapshotPullCommand())
	cmd.AddCommand(newSnapshotFilterCommand())
	cmd.AddCommand(newSnapshotDiffCommand())
	cmd.AddCommand(newSnapshotVerifyCommand())
	cmd.AddCommand(newSnapshotListCommand())
	cmd.AddCommand(newSearchCommand(app.SourceSnapshot))
	cmd.AddCommand(newSnapshotShowCommand())
	cmd.AddCommand(newSnapshotDropCommand())
	cmd.AddCommand(newSnapshotRenameCommand())
	return cmd
}

func newSnapshotCreateCommand() *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "create <name> (from mirror <mirror> | from repo <repo> | empty)",
		Short: "Create a snapshot of a mirror or local repository",
		Args: usageArgs(func(cmd *cobra.Command, args []string) error {
			switch {
			case len(args) == 2 && args[1] == "empty":
				return nil
			case len(args) == 4 && args[1] == "from" && (args[2] == "mirror" || args[2] == "repo"):
				return nil
			default:
				return fmt.Errorf("usage: %s", cmd.UseLine())
			}
		}),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := app.SnapshotCreateRequest{Name: args[0], Description: description}
			if len(args) == 4 {
				req.FromKind = app.SourceKind(args[2])
				req.FromName = args[3]
			}
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				snapshot, err := svc.CreateSnapshot(ctx, req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Snapshot %s successfully created.\n", snapshot.Name)
				fmt.Fprintf(cmd.OutOrStdout(), "You can run 'aptkeeper publish snapshot %s' to publish snapshot as Debian repository.\n", snapshot.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "Snapshot description, generated when empty")
	return cmd
}

func newSnapshotMergeCommand() *cobra.Command {
	req := app.SnapshotMergeRequest{}
	cmd := &cobra.Command{
		Use:   "merge <destination> <source>...",
		Short: "Merge snapshots into a new snapshot",
		Args:  usageArgs(cobra.MinimumNArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Dest, req.Sources = args[0], args[1:]
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				snapshot, err := svc.MergeSnapshots(ctx, req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Snapshot %s successfully created.\n", snapshot.Name)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&req.Latest, "latest", false, "Keep only the latest version of every package")
	cmd.Flags().BoolVar(&req.NoRemove, "no-remove", false, "Keep every version of every package")
	return cmd
}

func newSnapshotPullCommand() *cobra.Command {
	req := app.SnapshotPullRequest{}
	cmd := &cobra.Command{
		Use:   "pull <target> <source> <destination> <query>...",
		Short: "Pull packages and their dependencies from one snapshot into a copy of another",
		Args:  usageArgs(cobra.MinimumNArgs(4)),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Target, req.Source, req.Dest, req.Queries = args[0], args[1], args[2], args[3:]
			req.Architectures = architectures(cmd)
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				result, err := svc.PullSnapshot(ctx, req)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				printChange(out, app.ChangeResult{Added: result.Added, Removed: result.Removed}, req.DryRun)
				if result.Snapshot != nil {
					fmt.Fprintf(out, "Snapshot %s successfully created.\n", result.Snapshot.Name)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&req.NoDeps, "no-deps", false, "Do not pull dependencies")
	cmd.Flags().BoolVar(&req.NoRemove, "no-remove", false, "Keep older versions of pulled packages")
	cmd.Flags().BoolVar(&req.AllMatches, "all-matches", false, "Pull every match instead of the best one")
	cmd.Flags().BoolVar(&req.DryRun, "dry-run", false, "Show what would be pulled without creating a snapshot")
	return cmd
}

func newSnapshotFilterCommand() *cobra.Command {
	req := app.SnapshotFilterRequest{}
	cmd := &cobra.Command{
		Use:   "filter <source> <destination> <query>...",
		Short: "Create a snapshot of the packages matching queries",
		Args:  usageArgs(cobra.MinimumNArgs(3)),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Source, req.Dest, req.Queries = args[0], args[1], args[2:]
			req.Architectures = architectures(cmd)
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				snapshot, err := svc.FilterSnapshot(ctx, req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Snapshot %s successfully filtered.\n", snapshot.Name)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&req.WithDeps, "with-deps", false, "Include dependencies of matching packages")
	return cmd
}

func newSnapshotDiffCommand() *cobra.Command {
	var onlyMatching bool
	cmd := &cobra.Command{
		Use:   "diff <left> <right>",
		Short: "Show the difference between two snapshots",
		Args:  usageArgs(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				diff, err := svc.DiffSnapshots(ctx, args[0], args[1], onlyMatching)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(diff) == 0 {
					fmt.Fprintln(out, "Snapshots are identical.")
					return nil
				}
				table := newTable(out)
				fmt.Fprintf(table, "  Arch\tPackage\tVersion in A\tVersion in B\n")
				for _, row := range diff {
					mark, pkg := "!", row.Left
					switch {
					case row.Left == nil:
						mark, pkg = "+", row.Right
					case row.Right == nil:
						mark = "-"
					}
					left, right := "-", "-"
					if row.Left != nil {
						left = row.Left.Version
					}
					if row.Right != nil {
						right = row.Right.Version
					}
					fmt.Fprintf(table, "%s %s\t%s\t%s\t%s\n", mark, pkg.Architecture, pkg.Name, left, right)
				}
				return table.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&onlyMatching, "only-matching", false, "Only show packages present in both snapshots")
	return cmd
}

func newSnapshotVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <name> [<source>...]",
		Short: "Check that every dependency of a snapshot is satisfiable",
		Args:  usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := app.SnapshotVerifyRequest{Names: args, Architectures: architectures(cmd)}
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				missing, err := svc.VerifySnapshots(ctx, req)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(missing) == 0 {
					fmt.Fprintln(out, "All dependencies are satisfied.")
					return nil
				}
				fmt.Fprintf(out, "Missing dependencies (%d):\n", len(missing))
				for _, dep := range missing {
					fmt.Fprintf(out, "  %s\n", dep.String())
				}
				return nil
			})
		},
	}
}

func newSnapshotListCommand() *cobra.Command {
	var raw bool
	var sortBy string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List snapshots",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if sortBy != app.SortByName && sortBy != app.SortByTime {
				return usageError(fmt.Errorf("invalid --sort %q, expected name or time", sortBy))
			}
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				snapshots, err := svc.ListSnapshots(ctx, sortBy)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if raw {
					for _, snapshot := range snapshots {
						fmt.Fprintln(out, snapshot.Name)
					}
					return nil
				}
				if len(snapshots) == 0 {
					fmt.Fprintln(out, "No snapshots found, create one with `aptkeeper snapshot create...`.")
					return nil
				}
				fmt.Fprintln(out, "List of snapshots:")
				for _, snapshot := range snapshots {
					fmt.Fprintf(out, " * [%s]: %s\n", snapshot.Name, snapshot.Description)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Print names only")
	cmd.Flags().StringVar(&sortBy, "sort", app.SortByName, "Sort by name or time")
	return cmd
}

func newSnapshotShowCommand() *cobra.Command {
	var withPackages bool
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show snapshot details",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				details, err := svc.ShowSnapshot(ctx, args[0], withPackages)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				snapshot := details.Snapshot
				fmt.Fprintf(out, "Name: %s\n", snapshot.Name)
				fmt.Fprintf(out, "Created At: %s\n", snapshot.CreatedAt.Format("2006-01-02 15:04:05 MST"))
				fmt.Fprintf(out, "Description: %s\n", snapshot.Description)
				fmt.Fprintf(out, "Number of packages: %d\n", details.PackageCount)
				if len(details.Sources) > 0 {
					fmt.Fprintln(out, "Sources:")
					printLines(out, details.Sources)
				}
				if withPackages {
					fmt.Fprintln(out, "Packages:")
					printPackages(out, details.Packages)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&withPackages, "with-packages", false, "List packages of the snapshot")
	return cmd
}

func newSnapshotDropCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "drop <name>",
		Short: "Delete a snapshot",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				if err := svc.DropSnapshot(ctx, args[0], force); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Snapshot `%s` has been dropped.\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Drop even if other snapshots were created from it")
	return cmd
}

func newSnapshotRenameCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <old-name> <new-name>",
		Short: "Rename a snapshot",
		Args:  usageArgs(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				if err := svc.RenameSnapshot(ctx, args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Snapshot %s -> %s has been successfully renamed.\n", args[0], args[1])
				return nil
			})
		},
	}
}
