package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"aptkeeper/internal/app"
)

func newRepoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Manage local package repositories",
	}
	cmd.AddCommand(newRepoCreateCommand())
	cmd.AddCommand(newRepoAddCommand())
	cmd.AddCommand(newRepoIncludeCommand())
	cmd.AddCommand(newRepoImportCommand())
	cmd.AddCommand(newRepoCopyCommand("copy", false))
	cmd.AddCommand(newRepoCopyCommand("move", true))
	cmd.AddCommand(newRepoRemoveCommand())
	cmd.AddCommand(newRepoEditCommand())
	cmd.AddCommand(newRepoListCommand())
	cmd.AddCommand(newSearchCommand(app.SourceRepo))
	cmd.AddCommand(newRepoShowCommand())
	cmd.AddCommand(newRepoDropCommand())
	cmd.AddCommand(newRepoRenameCommand())
	return cmd
}

func newRepoCreateCommand() *cobra.Command {
	req := app.RepoCreateRequest{}
	cmd := &cobra.Command{
		Use:   "create <name> [from snapshot <snapshot>]",
		Short: "Create a local repository",
		Args: usageArgs(func(cmd *cobra.Command, args []string) error {
			switch {
			case len(args) == 1:
				return nil
			case len(args) == 4 && args[1] == "from" && args[2] == "snapshot":
				return nil
			default:
				return fmt.Errorf("usage: %s", cmd.UseLine())
			}
		}),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Name = args[0]
			if len(args) == 4 {
				req.FromSnapshot = args[3]
			}
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				repo, err := svc.CreateRepo(ctx, req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Local repo [%s] successfully added.\n", repo.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.Comment, "comment", "", "Any text describing the repository")
	cmd.Flags().StringVar(&req.DefaultDistribution, "distribution", "", "Default distribution when publishing")
	cmd.Flags().StringVar(&req.DefaultComponent, "component", "main", "Default component when publishing")
	cmd.Flags().StringVar(&req.UploadersFile, "uploaders-file", "", "Uploaders policy file for repo include")
	return cmd
}

func newRepoAddCommand() *cobra.Command {
	req := app.RepoAddRequest{}
	cmd := &cobra.Command{
		Use:   "add <name> <file|directory>...",
		Short: "Add package files to a local repository",
		Args:  usageArgs(cobra.MinimumNArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Name = args[0]
			req.Paths = args[1:]
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				result, err := svc.AddPackages(ctx, req)
				if err != nil {
					return err
				}
				printAddResult(cmd.OutOrStdout(), result)
				if len(result.Failed) > 0 {
					return fmt.Errorf("some files failed to be added")
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&req.RemoveFiles, "remove-files", false, "Remove files that have been imported successfully")
	cmd.Flags().BoolVar(&req.ForceReplace, "force-replace", false, "Replace packages with the same name, version and architecture")
	return cmd
}

func newRepoIncludeCommand() *cobra.Command {
	req := app.IncludeRequest{}
	cmd := &cobra.Command{
		Use:   "include <file.changes|directory>...",
		Short: "Add packages listed in .changes files to local repositories",
		Args:  usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Paths = args
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				result, err := svc.IncludeChanges(ctx, req)
				if err != nil {
					return err
				}
				printAddResult(cmd.OutOrStdout(), result.AddResult)
				if len(result.Failed) > 0 {
					return fmt.Errorf("some files failed to be included")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.RepoTemplate, "repo", "{{.Distribution}}", "Template for the target repository name")
	cmd.Flags().StringVar(&req.UploadersFile, "uploaders-file", "", "Uploaders policy overriding the repository one")
	cmd.Flags().StringSliceVar(&req.Keyrings, "keyring", nil, "Keyrings to verify .changes signatures with")
	cmd.Flags().BoolVar(&req.IgnoreSignatures, "ignore-signatures", false, "Skip signature verification")
	cmd.Flags().BoolVar(&req.AcceptUnsigned, "accept-unsigned", false, "Accept unsigned .changes files")
	cmd.Flags().BoolVar(&req.IgnoreChecksums, "ignore-checksums", false, "Skip checksum verification of listed files")
	cmd.Flags().BoolVar(&req.NoRemoveFiles, "no-remove-files", false, "Keep files that have been imported successfully")
	cmd.Flags().BoolVar(&req.ForceReplace, "force-replace", false, "Replace packages with the same name, version and architecture")
	return cmd
}

func newRepoImportCommand() *cobra.Command {
	req := app.RepoImportRequest{}
	cmd := &cobra.Command{
		Use:   "import <mirror> <repo> <query>...",
		Short: "Import packages from a mirror into a local repository",
		Args:  usageArgs(cobra.MinimumNArgs(3)),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Mirror, req.Repo, req.Queries = args[0], args[1], args[2:]
			req.Architectures = architectures(cmd)
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				result, err := svc.ImportFromMirror(ctx, req)
				if err != nil {
					return err
				}
				printChange(cmd.OutOrStdout(), result, req.DryRun)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&req.WithDeps, "with-deps", false, "Follow dependencies when importing")
	cmd.Flags().BoolVar(&req.DryRun, "dry-run", false, "Show what would be imported without importing")
	return cmd
}

func newRepoCopyCommand(verb string, move bool) *cobra.Command {
	req := app.RepoCopyRequest{Move: move}
	cmd := &cobra.Command{
		Use:   verb + " <source> <destination> <query>...",
		Short: fmt.Sprintf("%s packages between local repositories", verbTitle(verb)),
		Args:  usageArgs(cobra.MinimumNArgs(3)),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Source, req.Dest, req.Queries = args[0], args[1], args[2:]
			req.Architectures = architectures(cmd)
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				result, err := svc.CopyPackages(ctx, req)
				if err != nil {
					return err
				}
				printChange(cmd.OutOrStdout(), result, req.DryRun)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&req.WithDeps, "with-deps", false, "Follow dependencies when copying")
	cmd.Flags().BoolVar(&req.DryRun, "dry-run", false, "Show what would be done without changing anything")
	return cmd
}

func verbTitle(verb string) string {
	if verb == "" {
		return verb
	}
	return strings.ToUpper(verb[:1]) + verb[1:]
}

func newRepoRemoveCommand() *cobra.Command {
	req := app.RepoRemoveRequest{}
	cmd := &cobra.Command{
		Use:   "remove <name> <query>...",
		Short: "Remove packages matching queries from a local repository",
		Args:  usageArgs(cobra.MinimumNArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Name, req.Queries = args[0], args[1:]
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				result, err := svc.RemovePackages(ctx, req)
				if err != nil {
					return err
				}
				printChange(cmd.OutOrStdout(), result, req.DryRun)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&req.DryRun, "dry-run", false, "Show what would be removed without removing")
	return cmd
}

func newRepoEditCommand() *cobra.Command {
	var comment, distribution, component, uploaders string
	var clearUploaders bool
	cmd := &cobra.Command{
		Use:   "edit <name>",
		Short: "Edit local repository settings",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := app.RepoEditRequest{Name: args[0], ClearUploaders: clearUploaders}
			if flagChanged(cmd, "comment") {
				req.Comment = &comment
			}
			if flagChanged(cmd, "distribution") {
				req.DefaultDistribution = &distribution
			}
			if flagChanged(cmd, "component") {
				req.DefaultComponent = &component
			}
			if flagChanged(cmd, "uploaders-file") {
				req.UploadersFile = &uploaders
			}
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				repo, err := svc.EditRepo(ctx, req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Local repo [%s] successfully updated.\n", repo.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "Any text describing the repository")
	cmd.Flags().StringVar(&distribution, "distribution", "", "Default distribution when publishing")
	cmd.Flags().StringVar(&component, "component", "", "Default component when publishing")
	cmd.Flags().StringVar(&uploaders, "uploaders-file", "", "Uploaders policy file for repo include")
	cmd.Flags().BoolVar(&clearUploaders, "clear-uploaders", false, "Remove the uploaders policy")
	return cmd
}

func newRepoListCommand() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List local repositories",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				repos, err := svc.ListRepos(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if raw {
					for _, repo := range repos {
						fmt.Fprintln(out, repo.Name)
					}
					return nil
				}
				if len(repos) == 0 {
					fmt.Fprintln(out, "No local repositories found, create one with `aptkeeper repo create ...`.")
					return nil
				}
				fmt.Fprintln(out, "List of local repos:")
				for _, repo := range repos {
					details, err := svc.ShowRepo(ctx, repo.Name, false)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, " * [%s]: %s (packages: %d)\n", repo.Name, repo.Comment, details.PackageCount)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Print names only")
	return cmd
}

func newRepoShowCommand() *cobra.Command {
	var withPackages bool
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show local repository details",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				details, err := svc.ShowRepo(ctx, args[0], withPackages)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				repo := details.Repo
				fmt.Fprintf(out, "Name: %s\n", repo.Name)
				fmt.Fprintf(out, "Comment: %s\n", repo.Comment)
				fmt.Fprintf(out, "Default Distribution: %s\n", repo.DefaultDistribution)
				fmt.Fprintf(out, "Default Component: %s\n", repo.DefaultComponent)
				if repo.Uploaders != nil {
					fmt.Fprintf(out, "Uploaders: %d rules\n", len(repo.Uploaders.Rules))
				}
				fmt.Fprintf(out, "Number of packages: %d\n", details.PackageCount)
				if withPackages {
					fmt.Fprintln(out, "Packages:")
					printPackages(out, details.Packages)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&withPackages, "with-packages", false, "List packages of the repository")
	return cmd
}

func newRepoDropCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "drop <name>",
		Short: "Delete a local repository",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				if err := svc.DropRepo(ctx, args[0], force); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Local repo [%s] has been removed.\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Drop even if snapshots reference the repository")
	return cmd
}

func newRepoRenameCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <old-name> <new-name>",
		Short: "Rename a local repository",
		Args:  usageArgs(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				if err := svc.RenameRepo(ctx, args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Local repo [%s] -> [%s] has been renamed.\n", args[0], args[1])
				return nil
			})
		},
	}
}
