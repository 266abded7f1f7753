package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"aptkeeper/internal/app"
)

func newMirrorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Manage mirrors of remote repositories",
	}
	cmd.AddCommand(newMirrorCreateCommand())
	cmd.AddCommand(newMirrorUpdateCommand())
	cmd.AddCommand(newMirrorEditCommand())
	cmd.AddCommand(newMirrorListCommand())
	cmd.AddCommand(newSearchCommand(app.SourceMirror))
	cmd.AddCommand(newMirrorShowCommand())
	cmd.AddCommand(newMirrorDropCommand())
	cmd.AddCommand(newMirrorRenameCommand())
	return cmd
}

func newMirrorCreateCommand() *cobra.Command {
	req := app.MirrorCreateRequest{}
	cmd := &cobra.Command{
		Use:   "create <name> <archive url> <distribution> [component...]",
		Short: "Create a mirror of a remote repository",
		Long:  "Create a mirror of a remote repository. A ppa:user/project archive url is expanded using ppaDistributorID and ppaCodename.",
		Args: usageArgs(func(cmd *cobra.Command, args []string) error {
			if len(args) == 2 && strings.HasPrefix(args[1], "ppa:") {
				return nil
			}
			return cobra.MinimumNArgs(3)(cmd, args)
		}),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Name, req.ArchiveURL = args[0], args[1]
			if len(args) > 2 {
				req.Distribution = args[2]
				req.Components = args[3:]
			}
			req.Architectures = architectures(cmd)
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				mirror, err := svc.CreateMirror(ctx, req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Mirror [%s]: %s %s successfully added.\n", mirror.Name, mirror.ArchiveRoot, mirror.Distribution)
				fmt.Fprintf(cmd.OutOrStdout(), "You can run 'aptkeeper mirror update %s' to download repository contents.\n", mirror.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.Filter, "filter", "", "Package query limiting mirrored packages")
	cmd.Flags().BoolVar(&req.FilterWithDeps, "filter-with-deps", false, "Include dependencies of filtered packages")
	cmd.Flags().BoolVar(&req.WithSources, "with-sources", false, "Download source packages as well")
	cmd.Flags().BoolVar(&req.WithUdebs, "with-udebs", false, "Download .udeb packages as well")
	cmd.Flags().BoolVar(&req.WithInstaller, "with-installer", false, "Download installer files as well")
	cmd.Flags().BoolVar(&req.ForceComponents, "force-components", false, "Skip the component check against Release")
	cmd.Flags().BoolVar(&req.SkipComponentCheck, "skip-component-check", false, "Do not fetch Release when creating the mirror")
	cmd.Flags().BoolVar(&req.IgnoreSignatures, "ignore-signatures", false, "Do not verify the Release signature")
	cmd.Flags().StringSliceVar(&req.Keyrings, "keyring", nil, "Keyrings to verify the Release signature with")
	return cmd
}

func newMirrorUpdateCommand() *cobra.Command {
	req := app.MirrorUpdateRequest{}
	cmd := &cobra.Command{
		Use:   "update <name>",
		Short: "Download indexes and packages of a mirror",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Name = args[0]
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				result, err := svc.UpdateMirror(ctx, req)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if req.DryRun {
					fmt.Fprintf(out, "Mirror [%s] would download %d packages (%s).\n", req.Name, result.Downloaded, humanize.Bytes(uint64(result.DownloadedBytes)))
					return nil
				}
				fmt.Fprintf(out, "Mirror [%s] has been updated: %d packages, %d downloaded (%s), %d reused.\n",
					req.Name, result.Packages, result.Downloaded, humanize.Bytes(uint64(result.DownloadedBytes)), result.Reused)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&req.IgnoreChecksums, "ignore-checksums", false, "Accept downloads with mismatching checksums")
	cmd.Flags().BoolVar(&req.IgnoreSignatures, "ignore-signatures", false, "Do not verify the Release signature")
	cmd.Flags().BoolVar(&req.SkipExistingPackages, "skip-existing-packages", false, "Do not re-check packages already in the pool")
	cmd.Flags().BoolVar(&req.DryRun, "dry-run", false, "Compute the download list without downloading")
	cmd.Flags().StringSliceVar(&req.Keyrings, "keyring", nil, "Keyrings to verify the Release signature with")
	return cmd
}

func newMirrorEditCommand() *cobra.Command {
	var archiveURL, filter string
	var filterWithDeps, withSources, withUdebs, withInstaller, ignoreSignatures bool
	var components, keyrings, archs []string
	cmd := &cobra.Command{
		Use:   "edit <name>",
		Short: "Edit mirror settings",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := app.MirrorEditRequest{Name: args[0]}
			if flagChanged(cmd, "archive-url") {
				req.ArchiveURL = &archiveURL
			}
			if flagChanged(cmd, "filter") {
				req.Filter = &filter
			}
			if flagChanged(cmd, "filter-with-deps") {
				req.FilterWithDeps = &filterWithDeps
			}
			if flagChanged(cmd, "with-sources") {
				req.WithSources = &withSources
			}
			if flagChanged(cmd, "with-udebs") {
				req.WithUdebs = &withUdebs
			}
			if flagChanged(cmd, "with-installer") {
				req.WithInstaller = &withInstaller
			}
			if flagChanged(cmd, "ignore-signatures") {
				req.IgnoreSignatures = &ignoreSignatures
			}
			if flagChanged(cmd, "component") {
				req.Components = components
			}
			if flagChanged(cmd, "keyring") {
				req.Keyrings = keyrings
			}
			if flagChanged(cmd, "mirror-architectures") {
				req.Architectures = archs
			}
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				mirror, err := svc.EditMirror(ctx, req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Mirror [%s] successfully updated.\n", mirror.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&archiveURL, "archive-url", "", "New archive url")
	cmd.Flags().StringVar(&filter, "filter", "", "Package query limiting mirrored packages")
	cmd.Flags().BoolVar(&filterWithDeps, "filter-with-deps", false, "Include dependencies of filtered packages")
	cmd.Flags().BoolVar(&withSources, "with-sources", false, "Download source packages as well")
	cmd.Flags().BoolVar(&withUdebs, "with-udebs", false, "Download .udeb packages as well")
	cmd.Flags().BoolVar(&withInstaller, "with-installer", false, "Download installer files as well")
	cmd.Flags().BoolVar(&ignoreSignatures, "ignore-signatures", false, "Do not verify the Release signature")
	cmd.Flags().StringSliceVar(&components, "component", nil, "Components to mirror")
	cmd.Flags().StringSliceVar(&keyrings, "keyring", nil, "Keyrings to verify the Release signature with")
	cmd.Flags().StringSliceVar(&archs, "mirror-architectures", nil, "Architectures to mirror")
	return cmd
}

func newMirrorListCommand() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List mirrors",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				mirrors, err := svc.ListMirrors(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if raw {
					for _, mirror := range mirrors {
						fmt.Fprintln(out, mirror.Name)
					}
					return nil
				}
				if len(mirrors) == 0 {
					fmt.Fprintln(out, "No mirrors found, create one with `aptkeeper mirror create ...`.")
					return nil
				}
				fmt.Fprintln(out, "List of mirrors:")
				for _, mirror := range mirrors {
					fmt.Fprintf(out, " * [%s]: %s %s\n", mirror.Name, mirror.ArchiveRoot, mirror.Distribution)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Print names only")
	return cmd
}

func newMirrorShowCommand() *cobra.Command {
	var withPackages bool
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show mirror details",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				details, err := svc.ShowMirror(ctx, args[0], withPackages)
				if err != nil {
					return err
				}
				out := newTable(cmd.OutOrStdout())
				mirror := details.Mirror
				fmt.Fprintf(out, "Name:\t%s\n", mirror.Name)
				fmt.Fprintf(out, "Archive Root URL:\t%s\n", mirror.ArchiveRoot)
				fmt.Fprintf(out, "Distribution:\t%s\n", mirror.Distribution)
				fmt.Fprintf(out, "Components:\t%s\n", joinOrNone(mirror.Components))
				fmt.Fprintf(out, "Architectures:\t%s\n", joinOrNone(mirror.Architectures))
				fmt.Fprintf(out, "Download Sources:\t%t\n", mirror.DownloadSources)
				fmt.Fprintf(out, "Download .udebs:\t%t\n", mirror.DownloadUdebs)
				if mirror.Filter != "" {
					fmt.Fprintf(out, "Filter:\t%s\n", mirror.Filter)
					fmt.Fprintf(out, "Filter With Deps:\t%t\n", mirror.FilterWithDeps)
				}
				lastUpdate := "never"
				if !mirror.LastDownloadDate.IsZero() {
					lastUpdate = mirror.LastDownloadDate.Format("2006-01-02 15:04:05 MST")
				}
				fmt.Fprintf(out, "Last update:\t%s\n", lastUpdate)
				fmt.Fprintf(out, "Number of packages:\t%d\n", details.PackageCount)
				for _, field := range mirror.Meta {
					fmt.Fprintf(out, "%s:\t%s\n", field.Name, field.Value)
				}
				if err := out.Flush(); err != nil {
					return err
				}
				if withPackages {
					fmt.Fprintln(cmd.OutOrStdout(), "Packages:")
					printPackages(cmd.OutOrStdout(), details.Packages)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&withPackages, "with-packages", false, "List packages of the mirror")
	return cmd
}

func newMirrorDropCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "drop <name>",
		Short: "Delete a mirror",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				if err := svc.DropMirror(ctx, args[0], force); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Mirror `%s` has been removed.\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Drop even if snapshots reference the mirror")
	return cmd
}

func newMirrorRenameCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <old-name> <new-name>",
		Short: "Rename a mirror",
		Args:  usageArgs(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				if err := svc.RenameMirror(ctx, args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Mirror %s -> %s has been successfully renamed.\n", args[0], args[1])
				return nil
			})
		},
	}
}
