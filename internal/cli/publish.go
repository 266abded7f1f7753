package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"aptkeeper/internal/app"
	"aptkeeper/internal/types"
)

func newPublishCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish repositories and snapshots as APT trees",
	}
	cmd.AddCommand(newPublishSourceKindCommand("repo", types.PublishSourceLocal))
	cmd.AddCommand(newPublishSourceKindCommand("snapshot", types.PublishSourceSnapshot))
	cmd.AddCommand(newPublishUpdateCommand())
	cmd.AddCommand(newPublishSwitchCommand())
	cmd.AddCommand(newPublishSourcesCommand())
	cmd.AddCommand(newPublishDropCommand())
	cmd.AddCommand(newPublishListCommand())
	cmd.AddCommand(newPublishShowCommand())
	return cmd
}

// splitPrefix separates "[<storage>:]<prefix>", where storage itself
// contains a colon such as "s3:bucket".
func splitPrefix(value string) (string, string) {
	if idx := strings.LastIndex(value, ":"); idx >= 0 {
		return value[:idx], value[idx+1:]
	}
	return "", value
}

func targetFromArgs(distribution string, rest []string) app.PublishTarget {
	target := app.PublishTarget{Distribution: distribution}
	if len(rest) > 0 {
		target.Storage, target.Prefix = splitPrefix(rest[0])
	}
	return target
}

type signingFlags struct {
	skip          bool
	gpgKey        string
	keyring       string
	secretKeyring string
	passphrase    string
}

func (f *signingFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.skip, "skip-signing", false, "Do not sign Release files")
	cmd.Flags().StringVar(&f.gpgKey, "gpg-key", "", "Key id to sign with")
	cmd.Flags().StringVar(&f.keyring, "keyring", "", "Public keyring")
	cmd.Flags().StringVar(&f.secretKeyring, "secret-keyring", "", "Secret keyring")
	cmd.Flags().StringVar(&f.passphrase, "passphrase", "", "Passphrase of the signing key")
}

func (f *signingFlags) changed(cmd *cobra.Command) bool {
	for _, name := range []string{"skip-signing", "gpg-key", "keyring", "secret-keyring", "passphrase"} {
		if flagChanged(cmd, name) {
			return true
		}
	}
	return false
}

func (f *signingFlags) options(cmd *cobra.Command) types.SigningOptions {
	return types.SigningOptions{
		Skip:          resolveBool(cmd, f.skip, "gpgDisableSign", "skip-signing"),
		GpgKey:        resolveString(cmd, f.gpgKey, "gpgKey", "gpg-key"),
		Keyring:       resolveString(cmd, f.keyring, "gpgKeyring", "keyring"),
		SecretKeyring: resolveString(cmd, f.secretKeyring, "gpgSecretKeyring", "secret-keyring"),
		Passphrase:    resolveString(cmd, f.passphrase, "gpgPassphrase", "passphrase"),
	}
}

func (f *signingFlags) override(cmd *cobra.Command) *types.SigningOptions {
	if !f.changed(cmd) {
		return nil
	}
	options := f.options(cmd)
	return &options
}

func newPublishSourceKindCommand(verb string, kind types.PublishSourceKind) *cobra.Command {
	req := app.PublishRequest{SourceKind: kind}
	signing := &signingFlags{}
	cmd := &cobra.Command{
		Use:   verb + " <name>... [[<endpoint>:]<prefix>]",
		Short: fmt.Sprintf("Publish %ss", verb),
		Long:  "Publish one source per component. With several components pass --component once per source, in the same order.",
		Args: usageArgs(func(cmd *cobra.Command, args []string) error {
			sources := max(1, len(req.Components))
			if len(args) != sources && len(args) != sources+1 {
				return fmt.Errorf("expected %d sources and an optional prefix, got %d arguments", sources, len(args))
			}
			return nil
		}),
		RunE: func(cmd *cobra.Command, args []string) error {
			sources := max(1, len(req.Components))
			req.Sources = args[:sources]
			req.Prefix = "."
			if len(args) > sources {
				req.Storage, req.Prefix = splitPrefix(args[sources])
			}
			req.Architectures = architectures(cmd)
			req.Signing = signing.options(cmd)
			req.SkipContents = resolveBool(cmd, req.SkipContents, "skipContentsPublishing", "skip-contents")
			req.SkipBz2 = resolveBool(cmd, req.SkipBz2, "skipBz2Publishing", "skip-bz2")
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				published, err := svc.Publish(ctx, req)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s %s has been successfully published.\n", verbTitle(verb), strings.Join(req.Sources, ", "))
				fmt.Fprintf(out, "Distribution %s, components %s, architectures %s.\n",
					published.Distribution, strings.Join(published.Components(), ", "), strings.Join(published.Architectures, ", "))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.Distribution, "distribution", "", "Distribution name, guessed from the source when empty")
	cmd.Flags().StringSliceVar(&req.Components, "component", nil, "Component names, one per source")
	cmd.Flags().StringVar(&req.Origin, "origin", "", "Origin field of Release")
	cmd.Flags().StringVar(&req.Label, "label", "", "Label field of Release")
	cmd.Flags().StringVar(&req.Suite, "suite", "", "Suite field of Release")
	cmd.Flags().StringVar(&req.Codename, "codename", "", "Codename field of Release")
	cmd.Flags().StringVar(&req.NotAutomatic, "notautomatic", "", "NotAutomatic field of Release")
	cmd.Flags().StringVar(&req.ButAutomaticUpgrades, "butautomaticupgrades", "", "ButAutomaticUpgrades field of Release")
	cmd.Flags().BoolVar(&req.AcquireByHash, "acquire-by-hash", false, "Provide by-hash index files")
	cmd.Flags().BoolVar(&req.SkipContents, "skip-contents", false, "Do not generate Contents indexes")
	cmd.Flags().BoolVar(&req.SkipBz2, "skip-bz2", false, "Do not generate bzip2 indexes")
	cmd.Flags().BoolVar(&req.ForceOverwrite, "force-overwrite", false, "Overwrite files in the pool with different content")
	signing.register(cmd)
	return cmd
}

func newPublishUpdateCommand() *cobra.Command {
	req := app.PublishUpdateRequest{}
	signing := &signingFlags{}
	var skipContents, skipBz2, acquireByHash bool
	cmd := &cobra.Command{
		Use:   "update <distribution> [[<endpoint>:]<prefix>]",
		Short: "Rewrite a publication from the current content of its sources",
		Args:  usageArgs(cobra.RangeArgs(1, 2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.PublishTarget = targetFromArgs(args[0], args[1:])
			if flagChanged(cmd, "skip-contents") {
				req.SkipContents = &skipContents
			}
			if flagChanged(cmd, "skip-bz2") {
				req.SkipBz2 = &skipBz2
			}
			if flagChanged(cmd, "acquire-by-hash") {
				req.AcquireByHash = &acquireByHash
			}
			req.Signing = signing.override(cmd)
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				if _, err := svc.UpdatePublished(ctx, req); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Publish for %s has been successfully updated.\n", req.PublishTarget.String())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&req.ForceOverwrite, "force-overwrite", false, "Overwrite files in the pool with different content")
	cmd.Flags().BoolVar(&req.SkipCleanup, "skip-cleanup", false, "Keep pool files no longer referenced")
	cmd.Flags().BoolVar(&skipContents, "skip-contents", false, "Do not generate Contents indexes")
	cmd.Flags().BoolVar(&skipBz2, "skip-bz2", false, "Do not generate bzip2 indexes")
	cmd.Flags().BoolVar(&acquireByHash, "acquire-by-hash", false, "Provide by-hash index files")
	signing.register(cmd)
	return cmd
}

func newPublishSwitchCommand() *cobra.Command {
	req := app.PublishSwitchRequest{}
	signing := &signingFlags{}
	cmd := &cobra.Command{
		Use:   "switch <distribution> [[<endpoint>:]<prefix>] <new-snapshot>...",
		Short: "Point components of a snapshot publication at other snapshots",
		Args: usageArgs(func(cmd *cobra.Command, args []string) error {
			snapshots := max(1, len(req.Components))
			if len(args) != snapshots+1 && len(args) != snapshots+2 {
				return fmt.Errorf("expected a distribution, an optional prefix and %d snapshots", snapshots)
			}
			return nil
		}),
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshots := max(1, len(req.Components))
			req.Snapshots = args[len(args)-snapshots:]
			req.PublishTarget = targetFromArgs(args[0], args[1:len(args)-snapshots])
			req.Signing = signing.override(cmd)
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				if _, err := svc.SwitchPublished(ctx, req); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Publish for %s has been successfully switched to new snapshot.\n", req.PublishTarget.String())
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&req.Components, "component", nil, "Components to switch, one per snapshot")
	cmd.Flags().BoolVar(&req.ForceOverwrite, "force-overwrite", false, "Overwrite files in the pool with different content")
	cmd.Flags().BoolVar(&req.SkipCleanup, "skip-cleanup", false, "Keep pool files no longer referenced")
	signing.register(cmd)
	return cmd
}

func newPublishDropCommand() *cobra.Command {
	req := app.PublishDropRequest{}
	cmd := &cobra.Command{
		Use:   "drop <distribution> [[<endpoint>:]<prefix>]",
		Short: "Remove a publication",
		Args:  usageArgs(cobra.RangeArgs(1, 2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.PublishTarget = targetFromArgs(args[0], args[1:])
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				if err := svc.DropPublished(ctx, req); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Published repository has been removed successfully.\n")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&req.SkipCleanup, "skip-cleanup", false, "Keep pool files no longer referenced")
	cmd.Flags().BoolVar(&req.Force, "force-drop", false, "Remove the record even if files cannot be removed")
	return cmd
}

func newPublishListCommand() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List publications",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				repos, err := svc.ListPublished(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if raw {
					for _, repo := range repos {
						fmt.Fprintf(out, "%s %s\n", displayPrefix(repo), repo.Distribution)
					}
					return nil
				}
				if len(repos) == 0 {
					fmt.Fprintln(out, "No snapshots/local repos have been published.")
					return nil
				}
				fmt.Fprintln(out, "Published repositories:")
				for _, repo := range repos {
					details, err := svc.ShowPublished(ctx, app.PublishTarget{Storage: repo.Storage, Prefix: repo.Prefix, Distribution: repo.Distribution})
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "  * %s/%s [%s] publishes %s\n", displayPrefix(repo), repo.Distribution,
						strings.Join(repo.Architectures, ", "), describeSources(details.Sources))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Print prefix and distribution only")
	return cmd
}

func newPublishShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <distribution> [[<endpoint>:]<prefix>]",
		Short: "Show publication details",
		Args:  usageArgs(cobra.RangeArgs(1, 2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := targetFromArgs(args[0], args[1:])
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				details, err := svc.ShowPublished(ctx, target)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				repo := details.Repo
				fmt.Fprintf(out, "Prefix: %s\n", displayPrefix(repo))
				fmt.Fprintf(out, "Distribution: %s\n", repo.Distribution)
				fmt.Fprintf(out, "Architectures: %s\n", strings.Join(repo.Architectures, " "))
				fmt.Fprintln(out, "Sources:")
				for _, component := range sortedKeys(details.Sources) {
					fmt.Fprintf(out, "  %s: %s [%s]\n", component, details.Sources[component], repo.SourceKind)
				}
				if details.Pending != nil {
					fmt.Fprintln(out, "Pending sources:")
					for _, component := range sortedKeys(details.Pending) {
						fmt.Fprintf(out, "  %s: %s\n", component, details.Pending[component])
					}
				}
				return nil
			})
		},
	}
}

func newPublishSourcesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "source",
		Short: "Stage source changes of a publication, applied by publish update",
	}
	cmd.AddCommand(newPublishSourceEditCommand("add", "Add sources to a publication",
		func(ctx context.Context, svc *app.Service, req app.PublishSourceRequest) error {
			_, err := svc.AddPublishedSource(ctx, req)
			return err
		}))
	cmd.AddCommand(newPublishSourceEditCommand("update", "Change the source of a component",
		func(ctx context.Context, svc *app.Service, req app.PublishSourceRequest) error {
			_, err := svc.UpdatePublishedSource(ctx, req)
			return err
		}))
	cmd.AddCommand(newPublishSourceRemoveCommand())
	cmd.AddCommand(newPublishSourceListCommand())
	cmd.AddCommand(newPublishSourceDropCommand())
	return cmd
}

func publishPrefixFlag(cmd *cobra.Command, prefix *string) {
	cmd.Flags().StringVar(prefix, "prefix", ".", "Publishing prefix as [<endpoint>:]<prefix>")
}

func newPublishSourceEditCommand(verb string, short string, apply func(context.Context, *app.Service, app.PublishSourceRequest) error) *cobra.Command {
	var prefix string
	var components []string
	cmd := &cobra.Command{
		Use:   verb + " <distribution> <source>...",
		Short: short,
		Args:  usageArgs(cobra.MinimumNArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			sources := args[1:]
			if len(components) > 0 && len(components) != len(sources) {
				return usageError(fmt.Errorf("mismatch in number of components (%d) and sources (%d)", len(components), len(sources)))
			}
			target := targetFromArgs(args[0], []string{prefix})
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				for i, source := range sources {
					req := app.PublishSourceRequest{PublishTarget: target, Source: source}
					if len(components) > 0 {
						req.Component = components[i]
					}
					if err := apply(ctx, svc, req); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "You can run 'aptkeeper publish update %s %s' to update the content of the published repository.\n", args[0], prefix)
				return nil
			})
		},
	}
	publishPrefixFlag(cmd, &prefix)
	cmd.Flags().StringSliceVar(&components, "component", nil, "Components, one per source")
	return cmd
}

func newPublishSourceRemoveCommand() *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "remove <distribution> <component>...",
		Short: "Remove components from a publication",
		Args:  usageArgs(cobra.MinimumNArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := targetFromArgs(args[0], []string{prefix})
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				for _, component := range args[1:] {
					if _, err := svc.RemovePublishedSource(ctx, app.PublishSourceRequest{PublishTarget: target, Component: component}); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "You can run 'aptkeeper publish update %s %s' to update the content of the published repository.\n", args[0], prefix)
				return nil
			})
		},
	}
	publishPrefixFlag(cmd, &prefix)
	return cmd
}

func newPublishSourceListCommand() *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "list <distribution>",
		Short: "List staged sources of a publication",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := targetFromArgs(args[0], []string{prefix})
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				sources, err := svc.ListPublishedSources(ctx, target)
				if err != nil {
					return err
				}
				for _, component := range sortedKeys(sources) {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", component, sources[component])
				}
				return nil
			})
		},
	}
	publishPrefixFlag(cmd, &prefix)
	return cmd
}

func newPublishSourceDropCommand() *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "drop <distribution>",
		Short: "Discard staged source changes",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := targetFromArgs(args[0], []string{prefix})
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				if err := svc.DropPublishedSources(ctx, target); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Source changes have been removed successfully.\n")
				return nil
			})
		},
	}
	publishPrefixFlag(cmd, &prefix)
	return cmd
}

func displayPrefix(repo types.PublishedRepo) string {
	prefix := repo.Prefix
	if prefix == "" {
		prefix = "."
	}
	if repo.Storage != "" {
		return repo.Storage + ":" + prefix
	}
	return prefix
}

func describeSources(sources map[string]string) string {
	parts := make([]string, 0, len(sources))
	for _, component := range sortedKeys(sources) {
		parts = append(parts, fmt.Sprintf("{%s: [%s]}", component, sources[component]))
	}
	return strings.Join(parts, ", ")
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
