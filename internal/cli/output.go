package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"text/template"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"aptkeeper/internal/app"
	"aptkeeper/internal/types"
)

func printPackages(w io.Writer, pkgs []types.Package) {
	lines := make([]string, 0, len(pkgs))
	for _, pkg := range pkgs {
		lines = append(lines, pkg.String())
	}
	sort.Strings(lines)
	printLines(w, lines)
}

func printChange(w io.Writer, result app.ChangeResult, dryRun bool) {
	verb := ""
	if dryRun {
		verb = "would be "
	}
	for _, pkg := range result.Added {
		fmt.Fprintf(w, "%s %sadded\n", pkg.String(), verb)
	}
	for _, pkg := range result.Removed {
		fmt.Fprintf(w, "%s %sremoved\n", pkg.String(), verb)
	}
}

func printAddResult(w io.Writer, result app.AddResult) {
	for _, key := range result.Added {
		fmt.Fprintf(w, "Added: %s\n", key)
	}
	for _, key := range result.Removed {
		fmt.Fprintf(w, "Removed: %s\n", key)
	}
	for _, warning := range result.Warnings {
		fmt.Fprintf(w, "Warning: %s\n", warning)
	}
	for _, file := range result.Failed {
		fmt.Fprintf(w, "Failed: %s\n", file)
	}
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// notFoundError is returned by searches without results so scripts can
// test the exit code.
func notFoundError(msg string) error {
	return errbuilder.New().WithCode(errbuilder.CodeNotFound).WithMsg(msg)
}

// printFormatted renders every package through a text/template.
func printFormatted(w io.Writer, format string, pkgs []types.Package) error {
	tmpl, err := template.New("format").Parse(format)
	if err != nil {
		return usageError(err)
	}
	for _, pkg := range pkgs {
		if err := tmpl.Execute(w, pkg); err != nil {
			return err
		}
		fmt.Fprintln(w)
	}
	return nil
}

// newSearchCommand builds "<kind> search <name> [query]".
func newSearchCommand(kind app.SourceKind) *cobra.Command {
	var withDeps bool
	var format string
	cmd := &cobra.Command{
		Use:   "search <name> [query]",
		Short: fmt.Sprintf("Search packages in a %s", kind),
		Args:  usageArgs(cobra.RangeArgs(1, 2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			var queries []string
			if len(args) == 2 {
				queries = []string{args[1]}
			}
			return withService(cmd, func(ctx context.Context, svc *app.Service) error {
				pkgs, err := svc.SearchPackages(ctx, app.SearchRequest{
					Kind:          kind,
					Name:          args[0],
					Queries:       queries,
					WithDeps:      withDeps,
					Architectures: architectures(cmd),
				})
				if err != nil {
					return err
				}
				if len(pkgs) == 0 {
					return notFoundError("no results")
				}
				if format == "" {
					printPackages(cmd.OutOrStdout(), pkgs)
					return nil
				}
				return printFormatted(cmd.OutOrStdout(), format, pkgs)
			})
		},
	}
	cmd.Flags().BoolVar(&withDeps, "with-deps", false, "Include dependencies of matching packages")
	cmd.Flags().StringVar(&format, "format", "", "Go template applied to every package, e.g. {{.Name}}")
	return cmd
}

func sizeOf(files []types.PackageFile) string {
	var total int64
	for _, file := range files {
		total += file.Checksums.Size
	}
	return humanize.Bytes(uint64(total))
}

func joinOrNone(values []string) string {
	if len(values) == 0 {
		return "none"
	}
	return strings.Join(values, ", ")
}
