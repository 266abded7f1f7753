package app

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"aptkeeper/internal/types"
)

// Graph renders mirrors, repos, snapshots and publications with their
// lineage as a Graphviz DOT document. layout "vertical" stacks the graph
// top to bottom, anything else left to right.
func (s *Service) Graph(ctx context.Context, layout string) (string, error) {
	var b strings.Builder
	b.WriteString("digraph aptkeeper {\n")
	if layout == "vertical" {
		b.WriteString("  rankdir=TB;\n")
	} else {
		b.WriteString("  rankdir=LR;\n")
	}
	b.WriteString("  node [shape=record, fontname=\"Helvetica\", fontsize=10];\n")

	mirrors, err := s.ListMirrors(ctx)
	if err != nil {
		return "", err
	}
	for _, mirror := range mirrors {
		refs, err := s.loadRefList(ctx, mirror.UUID)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "  %s [style=filled, fillcolor=\"darkgoldenrod1\", label=\"{Mirror %s|url: %s|dist: %s|comp: %s|arch: %s|pkgs: %d}\"];\n",
			nodeID(mirror.UUID), dotEscape(mirror.Name), dotEscape(mirror.ArchiveRoot), dotEscape(mirror.Distribution),
			dotEscape(strings.Join(mirror.Components, ", ")), dotEscape(strings.Join(mirror.Architectures, ", ")), refs.Len())
	}

	repos, err := s.ListRepos(ctx)
	if err != nil {
		return "", err
	}
	for _, repo := range repos {
		refs, err := s.loadRefList(ctx, repo.UUID)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "  %s [style=filled, fillcolor=\"mediumseagreen\", label=\"{Repo %s|comment: %s|pkgs: %d}\"];\n",
			nodeID(repo.UUID), dotEscape(repo.Name), dotEscape(repo.Comment), refs.Len())
	}

	snapshots, err := s.ListSnapshots(ctx, SortByName)
	if err != nil {
		return "", err
	}
	for _, snapshot := range snapshots {
		refs, err := s.loadRefList(ctx, snapshot.UUID)
		if err != nil {
			return "", err
		}
		description := snapshot.Description
		if len(description) > 60 {
			description = description[:57] + "..."
		}
		fmt.Fprintf(&b, "  %s [style=filled, fillcolor=\"cadetblue1\", label=\"{Snapshot %s|%s|pkgs: %d}\"];\n",
			nodeID(snapshot.UUID), dotEscape(snapshot.Name), dotEscape(description), refs.Len())
		if snapshot.SourceKind == types.SnapshotSourceEmpty {
			continue
		}
		for _, id := range snapshot.SourceIDs {
			fmt.Fprintf(&b, "  %s -> %s;\n", nodeID(id), nodeID(snapshot.UUID))
		}
	}

	publications, err := s.ListPublished(ctx)
	if err != nil {
		return "", err
	}
	for _, publication := range publications {
		target := PublishTarget{Storage: publication.Storage, Prefix: publication.Prefix, Distribution: publication.Distribution}
		fmt.Fprintf(&b, "  %s [style=filled, fillcolor=\"firebrick1\", label=\"{Published %s|comp: %s|arch: %s}\"];\n",
			nodeID(publication.UUID), dotEscape(target.String()), dotEscape(strings.Join(publication.Components(), " ")),
			dotEscape(strings.Join(publication.Architectures, ", ")))
		ids := make([]string, 0, len(publication.Sources))
		for _, id := range publication.Sources {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(&b, "  %s -> %s;\n", nodeID(id), nodeID(publication.UUID))
		}
	}
	b.WriteString("}\n")
	return b.String(), nil
}

func nodeID(uuid string) string {
	return "\"" + uuid + "\""
}

var dotReplacer = strings.NewReplacer(`\`, `\\`, `"`, `\"`, `{`, `\{`, `}`, `\}`, `|`, `\|`, `<`, `\<`, `>`, `\>`)

func dotEscape(value string) string {
	return dotReplacer.Replace(value)
}
