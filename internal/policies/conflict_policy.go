package policies

import (
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"aptkeeper/internal/shared"
	"aptkeeper/internal/types"
)

const (
	ActionBlock   = "block"
	ActionReplace = "replace"
	ActionKeep    = "keep"
)

// ResolveConflict decides between a package already in a collection and an
// incoming one with the same name, version and architecture but other
// files. It reports whether the incoming package replaces the existing one.
func ResolveConflict(existing types.Package, incoming types.Package, action string) (bool, error) {
	switch strings.ToLower(action) {
	case ActionBlock, "":
		return false, errbuilder.New().
			WithCode(shared.CodeConflict).
			WithMsg(fmt.Sprintf("conflict in package %s: files differ from the one in the repo", incoming.String()))
	case ActionReplace:
		return true, nil
	case ActionKeep:
		return false, nil
	default:
		return false, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("unknown conflict action: %s", action))
	}
}
