package core

import (
	"context"
	"strings"

	assert "github.com/ZanzyTHEbar/assert-lib"
	"github.com/ZanzyTHEbar/errbuilder-go"

	"aptkeeper/internal/types"
)

// ValidateName rejects names that cannot be used as collection names or
// storage path elements.
func ValidateName(kind string, name string) error {
	if strings.TrimSpace(name) == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(kind + " name must not be empty")
	}
	if strings.ContainsAny(name, "/\\\x00") || name == "." || name == ".." {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("invalid " + kind + " name " + name)
	}
	return nil
}

// ValidateDistribution rejects distributions that would escape dists/.
func ValidateDistribution(distribution string) error {
	if distribution == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("unable to guess distribution name, please specify explicitly")
	}
	if strings.Contains(distribution, "..") || strings.HasPrefix(distribution, "/") {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("invalid distribution name " + distribution)
	}
	return nil
}

// NormalizePrefix maps the user prefix to its stored form: "." for the
// root, no leading or trailing slashes otherwise.
func NormalizePrefix(prefix string) (string, error) {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ".", nil
	}
	for _, part := range strings.Split(prefix, "/") {
		if part == ".." || part == "dists" || part == "pool" {
			return "", errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("invalid prefix " + prefix)
		}
	}
	return prefix, nil
}

// ValidatePublication checks a publication record before it is written.
func ValidatePublication(ctx context.Context, repo types.PublishedRepo) error {
	assert.NotEmpty(ctx, repo.UUID, "publication uuid must be set")
	assert.NotEmpty(ctx, repo.Prefix, "publication prefix must be normalized")
	if err := ValidateDistribution(repo.Distribution); err != nil {
		return err
	}
	if len(repo.Sources) == 0 {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("publication must have at least one component")
	}
	if repo.SourceKind != types.PublishSourceLocal && repo.SourceKind != types.PublishSourceSnapshot {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("publication source kind must be local or snapshot")
	}
	for component := range repo.Sources {
		if strings.TrimSpace(component) == "" || strings.Contains(component, "..") {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("invalid component name " + component)
		}
	}
	return nil
}
