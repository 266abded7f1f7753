package policies

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"gopkg.in/yaml.v3"

	"aptkeeper/internal/core"
	"aptkeeper/internal/shared"
	"aptkeeper/internal/types"
)

const groupPrefix = "group:"

// LoadUploaders reads an uploaders policy. JSON files parse as YAML.
func LoadUploaders(path string) (*types.Uploaders, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, shared.NotFound("uploaders file", path)
		}
		return nil, shared.Internal("failed to read uploaders file "+path, err)
	}
	var uploaders types.Uploaders
	if err := yaml.Unmarshal(data, &uploaders); err != nil {
		return nil, shared.InvalidArgument("failed to parse uploaders file " + path + ": " + err.Error())
	}
	if err := ValidateUploaders(uploaders); err != nil {
		return nil, err
	}
	return &uploaders, nil
}

// ValidateUploaders checks rule conditions and group references.
func ValidateUploaders(u types.Uploaders) error {
	for i, rule := range u.Rules {
		if strings.TrimSpace(rule.Condition) != "" {
			if _, err := core.ParseQuery(rule.Condition); err != nil {
				return errbuilder.New().
					WithCode(errbuilder.CodeInvalidArgument).
					WithMsg(fmt.Sprintf("uploaders rule %d: invalid condition %q", i, rule.Condition)).
					WithCause(err)
			}
		}
		for _, entry := range append(append([]string(nil), rule.Allow...), rule.Deny...) {
			if group, ok := strings.CutPrefix(entry, groupPrefix); ok {
				if _, found := u.Groups[group]; !found {
					return shared.InvalidArgument(fmt.Sprintf("uploaders rule %d: unknown group %s", i, group))
				}
			}
		}
	}
	return nil
}

// CheckUploaders decides whether a signer may upload pkg. Rules are tried
// in order; the first matching rule that denies or allows one of the
// signer's keys decides. Without a deciding rule the upload is refused.
func CheckUploaders(u *types.Uploaders, signerKeys []string, pkg types.Package) error {
	if u == nil {
		return nil
	}
	for _, rule := range u.Rules {
		matches, err := ruleMatches(rule, pkg)
		if err != nil {
			return err
		}
		if !matches {
			continue
		}
		if anyKeyListed(u, rule.Deny, signerKeys) {
			return forbidden(pkg, signerKeys)
		}
		if anyKeyListed(u, rule.Allow, signerKeys) {
			return nil
		}
	}
	return forbidden(pkg, signerKeys)
}

func ruleMatches(rule types.UploadersRule, pkg types.Package) (bool, error) {
	if strings.TrimSpace(rule.Condition) == "" {
		return true, nil
	}
	q, err := core.ParseQuery(rule.Condition)
	if err != nil {
		return false, err
	}
	return q.Matches(pkg), nil
}

// anyKeyListed expands groups and compares key ids by suffix, so short,
// long and fingerprint forms match each other. "*" matches any signed
// upload.
func anyKeyListed(u *types.Uploaders, entries []string, signerKeys []string) bool {
	for _, entry := range expandGroups(u, entries) {
		ref := normalizeKey(entry)
		if ref == "*" && len(signerKeys) > 0 {
			return true
		}
		for _, key := range signerKeys {
			key = normalizeKey(key)
			if ref == "" || key == "" {
				continue
			}
			if strings.HasSuffix(key, ref) || strings.HasSuffix(ref, key) {
				return true
			}
		}
	}
	return false
}

func expandGroups(u *types.Uploaders, entries []string) []string {
	var out []string
	for _, entry := range entries {
		if group, ok := strings.CutPrefix(entry, groupPrefix); ok {
			out = append(out, u.Groups[group]...)
			continue
		}
		out = append(out, entry)
	}
	return out
}

func normalizeKey(key string) string {
	key = strings.TrimSpace(key)
	key = strings.TrimPrefix(strings.TrimPrefix(key, "0x"), "0X")
	return strings.ToUpper(strings.ReplaceAll(key, " ", ""))
}

func forbidden(pkg types.Package, signerKeys []string) error {
	signer := "unsigned upload"
	if len(signerKeys) > 0 {
		signer = "key " + signerKeys[0]
	}
	return errbuilder.New().
		WithCode(shared.CodeForbidden).
		WithMsg(fmt.Sprintf("%s is not allowed to upload %s", signer, pkg.String()))
}
