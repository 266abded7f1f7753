package core

import (
	"path"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

// PoolPath returns the canonical content-addressed location of a file:
// "aa/bb/<sha256[4:32]>_<basename>".
func PoolPath(basename string, sha256 string) (string, error) {
	if len(sha256) < 32 {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("unable to compute pool location for " + basename + ": SHA256 is missing")
	}
	return path.Join(sha256[0:2], sha256[2:4], sha256[4:32]+"_"+basename), nil
}

// LegacyPoolPath returns the md5-addressed location used by older pools:
// "aa/bb/<basename>".
func LegacyPoolPath(basename string, md5 string) (string, error) {
	if len(md5) < 4 {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("unable to compute legacy pool location for " + basename + ": MD5 is missing")
	}
	return path.Join(md5[0:2], md5[2:4], basename), nil
}

// PoolBasename strips the digest prefix of a canonical pool path.
func PoolBasename(poolPath string) string {
	base := path.Base(poolPath)
	if idx := strings.Index(base, "_"); idx == 28 {
		return base[idx+1:]
	}
	return base
}

// PublishedPoolDir returns the directory of a source package inside the
// published tree: "pool/<component>/<prefix>/<source>", where prefix is
// "libX" for lib* packages and the first letter otherwise.
func PublishedPoolDir(component string, source string) string {
	return path.Join("pool", component, sourcePrefix(source), source)
}

func sourcePrefix(source string) string {
	if strings.HasPrefix(source, "lib") && len(source) > 3 {
		return source[:4]
	}
	if source == "" {
		return "_"
	}
	return source[:1]
}
