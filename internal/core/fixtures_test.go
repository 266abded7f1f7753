package core

import (
	"crypto/sha256"
	"encoding/hex"

	"aptkeeper/internal/types"
)

// binaryPkg builds a binary package whose file checksum is derived from
// its identity, so distinct packages never share content.
func binaryPkg(name string, version string, arch string, depends ...string) types.Package {
	filename := name + "_" + version + "_" + arch + ".deb"
	sum := sha256.Sum256([]byte(filename))
	digest := hex.EncodeToString(sum[:])
	pkg := types.Package{
		Name:         name,
		Version:      version,
		Architecture: arch,
		Depends:      depends,
		Files: []types.PackageFile{{
			Filename:  filename,
			Checksums: types.Checksums{Size: 100, MD5: digest[:32], SHA1: digest[:40], SHA256: digest},
		}},
		Stanza: types.Stanza{
			{Name: "Package", Value: name},
			{Name: "Version", Value: version},
			{Name: "Architecture", Value: arch},
		},
	}
	return pkg
}

func sourcePkg(name string, version string) types.Package {
	pkg := binaryPkg(name, version, types.ArchitectureSource)
	pkg.IsSource = true
	pkg.Files[0].Filename = name + "_" + version + ".dsc"
	return pkg
}

func keysOf(pkgs []types.Package) []string {
	out := make([]string, 0, len(pkgs))
	for _, pkg := range pkgs {
		out = append(out, pkg.String())
	}
	return out
}
