package types

// Dependency is one alternative of a Depends-style relation, e.g.
// "libc6 (>= 2.31) [amd64]".
type Dependency struct {
	Pkg          string
	Relation     Relation
	Version      string
	Architecture string
}

// String renders the dependency in control file syntax.
func (d Dependency) String() string {
	out := d.Pkg
	if d.Relation != RelationNone {
		out += " (" + string(d.Relation) + " " + d.Version + ")"
	}
	if d.Architecture != "" {
		out += " {" + d.Architecture + "}"
	}
	return out
}
