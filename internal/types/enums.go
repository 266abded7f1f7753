package types

// LinkMethod selects how pool files reach a filesystem publish endpoint.
type LinkMethod string

const (
	LinkMethodHardlink LinkMethod = "hardlink"
	LinkMethodCopy     LinkMethod = "copy"
	LinkMethodSymlink  LinkMethod = "symlink"
)

// VerifyMethod selects how an existing published file is compared with
// the pool copy before it is trusted.
type VerifyMethod string

const (
	VerifyMethodMD5  VerifyMethod = "md5"
	VerifyMethodSize VerifyMethod = "size"
	VerifyMethodNone VerifyMethod = "none"
)

// DependencyFlags toggles which relations the dependency solver follows.
type DependencyFlags struct {
	FollowRecommends  bool
	FollowSuggests    bool
	FollowAllVariants bool
	FollowSource      bool
}

// Relation is a version relation of a dependency or query atom.
type Relation string

const (
	RelationNone    Relation = ""
	RelationEq      Relation = "="
	RelationNe      Relation = "!="
	RelationGte     Relation = ">="
	RelationLte     Relation = "<="
	RelationGt      Relation = ">>"
	RelationLt      Relation = "<<"
	RelationPattern Relation = "%"
)
