package core

import (
	"sort"
	"strings"
)

// RefList is a sorted, deduplicated set of package fingerprints. Values
// are never mutated in place; every operation returns a new list.
type RefList struct {
	keys []string
}

// NewRefList builds a canonical reflist from arbitrary keys.
func NewRefList(keys ...string) RefList {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	return RefList{keys: dedupSorted(out)}
}

// refListFromSorted trusts that keys are sorted and unique.
func refListFromSorted(keys []string) RefList {
	return RefList{keys: keys}
}

func dedupSorted(keys []string) []string {
	if len(keys) < 2 {
		return keys
	}
	out := keys[:1]
	for _, key := range keys[1:] {
		if key != out[len(out)-1] {
			out = append(out, key)
		}
	}
	return out
}

// Len returns the number of keys.
func (l RefList) Len() int {
	return len(l.keys)
}

// Keys returns a copy of the sorted keys.
func (l RefList) Keys() []string {
	return append([]string(nil), l.keys...)
}

// Has reports whether key is present.
func (l RefList) Has(key string) bool {
	idx := sort.SearchStrings(l.keys, key)
	return idx < len(l.keys) && l.keys[idx] == key
}

// ForEach calls fn for every key in order and stops at the first error.
func (l RefList) ForEach(fn func(key string) error) error {
	for _, key := range l.keys {
		if err := fn(key); err != nil {
			return err
		}
	}
	return nil
}

// Equal reports whether both lists hold the same keys.
func (l RefList) Equal(other RefList) bool {
	if len(l.keys) != len(other.keys) {
		return false
	}
	for i := range l.keys {
		if l.keys[i] != other.keys[i] {
			return false
		}
	}
	return true
}

// Union returns keys present in either list.
func (l RefList) Union(other RefList) RefList {
	out := make([]string, 0, len(l.keys)+len(other.keys))
	i, j := 0, 0
	for i < len(l.keys) && j < len(other.keys) {
		switch {
		case l.keys[i] < other.keys[j]:
			out = append(out, l.keys[i])
			i++
		case l.keys[i] > other.keys[j]:
			out = append(out, other.keys[j])
			j++
		default:
			out = append(out, l.keys[i])
			i++
			j++
		}
	}
	out = append(out, l.keys[i:]...)
	out = append(out, other.keys[j:]...)
	return refListFromSorted(out)
}

// Intersect returns keys present in both lists.
func (l RefList) Intersect(other RefList) RefList {
	var out []string
	i, j := 0, 0
	for i < len(l.keys) && j < len(other.keys) {
		switch {
		case l.keys[i] < other.keys[j]:
			i++
		case l.keys[i] > other.keys[j]:
			j++
		default:
			out = append(out, l.keys[i])
			i++
			j++
		}
	}
	return refListFromSorted(out)
}

// Subtract returns keys of l that are not in other.
func (l RefList) Subtract(other RefList) RefList {
	var out []string
	i, j := 0, 0
	for i < len(l.keys) {
		if j >= len(other.keys) || l.keys[i] < other.keys[j] {
			out = append(out, l.keys[i])
			i++
			continue
		}
		if l.keys[i] > other.keys[j] {
			j++
			continue
		}
		i++
		j++
	}
	return refListFromSorted(out)
}

// KeyParts is a parsed package fingerprint.
type KeyParts struct {
	Architecture string
	Name         string
	Version      string
	FilesHash    string
}

// ShortKey returns "P<arch> <name> <version>".
func (k KeyParts) ShortKey() string {
	return "P" + k.Architecture + " " + k.Name + " " + k.Version
}

// ParseKey splits "P<arch> <name> <version> <hash>".
func ParseKey(key string) (KeyParts, bool) {
	if !strings.HasPrefix(key, "P") {
		return KeyParts{}, false
	}
	parts := strings.Split(key[1:], " ")
	if len(parts) != 4 {
		return KeyParts{}, false
	}
	return KeyParts{Architecture: parts[0], Name: parts[1], Version: parts[2], FilesHash: parts[3]}, true
}

// nameArch groups keys by package identity without version.
func nameArch(parts KeyParts) string {
	return parts.Name + " " + parts.Architecture
}

// FilterLatest keeps, for every (name, architecture), only the keys with
// the highest Debian version. Ties on version keep the greatest key.
func (l RefList) FilterLatest() RefList {
	cache := newVersionCache()
	best := map[string]string{}
	bestParts := map[string]KeyParts{}
	for _, key := range l.keys {
		parts, ok := ParseKey(key)
		if !ok {
			continue
		}
		id := nameArch(parts)
		current, seen := bestParts[id]
		if !seen {
			best[id] = key
			bestParts[id] = parts
			continue
		}
		cmp := cache.compare(parts.Version, current.Version)
		if cmp > 0 || (cmp == 0 && key > best[id]) {
			best[id] = key
			bestParts[id] = parts
		}
	}
	out := make([]string, 0, len(best))
	for _, key := range best {
		out = append(out, key)
	}
	return NewRefList(out...)
}

// Override merges other into l so that every (name, architecture) present
// in other replaces all versions of it in l.
func (l RefList) Override(other RefList) RefList {
	replaced := map[string]struct{}{}
	for _, key := range other.keys {
		if parts, ok := ParseKey(key); ok {
			replaced[nameArch(parts)] = struct{}{}
		}
	}
	out := make([]string, 0, len(l.keys)+len(other.keys))
	for _, key := range l.keys {
		if parts, ok := ParseKey(key); ok {
			if _, drop := replaced[nameArch(parts)]; drop {
				continue
			}
		}
		out = append(out, key)
	}
	out = append(out, other.keys...)
	return NewRefList(out...)
}

// RefListDiff is one row of a reflist diff. Empty strings mark a side
// where the package is absent.
type RefListDiff struct {
	Left  string
	Right string
}

// Diff compares l (left) with other (right) grouped by name and
// architecture. Rows are emitted for packages present on one side only and
// for packages present on both sides with different keys.
func (l RefList) Diff(other RefList, onlyMatching bool) []RefListDiff {
	left := groupByNameArch(l.keys)
	right := groupByNameArch(other.keys)
	ids := make([]string, 0, len(left)+len(right))
	for id := range left {
		ids = append(ids, id)
	}
	for id := range right {
		if _, ok := left[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var out []RefListDiff
	for _, id := range ids {
		lk := left[id]
		rk := right[id]
		switch {
		case len(lk) == 0:
			if onlyMatching {
				continue
			}
			for _, key := range rk {
				out = append(out, RefListDiff{Right: key})
			}
		case len(rk) == 0:
			if onlyMatching {
				continue
			}
			for _, key := range lk {
				out = append(out, RefListDiff{Left: key})
			}
		default:
			out = append(out, diffGroup(lk, rk, onlyMatching)...)
		}
	}
	return out
}

// diffGroup pairs up differing keys of one (name, arch) present on both
// sides. Identical keys cancel out. With onlyMatching, keys left without a
// partner are dropped.
func diffGroup(left []string, right []string, onlyMatching bool) []RefListDiff {
	common := map[string]struct{}{}
	for _, key := range left {
		for _, other := range right {
			if key == other {
				common[key] = struct{}{}
			}
		}
	}
	var l, r []string
	for _, key := range left {
		if _, ok := common[key]; !ok {
			l = append(l, key)
		}
	}
	for _, key := range right {
		if _, ok := common[key]; !ok {
			r = append(r, key)
		}
	}
	var out []RefListDiff
	for i := 0; i < len(l) || i < len(r); i++ {
		if onlyMatching && (i >= len(l) || i >= len(r)) {
			break
		}
		row := RefListDiff{}
		if i < len(l) {
			row.Left = l[i]
		}
		if i < len(r) {
			row.Right = r[i]
		}
		out = append(out, row)
	}
	return out
}

func groupByNameArch(keys []string) map[string][]string {
	out := map[string][]string{}
	for _, key := range keys {
		parts, ok := ParseKey(key)
		if !ok {
			continue
		}
		id := nameArch(parts)
		out[id] = append(out[id], key)
	}
	return out
}
