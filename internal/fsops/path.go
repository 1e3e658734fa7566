// Package fsops holds the data model and external-collaborator interfaces
// for interacting with the local filesystem: the two path types, FileRecord,
// and the scanner/watcher collaborators that the core synchronization
// subsystems treat as out-of-scope (spec.md §1) but still need concrete,
// swappable implementations of in order to run end to end.
package fsops

import "strings"

// Absolute is a path as presented by the OS: it may be used directly with
// package os. It is always rooted.
type Absolute string

// Relative is a root-relative path, used as an index key and transported on
// the wire. The empty Relative denotes the synchronization root itself.
// Relative paths always use "/" as their separator, regardless of the host
// OS, and never begin with one.
type Relative string

// String returns the path's string form, which is also its wire encoding
// (§4.2: "paths serialize as their string form").
func (r Relative) String() string {
	return string(r)
}

// Join is a fast alternative to path.Join specialized for root-relative
// paths: it avoids path.Join's cleaning overhead, which is unnecessary here
// because every component passed through Join is already a clean path
// segment. leaf must be non-empty.
func (r Relative) Join(leaf string) Relative {
	if leaf == "" {
		panic("fsops: empty leaf name")
	}
	if r == "" {
		return Relative(leaf)
	}
	return Relative(string(r) + "/" + leaf)
}

// Dir is a fast alternative to path.Dir specialized for root-relative paths.
// Unlike path.Dir it never leaves a trailing separator. r must be non-empty
// (the root has no parent).
func (r Relative) Dir() Relative {
	if r == "" {
		panic("fsops: root path has no parent")
	}
	path := string(r)
	lastSlash := strings.LastIndexByte(path, '/')
	if lastSlash == -1 {
		return ""
	}
	if lastSlash == 0 {
		panic("fsops: empty parent path")
	}
	return Relative(path[:lastSlash])
}

// Base is a fast alternative to path.Base specialized for root-relative
// paths. The root path's base name is the empty string.
func (r Relative) Base() string {
	path := string(r)
	if path == "" {
		return ""
	}
	lastSlash := strings.LastIndexByte(path, '/')
	if lastSlash == -1 {
		return path
	}
	if lastSlash == len(path)-1 {
		panic("fsops: empty base name")
	}
	return path[lastSlash+1:]
}

// Less performs a DFS-order comparison between two root-relative paths. It
// is the ordering used for the index's child sets (§3: "ordered set of
// root-relative child paths (lexicographic order over the child's path)").
func Less(first, second Relative) bool {
	a, b := string(first), string(second)
	if a == b {
		return false
	} else if a == "" {
		return true
	} else if b == "" {
		return false
	}
	for {
		var aFront, bFront string
		aSlash := strings.IndexByte(a, '/')
		if aSlash == -1 {
			aFront = a
		} else {
			aFront = a[:aSlash]
		}
		bSlash := strings.IndexByte(b, '/')
		if bSlash == -1 {
			bFront = b
		} else {
			bFront = b[:bSlash]
		}

		if aFront < bFront {
			return true
		} else if bFront < aFront {
			return false
		}

		if aSlash == -1 {
			return true
		} else if bSlash == -1 {
			return false
		}
		a = a[aSlash+1:]
		b = b[bSlash+1:]
	}
}

// Parents returns the path-parents enumeration of r (GLOSSARY): for
// "a/b/c", [a/b/c, a/b, a] -- deepest first, ending at (but not including)
// the root. The root path yields an empty slice.
func Parents(r Relative) []Relative {
	if r == "" {
		return nil
	}
	var result []Relative
	current := r
	for current != "" {
		result = append(result, current)
		current = current.Dir()
	}
	return result
}

// Root pairs an absolute filesystem root with conversions to and from
// root-relative paths.
type Root struct {
	// Absolute is the absolute path of the synchronization root.
	Absolute Absolute
}

// NewRoot creates a Root from an absolute path, stripping any trailing
// separator.
func NewRoot(absolute Absolute) Root {
	s := string(absolute)
	for len(s) > 1 && strings.HasSuffix(s, "/") {
		s = s[:len(s)-1]
	}
	return Root{Absolute: Absolute(s)}
}

// Rel strips the root's absolute path from abs, yielding a Relative. If abs
// is not under the root, Rel returns the unmodified input coerced to
// Relative (callers that need strict containment should check with
// strings.HasPrefix themselves; in practice every abs passed through this
// conversion originates from a scan or probe rooted at r.Absolute).
func (r Root) Rel(abs Absolute) Relative {
	base := string(r.Absolute)
	full := string(abs)
	if full == base {
		return ""
	}
	if strings.HasPrefix(full, base+"/") {
		return Relative(full[len(base)+1:])
	}
	return Relative(full)
}

// Join maps a root-relative path back to an absolute path under the root.
func (r Root) Join(rel Relative) Absolute {
	if rel == "" {
		return r.Absolute
	}
	return Absolute(string(r.Absolute) + "/" + string(rel))
}
