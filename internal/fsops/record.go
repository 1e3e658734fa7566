package fsops

import (
	"github.com/cespare/xxhash/v2"
)

// Kind enumerates the possible kinds of a filesystem entry (§3).
type Kind uint8

const (
	// KindFile is a regular file.
	KindFile Kind = iota
	// KindDirectory is a directory.
	KindDirectory
	// KindSymlink is a symbolic link.
	KindSymlink
	// KindGone indicates the entry no longer exists.
	KindGone
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	case KindGone:
		return "gone"
	default:
		return "unknown"
	}
}

// Record is a value produced by a scan or a single-entry probe (§3's
// FileRecord). Its invariants are enforced by the constructors below rather
// than left to callers: NewFileRecord/NewDirectoryRecord/NewSymlinkRecord/
// NewGoneRecord are the only supported ways to build one.
type Record struct {
	Kind    Kind
	Mode    Mode
	Version uint64
	Path    Absolute
	Target  string
}

// HashVersion computes the xxHash-64 digest used as a file's or symlink's
// version (§3): for files it is the hash of the contents, for symlinks the
// hash of the target string.
func HashVersion(content []byte) uint64 {
	return xxhash.Sum64(content)
}

// NewFileRecord builds a Record for a regular file. version must be the
// xxHash-64 of the file's contents (see HashVersion).
func NewFileRecord(path Absolute, mode Mode, version uint64) Record {
	return Record{Kind: KindFile, Mode: mode, Version: version, Path: path}
}

// NewDirectoryRecord builds a Record for a directory. Directories always
// carry version 0 (§3 invariant: kind=DIRECTORY => version=0).
func NewDirectoryRecord(path Absolute, mode Mode) Record {
	return Record{Kind: KindDirectory, Mode: mode, Version: 0, Path: path}
}

// NewSymlinkRecord builds a Record for a symbolic link. version must be the
// xxHash-64 of target (see HashVersion); target must be non-empty per the
// §3 invariant kind=SYMLINK => target non-empty.
func NewSymlinkRecord(path Absolute, mode Mode, target string, version uint64) Record {
	if target == "" {
		panic("fsops: symlink record with empty target")
	}
	return Record{Kind: KindSymlink, Mode: mode, Version: version, Path: path, Target: target}
}

// NewGoneRecord builds a Record indicating that path no longer exists (§3
// invariant: kind=GONE => version=0, target empty).
func NewGoneRecord(path Absolute) Record {
	return Record{Kind: KindGone, Path: path}
}
