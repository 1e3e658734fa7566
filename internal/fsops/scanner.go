package fsops

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"

	"github.com/pkg/errors"

	"github.com/driftmirror/driftmirror/internal/xerrors"
)

// Filter decides whether a root-relative path should be included in a scan
// or watch. It's the caller-supplied path filter named in the scanner
// contract (§6).
type Filter interface {
	Allow(rel Relative) bool
}

// ExcludeFilter rejects any path matching one of a set of regular
// expressions, implementing the primary/replica --exclude flag (§6).
type ExcludeFilter struct {
	patterns []*regexp.Regexp
}

// NewExcludeFilter compiles a set of exclusion patterns. A malformed pattern
// is a usage error (§6: non-zero exit on usage error).
func NewExcludeFilter(patterns []string) (*ExcludeFilter, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid --exclude pattern %q", p)
		}
		compiled = append(compiled, re)
	}
	return &ExcludeFilter{patterns: compiled}, nil
}

// Allow implements Filter.Allow.
func (f *ExcludeFilter) Allow(rel Relative) bool {
	if f == nil {
		return true
	}
	s := rel.String()
	for _, re := range f.patterns {
		if re.MatchString(s) {
			return false
		}
	}
	return true
}

// Scanner walks a root directory and delivers FileRecords for every entry
// that passes a filter, per the scanner contract in §6: it recurses into
// directories; "." and ".." and non-regular/non-directory/non-symlink
// entries are skipped; a path that disappears mid-scan yields a GONE record
// instead of aborting the walk.
type Scanner struct {
	root   Root
	filter Filter
}

// NewScanner creates a Scanner rooted at root, applying filter (which may be
// nil to allow everything).
func NewScanner(root Root, filter Filter) *Scanner {
	return &Scanner{root: root, filter: filter}
}

// Scan walks the entire tree under the root, invoking emit for every record
// encountered (in an unspecified but deterministic-per-run order). It
// always emits a DIRECTORY record for the root itself first.
func (s *Scanner) Scan(emit func(Record)) error {
	emit(NewDirectoryRecord(s.root.Absolute, ModePermissionsMask&0755))
	return s.walk("", emit)
}

func (s *Scanner) walk(rel Relative, emit func(Record)) error {
	abs := s.root.Join(rel)
	entries, err := ioutil.ReadDir(string(abs))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return xerrors.Wrap(xerrors.KindIO, err, "unable to read directory")
	}

	for _, entry := range entries {
		name := entry.Name()
		if name == "." || name == ".." {
			continue
		}

		childRel := rel.Join(name)
		if s.filter != nil && !s.filter.Allow(childRel) {
			continue
		}

		record, ok, err := s.ScanSingle(childRel)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		emit(record)

		if record.Kind == KindDirectory {
			if err := s.walk(childRel, emit); err != nil {
				return err
			}
		}
	}

	return nil
}

// ScanSingle probes a single root-relative path, returning its Record. The
// second return value is false if the entry is neither a regular file, a
// directory, nor a symbolic link (in which case it's skipped per the
// scanner contract). If the entry has disappeared, a GONE record is
// returned with ok=true, per "when a path disappears mid-scan, the scanner
// emits a GONE record for it".
func (s *Scanner) ScanSingle(rel Relative) (Record, bool, error) {
	abs := s.root.Join(rel)
	info, err := os.Lstat(string(abs))
	if err != nil {
		if os.IsNotExist(err) {
			return NewGoneRecord(abs), true, nil
		}
		return Record{}, false, xerrors.Wrap(xerrors.KindIO, err, "unable to stat path")
	}

	mode := info.Mode()
	switch {
	case mode&os.ModeSymlink != 0:
		target, err := os.Readlink(string(abs))
		if err != nil {
			if os.IsNotExist(err) {
				return NewGoneRecord(abs), true, nil
			}
			return Record{}, false, xerrors.Wrap(xerrors.KindIO, err, "unable to read link")
		}
		return NewSymlinkRecord(abs, permissionsOf(info), target, HashVersion([]byte(target))), true, nil
	case mode.IsDir():
		return NewDirectoryRecord(abs, permissionsOf(info)), true, nil
	case mode.IsRegular():
		content, err := ioutil.ReadFile(string(abs))
		if err != nil {
			if os.IsNotExist(err) {
				return NewGoneRecord(abs), true, nil
			}
			return Record{}, false, xerrors.Wrap(xerrors.KindIO, err, "unable to read file")
		}
		return NewFileRecord(abs, permissionsOf(info), HashVersion(content)), true, nil
	default:
		return Record{}, false, nil
	}
}

func permissionsOf(info os.FileInfo) Mode {
	return Mode(info.Mode().Perm()) & ModePermissionsMask
}

// RelOf is a convenience wrapper around Root.Rel for callers holding only a
// Scanner.
func (s *Scanner) RelOf(abs Absolute) Relative {
	return s.root.Rel(abs)
}

// Root returns the scanner's root.
func (s *Scanner) Root() Root {
	return s.root
}

// AbsJoin joins a relative path back to an absolute path under the
// scanner's root. It's a thin wrapper kept next to Scanner for symmetry with
// filepath.Join-based callers.
func (s *Scanner) AbsJoin(rel Relative) Absolute {
	return Absolute(filepath.Join(string(s.root.Absolute), string(rel)))
}
