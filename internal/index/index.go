package index

import (
	"sync"

	"github.com/driftmirror/driftmirror/internal/fsops"
	"github.com/driftmirror/driftmirror/internal/logging"
)

// Index is a map from root-relative path to Entry, plus the absolute root
// path (§3). It always contains the empty-path entry (the root), created at
// construction with kind=DIRECTORY.
//
// §4.1 describes every index operation as taking a re-entrant mutex, since
// update() walks back up to ancestors while the lock is held. Go's
// sync.Mutex isn't reentrant, so rather than hand-roll a recursive lock
// (which mostly exists to paper over code that calls back into itself),
// every recursive helper here is unexported and assumes the lock is already
// held; the small set of exported methods acquire the lock exactly once per
// call (a deliberate Open Question resolution recorded in DESIGN.md). Diff
// releases the lock around each oracle call so that the oracle can call
// exported methods such as Hash; every other operation holds it for its
// whole duration.
type Index struct {
	mu     sync.Mutex
	root   fsops.Root
	logger *logging.Logger

	entries           map[fsops.Relative]*Entry
	rebuildInProgress bool
}

// New creates an Index rooted at root, containing only the root directory
// entry.
func New(root fsops.Root, logger *logging.Logger) *Index {
	idx := &Index{
		root:    root,
		logger:  logger,
		entries: make(map[fsops.Relative]*Entry),
	}
	idx.entries[""] = &Entry{Kind: fsops.KindDirectory}
	return idx
}

// Root returns the index's filesystem root.
func (idx *Index) Root() fsops.Root {
	return idx.root
}

// Update accepts a FileRecord and applies it to the tree (§4.1 update()).
func (idx *Index) Update(record fsops.Record) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.update(record)
}

// update applies record to the tree. The caller must hold idx.mu.
func (idx *Index) update(record fsops.Record) {
	rel := idx.root.Rel(record.Path)
	if rel == "" {
		// The root itself is never mutated by an update.
		return
	}
	parentRel := rel.Dir()

	if record.Kind == fsops.KindGone {
		entry, ok := idx.entries[rel]
		if !ok {
			return
		}

		// Snapshot children before recursing, since the recursive GONE
		// updates below will mutate entry.Children.
		children := make([]fsops.Relative, len(entry.Children))
		copy(children, entry.Children)
		for _, c := range children {
			idx.update(fsops.NewGoneRecord(idx.root.Join(c)))
		}

		delete(idx.entries, rel)
		if parent, ok := idx.entries[parentRel]; ok {
			parent.removeChild(rel)
		}
	} else {
		if parentRel != "" {
			if _, ok := idx.entries[parentRel]; !ok {
				// Parent not indexed: drop the update (protects against
				// races where a scan event outraces the creation of its
				// parent directory's entry).
				return
			}
		}

		entry, exists := idx.entries[rel]
		if !exists {
			entry = &Entry{}
			idx.entries[rel] = entry
			if parent, ok := idx.entries[parentRel]; ok {
				parent.insertChild(rel)
			}
		}
		entry.Kind = record.Kind
		entry.Mode = record.Mode
		entry.Version = record.Version
		entry.Target = record.Target
	}

	if !idx.rebuildInProgress {
		idx.rehashAncestors(rel)
	}
}

// rehashAncestors recomputes rel's own hash (if it still exists) and then
// every ancestor up to the root, deepest first, per the path-parents
// enumeration contract (GLOSSARY).
func (idx *Index) rehashAncestors(rel fsops.Relative) {
	for _, p := range fsops.Parents(rel) {
		idx.recomputeHash(p)
	}
	idx.recomputeHash("")
}

func (idx *Index) recomputeHash(rel fsops.Relative) {
	entry, ok := idx.entries[rel]
	if !ok {
		return
	}
	entry.Hash = idx.computeHash(rel, entry)
}

// computeHash folds the node's path, version, and each child's (key, hash)
// pair into a single 64-bit fingerprint, per §4.1's hash definition.
func (idx *Index) computeHash(rel fsops.Relative, entry *Entry) uint64 {
	seed := uint64(0)
	seed = foldBytes(seed, []byte(rel))
	seed = foldU64(seed, entry.Version)
	for _, c := range entry.Children {
		seed = foldBytes(seed, []byte(c))
		if child, ok := idx.entries[c]; ok {
			seed = foldU64(seed, child.Hash)
		}
	}
	return seed
}

// Rebuild sets rebuildInProgress, invokes f (during which many Update calls
// are expected), then performs a single post-order traversal that
// recomputes every node's hash, and clears the flag (§4.1 rebuild()). This
// amortizes N individual ancestor walks into one pass for bulk loads.
func (idx *Index) Rebuild(f func()) {
	idx.mu.Lock()
	idx.rebuildInProgress = true
	idx.mu.Unlock()

	f()

	idx.mu.Lock()
	idx.recomputeSubtree("")
	idx.rebuildInProgress = false
	idx.mu.Unlock()
}

func (idx *Index) recomputeSubtree(rel fsops.Relative) {
	entry, ok := idx.entries[rel]
	if !ok {
		return
	}
	for _, c := range entry.Children {
		idx.recomputeSubtree(c)
	}
	entry.Hash = idx.computeHash(rel, entry)
}

// Hash returns the current rolled hash for path. An unindexed path returns
// 0.
func (idx *Index) Hash(path fsops.Relative) uint64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	entry, ok := idx.entries[path]
	if !ok {
		return 0
	}
	return entry.Hash
}

// Size returns the number of indexed entries.
func (idx *Index) Size() uint64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return uint64(len(idx.entries))
}

// Children returns a copy of path's child set, or nil if path isn't
// indexed.
func (idx *Index) Children(path fsops.Relative) []fsops.Relative {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	entry, ok := idx.entries[path]
	if !ok {
		return nil
	}
	result := make([]fsops.Relative, len(entry.Children))
	copy(result, entry.Children)
	return result
}

// Lookup returns a copy of the entry at path and whether it exists.
func (idx *Index) Lookup(path fsops.Relative) (Entry, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	entry, ok := idx.entries[path]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// SetEpoch tags path's entry with e, if indexed.
func (idx *Index) SetEpoch(path fsops.Relative, e uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if entry, ok := idx.entries[path]; ok {
		entry.Epoch = e
	}
}

// SetExpectedHash records the hash the peer asserted for path, if indexed.
func (idx *Index) SetExpectedHash(path fsops.Relative, h uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if entry, ok := idx.entries[path]; ok {
		entry.ExpectedHash = h
	}
}

// Oracle answers a round of DIFF_REQ queries: given a set of candidate
// paths, it returns the subset whose local and remote hashes differ (§4.4).
type Oracle func(paths []fsops.Relative) ([]fsops.Relative, error)

// Diff is the level-by-level diff driver (§4.1 diff()). Every mismatched
// path is emitted, the root included. Diff holds idx's mutex while it reads
// entries and calls emit, and releases it for each oracle call, so the
// oracle may call exported methods such as Hash (the mutex is not
// reentrant). An Update may therefore land between two levels; a mismatched
// path that is no longer indexed by then is skipped.
func (idx *Index) Diff(oracle Oracle, emit func(path fsops.Relative, entry Entry)) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	frontier := []fsops.Relative{""}
	for len(frontier) > 0 {
		idx.mu.Unlock()
		mismatched, err := oracle(frontier)
		idx.mu.Lock()
		if err != nil {
			return err
		}

		var next []fsops.Relative
		for _, p := range mismatched {
			entry, ok := idx.entries[p]
			if !ok {
				continue
			}
			emit(p, *entry)
			next = append(next, entry.Children...)
		}
		frontier = next
	}
	return nil
}

// Commit is the traversal that returns the paths of nodes not visited in
// epoch e (§4.1 commit()), pruning matched subtrees. The result is in
// root-ward-first order, so the caller can delete the shallowest first.
func (idx *Index) Commit(epoch uint64) []fsops.Relative {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var missing []fsops.Relative
	idx.commitWalk("", epoch, &missing)
	return missing
}

func (idx *Index) commitWalk(rel fsops.Relative, epoch uint64, missing *[]fsops.Relative) {
	entry, ok := idx.entries[rel]
	if !ok {
		return
	}

	if entry.Epoch == epoch && entry.ExpectedHash == entry.Hash {
		return
	}
	if entry.Epoch != epoch {
		*missing = append(*missing, rel)
		return
	}

	for _, c := range entry.Children {
		idx.commitWalk(c, epoch, missing)
	}
}
