// Package index implements the Merkle Index (§4.1): an in-memory,
// hash-summarized, mutable tree of filesystem entries supporting
// incremental updates, bulk rebuilds, subtree hashing, and the streaming
// top-down diff protocol that drives the sync client.
package index

import (
	"sort"

	"github.com/driftmirror/driftmirror/internal/fsops"
)

// Entry is one node of the in-memory Merkle tree (§3's IndexEntry). Child
// sets are kept by key (root-relative path) rather than by pointer, per §9:
// "This sidesteps cyclic references; re-implementations should prefer arena
// + key indirection rather than object graphs."
type Entry struct {
	Kind    fsops.Kind
	Mode    fsops.Mode
	Version uint64
	Target  string

	// Children holds the node's direct children, in ascending
	// fsops.Less order.
	Children []fsops.Relative

	// Hash is the rolled hash of this node's subtree.
	Hash uint64

	// Epoch is the diff-pass tag most recently set by SetEpoch.
	Epoch uint64
	// ExpectedHash is the hash the peer asserted for this path in its most
	// recent DIFF_REQ. Diagnostic only (§3).
	ExpectedHash uint64
}

// insertChild inserts child into the entry's child set, maintaining sorted
// order. It is a no-op if child is already present.
func (e *Entry) insertChild(child fsops.Relative) {
	i := sort.Search(len(e.Children), func(i int) bool {
		return !fsops.Less(e.Children[i], child)
	})
	if i < len(e.Children) && e.Children[i] == child {
		return
	}
	e.Children = append(e.Children, "")
	copy(e.Children[i+1:], e.Children[i:])
	e.Children[i] = child
}

// removeChild removes child from the entry's child set, if present.
func (e *Entry) removeChild(child fsops.Relative) {
	i := sort.Search(len(e.Children), func(i int) bool {
		return !fsops.Less(e.Children[i], child)
	})
	if i < len(e.Children) && e.Children[i] == child {
		e.Children = append(e.Children[:i], e.Children[i+1:]...)
	}
}
