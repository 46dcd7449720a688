// Package envindex maintains a bounding-box index over stored geometries
// and raster footprints. It is a pre-filter: queries may return false
// positives but never miss a true intersection.
package envindex

import (
	"sync"
	"sync/atomic"

	"github.com/strata-gis/strata/internal/domain"
)

const (
	maxEntries = 8
	minEntries = maxEntries / 2
)

// Entry associates an owner with its envelope.
type Entry struct {
	OwnerID  string
	Envelope domain.Envelope
}

// node is an immutable R-tree node. Mutations copy the root-to-leaf path
// and share untouched subtrees, so a reader holding a root sees a frozen
// tree.
type node struct {
	leaf     bool
	bounds   domain.Envelope
	entries  []Entry // leaf nodes
	children []*node // internal nodes
}

// Index is an in-memory R-tree with copy-on-write rebalancing. Structural
// mutations are serialized per index; queries run lock-free against the
// root current at call time and never observe a half-rebalanced tree.
type Index struct {
	mu     sync.Mutex
	root   atomic.Pointer[node]
	owners map[string]domain.Envelope // mutation-side bookkeeping, guarded by mu
}

// New creates an empty index.
func New() *Index {
	return &Index{owners: make(map[string]domain.Envelope)}
}

// Len returns the number of indexed owners.
func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.owners)
}

// Insert adds an owner's envelope. Inserting an owner that is already
// present replaces its envelope.
func (ix *Index) Insert(ownerID string, env domain.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	root := ix.root.Load()
	if old, ok := ix.owners[ownerID]; ok {
		root = removeOwner(root, ownerID, old)
	}
	root = insertEntry(root, Entry{OwnerID: ownerID, Envelope: env})
	ix.owners[ownerID] = env
	ix.root.Store(root)
	return nil
}

// Remove deletes an owner's entry. Removing an absent owner is a no-op.
func (ix *Index) Remove(ownerID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	env, ok := ix.owners[ownerID]
	if !ok {
		return
	}
	delete(ix.owners, ownerID)
	ix.root.Store(removeOwner(ix.root.Load(), ownerID, env))
}

// Query returns the owners whose envelope intersects the region. The
// result is a superset pre-filter over envelopes, never over-restrictive:
// false negatives are impossible by construction because every entry is
// bounded by its ancestors' envelopes.
func (ix *Index) Query(region domain.Envelope) []string {
	root := ix.root.Load()
	if root == nil {
		return nil
	}
	var out []string
	collect(root, region, &out)
	return out
}

// Bounds returns the root envelope, which always bounds every entry.
func (ix *Index) Bounds() (domain.Envelope, bool) {
	root := ix.root.Load()
	if root == nil {
		return domain.Envelope{}, false
	}
	return root.bounds, true
}

func collect(n *node, region domain.Envelope, out *[]string) {
	if !n.bounds.Intersects(region) {
		return
	}
	if n.leaf {
		for _, e := range n.entries {
			if e.Envelope.Intersects(region) {
				*out = append(*out, e.OwnerID)
			}
		}
		return
	}
	for _, c := range n.children {
		collect(c, region, out)
	}
}

// insertEntry returns the root of a new tree containing e.
func insertEntry(root *node, e Entry) *node {
	if root == nil {
		return &node{leaf: true, bounds: e.Envelope, entries: []Entry{e}}
	}
	n, split := insert(root, e)
	if split == nil {
		return n
	}
	// Root overflow grows the tree by one level.
	return &node{
		bounds:   n.bounds.Union(split.bounds),
		children: []*node{n, split},
	}
}

// insert copies the descent path, returning the replacement node and, on
// overflow, a split sibling.
func insert(n *node, e Entry) (*node, *node) {
	if n.leaf {
		entries := make([]Entry, len(n.entries), len(n.entries)+1)
		copy(entries, n.entries)
		entries = append(entries, e)
		if len(entries) <= maxEntries {
			return &node{leaf: true, bounds: n.bounds.Union(e.Envelope), entries: entries}, nil
		}
		return splitLeaf(entries)
	}

	best := chooseSubtree(n.children, e.Envelope)
	child, split := insert(n.children[best], e)

	children := make([]*node, len(n.children), len(n.children)+1)
	copy(children, n.children)
	children[best] = child
	if split != nil {
		children = append(children, split)
	}
	if len(children) <= maxEntries {
		return &node{bounds: boundsOf(children), children: children}, nil
	}
	return splitInternal(children)
}

// chooseSubtree picks the child needing the least area enlargement, with
// smaller area breaking ties.
func chooseSubtree(children []*node, env domain.Envelope) int {
	best := 0
	bestEnlarge := enlargement(children[0].bounds, env)
	bestArea := children[0].bounds.Area()
	for i := 1; i < len(children); i++ {
		enl := enlargement(children[i].bounds, env)
		area := children[i].bounds.Area()
		if enl < bestEnlarge || (enl == bestEnlarge && area < bestArea) {
			best, bestEnlarge, bestArea = i, enl, area
		}
	}
	return best
}

func enlargement(bounds, env domain.Envelope) float64 {
	return bounds.Union(env).Area() - bounds.Area()
}

// splitLeaf distributes overflowing entries across two leaves using the
// quadratic seed heuristic.
func splitLeaf(entries []Entry) (*node, *node) {
	si, sj := leafSeeds(entries)
	a := &node{leaf: true, bounds: entries[si].Envelope, entries: []Entry{entries[si]}}
	b := &node{leaf: true, bounds: entries[sj].Envelope, entries: []Entry{entries[sj]}}

	for i, e := range entries {
		if i == si || i == sj {
			continue
		}
		assignEntry(a, b, e, len(entries))
	}
	return a, b
}

func assignEntry(a, b *node, e Entry, total int) {
	remaining := total - len(a.entries) - len(b.entries)
	switch {
	case len(a.entries)+remaining <= minEntries:
		addEntry(a, e)
	case len(b.entries)+remaining <= minEntries:
		addEntry(b, e)
	case enlargement(a.bounds, e.Envelope) <= enlargement(b.bounds, e.Envelope):
		addEntry(a, e)
	default:
		addEntry(b, e)
	}
}

func addEntry(n *node, e Entry) {
	n.entries = append(n.entries, e)
	n.bounds = n.bounds.Union(e.Envelope)
}

func leafSeeds(entries []Entry) (int, int) {
	si, sj, worst := 0, 1, -1.0
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			d := deadSpace(entries[i].Envelope, entries[j].Envelope)
			if d > worst {
				si, sj, worst = i, j, d
			}
		}
	}
	return si, sj
}

// splitInternal distributes overflowing children across two internal nodes.
func splitInternal(children []*node) (*node, *node) {
	si, sj := childSeeds(children)
	a := &node{bounds: children[si].bounds, children: []*node{children[si]}}
	b := &node{bounds: children[sj].bounds, children: []*node{children[sj]}}

	for i, c := range children {
		if i == si || i == sj {
			continue
		}
		assignChild(a, b, c, len(children))
	}
	return a, b
}

func assignChild(a, b *node, c *node, total int) {
	remaining := total - len(a.children) - len(b.children)
	switch {
	case len(a.children)+remaining <= minEntries:
		addChild(a, c)
	case len(b.children)+remaining <= minEntries:
		addChild(b, c)
	case enlargement(a.bounds, c.bounds) <= enlargement(b.bounds, c.bounds):
		addChild(a, c)
	default:
		addChild(b, c)
	}
}

func addChild(n *node, c *node) {
	n.children = append(n.children, c)
	n.bounds = n.bounds.Union(c.bounds)
}

func childSeeds(children []*node) (int, int) {
	si, sj, worst := 0, 1, -1.0
	for i := 0; i < len(children); i++ {
		for j := i + 1; j < len(children); j++ {
			d := deadSpace(children[i].bounds, children[j].bounds)
			if d > worst {
				si, sj, worst = i, j, d
			}
		}
	}
	return si, sj
}

func deadSpace(a, b domain.Envelope) float64 {
	return a.Union(b).Area() - a.Area() - b.Area()
}

func boundsOf(children []*node) domain.Envelope {
	bounds := children[0].bounds
	for _, c := range children[1:] {
		bounds = bounds.Union(c.bounds)
	}
	return bounds
}

// removeOwner returns the root of a new tree without the owner's entry.
// Underfull nodes on the removal path are dissolved and their surviving
// entries reinserted, so no stale entry stays reachable.
func removeOwner(root *node, ownerID string, env domain.Envelope) *node {
	if root == nil {
		return nil
	}
	n, removed, orphans := remove(root, ownerID, env)
	if !removed {
		return root
	}
	// Collapse a root with a single child.
	for n != nil && !n.leaf && len(n.children) == 1 {
		n = n.children[0]
	}
	for _, e := range orphans {
		n = insertEntry(n, e)
	}
	return n
}

func remove(n *node, ownerID string, env domain.Envelope) (*node, bool, []Entry) {
	if !n.bounds.Intersects(env) {
		return n, false, nil
	}

	if n.leaf {
		idx := -1
		for i, e := range n.entries {
			if e.OwnerID == ownerID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return n, false, nil
		}
		entries := make([]Entry, 0, len(n.entries)-1)
		entries = append(entries, n.entries[:idx]...)
		entries = append(entries, n.entries[idx+1:]...)
		if len(entries) == 0 {
			return nil, true, nil
		}
		return &node{leaf: true, bounds: entryBounds(entries), entries: entries}, true, nil
	}

	for i, c := range n.children {
		replacement, removed, orphans := remove(c, ownerID, env)
		if !removed {
			continue
		}
		children := make([]*node, 0, len(n.children))
		children = append(children, n.children[:i]...)
		if replacement != nil && nodeSize(replacement) >= minEntries {
			children = append(children, replacement)
		} else if replacement != nil {
			// Underfull child: dissolve it and reinsert its entries.
			orphans = append(orphans, leafEntries(replacement)...)
		}
		children = append(children, n.children[i+1:]...)
		if len(children) == 0 {
			return nil, true, orphans
		}
		return &node{bounds: boundsOf(children), children: children}, true, orphans
	}
	return n, false, nil
}

func nodeSize(n *node) int {
	if n.leaf {
		return len(n.entries)
	}
	return len(n.children)
}

// leafEntries collects every entry beneath n.
func leafEntries(n *node) []Entry {
	if n.leaf {
		return n.entries
	}
	var out []Entry
	for _, c := range n.children {
		out = append(out, leafEntries(c)...)
	}
	return out
}

func entryBounds(entries []Entry) domain.Envelope {
	bounds := entries[0].Envelope
	for _, e := range entries[1:] {
		bounds = bounds.Union(e.Envelope)
	}
	return bounds
}
