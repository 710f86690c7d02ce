package prox

import (
	"math"

	"github.com/openmetaverse/spaceloc/cmn/cos"
	"github.com/openmetaverse/spaceloc/core/geom"
	"github.com/openmetaverse/spaceloc/core/loccache"
)

func sinHalf(theta float64) float64 { return math.Sin(theta / 2) }

// pruneMode selects the bounding test a tree node is pruned with;
// RTreeAngle and RTreeDistance share every other line of code (spec
// §4.C: "R-tree distance: analogous with pure distance pruning").
type pruneMode uint8

const (
	pruneAngle pruneMode = iota
	pruneDistance
)

// node is one R-tree interior or leaf node. Interior nodes cache an
// aggregate bounding sphere and the max child radius beneath them (spec
// §4.C invariant: "every interior node's cached aggregate bound contains
// all leaf bounds beneath it").
type node struct {
	parent   *node
	children []*node // nil for leaves
	leaf     cos.ObjectID
	isLeaf   bool

	bound   geom.BoundingSphere
	maxRad  float64 // largest leaf radius anywhere in this subtree
}

// RTree implements the angle- and distance-pruning variants (spec
// §4.C). It listens directly on the location cache to keep its leaf set
// current; branching bounds how many children an interior node holds
// before a new sibling group is started. Deletions are lazy (leaf
// unlinked, ancestors re-aggregated, no underflow rebalancing) — the
// rebuilding wrapper (core/rebuild) restores balance periodically, which
// is the documented division of labor (spec §4.D rationale).
type RTree struct {
	cache     *loccache.Cache
	mode      pruneMode
	branching int

	root   *node
	leaves map[cos.ObjectID]*node

	queries map[uint64]*Query
	members map[uint64]map[cos.ObjectID]struct{}
	pending map[uint64][]Event
}

func NewRTreeAngle(cache *loccache.Cache, branching int) *RTree {
	return newRTree(cache, pruneAngle, branching)
}

func NewRTreeDistance(cache *loccache.Cache, branching int) *RTree {
	return newRTree(cache, pruneDistance, branching)
}

func newRTree(cache *loccache.Cache, mode pruneMode, branching int) *RTree {
	if branching <= 1 {
		branching = 10
	}
	t := &RTree{
		cache:     cache,
		mode:      mode,
		branching: branching,
		leaves:    make(map[cos.ObjectID]*node),
		queries:   make(map[uint64]*Query),
		members:   make(map[uint64]map[cos.ObjectID]struct{}),
		pending:   make(map[uint64][]Event),
	}
	cache.AddListener(t)
	// Seed from whatever is already present (a fresh handler built by
	// the rebuilder replays the cache before it starts serving, spec
	// §4.D step 2).
	cache.Range(func(e *loccache.Entry) { t.insertLeaf(e) })
	return t
}

// --- loccache.Listener -------------------------------------------------

func (t *RTree) LocationConnected(e *loccache.Entry) { t.insertLeaf(e) }

func (t *RTree) LocationDisconnected(id cos.ObjectID) { t.removeLeaf(id) }

func (t *RTree) LocationPositionUpdated(_old, _new geom.TimedMotionVector3, e *loccache.Entry) {
	t.refreshLeaf(e)
}

func (t *RTree) LocationRegionUpdated(_offset geom.Vector3, _radius float64, e *loccache.Entry) {
	t.refreshLeaf(e)
}

func (t *RTree) LocationMaxSizeUpdated(_old, _new float64, e *loccache.Entry) {
	t.refreshLeaf(e)
}

func (t *RTree) insertLeaf(e *loccache.Entry) {
	n := &node{isLeaf: true, leaf: e.ID, bound: geom.BoundingSphere{Center: objPosition(e), Radius: e.Radius()}, maxRad: e.Radius()}
	t.leaves[e.ID] = n
	t.linkLeaf(n)
}

func (t *RTree) removeLeaf(id cos.ObjectID) {
	n, ok := t.leaves[id]
	if !ok {
		return
	}
	delete(t.leaves, id)
	t.unlinkLeaf(n)
}

func (t *RTree) refreshLeaf(e *loccache.Entry) {
	n, ok := t.leaves[e.ID]
	if !ok {
		return
	}
	n.bound = geom.BoundingSphere{Center: objPosition(e), Radius: e.Radius()}
	n.maxRad = e.Radius()
	t.reaggregatePath(n.parent)
}

// linkLeaf attaches a new leaf under the root, growing/splitting
// groups by branching factor — a simple choose-nearest-group insert,
// not a full R-tree split algorithm (acceptable: the rebuilder restores
// a balanced tree periodically; see type doc).
func (t *RTree) linkLeaf(n *node) {
	if t.root == nil {
		t.root = &node{children: []*node{n}}
		n.parent = t.root
		t.reaggregatePath(t.root)
		return
	}
	target := t.chooseGroup(t.root)
	target.children = append(target.children, n)
	n.parent = target
	if len(target.children) > t.branching {
		if target.parent == nil {
			// target is the root: give it a parent so it can split.
			t.root = &node{children: []*node{target}}
			target.parent = t.root
		}
		t.splitGroup(target)
	}
	t.reaggregatePath(target)
}

// chooseGroup descends to the leaf-parent-level node whose center is
// nearest the new insertion point would go; for simplicity (and since
// leaves carry no position yet at call time) it just picks the
// least-populated child recursively, giving a roughly balanced tree.
func (t *RTree) chooseGroup(n *node) *node {
	if len(n.children) == 0 || n.children[0].isLeaf {
		return n
	}
	best := n.children[0]
	for _, c := range n.children[1:] {
		if len(c.children) < len(best.children) {
			best = c
		}
	}
	return t.chooseGroup(best)
}

func (t *RTree) splitGroup(n *node) {
	mid := len(n.children) / 2
	sibling := &node{children: append([]*node{}, n.children[mid:]...), parent: n.parent}
	for _, c := range sibling.children {
		c.parent = sibling
	}
	n.children = n.children[:mid]
	n.parent.children = append(n.parent.children, sibling)
	t.reaggregate(sibling)
	t.reaggregate(n)
	if len(n.parent.children) > t.branching && n.parent.parent != nil {
		t.splitGroup(n.parent)
	} else if n.parent == t.root && len(t.root.children) > t.branching {
		newRoot := &node{children: []*node{t.root}}
		t.root.parent = newRoot
		t.root = newRoot
	}
}

func (t *RTree) unlinkLeaf(n *node) {
	p := n.parent
	if p == nil {
		return
	}
	for i, c := range p.children {
		if c == n {
			p.children = append(p.children[:i], p.children[i+1:]...)
			break
		}
	}
	t.reaggregatePath(p)
}

func (t *RTree) reaggregatePath(n *node) {
	for n != nil {
		t.reaggregate(n)
		n = n.parent
	}
}

// reaggregate recomputes n's cached bound from its children, preserving
// the spec §4.C invariant that an interior bound contains every leaf
// bound beneath it.
func (t *RTree) reaggregate(n *node) {
	if n == nil || n.isLeaf || len(n.children) == 0 {
		return
	}
	var sum geom.Vector3
	for _, c := range n.children {
		sum = sum.Add(c.bound.Center)
	}
	center := sum.Scale(1.0 / float64(len(n.children)))
	var maxReach, maxRad float64
	for _, c := range n.children {
		reach := geom.Distance(center, c.bound.Center) + c.bound.Radius
		if reach > maxReach {
			maxReach = reach
		}
		if c.maxRad > maxRad {
			maxRad = c.maxRad
		}
	}
	n.bound = geom.BoundingSphere{Center: center, Radius: maxReach}
	n.maxRad = maxRad
}

// --- Handler -----------------------------------------------------------

func (t *RTree) Register(q *Query) {
	t.queries[q.ID] = q
	t.members[q.ID] = make(map[cos.ObjectID]struct{})
}

func (t *RTree) Unregister(qid uint64) {
	delete(t.queries, qid)
	delete(t.members, qid)
	delete(t.pending, qid)
}

func (t *RTree) SetPosition(qid uint64, pos geom.Vector3) {
	if q, ok := t.queries[qid]; ok {
		q.Position = pos
	}
}

func (t *RTree) Len() int { return len(t.queries) }

func (t *RTree) Queries() []uint64 {
	ids := make([]uint64, 0, len(t.queries))
	for id := range t.queries {
		ids = append(ids, id)
	}
	return ids
}

func (t *RTree) Membership(qid uint64) []cos.ObjectID {
	set := t.members[qid]
	out := make([]cos.ObjectID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

func (t *RTree) Seed(q *Query, membership []cos.ObjectID) {
	t.queries[q.ID] = q
	set := make(map[cos.ObjectID]struct{}, len(membership))
	for _, id := range membership {
		set[id] = struct{}{}
	}
	t.members[q.ID] = set
}

func (t *RTree) Tick(_ float64) {
	for qid, q := range t.queries {
		next := make(map[cos.ObjectID]struct{})
		t.descend(t.root, q, next)

		cur := t.members[qid]
		var events []Event
		for id := range next {
			if _, was := cur[id]; !was {
				events = append(events, Event{Kind: EventAdd, Obj: id})
			}
		}
		for id := range cur {
			if _, still := next[id]; !still {
				events = append(events, Event{Kind: EventRemove, Obj: id})
			}
		}
		t.members[qid] = next
		if len(events) > 0 {
			t.pending[qid] = append(t.pending[qid], events...)
		}
	}
}

func (t *RTree) Results(qid uint64) []Event {
	ev := t.pending[qid]
	delete(t.pending, qid)
	return ev
}

// descend walks the tree, pruning subtrees whose cached bound proves no
// descendant can match q's solid-angle threshold (spec §4.C).
func (t *RTree) descend(n *node, q *Query, out map[cos.ObjectID]struct{}) {
	if n == nil {
		return
	}
	if n.isLeaf {
		e, ok := t.cache.Get(n.leaf)
		if ok && matches(e, q) {
			out[n.leaf] = struct{}{}
		}
		return
	}
	if t.pruned(n, q) {
		return
	}
	for _, c := range n.children {
		t.descend(c, q, out)
	}
}

func (t *RTree) pruned(n *node, q *Query) bool {
	switch t.mode {
	case pruneDistance:
		dist := geom.Distance(n.bound.Center, q.Position)
		closest := dist - n.bound.Radius
		if closest <= 0 {
			return false // query inside the node's bound: cannot prune
		}
		// Best case for a match: the largest possible object at the
		// closest possible approach. If even that cannot subtend theta,
		// nothing beneath this node can either.
		return (n.maxRad / closest) < sinHalf(q.Theta)
	default: // pruneAngle
		bound := geom.MaxPossibleSolidAngleSin(n.bound, n.maxRad, q.Position)
		return bound < sinHalf(q.Theta)
	}
}
