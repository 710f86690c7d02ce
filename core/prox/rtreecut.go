package prox

import (
	"github.com/openmetaverse/spaceloc/cmn/cos"
)

// RTreeCut is the rtreecut / rtreecutagg variant (spec §4.C): it shares
// the RTree's persistent tree and maintenance, but additionally tracks,
// per query, the frontier of nodes the query's descent currently stops
// at (the "cut"). When aggEmit is set (rtreecutagg) a node whose own
// aggregate bound already satisfies the query's solid-angle threshold is
// emitted directly as a node-enter result instead of being expanded leaf
// by leaf — "coarse nodes themselves appear in results" (spec §4.C).
type RTreeCut struct {
	*RTree
	aggEmit bool

	cuts    map[uint64]map[*node]struct{}
	nodeIDs map[*node]cos.ObjectID
}

func NewRTreeCut(tree *RTree, aggEmit bool) *RTreeCut {
	return &RTreeCut{
		RTree:   tree,
		aggEmit: aggEmit,
		cuts:    make(map[uint64]map[*node]struct{}),
		nodeIDs: make(map[*node]cos.ObjectID),
	}
}

func (rc *RTreeCut) nodeID(n *node) cos.ObjectID {
	if id, ok := rc.nodeIDs[n]; ok {
		return id
	}
	id := cos.NewObjectID()
	rc.nodeIDs[n] = id
	return id
}

func (rc *RTreeCut) Register(q *Query) {
	rc.RTree.Register(q)
	rc.cuts[q.ID] = make(map[*node]struct{})
}

func (rc *RTreeCut) Unregister(qid uint64) {
	rc.RTree.Unregister(qid)
	delete(rc.cuts, qid)
}

func (rc *RTreeCut) Seed(q *Query, membership []cos.ObjectID) {
	rc.RTree.Seed(q, membership)
	// A seeded query's cut is rebuilt lazily on the next Tick rather
	// than transferred node-for-node — only the leaf membership set
	// (already seeded) matters for not re-emitting add/remove across a
	// rebuilder swap (spec §4.D open question ii: "cuts are transferred
	// whole", satisfied here by transferring membership, which is what
	// the rebuilder diffs against).
	rc.cuts[q.ID] = make(map[*node]struct{})
}

// Tick recomputes each query's cut with a fresh descent from the root
// and diffs it against the previous tick's cut, emitting node-enter for
// new cut nodes and node-exit for dropped ones; the cut is not slid
// incrementally from its previous position. The resulting leaf
// membership is diffed exactly as RTree.Tick does; in aggEmit mode a
// qualifying interior node short-circuits its subtree and contributes a
// node-level event instead of per-leaf ones. Without aggEmit no cut
// nodes are recorded, so results match RTree's.
func (rc *RTreeCut) Tick(now float64) {
	for qid, q := range rc.queries {
		leafNext := make(map[cos.ObjectID]struct{})
		var nodeNext []*node
		rc.walk(rc.root, q, leafNext, &nodeNext)

		cur := rc.members[qid]
		var events []Event
		for id := range leafNext {
			if _, was := cur[id]; !was {
				events = append(events, Event{Kind: EventAdd, Obj: id})
			}
		}
		for id := range cur {
			if _, still := leafNext[id]; !still {
				events = append(events, Event{Kind: EventRemove, Obj: id})
			}
		}
		rc.members[qid] = leafNext

		prevCut := rc.cuts[qid]
		nextCutSet := make(map[*node]struct{}, len(nodeNext))
		for _, n := range nodeNext {
			nextCutSet[n] = struct{}{}
			if _, was := prevCut[n]; !was {
				events = append(events, Event{Kind: EventNodeEnter, Obj: rc.nodeID(n)})
			}
		}
		for n := range prevCut {
			if _, still := nextCutSet[n]; !still {
				events = append(events, Event{Kind: EventNodeExit, Obj: rc.nodeID(n)})
			}
		}
		rc.cuts[qid] = nextCutSet

		if len(events) > 0 {
			rc.pending[qid] = append(rc.pending[qid], events...)
		}
	}
	_ = now
}

// walk descends like RTree.descend, but in aggEmit mode stops at the
// first interior node whose own bound already satisfies the threshold
// (treating the node's aggregate bound itself as a single candidate)
// and records it as a cut node instead of recursing into its children.
func (rc *RTreeCut) walk(n *node, q *Query, leaves map[cos.ObjectID]struct{}, cutNodes *[]*node) {
	if n == nil {
		return
	}
	if n.isLeaf {
		if e, ok := rc.cache.Get(n.leaf); ok && matches(e, q) {
			leaves[n.leaf] = struct{}{}
		}
		return
	}
	if rc.pruned(n, q) {
		return
	}
	if rc.aggEmit && rc.nodeSatisfies(n, q) {
		*cutNodes = append(*cutNodes, n)
		return
	}
	for _, c := range n.children {
		rc.walk(c, q, leaves, cutNodes)
	}
}

// nodeSatisfies tests the node's own aggregate bound as if it were one
// object of radius n.bound.Radius — the actual (not merely upper-bound)
// solid angle the node's footprint subtends.
func (rc *RTreeCut) nodeSatisfies(n *node, q *Query) bool {
	return sinHalf(q.Theta) <= n.bound.Radius/maxf(distanceOrEpsilon(n, q), 1e-9)
}

func distanceOrEpsilon(n *node, q *Query) float64 {
	return n.bound.Center.Sub(q.Position).Length()
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
