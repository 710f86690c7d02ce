package prox_test

import (
	"testing"

	"github.com/openmetaverse/spaceloc/cmn/cos"
	"github.com/openmetaverse/spaceloc/core/geom"
	"github.com/openmetaverse/spaceloc/core/loccache"
	"github.com/openmetaverse/spaceloc/core/presence"
	"github.com/openmetaverse/spaceloc/core/prox"
)

func seedCache(cache *loccache.Cache, n int) []cos.ObjectID {
	ids := make([]cos.ObjectID, n)
	for i := 0; i < n; i++ {
		id := cos.NewObjectID()
		ids[i] = id
		cache.ObjectAdded(id, &presence.Record{
			ID:    id,
			Local: true,
			Location: geom.TimedMotionVector3{
				Position: geom.Vector3{X: float64(i) * 10, Y: 0, Z: 0},
			},
			Bounds: geom.AggregateBoundingInfo{CenterBoundsRadius: 1},
		}, presence.Origin{Local: true})
	}
	return ids
}

func resultSet(h prox.Handler, qid uint64) map[cos.ObjectID]bool {
	out := make(map[cos.ObjectID]bool)
	for _, id := range h.Membership(qid) {
		out[id] = true
	}
	return out
}

func membersEqual(t *testing.T, a, b map[cos.ObjectID]bool) {
	t.Helper()
	if len(a) != len(b) {
		t.Fatalf("result set size mismatch: %d vs %d", len(a), len(b))
	}
	for id := range a {
		if !b[id] {
			t.Fatalf("object %s present in one result set but not the other", id)
		}
	}
}

// TestSingleAddSingleQuery is spec §8 scenario 1.
func TestSingleAddSingleQuery(t *testing.T) {
	cache := loccache.New()
	id := cos.NewObjectID()
	cache.ObjectAdded(id, &presence.Record{
		ID:       id,
		Local:    true,
		Location: geom.TimedMotionVector3{Position: geom.Vector3{X: 0}},
		Bounds:   geom.AggregateBoundingInfo{CenterBoundsRadius: 1},
	}, presence.Origin{Local: true})

	h := prox.NewBrute(cache)
	q := &prox.Query{ID: 1, Position: geom.Vector3{X: 10}, Theta: 0.2}
	h.Register(q)
	h.Tick(0)

	events := h.Results(1)
	if len(events) != 1 || events[0].Kind != prox.EventAdd || events[0].Obj != id {
		t.Fatalf("expected a single add for %s, got %v", id, events)
	}

	// Move the object far away: expect a remove.
	rec2 := &presence.Record{ID: id, Local: true, Location: geom.TimedMotionVector3{Position: geom.Vector3{X: 100}}, Bounds: geom.AggregateBoundingInfo{CenterBoundsRadius: 1}}
	cache.Refresh(rec2, cos.AttrLocation)
	h.Tick(1)
	events = h.Results(1)
	if len(events) != 1 || events[0].Kind != prox.EventRemove {
		t.Fatalf("expected a single remove after the object moved away, got %v", events)
	}
}

// TestRTreeMatchesBrute is spec §8: "the result set equals the brute-
// force result set over W for the same theta" for both pruning modes.
func TestRTreeMatchesBrute(t *testing.T) {
	for _, variant := range []string{"rtree", "dist"} {
		brute := loccache.New()
		tree := loccache.New()
		ids := seedCache(brute, 40)
		for i, id := range ids {
			e, _ := brute.Get(id)
			tree.ObjectAdded(id, &presence.Record{ID: id, Local: true, Location: e.Location, Bounds: geom.AggregateBoundingInfo{CenterBoundsRadius: e.CenterBoundsRadius}}, presence.Origin{Local: true})
			_ = i
		}

		bruteH := prox.NewBrute(brute)
		var treeH prox.Handler
		if variant == "rtree" {
			treeH = prox.NewRTreeAngle(tree, 4)
		} else {
			treeH = prox.NewRTreeDistance(tree, 4)
		}

		q1 := &prox.Query{ID: 1, Position: geom.Vector3{X: 150}, Theta: 0.3}
		q2 := &prox.Query{ID: 1, Position: geom.Vector3{X: 150}, Theta: 0.3}
		bruteH.Register(q1)
		treeH.Register(q2)
		bruteH.Tick(0)
		treeH.Tick(0)
		bruteH.Results(1)
		treeH.Results(1)

		membersEqual(t, resultSet(bruteH, 1), resultSet(treeH, 1))
	}
}

func TestZeroRadiusNeverMatchesUnlessThetaZero(t *testing.T) {
	cache := loccache.New()
	id := cos.NewObjectID()
	cache.ObjectAdded(id, &presence.Record{
		ID: id, Local: true,
		Location: geom.TimedMotionVector3{Position: geom.Vector3{X: 5}},
		Bounds:   geom.AggregateBoundingInfo{}, // zero radius
	}, presence.Origin{Local: true})

	h := prox.NewBrute(cache)
	q := &prox.Query{ID: 1, Position: geom.Vector3{X: 0}, Theta: 0.1}
	h.Register(q)
	h.Tick(0)
	h.Results(1)
	if len(resultSet(h, 1)) != 0 {
		t.Fatalf("zero-radius object must not match a non-zero theta")
	}
}

func TestDistanceZeroAlwaysMatches(t *testing.T) {
	cache := loccache.New()
	id := cos.NewObjectID()
	pos := geom.Vector3{X: 3, Y: 3, Z: 3}
	cache.ObjectAdded(id, &presence.Record{
		ID: id, Local: true,
		Location: geom.TimedMotionVector3{Position: pos},
		Bounds:   geom.AggregateBoundingInfo{CenterBoundsRadius: 1},
	}, presence.Origin{Local: true})

	h := prox.NewBrute(cache)
	q := &prox.Query{ID: 1, Position: pos, Theta: 0.01}
	h.Register(q)
	h.Tick(0)
	h.Results(1)
	if !resultSet(h, 1)[id] {
		t.Fatalf("an object at distance zero must always match")
	}
}
