package prox

import (
	"fmt"
	"math"

	"github.com/tidwall/buntdb"

	"github.com/openmetaverse/spaceloc/cmn/cos"
	"github.com/openmetaverse/spaceloc/cmn/debug"
	"github.com/openmetaverse/spaceloc/core/geom"
	"github.com/openmetaverse/spaceloc/core/loccache"
)

// Level implements the level-partitioned handler (spec §4.C): space is
// partitioned by a level number derived from object size. Every level is
// consulted on each Tick, but only within a box around the query whose
// half-width is the farthest distance at which an object of that
// level's maximum size could still satisfy theta. Each level keeps its
// own in-memory spatial index — an
// ephemeral buntdb.DB with a rectangle ("Spatial") index per object,
// per SPEC_FULL.md §11 domain-stack wiring — queried with Intersects to
// get the per-level candidate set before exact solid-angle filtering.
type Level struct {
	cache   *loccache.Cache
	levels  map[int]*buntdb.DB
	levelOf map[cos.ObjectID]int

	queries map[uint64]*Query
	members map[uint64]map[cos.ObjectID]struct{}
	pending map[uint64][]Event
}

func NewLevel(cache *loccache.Cache) *Level {
	l := &Level{
		cache:   cache,
		levels:  make(map[int]*buntdb.DB),
		levelOf: make(map[cos.ObjectID]int),
		queries: make(map[uint64]*Query),
		members: make(map[uint64]map[cos.ObjectID]struct{}),
		pending: make(map[uint64][]Event),
	}
	cache.AddListener(l)
	cache.Range(func(e *loccache.Entry) { l.insert(e) })
	return l
}

// levelFor buckets an object by log2(radius): larger objects land in
// higher levels and are visible to queries with a coarser theta even
// from far away.
func levelFor(radius float64) int {
	if radius <= 0 {
		return 0
	}
	lvl := int(math.Floor(math.Log2(radius)))
	if lvl < 0 {
		lvl = 0
	}
	return lvl
}

func (l *Level) dbFor(lvl int) *buntdb.DB {
	db, ok := l.levels[lvl]
	if !ok {
		db, _ = buntdb.Open(":memory:")
		db.CreateSpatialIndex("bbox", "obj:*", buntdb.IndexRect)
		l.levels[lvl] = db
	}
	return db
}

func rectKey(id cos.ObjectID) string { return "obj:" + id.String() }

func rectValue(center geom.Vector3, radius float64) string {
	return fmt.Sprintf("[%f %f %f],[%f %f %f]",
		center.X-radius, center.Y-radius, center.Z-radius,
		center.X+radius, center.Y+radius, center.Z+radius)
}

func (l *Level) insert(e *loccache.Entry) {
	lvl := levelFor(e.Radius())
	l.levelOf[e.ID] = lvl
	db := l.dbFor(lvl)
	_ = db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(rectKey(e.ID), rectValue(objPosition(e), e.Radius()), nil)
		return err
	})
}

func (l *Level) remove(id cos.ObjectID) {
	lvl, ok := l.levelOf[id]
	if !ok {
		return
	}
	delete(l.levelOf, id)
	db := l.levels[lvl]
	_ = db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(rectKey(id))
		return err
	})
}

func (l *Level) refresh(e *loccache.Entry) {
	l.remove(e.ID)
	l.insert(e)
}

// --- loccache.Listener ---------------------------------------------

func (l *Level) LocationConnected(e *loccache.Entry)    { l.insert(e) }
func (l *Level) LocationDisconnected(id cos.ObjectID)   { l.remove(id) }
func (l *Level) LocationPositionUpdated(_, _ geom.TimedMotionVector3, e *loccache.Entry) {
	l.refresh(e)
}
func (l *Level) LocationRegionUpdated(_ geom.Vector3, _ float64, e *loccache.Entry) { l.refresh(e) }
func (l *Level) LocationMaxSizeUpdated(_, _ float64, e *loccache.Entry)             { l.refresh(e) }

// --- Handler ---------------------------------------------------------

func (l *Level) Register(q *Query) {
	l.queries[q.ID] = q
	l.members[q.ID] = make(map[cos.ObjectID]struct{})
}

func (l *Level) Unregister(qid uint64) {
	delete(l.queries, qid)
	delete(l.members, qid)
	delete(l.pending, qid)
}

func (l *Level) SetPosition(qid uint64, pos geom.Vector3) {
	if q, ok := l.queries[qid]; ok {
		q.Position = pos
	}
}

func (l *Level) Len() int { return len(l.queries) }

func (l *Level) Queries() []uint64 {
	ids := make([]uint64, 0, len(l.queries))
	for id := range l.queries {
		ids = append(ids, id)
	}
	return ids
}

func (l *Level) Membership(qid uint64) []cos.ObjectID {
	set := l.members[qid]
	out := make([]cos.ObjectID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

func (l *Level) Seed(q *Query, membership []cos.ObjectID) {
	l.queries[q.ID] = q
	set := make(map[cos.ObjectID]struct{}, len(membership))
	for _, id := range membership {
		set[id] = struct{}{}
	}
	l.members[q.ID] = set
}

// searchRadius bounds how far, at minimum, an object of levelMaxRadius
// could still subtend theta — beyond this distance no object in a level
// capped at that radius can possibly match, so the level's spatial
// index is probed only within a box of this half-width.
func searchRadius(levelMaxRadius, theta float64) float64 {
	s := sinHalf(theta)
	if s <= 0 {
		return math.MaxFloat64
	}
	return levelMaxRadius / s
}

func (l *Level) Tick(_ float64) {
	for qid, q := range l.queries {
		next := make(map[cos.ObjectID]struct{})
		for lvl, db := range l.levels {
			levelMaxRadius := math.Exp2(float64(lvl + 1))
			r := searchRadius(levelMaxRadius, q.Theta)
			bbox := rectValue(q.Position, r)
			_ = db.View(func(tx *buntdb.Tx) error {
				return tx.Intersects("bbox", bbox, func(key, _ string) bool {
					id, err := cos.ObjectIDFromString(key[len("obj:"):])
					if err != nil {
						return true
					}
					e, ok := l.cache.Get(id)
					if ok && matches(e, q) {
						next[id] = struct{}{}
					}
					return true
				})
			})
		}

		cur := l.members[qid]
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
		l.members[qid] = next
		if len(events) > 0 {
			l.pending[qid] = append(l.pending[qid], events...)
		}
	}
}

func (l *Level) Results(qid uint64) []Event {
	ev := l.pending[qid]
	delete(l.pending, qid)
	return ev
}

func (l *Level) Close() {
	for _, db := range l.levels {
		debug.AssertNoErr(db.Close())
	}
}
