package prox

import (
	"github.com/openmetaverse/spaceloc/cmn/cos"
	"github.com/openmetaverse/spaceloc/core/geom"
	"github.com/openmetaverse/spaceloc/core/loccache"
)

// Brute is the linear-scan handler: no auxiliary structure, every Tick
// re-evaluates the solid-angle predicate against every cache entry
// (spec §4.C "Brute"). It is also the reference implementation every
// other variant's results must match modulo aggregate-emission (spec §8).
type Brute struct {
	cache   *loccache.Cache
	queries map[uint64]*Query
	members map[uint64]map[cos.ObjectID]struct{}
	pending map[uint64][]Event
}

func NewBrute(cache *loccache.Cache) *Brute {
	return &Brute{
		cache:   cache,
		queries: make(map[uint64]*Query),
		members: make(map[uint64]map[cos.ObjectID]struct{}),
		pending: make(map[uint64][]Event),
	}
}

func (h *Brute) Register(q *Query) {
	h.queries[q.ID] = q
	h.members[q.ID] = make(map[cos.ObjectID]struct{})
}

func (h *Brute) Unregister(qid uint64) {
	delete(h.queries, qid)
	delete(h.members, qid)
	delete(h.pending, qid)
}

func (h *Brute) SetPosition(qid uint64, pos geom.Vector3) {
	if q, ok := h.queries[qid]; ok {
		q.Position = pos
	}
}

func (h *Brute) Len() int { return len(h.queries) }

func (h *Brute) Queries() []uint64 {
	ids := make([]uint64, 0, len(h.queries))
	for id := range h.queries {
		ids = append(ids, id)
	}
	return ids
}

func (h *Brute) Membership(qid uint64) []cos.ObjectID {
	set := h.members[qid]
	out := make([]cos.ObjectID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

func (h *Brute) Seed(q *Query, membership []cos.ObjectID) {
	h.queries[q.ID] = q
	set := make(map[cos.ObjectID]struct{}, len(membership))
	for _, id := range membership {
		set[id] = struct{}{}
	}
	h.members[q.ID] = set
}

// Tick re-evaluates every (query, object) pair and diffs against the
// previous membership set to produce add/remove events.
func (h *Brute) Tick(_ float64) {
	for qid, q := range h.queries {
		cur := h.members[qid]
		next := make(map[cos.ObjectID]struct{}, len(cur))
		var events []Event

		h.forEach(func(id cos.ObjectID, e *loccache.Entry) {
			if !matches(e, q) {
				return
			}
			next[id] = struct{}{}
			if _, was := cur[id]; !was {
				events = append(events, Event{Kind: EventAdd, Obj: id})
			}
		})
		for id := range cur {
			if _, still := next[id]; !still {
				events = append(events, Event{Kind: EventRemove, Obj: id})
			}
		}
		h.members[qid] = next
		if len(events) > 0 {
			h.pending[qid] = append(h.pending[qid], events...)
		}
	}
}

// forEach visits every live cache entry via scanAll.
func (h *Brute) forEach(fn func(cos.ObjectID, *loccache.Entry)) {
	scanAll(h.cache, fn)
}

func (h *Brute) Results(qid uint64) []Event {
	ev := h.pending[qid]
	delete(h.pending, qid)
	return ev
}

// matches evaluates the shared solid-angle predicate (spec §4.C) for one
// cache entry against one query's current position/theta.
func matches(e *loccache.Entry, q *Query) bool {
	return geom.SolidAngleGE(e.Radius(), objPosition(e), q.Position, q.Theta)
}

// objPosition resolves an entry's world position as the stored
// Location.Position plus the bounds' center offset. It does not
// extrapolate along Location.Velocity, and nothing upstream (including
// core/locservice's ingress path) extrapolates it either: the position
// is used exactly as last written.
func objPosition(e *loccache.Entry) geom.Vector3 {
	return e.Location.Position.Add(e.CenterOffset)
}
