// Package presence implements component A, the Sequenced Presence
// Store (spec §4.A): a mapping from object id to Record, a single
// multi-attribute writer that enforces per-attribute seqno monotonicity,
// and a fine-grained per-attribute listener fan-out.
package presence

import (
	"github.com/seiflotfy/cuckoofilter"

	"github.com/openmetaverse/spaceloc/cmn/cos"
	"github.com/openmetaverse/spaceloc/cmn/debug"
	"github.com/openmetaverse/spaceloc/cmn/errs"
	"github.com/openmetaverse/spaceloc/cmn/nlog"
)

// Origin tags a notification with local/replica, mirrored per spec §4.A
// ("tagged with (local | replica, aggregate-flag)").
type Origin struct {
	Local     bool
	Aggregate bool
}

// Listener receives one call per accepted attribute write (spec §12:
// "one call per attribute" rather than one combined call), plus
// lifecycle calls for admission/removal. All calls happen synchronously
// on the caller's strand (spec §5) — a listener must never block or
// call back into the store.
type Listener interface {
	ObjectAdded(id cos.ObjectID, rec *Record, origin Origin)
	ObjectRemoved(id cos.ObjectID, permanent bool)
	LocationUpdated(id cos.ObjectID, origin Origin)
	OrientationUpdated(id cos.ObjectID, origin Origin)
	BoundsUpdated(id cos.ObjectID, origin Origin)
	MeshUpdated(id cos.ObjectID, origin Origin)
	PhysicsUpdated(id cos.ObjectID, origin Origin)
	ParentUpdated(id cos.ObjectID, origin Origin)
	ZernikeUpdated(id cos.ObjectID, origin Origin)
}

// WantAggregates is implemented by listeners that want to receive
// events for aggregate-flagged records (spec §4.A "filtered by a
// want_aggregates flag", §12 "carried per listener").
type WantAggregates interface {
	WantAggregates() bool
}

// Store is component A. All mutation happens on the owning strand
// (spec §5); it holds no internal lock.
type Store struct {
	recs map[cos.ObjectID]*Record

	// known is a cuckoo filter of admitted ids (SPEC_FULL §11: "A
	// (presence store)"), exposed through MightExist as an O(1)
	// pre-check. Get and Write do not consult it; they look up the map
	// directly. Ids are never removed from the filter.
	known *cuckoofilter.CuckooFilter

	listeners []Listener
}

func NewStore() *Store {
	return &Store{
		recs:  make(map[cos.ObjectID]*Record),
		known: cuckoofilter.NewDefaultCuckooFilter(),
	}
}

func (s *Store) AddListener(l Listener) { s.listeners = append(s.listeners, l) }

func (s *Store) RemoveListener(l Listener) {
	for i, x := range s.listeners {
		if x == l {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

// MightExist is the fast O(1) pre-check; a false result is authoritative
// (no record exists), a true result must be confirmed against the map.
func (s *Store) MightExist(id cos.ObjectID) bool { return s.known.Lookup(id[:]) }

func (s *Store) Get(id cos.ObjectID) (*Record, bool) {
	r, ok := s.recs[id]
	return r, ok
}

// LocalObjectAdded admits a locally-authoritative record (spec §3
// lifecycle: "Created by localObjectAdded").
func (s *Store) LocalObjectAdded(rec *Record) {
	debug.Assert(rec.Local, "LocalObjectAdded: record must be marked Local")
	s.add(rec)
}

// ReplicaObjectAdded admits a record authoritative elsewhere.
func (s *Store) ReplicaObjectAdded(rec *Record) {
	debug.Assert(!rec.Local, "ReplicaObjectAdded: record must not be marked Local")
	s.add(rec)
}

// AddAggregate admits a synthetic aggregate record; aggregates are
// always local (spec §12 asymmetry note).
func (s *Store) AddAggregate(rec *Record) {
	rec.Local = true
	rec.Aggregate = true
	s.add(rec)
}

func (s *Store) add(rec *Record) {
	if _, exists := s.recs[rec.ID]; exists {
		nlog.Warningf("presence: re-adding already-known object %s, overwriting", rec.ID)
	}
	s.recs[rec.ID] = rec
	s.known.InsertUnique(rec.ID[:])
	origin := Origin{Local: rec.Local, Aggregate: rec.Aggregate}
	for _, l := range s.listeners {
		if rec.Aggregate && !wantsAggregates(l) {
			continue
		}
		l.ObjectAdded(rec.ID, rec, origin)
	}
}

func wantsAggregates(l Listener) bool {
	wa, ok := l.(WantAggregates)
	return ok && wa.WantAggregates()
}

// Remove deletes a record from the store and notifies listeners. It
// asserts the record is not Tracked. Deferred destruction of a pinned
// entry happens in core/loccache, which keeps the entry until its last
// unpin when it receives this ObjectRemoved.
func (s *Store) Remove(id cos.ObjectID, permanent bool) {
	rec, ok := s.recs[id]
	if !ok {
		return
	}
	debug.Assert(!rec.Tracked, "Remove: object %s is tracked, must go through MarkRemovable", id)
	delete(s.recs, id)
	for _, l := range s.listeners {
		if rec.Aggregate && !wantsAggregates(l) {
			continue
		}
		l.ObjectRemoved(id, permanent)
	}
}

// MarkRemovable sets the record's Removable flag. It does not delete the
// record, notify listeners, or inform the cache; the record stays in the
// store until Remove is called.
func (s *Store) MarkRemovable(id cos.ObjectID) {
	if rec, ok := s.recs[id]; ok {
		rec.Removable = true
	}
}

// Write is the single multi-attribute writer (spec §4.A). For each bit
// set in upd.Mask it rejects the attribute if the proposed seqno does
// not exceed the stored one (silently, per attribute — spec §7
// StaleUpdate), otherwise replaces the value+seqno atomically and
// notifies listeners. Returns the set of attributes actually accepted.
func (s *Store) Write(upd *Update, origin Origin) (accepted cos.AttrMask, err error) {
	rec, ok := s.recs[upd.Object]
	if !ok {
		return 0, errs.NewUnknownObject(upd.Object)
	}

	if upd.Mask.Has(cos.AttrLocation) && upd.LocationSeq > rec.LocationSeq {
		rec.Location, rec.LocationSeq = upd.Location, upd.LocationSeq
		accepted = accepted.Set(cos.AttrLocation)
	}
	if upd.Mask.Has(cos.AttrOrientation) && upd.OrientationSeq > rec.OrientationSeq {
		rec.Orientation, rec.OrientationSeq = upd.Orientation, upd.OrientationSeq
		accepted = accepted.Set(cos.AttrOrientation)
	}
	if upd.Mask.Has(cos.AttrBounds) && upd.BoundsSeq > rec.BoundsSeq {
		rec.Bounds, rec.BoundsSeq = upd.Bounds, upd.BoundsSeq
		accepted = accepted.Set(cos.AttrBounds)
	}
	if upd.Mask.Has(cos.AttrMesh) && upd.MeshSeq > rec.MeshSeq {
		rec.Mesh, rec.MeshSeq = upd.Mesh, upd.MeshSeq
		accepted = accepted.Set(cos.AttrMesh)
	}
	if upd.Mask.Has(cos.AttrPhysics) && upd.PhysicsSeq > rec.PhysicsSeq {
		rec.Physics, rec.PhysicsSeq = upd.Physics, upd.PhysicsSeq
		accepted = accepted.Set(cos.AttrPhysics)
	}
	if upd.Mask.Has(cos.AttrParent) && upd.ParentSeq > rec.ParentSeq {
		rec.Parent, rec.ParentSeq = upd.Parent, upd.ParentSeq
		accepted = accepted.Set(cos.AttrParent)
	}
	if upd.Mask.Has(cos.AttrZernike) && upd.ZernikeSeq > rec.ZernikeSeq {
		rec.Zernike, rec.ZernikeSeq = upd.Zernike, upd.ZernikeSeq
		accepted = accepted.Set(cos.AttrZernike)
	}
	if upd.HasEpoch {
		rec.HasEpoch, rec.Epoch = true, upd.Epoch
	}

	if accepted == 0 {
		return 0, errs.NewStaleUpdate(upd.Object, upd.Mask, 0, 0)
	}

	s.notify(rec, accepted, origin)
	return accepted, nil
}

func (s *Store) notify(rec *Record, accepted cos.AttrMask, origin Origin) {
	for _, l := range s.listeners {
		if rec.Aggregate && !wantsAggregates(l) {
			continue
		}
		if accepted.Has(cos.AttrLocation) {
			l.LocationUpdated(rec.ID, origin)
		}
		if accepted.Has(cos.AttrOrientation) {
			l.OrientationUpdated(rec.ID, origin)
		}
		if accepted.Has(cos.AttrBounds) {
			l.BoundsUpdated(rec.ID, origin)
		}
		if accepted.Has(cos.AttrMesh) {
			l.MeshUpdated(rec.ID, origin)
		}
		if accepted.Has(cos.AttrPhysics) {
			l.PhysicsUpdated(rec.ID, origin)
		}
		if accepted.Has(cos.AttrParent) {
			l.ParentUpdated(rec.ID, origin)
		}
		if accepted.Has(cos.AttrZernike) {
			l.ZernikeUpdated(rec.ID, origin)
		}
	}
}

// Counts backs the space.loc.properties admin command (spec §6).
type Counts struct {
	Total, Local, Replica, Aggregate int
}

func (s *Store) Counts() Counts {
	var c Counts
	c.Total = len(s.recs)
	for _, r := range s.recs {
		if r.Local {
			c.Local++
		} else {
			c.Replica++
		}
		if r.Aggregate {
			c.Aggregate++
		}
	}
	return c
}
