// Package loccache implements component B, the Location-Update Cache:
// a thin snapshot view over the presence store that the spatial query
// handlers (core/prox) consult, plus the pin/refcount tracking machinery
// that defers physical removal while a handler still references an
// entry (spec §4.B).
package loccache

import (
	"github.com/openmetaverse/spaceloc/cmn/cos"
	"github.com/openmetaverse/spaceloc/cmn/debug"
	"github.com/openmetaverse/spaceloc/core/geom"
	"github.com/openmetaverse/spaceloc/core/presence"
)

// Entry is the contract spec §4.B requires the cache expose for every
// object currently present.
type Entry struct {
	ID                cos.ObjectID
	Location          geom.TimedMotionVector3
	CenterOffset      geom.Vector3
	CenterBoundsRadius float64
	MaxSize           float64
	Mesh              string
	Zernike           string
	IsAggregate       bool
	IsLocal           bool

	removable bool
	pins      int32 // cursor pins + bare refcount pins, combined
}

func (e *Entry) Radius() float64 { return e.CenterBoundsRadius + e.MaxSize }

// Listener receives cache-level change notifications (spec §4.B). Old/new
// pairs are mandatory so an R-tree variant can update bounding volumes
// incrementally instead of re-scanning.
type Listener interface {
	LocationConnected(e *Entry)
	LocationDisconnected(id cos.ObjectID)
	LocationPositionUpdated(old, new geom.TimedMotionVector3, e *Entry)
	LocationRegionUpdated(oldOffset geom.Vector3, oldRadius float64, e *Entry)
	LocationMaxSizeUpdated(old, new float64, e *Entry)
}

// Cursor is an opaque handle returned by StartTracking: an index into
// the cache's slot table (spec §9: "opaque handles that index into a
// slot table... eliminates dangling-iterator hazards without reference
// counting presence records directly").
type Cursor struct {
	id cos.ObjectID
}

// Cache is component B. Runs entirely on the owning strand (spec §5);
// it is itself a presence.Listener so it can be wired directly onto the
// store.
type Cache struct {
	entries   map[cos.ObjectID]*Entry
	listeners []Listener
}

func New() *Cache {
	return &Cache{entries: make(map[cos.ObjectID]*Entry)}
}

func (c *Cache) AddListener(l Listener) { c.listeners = append(c.listeners, l) }

func (c *Cache) RemoveListener(l Listener) {
	for i, x := range c.listeners {
		if x == l {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return
		}
	}
}

func (c *Cache) Get(id cos.ObjectID) (*Entry, bool) {
	e, ok := c.entries[id]
	return e, ok
}

func (c *Cache) Len() int { return len(c.entries) }

// Range iterates all live entries. fn must not mutate the cache.
func (c *Cache) Range(fn func(*Entry)) {
	for _, e := range c.entries {
		fn(e)
	}
}

// --- presence.Listener implementation -------------------------------

func (c *Cache) ObjectAdded(id cos.ObjectID, rec *presence.Record, origin presence.Origin) {
	e := &Entry{
		ID:                 id,
		Location:           rec.Location,
		CenterOffset:       rec.Bounds.CenterOffset,
		CenterBoundsRadius: rec.Bounds.CenterBoundsRadius,
		MaxSize:            rec.Bounds.MaxObjectRadius,
		Mesh:               rec.Mesh,
		Zernike:            rec.Zernike,
		IsAggregate:        origin.Aggregate,
		IsLocal:            origin.Local,
	}
	c.entries[id] = e
	for _, l := range c.listeners {
		l.LocationConnected(e)
	}
}

func (c *Cache) ObjectRemoved(id cos.ObjectID, _permanent bool) {
	e, ok := c.entries[id]
	if !ok {
		return
	}
	if e.pins > 0 {
		// Destruction deferred: flag removable, reap on last unpin
		// (spec §3, §4.B).
		e.removable = true
		return
	}
	delete(c.entries, id)
	for _, l := range c.listeners {
		l.LocationDisconnected(id)
	}
}

func (c *Cache) LocationUpdated(id cos.ObjectID, _origin presence.Origin) {
	// The cache needs the new value, not merely the fact of a change.
	// Kept as a no-op hook to satisfy presence.Listener; real refresh
	// happens via Refresh below, which the service (core/locservice)
	// calls with the record after a write is accepted.
}
func (c *Cache) OrientationUpdated(cos.ObjectID, presence.Origin) {}
func (c *Cache) MeshUpdated(id cos.ObjectID, _origin presence.Origin)    {}
func (c *Cache) PhysicsUpdated(cos.ObjectID, presence.Origin)           {}
func (c *Cache) ParentUpdated(cos.ObjectID, presence.Origin)            {}
func (c *Cache) ZernikeUpdated(id cos.ObjectID, _origin presence.Origin) {}
func (c *Cache) BoundsUpdated(id cos.ObjectID, _origin presence.Origin) {}

// Refresh pushes a fresh snapshot of rec into the cache entry for id and
// fires the appropriate old/new delta notification(s). Called by the
// service (component F) right after presence.Store.Write accepts a
// location/bounds/mesh/zernike attribute, since the store notification
// alone carries no payload (spec §4.B "Old/new pairs are mandatory
// because the spatial index needs the delta").
func (c *Cache) Refresh(rec *presence.Record, accepted cos.AttrMask) {
	e, ok := c.entries[rec.ID]
	if !ok {
		return
	}
	c.refreshLocation(rec, e)
	c.refreshRegion(rec, e)
	c.refreshMaxSize(rec, e)
	e.Mesh = rec.Mesh
	e.Zernike = rec.Zernike
}

func (c *Cache) refreshLocation(rec *presence.Record, e *Entry) {
	old := e.Location
	if old == rec.Location {
		return
	}
	e.Location = rec.Location
	for _, l := range c.listeners {
		l.LocationPositionUpdated(old, rec.Location, e)
	}
}

func (c *Cache) refreshRegion(rec *presence.Record, e *Entry) {
	oldOffset, oldRadius := e.CenterOffset, e.CenterBoundsRadius
	if oldOffset == rec.Bounds.CenterOffset && oldRadius == rec.Bounds.CenterBoundsRadius {
		return
	}
	e.CenterOffset = rec.Bounds.CenterOffset
	e.CenterBoundsRadius = rec.Bounds.CenterBoundsRadius
	for _, l := range c.listeners {
		l.LocationRegionUpdated(oldOffset, oldRadius, e)
	}
}

func (c *Cache) refreshMaxSize(rec *presence.Record, e *Entry) {
	old := e.MaxSize
	if old == rec.Bounds.MaxObjectRadius {
		return
	}
	e.MaxSize = rec.Bounds.MaxObjectRadius
	for _, l := range c.listeners {
		l.LocationMaxSizeUpdated(old, rec.Bounds.MaxObjectRadius, e)
	}
}

// --- tracking --------------------------------------------------------

// StartTracking pins id and returns a cursor permitting O(1) repeated
// access even across a logical removal (spec §4.B, §8: "the record c
// references remains accessible until stopTracking(c)").
func (c *Cache) StartTracking(id cos.ObjectID) (Cursor, bool) {
	e, ok := c.entries[id]
	if !ok {
		return Cursor{}, false
	}
	e.pins++
	return Cursor{id: id}, true
}

// Deref returns the entry a cursor references. Valid even after a
// logical ObjectRemoved, until the matching StopTracking.
func (c *Cache) Deref(cur Cursor) (*Entry, bool) {
	e, ok := c.entries[cur.id]
	return e, ok
}

func (c *Cache) StopTracking(cur Cursor) {
	c.unpin(cur.id)
}

// Refcount tracking: same semantics via a bare id, for long-lived
// references that do not cache the cursor value (spec §4.B).
func (c *Cache) Ref(id cos.ObjectID) bool {
	e, ok := c.entries[id]
	if !ok {
		return false
	}
	e.pins++
	return true
}

func (c *Cache) Unref(id cos.ObjectID) { c.unpin(id) }

func (c *Cache) unpin(id cos.ObjectID) {
	e, ok := c.entries[id]
	debug.Assert(ok, "loccache: unpin of unknown id", id)
	if !ok {
		return
	}
	debug.Assert(e.pins > 0, "loccache: unpin with zero pins", id)
	e.pins--
	if e.pins == 0 && e.removable {
		delete(c.entries, id)
		for _, l := range c.listeners {
			l.LocationDisconnected(id)
		}
	}
}

// Tracking reports whether id currently has at least one outstanding
// pin (used by tests, spec scenario 4).
func (c *Cache) Tracking(id cos.ObjectID) bool {
	e, ok := c.entries[id]
	return ok && e.pins > 0
}
