// Package pinto implements component H, the inter-server cache: the
// same shape as core/loccache but keyed by peer server id, tracking
// coarse per-server regions for top-level routing (spec §4.H). Unlike
// every other component, it is accessed from both the main strand and
// the pinto service's own worker goroutines, so — per the documented
// exception in spec §5 — it holds a single mutex covering the server
// map and listener set.
package pinto

import (
	"sort"
	"sync"

	"github.com/OneOfOne/xxhash"

	"github.com/openmetaverse/spaceloc/cmn/cos"
	"github.com/openmetaverse/spaceloc/cmn/debug"
	"github.com/openmetaverse/spaceloc/core/geom"
)

// ServerEntry is the inter-server space record (spec §3).
type ServerEntry struct {
	ID             cos.ServerID
	Centroid       geom.TimedMotionVector3
	Region         geom.BoundingSphere
	MaxObjectSize  float64
	IsAggregate    bool

	refcount  int
	removable bool
}

// Listener mirrors core/loccache.Listener's shape, scoped to servers.
// Per spec §5, listeners are invoked while the cache's mutex is held —
// they must not call back into the cache.
type Listener interface {
	ServerConnected(e *ServerEntry)
	ServerDisconnected(id cos.ServerID)
	ServerRegionUpdated(old geom.BoundingSphere, e *ServerEntry)
}

// Cache is component H.
type Cache struct {
	mtx       sync.Mutex
	servers   map[cos.ServerID]*ServerEntry
	listeners []Listener
}

func New() *Cache {
	return &Cache{servers: make(map[cos.ServerID]*ServerEntry)}
}

func (c *Cache) AddListener(l Listener) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.listeners = append(c.listeners, l)
}

// ServerConnected admits a concrete (non-aggregate) server entry; it
// auto-cleans when its refcount reaches zero and Removable is set
// (spec §4.H).
func (c *Cache) ServerConnected(id cos.ServerID, region geom.BoundingSphere, maxSize float64, centroid geom.TimedMotionVector3) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	e := &ServerEntry{ID: id, Centroid: centroid, Region: region, MaxObjectSize: maxSize}
	c.servers[id] = e
	for _, l := range c.listeners {
		l.ServerConnected(e)
	}
}

// InsertAggregate admits an aggregate server-level entry explicitly,
// inserted by the query processor; it is non-removable until a matching
// RemoveAggregate (spec §4.H).
func (c *Cache) InsertAggregate(id cos.ServerID, region geom.BoundingSphere) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	e := &ServerEntry{ID: id, Region: region, IsAggregate: true}
	c.servers[id] = e
	for _, l := range c.listeners {
		l.ServerConnected(e)
	}
}

func (c *Cache) RemoveAggregate(id cos.ServerID) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	e, ok := c.servers[id]
	if !ok {
		return
	}
	debug.Assert(e.IsAggregate, "pinto: RemoveAggregate on non-aggregate entry", id)
	debug.Assert(e.refcount == 0, "pinto: RemoveAggregate with non-zero tracking", id)
	delete(c.servers, id)
	for _, l := range c.listeners {
		l.ServerDisconnected(id)
	}
}

func (c *Cache) Ref(id cos.ServerID) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if e, ok := c.servers[id]; ok {
		e.refcount++
	}
}

func (c *Cache) Unref(id cos.ServerID) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	e, ok := c.servers[id]
	if !ok {
		return
	}
	e.refcount--
	if e.refcount == 0 && e.removable && !e.IsAggregate {
		delete(c.servers, id)
		for _, l := range c.listeners {
			l.ServerDisconnected(id)
		}
	}
}

func (c *Cache) MarkRemovable(id cos.ServerID) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if e, ok := c.servers[id]; ok {
		e.removable = true
	}
}

func (c *Cache) Get(id cos.ServerID) (ServerEntry, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	e, ok := c.servers[id]
	if !ok {
		return ServerEntry{}, false
	}
	return *e, true
}

func (c *Cache) UpdateRegion(id cos.ServerID, region geom.BoundingSphere) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	e, ok := c.servers[id]
	if !ok {
		return
	}
	old := e.Region
	e.Region = region
	for _, l := range c.listeners {
		l.ServerRegionUpdated(old, e)
	}
}

// RankServers returns the known concrete server ids ordered by an HRW
// (rendezvous) score against key — the highest-scoring server is the
// preferred routing target for an object hashing to key. Aggregate
// entries are not ranked. Used by space.loc.peers (Service.Peers)
// (SPEC_FULL §11: "fast hashing of object ids for HRW-style candidate-
// server scoring").
func (c *Cache) RankServers(key cos.ObjectID) []cos.ServerID {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	type scored struct {
		id    cos.ServerID
		score uint64
	}
	scores := make([]scored, 0, len(c.servers))
	for id, e := range c.servers {
		if e.IsAggregate {
			continue
		}
		h := xxhash.New64()
		h.Write(key[:])
		h.Write(serverIDBytes(id))
		scores = append(scores, scored{id: id, score: h.Sum64()})
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	out := make([]cos.ServerID, len(scores))
	for i, s := range scores {
		out[i] = s.id
	}
	return out
}

func serverIDBytes(id cos.ServerID) []byte {
	return []byte{byte(id), byte(id >> 8), byte(id >> 16), byte(id >> 24)}
}
