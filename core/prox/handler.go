// Package prox implements component C, the spatial query handlers: a
// brute-force scanner, three R-tree variants (angle, distance, cut), and
// a level-partitioned handler, unified behind one Handler interface
// (spec §4.C).
package prox

import (
	"github.com/openmetaverse/spaceloc/cmn/cos"
	"github.com/openmetaverse/spaceloc/core/geom"
	"github.com/openmetaverse/spaceloc/core/loccache"
)

// EventKind distinguishes the four result-stream event shapes spec
// §4.C names: add, remove, permanent-remove, node-enter/exit (the
// latter pair only emitted by rtreecutagg).
type EventKind uint8

const (
	EventAdd EventKind = iota
	EventRemove
	EventPermanentRemove
	EventNodeEnter
	EventNodeExit
)

// Event is one result-stream element for a single query.
type Event struct {
	Kind EventKind
	Obj  cos.ObjectID // for EventNode{Enter,Exit}: a synthetic id the handler assigns to the tree node
}

// Query is a solid-angle query: a moving observation point and an
// angular threshold theta (spec §4.C).
type Query struct {
	ID       uint64
	Position geom.Vector3
	Theta    float64

	// The cumulative membership for a query is kept by the handler, not
	// on Query; the rebuilder (component D) and tests read it through
	// Handler.Membership.
}

// Handler is the shared interface spec §4.C requires of every variant.
type Handler interface {
	Register(q *Query)
	Unregister(qid uint64)
	Tick(now float64)
	Results(qid uint64) []Event

	// SetPosition updates a registered query's current location,
	// re-evaluating membership on the next Tick.
	SetPosition(qid uint64, pos geom.Vector3)

	// Len reports how many queries are currently registered.
	Len() int

	// Queries returns the currently registered query ids.
	Queries() []uint64

	// Seed transfers a query into the handler together with its last
	// known membership set, so the rebuilder can hand off a query
	// without re-emitting spurious add/remove events (spec §4.D, open
	// question ii: "rebuild migration emits neither — cuts are
	// transferred whole").
	Seed(q *Query, membership []cos.ObjectID)

	// Membership returns the current member set for qid, used by Seed's
	// caller (the rebuild wrapper) to snapshot before migrating.
	Membership(qid uint64) []cos.ObjectID
}

// CacheView is the read surface Handler implementations consult; it is
// satisfied by *loccache.Cache directly.
type CacheView interface {
	Get(id cos.ObjectID) (*loccache.Entry, bool)
}
