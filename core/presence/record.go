// Package presence implements component A, the Sequenced Presence
// Store: per-object attribute values each carrying an independent
// monotonic sequence number (spec §3, §4.A).
package presence

import (
	"github.com/openmetaverse/spaceloc/cmn/cos"
	"github.com/openmetaverse/spaceloc/core/geom"
)

// Record is one presence: identified by a 128-bit object id, holding the
// seven independently-sequenced attributes plus the local/replica and
// aggregate/removable flags from spec §3.
type Record struct {
	ID cos.ObjectID

	Local     bool // authoritative here vs. authoritative elsewhere (replica)
	Aggregate bool // visible only to listeners that opt into aggregates

	// Tracked and Removable are flags only: the store never sets Tracked
	// (Store.Remove asserts it is false) and sets Removable through
	// MarkRemovable without reaping the record. Deferred removal of
	// pinned entries with a refcount is done by core/loccache.
	Tracked   bool
	Removable bool

	Location    geom.TimedMotionVector3
	LocationSeq uint64

	Orientation    geom.TimedMotionQuaternion
	OrientationSeq uint64

	Bounds    geom.AggregateBoundingInfo
	BoundsSeq uint64

	Mesh    string
	MeshSeq uint64

	Physics    string
	PhysicsSeq uint64

	Parent    cos.ObjectID // NilObjectID means "not a child of an aggregate"
	ParentSeq uint64

	Zernike    string
	ZernikeSeq uint64

	HasEpoch bool
	Epoch    uint64
}

func (r *Record) HasParent() bool { return !r.Parent.IsNil() }

// SeqNo returns the current sequence number for a single attribute bit
// of mask (spec §3: each attribute carries its own monotonic seqno), or
// 0 when attr is not exactly one attribute bit.
func (r *Record) SeqNo(attr cos.AttrMask) uint64 {
	switch attr {
	case cos.AttrLocation:
		return r.LocationSeq
	case cos.AttrOrientation:
		return r.OrientationSeq
	case cos.AttrBounds:
		return r.BoundsSeq
	case cos.AttrMesh:
		return r.MeshSeq
	case cos.AttrPhysics:
		return r.PhysicsSeq
	case cos.AttrParent:
		return r.ParentSeq
	case cos.AttrZernike:
		return r.ZernikeSeq
	default:
		return 0
	}
}

// Clone returns a value copy suitable for handing to a read-only
// adapter (core/locupdate) without risking the caller observing a
// torn/partial write from a concurrent strand post.
func (r *Record) Clone() Record { return *r }

// Update is the payload for the store's multi-attribute writer
// (spec §4.A): object, attribute mask, the new values, their proposed
// seqnos, and an optional request epoch.
type Update struct {
	Object cos.ObjectID
	Mask   cos.AttrMask

	Location    geom.TimedMotionVector3
	LocationSeq uint64

	Orientation    geom.TimedMotionQuaternion
	OrientationSeq uint64

	Bounds    geom.AggregateBoundingInfo
	BoundsSeq uint64

	Mesh    string
	MeshSeq uint64

	Physics    string
	PhysicsSeq uint64

	Parent    cos.ObjectID
	ParentSeq uint64

	Zernike    string
	ZernikeSeq uint64

	HasEpoch bool
	Epoch    uint64
}
