// Package locupdate implements components E and G: the subscription
// registry / flush policy (spec §4.E) and the read-only adapter that
// projects a presence.Record into the canonical delivery shape
// subscribers receive (spec §4.G).
package locupdate

import (
	"github.com/openmetaverse/spaceloc/cmn/cos"
	"github.com/openmetaverse/spaceloc/core/geom"
	"github.com/openmetaverse/spaceloc/core/presence"
)

// Adapter is the plain (no-epoch) flavour of component G: per-attribute
// has_X()/X()/X_seqno() accessors over a record. It must not outlive
// the record it references (spec §4.G) — callers build one per flush,
// scoped to the strand tick that produced it.
type Adapter struct {
	rec *presence.Record
}

func NewAdapter(rec *presence.Record) Adapter { return Adapter{rec: rec} }

func (a Adapter) Object() cos.ObjectID { return a.rec.ID }

func (a Adapter) HasLocation() bool                 { return a.rec.LocationSeq != 0 }
func (a Adapter) Location() geom.TimedMotionVector3 { return a.rec.Location }
func (a Adapter) LocationSeqno() uint64             { return a.rec.LocationSeq }

func (a Adapter) HasOrientation() bool                    { return a.rec.OrientationSeq != 0 }
func (a Adapter) Orientation() geom.TimedMotionQuaternion { return a.rec.Orientation }
func (a Adapter) OrientationSeqno() uint64                { return a.rec.OrientationSeq }

func (a Adapter) HasBounds() bool                    { return a.rec.BoundsSeq != 0 }
func (a Adapter) Bounds() geom.AggregateBoundingInfo { return a.rec.Bounds }
func (a Adapter) BoundsSeqno() uint64                { return a.rec.BoundsSeq }

func (a Adapter) HasMesh() bool      { return a.rec.Mesh != "" }
func (a Adapter) Mesh() string       { return a.rec.Mesh }
func (a Adapter) MeshSeqno() uint64  { return a.rec.MeshSeq }

func (a Adapter) HasPhysics() bool     { return a.rec.Physics != "" }
func (a Adapter) Physics() string      { return a.rec.Physics }
func (a Adapter) PhysicsSeqno() uint64 { return a.rec.PhysicsSeq }

func (a Adapter) HasParent() bool      { return a.rec.HasParent() }
func (a Adapter) Parent() cos.ObjectID { return a.rec.Parent }
func (a Adapter) ParentSeqno() uint64  { return a.rec.ParentSeq }

func (a Adapter) HasZernike() bool     { return a.rec.Zernike != "" }
func (a Adapter) Zernike() string      { return a.rec.Zernike }
func (a Adapter) ZernikeSeqno() uint64 { return a.rec.ZernikeSeq }

// WithEpochAdapter is the flavour used on paths where an external
// producer (a client command handler) must stamp an epoch to correlate
// with the resulting update (spec §4.G: "with-epoch adapter").
type WithEpochAdapter struct {
	Adapter
}

func NewWithEpochAdapter(rec *presence.Record) WithEpochAdapter {
	return WithEpochAdapter{Adapter: NewAdapter(rec)}
}

func (a WithEpochAdapter) HasEpoch() bool { return a.rec.HasEpoch }
func (a WithEpochAdapter) Epoch() uint64  { return a.rec.Epoch }
