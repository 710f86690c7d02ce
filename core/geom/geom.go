// Package geom implements the timed-motion primitives and the
// solid-angle predicate that every spatial query handler variant in
// core/prox evaluates against (spec §3, §4.C).
package geom

import "math"

type Vector3 struct{ X, Y, Z float64 }

func (v Vector3) Add(o Vector3) Vector3 { return Vector3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vector3) Scale(s float64) Vector3 { return Vector3{v.X * s, v.Y * s, v.Z * s} }
func (v Vector3) Sub(o Vector3) Vector3 { return Vector3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

func (v Vector3) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

func Distance(a, b Vector3) float64 { return a.Sub(b).Length() }

// Quaternion is an orientation; we only need storage + linear interp
// semantics, never simulate rotation dynamics (out of scope per spec
// Non-goals: physics simulation).
type Quaternion struct{ W, X, Y, Z float64 }

// TimedMotionVector3 is a linear motion extrapolated from a reference
// time: position(t) = Position + Velocity*(t - UpdateTime).
type TimedMotionVector3 struct {
	Position   Vector3
	Velocity   Vector3
	UpdateTime float64 // seconds, monotonic clock domain chosen by the caller
}

func (m TimedMotionVector3) Extrapolate(now float64) Vector3 {
	dt := now - m.UpdateTime
	return m.Position.Add(m.Velocity.Scale(dt))
}

// TimedMotionQuaternion is the orientation analogue; we store it and
// hand it back unchanged (no angular velocity extrapolation is
// specified for the proximity predicate, only position/bounds are).
type TimedMotionQuaternion struct {
	Orientation Quaternion
	UpdateTime  float64
}

// AggregateBoundingInfo is the §3 "bounds" attribute: a center offset
// plus a center-bounds radius plus the max child radius, enough to
// conservatively bound an aggregate subtree.
type AggregateBoundingInfo struct {
	CenterOffset       Vector3
	CenterBoundsRadius float64
	MaxObjectRadius    float64
}

// Radius is the effective bounding radius used by the solid-angle
// predicate: the center-bounds radius plus the largest child an
// aggregate could contain.
func (b AggregateBoundingInfo) Radius() float64 {
	return b.CenterBoundsRadius + b.MaxObjectRadius
}

// BoundingSphere is used by component H, which tracks coarse per-server
// regions rather than full aggregate bounding info.
type BoundingSphere struct {
	Center Vector3
	Radius float64
}

// SolidAngleGE reports whether an object of the given radius, located at
// objPos, subtends a solid angle >= theta as seen from queryPos — the
// core predicate shared by every query handler variant (spec §4.C):
//
//	radius(obj) / distance(center(obj), position(q)) >= sin(theta/2)
//
// Edge cases (spec §4.C): a zero-radius object never matches unless
// theta is zero; an object at distance zero matches unconditionally.
func SolidAngleGE(radius float64, objPos, queryPos Vector3, theta float64) bool {
	dist := Distance(objPos, queryPos)
	if dist == 0 {
		return true
	}
	if radius == 0 {
		return theta == 0
	}
	return radius/dist >= math.Sin(theta/2)
}

// MaxPossibleSolidAngleSin upper-bounds the solid angle any point within a
// bounding sphere of the given radius could subtend as seen from
// queryPos, conservatively assuming the nearest possible approach to the
// sphere's surface. Used by the R-tree angle handler to prune descent:
// a node is pruned when this bound is still below theta's sine.
func MaxPossibleSolidAngleSin(sphere BoundingSphere, maxChildRadius float64, queryPos Vector3) float64 {
	dist := Distance(sphere.Center, queryPos)
	// Closest approach of the query to any point that could be occupied
	// by a descendant: dist - sphere.Radius (clamped to avoid a
	// division blow-up/negative distance when the query is inside the
	// node's bounding sphere, in which case the bound is maximal).
	closest := dist - sphere.Radius
	effRadius := sphere.Radius + maxChildRadius
	if closest <= 0 {
		return 1.0 // inside the node: cannot prune, treat as maximal
	}
	return effRadius / closest
}
