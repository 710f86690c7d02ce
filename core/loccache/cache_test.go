package loccache_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/openmetaverse/spaceloc/cmn/cos"
	"github.com/openmetaverse/spaceloc/core/geom"
	"github.com/openmetaverse/spaceloc/core/loccache"
	"github.com/openmetaverse/spaceloc/core/presence"
)

func rec(id cos.ObjectID) *presence.Record {
	return &presence.Record{
		ID:       id,
		Local:    true,
		Location: geom.TimedMotionVector3{Position: geom.Vector3{X: 1, Y: 2, Z: 3}},
		Bounds:   geom.AggregateBoundingInfo{CenterBoundsRadius: 1, MaxObjectRadius: 2},
	}
}

var _ = Describe("Cache", func() {
	var (
		cache *loccache.Cache
		id    cos.ObjectID
	)

	BeforeEach(func() {
		cache = loccache.New()
		id = cos.NewObjectID()
	})

	Describe("connect/disconnect", func() {
		It("should add an entry on ObjectAdded", func() {
			cache.ObjectAdded(id, rec(id), presence.Origin{Local: true})
			e, ok := cache.Get(id)
			Expect(ok).To(BeTrue())
			Expect(e.Radius()).To(BeEquivalentTo(3))
		})

		It("should remove an untracked entry on ObjectRemoved", func() {
			cache.ObjectAdded(id, rec(id), presence.Origin{Local: true})
			cache.ObjectRemoved(id, false)
			_, ok := cache.Get(id)
			Expect(ok).To(BeFalse())
		})
	})

	Describe("tracking", func() {
		It("keeps a tracked entry readable after logical removal until the last unpin", func() {
			cache.ObjectAdded(id, rec(id), presence.Origin{Local: true})

			cur, ok := cache.StartTracking(id)
			Expect(ok).To(BeTrue())

			cache.ObjectRemoved(id, false)
			// still readable: destruction deferred while pinned
			e, ok := cache.Deref(cur)
			Expect(ok).To(BeTrue())
			Expect(e.ID).To(Equal(id))
			Expect(cache.Tracking(id)).To(BeTrue())

			cache.StopTracking(cur)
			Expect(cache.Tracking(id)).To(BeFalse())
			_, ok = cache.Deref(cur)
			Expect(ok).To(BeFalse())
		})

		It("supports refcount tracking by bare id", func() {
			cache.ObjectAdded(id, rec(id), presence.Origin{Local: true})
			Expect(cache.Ref(id)).To(BeTrue())
			cache.ObjectRemoved(id, false)
			Expect(cache.Tracking(id)).To(BeTrue())
			cache.Unref(id)
			_, ok := cache.Get(id)
			Expect(ok).To(BeFalse())
		})
	})

	Describe("Refresh deltas", func() {
		It("fires LocationPositionUpdated with old and new values", func() {
			r := rec(id)
			cache.ObjectAdded(id, r, presence.Origin{Local: true})

			var gotOld, gotNew geom.TimedMotionVector3
			lst := &captureListener{
				onPos: func(old, new geom.TimedMotionVector3, _ *loccache.Entry) {
					gotOld, gotNew = old, new
				},
			}
			cache.AddListener(lst)

			r.Location.Position = geom.Vector3{X: 9, Y: 9, Z: 9}
			cache.Refresh(r, cos.AttrLocation)

			Expect(gotOld.Position).To(Equal(geom.Vector3{X: 1, Y: 2, Z: 3}))
			Expect(gotNew.Position).To(Equal(geom.Vector3{X: 9, Y: 9, Z: 9}))
		})
	})
})

type captureListener struct {
	onPos func(old, new geom.TimedMotionVector3, e *loccache.Entry)
}

func (c *captureListener) LocationConnected(*loccache.Entry)  {}
func (c *captureListener) LocationDisconnected(cos.ObjectID)  {}
func (c *captureListener) LocationPositionUpdated(old, new geom.TimedMotionVector3, e *loccache.Entry) {
	if c.onPos != nil {
		c.onPos(old, new, e)
	}
}
func (c *captureListener) LocationRegionUpdated(geom.Vector3, float64, *loccache.Entry) {}
func (c *captureListener) LocationMaxSizeUpdated(float64, float64, *loccache.Entry)     {}
