package rebuild_test

import (
	"testing"

	"github.com/openmetaverse/spaceloc/cmn"
	"github.com/openmetaverse/spaceloc/cmn/cos"
	"github.com/openmetaverse/spaceloc/core/geom"
	"github.com/openmetaverse/spaceloc/core/loccache"
	"github.com/openmetaverse/spaceloc/core/presence"
	"github.com/openmetaverse/spaceloc/core/prox"
	"github.com/openmetaverse/spaceloc/core/rebuild"
)

// TestRebuildMigration is spec §8 scenario 3: 30 queries, batch size 10,
// three ticks to fully migrate, zero spurious add/remove events.
func TestRebuildMigration(t *testing.T) {
	clone := cmn.GCO.BeginUpdate()
	clone.Proxy.RebuildBatchSize = 10
	cmn.GCO.CommitUpdate(clone)

	cache := loccache.New()
	id := cos.NewObjectID()
	cache.ObjectAdded(id, &presence.Record{
		ID:       id,
		Local:    true,
		Location: geom.TimedMotionVector3{Position: geom.Vector3{}},
		Bounds:   geom.AggregateBoundingInfo{CenterBoundsRadius: 1},
	}, presence.Origin{Local: true})

	w := rebuild.New(cache, func(c *loccache.Cache) prox.Handler {
		return prox.NewBrute(c)
	})

	for i := 0; i < 30; i++ {
		w.Register(&prox.Query{ID: uint64(i + 1), Position: geom.Vector3{}, Theta: 0.01})
	}
	w.Tick(0) // settle initial membership before the rebuild cycle starts
	for i := uint64(1); i <= 30; i++ {
		w.Results(i) // drain initial-settle events so the migration diff below is clean
	}

	w.StartCycle()
	if !w.InCycle() {
		t.Fatalf("expected a rebuild cycle to be in flight after StartCycle")
	}

	migratedAfter := []int64{10, 20, 30}
	for _, want := range migratedAfter {
		w.Tick(0)
		for i := uint64(1); i <= 30; i++ {
			if ev := w.Results(i); len(ev) != 0 {
				t.Fatalf("migration must emit zero spurious add/remove events, got %v for query %d", ev, i)
			}
		}
		if got := w.MigratedTotal(); got != want {
			t.Fatalf("expected %d queries migrated, got %d", want, got)
		}
	}
	if w.InCycle() {
		t.Fatalf("expected the cycle to have completed after 3 ticks of a 30-query migration at batch 10")
	}
	if w.Len() != 30 {
		t.Fatalf("expected all 30 queries still registered post-migration, got %d", w.Len())
	}
}
