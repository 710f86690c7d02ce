// Package rebuild implements component D, the Rebuilding Wrapper (spec
// §4.D): it wraps any prox.Handler and periodically constructs a fresh
// instance, migrating queries across in small batches so no single tick
// pays for a full rebuild. The batch-at-a-time state advance and the
// atomic progress counter are grounded on the teacher's xaction pattern
// (xact/xs/tcobjs.go: a worker that migrates work in bounded chunks,
// tracks progress in an atomic counter, and re-reads its config snapshot
// via cmn.GCO.Get() rather than caching it at construction). Here the
// batch size is re-read on every tick.
package rebuild

import (
	"github.com/teris-io/shortid"

	"github.com/openmetaverse/spaceloc/cmn"
	"github.com/openmetaverse/spaceloc/cmn/atomic"
	"github.com/openmetaverse/spaceloc/cmn/cos"
	"github.com/openmetaverse/spaceloc/cmn/debug"
	"github.com/openmetaverse/spaceloc/cmn/nlog"
	"github.com/openmetaverse/spaceloc/core/geom"
	"github.com/openmetaverse/spaceloc/core/loccache"
	"github.com/openmetaverse/spaceloc/core/prox"
)

type state uint8

const (
	stateSteady state = iota
	stateMigrating
)

// Factory builds a fresh handler over cache, used both for the initial
// primary and for every subsequent rebuild cycle.
type Factory func(cache *loccache.Cache) prox.Handler

// Wrapper is component D. It satisfies prox.Handler itself, so callers
// (component F) hold a Wrapper exactly as they would any other handler.
type Wrapper struct {
	cache   *loccache.Cache
	factory Factory

	primary prox.Handler
	rebuild prox.Handler
	shadow  map[uint64]*prox.Query // qid -> live Query value, for migration

	st        state
	toMigrate []uint64       // queries remaining to move this cycle
	migratedQ map[uint64]bool // qid -> already handed off to rebuild this cycle

	cycleID    string
	ticksSince int

	migrated atomic.Int64 // cumulative queries migrated, diagnostic only
}

// New constructs the wrapper with an initial primary handler built by
// factory.
func New(cache *loccache.Cache, factory Factory) *Wrapper {
	return &Wrapper{
		cache:     cache,
		factory:   factory,
		primary:   factory(cache),
		shadow:    make(map[uint64]*prox.Query),
		migratedQ: make(map[uint64]bool),
		st:        stateSteady,
	}
}

func (w *Wrapper) Register(q *prox.Query) {
	w.shadow[q.ID] = q
	w.primary.Register(q)
}

func (w *Wrapper) Unregister(qid uint64) {
	delete(w.shadow, qid)
	delete(w.migratedQ, qid)
	w.primary.Unregister(qid)
	if w.rebuild != nil {
		w.rebuild.Unregister(qid)
	}
}

func (w *Wrapper) SetPosition(qid uint64, pos geom.Vector3) {
	if q, ok := w.shadow[qid]; ok {
		q.Position = pos
	}
	w.primary.SetPosition(qid, pos)
	if w.rebuild != nil {
		w.rebuild.SetPosition(qid, pos)
	}
}

// Len and Queries count every registered query, including those already
// migrated to rebuild during a cycle.
func (w *Wrapper) Len() int { return len(w.shadow) }
func (w *Wrapper) Queries() []uint64 {
	ids := w.primary.Queries()
	for qid := range w.migratedQ {
		ids = append(ids, qid)
	}
	return ids
}

// Results routes to whichever handler currently owns qid. A query
// migrated mid-cycle has its result stream moved to rebuild by
// migrateOne; reading primary for it after that point would miss any
// real-world add/remove events rebuild.Tick generated for it before
// finishCycle promotes rebuild to primary.
func (w *Wrapper) Results(qid uint64) []prox.Event {
	if w.migratedQ[qid] {
		return w.rebuild.Results(qid)
	}
	return w.primary.Results(qid)
}

// Membership is Results' read-only counterpart and needs the same
// routing for the same reason.
func (w *Wrapper) Membership(qid uint64) []cos.ObjectID {
	if w.migratedQ[qid] {
		return w.rebuild.Membership(qid)
	}
	return w.primary.Membership(qid)
}

func (w *Wrapper) Seed(q *prox.Query, membership []cos.ObjectID) {
	w.shadow[q.ID] = q
	w.primary.Seed(q, membership)
}

// InCycle reports whether a rebuild cycle is currently migrating.
func (w *Wrapper) InCycle() bool { return w.st == stateMigrating }

// StartCycle transitions Steady -> Building -> Migrating: allocate a
// fresh rebuild handler and replay the current cache into it (spec
// §4.D steps 1-2). Every handler constructor already replays the cache
// on construction, so Building completes synchronously here and the
// wrapper moves straight to Migrating.
func (w *Wrapper) StartCycle() {
	if w.st != stateSteady {
		return // a cycle is already in flight
	}
	w.cycleID, _ = shortid.Generate()
	nlog.Infof("rebuild: starting cycle %s (%d queries on primary)", w.cycleID, w.primary.Len())
	w.rebuild = w.factory(w.cache)
	w.toMigrate = w.primary.Queries()
	w.ticksSince = 0
	w.st = stateMigrating
}

// batchSize reads the configured rebuild_batch_size fresh each tick so
// an operator's config update takes effect mid-cycle.
func (w *Wrapper) batchSize() int {
	n := int(cmn.GCO.Get().Proxy.RebuildBatchSize)
	if n <= 0 {
		n = 10
	}
	return n
}

// Tick drives the migration state machine (spec §4.D). Besides the
// rebuild bookkeeping it forwards the tick to whichever handler(s) are
// currently live, since queries still on primary (or already moved to
// rebuild) need their own per-tick re-evaluation.
func (w *Wrapper) Tick(now float64) {
	w.primary.Tick(now)
	if w.rebuild != nil {
		w.rebuild.Tick(now)
	}

	if w.st != stateMigrating {
		return
	}
	w.ticksSince++

	batch := w.batchSize()
	if batch > len(w.toMigrate) {
		batch = len(w.toMigrate)
	}
	for _, qid := range w.toMigrate[:batch] {
		w.migrateOne(qid)
	}
	w.toMigrate = w.toMigrate[batch:]
	w.migrated.Add(int64(batch))

	nlog.Infof("rebuild: cycle %s tick %d migrated %d, %d remaining",
		w.cycleID, w.ticksSince, batch, len(w.toMigrate))

	if len(w.toMigrate) == 0 {
		w.finishCycle()
	}
}

// migrateOne transfers one query's subscription and last known result
// set from primary to rebuild with no duplicate add/remove emitted
// across the swap (spec §4.D step 3, open question ii). It seeds the
// rebuild handler with primary's current membership for that query,
// then drops the query from primary without ever reading its pending
// events — reading them would surface a spurious remove for every
// member the next time primary.Tick ran.
func (w *Wrapper) migrateOne(qid uint64) {
	member := w.primary.Membership(qid)
	q, ok := w.shadow[qid]
	debug.Assert(ok, "rebuild: migrating unknown query", qid)
	w.rebuild.Seed(q, member)
	w.primary.Unregister(qid)
	w.migratedQ[qid] = true
}

func (w *Wrapper) finishCycle() {
	nlog.Infof("rebuild: cycle %s complete, promoting rebuild handler", w.cycleID)
	w.primary = w.rebuild
	w.rebuild = nil
	w.st = stateSteady
	for qid := range w.migratedQ {
		delete(w.migratedQ, qid)
	}
}

// MigratedTotal is a diagnostic counter surfaced by space.loc.properties.
func (w *Wrapper) MigratedTotal() int64 { return w.migrated.Load() }

// CycleID is the current (or most recent) rebuild cycle's short id,
// surfaced by space.loc.properties (SPEC_FULL §12 supplemented feature).
func (w *Wrapper) CycleID() string { return w.cycleID }
