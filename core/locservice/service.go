package locservice

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/openmetaverse/spaceloc/cmn"
	"github.com/openmetaverse/spaceloc/cmn/cos"
	"github.com/openmetaverse/spaceloc/cmn/errs"
	"github.com/openmetaverse/spaceloc/cmn/nlog"
	"github.com/openmetaverse/spaceloc/cmn/strand"
	"github.com/openmetaverse/spaceloc/core/geom"
	"github.com/openmetaverse/spaceloc/core/loccache"
	"github.com/openmetaverse/spaceloc/core/locupdate"
	"github.com/openmetaverse/spaceloc/core/pinto"
	"github.com/openmetaverse/spaceloc/core/presence"
	"github.com/openmetaverse/spaceloc/core/prox"
	"github.com/openmetaverse/spaceloc/core/rebuild"
	"github.com/openmetaverse/spaceloc/core/wire"
	"github.com/openmetaverse/spaceloc/transport"
)

// Service is component F, the top-level facade: owns A-E, admits
// session-level update streams, and routes outbound messages (spec
// §4.F). It flattens the prototype's LocationService -> PollingService
// -> Service inheritance chain into one concrete type exposing a
// capability surface directly (spec §9).
type Service struct {
	strand *strand.Strand

	Store  *presence.Store
	Cache  *loccache.Cache
	Policy *locupdate.Policy
	Prox   *rebuild.Wrapper
	Pinto  *pinto.Cache

	// peerRouter/ohRouter/localBus are the three locupdate.Transport
	// implementations Policy dispatches through (spec §4.E step 3:
	// "server-router, object-host dispatcher, or local object bus"),
	// wired at construction so Subscribe/Flush have somewhere real to
	// deliver to rather than an unregistered no-op namespace.
	peerRouter *transport.Router
	ohRouter   *transport.Router
	localBus   *transport.LocalBus

	sessions map[uint64]*sessionBuffer

	pollTicker *time.Ticker
	pollStop   chan struct{}
	started    bool
}

func New(handlerType string) *Service {
	store := presence.NewStore()
	cache := loccache.New()
	store.AddListener(cache)

	policy := locupdate.NewPolicy(store)

	cfg := cmn.GCO.Get()
	factory := func(c *loccache.Cache) prox.Handler {
		return prox.New(c, prox.FactoryOptions{
			Type:      handlerType,
			Branching: int(cfg.Proxy.Branching),
		})
	}
	px := rebuild.New(cache, factory)

	peerRouter := transport.NewRouter(cos.NamespacePeerServer)
	ohRouter := transport.NewRouter(cos.NamespaceObjectHost)
	localBus := transport.NewLocalBus(256)
	policy.SetTransport(cos.NamespacePeerServer, peerRouter)
	policy.SetTransport(cos.NamespaceObjectHost, ohRouter)
	policy.SetTransport(cos.NamespaceLocalObject, localBus)

	return &Service{
		Store:      store,
		Cache:      cache,
		Policy:     policy,
		Prox:       px,
		Pinto:      pinto.New(),
		peerRouter: peerRouter,
		ohRouter:   ohRouter,
		localBus:   localBus,
		sessions:   make(map[uint64]*sessionBuffer),
	}
}

// --- object lifecycle (spec §3, §4.F) -----------------------------------
//
// These are the facade's own mutation entrypoints, so the session-level
// surface spec §4.F describes does not require a caller to reach into
// Service.Store directly.

func (s *Service) AddLocalObject(rec *presence.Record)          { s.Store.LocalObjectAdded(rec) }
func (s *Service) AddReplicaObject(rec *presence.Record)        { s.Store.ReplicaObjectAdded(rec) }
func (s *Service) AddAggregateObject(rec *presence.Record)      { s.Store.AddAggregate(rec) }
func (s *Service) RemoveObject(id cos.ObjectID, permanent bool) { s.Store.Remove(id, permanent) }
func (s *Service) MarkObjectRemovable(id cos.ObjectID)          { s.Store.MarkRemovable(id) }

// --- subscriptions (spec §4.E) ------------------------------------------

func (s *Service) Subscribe(key locupdate.Key, seq *locupdate.SeqPtr) { s.Policy.Subscribe(key, seq) }
func (s *Service) Unsubscribe(key locupdate.Key)                     { s.Policy.Unsubscribe(key) }
func (s *Service) UnsubscribeAll(ns cos.SubscriberNamespace, subscriber uint64) {
	s.Policy.UnsubscribeAll(ns, subscriber)
}

// RegisterPeerSink attaches a concrete outbound connection for a peer
// server subscriber id, so subsequent peer-namespace Subscribe/Flush
// traffic has somewhere to actually deliver.
func (s *Service) RegisterPeerSink(serverID uint64, sink transport.Sink) {
	s.peerRouter.Sinks[serverID] = sink
}

// RegisterObjectHostSink is the object-host-namespace analogue of
// RegisterPeerSink.
func (s *Service) RegisterObjectHostSink(hostID uint64, sink transport.Sink) {
	s.ohRouter.Sinks[hostID] = sink
}

// DrainLocalDeliveries pops everything queued for local-object
// subscribers since the last call — the consumer side of localBus for a
// same-process object runtime.
func (s *Service) DrainLocalDeliveries() []transport.Delivery { return s.localBus.Drain() }

// --- component H: server-to-server routing (spec §4.H) -----------------

// AddPeerServer admits a concrete peer server into the Pinto cache, the
// facade's one entrypoint for server-to-server topology (spec §4.H).
func (s *Service) AddPeerServer(id cos.ServerID, region geom.BoundingSphere, maxSize float64, centroid geom.TimedMotionVector3) {
	s.Pinto.ServerConnected(id, region, maxSize, centroid)
}

// sessionBuffer accumulates bytes arriving on a session's *location*
// substream until a full wire.Record can be parsed (spec §4.F, §6).
type sessionBuffer struct {
	source uint64
	buf    []byte
}

// LocationUpdate is the ingress hook (spec §4.F): concatenate incoming
// bytes until the parser consumes a full update. Returns true when the
// substream should be closed (a record was fully consumed), false to
// keep buffering (spec §6: "successful consumption implicitly closes
// the substream from the server side").
func (s *Service) LocationUpdate(source uint64, data []byte) bool {
	sb, ok := s.sessions[source]
	if !ok {
		sb = &sessionBuffer{source: source}
		s.sessions[source] = sb
	}
	sb.buf = append(sb.buf, data...)

	for len(sb.buf) > 0 {
		upd, consumed, err := wire.DecodeRecord(sb.buf)
		switch {
		case err == errs.ErrParseIncomplete:
			return false // wait for more bytes
		case errs.IsParseFailed(err):
			nlog.Warningf("locservice: parse failed for session %d: %v", source, err)
			sb.buf = nil
			return true // spec §7: substream closed, session survives
		case err != nil:
			nlog.Warningf("locservice: unexpected decode error: %v", err)
			sb.buf = nil
			return true
		}

		sb.buf = sb.buf[consumed:]
		s.apply(&upd, source)
	}
	return true
}

func (s *Service) apply(upd *presence.Update, source uint64) {
	delay := cmn.GCO.Get().Loc.DelayApplyUpdate
	if delay <= 0 {
		s.applyNow(upd, source)
		return
	}
	// Environment toggle: an optional apply-delay, re-posted to the
	// main scheduler for deterministic tests (spec §6).
	s.strand.PostDelay(delay, func() { s.applyNow(upd, source) })
}

func (s *Service) applyNow(upd *presence.Update, _source uint64) {
	origin := presence.Origin{Local: true}
	if rec, ok := s.Store.Get(upd.Object); ok {
		origin = presence.Origin{Local: rec.Local, Aggregate: rec.Aggregate}
	}
	accepted, err := s.Store.Write(upd, origin)
	if err != nil {
		if errs.IsStaleUpdate(err) || errs.IsUnknownObject(err) {
			return // spec §7: both dropped silently from the caller's perspective
		}
		nlog.Warningf("locservice: apply failed: %v", err)
		return
	}
	if rec, ok := s.Store.Get(upd.Object); ok {
		s.Cache.Refresh(rec, accepted)
	}
}

// VerifySessionToken optionally gates a new object session's request
// for the location substream behind a bearer token (SPEC_FULL §11: "a
// thin gate, not a full auth subsystem"), off by default.
func (s *Service) VerifySessionToken(tokenString string, keyFunc jwt.Keyfunc) error {
	if !cmn.GCO.Get().Loc.RequireSessionToken {
		return nil
	}
	_, err := jwt.Parse(tokenString, keyFunc)
	return err
}

// --- poll / lifecycle --------------------------------------------------

// Start begins the periodic poll (spec §4.F: every 10ms by default).
// Idempotent.
func (s *Service) Start(strnd *strand.Strand) {
	if s.started {
		return
	}
	s.strand = strnd
	s.started = true
	interval := cmn.GCO.Get().Poll.Interval
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	s.pollTicker = time.NewTicker(interval)
	s.pollStop = make(chan struct{})
	go s.pollLoop()
}

func (s *Service) pollLoop() {
	for {
		select {
		case <-s.pollTicker.C:
			s.strand.Post(s.Poll)
		case <-s.pollStop:
			return
		}
	}
}

// Poll runs the policy's flush plus proximity dispatch and rebuild tick
// (spec §4.F). Always runs on the strand.
func (s *Service) Poll() {
	now := float64(time.Now().UnixNano()) / 1e9
	s.Prox.Tick(now)
	s.dispatchProxResults()
	if err := s.Policy.Flush(context.Background()); err != nil {
		nlog.Warningf("locservice: flush error: %v", err)
	}
}

// dispatchProxResults drains each registered query's pending prox
// events and feeds them into the policy as synthetic add/remove marks
// for that query's index-scoped subscriptions (spec §4.E <-> §4.C
// integration point).
func (s *Service) dispatchProxResults() {
	for _, qid := range s.Prox.Queries() {
		for _, ev := range s.Prox.Results(qid) {
			key := locupdate.Key{
				Namespace: cos.NamespacePeerServer,
				Subscriber: qid,
				Object:    ev.Obj,
				IndexID:   cos.ProxIndexID(qid),
			}
			switch ev.Kind {
			case prox.EventAdd, prox.EventNodeEnter:
				s.Policy.MarkProxAdd(key)
			case prox.EventRemove, prox.EventPermanentRemove, prox.EventNodeExit:
				s.Policy.MarkProxRemove(key)
			}
		}
	}
}

// MaybeStartRebuild triggers a rebuild cycle when rebuilding is enabled
// and none is currently in flight; called from the poll loop on whatever
// cadence the caller wires to Proxy.RebuildPeriod.
func (s *Service) MaybeStartRebuild() {
	if !cmn.GCO.Get().Proxy.Rebuilding {
		return
	}
	if !s.Prox.InCycle() {
		s.Prox.StartCycle()
	}
}

// Stop halts the poll ticker, so no further Poll (and therefore no
// further policy flush) is scheduled, then stops the strand, which runs
// any posts already queued (including a queued Poll) before exiting.
// Subscriptions, pending masks and the query handlers are left in place;
// Stop does not clear or release them. Idempotent.
func (s *Service) Stop() {
	if !s.started {
		return
	}
	s.started = false
	close(s.pollStop)
	s.pollTicker.Stop()
	if s.strand != nil {
		s.strand.Stop()
	}
}
