package locupdate

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/openmetaverse/spaceloc/cmn/cos"
	"github.com/openmetaverse/spaceloc/cmn/nlog"
	"github.com/openmetaverse/spaceloc/core/presence"
)

// SeqPtr is the shared sequence-number pointer a subscription's
// producers write through, so a subscriber observes per-index
// monotonic delivery even when multiple producers (store + proximity
// index) feed the same subscription (spec §3 "Subscription record").
type SeqPtr struct{ Value uint64 }

// Key identifies one subscription: (namespace, subscriber, object,
// optional proximity-index id) per spec §4.E.
type Key struct {
	Namespace cos.SubscriberNamespace
	Subscriber uint64
	Object     cos.ObjectID
	IndexID    cos.ProxIndexID // 0 when not proximity-scoped
}

type subscription struct {
	key     Key
	seq     *SeqPtr
	pending cos.AttrMask
}

// Transport is the outbound dispatch surface for one of the three
// namespaces (spec §4.E step 3: "server-router, object-host
// dispatcher, or local object bus"). Post must not block (spec §5
// suspension points) and returns false if it could not be enqueued —
// the policy then restores the pending mask for retry (spec §7
// TransportDown).
type Transport interface {
	Post(sub Key, msg *Message) bool
}

// Message is one coalesced outbound update: every attribute whose bit
// was pending at flush time, each carrying its adapter-derived value and
// current seqno (spec §4.E step 2).
type Message struct {
	Object cos.ObjectID
	Attrs  cos.AttrMask
	Data   WithEpochAdapter
	// IsAdd marks the synthetic add sent to a subscriber on first
	// delivery (spec §8 "Subscribe before add... synthetic add
	// containing all present attributes").
	IsAdd bool
	// Seq is this subscription's post-increment delivery sequence
	// number (spec §3/§4.E: "a shared sequence-number pointer so the
	// subscriber observes per-index monotonic delivery"), stamped from
	// the subscription's SeqPtr at flush time and carried all the way
	// to the wire by the transport layer.
	Seq uint64
}

// Policy is component E: the subscription registry and flush/coalesce
// engine.
type Policy struct {
	store *presence.Store

	subs    map[Key]*subscription
	orphans map[cos.ObjectID][]Key // subscriptions awaiting an object that hasn't appeared yet

	transports map[cos.SubscriberNamespace]Transport
}

func NewPolicy(store *presence.Store) *Policy {
	p := &Policy{
		store:      store,
		subs:       make(map[Key]*subscription),
		orphans:    make(map[cos.ObjectID][]Key),
		transports: make(map[cos.SubscriberNamespace]Transport),
	}
	store.AddListener(p)
	return p
}

func (p *Policy) SetTransport(ns cos.SubscriberNamespace, t Transport) {
	p.transports[ns] = t
}

// Subscribe registers interest in object for the given key. Subscribing
// before the object has appeared is permitted (spec §4.E "orphan
// subscriptions"); it is drained once the record arrives. Subscribing to
// an already-present object marks it pending so the next flush delivers
// a synthetic add with every attribute currently set (spec §8 scenario 5).
func (p *Policy) Subscribe(key Key, seq *SeqPtr) {
	if _, exists := p.subs[key]; exists {
		return
	}
	sub := &subscription{key: key, seq: seq}
	p.subs[key] = sub

	if _, ok := p.store.Get(key.Object); !ok {
		p.orphans[key.Object] = append(p.orphans[key.Object], key)
		return
	}
	sub.pending = cos.AttrAll
}

// Unsubscribe drops a single (subscriber, object) subscription. No
// further messages are sent for it, even mid-flush (spec §8: "no
// further messages to that subscriber after unsubscribe returns").
func (p *Policy) Unsubscribe(key Key) {
	delete(p.subs, key)
}

// UnsubscribeAll drops every subscription for a subscriber — used on
// session close (spec §4.E).
func (p *Policy) UnsubscribeAll(ns cos.SubscriberNamespace, subscriber uint64) {
	for k := range p.subs {
		if k.Namespace == ns && k.Subscriber == subscriber {
			delete(p.subs, k)
		}
	}
}

// --- presence.Listener -------------------------------------------------

func (p *Policy) WantAggregates() bool { return true } // the policy must see every record to drain orphans

func (p *Policy) ObjectAdded(id cos.ObjectID, _rec *presence.Record, _origin presence.Origin) {
	pending, ok := p.orphans[id]
	if !ok {
		return
	}
	delete(p.orphans, id)
	for _, key := range pending {
		if sub, exists := p.subs[key]; exists {
			sub.pending = cos.AttrAll
		}
	}
}

func (p *Policy) ObjectRemoved(id cos.ObjectID, permanent bool) {
	for key, sub := range p.subs {
		if key.Object != id {
			continue
		}
		// Remove is final (spec §5 ordering guarantees): we do not mark
		// a removed-attribute pending flush; the remove message is posted
		// right here, bypassing the coalesce mask and the flush loop.
		p.flushRemove(sub, permanent)
		delete(p.subs, key)
	}
}

func (p *Policy) LocationUpdated(id cos.ObjectID, _ presence.Origin)    { p.mark(id, cos.AttrLocation) }
func (p *Policy) OrientationUpdated(id cos.ObjectID, _ presence.Origin) { p.mark(id, cos.AttrOrientation) }
func (p *Policy) BoundsUpdated(id cos.ObjectID, _ presence.Origin)      { p.mark(id, cos.AttrBounds) }
func (p *Policy) MeshUpdated(id cos.ObjectID, _ presence.Origin)        { p.mark(id, cos.AttrMesh) }
func (p *Policy) PhysicsUpdated(id cos.ObjectID, _ presence.Origin)     { p.mark(id, cos.AttrPhysics) }
func (p *Policy) ParentUpdated(id cos.ObjectID, _ presence.Origin)      { p.mark(id, cos.AttrParent) }
func (p *Policy) ZernikeUpdated(id cos.ObjectID, _ presence.Origin)     { p.mark(id, cos.AttrZernike) }

func (p *Policy) mark(id cos.ObjectID, attr cos.AttrMask) {
	for key, sub := range p.subs {
		if key.Object == id {
			sub.pending = sub.pending.Set(attr)
		}
	}
}

// MarkProxAdd/MarkProxRemove let the proximity dispatch (component F's
// glue between the query handler's Results() and this policy) drive
// synthetic add/remove for index-scoped subscriptions exactly the way a
// direct store subscription would.
func (p *Policy) MarkProxAdd(key Key) {
	if sub, ok := p.subs[key]; ok {
		sub.pending = cos.AttrAll
	}
}

func (p *Policy) MarkProxRemove(key Key) {
	if sub, ok := p.subs[key]; ok {
		p.flushRemove(sub, false)
		delete(p.subs, key)
	}
}

// --- flush ---------------------------------------------------------

// Flush is the coalesce-interval tick (spec §4.E): gather pending
// subscribers, build one message per subscriber with only the set
// attributes, post it to the correct transport, and clear the mask on
// success. Each pending subscription is dispatched on its own errgroup
// goroutine, whatever its transport, and Flush joins them all before
// returning (SPEC_FULL §11's errgroup row).
func (p *Policy) Flush(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)
	for key, sub := range p.subs {
		if sub.pending == 0 {
			continue
		}
		key, sub := key, sub
		g.Go(func() error {
			p.flushOne(key, sub)
			return nil
		})
	}
	return g.Wait()
}

func (p *Policy) flushOne(key Key, sub *subscription) {
	rec, ok := p.store.Get(key.Object)
	if !ok {
		return // removed between mark and flush; ObjectRemoved already handled delivery
	}
	t := p.transports[key.Namespace]
	if t == nil {
		nlog.Warningf("locupdate: no transport registered for namespace %s", key.Namespace)
		return
	}
	next := sub.seq.Value + 1
	msg := &Message{Object: key.Object, Attrs: sub.pending, Data: NewWithEpochAdapter(rec), Seq: next}
	if !t.Post(key, msg) {
		// TransportDown: neither the mask nor the sequence number
		// advanced, so the next flush retries automatically (spec §7).
		nlog.Warningf("locupdate: transport down posting %s to %s", key.Object, key.Namespace)
		return
	}
	sub.seq.Value = next
	sub.pending = 0
}

func (p *Policy) flushRemove(sub *subscription, permanent bool) {
	t := p.transports[sub.key.Namespace]
	if t == nil {
		return
	}
	sub.seq.Value++
	kind := cos.AttrMask(0)
	msg := &Message{Object: sub.key.Object, Attrs: kind, IsAdd: false, Seq: sub.seq.Value}
	_ = permanent // distinct permanent-remove is a prox.EventKind concern, not a wire distinction here
	t.Post(sub.key, msg)
}
