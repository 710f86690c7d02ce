package locupdate_test

import (
	"context"
	"testing"

	"github.com/openmetaverse/spaceloc/cmn/cos"
	"github.com/openmetaverse/spaceloc/core/geom"
	"github.com/openmetaverse/spaceloc/core/locupdate"
	"github.com/openmetaverse/spaceloc/core/presence"
)

type capturingTransport struct {
	posts []*locupdate.Message
	up    bool
}

func (t *capturingTransport) Post(_ locupdate.Key, msg *locupdate.Message) bool {
	if !t.up {
		return false
	}
	t.posts = append(t.posts, msg)
	return true
}

// TestOrphanSubscribeSyntheticAdd is spec §8 scenario 5: a subscription
// registered before the object exists is drained once the object is
// admitted, delivering a synthetic add with every attribute present.
func TestOrphanSubscribeSyntheticAdd(t *testing.T) {
	store := presence.NewStore()
	policy := locupdate.NewPolicy(store)
	tr := &capturingTransport{up: true}
	policy.SetTransport(cos.NamespaceLocalObject, tr)

	id := cos.NewObjectID()
	key := locupdate.Key{Namespace: cos.NamespaceLocalObject, Subscriber: 1, Object: id}
	policy.Subscribe(key, &locupdate.SeqPtr{})

	store.LocalObjectAdded(&presence.Record{
		ID:       id,
		Local:    true,
		Location: geom.TimedMotionVector3{Position: geom.Vector3{X: 1}},
	})

	if err := policy.Flush(context.Background()); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if len(tr.posts) != 1 {
		t.Fatalf("expected one synthetic-add delivery after the orphaned object appeared, got %d", len(tr.posts))
	}
	if tr.posts[0].Attrs != cos.AttrAll {
		t.Fatalf("synthetic add must carry every present attribute, got mask %v", tr.posts[0].Attrs)
	}
	if tr.posts[0].Seq == 0 {
		t.Fatalf("expected a non-zero delivery sequence number on the posted message")
	}
}

// TestSubscribeAfterAddAlsoSynthesizesAdd covers the non-orphan path of
// the same scenario: subscribing to an already-present object marks it
// pending so the first flush still delivers a full synthetic add.
func TestSubscribeAfterAddAlsoSynthesizesAdd(t *testing.T) {
	store := presence.NewStore()
	policy := locupdate.NewPolicy(store)
	tr := &capturingTransport{up: true}
	policy.SetTransport(cos.NamespaceLocalObject, tr)

	id := cos.NewObjectID()
	store.LocalObjectAdded(&presence.Record{ID: id, Local: true})

	key := locupdate.Key{Namespace: cos.NamespaceLocalObject, Subscriber: 1, Object: id}
	policy.Subscribe(key, &locupdate.SeqPtr{})

	if err := policy.Flush(context.Background()); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if len(tr.posts) != 1 {
		t.Fatalf("expected one synthetic-add delivery, got %d", len(tr.posts))
	}
}

// TestUnsubscribeStopsDelivery: spec §8 "no further messages to that
// subscriber after unsubscribe returns".
func TestUnsubscribeStopsDelivery(t *testing.T) {
	store := presence.NewStore()
	policy := locupdate.NewPolicy(store)
	tr := &capturingTransport{up: true}
	policy.SetTransport(cos.NamespaceLocalObject, tr)

	id := cos.NewObjectID()
	store.LocalObjectAdded(&presence.Record{ID: id, Local: true})
	key := locupdate.Key{Namespace: cos.NamespaceLocalObject, Subscriber: 1, Object: id}
	policy.Subscribe(key, &locupdate.SeqPtr{})
	policy.Unsubscribe(key)

	store.Write(&presence.Update{Object: id, Mask: cos.AttrLocation, LocationSeq: 1}, presence.Origin{Local: true})
	if err := policy.Flush(context.Background()); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if len(tr.posts) != 0 {
		t.Fatalf("unsubscribed subscriber must receive nothing, got %d posts", len(tr.posts))
	}
}

// TestSeqIncrementsAcrossFlushes: the subscription's SeqPtr (spec §3's
// "shared sequence-number pointer") must advance by one per delivered
// message, and the delivered Message.Seq must match it exactly so a
// real transport/subscriber can observe per-index monotonic delivery.
func TestSeqIncrementsAcrossFlushes(t *testing.T) {
	store := presence.NewStore()
	policy := locupdate.NewPolicy(store)
	tr := &capturingTransport{up: true}
	policy.SetTransport(cos.NamespaceLocalObject, tr)

	id := cos.NewObjectID()
	store.LocalObjectAdded(&presence.Record{ID: id, Local: true})
	key := locupdate.Key{Namespace: cos.NamespaceLocalObject, Subscriber: 1, Object: id}
	seq := &locupdate.SeqPtr{}
	policy.Subscribe(key, seq)

	if err := policy.Flush(context.Background()); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if len(tr.posts) != 1 || tr.posts[0].Seq != 1 {
		t.Fatalf("expected the first delivery to carry Seq 1, got %+v", tr.posts)
	}
	if seq.Value != 1 {
		t.Fatalf("expected the subscription's SeqPtr to read 1 after one delivery, got %d", seq.Value)
	}

	store.Write(&presence.Update{Object: id, Mask: cos.AttrLocation, LocationSeq: 1}, presence.Origin{Local: true})
	if err := policy.Flush(context.Background()); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if len(tr.posts) != 2 || tr.posts[1].Seq != 2 {
		t.Fatalf("expected the second delivery to carry Seq 2, got %+v", tr.posts)
	}
}

// TestTransportDownRetriesNextFlush: spec §7 TransportDown — the pending
// mask must survive a failed Post so the next Flush retries.
func TestTransportDownRetriesNextFlush(t *testing.T) {
	store := presence.NewStore()
	policy := locupdate.NewPolicy(store)
	tr := &capturingTransport{up: false}
	policy.SetTransport(cos.NamespaceLocalObject, tr)

	id := cos.NewObjectID()
	store.LocalObjectAdded(&presence.Record{ID: id, Local: true})
	key := locupdate.Key{Namespace: cos.NamespaceLocalObject, Subscriber: 1, Object: id}
	policy.Subscribe(key, &locupdate.SeqPtr{})

	policy.Flush(context.Background())
	if len(tr.posts) != 0 {
		t.Fatalf("transport is down, nothing should have been delivered")
	}

	tr.up = true
	policy.Flush(context.Background())
	if len(tr.posts) != 1 {
		t.Fatalf("expected the retried flush to deliver once the transport recovered, got %d", len(tr.posts))
	}
}
