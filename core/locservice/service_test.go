package locservice_test

import (
	"context"
	"testing"

	"github.com/openmetaverse/spaceloc/cmn/cos"
	"github.com/openmetaverse/spaceloc/core/geom"
	"github.com/openmetaverse/spaceloc/core/locservice"
	"github.com/openmetaverse/spaceloc/core/locupdate"
	"github.com/openmetaverse/spaceloc/core/presence"
)

func newRecord(id cos.ObjectID) *presence.Record {
	return &presence.Record{
		ID:          id,
		Local:       true,
		Location:    geom.TimedMotionVector3{Position: geom.Vector3{X: 1, Y: 2, Z: 3}},
		LocationSeq: 1,
		Bounds:      geom.AggregateBoundingInfo{CenterBoundsRadius: 1},
		BoundsSeq:   1,
	}
}

// TestLifecycleMethodsMutateThroughFacade covers review feedback that
// Service needs its own mutation surface rather than callers reaching
// into Service.Store directly (spec §4.F).
func TestLifecycleMethodsMutateThroughFacade(t *testing.T) {
	svc := locservice.New("brute")
	id := cos.NewObjectID()
	svc.AddLocalObject(newRecord(id))

	if _, ok := svc.Store.Get(id); !ok {
		t.Fatalf("expected AddLocalObject to admit the record into Store")
	}

	svc.MarkObjectRemovable(id)
	rec, _ := svc.Store.Get(id)
	if !rec.Removable {
		t.Fatalf("expected MarkObjectRemovable to set Record.Removable")
	}
}

// TestSubscribeDeliversViaLocalBus is the end-to-end path review comment
// #1/#2 asked for: Subscribe a local-object subscriber, flush, and
// observe the synthetic add delivered through the wired LocalBus
// transport with a non-zero monotonic Seq (review comment #5).
func TestSubscribeDeliversViaLocalBus(t *testing.T) {
	svc := locservice.New("brute")
	id := cos.NewObjectID()
	svc.AddLocalObject(newRecord(id))

	key := locupdate.Key{Namespace: cos.NamespaceLocalObject, Subscriber: 42, Object: id}
	seq := &locupdate.SeqPtr{}
	svc.Subscribe(key, seq)

	if err := svc.Policy.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	deliveries := svc.DrainLocalDeliveries()
	if len(deliveries) != 1 {
		t.Fatalf("expected exactly one delivery for the synthetic add, got %d", len(deliveries))
	}
	d := deliveries[0]
	if d.Key != key {
		t.Fatalf("delivery key mismatch: got %+v, want %+v", d.Key, key)
	}
	if d.Msg.Seq == 0 {
		t.Fatalf("expected a non-zero delivery sequence number")
	}
	if seq.Value != d.Msg.Seq {
		t.Fatalf("subscription SeqPtr (%d) must match the delivered Seq (%d)", seq.Value, d.Msg.Seq)
	}

	// A second flush with nothing pending must not re-deliver.
	if err := svc.Policy.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := svc.DrainLocalDeliveries(); len(got) != 0 {
		t.Fatalf("expected no further deliveries once the pending mask is clear, got %d", len(got))
	}
}

// TestUnsubscribeStopsFacadeDelivery mirrors locupdate's own
// TestUnsubscribeStopsDelivery at the Service level, confirming the
// facade's Unsubscribe actually reaches the policy.
func TestUnsubscribeStopsFacadeDelivery(t *testing.T) {
	svc := locservice.New("brute")
	id := cos.NewObjectID()
	svc.AddLocalObject(newRecord(id))

	key := locupdate.Key{Namespace: cos.NamespaceLocalObject, Subscriber: 7, Object: id}
	svc.Subscribe(key, &locupdate.SeqPtr{})
	svc.Unsubscribe(key)

	if err := svc.Policy.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := svc.DrainLocalDeliveries(); len(got) != 0 {
		t.Fatalf("expected no delivery after Unsubscribe, got %d", len(got))
	}
}

// TestPeersAndPropertiesAdmin exercises the admin surface end to end,
// including the Pinto-backed space.loc.peers lookup (review comment #3).
func TestPeersAndPropertiesAdmin(t *testing.T) {
	svc := locservice.New("brute")
	id := cos.NewObjectID()
	svc.AddLocalObject(newRecord(id))
	svc.AddPeerServer(cos.ServerID(1), geom.BoundingSphere{Radius: 10}, 5, geom.TimedMotionVector3{})

	if _, err := svc.Properties("brute"); err != nil {
		t.Fatalf("Properties: %v", err)
	}
	out, err := svc.Peers(id)
	if err != nil {
		t.Fatalf("Peers: %v", err)
	}
	if len(out) == 0 {
		t.Fatalf("expected a non-empty peers reply")
	}

	objOut, err := svc.Object(id)
	if err != nil {
		t.Fatalf("Object: %v", err)
	}
	if len(objOut) == 0 {
		t.Fatalf("expected a non-empty object reply")
	}
}
