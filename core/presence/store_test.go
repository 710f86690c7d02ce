package presence_test

import (
	"testing"

	"github.com/openmetaverse/spaceloc/cmn/cos"
	"github.com/openmetaverse/spaceloc/core/geom"
	"github.com/openmetaverse/spaceloc/core/presence"
)

type recordingListener struct {
	added   []cos.ObjectID
	updated []cos.AttrMask
	wantAgg bool
}

func (l *recordingListener) WantAggregates() bool { return l.wantAgg }
func (l *recordingListener) ObjectAdded(id cos.ObjectID, _ *presence.Record, _ presence.Origin) {
	l.added = append(l.added, id)
}
func (l *recordingListener) ObjectRemoved(cos.ObjectID, bool) {}
func (l *recordingListener) LocationUpdated(cos.ObjectID, presence.Origin) {
	l.updated = append(l.updated, cos.AttrLocation)
}
func (l *recordingListener) OrientationUpdated(cos.ObjectID, presence.Origin) {
	l.updated = append(l.updated, cos.AttrOrientation)
}
func (l *recordingListener) BoundsUpdated(cos.ObjectID, presence.Origin)  {}
func (l *recordingListener) MeshUpdated(cos.ObjectID, presence.Origin)    {}
func (l *recordingListener) PhysicsUpdated(cos.ObjectID, presence.Origin) {}
func (l *recordingListener) ParentUpdated(cos.ObjectID, presence.Origin)  {}
func (l *recordingListener) ZernikeUpdated(cos.ObjectID, presence.Origin) {}

func TestStaleUpdateDropped(t *testing.T) {
	s := presence.NewStore()
	id := cos.NewObjectID()
	s.LocalObjectAdded(&presence.Record{ID: id, Local: true})

	accepted, err := s.Write(&presence.Update{
		Object: id, Mask: cos.AttrLocation,
		Location: geom.TimedMotionVector3{Position: geom.Vector3{X: 1}}, LocationSeq: 5,
	}, presence.Origin{Local: true})
	if err != nil || accepted != cos.AttrLocation {
		t.Fatalf("seqno 5 write should be accepted, got accepted=%v err=%v", accepted, err)
	}

	accepted, err = s.Write(&presence.Update{
		Object: id, Mask: cos.AttrLocation,
		Location: geom.TimedMotionVector3{Position: geom.Vector3{X: 99}}, LocationSeq: 3,
	}, presence.Origin{Local: true})
	if accepted != 0 {
		t.Fatalf("seqno 3 after seqno 5 must be rejected, got accepted=%v", accepted)
	}
	if err == nil {
		t.Fatalf("expected a stale-update error")
	}

	rec, _ := s.Get(id)
	if rec.Location.Position.X != 1 {
		t.Fatalf("read-back must reflect seqno 5's value, got %v", rec.Location.Position.X)
	}
}

func TestEqualSeqnoFirstWins(t *testing.T) {
	s := presence.NewStore()
	id := cos.NewObjectID()
	s.LocalObjectAdded(&presence.Record{ID: id, Local: true})

	s.Write(&presence.Update{
		Object: id, Mask: cos.AttrLocation,
		Location: geom.TimedMotionVector3{Position: geom.Vector3{X: 1}}, LocationSeq: 7,
	}, presence.Origin{Local: true})
	accepted, _ := s.Write(&presence.Update{
		Object: id, Mask: cos.AttrLocation,
		Location: geom.TimedMotionVector3{Position: geom.Vector3{X: 2}}, LocationSeq: 7,
	}, presence.Origin{Local: true})
	if accepted != 0 {
		t.Fatalf("equal seqno must be dropped, not accepted")
	}
	rec, _ := s.Get(id)
	if rec.Location.Position.X != 1 {
		t.Fatalf("first write at seqno 7 must win, got %v", rec.Location.Position.X)
	}
}

func TestUnknownObjectWrite(t *testing.T) {
	s := presence.NewStore()
	_, err := s.Write(&presence.Update{Object: cos.NewObjectID(), Mask: cos.AttrLocation, LocationSeq: 1}, presence.Origin{})
	if err == nil {
		t.Fatalf("expected unknown-object error for a write to an unadmitted id")
	}
}

func TestPerAttributeNotification(t *testing.T) {
	s := presence.NewStore()
	l := &recordingListener{wantAgg: true}
	s.AddListener(l)

	id := cos.NewObjectID()
	s.LocalObjectAdded(&presence.Record{ID: id, Local: true})
	if len(l.added) != 1 || l.added[0] != id {
		t.Fatalf("expected one ObjectAdded call, got %v", l.added)
	}

	s.Write(&presence.Update{
		Object: id, Mask: cos.AttrLocation | cos.AttrOrientation,
		LocationSeq: 1, OrientationSeq: 1,
	}, presence.Origin{Local: true})

	if len(l.updated) != 2 {
		t.Fatalf("expected one notification per accepted attribute, got %d", len(l.updated))
	}
}

func TestAggregateFilter(t *testing.T) {
	s := presence.NewStore()
	excluding := &recordingListener{wantAgg: false}
	including := &recordingListener{wantAgg: true}
	s.AddListener(excluding)
	s.AddListener(including)

	agg := &presence.Record{ID: cos.NewObjectID(), Local: true, Aggregate: true}
	s.AddAggregate(agg)

	if len(excluding.added) != 0 {
		t.Fatalf("listener with want_aggregates=false must not see the aggregate add")
	}
	if len(including.added) != 1 {
		t.Fatalf("listener with want_aggregates=true must see the aggregate add")
	}
}

func TestMightExist(t *testing.T) {
	s := presence.NewStore()
	id := cos.NewObjectID()
	if s.MightExist(id) {
		t.Fatalf("unadmitted id should not (spuriously) be reported as possibly existing in an empty filter")
	}
	s.LocalObjectAdded(&presence.Record{ID: id, Local: true})
	if !s.MightExist(id) {
		t.Fatalf("admitted id must be reported as possibly existing")
	}
}
