package pinto_test

import (
	"testing"

	"github.com/openmetaverse/spaceloc/cmn/cos"
	"github.com/openmetaverse/spaceloc/core/geom"
	"github.com/openmetaverse/spaceloc/core/pinto"
)

type recordingListener struct {
	connected    []cos.ServerID
	disconnected []cos.ServerID
}

func (l *recordingListener) ServerConnected(e *pinto.ServerEntry) {
	l.connected = append(l.connected, e.ID)
}
func (l *recordingListener) ServerDisconnected(id cos.ServerID) {
	l.disconnected = append(l.disconnected, id)
}
func (l *recordingListener) ServerRegionUpdated(geom.BoundingSphere, *pinto.ServerEntry) {}

func TestServerConnectedNotifiesListeners(t *testing.T) {
	c := pinto.New()
	l := &recordingListener{}
	c.AddListener(l)

	c.ServerConnected(1, geom.BoundingSphere{Radius: 10}, 2, geom.TimedMotionVector3{})
	if len(l.connected) != 1 || l.connected[0] != 1 {
		t.Fatalf("expected ServerConnected notification for id 1, got %v", l.connected)
	}

	e, ok := c.Get(1)
	if !ok {
		t.Fatalf("expected server 1 to be present")
	}
	if e.MaxObjectSize != 2 {
		t.Fatalf("expected MaxObjectSize 2, got %v", e.MaxObjectSize)
	}
}

// TestRefUnrefReapsOnlyWhenRemovable exercises the tracked-removal
// lifecycle spec §4.H borrows from component A: a server with a live
// refcount must survive Unref, and only reaps once marked removable.
func TestRefUnrefReapsOnlyWhenRemovable(t *testing.T) {
	c := pinto.New()
	l := &recordingListener{}
	c.AddListener(l)

	c.ServerConnected(2, geom.BoundingSphere{}, 1, geom.TimedMotionVector3{})
	c.Ref(2)
	c.Unref(2)
	if _, ok := c.Get(2); !ok {
		t.Fatalf("expected server 2 to survive Unref without MarkRemovable")
	}

	c.Ref(2)
	c.MarkRemovable(2)
	c.Unref(2)
	if _, ok := c.Get(2); ok {
		t.Fatalf("expected server 2 to be reaped once removable and refcount hits zero")
	}
	if len(l.disconnected) != 1 || l.disconnected[0] != 2 {
		t.Fatalf("expected ServerDisconnected notification for id 2, got %v", l.disconnected)
	}
}

// TestRankServersIsDeterministicPermutation confirms RankServers returns
// every connected server exactly once, ordered by HRW score (spec §4.H).
func TestRankServersIsDeterministicPermutation(t *testing.T) {
	c := pinto.New()
	for id := cos.ServerID(1); id <= 5; id++ {
		c.ServerConnected(id, geom.BoundingSphere{}, 1, geom.TimedMotionVector3{})
	}

	key := cos.NewObjectID()
	first := c.RankServers(key)
	second := c.RankServers(key)

	if len(first) != 5 {
		t.Fatalf("expected all 5 servers ranked, got %d", len(first))
	}
	seen := make(map[cos.ServerID]bool)
	for _, id := range first {
		seen[id] = true
	}
	if len(seen) != 5 {
		t.Fatalf("expected 5 distinct servers in the ranking, got %d", len(seen))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("expected RankServers to be deterministic for a fixed key, got %v then %v", first, second)
		}
	}
}

func TestInsertRemoveAggregate(t *testing.T) {
	c := pinto.New()
	l := &recordingListener{}
	c.AddListener(l)

	c.InsertAggregate(9, geom.BoundingSphere{Radius: 1})
	if _, ok := c.Get(9); !ok {
		t.Fatalf("expected aggregate entry 9 to be present")
	}
	c.RemoveAggregate(9)
	if _, ok := c.Get(9); ok {
		t.Fatalf("expected aggregate entry 9 to be removed")
	}
	if len(l.disconnected) != 1 || l.disconnected[0] != 9 {
		t.Fatalf("expected ServerDisconnected notification for id 9, got %v", l.disconnected)
	}
}
