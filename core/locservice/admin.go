package locservice

import (
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/singleflight"

	"github.com/openmetaverse/spaceloc/cmn/cos"
)

// PropertiesReply backs space.loc.properties (spec §6), extended with
// the active handler's diagnostic tag and rebuild-cycle id (SPEC_FULL
// §12 supplemented feature).
type PropertiesReply struct {
	Type           string `json:"type"`
	Count          int    `json:"count"`
	LocalCount     int    `json:"local_count"`
	ReplicaCount   int    `json:"replica_count"`
	AggregateCount int    `json:"aggregate_count"`
	RebuildCycleID string `json:"rebuild_cycle_id,omitempty"`
	MigratedTotal  int64  `json:"migrated_total"`
}

// ObjectReply backs space.loc.object (spec §6): every stored attribute
// of a named object, each paired with its seqno.
type ObjectReply struct {
	ID cos.ObjectID `json:"id"`

	HasLocation    bool    `json:"has_location"`
	LocationX      float64 `json:"location_x"`
	LocationY      float64 `json:"location_y"`
	LocationZ      float64 `json:"location_z"`
	LocationSeqno  uint64  `json:"location_seqno"`

	HasOrientation bool   `json:"has_orientation"`
	OrientationSeqno uint64 `json:"orientation_seqno"`

	HasBounds   bool   `json:"has_bounds"`
	BoundsSeqno uint64 `json:"bounds_seqno"`

	HasMesh   bool   `json:"has_mesh"`
	Mesh      string `json:"mesh,omitempty"`
	MeshSeqno uint64 `json:"mesh_seqno"`

	HasPhysics   bool   `json:"has_physics"`
	Physics      string `json:"physics,omitempty"`
	PhysicsSeqno uint64 `json:"physics_seqno"`

	Parent    cos.ObjectID `json:"parent"`
	ParentSeqno uint64     `json:"parent_seqno"`

	HasZernike   bool   `json:"has_zernike"`
	Zernike      string `json:"zernike,omitempty"`
	ZernikeSeqno uint64 `json:"zernike_seqno"`

	HasEpoch bool   `json:"has_epoch,omitempty"`
	Epoch    uint64 `json:"epoch,omitempty"`
}

var adminJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// lookupGroup collapses concurrent space.loc.object lookups for the
// same id into a single store access (SPEC_FULL §11: "singleflight
// collapses concurrent space.loc.object admin lookups for the same id").
var lookupGroup singleflight.Group

// Properties handles space.loc.properties. It runs on the caller's
// goroutine; it is not posted to the service's strand.
func (s *Service) Properties(handlerType string) ([]byte, error) {
	counts := s.Store.Counts()
	reply := PropertiesReply{
		Type:           handlerType,
		Count:          counts.Total,
		LocalCount:     counts.Local,
		ReplicaCount:   counts.Replica,
		AggregateCount: counts.Aggregate,
		RebuildCycleID: s.Prox.CycleID(),
		MigratedTotal:  s.Prox.MigratedTotal(),
	}
	return adminJSON.Marshal(reply)
}

// Object handles space.loc.object for a named object.
func (s *Service) Object(id cos.ObjectID) ([]byte, error) {
	v, err, _ := lookupGroup.Do(id.String(), func() (interface{}, error) {
		rec, ok := s.Store.Get(id)
		if !ok {
			return nil, errUnknownObjectAdmin(id)
		}
		reply := ObjectReply{
			ID: id,

			HasLocation:   rec.LocationSeq != 0,
			LocationX:     rec.Location.Position.X,
			LocationY:     rec.Location.Position.Y,
			LocationZ:     rec.Location.Position.Z,
			LocationSeqno: rec.LocationSeq,

			HasOrientation:   rec.OrientationSeq != 0,
			OrientationSeqno: rec.OrientationSeq,

			HasBounds:   rec.BoundsSeq != 0,
			BoundsSeqno: rec.BoundsSeq,

			HasMesh:   rec.Mesh != "",
			Mesh:      rec.Mesh,
			MeshSeqno: rec.MeshSeq,

			HasPhysics:   rec.Physics != "",
			Physics:      rec.Physics,
			PhysicsSeqno: rec.PhysicsSeq,

			Parent:      rec.Parent,
			ParentSeqno: rec.ParentSeq,

			HasZernike:   rec.Zernike != "",
			Zernike:      rec.Zernike,
			ZernikeSeqno: rec.ZernikeSeq,

			HasEpoch: rec.HasEpoch,
			Epoch:    rec.Epoch,
		}
		return adminJSON.Marshal(reply)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// PeersReply backs space.loc.peers (an addition beyond spec §6, built on
// the HRW scoring of SPEC_FULL §11's xxhash row):
// the known peer servers ranked by HRW score against an object id, the
// cross-server routing hint component H exists to serve (spec §4.H).
type PeersReply struct {
	Object cos.ObjectID   `json:"object"`
	Ranked []cos.ServerID `json:"ranked_servers"`
}

// Peers handles space.loc.peers: the server-to-server routing surface
// for id, ranked by the inter-server cache's HRW score.
func (s *Service) Peers(id cos.ObjectID) ([]byte, error) {
	reply := PeersReply{Object: id, Ranked: s.Pinto.RankServers(id)}
	return adminJSON.Marshal(reply)
}

type errUnknownObjectAdmin cos.ObjectID

func (e errUnknownObjectAdmin) Error() string {
	id := cos.ObjectID(e)
	return "space.loc.object: unknown object " + id.String()
}
