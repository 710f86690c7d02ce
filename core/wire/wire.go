// Package wire implements the per-object update record codec shared by
// session ingress (core/locservice) and outbound dispatch (transport):
// both sides of the *location* substream parse/emit the same
// MessagePack shape, so the codec lives below both rather than being
// owned by either (spec §6: "record format is delegated to the
// serialization collaborator").
package wire

import (
	"bytes"
	"errors"
	"io"

	"github.com/tinylib/msgp/msgp"

	"github.com/openmetaverse/spaceloc/cmn/cos"
	"github.com/openmetaverse/spaceloc/cmn/errs"
	"github.com/openmetaverse/spaceloc/core/geom"
	"github.com/openmetaverse/spaceloc/core/presence"
)

// Record is the per-object update record carried on the location
// substream (spec §6): required fields are object id, attribute mask,
// attribute values, per-attribute seqnos, and an optional request
// epoch. We hand-roll the codec against msgp's low-level Writer/Reader
// rather than relying on `msgp` code generation (no generator run is
// part of this build), matching the wire-format role SPEC_FULL.md §11
// assigns tinylib/msgp.
type Record struct {
	Object presence.Update
}

// EncodeRecord serializes upd as one MessagePack array:
// [objectID(16 bytes bin), mask(uint8), hasEpoch(bool), epoch(uint64),
//  location fields..., orientation fields..., bounds fields..., mesh,
//  meshSeq, physics, physicsSeq, parent(16 bytes), parentSeq, zernike,
//  zernikeSeq].
func EncodeRecord(upd *presence.Update) []byte {
	var buf bytes.Buffer
	w := msgp.NewWriter(&buf)

	w.WriteArrayHeader(19)
	w.WriteBytes(upd.Object[:])
	w.WriteUint8(uint8(upd.Mask))
	w.WriteBool(upd.HasEpoch)
	w.WriteUint64(upd.Epoch)

	w.WriteArrayHeader(3)
	w.WriteFloat64(upd.Location.Position.X)
	w.WriteFloat64(upd.Location.Position.Y)
	w.WriteFloat64(upd.Location.Position.Z)
	// velocity + update time folded into a second array to keep the
	// header count above stable regardless of future attribute growth
	w.WriteArrayHeader(4)
	w.WriteFloat64(upd.Location.Velocity.X)
	w.WriteFloat64(upd.Location.Velocity.Y)
	w.WriteFloat64(upd.Location.Velocity.Z)
	w.WriteFloat64(upd.Location.UpdateTime)
	w.WriteUint64(upd.LocationSeq)

	w.WriteArrayHeader(5)
	w.WriteFloat64(upd.Orientation.Orientation.W)
	w.WriteFloat64(upd.Orientation.Orientation.X)
	w.WriteFloat64(upd.Orientation.Orientation.Y)
	w.WriteFloat64(upd.Orientation.Orientation.Z)
	w.WriteFloat64(upd.Orientation.UpdateTime)
	w.WriteUint64(upd.OrientationSeq)

	w.WriteArrayHeader(5)
	w.WriteFloat64(upd.Bounds.CenterOffset.X)
	w.WriteFloat64(upd.Bounds.CenterOffset.Y)
	w.WriteFloat64(upd.Bounds.CenterOffset.Z)
	w.WriteFloat64(upd.Bounds.CenterBoundsRadius)
	w.WriteFloat64(upd.Bounds.MaxObjectRadius)
	w.WriteUint64(upd.BoundsSeq)

	w.WriteString(upd.Mesh)
	w.WriteUint64(upd.MeshSeq)
	w.WriteString(upd.Physics)
	w.WriteUint64(upd.PhysicsSeq)
	w.WriteBytes(upd.Parent[:])
	w.WriteUint64(upd.ParentSeq)
	w.WriteString(upd.Zernike)
	w.WriteUint64(upd.ZernikeSeq)

	if err := w.Flush(); err != nil {
		// Flush only fails if the underlying bytes.Buffer write fails,
		// which never happens.
		panic(err)
	}
	return buf.Bytes()
}

// DecodeRecord parses exactly one Record from the front of buf,
// returning the number of bytes consumed. It distinguishes
// ParseIncomplete (need more bytes — buf does not yet hold a full
// record) from ParseFailed (syntactically invalid) per spec §7.
func DecodeRecord(buf []byte) (upd presence.Update, consumed int, err error) {
	br := bytes.NewReader(buf)
	r := msgp.NewReader(br)

	if _, err = r.ReadArrayHeader(); err != nil {
		return upd, 0, classify(err)
	}
	var idBytes []byte
	if idBytes, err = r.ReadBytes(nil); err != nil {
		return upd, 0, classify(err)
	}
	if len(idBytes) != len(upd.Object) {
		return upd, 0, errs.NewParseFailed(errShortObjectID)
	}
	copy(upd.Object[:], idBytes)

	var mask uint8
	if mask, err = r.ReadUint8(); err != nil {
		return upd, 0, classify(err)
	}
	upd.Mask = cos.AttrMask(mask)

	if upd.HasEpoch, err = r.ReadBool(); err != nil {
		return upd, 0, classify(err)
	}
	if upd.Epoch, err = r.ReadUint64(); err != nil {
		return upd, 0, classify(err)
	}

	if _, err = r.ReadArrayHeader(); err != nil {
		return upd, 0, classify(err)
	}
	if upd.Location.Position.X, err = r.ReadFloat64(); err != nil {
		return upd, 0, classify(err)
	}
	if upd.Location.Position.Y, err = r.ReadFloat64(); err != nil {
		return upd, 0, classify(err)
	}
	if upd.Location.Position.Z, err = r.ReadFloat64(); err != nil {
		return upd, 0, classify(err)
	}
	if _, err = r.ReadArrayHeader(); err != nil {
		return upd, 0, classify(err)
	}
	if upd.Location.Velocity.X, err = r.ReadFloat64(); err != nil {
		return upd, 0, classify(err)
	}
	if upd.Location.Velocity.Y, err = r.ReadFloat64(); err != nil {
		return upd, 0, classify(err)
	}
	if upd.Location.Velocity.Z, err = r.ReadFloat64(); err != nil {
		return upd, 0, classify(err)
	}
	if upd.Location.UpdateTime, err = r.ReadFloat64(); err != nil {
		return upd, 0, classify(err)
	}
	if upd.LocationSeq, err = r.ReadUint64(); err != nil {
		return upd, 0, classify(err)
	}

	if _, err = r.ReadArrayHeader(); err != nil {
		return upd, 0, classify(err)
	}
	var q geom.Quaternion
	if q.W, err = r.ReadFloat64(); err != nil {
		return upd, 0, classify(err)
	}
	if q.X, err = r.ReadFloat64(); err != nil {
		return upd, 0, classify(err)
	}
	if q.Y, err = r.ReadFloat64(); err != nil {
		return upd, 0, classify(err)
	}
	if q.Z, err = r.ReadFloat64(); err != nil {
		return upd, 0, classify(err)
	}
	upd.Orientation.Orientation = q
	if upd.Orientation.UpdateTime, err = r.ReadFloat64(); err != nil {
		return upd, 0, classify(err)
	}
	if upd.OrientationSeq, err = r.ReadUint64(); err != nil {
		return upd, 0, classify(err)
	}

	if _, err = r.ReadArrayHeader(); err != nil {
		return upd, 0, classify(err)
	}
	if upd.Bounds.CenterOffset.X, err = r.ReadFloat64(); err != nil {
		return upd, 0, classify(err)
	}
	if upd.Bounds.CenterOffset.Y, err = r.ReadFloat64(); err != nil {
		return upd, 0, classify(err)
	}
	if upd.Bounds.CenterOffset.Z, err = r.ReadFloat64(); err != nil {
		return upd, 0, classify(err)
	}
	if upd.Bounds.CenterBoundsRadius, err = r.ReadFloat64(); err != nil {
		return upd, 0, classify(err)
	}
	if upd.Bounds.MaxObjectRadius, err = r.ReadFloat64(); err != nil {
		return upd, 0, classify(err)
	}
	if upd.BoundsSeq, err = r.ReadUint64(); err != nil {
		return upd, 0, classify(err)
	}

	if upd.Mesh, err = r.ReadString(); err != nil {
		return upd, 0, classify(err)
	}
	if upd.MeshSeq, err = r.ReadUint64(); err != nil {
		return upd, 0, classify(err)
	}
	if upd.Physics, err = r.ReadString(); err != nil {
		return upd, 0, classify(err)
	}
	if upd.PhysicsSeq, err = r.ReadUint64(); err != nil {
		return upd, 0, classify(err)
	}
	if idBytes, err = r.ReadBytes(nil); err != nil {
		return upd, 0, classify(err)
	}
	if len(idBytes) != len(upd.Parent) {
		return upd, 0, errs.NewParseFailed(errShortObjectID)
	}
	copy(upd.Parent[:], idBytes)
	if upd.ParentSeq, err = r.ReadUint64(); err != nil {
		return upd, 0, classify(err)
	}
	if upd.Zernike, err = r.ReadString(); err != nil {
		return upd, 0, classify(err)
	}
	if upd.ZernikeSeq, err = r.ReadUint64(); err != nil {
		return upd, 0, classify(err)
	}

	// msgp.Reader pulls ahead into its own internal buffer (r.R, a
	// *fwd.Reader), so the bytes actually consumed by this record are
	// whatever br reports unread minus whatever fwd.Reader is still
	// holding onto for the next record.
	consumed = len(buf) - br.Len() - r.R.Buffered()
	return upd, consumed, nil
}

// errShortObjectID is this package's own malformed-object-id sentinel —
// not borrowed from an unrelated stdlib error, so a wrapped
// errs.ParseFailed reports an accurate message.
var errShortObjectID = errors.New("wire: short object id")

func classify(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return errs.ErrParseIncomplete
	}
	return errs.NewParseFailed(err)
}
