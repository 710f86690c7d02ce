// Package transport provides the three outbound dispatch surfaces
// named in spec §5/§6: server-to-server (peer router), object-host-to-
// server (OH dispatcher), and object-to-server (local object bus). Core
// components only depend on the locupdate.Transport interface; this
// package supplies concrete, non-blocking implementations plus the
// optional compression step for large coalesced flush batches, switched
// by the Transport.CompressThreshold config value (SPEC_FULL §11).
package transport

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4/v3"

	"github.com/openmetaverse/spaceloc/cmn"
	"github.com/openmetaverse/spaceloc/cmn/cos"
	"github.com/openmetaverse/spaceloc/cmn/nlog"
	"github.com/openmetaverse/spaceloc/core/locupdate"
	"github.com/openmetaverse/spaceloc/core/presence"
	"github.com/openmetaverse/spaceloc/core/wire"
)

// Sink is the minimal non-blocking enqueue surface an underlying
// datagram/stream connection offers (spec §1: out of scope, described
// only by the contract this package consumes). A nil Sink models a link
// that is currently down, producing the queued-or-failed indication
// spec §5 requires ("returns immediately with a queued-or-failed
// indication and never blocks the strand").
type Sink interface {
	// TryEnqueue attempts a non-blocking send; false means back-pressure
	// or the link being down (spec §7 TransportDown).
	TryEnqueue(payload []byte) bool
}

// Router dispatches within one namespace (peer server or object host) by
// looking up a Sink per subscriber id; the local-object namespace uses
// LocalBus instead. It implements locupdate.Transport.
type Router struct {
	Namespace cos.SubscriberNamespace
	Sinks     map[uint64]Sink
}

func NewRouter(ns cos.SubscriberNamespace) *Router {
	return &Router{Namespace: ns, Sinks: make(map[uint64]Sink)}
}

func (r *Router) Post(sub locupdate.Key, msg *locupdate.Message) bool {
	sink, ok := r.Sinks[sub.Subscriber]
	if !ok || sink == nil {
		return false
	}
	payload := encode(msg)
	return sink.TryEnqueue(payload)
}

// encode serializes msg for the wire: an 8-byte big-endian delivery
// sequence number (spec §3/§4.E's shared SeqPtr, read here off
// msg.Seq so the peer can detect gaps/reordering), then a one-byte
// compression tag (0 = raw, 1 = lz4), then the record payload —
// compressed when its size is at or above the configured threshold
// (a threshold of 0 or less disables compression).
func encode(msg *locupdate.Message) []byte {
	raw := encodeMessage(msg)

	var seqPrefix [8]byte
	binary.BigEndian.PutUint64(seqPrefix[:], msg.Seq)

	threshold := cmn.GCO.Get().Transport.CompressThreshold
	if threshold <= 0 || len(raw) < threshold {
		return append(append(seqPrefix[:], 0), raw...)
	}

	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		nlog.Warningf("transport: lz4 compression failed, sending raw: %v", err)
		return append(append(seqPrefix[:], 0), raw...)
	}
	if err := w.Close(); err != nil {
		nlog.Warningf("transport: lz4 flush failed, sending raw: %v", err)
		return append(append(seqPrefix[:], 0), raw...)
	}
	return append(append(seqPrefix[:], 1), buf.Bytes()...)
}

// Decode reverses encode, for a peer receiving a flush batch: the
// delivery sequence number and the (possibly decompressed) record
// payload.
func Decode(payload []byte) (seq uint64, body []byte, err error) {
	if len(payload) < 9 {
		return 0, nil, fmt.Errorf("transport: payload too short (%d bytes)", len(payload))
	}
	seq = binary.BigEndian.Uint64(payload[:8])
	tag, rest := payload[8], payload[9:]
	if tag == 0 {
		return seq, rest, nil
	}
	r := lz4.NewReader(bytes.NewReader(rest))
	var out bytes.Buffer
	if _, err := out.ReadFrom(r); err != nil {
		return 0, nil, err
	}
	return seq, out.Bytes(), nil
}

// encodeMessage flattens a Message's set attributes into the same
// wire.Record shape used on ingress, so the peer's parser is symmetric
// (spec §6 "record format is delegated to the serialization
// collaborator").
func encodeMessage(msg *locupdate.Message) []byte {
	upd := presenceUpdateFromMessage(msg)
	return wire.EncodeRecord(&upd)
}

func presenceUpdateFromMessage(msg *locupdate.Message) presence.Update {
	d := msg.Data
	upd := presence.Update{Object: msg.Object, Mask: msg.Attrs}
	if msg.Attrs.Has(cos.AttrLocation) {
		upd.Location, upd.LocationSeq = d.Location(), d.LocationSeqno()
	}
	if msg.Attrs.Has(cos.AttrOrientation) {
		upd.Orientation, upd.OrientationSeq = d.Orientation(), d.OrientationSeqno()
	}
	if msg.Attrs.Has(cos.AttrBounds) {
		upd.Bounds, upd.BoundsSeq = d.Bounds(), d.BoundsSeqno()
	}
	if msg.Attrs.Has(cos.AttrMesh) {
		upd.Mesh, upd.MeshSeq = d.Mesh(), d.MeshSeqno()
	}
	if msg.Attrs.Has(cos.AttrPhysics) {
		upd.Physics, upd.PhysicsSeq = d.Physics(), d.PhysicsSeqno()
	}
	if msg.Attrs.Has(cos.AttrParent) {
		upd.Parent, upd.ParentSeq = d.Parent(), d.ParentSeqno()
	}
	if msg.Attrs.Has(cos.AttrZernike) {
		upd.Zernike, upd.ZernikeSeq = d.Zernike(), d.ZernikeSeqno()
	}
	if d.HasEpoch() {
		upd.HasEpoch, upd.Epoch = true, d.Epoch()
	}
	return upd
}
