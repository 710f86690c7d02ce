// Package cos holds small common types shared across the location core:
// object identifiers, attribute bit masks, and namespace tags — the same
// grab-bag role the teacher's cmn/cos package plays for aistore.
package cos

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// ObjectID is an opaque 128-bit presence identifier (spec §3).
type ObjectID [16]byte

var NilObjectID ObjectID

func (id ObjectID) IsNil() bool { return id == NilObjectID }

func (id ObjectID) String() string { return hex.EncodeToString(id[:]) }

// NewObjectID generates a random 128-bit id, used by tests and by
// synthetic aggregate allocation.
func NewObjectID() ObjectID {
	var id ObjectID
	if _, err := rand.Read(id[:]); err != nil {
		panic(fmt.Sprintf("cos: failed to read random bytes: %v", err))
	}
	return id
}

func ObjectIDFromString(s string) (ObjectID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return NilObjectID, err
	}
	var id ObjectID
	if len(b) != len(id) {
		return NilObjectID, fmt.Errorf("cos: bad object id length %d", len(b))
	}
	copy(id[:], b)
	return id, nil
}

// ServerID identifies a peer space server (component H keys on this).
type ServerID uint32

// ProxIndexID identifies one proximity query-handler instance a
// subscription's sequence pointer is scoped to (spec §3, §4.E).
type ProxIndexID uint32

// SubscriberNamespace distinguishes the three disjoint addressing
// namespaces a subscriber id lives in (spec §3).
type SubscriberNamespace uint8

const (
	NamespacePeerServer SubscriberNamespace = iota
	NamespaceObjectHost
	NamespaceLocalObject
)

func (n SubscriberNamespace) String() string {
	switch n {
	case NamespacePeerServer:
		return "peer-server"
	case NamespaceObjectHost:
		return "object-host"
	case NamespaceLocalObject:
		return "local-object"
	default:
		return "unknown"
	}
}
