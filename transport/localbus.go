package transport

import "github.com/openmetaverse/spaceloc/core/locupdate"

// LocalBus is the object-to-server transport (spec §1, §4.E): a
// same-process delivery channel used when the subscriber is a local
// object rather than a peer server or an object-host node. Delivery
// never blocks the caller (spec §5); a full channel is reported as
// TransportDown so the policy retries next flush.
type LocalBus struct {
	delivered chan Delivery
}

// Delivery is one message handed to a local object.
type Delivery struct {
	Key locupdate.Key
	Msg *locupdate.Message
}

func NewLocalBus(queueDepth int) *LocalBus {
	return &LocalBus{delivered: make(chan Delivery, queueDepth)}
}

func (b *LocalBus) Post(sub locupdate.Key, msg *locupdate.Message) bool {
	select {
	case b.delivered <- Delivery{Key: sub, Msg: msg}:
		return true
	default:
		return false
	}
}

// Drain is the consumer side: pop everything currently queued. Used by
// the local object runtime (out of core scope) and by tests.
func (b *LocalBus) Drain() []Delivery {
	var out []Delivery
	for {
		select {
		case d := <-b.delivered:
			out = append(out, d)
		default:
			return out
		}
	}
}
