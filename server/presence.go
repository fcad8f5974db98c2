package server

import (
	"log"

	"starmsg/protocol"
)

// Broadcaster fans presence transitions out to every connected party.
type Broadcaster struct {
	registry *Registry
}

func NewBroadcaster(registry *Registry) *Broadcaster {
	return &Broadcaster{registry: registry}
}

// Status notifies all registered connections except identity's own
// that identity went online or offline. Delivery is best-effort: a
// failed write only drops that one recipient's notification.
func (b *Broadcaster) Status(identity string, online bool) {
	ev := protocol.PresenceUpdate(identity, online)

	for peer, conn := range b.registry.entries() {
		if peer == identity {
			continue
		}
		if err := conn.Send(ev); err != nil {
			log.Printf("[presence] failed to notify %s about %s: %v", peer, identity, err)
		}
	}
}

// Sync delivers the current reachable set to a newly identified
// connection, one online notification per peer.
// Клиент после identify сразу видит, кто в сети.
func (b *Broadcaster) Sync(identity string, conn Conn) {
	for _, peer := range b.registry.Snapshot() {
		if peer == identity {
			continue
		}
		if err := conn.Send(protocol.PresenceUpdate(peer, true)); err != nil {
			log.Printf("[presence] failed to sync %s to %s: %v", peer, identity, err)
		}
	}
}
