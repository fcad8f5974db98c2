package server

import (
	"log"

	"starmsg/protocol"
)

// handleEvent dispatches one inbound event for sess. Before identify
// the only accepted event is identify itself; everything else is
// dropped without an error, matching the permissive client contract.
func (s *Server) handleEvent(sess *session, ev *protocol.Event) {
	if ev.Type == protocol.EventIdentify {
		s.handleIdentify(sess, ev)
		return
	}

	if !sess.bound() {
		return
	}

	switch ev.Type {
	case protocol.EventChatMessage,
		protocol.EventCallRequest,
		protocol.EventCallAnswer,
		protocol.EventIceCandidate,
		protocol.EventEndCall:
		s.relay.Route(sess.identity, sess.conn, ev)
	default:
		// Неизвестные типы от клиента игнорируем
	}
}

// handleIdentify binds the connection to an identity. A repeat
// identify re-binds: the registry's last-registration-wins semantics
// apply both to a second identify on the same connection and to a new
// connection for an identity that is already online.
func (s *Server) handleIdentify(sess *session, ev *protocol.Event) {
	identity := ev.From
	if identity == "" {
		return
	}

	if sess.bound() && sess.identity == identity {
		// Повторный identify тем же именем - не переход статуса
		s.registry.Register(identity, sess.conn)
		return
	}

	if sess.bound() && sess.identity != identity {
		// Переопознание под другим именем: снимаем старую привязку
		if s.registry.Release(sess.identity, sess.conn) {
			s.presence.Status(sess.identity, false)
		}
	}

	prev := s.registry.Register(identity, sess.conn)
	sess.identity = identity
	s.metrics.ActiveConnections.Set(float64(s.registry.Len()))

	if prev != nil {
		// Старое соединение этой identity вытеснено - закрываем его,
		// чтобы клиент сразу узнал о замене
		log.Printf("[ws] %s superseded connection %s with %s", identity, prev.ID(), sess.conn.ID())
		prev.Close()
		// identity осталась в сети, повторный online не рассылаем
	} else {
		s.presence.Status(identity, true)
	}

	s.presence.Sync(identity, sess.conn)
	log.Printf("[ws] %s is online (connection %s)", identity, sess.conn.ID())
}
