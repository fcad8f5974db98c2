package server

import (
	"log"
	"time"

	"starmsg/db"
	"starmsg/protocol"
)

// RouteResult is the outcome of routing one event.
type RouteResult int

const (
	Delivered RouteResult = iota
	TargetUnreachable
	Forbidden
)

func (r RouteResult) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case TargetUnreachable:
		return "unreachable"
	case Forbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Relay routes one typed event from a bound sender to the connection
// currently bound to the target identity. Signaling payloads pass
// through untouched; only chat messages get echoed and appended to the
// message log.
type Relay struct {
	registry    *Registry
	relations   *Relations
	db          *db.DB
	strictCalls bool
	metrics     *Metrics
}

func NewRelay(registry *Registry, relations *Relations, database *db.DB, strictCalls bool, metrics *Metrics) *Relay {
	return &Relay{
		registry:    registry,
		relations:   relations,
		db:          database,
		strictCalls: strictCalls,
		metrics:     metrics,
	}
}

// Route dispatches ev from sender to ev.To.
func (r *Relay) Route(sender string, senderConn Conn, ev *protocol.Event) RouteResult {
	result := r.route(sender, senderConn, ev)

	if result == Delivered {
		r.metrics.EventsRelayed.WithLabelValues(ev.Type).Inc()
	} else {
		r.metrics.RelayFailures.WithLabelValues(ev.Type, result.String()).Inc()
	}
	return result
}

func (r *Relay) route(sender string, senderConn Conn, ev *protocol.Event) RouteResult {
	if ev.To == "" {
		return TargetUnreachable
	}

	switch ev.Type {
	case protocol.EventChatMessage:
		return r.routeChat(sender, senderConn, ev)
	case protocol.EventCallRequest:
		return r.routeCallRequest(sender, senderConn, ev)
	case protocol.EventCallAnswer, protocol.EventIceCandidate, protocol.EventEndCall:
		return r.routeSignal(sender, ev)
	default:
		return TargetUnreachable
	}
}

func (r *Relay) routeChat(sender string, senderConn Conn, ev *protocol.Event) RouteResult {
	friends, err := r.relations.AreFriends(sender, ev.To)
	if err != nil {
		log.Printf("[relay] friendship check %s->%s: %v", sender, ev.To, err)
		return Forbidden
	}
	if !friends {
		// Не друзья - молча не доставляем
		return Forbidden
	}

	now := time.Now().UTC()
	out := &protocol.Event{
		Type:      protocol.EventChatMessage,
		From:      sender,
		Name:      ev.Name,
		Text:      ev.Text,
		Media:     ev.Media,
		Timestamp: now.Format(time.RFC3339),
	}

	// Журнал сообщений - best-effort, доставка важнее
	if err := r.db.SaveMessage(sender, ev.To, ev.Text, ev.Media, now); err != nil {
		log.Printf("[relay] failed to append message %s->%s: %v", sender, ev.To, err)
	}

	target, ok := r.registry.Lookup(ev.To)
	if !ok {
		return TargetUnreachable
	}

	if err := target.Send(out); err != nil {
		log.Printf("[relay] chat delivery to %s: %v", ev.To, err)
		return TargetUnreachable
	}

	// Эхо отправителю как локальное подтверждение
	if err := senderConn.Send(out); err != nil {
		log.Printf("[relay] chat echo to %s: %v", sender, err)
	}

	return Delivered
}

func (r *Relay) routeCallRequest(sender string, senderConn Conn, ev *protocol.Event) RouteResult {
	if r.strictCalls {
		friends, err := r.relations.AreFriends(sender, ev.To)
		if err != nil || !friends {
			return Forbidden
		}
	}

	target, ok := r.registry.Lookup(ev.To)
	if !ok {
		// Вызов оффлайн-абоненту - явный отказ, не молчание
		if err := senderConn.Send(protocol.CallFailed("user offline")); err != nil {
			log.Printf("[call] failed to signal call_failed to %s: %v", sender, err)
		}
		return TargetUnreachable
	}

	out := &protocol.Event{
		Type: protocol.EventCallRequest,
		From: sender,
		Name: ev.Name,
		SDP:  ev.SDP,
	}
	if err := target.Send(out); err != nil {
		log.Printf("[call] offer delivery to %s: %v", ev.To, err)
		if err := senderConn.Send(protocol.CallFailed("user offline")); err != nil {
			log.Printf("[call] failed to signal call_failed to %s: %v", sender, err)
		}
		return TargetUnreachable
	}

	log.Printf("[call] %s is calling %s", sender, ev.To)
	return Delivered
}

// routeSignal passes answer/candidate/hang-up payloads through verbatim.
func (r *Relay) routeSignal(sender string, ev *protocol.Event) RouteResult {
	target, ok := r.registry.Lookup(ev.To)
	if !ok {
		return TargetUnreachable
	}

	out := &protocol.Event{
		Type:      ev.Type,
		From:      sender,
		SDP:       ev.SDP,
		Candidate: ev.Candidate,
	}
	if err := target.Send(out); err != nil {
		log.Printf("[call] %s delivery to %s: %v", ev.Type, ev.To, err)
		return TargetUnreachable
	}
	return Delivered
}
