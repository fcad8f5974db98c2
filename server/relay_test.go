package server

import (
	"encoding/json"
	"testing"

	"starmsg/db"
	"starmsg/protocol"
)

type relayFixture struct {
	registry  *Registry
	relations *Relations
	relay     *Relay
	db        *db.DB
}

func setupRelay(t *testing.T, strictCalls bool) (*relayFixture, func()) {
	database, cleanup := setupTestDB(t)

	registry := NewRegistry()
	relations := NewRelations(database, nil)
	relay := NewRelay(registry, relations, database, strictCalls, NewMetrics())

	return &relayFixture{
		registry:  registry,
		relations: relations,
		relay:     relay,
		db:        database,
	}, cleanup
}

func makeFriends(t *testing.T, relations *Relations, a, b string) {
	if err := relations.Request(a, b); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if err := relations.Accept(b, a); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
}

func TestRelayChatDeliveredWithEcho(t *testing.T) {
	f, cleanup := setupRelay(t, false)
	defer cleanup()

	makeFriends(t, f.relations, "alice", "bob")

	alice := newFakeConn("a1")
	bob := newFakeConn("b1")
	f.registry.Register("alice", alice)
	f.registry.Register("bob", bob)

	result := f.relay.Route("alice", alice, &protocol.Event{
		Type: protocol.EventChatMessage,
		To:   "bob",
		Name: "Alice",
		Text: "hi",
	})

	if result != Delivered {
		t.Fatalf("Expected Delivered, got %v", result)
	}

	delivered := bob.take()
	if len(delivered) != 1 {
		t.Fatalf("Expected 1 event at bob, got %d", len(delivered))
	}
	if delivered[0].Type != protocol.EventChatMessage || delivered[0].From != "alice" || delivered[0].Text != "hi" {
		t.Errorf("Unexpected event at bob: %+v", delivered[0])
	}

	echoed := alice.take()
	if len(echoed) != 1 {
		t.Fatalf("Expected 1 echo at alice, got %d", len(echoed))
	}
	if echoed[0].From != "alice" || echoed[0].Text != "hi" {
		t.Errorf("Unexpected echo at alice: %+v", echoed[0])
	}

	// Сообщение попало в журнал
	messages, err := f.db.GetMessages("alice", "bob", 0, 10)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(messages) != 1 || messages[0].Text != "hi" {
		t.Errorf("Expected 1 logged message %q, got %v", "hi", messages)
	}
}

func TestRelayChatTargetUnreachable(t *testing.T) {
	f, cleanup := setupRelay(t, false)
	defer cleanup()

	makeFriends(t, f.relations, "alice", "bob")

	alice := newFakeConn("a1")
	f.registry.Register("alice", alice)

	result := f.relay.Route("alice", alice, &protocol.Event{
		Type: protocol.EventChatMessage,
		To:   "bob",
		Text: "hi",
	})

	if result != TargetUnreachable {
		t.Fatalf("Expected TargetUnreachable, got %v", result)
	}
	if events := alice.take(); len(events) != 0 {
		t.Errorf("Expected no delivery to alice, got %v", events)
	}
}

func TestRelayChatForbiddenWithoutFriendship(t *testing.T) {
	f, cleanup := setupRelay(t, false)
	defer cleanup()

	alice := newFakeConn("a1")
	bob := newFakeConn("b1")
	f.registry.Register("alice", alice)
	f.registry.Register("bob", bob)

	result := f.relay.Route("alice", alice, &protocol.Event{
		Type: protocol.EventChatMessage,
		To:   "bob",
		Text: "hi",
	})

	if result != Forbidden {
		t.Fatalf("Expected Forbidden, got %v", result)
	}
	if events := bob.take(); len(events) != 0 {
		t.Errorf("Expected no delivery to bob, got %v", events)
	}

	// Запрещенное сообщение не попадает в журнал
	messages, err := f.db.GetMessages("alice", "bob", 0, 10)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("Expected no logged messages, got %v", messages)
	}
}

func TestRelayCallRequestOfflineTarget(t *testing.T) {
	f, cleanup := setupRelay(t, false)
	defer cleanup()

	alice := newFakeConn("a1")
	f.registry.Register("alice", alice)

	result := f.relay.Route("alice", alice, &protocol.Event{
		Type: protocol.EventCallRequest,
		To:   "bob",
		SDP:  json.RawMessage(`{"type":"offer"}`),
	})

	if result != TargetUnreachable {
		t.Fatalf("Expected TargetUnreachable, got %v", result)
	}

	events := alice.take()
	if len(events) != 1 {
		t.Fatalf("Expected exactly 1 call_failed at alice, got %d", len(events))
	}
	if events[0].Type != protocol.EventCallFailed {
		t.Errorf("Expected call_failed, got %s", events[0].Type)
	}
	if events[0].Reason != "user offline" {
		t.Errorf("Expected reason %q, got %q", "user offline", events[0].Reason)
	}
}

func TestRelaySignalingPayloadsPassThrough(t *testing.T) {
	f, cleanup := setupRelay(t, false)
	defer cleanup()

	alice := newFakeConn("a1")
	bob := newFakeConn("b1")
	f.registry.Register("alice", alice)
	f.registry.Register("bob", bob)

	offer := `{"type":"offer","sdp":"v=0\r\no=- 46117 2 IN IP4 127.0.0.1\r\n"}`
	result := f.relay.Route("alice", alice, &protocol.Event{
		Type: protocol.EventCallRequest,
		To:   "bob",
		Name: "Alice",
		SDP:  json.RawMessage(offer),
	})
	if result != Delivered {
		t.Fatalf("Expected Delivered, got %v", result)
	}

	events := bob.take()
	if len(events) != 1 {
		t.Fatalf("Expected 1 event at bob, got %d", len(events))
	}
	if string(events[0].SDP) != offer {
		t.Errorf("SDP payload was mutated:\nsent: %s\ngot:  %s", offer, events[0].SDP)
	}

	candidate := `{"candidate":"candidate:1 1 UDP 2122252543 192.168.1.7 54321 typ host","sdpMid":"0"}`
	result = f.relay.Route("bob", bob, &protocol.Event{
		Type:      protocol.EventIceCandidate,
		To:        "alice",
		Candidate: json.RawMessage(candidate),
	})
	if result != Delivered {
		t.Fatalf("Expected Delivered, got %v", result)
	}

	events = alice.take()
	if len(events) != 1 {
		t.Fatalf("Expected 1 event at alice, got %d", len(events))
	}
	if string(events[0].Candidate) != candidate {
		t.Errorf("Candidate payload was mutated:\nsent: %s\ngot:  %s", candidate, events[0].Candidate)
	}
	if events[0].From != "bob" {
		t.Errorf("Expected candidate from bob, got %q", events[0].From)
	}

	// end_call без нагрузки тоже проходит
	result = f.relay.Route("alice", alice, &protocol.Event{
		Type: protocol.EventEndCall,
		To:   "bob",
	})
	if result != Delivered {
		t.Fatalf("Expected Delivered for end_call, got %v", result)
	}
	events = bob.take()
	if len(events) != 1 || events[0].Type != protocol.EventEndCall {
		t.Errorf("Expected end_call at bob, got %v", events)
	}
}

func TestRelayStrictCallsRequireFriendship(t *testing.T) {
	f, cleanup := setupRelay(t, true)
	defer cleanup()

	alice := newFakeConn("a1")
	bob := newFakeConn("b1")
	f.registry.Register("alice", alice)
	f.registry.Register("bob", bob)

	result := f.relay.Route("alice", alice, &protocol.Event{
		Type: protocol.EventCallRequest,
		To:   "bob",
		SDP:  json.RawMessage(`{"type":"offer"}`),
	})
	if result != Forbidden {
		t.Fatalf("Expected Forbidden without friendship, got %v", result)
	}
	if events := bob.take(); len(events) != 0 {
		t.Errorf("Expected no delivery to bob, got %v", events)
	}

	makeFriends(t, f.relations, "alice", "bob")

	result = f.relay.Route("alice", alice, &protocol.Event{
		Type: protocol.EventCallRequest,
		To:   "bob",
		SDP:  json.RawMessage(`{"type":"offer"}`),
	})
	if result != Delivered {
		t.Fatalf("Expected Delivered after friendship, got %v", result)
	}
}

func TestRelayMissingTarget(t *testing.T) {
	f, cleanup := setupRelay(t, false)
	defer cleanup()

	alice := newFakeConn("a1")
	f.registry.Register("alice", alice)

	result := f.relay.Route("alice", alice, &protocol.Event{
		Type: protocol.EventChatMessage,
		Text: "hi",
	})
	if result != TargetUnreachable {
		t.Errorf("Expected TargetUnreachable for event without target, got %v", result)
	}
}
