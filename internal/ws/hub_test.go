package ws

import (
	"testing"
	"time"

	"chat_room/internal/bus"
	"chat_room/internal/domain"
)

func TestHubBroadcastAll(t *testing.T) {
	f := newFixture()
	first := f.connect("conn-1")
	second := f.connect("conn-2")

	envelope, err := bus.NewEnvelope(domain.EventChatMessage, domain.NewChatEvent("conn-1", "alice", "hi"))
	if err != nil {
		t.Fatal(err)
	}
	f.hub.BroadcastAll(envelope)

	for _, c := range []*Client{first, second} {
		reply := nextReply(t, c)
		if reply.Type != domain.EventChatMessage {
			t.Errorf("client %s got %s, want %s", c.ConnID, reply.Type, domain.EventChatMessage)
		}
	}
}

func TestHubBroadcastOthersSkipsSender(t *testing.T) {
	f := newFixture()
	sender := f.connect("conn-1")
	other := f.connect("conn-2")

	envelope, err := bus.NewEnvelope(domain.EventUserTyping, typingEvent{Username: "alice", IsTyping: true})
	if err != nil {
		t.Fatal(err)
	}
	f.hub.BroadcastOthers(sender.ConnID, envelope)

	if reply := nextReply(t, other); reply.Type != domain.EventUserTyping {
		t.Errorf("got %s, want %s", reply.Type, domain.EventUserTyping)
	}
	select {
	case <-sender.Send:
		t.Error("sender must be skipped")
	default:
	}
}

func TestHubRegisterUnregister(t *testing.T) {
	f := newFixture()
	go f.hub.Run()

	client := NewClient(f.hub, nil, "conn-1", "127.0.0.1:1234")
	f.hub.Register <- client

	deadline := time.After(time.Second)
	for {
		f.hub.mu.RLock()
		_, registered := f.hub.clients["conn-1"]
		f.hub.mu.RUnlock()
		if registered {
			break
		}
		select {
		case <-deadline:
			t.Fatal("client was never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	f.hub.Unregister <- client

	for {
		select {
		case _, open := <-client.Send:
			if !open {
				return // unregister closed the send channel
			}
		case <-deadline:
			t.Fatal("send channel was never closed")
		}
	}
}
