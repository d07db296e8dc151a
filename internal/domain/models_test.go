package domain

import "testing"

func TestNewSystemEvent(t *testing.T) {
	event := NewSystemEvent("bob joined the chat")

	if !event.IsSystem {
		t.Error("system events must carry IsSystem")
	}
	if event.SenderID != SystemSenderID {
		t.Errorf("SenderID = %q, want %q", event.SenderID, SystemSenderID)
	}
	if event.Username != SystemUsername {
		t.Errorf("Username = %q, want %q", event.Username, SystemUsername)
	}
	if event.Room != DefaultRoom {
		t.Errorf("Room = %q, want %q", event.Room, DefaultRoom)
	}
	if event.Timestamp == 0 {
		t.Error("system events must be timestamped")
	}
}

func TestNewChatEvent(t *testing.T) {
	event := NewChatEvent("conn-1", "bob", "hi")

	if event.IsSystem {
		t.Error("user events must not be system events")
	}
	if event.SenderID != "conn-1" || event.Username != "bob" || event.Body != "hi" {
		t.Errorf("unexpected event %+v", event)
	}
	if event.Room != DefaultRoom {
		t.Errorf("Room = %q, want %q", event.Room, DefaultRoom)
	}
}
