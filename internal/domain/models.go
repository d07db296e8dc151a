package domain

import "time"

// DefaultRoom is the single room served by this deployment. The event model
// carries the room label so the fanout path does not need to change when
// more rooms are added.
const DefaultRoom = "general"

const (
	SystemSenderID = "system"
	SystemUsername = "System"
)

// ChatEvent is one entry in the shared message log. Events are immutable
// once appended; ordering is the append order of the log.
type ChatEvent struct {
	SenderID  string `json:"senderId"`
	Username  string `json:"username"`
	Body      string `json:"message"`
	Room      string `json:"room"`
	Timestamp int64  `json:"timestamp"`
	IsSystem  bool   `json:"isSystem,omitempty"`
}

// NewChatEvent builds a user-authored event stamped with the current time.
func NewChatEvent(senderID, username, body string) ChatEvent {
	return ChatEvent{
		SenderID:  senderID,
		Username:  username,
		Body:      body,
		Room:      DefaultRoom,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewSystemEvent builds a system notice (joins, leaves).
func NewSystemEvent(body string) ChatEvent {
	return ChatEvent{
		SenderID:  SystemSenderID,
		Username:  SystemUsername,
		Body:      body,
		Room:      DefaultRoom,
		Timestamp: time.Now().UnixMilli(),
		IsSystem:  true,
	}
}

// SessionRecord maps a bearer token to the identity it recovers. One token,
// one record; a username may appear in several records while multiple tabs
// are open.
type SessionRecord struct {
	Token        string `json:"token"`
	Username     string `json:"username"`
	ConnID       string `json:"connId"`
	RemoteAddr   string `json:"remoteAddr"`
	CreatedAt    int64  `json:"createdAt"`
	LastActiveAt int64  `json:"lastActiveAt"`
}

// Client -> server event types.
const (
	EventCheckUsername  = "check-username"
	EventRestoreSession = "restore-session"
	EventJoin           = "join"
	EventLogout         = "logout"
	EventTyping         = "typing"
	EventChatMessage    = "chat-message"
)

// Server -> client event types.
const (
	EventCheckUsernameResponse  = "check-username-response"
	EventRestoreSessionResponse = "restore-session-response"
	EventJoinResponse           = "join-response"
	EventUsernameTaken          = "username-taken"
	EventLogoutSuccess          = "logout-success"
	EventUserJoined             = "user-joined"
	EventUserLeft               = "user-left"
	EventUserTyping             = "user-typing"
	EventChatHistory            = "chat-history"
)
