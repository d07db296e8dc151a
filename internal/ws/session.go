package ws

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"chat_room/internal/bus"
	"chat_room/internal/domain"
	"chat_room/internal/history"
	"chat_room/internal/presence"
	"chat_room/internal/session"
)

const anonymousUsername = "Anonymous"

// SessionHandler drives the per-connection state machine
// (ANONYMOUS -> JOINED -> LOGGED_OUT | DISCONNECTED). It validates and
// mutates the shared registry, directory, and history, and publishes chat
// events to the fanout bus. Store failures are logged and degraded to safe
// defaults (deny join, empty history, empty presence); they never kill the
// connection.
type SessionHandler struct {
	hub       *Hub
	registry  presence.Registry
	directory session.Directory
	history   history.Store
	bus       bus.Bus

	// callTimeout bounds individual store/bus calls when set; zero means
	// no per-call deadline.
	callTimeout time.Duration
}

func NewSessionHandler(hub *Hub, registry presence.Registry, directory session.Directory, store history.Store, fanout bus.Bus, callTimeout time.Duration) *SessionHandler {
	return &SessionHandler{
		hub:         hub,
		registry:    registry,
		directory:   directory,
		history:     store,
		bus:         fanout,
		callTimeout: callTimeout,
	}
}

func (s *SessionHandler) callContext() (context.Context, context.CancelFunc) {
	if s.callTimeout > 0 {
		return context.WithTimeout(context.Background(), s.callTimeout)
	}
	return context.WithCancel(context.Background())
}

type checkUsernameRequest struct {
	Username string `json:"username"`
}

type checkUsernameResponse struct {
	Username  string `json:"username"`
	Available bool   `json:"available"`
}

type joinRequest struct {
	Username string `json:"username"`
}

type joinResponse struct {
	Success      bool               `json:"success"`
	SessionToken string             `json:"sessionToken,omitempty"`
	Username     string             `json:"username,omitempty"`
	Messages     []domain.ChatEvent `json:"messages,omitempty"`
	OnlineUsers  []string           `json:"onlineUsers,omitempty"`
}

type restoreRequest struct {
	Token string `json:"token"`
}

type restoreResponse struct {
	Success     bool               `json:"success"`
	Username    string             `json:"username,omitempty"`
	Messages    []domain.ChatEvent `json:"messages,omitempty"`
	OnlineUsers []string           `json:"onlineUsers,omitempty"`
}

type chatMessageRequest struct {
	Message string `json:"message"`
}

type typingRequest struct {
	IsTyping bool `json:"isTyping"`
}

type logoutRequest struct {
	Token string `json:"token"`
}

type presenceEvent struct {
	Username    string   `json:"username"`
	OnlineUsers []string `json:"onlineUsers"`
}

type typingEvent struct {
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

type historyEvent struct {
	Events []domain.ChatEvent `json:"events"`
}

// Handle dispatches one client request. Requests from the same connection
// arrive here sequentially, so per-connection state needs no locking.
func (s *SessionHandler) Handle(c *Client, envelope bus.Envelope) {
	switch envelope.Type {
	case domain.EventCheckUsername:
		var req checkUsernameRequest
		if !decode(c, envelope, &req) {
			return
		}
		s.checkUsername(c, req.Username)
	case domain.EventJoin:
		var req joinRequest
		if !decode(c, envelope, &req) {
			return
		}
		s.join(c, req.Username)
	case domain.EventRestoreSession:
		var req restoreRequest
		if !decode(c, envelope, &req) {
			return
		}
		s.restoreSession(c, req.Token)
	case domain.EventChatMessage:
		var req chatMessageRequest
		if !decode(c, envelope, &req) {
			return
		}
		s.sendMessage(c, req.Message)
	case domain.EventTyping:
		var req typingRequest
		if !decode(c, envelope, &req) {
			return
		}
		s.typing(c, req.IsTyping)
	case domain.EventLogout:
		var req logoutRequest
		if !decode(c, envelope, &req) {
			return
		}
		s.logout(c, req.Token)
	default:
		log.Printf("Unknown request type %q from %s", envelope.Type, c.RemoteAddr)
	}
}

func decode(c *Client, envelope bus.Envelope, dest interface{}) bool {
	if err := json.Unmarshal(envelope.Payload, dest); err != nil {
		log.Printf("Invalid %s payload from %s: %v", envelope.Type, c.RemoteAddr, err)
		return false
	}
	return true
}

// checkUsername is a pure read; the authoritative re-check happens in join.
func (s *SessionHandler) checkUsername(c *Client, username string) {
	ctx, cancel := s.callContext()
	defer cancel()

	available, err := s.registry.IsAvailable(ctx, username)
	if err != nil {
		// Fail toward "taken" rather than inviting a duplicate join.
		log.Printf("Failed to check username %q: %v", username, err)
		available = false
	}
	s.reply(c, domain.EventCheckUsernameResponse, checkUsernameResponse{Username: username, Available: available})
}

func (s *SessionHandler) join(c *Client, username string) {
	ctx, cancel := s.callContext()
	defer cancel()

	// Re-check even though the client pre-checked: two connections can
	// pass check-username before either claims. The window between this
	// check and the claim is accepted.
	available, err := s.registry.IsAvailable(ctx, username)
	if err != nil {
		log.Printf("Failed to check username %q on join: %v", username, err)
		available = false
	}
	if !available {
		s.reply(c, domain.EventUsernameTaken, map[string]string{"username": username})
		return
	}

	if err := s.registry.Claim(ctx, username); err != nil {
		log.Printf("Failed to claim username %q: %v", username, err)
		s.reply(c, domain.EventUsernameTaken, map[string]string{"username": username})
		return
	}

	token, err := s.directory.Create(ctx, username, c.ConnID, c.RemoteAddr)
	if err != nil {
		log.Printf("Failed to create session for %q: %v", username, err)
		if relErr := s.registry.Release(ctx, username); relErr != nil {
			log.Printf("Failed to release username %q after session failure: %v", username, relErr)
		}
		s.reply(c, domain.EventUsernameTaken, map[string]string{"username": username})
		return
	}

	c.state = stateJoined
	c.username = username
	c.token = token

	if err := s.history.AppendSystem(ctx, username+" joined the chat"); err != nil {
		log.Printf("Failed to append join notice for %q: %v", username, err)
	}

	messages := s.recentHistory(ctx)
	online := s.onlineUsers(ctx)

	s.reply(c, domain.EventJoinResponse, joinResponse{
		Success:      true,
		SessionToken: token,
		Username:     username,
		Messages:     messages,
		OnlineUsers:  online,
	})
	s.reply(c, domain.EventChatHistory, historyEvent{Events: messages})

	// The join notice itself stays off the bus; presence travels as its
	// own event so every instance refreshes its clients' user lists.
	s.publish(ctx, domain.EventUserJoined, presenceEvent{Username: username, OnlineUsers: online})

	log.Printf("%s joined the chat (conn=%s)", username, c.ConnID)
}

func (s *SessionHandler) restoreSession(c *Client, token string) {
	ctx, cancel := s.callContext()
	defer cancel()

	record, err := s.directory.Validate(ctx, token)
	if err != nil {
		log.Printf("Failed to validate session: %v", err)
	}
	if record == nil {
		// Expired and unknown tokens are indistinguishable on purpose.
		s.reply(c, domain.EventRestoreSessionResponse, restoreResponse{Success: false})
		return
	}

	record.ConnID = c.ConnID
	record.RemoteAddr = c.RemoteAddr
	if err := s.directory.Update(ctx, record); err != nil {
		log.Printf("Failed to rebind session for %q: %v", record.Username, err)
	}

	// The username may have been released by the janitor while every tab
	// was closed; restoring the session restores the claim too.
	if err := s.registry.Claim(ctx, record.Username); err != nil {
		log.Printf("Failed to reclaim username %q: %v", record.Username, err)
	}

	c.state = stateJoined
	c.username = record.Username
	c.token = record.Token

	messages := s.recentHistory(ctx)
	s.reply(c, domain.EventRestoreSessionResponse, restoreResponse{
		Success:     true,
		Username:    record.Username,
		Messages:    messages,
		OnlineUsers: s.onlineUsers(ctx),
	})
	s.reply(c, domain.EventChatHistory, historyEvent{Events: messages})

	// A restore is silent: no join notice, no presence broadcast.
	log.Printf("%s restored a session (conn=%s)", record.Username, c.ConnID)
}

func (s *SessionHandler) sendMessage(c *Client, body string) {
	ctx, cancel := s.callContext()
	defer cancel()

	username := c.username
	if !c.Joined() {
		username = anonymousUsername
	}

	event := domain.NewChatEvent(c.ConnID, username, body)

	if err := s.history.Append(ctx, event); err != nil {
		// Delivery still works without durability; the message just
		// misses the history replay.
		log.Printf("Failed to persist message from %q: %v", username, err)
	}

	// No direct delivery to anyone, the sender included: every client
	// sees the message via its instance's bus subscriber.
	s.publish(ctx, domain.EventChatMessage, event)

	if c.token != "" {
		if err := s.directory.Touch(ctx, c.token); err != nil {
			log.Printf("Failed to touch session for %q: %v", username, err)
		}
	}
}

// typing fans out to this instance's clients only. Cross-instance typing
// status is deliberately not propagated.
func (s *SessionHandler) typing(c *Client, isTyping bool) {
	if !c.Joined() {
		return
	}
	envelope, err := bus.NewEnvelope(domain.EventUserTyping, typingEvent{Username: c.username, IsTyping: isTyping})
	if err != nil {
		log.Printf("Failed to build typing event: %v", err)
		return
	}
	s.hub.BroadcastOthers(c.ConnID, envelope)
}

func (s *SessionHandler) logout(c *Client, token string) {
	ctx, cancel := s.callContext()
	defer cancel()

	username := c.username
	if token == "" {
		token = c.token
	}

	if username == "" {
		// A logout from a connection that never joined here: recover the
		// identity from the directory so the token alone is enough.
		if record, err := s.directory.Validate(ctx, token); err == nil && record != nil {
			username = record.Username
		}
	}

	if err := s.directory.Remove(ctx, token); err != nil {
		log.Printf("Failed to remove session on logout: %v", err)
	}

	if username != "" {
		// The username stays claimed while any other tab still holds a
		// session for it; only the last logout releases and announces.
		remaining, err := s.directory.ListByUsername(ctx, username)
		switch {
		case err != nil:
			// Cannot tell whether another tab is open; leave the claim
			// for the janitor rather than yank it from a live tab.
			log.Printf("Failed to list sessions for %q on logout: %v", username, err)
		case len(remaining) > 0:
			log.Printf("%s logged out (conn=%s), other tabs remain", username, c.ConnID)
		default:
			if err := s.registry.Release(ctx, username); err != nil {
				log.Printf("Failed to release username %q on logout: %v", username, err)
			}
			if err := s.history.AppendSystem(ctx, username+" left the chat"); err != nil {
				log.Printf("Failed to append leave notice for %q: %v", username, err)
			}
			s.publish(ctx, domain.EventUserLeft, presenceEvent{Username: username, OnlineUsers: s.onlineUsers(ctx)})
			log.Printf("%s logged out (conn=%s)", username, c.ConnID)
		}
	}

	c.state = stateLoggedOut
	s.reply(c, domain.EventLogoutSuccess, struct{}{})
}

// Disconnected runs after the transport closed. The session record and the
// presence claim survive so a reconnecting tab can restore; only the "left"
// announcement is decided here.
func (s *SessionHandler) Disconnected(c *Client) {
	if c.state != stateJoined {
		return
	}
	c.state = stateDisconnected

	ctx, cancel := s.callContext()
	defer cancel()

	records, err := s.directory.ListByUsername(ctx, c.username)
	if err != nil {
		// Without the directory we cannot tell whether another tab is
		// open; stay silent rather than announce a false departure.
		log.Printf("Failed to list sessions for %q on disconnect: %v", c.username, err)
		return
	}

	for _, record := range records {
		if record.ConnID != c.ConnID {
			// Another live session (multi-tab); no announcement.
			return
		}
	}

	if err := s.history.AppendSystem(ctx, c.username+" left the chat"); err != nil {
		log.Printf("Failed to append leave notice for %q: %v", c.username, err)
	}
	s.publish(ctx, domain.EventUserLeft, presenceEvent{Username: c.username, OnlineUsers: s.onlineUsers(ctx)})
	log.Printf("%s disconnected", c.username)
}

func (s *SessionHandler) recentHistory(ctx context.Context) []domain.ChatEvent {
	messages, err := s.history.Recent(ctx)
	if err != nil {
		log.Printf("Failed to load chat history: %v", err)
		return []domain.ChatEvent{}
	}
	return messages
}

func (s *SessionHandler) onlineUsers(ctx context.Context) []string {
	users, err := s.registry.ListActive(ctx)
	if err != nil {
		log.Printf("Failed to list online users: %v", err)
		return []string{}
	}
	return users
}

func (s *SessionHandler) reply(c *Client, eventType string, payload interface{}) {
	envelope, err := bus.NewEnvelope(eventType, payload)
	if err != nil {
		log.Printf("Failed to build %s reply: %v", eventType, err)
		return
	}
	c.Deliver(envelope)
}

func (s *SessionHandler) publish(ctx context.Context, eventType string, payload interface{}) {
	if err := s.bus.Publish(ctx, eventType, payload); err != nil {
		log.Printf("Failed to publish %s event: %v", eventType, err)
	}
}
