package ws

import (
	"encoding/json"
	"log"
	"time"

	"chat_room/internal/bus"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	sendBuffer = 256
)

type connState int

const (
	stateAnonymous connState = iota
	stateJoined
	stateLoggedOut
	stateDisconnected
)

// Client is one live websocket connection and its connection runtime: the
// identity bound to it after a join or restore. Runtime state is owned by
// this instance only and dies with the connection.
type Client struct {
	Hub        *Hub
	Conn       *websocket.Conn
	ConnID     string
	RemoteAddr string
	Send       chan []byte

	// Mutated only by the read pump; read by the hub after the pump exits.
	state    connState
	username string
	token    string
}

func NewClient(hub *Hub, conn *websocket.Conn, connID, remoteAddr string) *Client {
	return &Client{
		Hub:        hub,
		Conn:       conn,
		ConnID:     connID,
		RemoteAddr: remoteAddr,
		Send:       make(chan []byte, sendBuffer),
	}
}

// Joined reports whether the connection has a bound identity.
func (c *Client) Joined() bool {
	return c.state == stateJoined
}

// Deliver queues an envelope for the write pump, dropping it if the client
// cannot keep up. A slow client loses events rather than stalling fanout.
func (c *Client) Deliver(envelope bus.Envelope) {
	data, err := json.Marshal(envelope)
	if err != nil {
		log.Printf("Failed to marshal %s event for %s: %v", envelope.Type, c.ConnID, err)
		return
	}
	select {
	case c.Send <- data:
	default:
		log.Printf("Send buffer full for %s; dropping %s event", c.ConnID, envelope.Type)
	}
}

// ReadPump consumes client requests one at a time, so all requests from a
// single connection are handled in order. It unregisters the client when the
// transport closes, which is the only cancellation signal.
func (c *Client) ReadPump(handler *SessionHandler) {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Unexpected close from %s: %v", c.RemoteAddr, err)
			}
			return
		}

		var envelope bus.Envelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			log.Printf("Invalid request from %s: %v", c.RemoteAddr, err)
			continue
		}
		handler.Handle(c, envelope)

		if c.state == stateLoggedOut {
			return
		}
	}
}

// WritePump flushes queued events to the connection and keeps it alive with
// pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
