package internal

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// single room broadcaster
type Room struct {
	id         string
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	mutex      sync.RWMutex
}

func newRoom(id string) *Room {
	return &Room{
		id:         id,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
	}
}

func (room *Room) size() int {
	room.mutex.RLock()
	defer room.mutex.RUnlock()
	return len(room.clients)
}

func (room *Room) onlineUsers() int {
	room.mutex.RLock()
	defer room.mutex.RUnlock()
	users := make(map[string]struct{}, len(room.clients))
	for client := range room.clients {
		users[client.userID] = struct{}{}
	}
	return len(users)
}

func (room *Room) clientsOf(userID string) []*Client {
	room.mutex.RLock()
	defer room.mutex.RUnlock()
	var out []*Client
	for client := range room.clients {
		if client.userID == userID {
			out = append(out, client)
		}
	}
	return out
}

// run owns membership changes and fan-out. A client only leaves the map
// here, and its send channel is closed by its own read pump once it has left
// every room.
func (room *Room) run() {
	for {
		select {
		case client := <-room.register:
			room.mutex.Lock()
			room.clients[client] = true
			room.mutex.Unlock()
		case client := <-room.unregister:
			room.mutex.Lock()
			delete(room.clients, client)
			room.mutex.Unlock()
		case messagePayload := <-room.broadcast:
			room.mutex.Lock()
			for client := range room.clients {
				select {
				case client.send <- messagePayload:
				default:
					// can't keep up; closing the socket ends its read pump
					delete(room.clients, client)
					_ = client.conn.Close()
				}
			}
			room.mutex.Unlock()
		}
	}
}

// Client is one websocket connection. A connection may be subscribed to
// several rooms at once.
type Client struct {
	id       string
	server   *Server
	conn     *websocket.Conn
	send     chan []byte
	userID   string
	username string
	avatar   string
	// rooms is only touched by the read pump
	rooms map[string]*Room
	log   zerolog.Logger
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 8192
)

func (client *Client) readPump() {
	defer func() {
		for _, room := range client.rooms {
			room.unregister <- client
		}
		close(client.send)
		_ = client.conn.Close()
		client.server.disconnected(client)
	}()
	client.conn.SetReadLimit(maxMsgSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				client.log.Debug().Err(err).Msg("websocket read ended")
			}
			break
		}
		var event socketEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			client.reply(encodeError("", "malformed event"))
			continue
		}
		client.server.handleEvent(client, event)
	}
}

func (client *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()
	for {
		select {
		case message, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reply queues a payload for this connection only. Must be called from the
// read pump, which is the only goroutine that closes send.
func (client *Client) reply(payload []byte) {
	if payload == nil {
		return
	}
	select {
	case client.send <- payload:
	default:
	}
}
