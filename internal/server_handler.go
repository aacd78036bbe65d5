package internal

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"studyroom/internal/chat"
	"studyroom/internal/storage"
)

const (
	storeTimeout     = 5 * time.Second
	rateLimitNotice  = "You're sending messages too quickly. Please wait a moment and try again."
	notMemberNotice  = "you are not a member of this room"
	emptyEventNotice = "message is empty"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS upgrades an authenticated request. Room subscriptions are managed
// afterwards with join and leave events on the same connection.
func (s *Server) ServeWS(c *gin.Context) {
	user, err := s.store.GetUserByID(c.Request.Context(), currentUserID(c))
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	if user == nil {
		writeError(c, http.StatusUnauthorized, errUnauthorized)
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		id:       uuid.NewString(),
		server:   s,
		conn:     conn,
		send:     make(chan []byte, 256),
		userID:   user.ID,
		username: user.Username,
		avatar:   user.AvatarURL,
		rooms:    make(map[string]*Room),
	}
	client.log = s.log.With().Str("conn", client.id).Str("user", user.Username).Logger()

	s.metrics.IncConn()
	if s.presence.Connected(user.ID, user.Username) {
		client.log.Info().Msg("user online")
	}
	client.log.Debug().Msg("websocket connected")

	go client.writePump()
	go client.readPump()
}

func (s *Server) disconnected(client *Client) {
	s.metrics.DecConn()
	if s.presence.Disconnected(client.userID) {
		client.log.Info().Msg("user offline")
	}
	s.throttle.release(client.id)
	client.log.Debug().Msg("websocket disconnected")
}

func (s *Server) handleEvent(client *Client, event socketEvent) {
	switch event.Type {
	case eventJoin:
		s.handleJoin(client, event.RoomID)
	case eventLeave:
		s.handleLeave(client, event.RoomID)
	case eventSend:
		s.handleSend(client, event)
	default:
		client.reply(encodeError(event.RoomID, "unknown event type "+event.Type))
	}
}

func (s *Server) handleJoin(client *Client, roomID string) {
	if roomID == "" {
		client.reply(encodeError("", "roomId is required"))
		return
	}
	if !s.isMember(client, roomID) {
		client.reply(encodeError(roomID, notMemberNotice))
		return
	}
	// registering twice is harmless and re-subscribes after an eviction
	room := s.hub.getOrCreateRoom(roomID)
	room.register <- client
	client.rooms[roomID] = room
	client.log.Debug().Str("room", roomID).Msg("joined room")
}

func (s *Server) handleLeave(client *Client, roomID string) {
	room, joined := client.rooms[roomID]
	if !joined {
		return
	}
	room.unregister <- client
	delete(client.rooms, roomID)
	client.log.Debug().Str("room", roomID).Msg("left room")
}

// handleSend persists the message and broadcasts it to the room, echoing the
// sender's correlation id so the sender can replace its optimistic copy.
func (s *Server) handleSend(client *Client, event socketEvent) {
	var out chat.Outgoing
	if err := json.Unmarshal(event.Message, &out); err != nil {
		client.reply(encodeError(event.RoomID, "malformed message"))
		return
	}
	roomID := event.RoomID
	if roomID == "" {
		roomID = out.RoomID
	}
	if ok, wait := s.throttle.admit(client.id); !ok {
		client.log.Debug().Dur("retry_after", wait).Msg("send throttled")
		client.reply(encodeError(roomID, rateLimitNotice))
		return
	}
	if roomID == "" {
		client.reply(encodeError("", "roomId is required"))
		return
	}
	if strings.TrimSpace(out.Content) == "" && out.FileURL == "" {
		client.reply(encodeError(roomID, emptyEventNotice))
		return
	}
	if !s.isMember(client, roomID) {
		client.reply(encodeError(roomID, notMemberNotice))
		return
	}

	stored := storage.Message{
		RoomID:     roomID,
		SenderID:   client.userID,
		SenderName: client.username,
		Content:    out.Content,
		FileURL:    out.FileURL,
		FileType:   out.FileType,
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := s.store.InsertMessage(ctx, &stored); err != nil {
		client.log.Error().Err(err).Str("room", roomID).Msg("store message failed")
		client.reply(encodeError(roomID, "message could not be saved"))
		return
	}
	stored.SenderAvatar = client.avatar
	s.metrics.IncMessage()

	payload, err := encodeEvent(eventReceive, roomID, toWireMessage(stored, out.CorrelationID))
	if err != nil {
		client.log.Error().Err(err).Msg("encode message failed")
		return
	}
	// members may post to a room this connection is no longer subscribed to,
	// e.g. an upload that finished after the user moved on
	room, joined := client.rooms[roomID]
	if !joined {
		room = s.hub.getOrCreateRoom(roomID)
	}
	room.broadcast <- payload
}

func (s *Server) isMember(client *Client, roomID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	member, err := s.store.IsMember(ctx, roomID, client.userID)
	if err != nil {
		client.log.Error().Err(err).Str("room", roomID).Msg("membership check failed")
		return false
	}
	return member
}
