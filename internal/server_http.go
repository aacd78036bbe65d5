package internal

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"studyroom/internal/chat"
	"studyroom/internal/storage"
)

const maxRoomNameLength = 64

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expiresAt"`
	User      chat.Identity `json:"user"`
}

type roomDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	OwnerID     string `json:"ownerId"`
	InviteToken string `json:"inviteToken"`
	Online      int    `json:"online"`
}

type createRoomRequest struct {
	Name string `json:"name"`
}

type exitRoomRequest struct {
	RoomID string `json:"roomId"`
}

func (s *Server) HandleSignup(c *gin.Context) {
	username, password, ok := readCredentials(c)
	if !ok {
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	user, err := s.store.CreateUser(c.Request.Context(), username, hash)
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			writeError(c, http.StatusConflict, errors.New("username already taken"))
			return
		}
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	s.metrics.IncSignup()
	s.log.Info().Str("user", user.Username).Msg("user signed up")
	s.respondWithToken(c, http.StatusCreated, user)
}

func (s *Server) HandleLogin(c *gin.Context) {
	username, password, ok := readCredentials(c)
	if !ok {
		return
	}
	user, err := s.store.GetUserByUsername(c.Request.Context(), username)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	if user == nil || bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)) != nil {
		writeError(c, http.StatusUnauthorized, errors.New("invalid credentials"))
		return
	}
	s.metrics.IncLogin()
	s.respondWithToken(c, http.StatusOK, user)
}

func (s *Server) respondWithToken(c *gin.Context, status int, user *storage.User) {
	token, expiresAt, err := s.tokens.Issue(user.ID, user.Username)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(status, authResponse{Token: token, ExpiresAt: expiresAt, User: toIdentity(user)})
}

func readCredentials(c *gin.Context) (string, string, bool) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return "", "", false
	}
	username := strings.TrimSpace(req.Username)
	password := strings.TrimSpace(req.Password)
	if username == "" || password == "" {
		writeError(c, http.StatusBadRequest, errors.New("username and password are required"))
		return "", "", false
	}
	return username, password, true
}

// HandleMe resolves the bearer token to the signed-in user.
func (s *Server) HandleMe(c *gin.Context) {
	user, err := s.store.GetUserByID(c.Request.Context(), currentUserID(c))
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	if user == nil {
		writeError(c, http.StatusUnauthorized, errUnauthorized)
		return
	}
	c.JSON(http.StatusOK, toIdentity(user))
}

func (s *Server) HandleListRooms(c *gin.Context) {
	rooms, err := s.store.ListRoomsForUser(c.Request.Context(), currentUserID(c))
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	out := make([]roomDTO, 0, len(rooms))
	for i := range rooms {
		out = append(out, s.toRoomDTO(&rooms[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) HandleCreateRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(c, http.StatusBadRequest, errors.New("room name is required"))
		return
	}
	if len(name) > maxRoomNameLength {
		writeError(c, http.StatusBadRequest, errors.New("room name is too long"))
		return
	}
	room, err := s.store.CreateRoom(c.Request.Context(), name, currentUserID(c))
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	s.log.Info().Str("room", room.ID).Str("name", room.Name).Msg("room created")
	c.JSON(http.StatusCreated, s.toRoomDTO(room))
}

func (s *Server) HandleJoinRoom(c *gin.Context) {
	token := strings.TrimSpace(c.Param("token"))
	room, err := s.store.JoinRoomByInvite(c.Request.Context(), token, currentUserID(c))
	if err != nil {
		if errors.Is(err, storage.ErrRoomNotFound) {
			writeError(c, http.StatusNotFound, errors.New("invalid invite link"))
			return
		}
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, s.toRoomDTO(room))
}

// HandleExitRoom ends the membership and drops the user's live subscriptions.
func (s *Server) HandleExitRoom(c *gin.Context) {
	var req exitRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.RoomID) == "" {
		writeError(c, http.StatusBadRequest, errors.New("roomId is required"))
		return
	}
	userID := currentUserID(c)
	if err := s.store.LeaveRoom(c.Request.Context(), req.RoomID, userID); err != nil {
		if errors.Is(err, storage.ErrNotMember) {
			writeError(c, http.StatusNotFound, err)
			return
		}
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	s.hub.evict(req.RoomID, userID)
	c.Status(http.StatusNoContent)
}

// HandleMessages returns the room history oldest first.
func (s *Server) HandleMessages(c *gin.Context) {
	roomID := c.Param("roomId")
	member, err := s.store.IsMember(c.Request.Context(), roomID, currentUserID(c))
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	if !member {
		writeError(c, http.StatusForbidden, storage.ErrNotMember)
		return
	}
	limit := s.historyLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n < limit {
			limit = n
		}
	}
	stored, err := s.store.ListMessages(c.Request.Context(), roomID, limit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	out := make([]chat.Message, 0, len(stored))
	for _, msg := range stored {
		out = append(out, toWireMessage(msg, ""))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) toRoomDTO(room *storage.Room) roomDTO {
	return roomDTO{
		ID:          room.ID,
		Name:        room.Name,
		OwnerID:     room.OwnerID,
		InviteToken: room.InviteToken,
		Online:      s.hub.onlineCount(room.ID),
	}
}

func toIdentity(user *storage.User) chat.Identity {
	return chat.Identity{ID: user.ID, Name: user.Username, AvatarURL: user.AvatarURL}
}

func toWireMessage(msg storage.Message, correlationID string) chat.Message {
	return chat.Message{
		ID:     msg.ID,
		RoomID: msg.RoomID,
		Sender: chat.Sender{
			ID:        msg.SenderID,
			Name:      msg.SenderName,
			AvatarURL: msg.SenderAvatar,
		},
		Content:       msg.Content,
		FileURL:       msg.FileURL,
		FileType:      msg.FileType,
		CreatedAt:     msg.CreatedAt,
		CorrelationID: correlationID,
	}
}
