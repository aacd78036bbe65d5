package chat

import (
	"time"

	"github.com/google/uuid"
)

// Sender identifies the author of a message.
type Sender struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Identity is the signed-in user. It is resolved once at startup and passed
// to the session explicitly.
type Identity struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Sender returns the identity in the shape used on outgoing messages.
func (id Identity) Sender() Sender {
	return Sender{ID: id.ID, Name: id.Name, AvatarURL: id.AvatarURL}
}

// Message is one chat utterance or file share in a room.
type Message struct {
	ID            string    `json:"id"`
	RoomID        string    `json:"roomId"`
	Sender        Sender    `json:"sender"`
	Content       string    `json:"content"`
	FileURL       string    `json:"fileUrl,omitempty"`
	FileType      string    `json:"fileType,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	CorrelationID string    `json:"correlationId,omitempty"`

	IsOwn     bool `json:"-"`
	Confirmed bool `json:"-"`
}

// Pending reports whether the message is still waiting for the server.
func (m Message) Pending() bool {
	return !m.Confirmed
}

// HasFile reports whether the message carries an attachment.
func (m Message) HasFile() bool {
	return m.FileURL != ""
}

// Outgoing is the payload of a send signal on the realtime channel.
type Outgoing struct {
	RoomID        string `json:"roomId"`
	SenderID      string `json:"senderId"`
	Content       string `json:"content"`
	FileURL       string `json:"fileUrl,omitempty"`
	FileType      string `json:"fileType,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

const (
	textIDPrefix = "temp"
	fileIDPrefix = "file"
)

// NewCorrelationID returns a fresh client-side identifier such as
// "temp-3f0c...". Server ids are uuids without a prefix so the two never collide.
func NewCorrelationID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
