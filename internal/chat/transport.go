package chat

import (
	"context"
	"io"

	tea "github.com/charmbracelet/bubbletea"
)

// Channel is the outbound half of the realtime connection. Implementations
// must not block the caller on network I/O; they queue and return.
type Channel interface {
	Join(roomID string) error
	Leave(roomID string) error
	Send(out Outgoing) error
}

// HistoryFetcher loads the stored messages of a room in server order.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, roomID string) ([]Message, error)
}

// UploadRequest is handed to the Uploader for one file.
type UploadRequest struct {
	TempID string
	RoomID string
	File   FileInfo
	Body   io.Reader
}

// Uploader stores a file and returns the URL it can be fetched from. progress
// is called from the uploading goroutine with bytes sent so far.
type Uploader interface {
	Upload(ctx context.Context, req UploadRequest, progress func(sent, total int64)) (string, error)
}

// IncomingMsg wraps a message received on the realtime channel.
type IncomingMsg struct {
	Message Message
}

// ChannelClosedMsg is produced by ListenCmd once the inbound stream ends.
type ChannelClosedMsg struct {
	Err error
}

// ListenCmd waits for the next inbound message. The caller issues it again
// after each IncomingMsg so events are handled one at a time on the update loop.
func ListenCmd(events <-chan Message, errs func() error) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-events
		if !ok {
			var err error
			if errs != nil {
				err = errs()
			}
			return ChannelClosedMsg{Err: err}
		}
		return IncomingMsg{Message: msg}
	}
}
