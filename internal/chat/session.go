package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
)

const (
	defaultFetchTimeout  = 10 * time.Second
	defaultUploadTimeout = 30 * time.Second
)

// HistoryMsg carries the result of the history fetch issued by EnterRoom.
type HistoryMsg struct {
	RoomID   string
	Messages []Message
	Err      error
	seq      uint64
}

// UploadProgressMsg reports bytes sent for one upload.
type UploadProgressMsg struct {
	TempID  string
	Percent int
	next    <-chan tea.Msg
}

// UploadDoneMsg means the file is stored and the message can be announced.
type UploadDoneMsg struct {
	TempID   string
	RoomID   string
	URL      string
	FileName string
	FileType string
	next     <-chan tea.Msg
}

// UploadFailedMsg means the transfer did not complete.
type UploadFailedMsg struct {
	TempID string
	Err    error
	next   <-chan tea.Msg
}

// UploadExpiredMsg fires when a failed upload card's grace period ends.
type UploadExpiredMsg struct {
	TempID string
}

// Options configures a Session. Identity and Channel are required; History and
// Uploader may be nil in which case rooms open empty and uploads fail.
type Options struct {
	Identity      Identity
	Channel       Channel
	History       HistoryFetcher
	Uploader      Uploader
	Policy        UploadPolicy
	Logger        zerolog.Logger
	NewID         func(prefix string) string
	Now           func() time.Time
	FetchTimeout  time.Duration
	UploadTimeout time.Duration
}

// Session is the active-room controller. It owns the message list and the
// upload cards of exactly one room at a time and keeps the realtime
// subscription in step with it. Every method is meant to be called from the
// Bubble Tea update loop; network work is returned as commands.
type Session struct {
	identity Identity
	channel  Channel
	history  HistoryFetcher
	uploader Uploader
	log      zerolog.Logger
	newID    func(prefix string) string
	now      func() time.Time

	fetchTimeout  time.Duration
	uploadTimeout time.Duration

	messages *Reconciler
	uploads  *UploadTracker
	changes  notifier

	roomID   string
	fetchSeq uint64
	loading  bool
	err      error
}

func NewSession(opts Options) *Session {
	if opts.NewID == nil {
		opts.NewID = NewCorrelationID
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = defaultUploadTimeout
	}
	newID := opts.NewID
	return &Session{
		identity:      opts.Identity,
		channel:       opts.Channel,
		history:       opts.History,
		uploader:      opts.Uploader,
		log:           opts.Logger,
		newID:         newID,
		now:           opts.Now,
		fetchTimeout:  opts.FetchTimeout,
		uploadTimeout: opts.UploadTimeout,
		messages:      NewReconciler(),
		uploads:       NewUploadTracker(opts.Policy, func() string { return newID(fileIDPrefix) }),
	}
}

func (s *Session) RoomID() string         { return s.roomID }
func (s *Session) Identity() Identity     { return s.identity }
func (s *Session) Messages() []Message    { return s.messages.Messages() }
func (s *Session) Uploads() []UploadEntry { return s.uploads.Entries() }
func (s *Session) Policy() UploadPolicy   { return s.uploads.Policy() }

// Loading reports whether the history fetch for the active room is in flight.
func (s *Session) Loading() bool { return s.loading }

// Err returns the last error surfaced to the user, if any.
func (s *Session) Err() error { return s.err }

func (s *Session) ClearErr() { s.err = nil }

// Subscribe registers fn for change notifications and returns a cancel func.
func (s *Session) Subscribe(fn func(Change)) func() {
	return s.changes.subscribe(fn)
}

// EnterRoom switches the session to roomID. The previous room is left first,
// both lists are cleared before this returns, and the returned command fetches
// the history. A fetch result for anything but the latest EnterRoom is dropped.
// An empty id behaves like ExitRoom.
func (s *Session) EnterRoom(roomID string) tea.Cmd {
	if roomID == "" {
		s.ExitRoom()
		return nil
	}
	if s.roomID != "" && s.roomID != roomID {
		s.leaveChannel(s.roomID)
	}
	s.roomID = roomID
	s.resetLists()
	s.err = nil
	s.fetchSeq++
	s.loading = true
	s.publish(RoomChanged)

	if err := s.channel.Join(roomID); err != nil {
		s.err = fmt.Errorf("join room: %w", err)
		s.log.Warn().Err(err).Str("room", roomID).Msg("join signal failed")
	}
	s.log.Debug().Str("room", roomID).Uint64("seq", s.fetchSeq).Msg("entered room")
	return s.fetchHistoryCmd(roomID, s.fetchSeq)
}

// ExitRoom leaves the active room, if any, and clears all room state.
func (s *Session) ExitRoom() {
	if s.roomID == "" {
		return
	}
	s.leaveChannel(s.roomID)
	s.log.Debug().Str("room", s.roomID).Msg("left room")
	s.roomID = ""
	s.fetchSeq++
	s.loading = false
	s.err = nil
	s.resetLists()
	s.publish(RoomChanged)
}

// Rejoin re-sends the join signal for the active room, used after the
// realtime connection has been re-established.
func (s *Session) Rejoin() error {
	if s.roomID == "" {
		return nil
	}
	return s.channel.Join(s.roomID)
}

// SetChannel swaps the realtime channel, used after a reconnect.
func (s *Session) SetChannel(channel Channel) {
	s.channel = channel
}

// SendText shows the message immediately and hands it to the channel. If the
// send fails the message stays in the list as unconfirmed.
func (s *Session) SendText(content string) (string, error) {
	if s.roomID == "" {
		return "", ErrNoRoom
	}
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyMessage
	}
	correlationID := s.newID(textIDPrefix)
	s.messages.AppendOptimistic(Message{
		RoomID:        s.roomID,
		Sender:        s.identity.Sender(),
		Content:       content,
		CreatedAt:     s.now(),
		CorrelationID: correlationID,
		IsOwn:         true,
	})
	s.publish(MessagesChanged)

	err := s.channel.Send(Outgoing{
		RoomID:        s.roomID,
		SenderID:      s.identity.ID,
		Content:       content,
		CorrelationID: correlationID,
	})
	if err != nil {
		s.err = fmt.Errorf("send message: %w", err)
		s.log.Warn().Err(err).Str("correlation_id", correlationID).Msg("send failed, message left unconfirmed")
		return correlationID, s.err
	}
	return correlationID, nil
}

// Receive merges a message delivered by the realtime channel. Events for rooms
// other than the active one are ignored.
func (s *Session) Receive(msg Message) MergeResult {
	if s.roomID == "" || (msg.RoomID != "" && msg.RoomID != s.roomID) {
		s.log.Debug().Str("room", msg.RoomID).Str("id", msg.ID).Msg("dropping message for inactive room")
		return MergeRejected
	}
	if msg.RoomID == "" {
		msg.RoomID = s.roomID
	}
	msg.IsOwn = msg.Sender.ID != "" && msg.Sender.ID == s.identity.ID

	result := s.messages.MergeIncoming(msg)
	s.log.Debug().Str("id", msg.ID).Str("correlation_id", msg.CorrelationID).Stringer("result", result).Msg("merged incoming message")
	if result != MergeDuplicate && result != MergeRejected {
		s.publish(MessagesChanged)
	}
	if msg.CorrelationID != "" && s.uploads.Resolve(msg.CorrelationID) {
		s.publish(UploadsChanged)
	}
	return result
}

// BeginUpload validates the file and starts the transfer. Validation errors
// are returned synchronously and no card is created for them.
func (s *Session) BeginUpload(file FileInfo, body io.Reader) (string, tea.Cmd, error) {
	if s.roomID == "" {
		return "", nil, ErrNoRoom
	}
	tempID, err := s.uploads.Begin(file)
	if err != nil {
		return "", nil, err
	}
	s.publish(UploadsChanged)
	entry, _ := s.uploads.Get(tempID)
	req := UploadRequest{
		TempID: tempID,
		RoomID: s.roomID,
		File:   FileInfo{Name: entry.FileName, Size: entry.SizeBytes, MIMEType: entry.MIMEType},
		Body:   body,
	}
	s.log.Debug().Str("temp_id", tempID).Str("file", file.Name).Int64("size", file.Size).Msg("upload started")
	return tempID, s.uploadCmd(req), nil
}

// ReportProgress updates the progress bar of an upload.
func (s *Session) ReportProgress(tempID string, percent int) {
	if s.uploads.ReportProgress(tempID, percent) {
		s.publish(UploadsChanged)
	}
}

// CompleteUpload marks the upload as stored and announces the file on the
// realtime channel using the upload's temp id as correlation id.
func (s *Session) CompleteUpload(tempID, resultURL string) error {
	entry, ok := s.uploads.Complete(tempID, resultURL)
	if !ok {
		return nil
	}
	s.publish(UploadsChanged)
	return s.announceFile(s.roomID, tempID, resultURL, entry.FileName, entry.MIMEType)
}

// FailUpload marks the upload as failed and schedules its removal.
func (s *Session) FailUpload(tempID, reason string) tea.Cmd {
	if !s.uploads.Fail(tempID, reason) {
		return nil
	}
	s.publish(UploadsChanged)
	s.log.Warn().Str("temp_id", tempID).Str("reason", reason).Msg("upload failed")
	return tea.Tick(s.uploads.Policy().ErrorTTL, func(time.Time) tea.Msg {
		return UploadExpiredMsg{TempID: tempID}
	})
}

// DismissUpload removes a failed upload card right away.
func (s *Session) DismissUpload(tempID string) bool {
	if !s.uploads.Dismiss(tempID) {
		return false
	}
	s.publish(UploadsChanged)
	return true
}

// DismissLastFailed dismisses the most recent failed upload card.
func (s *Session) DismissLastFailed() bool {
	entry, ok := s.uploads.LastFailed()
	if !ok {
		return false
	}
	return s.DismissUpload(entry.TempID)
}

// Update applies the results of commands returned by the session.
func (s *Session) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case HistoryMsg:
		s.applyHistory(msg)
		return nil
	case IncomingMsg:
		s.Receive(msg.Message)
		return nil
	case UploadProgressMsg:
		s.ReportProgress(msg.TempID, msg.Percent)
		return waitUploadEvent(msg.next)
	case UploadDoneMsg:
		if _, ok := s.uploads.Complete(msg.TempID, msg.URL); ok {
			s.publish(UploadsChanged)
		}
		if err := s.announceFile(msg.RoomID, msg.TempID, msg.URL, msg.FileName, msg.FileType); err != nil {
			s.log.Warn().Err(err).Str("temp_id", msg.TempID).Msg("file announce failed")
		}
		return waitUploadEvent(msg.next)
	case UploadFailedMsg:
		reason := "upload failed"
		if msg.Err != nil {
			reason = msg.Err.Error()
		}
		return tea.Batch(s.FailUpload(msg.TempID, reason), waitUploadEvent(msg.next))
	case UploadExpiredMsg:
		if s.uploads.Expire(msg.TempID) {
			s.publish(UploadsChanged)
		}
		return nil
	}
	return nil
}

func (s *Session) applyHistory(msg HistoryMsg) {
	if msg.seq != s.fetchSeq || msg.RoomID != s.roomID {
		s.log.Debug().Str("room", msg.RoomID).Msg("discarding stale history")
		return
	}
	s.loading = false
	if msg.Err != nil {
		s.err = fmt.Errorf("load messages: %w", msg.Err)
		s.log.Warn().Err(msg.Err).Str("room", msg.RoomID).Msg("history fetch failed")
		return
	}
	for i := range msg.Messages {
		msg.Messages[i].IsOwn = msg.Messages[i].Sender.ID == s.identity.ID
		if msg.Messages[i].RoomID == "" {
			msg.Messages[i].RoomID = msg.RoomID
		}
	}
	s.messages.LoadHistory(msg.Messages)
	s.publish(MessagesChanged)
}

func (s *Session) announceFile(roomID, tempID, url, fileName, fileType string) error {
	if roomID == "" {
		return ErrNoRoom
	}
	err := s.channel.Send(Outgoing{
		RoomID:        roomID,
		SenderID:      s.identity.ID,
		Content:       "File: " + fileName,
		FileURL:       url,
		FileType:      fileType,
		CorrelationID: tempID,
	})
	if err != nil {
		s.err = fmt.Errorf("send file message: %w", err)
		return s.err
	}
	return nil
}

func (s *Session) fetchHistoryCmd(roomID string, seq uint64) tea.Cmd {
	history := s.history
	timeout := s.fetchTimeout
	return func() tea.Msg {
		if history == nil {
			return HistoryMsg{RoomID: roomID, seq: seq}
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		messages, err := history.FetchHistory(ctx, roomID)
		return HistoryMsg{RoomID: roomID, Messages: messages, Err: err, seq: seq}
	}
}

func (s *Session) uploadCmd(req UploadRequest) tea.Cmd {
	uploader := s.uploader
	timeout := s.uploadTimeout
	return func() tea.Msg {
		events := make(chan tea.Msg, 8)
		go func() {
			defer close(events)
			if uploader == nil {
				events <- UploadFailedMsg{TempID: req.TempID, Err: errors.New("uploads are not available")}
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			url, err := uploader.Upload(ctx, req, func(sent, total int64) {
				if total <= 0 {
					return
				}
				progress := UploadProgressMsg{TempID: req.TempID, Percent: int(sent * 100 / total)}
				select {
				case events <- progress:
				default:
					// the next report carries a higher value anyway
				}
			})
			if err != nil {
				events <- UploadFailedMsg{TempID: req.TempID, Err: err}
				return
			}
			events <- UploadDoneMsg{
				TempID:   req.TempID,
				RoomID:   req.RoomID,
				URL:      url,
				FileName: req.File.Name,
				FileType: req.File.MIMEType,
			}
		}()
		return nextUploadEvent(events)
	}
}

func waitUploadEvent(events <-chan tea.Msg) tea.Cmd {
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		return nextUploadEvent(events)
	}
}

// nextUploadEvent reads one event and threads the channel through it so
// Update can ask for the following one.
func nextUploadEvent(events <-chan tea.Msg) tea.Msg {
	msg, ok := <-events
	if !ok {
		return nil
	}
	switch m := msg.(type) {
	case UploadProgressMsg:
		m.next = events
		return m
	case UploadDoneMsg:
		m.next = events
		return m
	case UploadFailedMsg:
		m.next = events
		return m
	}
	return msg
}

func (s *Session) leaveChannel(roomID string) {
	if err := s.channel.Leave(roomID); err != nil {
		s.log.Warn().Err(err).Str("room", roomID).Msg("leave signal failed")
	}
}

func (s *Session) resetLists() {
	s.messages.Clear()
	s.uploads.Clear()
	s.publish(MessagesChanged)
	s.publish(UploadsChanged)
}

func (s *Session) publish(kind ChangeKind) {
	s.changes.publish(Change{Kind: kind, RoomID: s.roomID})
}
