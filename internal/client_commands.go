package internal

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"studyroom/internal/chat"
)

type (
	authDoneMsg struct {
		identity chat.Identity
		username string
		err      error
	}
	roomsLoadedMsg struct {
		rooms []roomDTO
		err   error
	}
	roomOpenedMsg struct {
		room roomDTO
		err  error
	}
	roomExitedMsg struct {
		roomID string
		err    error
	}
	connectedMsg     struct{ socket *SocketChannel }
	connectFailedMsg struct{ err error }
	reconnectMsg     struct{}
	noticeMsg        struct {
		text    string
		notices <-chan string
	}
	directoryMsg struct {
		path  string
		items []FileItem
		err   error
	}
)

func (model *TUIModel) restoreSessionCmd() tea.Cmd {
	api := model.api
	username := model.authUsername
	return func() tea.Msg {
		identity, err := api.Me(context.Background())
		return authDoneMsg{identity: identity, username: username, err: err}
	}
}

func (model *TUIModel) authCmd(intent authIntent, username, password string) tea.Cmd {
	api := model.api
	return func() tea.Msg {
		var (
			identity chat.Identity
			err      error
		)
		if intent == authIntentSignup {
			identity, err = api.Signup(context.Background(), username, password)
		} else {
			identity, err = api.Login(context.Background(), username, password)
		}
		return authDoneMsg{identity: identity, username: username, err: err}
	}
}

func (model *TUIModel) loadRoomsCmd() tea.Cmd {
	api := model.api
	return func() tea.Msg {
		rooms, err := api.ListRooms(context.Background())
		return roomsLoadedMsg{rooms: rooms, err: err}
	}
}

func (model *TUIModel) createRoomCmd(name string) tea.Cmd {
	api := model.api
	return func() tea.Msg {
		room, err := api.CreateRoom(context.Background(), name)
		return roomOpenedMsg{room: room, err: err}
	}
}

func (model *TUIModel) joinRoomCmd(invite string) tea.Cmd {
	api := model.api
	return func() tea.Msg {
		room, err := api.JoinRoom(context.Background(), invite)
		return roomOpenedMsg{room: room, err: err}
	}
}

func (model *TUIModel) exitRoomCmd(roomID string) tea.Cmd {
	api := model.api
	return func() tea.Msg {
		return roomExitedMsg{roomID: roomID, err: api.ExitRoom(context.Background(), roomID)}
	}
}

// websocket dial
func (model *TUIModel) connectCmd() tea.Cmd {
	joinURL := model.opts.ServerJoinURL
	token := model.api.Token()
	log := model.log.With().Str("component", "socket").Logger()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), httpTimeout)
		defer cancel()
		socket, err := DialSocket(ctx, joinURL, token, log)
		if err != nil {
			return connectFailedMsg{err: err}
		}
		return connectedMsg{socket: socket}
	}
}

// scheduleReconnect doubles the delay after every failed attempt.
func (model *TUIModel) scheduleReconnect() tea.Cmd {
	delay := model.reconnectDelay
	model.reconnectDelay *= 2
	if model.reconnectDelay > maxReconnectDelay {
		model.reconnectDelay = maxReconnectDelay
	}
	return tea.Tick(delay, func(time.Time) tea.Msg {
		return reconnectMsg{}
	})
}

func (model *TUIModel) listenCmd() tea.Cmd {
	if model.socket == nil {
		return nil
	}
	return chat.ListenCmd(model.socket.Events(), model.socket.Err)
}

func listenNoticesCmd(notices <-chan string) tea.Cmd {
	return func() tea.Msg {
		text, ok := <-notices
		if !ok {
			return nil
		}
		return noticeMsg{text: text, notices: notices}
	}
}

func loadDirectoryCmd(path string) tea.Cmd {
	return func() tea.Msg {
		items, err := browseDirectory(path)
		return directoryMsg{path: path, items: items, err: err}
	}
}

// RunClient is the entry for bubbletea.
func RunClient(opts ClientOptions) error {
	model, err := NewTUIModel(opts)
	if err != nil {
		return err
	}
	program := tea.NewProgram(model, tea.WithAltScreen())
	_, err = program.Run()
	model.shutdown()
	return err
}

// shutdown releases the socket and any upload bodies still open.
func (model *TUIModel) shutdown() {
	if model.socket != nil {
		_ = model.socket.Close()
		model.socket = nil
	}
	for tempID, file := range model.uploadFiles {
		_ = file.Close()
		delete(model.uploadFiles, tempID)
	}
}

func isUnauthorized(err error) bool {
	return errors.Is(err, errUnauthorized)
}
