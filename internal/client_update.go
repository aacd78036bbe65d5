package internal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"studyroom/internal/chat"
)

// Update reacts to key presses and asynchronous events. The room state itself
// lives in the session; this only routes events to it and switches screens.
func (model *TUIModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	cmd := model.update(message)
	if model.viewDirty {
		model.refreshViewport()
	}
	return model, cmd
}

func (model *TUIModel) update(message tea.Msg) tea.Cmd {
	switch typedMessage := message.(type) {
	case tea.KeyMsg:
		if typedMessage.Type == tea.KeyCtrlC {
			return tea.Quit
		}
		return model.handleKey(typedMessage)

	case tea.WindowSizeMsg:
		model.resize(typedMessage.Width, typedMessage.Height)
		return nil

	case authDoneMsg:
		return model.handleAuthDone(typedMessage)

	case roomsLoadedMsg:
		model.loading = false
		if typedMessage.err != nil {
			return model.handleRequestError("Could not load rooms", typedMessage.err)
		}
		model.rooms = typedMessage.rooms
		if model.selectedRoom >= len(model.rooms) {
			model.selectedRoom = max(len(model.rooms)-1, 0)
		}
		return nil

	case roomOpenedMsg:
		model.loading = false
		if typedMessage.err != nil {
			return model.handleRequestError("Could not open room", typedMessage.err)
		}
		model.upsertRoom(typedMessage.room)
		return model.openRoom(typedMessage.room)

	case roomExitedMsg:
		if typedMessage.err != nil {
			return model.handleRequestError("Could not exit room", typedMessage.err)
		}
		name := typedMessage.roomID
		for idx, room := range model.rooms {
			if room.ID == typedMessage.roomID {
				name = room.Name
				model.rooms = append(model.rooms[:idx], model.rooms[idx+1:]...)
				break
			}
		}
		model.addNotice(fmt.Sprintf("You left %s.", name))
		if model.session != nil && model.session.RoomID() == typedMessage.roomID {
			return model.backToRooms()
		}
		return nil

	case connectedMsg:
		return model.handleConnected(typedMessage.socket)

	case connectFailedMsg:
		model.connectionError = typedMessage.err
		if isUnauthorized(typedMessage.err) {
			model.logout("Your session has expired. Please log in again.")
			return nil
		}
		if model.session == nil {
			return nil
		}
		model.log.Debug().Err(typedMessage.err).Dur("retry_in", model.reconnectDelay).Msg("connect failed")
		return model.scheduleReconnect()

	case reconnectMsg:
		if model.session != nil && !model.isConnected {
			return model.connectCmd()
		}
		return nil

	case chat.ChannelClosedMsg:
		if !model.isConnected {
			return nil
		}
		model.isConnected = false
		model.connectionError = typedMessage.Err
		if model.connectionError == nil {
			model.connectionError = errSocketClosed
		}
		model.socket = nil
		model.viewDirty = true
		if model.session == nil {
			return nil
		}
		model.session.SetChannel(detachedChannel{})
		model.log.Warn().Err(typedMessage.Err).Msg("realtime connection lost")
		return model.scheduleReconnect()

	case noticeMsg:
		model.addNotice(typedMessage.text)
		return listenNoticesCmd(typedMessage.notices)

	case chat.IncomingMsg:
		if model.session != nil {
			model.session.Update(typedMessage)
		}
		return model.listenCmd()

	case chat.UploadDoneMsg:
		model.closeUpload(typedMessage.TempID)
		return model.forwardToSession(typedMessage)

	case chat.UploadFailedMsg:
		model.closeUpload(typedMessage.TempID)
		return model.forwardToSession(typedMessage)

	case chat.HistoryMsg, chat.UploadProgressMsg, chat.UploadExpiredMsg:
		return model.forwardToSession(typedMessage)

	case directoryMsg:
		if typedMessage.err != nil {
			model.addNotice("Cannot open folder: " + typedMessage.err.Error())
			if model.browseItems == nil {
				return model.backToChat()
			}
			return nil
		}
		model.browsePath = typedMessage.path
		model.browseItems = typedMessage.items
		model.selectedEntry = 0
		return nil
	}
	return nil
}

func (model *TUIModel) forwardToSession(message tea.Msg) tea.Cmd {
	if model.session == nil {
		return nil
	}
	return model.session.Update(message)
}

func (model *TUIModel) handleKey(key tea.KeyMsg) tea.Cmd {
	switch model.mode {
	case modeAuthMenu:
		switch key.String() {
		case "1", "l", "L":
			return model.beginAuth(authIntentLogin)
		case "2", "s", "S":
			return model.beginAuth(authIntentSignup)
		case "q", "Q", "esc":
			return tea.Quit
		}
		return nil

	case modeAuthUsername:
		switch key.Type {
		case tea.KeyEsc:
			model.mode = modeAuthMenu
			model.clearPrompt()
			return nil
		case tea.KeyEnter:
			trimmed := strings.TrimSpace(model.textInput.Value())
			if trimmed == "" {
				model.addNotice("Username cannot be empty.")
				return nil
			}
			model.authUsername = trimmed
			model.mode = modeAuthPassword
			return model.setPrompt("password> ", "Enter your password…", true)
		}
		return model.updateInput(key)

	case modeAuthPassword:
		switch key.Type {
		case tea.KeyEsc:
			model.mode = modeAuthUsername
			cmd := model.setPrompt("name> ", "Enter your username…", false)
			model.textInput.SetValue(model.authUsername)
			return cmd
		case tea.KeyEnter:
			password := model.textInput.Value()
			if password == "" {
				model.addNotice("Password cannot be empty.")
				return nil
			}
			if model.loading {
				return nil
			}
			model.loading = true
			model.textInput.SetValue("")
			return model.authCmd(model.authIntent, model.authUsername, password)
		}
		return model.updateInput(key)

	case modeRooms:
		return model.handleRoomsKey(key)

	case modeCreateRoom, modeJoinInvite:
		switch key.Type {
		case tea.KeyEsc:
			return model.backToRooms()
		case tea.KeyEnter:
			trimmed := strings.TrimSpace(model.textInput.Value())
			if trimmed == "" || model.loading {
				return nil
			}
			model.loading = true
			if model.mode == modeCreateRoom {
				return model.createRoomCmd(trimmed)
			}
			return model.joinRoomCmd(trimmed)
		}
		return model.updateInput(key)

	case modeChat:
		switch key.Type {
		case tea.KeyEsc:
			return model.backToRooms()
		case tea.KeyEnter:
			text := model.textInput.Value()
			model.textInput.SetValue("")
			return model.handleChatInput(text)
		case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
			var cmd tea.Cmd
			model.viewport, cmd = model.viewport.Update(key)
			return cmd
		}
		return model.updateInput(key)

	case modeFileBrowser:
		return model.handleBrowserKey(key)
	}
	return nil
}

func (model *TUIModel) handleRoomsKey(key tea.KeyMsg) tea.Cmd {
	switch key.String() {
	case "up", "k":
		if model.selectedRoom > 0 {
			model.selectedRoom--
		}
	case "down", "j":
		if model.selectedRoom < len(model.rooms)-1 {
			model.selectedRoom++
		}
	case "enter":
		if model.selectedRoom < len(model.rooms) {
			return model.openRoom(model.rooms[model.selectedRoom])
		}
	case "n", "N":
		model.mode = modeCreateRoom
		return model.setPrompt("name> ", "Room name…", false)
	case "i", "I":
		model.mode = modeJoinInvite
		return model.setPrompt("invite> ", "Invite link or token…", false)
	case "r", "R":
		model.loading = true
		return model.loadRoomsCmd()
	case "l", "L":
		model.logout("Logged out.")
	case "q", "Q", "esc":
		return tea.Quit
	}
	return nil
}

func (model *TUIModel) handleBrowserKey(key tea.KeyMsg) tea.Cmd {
	switch key.String() {
	case "up", "k":
		if model.selectedEntry > 0 {
			model.selectedEntry--
		}
	case "down", "j":
		if model.selectedEntry < len(model.browseItems)-1 {
			model.selectedEntry++
		}
	case "backspace", "h", "left":
		return loadDirectoryCmd(filepath.Dir(model.browsePath))
	case "enter", "right":
		if model.selectedEntry >= len(model.browseItems) {
			return nil
		}
		item := model.browseItems[model.selectedEntry]
		if item.IsDir {
			return loadDirectoryCmd(item.Path)
		}
		return tea.Batch(model.backToChat(), model.startUpload(item.Path))
	case "esc", "q":
		return model.backToChat()
	}
	return nil
}

// handleChatInput sends plain text and runs slash commands locally.
func (model *TUIModel) handleChatInput(text string) tea.Cmd {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		if _, err := model.session.SendText(text); err != nil && !errors.Is(err, chat.ErrEmptyMessage) {
			model.log.Debug().Err(err).Msg("send failed")
		}
		return nil
	}

	fields := strings.Fields(trimmed)
	command := strings.ToLower(fields[0])
	argument := strings.TrimSpace(strings.TrimPrefix(trimmed, fields[0]))
	switch command {
	case "/quit":
		return tea.Quit
	case "/leave":
		return model.backToRooms()
	case "/exit":
		return model.exitRoomCmd(model.session.RoomID())
	case "/invite":
		if room, ok := model.activeRoom(); ok {
			model.addNotice("Invite link: " + inviteLink(model.apiBase, room.InviteToken))
		}
	case "/dismiss":
		if model.session.Err() != nil {
			model.session.ClearErr()
			model.viewDirty = true
		} else if !model.session.DismissLastFailed() {
			model.addNotice("Nothing to dismiss.")
		}
	case "/browse":
		model.mode = modeFileBrowser
		model.textInput.Blur()
		start := argument
		if start == "" {
			start = model.browsePath
		}
		if start == "" {
			start = getDefaultBrowsePath()
		}
		return loadDirectoryCmd(expandHome(start))
	case "/upload":
		if argument == "" {
			model.addNotice("Usage: /upload <path>")
			return nil
		}
		return model.startUpload(argument)
	case "/help":
		model.addNotice("Commands: /upload <path>, /browse, /dismiss, /invite, /leave, /exit, /quit")
	default:
		model.addNotice(fmt.Sprintf("Unknown command %s. Try /help.", command))
	}
	return nil
}

// startUpload opens the file and hands it to the session. Validation failures
// are reported as notices and never create an upload card.
func (model *TUIModel) startUpload(path string) tea.Cmd {
	path = expandHome(path)
	info, err := fileInfoFor(path)
	if err != nil {
		model.addNotice(err.Error())
		return nil
	}
	file, err := os.Open(path)
	if err != nil {
		model.addNotice("Cannot open file: " + err.Error())
		return nil
	}
	tempID, cmd, err := model.session.BeginUpload(info, file)
	if err != nil {
		_ = file.Close()
		model.addNotice(err.Error())
		return nil
	}
	model.uploadFiles[tempID] = file
	return cmd
}

func (model *TUIModel) closeUpload(tempID string) {
	if file, ok := model.uploadFiles[tempID]; ok {
		_ = file.Close()
		delete(model.uploadFiles, tempID)
	}
}

func (model *TUIModel) beginAuth(intent authIntent) tea.Cmd {
	model.authIntent = intent
	model.mode = modeAuthUsername
	cmd := model.setPrompt("name> ", "Enter your username…", false)
	model.textInput.SetValue(model.opts.Username)
	return cmd
}

func (model *TUIModel) handleAuthDone(msg authDoneMsg) tea.Cmd {
	model.loading = false
	if msg.err != nil {
		if isUnauthorized(msg.err) {
			if err := deleteSessionFile(model.opts.SessionPath); err != nil {
				model.log.Warn().Err(err).Msg("could not remove session file")
			}
		}
		model.api.SetToken("")
		model.addNotice(authFailureText(msg.err))
		if model.mode == modeAuthPassword {
			return nil
		}
		model.mode = modeAuthMenu
		model.clearPrompt()
		return nil
	}

	if err := saveSessionToDisk(model.opts.SessionPath, sessionFile{Username: msg.username, Token: model.api.Token()}); err != nil {
		model.log.Warn().Err(err).Msg("could not save session")
	}
	model.log.Info().Str("user", msg.identity.Name).Msg("signed in")
	model.notices = nil
	model.startSession(msg.identity)
	model.mode = modeRooms
	model.clearPrompt()
	model.loading = true
	return tea.Batch(model.loadRoomsCmd(), model.connectCmd())
}

func authFailureText(err error) string {
	if isUnauthorized(err) {
		return "Invalid username or password."
	}
	return "Sign-in failed: " + err.Error()
}

func (model *TUIModel) handleConnected(socket *SocketChannel) tea.Cmd {
	if model.session == nil {
		_ = socket.Close()
		return nil
	}
	model.socket = socket
	model.isConnected = true
	model.connectionError = nil
	model.reconnectDelay = minReconnectDelay
	model.viewDirty = true
	model.session.SetChannel(socket)
	if err := model.session.Rejoin(); err != nil {
		model.log.Warn().Err(err).Msg("rejoin failed")
	}
	model.log.Debug().Str("room", model.session.RoomID()).Msg("realtime connected")
	return tea.Batch(model.listenCmd(), listenNoticesCmd(socket.Notices()))
}

// handleRequestError drops back to the login screen when the token is no
// longer accepted and shows a notice otherwise.
func (model *TUIModel) handleRequestError(prefix string, err error) tea.Cmd {
	if isUnauthorized(err) {
		model.logout("Your session has expired. Please log in again.")
		return nil
	}
	model.addNotice(fmt.Sprintf("%s: %v", prefix, err))
	return nil
}

func (model *TUIModel) openRoom(room roomDTO) tea.Cmd {
	model.mode = modeChat
	focus := model.setPrompt("> ", "Type a message…", false)
	model.viewDirty = true
	return tea.Batch(focus, model.session.EnterRoom(room.ID))
}

func (model *TUIModel) backToRooms() tea.Cmd {
	if model.session != nil {
		model.session.ExitRoom()
	}
	model.mode = modeRooms
	model.clearPrompt()
	model.loading = true
	return model.loadRoomsCmd()
}

func (model *TUIModel) backToChat() tea.Cmd {
	model.mode = modeChat
	return model.setPrompt("> ", "Type a message…", false)
}

func (model *TUIModel) logout(notice string) {
	model.isConnected = false
	model.shutdown()
	if err := deleteSessionFile(model.opts.SessionPath); err != nil {
		model.log.Warn().Err(err).Msg("could not remove session file")
	}
	model.api.SetToken("")
	model.session = nil
	model.identity = chat.Identity{}
	model.rooms = nil
	model.selectedRoom = 0
	model.mode = modeAuthMenu
	model.clearPrompt()
	model.addNotice(notice)
}

func (model *TUIModel) activeRoom() (roomDTO, bool) {
	if model.session == nil {
		return roomDTO{}, false
	}
	for _, room := range model.rooms {
		if room.ID == model.session.RoomID() {
			return room, true
		}
	}
	return roomDTO{}, false
}

func (model *TUIModel) upsertRoom(room roomDTO) {
	for idx := range model.rooms {
		if model.rooms[idx].ID == room.ID {
			model.rooms[idx] = room
			model.selectedRoom = idx
			return
		}
	}
	model.rooms = append(model.rooms, room)
	model.selectedRoom = len(model.rooms) - 1
}

func (model *TUIModel) updateInput(key tea.KeyMsg) tea.Cmd {
	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return cmd
}

func (model *TUIModel) resize(width, height int) {
	model.width = width
	model.height = height
	model.viewport.Width = max(width-6, 20)
	// header, status, notices, input and hint
	model.viewport.Height = max(height-14, 5)
	model.progress.Width = min(30, max(width/3, 10))
	model.textInput.Width = max(width-8, 10)
	model.viewDirty = true
}

func (model *TUIModel) refreshViewport() {
	model.viewDirty = false
	if model.session == nil {
		model.viewport.SetContent("")
		return
	}
	follow := model.viewport.AtBottom()
	model.viewport.SetContent(model.renderTimeline())
	if follow {
		model.viewport.GotoBottom()
	}
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
