package internal

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"studyroom/internal/chat"
)

// pre styled colors, all from lipgloss
var (
	appTitleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	subtitleStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("110")).MarginTop(1)
	menuBoxStyle       = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(1, 2).MarginTop(1)
	menuItemStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).PaddingLeft(1)
	menuHotkeyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	menuHintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	noticeBoxStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("95")).Padding(0, 1).MarginTop(1)
	chatHeaderStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("109")).MarginTop(1)
	connectedStyle     = statusStyle.Copy().Foreground(lipgloss.Color("42")).Bold(true)
	connectingStyle    = statusStyle.Copy().Foreground(lipgloss.Color("178")).Italic(true)
	messageBodyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("253"))
	messageBoxStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(0, 1).MarginTop(1)
	inputBoxStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	timestampStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	usernameStyle      = lipgloss.NewStyle().Bold(true)
	activeUserStyle    = usernameStyle.Copy().Foreground(lipgloss.Color("213"))
	systemMessageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	pendingStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	fileLinkStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("75")).Underline(true)
	uploadCardStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).MarginTop(1)
	errorStyle         = statusStyle.Copy().Foreground(lipgloss.Color("196")).Bold(true)
	uploadErrorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dividerStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("237")).Render(" ┃ ")
	selectedItemStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	listItemStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	userColorPalette   = []lipgloss.Color{
		lipgloss.Color("45"),
		lipgloss.Color("81"),
		lipgloss.Color("141"),
		lipgloss.Color("98"),
		lipgloss.Color("63"),
		lipgloss.Color("135"),
		lipgloss.Color("32"),
	}
)

const browserWindow = 15

func (model TUIModel) View() string {
	switch model.mode {
	case modeAuthMenu:
		return model.renderAuthMenuView()
	case modeAuthUsername, modeAuthPassword:
		return model.renderAuthPromptView()
	case modeRooms:
		return model.renderRoomsView()
	case modeCreateRoom:
		return model.renderPrompt("Create a room", "Pick a name for the new study room.")
	case modeJoinInvite:
		return model.renderPrompt("Join a room", "Paste the invite link or token you were given.")
	case modeFileBrowser:
		return model.renderBrowserView()
	default:
		return model.renderChatView()
	}
}

func (model TUIModel) renderAuthMenuView() string {
	title := appTitleStyle.Render("Studyroom")
	subtitle := subtitleStyle.Render("Group chat rooms for your classes, from the terminal")

	options := []string{
		renderMenuOption("1", "Log in"),
		renderMenuOption("2", "Sign up"),
		renderMenuOption("q", "Quit"),
	}

	viewSections := []string{
		lipgloss.JoinVertical(lipgloss.Left, title, subtitle),
		menuBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, options...)),
	}

	if model.loading {
		viewSections = append(viewSections, connectingStyle.Render("Restoring your session…"))
	}

	if notices := model.renderSystemNotices(); notices != "" {
		viewSections = append(viewSections, notices)
	}

	viewSections = append(viewSections, menuHintStyle.Render("1) Log in  •  2) Sign up  •  q) Quit"))

	return lipgloss.JoinVertical(lipgloss.Left, viewSections...)
}

func (model TUIModel) renderAuthPromptView() string {
	title := "Log in"
	if model.authIntent == authIntentSignup {
		title = "Create an account"
	}
	hint := "Enter your username"
	if model.mode == modeAuthPassword {
		hint = fmt.Sprintf("Enter the password for %s  •  Esc to go back", model.authUsername)
	}
	return model.renderPrompt(title, hint)
}

func (model TUIModel) renderPrompt(title, hint string) string {
	header := appTitleStyle.Render(title)
	hintText := menuHintStyle.Render(hint)

	viewSections := []string{header, hintText}

	if model.loading {
		viewSections = append(viewSections, connectingStyle.Render("Working…"))
	}

	if notices := model.renderSystemNotices(); notices != "" {
		viewSections = append(viewSections, notices)
	}

	viewSections = append(viewSections, inputBoxStyle.Render(model.textInput.View()))

	return lipgloss.JoinVertical(lipgloss.Left, viewSections...)
}

func (model TUIModel) renderRoomsView() string {
	title := appTitleStyle.Render(fmt.Sprintf("Welcome, %s", model.identity.Name))
	subtitle := subtitleStyle.Render(fmt.Sprintf("Rooms: %d  |  %s", len(model.rooms), model.connectionSummary()))

	viewSections := []string{title, subtitle}

	if model.loading {
		viewSections = append(viewSections, connectingStyle.Render("Loading rooms…"))
	}

	if notices := model.renderSystemNotices(); notices != "" {
		viewSections = append(viewSections, notices)
	}

	var roomLines []string
	if len(model.rooms) == 0 {
		roomLines = append(roomLines, menuHintStyle.Render("No rooms yet. Press N to create one or I to join with an invite."))
	} else {
		for idx, room := range model.rooms {
			line := fmt.Sprintf("%s %s", presenceDot(room.Online > 0), room.Name)
			if room.Online > 0 {
				line += fmt.Sprintf("  (%d online)", room.Online)
			}
			if room.OwnerID == model.identity.ID {
				line += "  ★"
			}
			if idx == model.selectedRoom {
				roomLines = append(roomLines, selectedItemStyle.Render("➤ "+line))
			} else {
				roomLines = append(roomLines, listItemStyle.Render("  "+line))
			}
		}
	}
	viewSections = append(viewSections, menuBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, roomLines...)))

	hints := menuHintStyle.Render("↑/↓ select • Enter open • N new room • I join with invite • R refresh • L logout • Q quit")
	viewSections = append(viewSections, hints)

	return lipgloss.JoinVertical(lipgloss.Left, viewSections...)
}

func (model TUIModel) renderChatView() string {
	headerSegments := []string{"Studyroom"}
	if room, ok := model.activeRoom(); ok {
		headerSegments = append(headerSegments, fmt.Sprintf("Room %s", room.Name))
	}
	headerSegments = append(headerSegments, fmt.Sprintf("User %s", model.identity.Name))
	headerSegments = append(headerSegments, fmt.Sprintf("Server %s", model.apiBase))
	header := chatHeaderStyle.Render(strings.Join(headerSegments, dividerStyle))

	sections := []string{header, model.renderStatusLine()}
	if notices := model.renderSystemNotices(); notices != "" {
		sections = append(sections, notices)
	}
	sections = append(sections,
		messageBoxStyle.Render(model.viewport.View()),
		inputBoxStyle.Render(model.textInput.View()),
		menuHintStyle.Render("Esc or /leave back to rooms • /upload <path> • /browse • /dismiss • /invite • /exit • /quit"),
	)
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model TUIModel) renderStatusLine() string {
	var parts []string
	switch {
	case model.connectionError != nil && !model.isConnected:
		parts = append(parts, errorStyle.Render("Reconnecting: "+model.connectionError.Error()))
	case model.isConnected:
		parts = append(parts, connectedStyle.Render("Connected"))
	default:
		parts = append(parts, connectingStyle.Render("Connecting…"))
	}
	if model.session != nil {
		if model.session.Loading() {
			parts = append(parts, connectingStyle.Render("Loading messages…"))
		}
		if err := model.session.Err(); err != nil {
			parts = append(parts, errorStyle.Render(err.Error()))
		}
	}
	joined := make([]string, 0, len(parts)*2)
	for idx, part := range parts {
		if idx > 0 {
			joined = append(joined, "  ")
		}
		joined = append(joined, part)
	}
	return lipgloss.JoinHorizontal(lipgloss.Bottom, joined...)
}

func (model TUIModel) connectionSummary() string {
	switch {
	case model.isConnected:
		return "connected"
	case model.connectionError != nil:
		return "reconnecting"
	default:
		return "connecting"
	}
}

// renderTimeline is the viewport content: messages in order, then the cards
// of uploads that have not been confirmed yet.
func (model TUIModel) renderTimeline() string {
	messages := model.session.Messages()
	uploads := model.session.Uploads()

	var lines []string
	for _, message := range messages {
		lines = append(lines, model.renderChatMessage(message))
	}
	if len(lines) == 0 && !model.session.Loading() {
		lines = append(lines, systemMessageStyle.Render("No messages yet. Say hi and start the conversation."))
	}
	for _, entry := range uploads {
		lines = append(lines, model.renderUploadCard(entry))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// renderChatMessage renders a single log line. It stamps the timestamp, picks
// a color for the sender, and indents multi-line messages so they stay legible.
func (model TUIModel) renderChatMessage(message chat.Message) string {
	timestamp := timestampStyle.Render(fmt.Sprintf("[%s]", message.CreatedAt.Local().Format("15:04:05")))

	var nameStyle lipgloss.Style
	if message.IsOwn {
		nameStyle = activeUserStyle
	} else {
		nameStyle = usernameStyle.Copy().Foreground(colorForUser(message.Sender.Name))
	}
	name := nameStyle.Render(message.Sender.Name)

	var body string
	if message.HasFile() {
		label := strings.TrimPrefix(message.Content, "File: ")
		body = fmt.Sprintf("%s %s %s", fileIcon(message.FileType), messageBodyStyle.Render(label), fileLinkStyle.Render(message.FileURL))
	} else {
		body = messageBodyStyle.Render(strings.ReplaceAll(message.Content, "\n", "\n   "))
	}
	if message.Pending() {
		body += pendingStyle.Render("  (sending…)")
	}

	return lipgloss.JoinHorizontal(lipgloss.Top, timestamp, " ", name, ": ", body)
}

func (model TUIModel) renderUploadCard(entry chat.UploadEntry) string {
	title := fmt.Sprintf("%s %s (%s)", fileIcon(entry.MIMEType), entry.FileName, chat.FormatSize(entry.SizeBytes))
	switch entry.Status {
	case chat.UploadFailed:
		reason := uploadErrorStyle.Render("✗ " + entry.Err)
		return uploadCardStyle.Render(lipgloss.JoinVertical(lipgloss.Left, title, reason, pendingStyle.Render("/dismiss to hide")))
	case chat.UploadSucceeded:
		return uploadCardStyle.Render(lipgloss.JoinVertical(lipgloss.Left, title, pendingStyle.Render("✓ uploaded, sharing with the room…")))
	default:
		bar := model.progress.ViewAs(float64(entry.Progress) / 100)
		return uploadCardStyle.Render(lipgloss.JoinVertical(lipgloss.Left, title, fmt.Sprintf("%s %3d%%", bar, entry.Progress)))
	}
}

func (model TUIModel) renderBrowserView() string {
	title := appTitleStyle.Render("Pick a file to share")
	subtitle := subtitleStyle.Render(model.browsePath)
	viewSections := []string{title, subtitle}

	if notices := model.renderSystemNotices(); notices != "" {
		viewSections = append(viewSections, notices)
	}

	start := 0
	if model.selectedEntry >= browserWindow {
		start = model.selectedEntry - browserWindow + 1
	}
	end := min(start+browserWindow, len(model.browseItems))

	var lines []string
	if len(model.browseItems) == 0 {
		lines = append(lines, menuHintStyle.Render("This folder is empty."))
	}
	for idx := start; idx < end; idx++ {
		item := model.browseItems[idx]
		line := "📁 " + item.Name
		if !item.IsDir {
			line = fmt.Sprintf("📄 %s  %s", item.Name, timestampStyle.Render(chat.FormatSize(item.Size)))
		}
		if idx == model.selectedEntry {
			lines = append(lines, selectedItemStyle.Render("➤ "+line))
		} else {
			lines = append(lines, listItemStyle.Render("  "+line))
		}
	}
	viewSections = append(viewSections, menuBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)))
	limit := chat.FormatSize(model.sessionPolicy().MaxBytes)
	viewSections = append(viewSections, menuHintStyle.Render(fmt.Sprintf("↑/↓ select • Enter open/upload • Backspace parent • Esc cancel • max %s", limit)))
	return lipgloss.JoinVertical(lipgloss.Left, viewSections...)
}

func (model TUIModel) sessionPolicy() chat.UploadPolicy {
	if model.session == nil {
		return chat.DefaultUploadPolicy()
	}
	return model.session.Policy()
}

func renderMenuOption(hotkey string, label string) string {
	key := menuHotkeyStyle.Render(hotkey)
	return lipgloss.JoinHorizontal(lipgloss.Left, key, menuItemStyle.Render(label))
}

func (model TUIModel) renderSystemNotices() string {
	if len(model.notices) == 0 {
		return ""
	}
	notices := make([]string, 0, len(model.notices))
	for _, notice := range model.notices {
		notices = append(notices, systemMessageStyle.Render(notice))
	}
	return noticeBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, notices...))
}

func presenceDot(online bool) string {
	if online {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render("●")
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Render("○")
}

// color for users
func colorForUser(name string) lipgloss.Color {
	if len(userColorPalette) == 0 {
		return lipgloss.Color("249")
	}
	if name == "" {
		return userColorPalette[0]
	}
	var sum int
	for _, r := range name {
		sum += int(r)
	}
	return userColorPalette[sum%len(userColorPalette)]
}
