package internal

import (
	"os"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"studyroom/internal/chat"
)

// ClientOptions configures the terminal client.
type ClientOptions struct {
	// ServerJoinURL is the websocket endpoint, e.g. ws://localhost:8080/ws.
	// The REST base is derived from it.
	ServerJoinURL string
	Username      string
	SessionPath   string
	Policy        chat.UploadPolicy
	Logger        zerolog.Logger
}

// tui model struct for all the components and modes
type TUIModel struct {
	textInput textinput.Model
	viewport  viewport.Model
	progress  progress.Model

	opts     ClientOptions
	apiBase  string
	api      *APIClient
	socket   *SocketChannel
	session  *chat.Session
	identity chat.Identity
	log      zerolog.Logger

	mode          appMode
	authIntent    authIntent
	authUsername  string
	rooms         []roomDTO
	selectedRoom  int
	browsePath    string
	browseItems   []FileItem
	selectedEntry int

	// open upload bodies, closed once the transfer ends
	uploadFiles map[string]*os.File

	notices         []string
	loading         bool
	isConnected     bool
	connectionError error
	reconnectDelay  time.Duration
	viewDirty       bool
	width           int
	height          int
}

type appMode int

const (
	modeAuthMenu appMode = iota
	modeAuthUsername
	modeAuthPassword
	modeRooms
	modeCreateRoom
	modeJoinInvite
	modeChat
	modeFileBrowser
)

type authIntent int

const (
	authIntentLogin authIntent = iota
	authIntentSignup
)

const (
	minReconnectDelay = time.Second
	maxReconnectDelay = 30 * time.Second
	maxNotices        = 5
)

func NewTUIModel(opts ClientOptions) (*TUIModel, error) {
	apiBase, err := httpBaseFromJoinURL(opts.ServerJoinURL)
	if err != nil {
		return nil, err
	}
	if opts.Username == "" {
		opts.Username = defaultUsername()
	}

	input := textinput.New()
	input.CharLimit = 0
	input.Blur()

	model := &TUIModel{
		textInput:      input,
		viewport:       viewport.New(80, 20),
		progress:       progress.New(progress.WithDefaultGradient(), progress.WithWidth(30), progress.WithoutPercentage()),
		opts:           opts,
		apiBase:        apiBase,
		api:            NewAPIClient(apiBase),
		log:            opts.Logger,
		mode:           modeAuthMenu,
		uploadFiles:    make(map[string]*os.File),
		reconnectDelay: minReconnectDelay,
	}
	return model, nil
}

func defaultUsername() string {
	if user := os.Getenv("STUDYROOM_USER"); user != "" {
		return user
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return ""
}

// Init resumes a saved session when there is one.
func (model *TUIModel) Init() tea.Cmd {
	saved, err := loadSessionFromDisk(model.opts.SessionPath)
	if err != nil {
		if !os.IsNotExist(err) {
			model.log.Debug().Err(err).Msg("ignoring saved session")
		}
		return textinput.Blink
	}
	model.api.SetToken(saved.Token)
	model.authUsername = saved.Username
	model.loading = true
	return model.restoreSessionCmd()
}

// startSession builds the room controller once the user is known. It starts
// detached and is attached to the socket when the connection comes up.
func (model *TUIModel) startSession(identity chat.Identity) {
	model.identity = identity
	model.session = chat.NewSession(chat.Options{
		Identity: identity,
		Channel:  detachedChannel{},
		History:  model.api,
		Uploader: model.api,
		Policy:   model.opts.Policy,
		Logger:   model.log.With().Str("component", "session").Logger(),
	})
	model.session.Subscribe(func(chat.Change) {
		model.viewDirty = true
	})
}

func (model *TUIModel) addNotice(text string) {
	model.notices = append(model.notices, text)
	if len(model.notices) > maxNotices {
		model.notices = model.notices[len(model.notices)-maxNotices:]
	}
	model.viewDirty = true
}

func (model *TUIModel) setPrompt(prompt, placeholder string, masked bool) tea.Cmd {
	model.textInput.SetValue("")
	model.textInput.Prompt = prompt
	model.textInput.Placeholder = placeholder
	if masked {
		model.textInput.EchoMode = textinput.EchoPassword
		model.textInput.EchoCharacter = '•'
	} else {
		model.textInput.EchoMode = textinput.EchoNormal
	}
	return model.textInput.Focus()
}

func (model *TUIModel) clearPrompt() {
	model.textInput.SetValue("")
	model.textInput.Blur()
	model.textInput.Prompt = ""
	model.textInput.Placeholder = ""
	model.textInput.EchoMode = textinput.EchoNormal
}

// detachedChannel stands in for the socket while disconnected.
type detachedChannel struct{}

func (detachedChannel) Join(string) error        { return errSocketClosed }
func (detachedChannel) Leave(string) error       { return errSocketClosed }
func (detachedChannel) Send(chat.Outgoing) error { return errSocketClosed }
