package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"studyroom/internal/chat"
)

var (
	httpTimeout = 10 * time.Second
)

type sessionFile struct {
	Username string `json:"username"`
	Token    string `json:"token"`
}

// APIClient talks to the REST half of the backend. It implements
// chat.HistoryFetcher and chat.Uploader.
type APIClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
}

func (c *APIClient) SetToken(token string) { c.token = token }
func (c *APIClient) Token() string         { return c.token }

// Signup creates an account and keeps the returned token.
func (c *APIClient) Signup(ctx context.Context, username, password string) (chat.Identity, error) {
	return c.authenticate(ctx, "/api/auth/signup", username, password)
}

// Login exchanges credentials for a token and keeps it.
func (c *APIClient) Login(ctx context.Context, username, password string) (chat.Identity, error) {
	return c.authenticate(ctx, "/api/auth/login", username, password)
}

func (c *APIClient) authenticate(ctx context.Context, path, username, password string) (chat.Identity, error) {
	var resp authResponse
	payload := credentialsRequest{Username: username, Password: password}
	if err := c.doJSONRequest(ctx, http.MethodPost, path, payload, &resp); err != nil {
		return chat.Identity{}, err
	}
	c.token = resp.Token
	return resp.User, nil
}

// Me resolves the signed-in user from the current token.
func (c *APIClient) Me(ctx context.Context) (chat.Identity, error) {
	var identity chat.Identity
	err := c.doJSONRequest(ctx, http.MethodGet, "/api/auth/me", nil, &identity)
	return identity, err
}

func (c *APIClient) ListRooms(ctx context.Context) ([]roomDTO, error) {
	var rooms []roomDTO
	if err := c.doJSONRequest(ctx, http.MethodGet, "/api/chatroom", nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (c *APIClient) CreateRoom(ctx context.Context, name string) (roomDTO, error) {
	var room roomDTO
	err := c.doJSONRequest(ctx, http.MethodPost, "/api/chatroom", createRoomRequest{Name: name}, &room)
	return room, err
}

// JoinRoom accepts an invite. Either the bare token or a full invite link works.
func (c *APIClient) JoinRoom(ctx context.Context, invite string) (roomDTO, error) {
	var room roomDTO
	path := "/api/chatroom/join/" + url.PathEscape(inviteToken(invite))
	err := c.doJSONRequest(ctx, http.MethodPost, path, nil, &room)
	return room, err
}

// ExitRoom drops the caller's membership of roomID.
func (c *APIClient) ExitRoom(ctx context.Context, roomID string) error {
	return c.doJSONRequest(ctx, http.MethodPost, "/api/chatroom/exit", exitRoomRequest{RoomID: roomID}, nil)
}

func (c *APIClient) FetchHistory(ctx context.Context, roomID string) ([]chat.Message, error) {
	var messages []chat.Message
	path := "/api/chatroom/messages/" + url.PathEscape(roomID)
	if err := c.doJSONRequest(ctx, http.MethodGet, path, nil, &messages); err != nil {
		return nil, err
	}
	for i := range messages {
		messages[i].FileURL = c.resolve(messages[i].FileURL)
	}
	return messages, nil
}

// Upload streams req.Body as a multipart form and returns the absolute URL of
// the stored file.
func (c *APIClient) Upload(ctx context.Context, req chat.UploadRequest, progress func(sent, total int64)) (string, error) {
	bodyReader, bodyWriter := io.Pipe()
	form := multipart.NewWriter(bodyWriter)

	go func() {
		err := writeUploadForm(form, req, &progressReader{
			reader:   req.Body,
			total:    req.File.Size,
			progress: progress,
		})
		_ = bodyWriter.CloseWithError(err)
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chatroom/upload", bodyReader)
	if err != nil {
		_ = bodyReader.CloseWithError(err)
		return "", err
	}
	httpReq.Header.Set("Content-Type", form.FormDataContentType())
	httpReq.Header.Set("User-Agent", userAgent())
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		_ = bodyReader.CloseWithError(err)
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return "", errUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errors.New(readResponseError(resp.Body))
	}
	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if out.URL == "" {
		return "", errors.New("upload response has no url")
	}
	return c.resolve(out.URL), nil
}

func writeUploadForm(form *multipart.Writer, req chat.UploadRequest, body io.Reader) error {
	if err := form.WriteField("roomId", req.RoomID); err != nil {
		return err
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, req.File.Name))
	contentType := req.File.MIMEType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	part, err := form.CreatePart(header)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, body); err != nil {
		return err
	}
	return form.Close()
}

type progressReader struct {
	reader   io.Reader
	sent     int64
	total    int64
	progress func(sent, total int64)
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.sent += int64(n)
		if r.progress != nil {
			r.progress(r.sent, r.total)
		}
	}
	return n, err
}

// resolve turns the server's relative file links into absolute ones.
func (c *APIClient) resolve(link string) string {
	if link == "" || strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") {
		return link
	}
	return c.baseURL + "/" + strings.TrimLeft(link, "/")
}

func (c *APIClient) doJSONRequest(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(buf)
	}
	ctx, cancel := context.WithTimeout(ctx, httpTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", userAgent())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", errUnauthorized, readResponseError(resp.Body))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, readResponseError(resp.Body))
	}
	if out == nil {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func readResponseError(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return "request failed"
	}
	var parsed map[string]string
	if err := json.Unmarshal(data, &parsed); err == nil {
		if msg, ok := parsed["error"]; ok {
			return msg
		}
	}
	return strings.TrimSpace(string(data))
}

// inviteToken accepts "abc123", "/join/abc123" or a full invite URL.
func inviteToken(invite string) string {
	invite = strings.TrimSpace(invite)
	invite = strings.TrimRight(invite, "/")
	if idx := strings.LastIndex(invite, "/"); idx >= 0 {
		return invite[idx+1:]
	}
	return invite
}

// inviteLink renders the shareable form of a room's invite token.
func inviteLink(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + "/join/" + token
}

func httpBaseFromJoinURL(wsURL string) (string, error) {
	parsed, err := url.Parse(wsURL)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "ws":
		parsed.Scheme = "http"
	case "wss":
		parsed.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported scheme %s", parsed.Scheme)
	}
	parsed.Path = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return strings.TrimRight(parsed.String(), "/"), nil
}

func loadSessionFromDisk(path string) (*sessionFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var session sessionFile
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, err
	}
	if session.Username == "" || session.Token == "" {
		return nil, errors.New("session file incomplete")
	}
	return &session, nil
}

func saveSessionToDisk(path string, session sessionFile) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func deleteSessionFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
