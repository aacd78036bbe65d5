package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlite "modernc.org/sqlite"
)

const (
	sqliteConstraintCode = 19
	defaultBusyTimeout   = 5000
	defaultHistoryLimit  = 200
)

// Store wraps the SQLite handle and exposes helper methods used by the server.
type Store struct {
	db *sql.DB
}

// User represents a row in the users table.
type User struct {
	ID           string
	Username     string
	PasswordHash []byte
	AvatarURL    string
	CreatedAt    time.Time
}

// Room is a chat room. InviteToken lets other users join it.
type Room struct {
	ID          string
	Name        string
	OwnerID     string
	InviteToken string
	CreatedAt   time.Time
}

// Message is a stored chat message joined with its sender.
type Message struct {
	ID           string
	RoomID       string
	SenderID     string
	SenderName   string
	SenderAvatar string
	Content      string
	FileURL      string
	FileType     string
	CreatedAt    time.Time
}

// File is the metadata of an uploaded file. StoragePath is relative to the
// upload directory.
type File struct {
	ID          string
	RoomID      string
	UploaderID  string
	Filename    string
	MIMEType    string
	SizeBytes   int64
	SHA256      string
	StoragePath string
	ThumbPath   string
	CreatedAt   time.Time
}

var (
	// ErrUserExists is returned when attempting to insert a duplicate username.
	ErrUserExists = errors.New("user already exists")
	// ErrRoomNotFound is returned for unknown room ids and invite tokens.
	ErrRoomNotFound = errors.New("room not found")
	// ErrNotMember is returned when a user acts on a room they do not belong to.
	ErrNotMember = errors.New("not a member of this room")
)

// NewStore initializes the SQLite database at the provided path. Call Close when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "studyroom.db"
	}
	dsn := buildDSN(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=foreign_keys=ON", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password_hash BLOB NOT NULL,
			avatar_url TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS rooms (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			invite_token TEXT NOT NULL UNIQUE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(owner_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS room_members (
			room_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			joined_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (room_id, user_id),
			FOREIGN KEY(room_id) REFERENCES rooms(id) ON DELETE CASCADE,
			FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			room_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			file_url TEXT NOT NULL DEFAULT '',
			file_type TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			FOREIGN KEY(room_id) REFERENCES rooms(id) ON DELETE CASCADE,
			FOREIGN KEY(sender_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, seq);`,
		`CREATE TABLE IF NOT EXISTS files (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			uploader_id TEXT NOT NULL,
			filename TEXT NOT NULL,
			mime_type TEXT NOT NULL DEFAULT '',
			size_bytes INTEGER NOT NULL,
			sha256 TEXT NOT NULL,
			storage_path TEXT NOT NULL,
			thumb_path TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(room_id) REFERENCES rooms(id) ON DELETE CASCADE
		);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CreateUser inserts a new user. ErrUserExists is returned on conflicts.
func (s *Store) CreateUser(ctx context.Context, username string, passwordHash []byte) (*User, error) {
	user := &User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, username, password_hash, created_at) VALUES(?, ?, ?, ?)`,
		user.ID, user.Username, user.PasswordHash, user.CreatedAt)
	if err != nil {
		if isConstraintError(err) {
			return nil, ErrUserExists
		}
		return nil, err
	}
	return user, nil
}

// GetUserByUsername fetches a user by username. A missing user is (nil, nil).
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, username, password_hash, avatar_url, created_at FROM users WHERE username = ?`, username)
	return scanUser(row)
}

// GetUserByID fetches a user by primary key. A missing user is (nil, nil).
func (s *Store) GetUserByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, username, password_hash, avatar_url, created_at FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var user User
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.AvatarURL, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// CreateRoom inserts a room with a fresh invite token and adds the owner as
// its first member.
func (s *Store) CreateRoom(ctx context.Context, name, ownerID string) (*Room, error) {
	room := &Room{
		ID:          uuid.NewString(),
		Name:        name,
		OwnerID:     ownerID,
		InviteToken: strings.ReplaceAll(uuid.NewString(), "-", ""),
		CreatedAt:   time.Now().UTC(),
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO rooms(id, name, owner_id, invite_token, created_at) VALUES(?, ?, ?, ?, ?)`,
		room.ID, room.Name, room.OwnerID, room.InviteToken, room.CreatedAt); err != nil {
		return nil, err
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO room_members(room_id, user_id) VALUES(?, ?)`, room.ID, ownerID); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return room, nil
}

// GetRoom returns a room by id or ErrRoomNotFound.
func (s *Store) GetRoom(ctx context.Context, id string) (*Room, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, owner_id, invite_token, created_at FROM rooms WHERE id = ?`, id)
	return scanRoom(row)
}

func scanRoom(row *sql.Row) (*Room, error) {
	var room Room
	if err := row.Scan(&room.ID, &room.Name, &room.OwnerID, &room.InviteToken, &room.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

// ListRoomsForUser returns the rooms the user is a member of, oldest first.
func (s *Store) ListRoomsForUser(ctx context.Context, userID string) ([]Room, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.owner_id, r.invite_token, r.created_at
		FROM rooms r
		JOIN room_members m ON m.room_id = r.id
		WHERE m.user_id = ?
		ORDER BY r.created_at, r.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rooms []Room
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.ID, &room.Name, &room.OwnerID, &room.InviteToken, &room.CreatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// JoinRoomByInvite adds the user to the room behind token. Joining twice is a no-op.
func (s *Store) JoinRoomByInvite(ctx context.Context, token, userID string) (*Room, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, owner_id, invite_token, created_at FROM rooms WHERE invite_token = ?`, token)
	room, err := scanRoom(row)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO room_members(room_id, user_id) VALUES(?, ?)`, room.ID, userID); err != nil {
		return nil, err
	}
	return room, nil
}

// LeaveRoom removes the membership. Messages the user sent stay in the room.
func (s *Store) LeaveRoom(ctx context.Context, roomID, userID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM room_members WHERE room_id = ? AND user_id = ?`, roomID, userID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotMember
	}
	return nil
}

// IsMember reports whether userID belongs to roomID.
func (s *Store) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM room_members WHERE room_id = ? AND user_id = ?`, roomID, userID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// InsertMessage stores msg. ID and CreatedAt are filled in when empty.
func (s *Store) InsertMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages(id, room_id, sender_id, content, file_url, file_type, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.RoomID, msg.SenderID, msg.Content, msg.FileURL, msg.FileType, msg.CreatedAt)
	return err
}

// ListMessages returns the newest limit messages of a room in insertion order.
func (s *Store) ListMessages(ctx context.Context, roomID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.room_id, m.sender_id, u.username, u.avatar_url,
			m.content, m.file_url, m.file_type, m.created_at
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.room_id = ?
		ORDER BY m.seq DESC
		LIMIT ?`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	messages := make([]Message, 0)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.SenderName, &msg.SenderAvatar,
			&msg.Content, &msg.FileURL, &msg.FileType, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// CreateFile records an uploaded file.
func (s *Store) CreateFile(ctx context.Context, file *File) error {
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files(id, room_id, uploader_id, filename, mime_type, size_bytes, sha256, storage_path, thumb_path, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		file.ID, file.RoomID, file.UploaderID, file.Filename, file.MIMEType, file.SizeBytes,
		file.SHA256, file.StoragePath, file.ThumbPath, file.CreatedAt)
	return err
}

// GetFile fetches file metadata. A missing file is (nil, nil).
func (s *Store) GetFile(ctx context.Context, id string) (*File, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, room_id, uploader_id, filename, mime_type, size_bytes, sha256, storage_path, thumb_path, created_at
		FROM files WHERE id = ?`, id)
	var file File
	if err := row.Scan(&file.ID, &file.RoomID, &file.UploaderID, &file.Filename, &file.MIMEType,
		&file.SizeBytes, &file.SHA256, &file.StoragePath, &file.ThumbPath, &file.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &file, nil
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xff == sqliteConstraintCode
	}
	return false
}
