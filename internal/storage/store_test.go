package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestUserLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user, err := store.CreateUser(ctx, "alice", []byte("hash"))
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if user.ID == "" {
		t.Fatalf("expected generated id")
	}
	if _, err := store.CreateUser(ctx, "alice", []byte("hash2")); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}

	byName, err := store.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if byName == nil || byName.ID != user.ID {
		t.Fatalf("unexpected user: %+v", byName)
	}
	byID, err := store.GetUserByID(ctx, user.ID)
	if err != nil || byID == nil || byID.Username != "alice" {
		t.Fatalf("GetUserByID: %+v, err=%v", byID, err)
	}
	missing, err := store.GetUserByUsername(ctx, "nobody")
	if err != nil || missing != nil {
		t.Fatalf("expected nil user, got %+v err=%v", missing, err)
	}
}

func TestRoomMembership(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	alice := mustUser(t, store, "alice")
	bob := mustUser(t, store, "bob")

	room, err := store.CreateRoom(ctx, "Physics 101", alice.ID)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if room.InviteToken == "" {
		t.Fatalf("expected invite token")
	}
	if ok, _ := store.IsMember(ctx, room.ID, alice.ID); !ok {
		t.Fatalf("owner should be a member")
	}
	if ok, _ := store.IsMember(ctx, room.ID, bob.ID); ok {
		t.Fatalf("bob is not a member yet")
	}

	joined, err := store.JoinRoomByInvite(ctx, room.InviteToken, bob.ID)
	if err != nil {
		t.Fatalf("JoinRoomByInvite: %v", err)
	}
	if joined.ID != room.ID {
		t.Fatalf("joined wrong room: %+v", joined)
	}
	if _, err := store.JoinRoomByInvite(ctx, room.InviteToken, bob.ID); err != nil {
		t.Fatalf("joining twice should be a no-op: %v", err)
	}
	if _, err := store.JoinRoomByInvite(ctx, "bogus", bob.ID); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}

	rooms, err := store.ListRoomsForUser(ctx, bob.ID)
	if err != nil || len(rooms) != 1 || rooms[0].Name != "Physics 101" {
		t.Fatalf("ListRoomsForUser: %+v err=%v", rooms, err)
	}

	if err := store.LeaveRoom(ctx, room.ID, bob.ID); err != nil {
		t.Fatalf("LeaveRoom: %v", err)
	}
	if err := store.LeaveRoom(ctx, room.ID, bob.ID); !errors.Is(err, ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}
	if _, err := store.GetRoom(ctx, "missing"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestMessagesKeepInsertionOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	alice := mustUser(t, store, "alice")
	room, err := store.CreateRoom(ctx, "Chemistry", alice.ID)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	for i := 0; i < 5; i++ {
		msg := &Message{RoomID: room.ID, SenderID: alice.ID, Content: fmt.Sprintf("m%d", i)}
		if err := store.InsertMessage(ctx, msg); err != nil {
			t.Fatalf("InsertMessage: %v", err)
		}
		if msg.ID == "" {
			t.Fatalf("expected generated message id")
		}
	}

	all, err := store.ListMessages(ctx, room.ID, 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(all) != 5 || all[0].Content != "m0" || all[4].Content != "m4" {
		t.Fatalf("unexpected order: %+v", all)
	}
	if all[0].SenderName != "alice" {
		t.Fatalf("expected sender name to be joined, got %q", all[0].SenderName)
	}

	latest, err := store.ListMessages(ctx, room.ID, 2)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(latest) != 2 || latest[0].Content != "m3" || latest[1].Content != "m4" {
		t.Fatalf("expected the two newest messages oldest first: %+v", latest)
	}
}

func TestFileMetadata(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	alice := mustUser(t, store, "alice")
	room, _ := store.CreateRoom(ctx, "Biology", alice.ID)

	file := &File{
		ID:          "f-1",
		RoomID:      room.ID,
		UploaderID:  alice.ID,
		Filename:    "cell.png",
		MIMEType:    "image/png",
		SizeBytes:   42,
		SHA256:      "abc",
		StoragePath: "room/f-1-cell.png",
	}
	if err := store.CreateFile(ctx, file); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	got, err := store.GetFile(ctx, "f-1")
	if err != nil || got == nil {
		t.Fatalf("GetFile: %+v err=%v", got, err)
	}
	if got.Filename != "cell.png" || got.SizeBytes != 42 || got.RoomID != room.ID {
		t.Fatalf("unexpected file: %+v", got)
	}
	if missing, err := store.GetFile(ctx, "nope"); err != nil || missing != nil {
		t.Fatalf("expected nil file, got %+v err=%v", missing, err)
	}
}

func mustUser(t *testing.T, store *Store, name string) *User {
	t.Helper()
	user, err := store.CreateUser(context.Background(), name, []byte("hash"))
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", name, err)
	}
	return user
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := "sqlite://file:" + t.Name() + "?mode=memory&cache=shared"
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}
