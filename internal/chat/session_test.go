package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

type channelCall struct {
	op   string
	room string
	out  Outgoing
}

type fakeChannel struct {
	calls   []channelCall
	sendErr error
	joinErr error
}

func (c *fakeChannel) Join(roomID string) error {
	c.calls = append(c.calls, channelCall{op: "join", room: roomID})
	return c.joinErr
}

func (c *fakeChannel) Leave(roomID string) error {
	c.calls = append(c.calls, channelCall{op: "leave", room: roomID})
	return nil
}

func (c *fakeChannel) Send(out Outgoing) error {
	c.calls = append(c.calls, channelCall{op: "send", room: out.RoomID, out: out})
	return c.sendErr
}

func (c *fakeChannel) sends() []Outgoing {
	var out []Outgoing
	for _, call := range c.calls {
		if call.op == "send" {
			out = append(out, call.out)
		}
	}
	return out
}

type fakeHistory struct {
	rooms map[string][]Message
	err   error
}

func (h *fakeHistory) FetchHistory(ctx context.Context, roomID string) ([]Message, error) {
	if h.err != nil {
		return nil, h.err
	}
	return append([]Message(nil), h.rooms[roomID]...), nil
}

type fakeUploader struct {
	url string
	err error
}

func (u *fakeUploader) Upload(ctx context.Context, req UploadRequest, progress func(sent, total int64)) (string, error) {
	data, _ := io.ReadAll(req.Body)
	total := int64(len(data))
	progress(total/2, total)
	if u.err != nil {
		return "", u.err
	}
	progress(total, total)
	return u.url + "/" + req.File.Name, nil
}

func sequentialIDs() func(prefix string) string {
	counters := make(map[string]int)
	return func(prefix string) string {
		counters[prefix]++
		return fmt.Sprintf("%s-%d", prefix, counters[prefix])
	}
}

func newTestSession(ch *fakeChannel, history HistoryFetcher, uploader Uploader) *Session {
	return NewSession(Options{
		Identity: Identity{ID: "u-1", Name: "alice"},
		Channel:  ch,
		History:  history,
		Uploader: uploader,
		Policy:   UploadPolicy{ErrorTTL: 10 * time.Millisecond},
		NewID:    sequentialIDs(),
		Now:      func() time.Time { return time.Unix(1700000000, 0) },
	})
}

// drain runs cmd and feeds every resulting message back into the session
// until no command is left.
func drain(t *testing.T, s *Session, cmd tea.Cmd) {
	t.Helper()
	queue := []tea.Cmd{cmd}
	for steps := 0; len(queue) > 0; steps++ {
		if steps > 100 {
			t.Fatalf("command chain did not settle")
		}
		next := queue[0]
		queue = queue[1:]
		if next == nil {
			continue
		}
		msg := next()
		if batch, ok := msg.(tea.BatchMsg); ok {
			queue = append(queue, batch...)
			continue
		}
		if msg == nil {
			continue
		}
		queue = append(queue, s.Update(msg))
	}
}

func TestEnterRoomJoinsAndLoadsHistory(t *testing.T) {
	ch := &fakeChannel{}
	history := &fakeHistory{rooms: map[string][]Message{
		"room-1": {
			{ID: "m1", Sender: Sender{ID: "u-2", Name: "bob"}, Content: "hey"},
			{ID: "m2", Sender: Sender{ID: "u-1", Name: "alice"}, Content: "hi"},
		},
	}}
	s := newTestSession(ch, history, nil)

	cmd := s.EnterRoom("room-1")
	if !s.Loading() {
		t.Fatalf("expected loading after EnterRoom")
	}
	if len(ch.calls) != 1 || ch.calls[0].op != "join" || ch.calls[0].room != "room-1" {
		t.Fatalf("unexpected channel calls: %+v", ch.calls)
	}
	drain(t, s, cmd)

	if s.Loading() {
		t.Fatalf("loading should clear after history arrives")
	}
	got := s.Messages()
	if len(got) != 2 || got[0].ID != "m1" || got[1].ID != "m2" {
		t.Fatalf("unexpected history: %+v", got)
	}
	if got[0].IsOwn || !got[1].IsOwn {
		t.Fatalf("ownership not derived from identity: %+v", got)
	}
	if got[0].RoomID != "room-1" {
		t.Fatalf("history entries should carry the room id")
	}
}

func TestSwitchingRoomsLeavesBeforeJoining(t *testing.T) {
	ch := &fakeChannel{}
	s := newTestSession(ch, &fakeHistory{}, nil)

	s.EnterRoom("room-1")
	s.Receive(Message{ID: "old", RoomID: "room-1", Content: "from room 1"})
	s.EnterRoom("room-2")

	want := []channelCall{{op: "join", room: "room-1"}, {op: "leave", room: "room-1"}, {op: "join", room: "room-2"}}
	if len(ch.calls) != len(want) {
		t.Fatalf("expected %d calls, got %+v", len(want), ch.calls)
	}
	for i, call := range want {
		if ch.calls[i].op != call.op || ch.calls[i].room != call.room {
			t.Fatalf("call %d: expected %s %s, got %s %s", i, call.op, call.room, ch.calls[i].op, ch.calls[i].room)
		}
	}
	if len(s.Messages()) != 0 {
		t.Fatalf("messages from the old room must be cleared")
	}
}

func TestStaleHistoryIsDiscarded(t *testing.T) {
	ch := &fakeChannel{}
	history := &fakeHistory{rooms: map[string][]Message{
		"room-1": {{ID: "r1-m1", Content: "one"}},
		"room-2": {{ID: "r2-m1", Content: "two"}},
	}}
	s := newTestSession(ch, history, nil)

	first := s.EnterRoom("room-1")
	second := s.EnterRoom("room-2")

	// the second fetch resolves first, then the stale one
	s.Update(second())
	s.Update(first())

	got := s.Messages()
	if len(got) != 1 || got[0].ID != "r2-m1" {
		t.Fatalf("expected only room-2 history, got %+v", got)
	}
	if s.RoomID() != "room-2" {
		t.Fatalf("expected active room-2, got %q", s.RoomID())
	}
}

func TestHistoryAfterExitIsDiscarded(t *testing.T) {
	ch := &fakeChannel{}
	history := &fakeHistory{rooms: map[string][]Message{"room-1": {{ID: "m1"}}}}
	s := newTestSession(ch, history, nil)

	cmd := s.EnterRoom("room-1")
	s.ExitRoom()
	s.Update(cmd())

	if len(s.Messages()) != 0 || s.RoomID() != "" {
		t.Fatalf("exit must leave no room state behind")
	}
	last := ch.calls[len(ch.calls)-1]
	if last.op != "leave" || last.room != "room-1" {
		t.Fatalf("expected leave room-1, got %+v", last)
	}
}

func TestHistoryErrorKeepsRoomActive(t *testing.T) {
	ch := &fakeChannel{}
	s := newTestSession(ch, &fakeHistory{err: errors.New("boom")}, nil)

	drain(t, s, s.EnterRoom("room-1"))

	if s.RoomID() != "room-1" {
		t.Fatalf("room should remain active after a failed fetch")
	}
	if s.Err() == nil || !strings.Contains(s.Err().Error(), "load messages") {
		t.Fatalf("expected load error, got %v", s.Err())
	}
	s.ClearErr()
	if s.Err() != nil {
		t.Fatalf("error should be cleared, got %v", s.Err())
	}

	if _, err := s.SendText("still here"); err != nil {
		t.Fatalf("sending should still work: %v", err)
	}
	s.Receive(Message{ID: "live-1", RoomID: "room-1", Content: "live"})
	if len(s.Messages()) != 2 {
		t.Fatalf("expected live messages to be shown, got %+v", s.Messages())
	}
}

func TestSendTextConfirmedByEcho(t *testing.T) {
	ch := &fakeChannel{}
	s := newTestSession(ch, nil, nil)
	drain(t, s, s.EnterRoom("room-1"))

	corr, err := s.SendText("hello")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if corr != "temp-1" {
		t.Fatalf("expected temp-1, got %q", corr)
	}
	sent := ch.sends()
	if len(sent) != 1 || sent[0].CorrelationID != "temp-1" || sent[0].SenderID != "u-1" || sent[0].Content != "hello" {
		t.Fatalf("unexpected outgoing: %+v", sent)
	}
	got := s.Messages()
	if len(got) != 1 || !got[0].Pending() || !got[0].IsOwn {
		t.Fatalf("expected one pending own message, got %+v", got)
	}

	res := s.Receive(Message{
		ID:            "srv-9",
		RoomID:        "room-1",
		Sender:        Sender{ID: "u-1", Name: "alice"},
		Content:       "hello",
		CorrelationID: "temp-1",
	})
	if res != MergeReplaced {
		t.Fatalf("expected replaced, got %s", res)
	}
	got = s.Messages()
	if len(got) != 1 || got[0].ID != "srv-9" || !got[0].IsOwn {
		t.Fatalf("unexpected confirmed list: %+v", got)
	}
}

func TestSendValidation(t *testing.T) {
	s := newTestSession(&fakeChannel{}, nil, nil)
	if _, err := s.SendText("hi"); !errors.Is(err, ErrNoRoom) {
		t.Fatalf("expected ErrNoRoom, got %v", err)
	}
	s.EnterRoom("room-1")
	if _, err := s.SendText("   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestSendFailureLeavesMessagePending(t *testing.T) {
	ch := &fakeChannel{sendErr: errors.New("socket closed")}
	s := newTestSession(ch, nil, nil)
	s.EnterRoom("room-1")

	if _, err := s.SendText("hello"); err == nil {
		t.Fatalf("expected send error")
	}
	got := s.Messages()
	if len(got) != 1 || !got[0].Pending() {
		t.Fatalf("message should remain pending: %+v", got)
	}
	if s.Err() == nil {
		t.Fatalf("send failure should be surfaced")
	}
}

func TestMessagesForOtherRoomsIgnored(t *testing.T) {
	s := newTestSession(&fakeChannel{}, nil, nil)
	if res := s.Receive(Message{ID: "m1", RoomID: "room-1"}); res != MergeRejected {
		t.Fatalf("no active room: expected rejected, got %s", res)
	}
	s.EnterRoom("room-1")
	if res := s.Receive(Message{ID: "m2", RoomID: "room-2"}); res != MergeRejected {
		t.Fatalf("other room: expected rejected, got %s", res)
	}
	if len(s.Messages()) != 0 {
		t.Fatalf("no message should be stored")
	}
}

func TestUploadHandoffToMessage(t *testing.T) {
	ch := &fakeChannel{}
	s := newTestSession(ch, nil, &fakeUploader{url: "https://files.example"})
	drain(t, s, s.EnterRoom("room-1"))

	tempID, cmd, err := s.BeginUpload(FileInfo{Name: "notes.txt", Size: 4}, strings.NewReader("abcd"))
	if err != nil {
		t.Fatalf("BeginUpload: %v", err)
	}
	if tempID != "file-1" {
		t.Fatalf("expected file-1, got %q", tempID)
	}
	if len(s.Uploads()) != 1 || s.Uploads()[0].Status != UploadUploading {
		t.Fatalf("expected one uploading card: %+v", s.Uploads())
	}
	drain(t, s, cmd)

	sent := ch.sends()
	if len(sent) != 1 {
		t.Fatalf("expected file announcement, got %+v", sent)
	}
	out := sent[0]
	if out.CorrelationID != "file-1" || out.FileURL != "https://files.example/notes.txt" || out.Content != "File: notes.txt" {
		t.Fatalf("unexpected announcement: %+v", out)
	}
	if len(s.Messages()) != 0 {
		t.Fatalf("file message appears only when the server echoes it")
	}

	s.Receive(Message{
		ID:            "srv-5",
		RoomID:        "room-1",
		Sender:        Sender{ID: "u-1"},
		Content:       out.Content,
		FileURL:       out.FileURL,
		CorrelationID: "file-1",
	})
	if len(s.Uploads()) != 0 {
		t.Fatalf("card should be removed once the file message arrives: %+v", s.Uploads())
	}
	got := s.Messages()
	if len(got) != 1 || got[0].ID != "srv-5" || !got[0].HasFile() {
		t.Fatalf("unexpected messages: %+v", got)
	}
}

func TestFailedUploadExpires(t *testing.T) {
	ch := &fakeChannel{}
	s := newTestSession(ch, nil, &fakeUploader{err: errors.New("network error")})
	drain(t, s, s.EnterRoom("room-1"))

	var changes []ChangeKind
	cancel := s.Subscribe(func(c Change) { changes = append(changes, c.Kind) })
	defer cancel()

	_, cmd, err := s.BeginUpload(FileInfo{Name: "a.txt", Size: 4}, strings.NewReader("abcd"))
	if err != nil {
		t.Fatalf("BeginUpload: %v", err)
	}

	// run until the failure is applied but not the expiry tick
	msg := cmd()
	for {
		if _, ok := msg.(UploadFailedMsg); ok {
			break
		}
		next := s.Update(msg)
		if next == nil {
			t.Fatalf("upload chain ended without failure")
		}
		msg = next()
	}
	expire := s.Update(msg)

	entries := s.Uploads()
	if len(entries) != 1 || entries[0].Status != UploadFailed || entries[0].Err != "network error" {
		t.Fatalf("expected one failed card, got %+v", entries)
	}
	if len(ch.sends()) != 0 {
		t.Fatalf("failed upload must not be announced")
	}

	drain(t, s, expire)
	if len(s.Uploads()) != 0 {
		t.Fatalf("failed card should expire, got %+v", s.Uploads())
	}
	if len(changes) == 0 {
		t.Fatalf("subscriber should have seen upload changes")
	}
}

func TestConcurrentUploadsOneFails(t *testing.T) {
	ch := &fakeChannel{}
	s := newTestSession(ch, nil, nil)
	drain(t, s, s.EnterRoom("room-1"))

	a, _, _ := s.BeginUpload(FileInfo{Name: "a.txt", Size: 1}, strings.NewReader("a"))
	b, _, _ := s.BeginUpload(FileInfo{Name: "b.txt", Size: 1}, strings.NewReader("b"))
	s.ReportProgress(a, 20)
	s.ReportProgress(b, 60)

	s.FailUpload(a, "network error")
	if err := s.CompleteUpload(b, "https://files.example/b.txt"); err != nil {
		t.Fatalf("CompleteUpload: %v", err)
	}

	sent := ch.sends()
	if len(sent) != 1 || sent[0].CorrelationID != b {
		t.Fatalf("only b should be announced: %+v", sent)
	}
	entries := s.Uploads()
	if len(entries) != 2 || entries[0].Status != UploadFailed || entries[1].Status != UploadSucceeded {
		t.Fatalf("unexpected cards: %+v", entries)
	}
	if !s.DismissLastFailed() {
		t.Fatalf("expected to dismiss a")
	}
	if len(s.Uploads()) != 1 {
		t.Fatalf("expected b to remain")
	}
}

func TestOversizedUploadCreatesNoCard(t *testing.T) {
	s := newTestSession(&fakeChannel{}, nil, nil)
	s.EnterRoom("room-1")

	_, cmd, err := s.BeginUpload(FileInfo{Name: "big.bin", Size: 11 * 1024 * 1024}, strings.NewReader(""))
	if !errors.Is(err, ErrFileTooLarge) || cmd != nil {
		t.Fatalf("expected synchronous ErrFileTooLarge, got %v", err)
	}
	if len(s.Uploads()) != 0 {
		t.Fatalf("no card for rejected file")
	}
}

func TestUploadFinishingAfterRoomChangeAnnouncesToOriginalRoom(t *testing.T) {
	ch := &fakeChannel{}
	s := newTestSession(ch, nil, &fakeUploader{url: "https://files.example"})
	s.EnterRoom("room-1")

	_, cmd, err := s.BeginUpload(FileInfo{Name: "a.txt", Size: 1}, strings.NewReader("a"))
	if err != nil {
		t.Fatalf("BeginUpload: %v", err)
	}
	s.EnterRoom("room-2")
	drain(t, s, cmd)

	sent := ch.sends()
	if len(sent) != 1 || sent[0].RoomID != "room-1" {
		t.Fatalf("expected announcement to room-1, got %+v", sent)
	}
	if len(s.Uploads()) != 0 {
		t.Fatalf("room-2 should have no cards")
	}
}

func TestSubscribeCancel(t *testing.T) {
	s := newTestSession(&fakeChannel{}, nil, nil)
	count := 0
	cancel := s.Subscribe(func(Change) { count++ })
	s.EnterRoom("room-1")
	seen := count
	if seen == 0 {
		t.Fatalf("expected notifications on EnterRoom")
	}
	cancel()
	s.ExitRoom()
	if count != seen {
		t.Fatalf("cancelled subscriber was notified")
	}
}

func TestEnterEmptyRoomActsAsExit(t *testing.T) {
	ch := &fakeChannel{}
	s := newTestSession(ch, &fakeHistory{}, nil)
	drain(t, s, s.EnterRoom("room-1"))

	if cmd := s.EnterRoom(""); cmd != nil {
		t.Fatalf("entering an empty room should not fetch anything")
	}
	if s.RoomID() != "" || s.Loading() {
		t.Fatalf("expected no active room, got %q loading=%v", s.RoomID(), s.Loading())
	}
	last := ch.calls[len(ch.calls)-1]
	if last.op != "leave" || last.room != "room-1" {
		t.Fatalf("expected a leave for room-1, got %+v", ch.calls)
	}
	for _, call := range ch.calls {
		if call.op == "join" && call.room == "" {
			t.Fatalf("empty room id was joined: %+v", ch.calls)
		}
	}

	fresh := &fakeChannel{}
	idle := newTestSession(fresh, &fakeHistory{}, nil)
	if cmd := idle.EnterRoom(""); cmd != nil || len(fresh.calls) != 0 {
		t.Fatalf("idle session should ignore an empty room, calls %+v", fresh.calls)
	}
}
