package chat

import (
	"fmt"
	"math/rand"
	"testing"
	"time"
)

func serverMessage(id, correlationID, content string) Message {
	return Message{
		ID:            id,
		RoomID:        "room-1",
		Sender:        Sender{ID: "u-1", Name: "alice"},
		Content:       content,
		CreatedAt:     time.Unix(1700000000, 0),
		CorrelationID: correlationID,
	}
}

func TestOptimisticMessageReplacedInPlace(t *testing.T) {
	r := NewReconciler()
	id := r.AppendOptimistic(Message{Content: "hello", CorrelationID: "temp-1"})
	if id != "temp-1" {
		t.Fatalf("expected temp id temp-1, got %q", id)
	}
	got := r.Messages()
	if len(got) != 1 || got[0].ID != "temp-1" || got[0].Confirmed {
		t.Fatalf("unexpected list after optimistic append: %+v", got)
	}

	if res := r.MergeIncoming(serverMessage("srv-9", "temp-1", "hello")); res != MergeReplaced {
		t.Fatalf("expected replaced, got %s", res)
	}
	got = r.Messages()
	if len(got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got))
	}
	if got[0].ID != "srv-9" || got[0].Content != "hello" || !got[0].Confirmed {
		t.Fatalf("unexpected confirmed message: %+v", got[0])
	}
	if _, ok := r.Get("temp-1"); ok {
		t.Fatalf("temp id should no longer resolve")
	}
}

func TestRedeliveredMessageIsDropped(t *testing.T) {
	r := NewReconciler()
	if res := r.MergeIncoming(serverMessage("srv-9", "", "hi")); res != MergeAppended {
		t.Fatalf("first delivery: expected appended, got %s", res)
	}
	if res := r.MergeIncoming(serverMessage("srv-9", "", "hi")); res != MergeDuplicate {
		t.Fatalf("second delivery: expected duplicate, got %s", res)
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 message, got %d", r.Len())
	}
}

func TestConfirmationAfterCorrelationAlreadyConfirmed(t *testing.T) {
	r := NewReconciler()
	r.AppendOptimistic(Message{Content: "a", CorrelationID: "temp-1"})
	r.MergeIncoming(serverMessage("srv-1", "temp-1", "a"))

	// the temp id is gone, so a redelivery with the same correlation id falls
	// through to the duplicate rule
	if res := r.MergeIncoming(serverMessage("srv-1", "temp-1", "a")); res != MergeDuplicate {
		t.Fatalf("expected duplicate, got %s", res)
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 message, got %d", r.Len())
	}
}

func TestTwoPendingMessagesAreIndependent(t *testing.T) {
	r := NewReconciler()
	r.AppendOptimistic(Message{Content: "first", CorrelationID: "temp-1"})
	r.AppendOptimistic(Message{Content: "second", CorrelationID: "temp-2"})

	r.MergeIncoming(serverMessage("srv-2", "temp-2", "second"))

	got := r.Messages()
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if got[0].ID != "temp-1" || got[0].Confirmed {
		t.Fatalf("first message should still be pending: %+v", got[0])
	}
	if got[1].ID != "srv-2" || !got[1].Confirmed {
		t.Fatalf("second message should be confirmed in place: %+v", got[1])
	}
	if r.PendingCount() != 1 {
		t.Fatalf("expected 1 pending, got %d", r.PendingCount())
	}
}

func TestAppendOptimisticSameCorrelationTwice(t *testing.T) {
	r := NewReconciler()
	r.AppendOptimistic(Message{Content: "a", CorrelationID: "temp-1"})
	r.AppendOptimistic(Message{Content: "a again", CorrelationID: "temp-1"})
	if r.Len() != 1 {
		t.Fatalf("expected a single pending entry, got %d", r.Len())
	}
}

func TestConfirmationCollapsesIntoEarlierDelivery(t *testing.T) {
	r := NewReconciler()
	r.AppendOptimistic(Message{Content: "a", CorrelationID: "temp-1"})
	r.MergeIncoming(serverMessage("srv-1", "", "a"))

	if res := r.MergeIncoming(serverMessage("srv-1", "temp-1", "a")); res != MergeCollapsed {
		t.Fatalf("expected collapsed, got %s", res)
	}
	got := r.Messages()
	if len(got) != 1 || got[0].ID != "srv-1" {
		t.Fatalf("expected only srv-1 to remain, got %+v", got)
	}
	if _, ok := r.Get("srv-1"); !ok {
		t.Fatalf("index should still resolve srv-1")
	}
}

func TestMessageWithoutIDIsRejected(t *testing.T) {
	r := NewReconciler()
	if res := r.MergeIncoming(Message{Content: "?"}); res != MergeRejected {
		t.Fatalf("expected rejected, got %s", res)
	}
	if r.Len() != 0 {
		t.Fatalf("list should be empty")
	}
}

func TestLoadHistoryKeepsInFlightEntries(t *testing.T) {
	r := NewReconciler()
	r.AppendOptimistic(Message{Content: "typed early", CorrelationID: "temp-1"})
	r.MergeIncoming(serverMessage("srv-3", "", "live"))

	r.LoadHistory([]Message{
		serverMessage("srv-1", "", "one"),
		serverMessage("srv-2", "", "two"),
		serverMessage("srv-3", "", "live"),
	})

	got := r.Messages()
	want := []string{"srv-1", "srv-2", "srv-3", "temp-1"}
	if len(got) != len(want) {
		t.Fatalf("expected %d messages, got %d: %+v", len(want), len(got), got)
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
	for _, msg := range got[:3] {
		if !msg.Confirmed {
			t.Fatalf("history entries must be confirmed: %+v", msg)
		}
	}
	// the pending entry is still reachable by its correlation id
	if res := r.MergeIncoming(serverMessage("srv-4", "temp-1", "typed early")); res != MergeReplaced {
		t.Fatalf("expected replaced after history load, got %s", res)
	}
}

func TestClearStartsFresh(t *testing.T) {
	r := NewReconciler()
	r.MergeIncoming(serverMessage("old-1", "", "old"))
	r.AppendOptimistic(Message{Content: "old pending", CorrelationID: "temp-old"})
	r.Clear()

	r.AppendOptimistic(Message{Content: "new", CorrelationID: "temp-new"})
	r.MergeIncoming(serverMessage("new-1", "", "other"))

	got := r.Messages()
	if len(got) != 2 || got[0].ID != "temp-new" || got[1].ID != "new-1" {
		t.Fatalf("unexpected list after clear: %+v", got)
	}
	if _, ok := r.Get("old-1"); ok {
		t.Fatalf("old entries must not leak after clear")
	}
}

// Random interleavings of optimistic appends, confirmations, redeliveries and
// foreign messages must keep server ids unique and confirmed entries in place.
func TestMergeKeepsIdentityAndOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		r := NewReconciler()
		var pending []string
		var delivered []Message
		serverSeq := 0

		for step := 0; step < 40; step++ {
			before := r.Messages()
			switch rng.Intn(4) {
			case 0:
				corr := fmt.Sprintf("temp-%d-%d", round, step)
				r.AppendOptimistic(Message{Content: corr, CorrelationID: corr})
				pending = append(pending, corr)
			case 1:
				if len(pending) == 0 {
					continue
				}
				i := rng.Intn(len(pending))
				corr := pending[i]
				pending = append(pending[:i], pending[i+1:]...)
				serverSeq++
				msg := serverMessage(fmt.Sprintf("srv-%d", serverSeq), corr, corr)
				pos := indexOf(before, corr)
				r.MergeIncoming(msg)
				delivered = append(delivered, msg)
				after := r.Messages()
				if len(after) != len(before) {
					t.Fatalf("confirmation changed list length from %d to %d", len(before), len(after))
				}
				if after[pos].ID != msg.ID {
					t.Fatalf("confirmation moved entry: expected %s at %d, got %s", msg.ID, pos, after[pos].ID)
				}
			case 2:
				if len(delivered) == 0 {
					continue
				}
				msg := delivered[rng.Intn(len(delivered))]
				msg.CorrelationID = ""
				r.MergeIncoming(msg)
				after := r.Messages()
				if len(after) != len(before) {
					t.Fatalf("redelivery of %s changed list length", msg.ID)
				}
			case 3:
				serverSeq++
				msg := serverMessage(fmt.Sprintf("srv-%d", serverSeq), "", "foreign")
				r.MergeIncoming(msg)
				delivered = append(delivered, msg)
			}

			after := r.Messages()
			seen := make(map[string]bool)
			for _, m := range after {
				if seen[m.ID] {
					t.Fatalf("duplicate id %s in %+v", m.ID, after)
				}
				seen[m.ID] = true
			}
			for i, m := range before {
				if m.Confirmed && (i >= len(after) || after[i].ID != m.ID) {
					t.Fatalf("confirmed message %s moved", m.ID)
				}
			}
		}
	}
}

func indexOf(list []Message, id string) int {
	for i, m := range list {
		if m.ID == id {
			return i
		}
	}
	return -1
}
