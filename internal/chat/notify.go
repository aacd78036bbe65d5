package chat

// ChangeKind names the piece of session state that changed.
type ChangeKind int

const (
	MessagesChanged ChangeKind = iota
	UploadsChanged
	RoomChanged
)

func (k ChangeKind) String() string {
	switch k {
	case MessagesChanged:
		return "messages"
	case UploadsChanged:
		return "uploads"
	case RoomChanged:
		return "room"
	}
	return "unknown"
}

// Change is delivered to subscribers after every mutation.
type Change struct {
	Kind   ChangeKind
	RoomID string
}

type subscriber struct {
	id int
	fn func(Change)
}

// notifier is a synchronous fan-out. Subscribers run on the caller's goroutine,
// which is the update loop, so they must not block.
type notifier struct {
	nextID      int
	subscribers []subscriber
}

func (n *notifier) subscribe(fn func(Change)) func() {
	n.nextID++
	id := n.nextID
	n.subscribers = append(n.subscribers, subscriber{id: id, fn: fn})
	return func() {
		for i, sub := range n.subscribers {
			if sub.id == id {
				n.subscribers = append(n.subscribers[:i], n.subscribers[i+1:]...)
				return
			}
		}
	}
}

func (n *notifier) publish(change Change) {
	subs := append([]subscriber(nil), n.subscribers...)
	for _, sub := range subs {
		sub.fn(change)
	}
}
