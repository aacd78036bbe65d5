package chat

// MergeResult tells the caller which reconciliation rule an incoming message hit.
type MergeResult int

const (
	// MergeAppended means the message was new and went to the end of the list.
	MergeAppended MergeResult = iota
	// MergeReplaced means an optimistic entry was swapped for the server record in place.
	MergeReplaced
	// MergeDuplicate means the server id was already present and the event was dropped.
	MergeDuplicate
	// MergeCollapsed means the optimistic entry was dropped because its
	// confirmation had already been delivered under the same server id.
	MergeCollapsed
	// MergeRejected means the event had no server id and could not be tracked.
	MergeRejected
)

func (r MergeResult) String() string {
	switch r {
	case MergeAppended:
		return "appended"
	case MergeReplaced:
		return "replaced"
	case MergeDuplicate:
		return "duplicate"
	case MergeCollapsed:
		return "collapsed"
	case MergeRejected:
		return "rejected"
	}
	return "unknown"
}

// Reconciler keeps the ordered message list of the active room. Optimistic
// entries are keyed by their correlation id until the server confirms them.
// It is not safe for concurrent use; the session owns it on the update loop.
type Reconciler struct {
	messages []Message
	index    map[string]int
}

func NewReconciler() *Reconciler {
	return &Reconciler{
		messages: make([]Message, 0, 64),
		index:    make(map[string]int),
	}
}

// AppendOptimistic adds a pending message at the end of the list and returns
// its temporary id, which is the correlation id. A second call with a
// correlation id that is still pending leaves the list untouched.
func (r *Reconciler) AppendOptimistic(pending Message) string {
	id := pending.CorrelationID
	if id == "" {
		id = pending.ID
	}
	if _, exists := r.index[id]; exists {
		return id
	}
	pending.ID = id
	pending.CorrelationID = id
	pending.Confirmed = false
	r.index[id] = len(r.messages)
	r.messages = append(r.messages, pending)
	return id
}

// MergeIncoming folds a server-confirmed message into the list. The rules are
// applied in order: replace the optimistic entry named by the correlation id,
// drop redeliveries of a known server id, otherwise append.
func (r *Reconciler) MergeIncoming(incoming Message) MergeResult {
	if incoming.ID == "" {
		return MergeRejected
	}
	incoming.Confirmed = true

	if incoming.CorrelationID != "" {
		if pos, ok := r.index[incoming.CorrelationID]; ok {
			if existing, dup := r.index[incoming.ID]; dup && existing != pos {
				r.removeAt(pos)
				return MergeCollapsed
			}
			delete(r.index, incoming.CorrelationID)
			r.messages[pos] = incoming
			r.index[incoming.ID] = pos
			return MergeReplaced
		}
	}

	if _, ok := r.index[incoming.ID]; ok {
		return MergeDuplicate
	}

	r.index[incoming.ID] = len(r.messages)
	r.messages = append(r.messages, incoming)
	return MergeAppended
}

// LoadHistory puts the server history in front of whatever was appended while
// the fetch was in flight. History records are all treated as confirmed.
func (r *Reconciler) LoadHistory(history []Message) {
	merged := make([]Message, 0, len(history)+len(r.messages))
	seen := make(map[string]struct{}, len(history))
	for _, msg := range history {
		if msg.ID == "" {
			continue
		}
		if _, dup := seen[msg.ID]; dup {
			continue
		}
		seen[msg.ID] = struct{}{}
		msg.Confirmed = true
		merged = append(merged, msg)
	}
	for _, msg := range r.messages {
		if _, dup := seen[msg.ID]; dup {
			continue
		}
		merged = append(merged, msg)
	}
	r.messages = merged
	r.reindex()
}

// Clear empties the list.
func (r *Reconciler) Clear() {
	r.messages = r.messages[:0]
	r.index = make(map[string]int)
}

// Messages returns a copy of the list in display order.
func (r *Reconciler) Messages() []Message {
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

func (r *Reconciler) Len() int {
	return len(r.messages)
}

// Get looks an entry up by id (server id or pending correlation id).
func (r *Reconciler) Get(id string) (Message, bool) {
	pos, ok := r.index[id]
	if !ok {
		return Message{}, false
	}
	return r.messages[pos], true
}

// PendingCount reports how many optimistic entries still wait for the server.
func (r *Reconciler) PendingCount() int {
	count := 0
	for _, msg := range r.messages {
		if !msg.Confirmed {
			count++
		}
	}
	return count
}

func (r *Reconciler) removeAt(pos int) {
	r.messages = append(r.messages[:pos], r.messages[pos+1:]...)
	r.reindex()
}

func (r *Reconciler) reindex() {
	r.index = make(map[string]int, len(r.messages))
	for i, msg := range r.messages {
		r.index[msg.ID] = i
	}
}
