package internal

import (
	"sync"
	"time"
)

// A single websocket connection may send at most sendBurst messages in any
// sendWindow. Login and signup are limited separately per IP in server.go.
const (
	sendBurst  = 5
	sendWindow = 3 * time.Second
)

// sendThrottle remembers the recent send times of every live connection.
type sendThrottle struct {
	mu     sync.Mutex
	recent map[string][]time.Time
	burst  int
	window time.Duration
	now    func() time.Time
}

func newSendThrottle(burst int, window time.Duration) *sendThrottle {
	return &sendThrottle{
		recent: make(map[string][]time.Time),
		burst:  burst,
		window: window,
		now:    time.Now,
	}
}

// admit records a send for connID. Once the burst is spent it refuses and
// reports how long until the oldest send leaves the window.
func (t *sendThrottle) admit(connID string) (bool, time.Duration) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := now.Add(-t.window)
	sends := t.recent[connID]
	expired := 0
	for expired < len(sends) && !sends[expired].After(cutoff) {
		expired++
	}
	sends = sends[expired:]
	if len(sends) >= t.burst {
		t.recent[connID] = sends
		return false, sends[0].Sub(cutoff)
	}
	t.recent[connID] = append(sends, now)
	return true, 0
}

// release forgets a connection after its socket closed.
func (t *sendThrottle) release(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.recent, connID)
}
