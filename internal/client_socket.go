package internal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"studyroom/internal/chat"
)

const outboundQueueSize = 64

var (
	errSocketClosed = errors.New("realtime connection closed")
	errQueueFull    = errors.New("realtime send queue is full")
)

// SocketChannel is the client end of the realtime connection. Join, Leave and
// Send only enqueue; a write pump owns the socket writes.
type SocketChannel struct {
	conn     *websocket.Conn
	outbound chan []byte
	events   chan chat.Message
	notices  chan string
	done     chan struct{}
	log      zerolog.Logger

	closeOnce sync.Once
	mutex     sync.Mutex
	err       error
}

// DialSocket opens the realtime connection with the bearer token.
func DialSocket(ctx context.Context, wsURL, token string, log zerolog.Logger) (*SocketChannel, error) {
	header := http.Header{}
	header.Set("User-Agent", userAgent())
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: httpTimeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, errUnauthorized
		}
		return nil, err
	}
	socket := &SocketChannel{
		conn:     conn,
		outbound: make(chan []byte, outboundQueueSize),
		events:   make(chan chat.Message, 64),
		notices:  make(chan string, 16),
		done:     make(chan struct{}),
		log:      log,
	}
	go socket.writePump()
	go socket.readPump()
	return socket, nil
}

func (s *SocketChannel) Join(roomID string) error {
	return s.enqueue(eventJoin, roomID, nil)
}

func (s *SocketChannel) Leave(roomID string) error {
	return s.enqueue(eventLeave, roomID, nil)
}

func (s *SocketChannel) Send(out chat.Outgoing) error {
	return s.enqueue(eventSend, out.RoomID, out)
}

// Events yields every message broadcast to a joined room. It is closed when
// the connection ends.
func (s *SocketChannel) Events() <-chan chat.Message {
	return s.events
}

// Notices yields error texts sent by the server, such as rate limit warnings.
func (s *SocketChannel) Notices() <-chan string {
	return s.notices
}

// Err returns why the connection ended, once Events is closed.
func (s *SocketChannel) Err() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.err
}

// Close shuts the connection down. It is safe to call more than once.
func (s *SocketChannel) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		closing := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client quit")
		_ = s.conn.WriteControl(websocket.CloseMessage, closing, time.Now().Add(writeWait))
		_ = s.conn.Close()
	})
	return nil
}

func (s *SocketChannel) enqueue(eventType, roomID string, payload any) error {
	encoded, err := encodeEvent(eventType, roomID, payload)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return errSocketClosed
	default:
	}
	select {
	case s.outbound <- encoded:
		return nil
	case <-s.done:
		return errSocketClosed
	default:
		return errQueueFull
	}
}

func (s *SocketChannel) setErr(err error) {
	s.mutex.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mutex.Unlock()
}

func (s *SocketChannel) readPump() {
	defer func() {
		close(s.events)
		close(s.notices)
		_ = s.Close()
	}()
	s.conn.SetReadLimit(maxMsgSize * 8)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	s.conn.SetPingHandler(func(data string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return s.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.setErr(err)
			}
			return
		}
		var event socketEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			s.log.Warn().Err(err).Msg("malformed event from server")
			continue
		}
		switch event.Type {
		case eventReceive:
			var msg chat.Message
			if err := json.Unmarshal(event.Message, &msg); err != nil {
				s.log.Warn().Err(err).Msg("malformed message from server")
				continue
			}
			if msg.RoomID == "" {
				msg.RoomID = event.RoomID
			}
			select {
			case s.events <- msg:
			case <-s.done:
				return
			}
		case eventError:
			select {
			case s.notices <- event.Error:
			default:
				s.log.Debug().Str("notice", event.Error).Msg("dropping server notice")
			}
		}
	}
}

func (s *SocketChannel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case message := <-s.outbound:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.setErr(err)
				_ = s.conn.Close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.setErr(err)
				_ = s.conn.Close()
				return
			}
		}
	}
}
