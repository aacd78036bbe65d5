package internal

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

// Metrics holds process-wide counters served on /metrics.
type Metrics struct {
	signups     atomic.Uint64
	logins      atomic.Uint64
	messages    atomic.Uint64
	uploads     atomic.Uint64
	uploadBytes atomic.Uint64
	activeConns atomic.Int64
}

type metricsSnapshot struct {
	Signups     uint64   `json:"signups_total"`
	Logins      uint64   `json:"logins_total"`
	Messages    uint64   `json:"messages_total"`
	Uploads     uint64   `json:"uploads_total"`
	UploadBytes uint64   `json:"upload_bytes_total"`
	Connections int64    `json:"active_connections"`
	OnlineUsers []string `json:"online_users"`
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncSignup()  { m.signups.Add(1) }
func (m *Metrics) IncLogin()   { m.logins.Add(1) }
func (m *Metrics) IncMessage() { m.messages.Add(1) }
func (m *Metrics) IncConn()    { m.activeConns.Add(1) }
func (m *Metrics) DecConn()    { m.activeConns.Add(-1) }

func (m *Metrics) AddUpload(size int64) {
	m.uploads.Add(1)
	if size > 0 {
		m.uploadBytes.Add(uint64(size))
	}
}

func (m *Metrics) snapshot(online []string) metricsSnapshot {
	return metricsSnapshot{
		Signups:     m.signups.Load(),
		Logins:      m.logins.Load(),
		Messages:    m.messages.Load(),
		Uploads:     m.uploads.Load(),
		UploadBytes: m.uploadBytes.Load(),
		Connections: m.activeConns.Load(),
		OnlineUsers: online,
	}
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.snapshot(s.presence.Usernames()))
}
