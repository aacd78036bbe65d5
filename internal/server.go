package internal

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"studyroom/internal/storage"
)

const (
	defaultTokenTTL     = 7 * 24 * time.Hour
	defaultMaxFileSize  = 10 * 1024 * 1024
	defaultHistoryLimit = 200
	defaultLoginRate    = "10-M"
)

// ServerOptions wires the backend's collaborators.
type ServerOptions struct {
	Store        *storage.Store
	UploadDir    string
	MaxFileSize  int64
	JWTSecret    string
	TokenTTL     time.Duration
	HistoryLimit int
	WSPath       string
	// LoginRate uses the ulule limiter format, e.g. "10-M".
	LoginRate string
	Logger    zerolog.Logger
}

// Server owns the hub, auth and upload handling of the backend.
type Server struct {
	store        *storage.Store
	hub          *Hub
	tokens       *TokenIssuer
	uploads      *FileUploadHandler
	metrics      *Metrics
	presence     *PresenceTracker
	throttle     *sendThrottle
	loginLimiter *limiter.Limiter
	historyLimit int
	wsPath       string
	log          zerolog.Logger
}

func NewServer(opts ServerOptions) (*Server, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = defaultTokenTTL
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = defaultMaxFileSize
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}
	if opts.WSPath == "" {
		opts.WSPath = "/ws"
	}
	if opts.LoginRate == "" {
		opts.LoginRate = defaultLoginRate
	}
	rate, err := limiter.NewRateFromFormatted(opts.LoginRate)
	if err != nil {
		return nil, fmt.Errorf("login rate %q: %w", opts.LoginRate, err)
	}

	s := &Server{
		store:        opts.Store,
		hub:          NewHub(),
		tokens:       NewTokenIssuer(opts.JWTSecret, opts.TokenTTL),
		metrics:      NewMetrics(),
		presence:     NewPresenceTracker(),
		throttle:     newSendThrottle(sendBurst, sendWindow),
		loginLimiter: limiter.New(memory.NewStore(), rate),
		historyLimit: opts.HistoryLimit,
		wsPath:       opts.WSPath,
		log:          opts.Logger,
	}
	s.uploads = NewFileUploadHandler(opts.Store, opts.UploadDir, opts.MaxFileSize, s.metrics, opts.Logger)
	return s, nil
}

// Handler builds the gin router with every route of the backend.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(s.panicRecovery(), s.requestLogger())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": Version})
	})
	router.GET("/metrics", s.handleMetrics)
	router.GET(s.wsPath, s.requireAuth(), s.ServeWS)

	api := router.Group("/api")
	authLimited := api.Group("/auth", s.rateLimit())
	{
		authLimited.POST("/signup", s.HandleSignup)
		authLimited.POST("/login", s.HandleLogin)
	}
	api.GET("/files/:id", s.uploads.HandleDownload)
	api.GET("/files/:id/thumb", s.uploads.HandleThumbnail)

	protected := api.Group("", s.requireAuth())
	{
		protected.GET("/auth/me", s.HandleMe)
		protected.GET("/chatroom", s.HandleListRooms)
		protected.POST("/chatroom", s.HandleCreateRoom)
		protected.POST("/chatroom/join/:token", s.HandleJoinRoom)
		protected.POST("/chatroom/exit", s.HandleExitRoom)
		protected.GET("/chatroom/messages/:roomId", s.HandleMessages)
		protected.POST("/chatroom/upload", s.uploads.HandleUpload)
	}
	return router
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		limiterContext, err := s.loginLimiter.Get(c.Request.Context(), c.ClientIP())
		if err != nil {
			s.log.Error().Err(err).Msg("rate limiter failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "rate limiter error"})
			return
		}
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", limiterContext.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", limiterContext.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", limiterContext.Reset))
		if limiterContext.Reached {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many attempts, try again later"})
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := s.log.Debug()
		switch {
		case status >= http.StatusInternalServerError:
			event = s.log.Error()
		case status >= http.StatusBadRequest:
			event = s.log.Info()
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Str("ip", c.ClientIP()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	}
}

func (s *Server) panicRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		s.log.Error().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Interface("panic", recovered).
			Bytes("stack", debug.Stack()).
			Msg("panic recovered")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	})
}

func writeError(c *gin.Context, status int, err error) {
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
