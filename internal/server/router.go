package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/chapterhub/internal/auth"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/content"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/polls"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/relay"
	"github.com/MarcoPoloResearchLab/chapterhub/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultHeartbeatInterval = 25 * time.Second

var (
	errMissingTokenManager = errors.New("token manager dependency required")
	errMissingUserService  = errors.New("user service dependency required")
	errMissingContentStore = errors.New("content store dependency required")
	errMissingPollService  = errors.New("poll service dependency required")
	errMissingRelay        = errors.New("change relay dependency required")
)

// TokenManager issues and validates bearer tokens.
type TokenManager interface {
	IssueToken(ctx context.Context, identity auth.Identity) (string, int64, error)
	ValidateToken(token string) (auth.Claims, error)
}

// UserService manages accounts.
type UserService interface {
	Signup(ctx context.Context, input users.SignupInput) (users.User, error)
	Authenticate(ctx context.Context, email, password string) (users.User, error)
	Get(ctx context.Context, id string) (users.User, error)
}

// ContentStore is the collection CRUD surface.
type ContentStore interface {
	Registry() *content.Registry
	List(ctx context.Context, collection content.Collection, query content.ListQuery) (content.ListResult, error)
	Get(ctx context.Context, collection content.Collection, id string) (content.Record, error)
	Create(ctx context.Context, collection content.Collection, creatorID string, body []byte) (content.Record, error)
	Update(ctx context.Context, collection content.Collection, id string, body []byte) (content.Record, error)
	Delete(ctx context.Context, collection content.Collection, id string) (content.Record, error)
	BulkDelete(ctx context.Context, collection content.Collection, ids []string) (content.BulkDeleteResult, error)
	Stats(ctx context.Context) (content.Stats, error)
	ListPublic(ctx context.Context, collection content.Collection) ([]content.Record, error)
}

// PollService records votes and reports results.
type PollService interface {
	SubmitVote(ctx context.Context, pollID string, optionIndex int, voterID string) (content.Poll, error)
	HasVoted(ctx context.Context, pollID, voterID string) (bool, error)
	ActivePolls(ctx context.Context) ([]content.Poll, error)
	Analytics(ctx context.Context, pollID string) (polls.Analytics, error)
}

// ChangeRelay fans out change events to stream subscribers.
type ChangeRelay interface {
	Publish(event relay.ChangeEvent)
	Subscribe(ctx context.Context, collections ...string) (<-chan relay.ChangeEvent, func())
}

// Dependencies wires the HTTP handler.
type Dependencies struct {
	TokenManager      TokenManager
	Users             UserService
	Content           ContentStore
	Polls             PollService
	Relay             ChangeRelay
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	Clock             func() time.Time
	Logger            *zap.Logger
}

// NewHTTPHandler builds the gin router serving the API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Users == nil {
		return nil, errMissingUserService
	}
	if deps.Content == nil {
		return nil, errMissingContentStore
	}
	if deps.Polls == nil {
		return nil, errMissingPollService
	}
	if deps.Relay == nil {
		return nil, errMissingRelay
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(cors.New(corsConfig(deps.AllowedOrigins)))

	handler := &httpHandler{
		tokens:    deps.TokenManager,
		users:     deps.Users,
		content:   deps.Content,
		polls:     deps.Polls,
		relay:     deps.Relay,
		heartbeat: heartbeat,
		clock:     clock,
		logger:    logger,
	}

	router.GET("/healthz", handler.handleHealth)

	authGroup := router.Group("/api/auth")
	authGroup.POST("/signup", handler.handleSignup)
	authGroup.POST("/login", handler.handleLogin)
	authGroup.GET("/me", handler.authorizeRequest, handler.handleMe)
	authGroup.POST("/logout", handler.authorizeRequest, handler.handleLogout)

	admin := router.Group("/api/admin")
	admin.Use(handler.authorizeRequest, handler.requireAdmin)
	admin.GET("/stats", handler.handleStats)
	admin.GET("/polls/:id/analytics", handler.handlePollAnalytics)
	admin.GET("/schema/:collection", handler.resolveCollection, handler.handleSchema)
	admin.POST("/add/:collection", handler.resolveCollection, handler.handleCreate)
	admin.GET("/list/:collection", handler.resolveCollection, handler.handleList)
	admin.GET("/get/:collection/:id", handler.resolveCollection, handler.handleGet)
	admin.PUT("/update/:collection/:id", handler.resolveCollection, handler.handleUpdate)
	admin.DELETE("/delete/:collection/:id", handler.resolveCollection, handler.handleDelete)
	admin.POST("/bulk-delete/:collection", handler.resolveCollection, handler.handleBulkDelete)

	public := router.Group("/api")
	public.GET("/content/:collection", handler.resolveCollection, handler.handlePublicContent)
	public.GET("/polls/active", handler.handleActivePolls)
	public.POST("/polls/:id/vote", handler.handleVote)
	public.GET("/polls/:id/voted", handler.handleHasVoted)
	public.GET("/realtime/stream", handler.optionalIdentity, handler.handleStream)

	return router, nil
}

type httpHandler struct {
	tokens    TokenManager
	users     UserService
	content   ContentStore
	polls     PollService
	relay     ChangeRelay
	heartbeat time.Duration
	clock     func() time.Time
	logger    *zap.Logger
}

func corsConfig(origins []string) cors.Config {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		config.AllowAllOrigins = true
		config.AllowCredentials = false
		return config
	}
	config.AllowOrigins = origins
	return config
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("http request", fields...)
			return
		}
		logger.Debug("http request", fields...)
	}
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	respondData(c, http.StatusOK, "ok", gin.H{"time": h.clock().UTC()})
}

func (h *httpHandler) publish(collection content.Collection, action relay.Action, data any) {
	h.relay.Publish(relay.ChangeEvent{
		Collection: collection.String(),
		Action:     action,
		Data:       data,
		Timestamp:  h.clock().UTC(),
	})
}
