package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/agora/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/comments"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/notify"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/projects"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/reader"
	"github.com/MarcoPoloResearchLab/agora/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

const (
	actorContextKey    = "agora_actor"
	defaultServiceName = "agora-api"
	accessTokenParam   = "access_token"
)

var (
	errMissingSessions = errors.New("session validator dependency required")
	errMissingUsers    = errors.New("users service dependency required")
	errMissingProjects = errors.New("projects service dependency required")
	errMissingComments = errors.New("comments service dependency required")
	errMissingReader   = errors.New("read resolver dependency required")
	errMissingRealtime = errors.New("realtime dispatcher dependency required")
)

// SessionValidator authenticates requests carrying a session token.
type SessionValidator interface {
	ValidateToken(token string) (auth.SessionClaims, error)
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// Dependencies wires the services behind the HTTP surface.
type Dependencies struct {
	Sessions       SessionValidator
	Users          *users.Service
	Projects       *projects.Service
	Comments       *comments.Service
	Reader         *reader.Resolver
	Realtime       *notify.Dispatcher
	AllowedOrigins []string
	ServiceName    string
	Logger         *zap.Logger
}

// NewHTTPHandler builds the gin engine serving the public API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errMissingSessions
	case deps.Users == nil:
		return nil, errMissingUsers
	case deps.Projects == nil:
		return nil, errMissingProjects
	case deps.Comments == nil:
		return nil, errMissingComments
	case deps.Reader == nil:
		return nil, errMissingReader
	case deps.Realtime == nil:
		return nil, errMissingRealtime
	}
	if err := registerValidators(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	serviceName := strings.TrimSpace(deps.ServiceName)
	if serviceName == "" {
		serviceName = defaultServiceName
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))
	router.Use(otelgin.Middleware(serviceName))
	router.Use(metricsMiddleware())

	handler := &httpHandler{
		sessions: deps.Sessions,
		users:    deps.Users,
		projects: deps.Projects,
		comments: deps.Comments,
		reader:   deps.Reader,
		realtime: deps.Realtime,
		logger:   logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/")
	api.Use(handler.authenticate)

	api.GET("/projects/:projectID", handler.handleReadProject)
	api.GET("/projects/:projectID/versions", handler.handleListVersions)
	api.GET("/projects/:projectID/comments", handler.handleListComments)
	api.GET("/comments/:commentID/replies", handler.handleListReplies)

	signedIn := api.Group("/")
	signedIn.Use(handler.requireActor)
	signedIn.GET("/events", handler.handleEvents)
	signedIn.POST("/projects", handler.handleCreateProject)
	signedIn.PUT("/projects/:projectID", handler.handleEditProject)
	signedIn.POST("/projects/:projectID/publish", handler.handlePublishProject)
	signedIn.POST("/projects/:projectID/hide", handler.handleToggleHide)
	signedIn.POST("/projects/:projectID/versions", handler.handleCutVersion)
	signedIn.POST("/projects/:projectID/comments", handler.handleCreateComment)
	signedIn.POST("/comments/:commentID/replies", handler.handleCreateReply)
	signedIn.DELETE("/comments/:commentID", handler.handleDeleteComment)
	signedIn.DELETE("/replies/:replyID", handler.handleDeleteReply)
	signedIn.POST("/comments/:commentID/highlight", handler.handleToggleHighlight)
	signedIn.POST("/comments/:commentID/resolve", handler.handleToggleResolve)
	signedIn.POST("/likes", handler.handleToggleLike)

	return router, nil
}

type httpHandler struct {
	sessions SessionValidator
	users    *users.Service
	projects *projects.Service
	comments *comments.Service
	reader   *reader.Resolver
	realtime *notify.Dispatcher
	logger   *zap.Logger
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

// authenticate attaches the actor when the request carries a session.
// Requests without a token continue anonymously; invalid tokens are rejected.
func (h *httpHandler) authenticate(c *gin.Context) {
	claims, err := h.readSession(c)
	if errors.Is(err, auth.ErrMissingSessionToken) {
		c.Next()
		return
	}
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "http.unauthorized"})
		return
	}
	actor, err := h.users.ResolveActor(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("actor resolution failed", zap.Error(err), zap.String("user_id", claims.UserID))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "actor_resolution_failed", "code": "http.actor_resolution_failed"})
		return
	}
	c.Set(actorContextKey, actor)
	c.Next()
}

// readSession prefers the access_token query parameter used by EventSource
// clients, then the Authorization header, then the session cookie.
func (h *httpHandler) readSession(c *gin.Context) (auth.SessionClaims, error) {
	if token := strings.TrimSpace(c.Query(accessTokenParam)); token != "" {
		return h.sessions.ValidateToken(token)
	}
	return h.sessions.ValidateRequest(c.Request)
}

func (h *httpHandler) requireActor(c *gin.Context) {
	if actorFrom(c) == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "http.unauthorized"})
		return
	}
	c.Next()
}

func actorFrom(c *gin.Context) *auth.Actor {
	value, ok := c.Get(actorContextKey)
	if !ok {
		return nil
	}
	actor, _ := value.(*auth.Actor)
	return actor
}
