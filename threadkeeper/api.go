package threadkeeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

const apiMaxPageSize = 100

// API is the read-only HTTP API: health, tracked posts, feature
// requests, and recent command activity. It never writes; all
// mutations go through Discord.
type API struct {
	tk     *Threadkeeper
	config *APIConfig
	engine *gin.Engine
	server *http.Server
	logger *slog.Logger
}

// NewAPI creates the API router and server from the given config.
func NewAPI(tk *Threadkeeper, config *APIConfig) *API {
	logger := tk.logger.With(loggerNameKey, "api")

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), apiRequestLogger(logger))
	if len(config.CORS.AllowOrigins) > 0 {
		engine.Use(cors.New(config.CORS.GINConfig()))
	}

	api := &API{
		tk:     tk,
		config: config,
		engine: engine,
		logger: logger,
	}
	api.registerRoutes()

	api.server = &http.Server{
		Addr:              config.Listen,
		Handler:           engine,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
	}
	return api
}

func (a *API) registerRoutes() {
	a.engine.GET("/health", a.getHealth)

	group := a.engine.Group("/api")
	group.GET("/posts", a.listPosts)
	group.GET("/posts/:id", a.getPost)
	group.GET("/features", a.listFeatureRequests)
	group.GET("/commands", a.listCommandLogs)
}

// Serve listens until ctx is cancelled, then shuts the server down
// gracefully.
func (a *API) Serve(ctx context.Context) error {
	listener, err := net.Listen(a.config.ListenNetwork, a.config.Listen)
	if err != nil {
		return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
	}
	a.logger.Info("api listening", "address", a.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Serve(listener)
	}()

	select {
	case err = <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		5*time.Second,
	)
	defer cancel()
	if err = a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("error shutting down api", tint.Err(err))
	}
	return nil
}

func (a *API) getHealth(c *gin.Context) {
	c.JSON(
		http.StatusOK,
		gin.H{
			"status":            "ok",
			"discord_connected": a.tk.discord.connected.Load(),
		},
	)
}

// listPosts returns tracked posts, optionally filtered by state
// (open-active, open-reminded, closed) or author.
func (a *API) listPosts(c *gin.Context) {
	query := a.tk.db.DB().WithContext(c.Request.Context()).
		Model(&SupportPost{}).
		Order("last_activity DESC").
		Limit(pageSize(c))

	switch PostState(c.Query("state")) {
	case PostStateClosed:
		query = query.Where(
			fmt.Sprintf("%s IS NOT NULL", columnSupportPostClosedAt),
		)
	case PostStateOpenReminded:
		query = query.Where(
			fmt.Sprintf(
				"%s IS NULL AND %s IS NOT NULL",
				columnSupportPostClosedAt,
				columnSupportPostRemindedAt,
			),
		)
	case PostStateOpenActive:
		query = query.Where(
			fmt.Sprintf(
				"%s IS NULL AND %s IS NULL",
				columnSupportPostClosedAt,
				columnSupportPostRemindedAt,
			),
		)
	}
	if author := c.Query("author_id"); author != "" {
		query = query.Where("author_id = ?", author)
	}

	var posts []SupportPost
	if err := query.Find(&posts).Error; err != nil {
		a.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"posts": posts})
}

func (a *API) getPost(c *gin.Context) {
	var post SupportPost
	err := a.tk.db.DB().WithContext(c.Request.Context()).
		First(&post, "id = ?", c.Param("id")).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
			return
		}
		a.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"post": post, "state": post.State()})
}

func (a *API) listFeatureRequests(c *gin.Context) {
	var requests []FeatureRequest
	err := a.tk.db.DB().WithContext(c.Request.Context()).
		Order("created_at DESC").
		Limit(pageSize(c)).
		Find(&requests).Error
	if err != nil {
		a.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"feature_requests": requests})
}

func (a *API) listCommandLogs(c *gin.Context) {
	query := a.tk.db.DB().WithContext(c.Request.Context()).
		Model(&CommandLog{}).
		Order("created_at DESC").
		Limit(pageSize(c))
	if userID := c.Query("user_id"); userID != "" {
		query = query.Where("user_id = ?", userID)
	}

	var logs []CommandLog
	if err := query.Find(&logs).Error; err != nil {
		a.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commands": logs})
}

func (a *API) internalError(c *gin.Context, err error) {
	a.logger.Error("api error", tint.Err(err), "path", c.Request.URL.Path)
	c.JSON(
		http.StatusInternalServerError,
		gin.H{"error": "internal server error"},
	)
}

func pageSize(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "25"))
	if err != nil || limit <= 0 {
		return 25
	}
	if limit > apiMaxPageSize {
		return apiMaxPageSize
	}
	return limit
}

// apiRequestLogger logs each request with method, path, status and
// duration.
func apiRequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		logger.Info(
			"request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(started),
			"client_ip", c.ClientIP(),
		)
	}
}
