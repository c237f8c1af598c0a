// main.go
package main

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"go-score-hub/config"
	"go-score-hub/controllers"
	"go-score-hub/logger"
	"go-score-hub/middleware"
	"go-score-hub/services"
	"go-score-hub/store"
	"go-score-hub/websocket"
)

func main() {
	cfg := config.Load()
	logger.SetLogLevel(cfg.AppEnv)
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Persistence: SQLite by default, in-memory when explicitly requested
	// (useful for demos; nothing survives a restart).
	var scoreStore store.ScoreStore
	var rubricStore store.RubricStore
	if cfg.DBPath == "memory" {
		mem := store.NewMemoryStore()
		scoreStore, rubricStore = mem, mem
		logger.Warn.Println("running with in-memory score store; scores will not survive a restart")
	} else {
		db, err := store.Open(cfg.DBPath)
		if err != nil {
			logger.Error.Fatalf("failed to open score store at %s: %v", cfg.DBPath, err)
		}
		defer func() { _ = db.Close() }()
		scoreStore, rubricStore = db, db
	}

	// Collaborators are constructed here and injected; nothing reaches for a
	// global instance.
	identity := services.NewTokenIdentityService()
	rubrics := services.NewRubricService(rubricStore)
	registry := websocket.NewSessionRegistry()
	metrics := websocket.NewMetricsPublisher(cfg.MetricsEnabled)
	coord := websocket.NewCoordinator(cfg, registry, scoreStore, identity, rubrics, metrics)

	sweeper := websocket.NewSweeper(coord, cfg.SweepInterval, cfg.HeartbeatTimeout)
	go sweeper.Run()

	router := gin.Default()

	// cookie session store caches validated REST identities
	cookieStore := cookie.NewStore([]byte(cfg.SessionSecret))
	cookieStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   86400,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	router.Use(sessions.Sessions("scorehub", cookieStore))

	sc := controllers.NewSessionController(cfg, coord, scoreStore)

	router.GET("/health", controllers.Health)
	router.GET("/scoring-updates", func(c *gin.Context) {
		coord.ServeWs(c.Writer, c.Request)
	})

	router.POST("/sessions", sc.CreateSession)
	router.GET("/sessions", sc.ListActiveSessions)
	router.GET("/sessions/:sessionId", sc.GetSession)
	router.POST("/sessions/:sessionId/cancel", sc.CancelSession)
	router.GET("/sessions/:sessionId/qrcode", sc.GetQRCode)

	protected := router.Group("/", middleware.AuthRequired(identity))
	{
		protected.POST("/sessions/:sessionId/scores", sc.SaveScore)
		protected.POST("/sessions/:sessionId/submit", sc.Submit)
		protected.POST("/sessions/:sessionId/resolve", sc.Resolve)
		protected.PUT("/sessions/:sessionId/scores/:judgeId", sc.AmendScore)
		protected.GET("/sessions/:sessionId/audit", sc.GetAudit)
	}

	logger.Info.Printf("scoring coordinator listening on :%s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		logger.Error.Fatalf("failed to run server: %v", err)
	}
}
