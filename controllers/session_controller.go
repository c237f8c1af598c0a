// Package controllers exposes the REST surface of the scoring coordinator:
// session registration (scheduler-facing), score save/submit fallbacks, head
// judge actions and operational introspection.
// File: controllers/session_controller.go
package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"go-score-hub/config"
	"go-score-hub/logger"
	"go-score-hub/middleware"
	"go-score-hub/models"
	"go-score-hub/services"
	"go-score-hub/store"
	"go-score-hub/websocket"
)

// SessionController handles session-scoped REST requests.
type SessionController struct {
	cfg   config.Config
	coord *websocket.Coordinator
	store store.ScoreStore
}

// NewSessionController wires the controller.
func NewSessionController(cfg config.Config, coord *websocket.Coordinator, st store.ScoreStore) *SessionController {
	return &SessionController{cfg: cfg, coord: coord, store: st}
}

// Health answers load balancer checks.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ----------------------- scheduler-facing -----------------------

type createSessionRequest struct {
	ID             string `json:"id"`
	CompetitionID  string `json:"competition_id" binding:"required"`
	TeamID         string `json:"team_id" binding:"required"`
	CategoryID     string `json:"category_id" binding:"required"`
	Venue          string `json:"venue"`
	RequiredJudges int    `json:"required_judges"`
}

// CreateSession registers a scheduled session. Called by the external
// scheduler when a team is slotted for judging.
func (sc *SessionController) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.RequiredJudges <= 0 {
		req.RequiredJudges = sc.cfg.RequiredJudges
	}
	sess := models.ScoringSession{
		ID:             req.ID,
		CompetitionID:  req.CompetitionID,
		TeamID:         req.TeamID,
		CategoryID:     req.CategoryID,
		Venue:          req.Venue,
		Status:         models.SessionScheduled,
		RequiredJudges: req.RequiredJudges,
	}
	if err := sc.coord.Registry().Register(sess); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, sess)
}

// CancelSession soft-closes a session without completing it.
func (sc *SessionController) CancelSession(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if err := sc.coord.Registry().Cancel(sessionID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// ----------------------- introspection -----------------------

// ListActiveSessions reports every live scoring session.
func (sc *SessionController) ListActiveSessions(c *gin.Context) {
	sessions := sc.coord.Registry().AllActiveSessions()
	c.JSON(http.StatusOK, gin.H{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

// GetSession reports one session's status, connections and submissions.
func (sc *SessionController) GetSession(c *gin.Context) {
	sessionID := c.Param("sessionId")
	sess, err := sc.coord.Registry().Lookup(sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		return
	}
	submitted, err := sc.store.ListSubmitted(sessionID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	judges := make([]string, 0)
	for _, conn := range sc.coord.Registry().Connections(sessionID) {
		judges = append(judges, conn.JudgeID)
	}
	c.JSON(http.StatusOK, gin.H{
		"session":          sess,
		"connected_judges": judges,
		"submitted_count":  len(submitted),
	})
}

// GetAudit returns a session's audit trail (head judge only).
func (sc *SessionController) GetAudit(c *gin.Context) {
	judgeID, role := middleware.Identity(c)
	if role != models.RoleHeadJudge {
		logger.Warn.Printf("[GetAudit] judge=%s role=%s denied audit access", judgeID, role)
		c.JSON(http.StatusForbidden, gin.H{"error": "head judge only"})
		return
	}
	entries, err := sc.store.ListAudit(c.Param("sessionId"))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// GetQRCode renders the judge join link for a session as a PNG QR code,
// printable on the judging table card.
func (sc *SessionController) GetQRCode(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if _, err := sc.coord.Registry().Lookup(sessionID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		return
	}
	png, err := services.GenerateSessionQRCode(sc.cfg.ApplicationURL, sessionID, 256)
	if err != nil {
		logger.Error.Printf("[GetQRCode] generation failed for session=%s: %v", sessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "QR generation failed"})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// ----------------------- save / submit fallbacks -----------------------

type saveScoreRequest struct {
	TeamID     string  `json:"team_id"`
	CriteriaID string  `json:"criteria_id" binding:"required"`
	Score      float64 `json:"score"`
	Timestamp  int64   `json:"timestamp"`
}

// SaveScore is the REST fallback for the score_update message, used by
// clients whose WebSocket is down. Same validation, same idempotence.
func (sc *SessionController) SaveScore(c *gin.Context) {
	judgeID, role := middleware.Identity(c)
	var req saveScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg := &websocket.ScoreUpdateMessage{
		Kind:       websocket.KindScoreUpdate,
		SessionID:  c.Param("sessionId"),
		TeamID:     req.TeamID,
		JudgeID:    judgeID,
		CriteriaID: req.CriteriaID,
		Score:      req.Score,
		Timestamp:  req.Timestamp,
	}
	if err := sc.coord.SaveScore(judgeID, role, msg); err != nil {
		respondCoordinatorError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved", "criteria_id": req.CriteriaID, "score": req.Score})
}

type submitRequest struct {
	CriteriaScores  map[string]float64 `json:"criteria_scores" binding:"required"`
	JudgeNotes      string             `json:"judge_notes"`
	DurationMinutes int                `json:"duration_minutes"`
}

// Submit is the REST fallback for the submit message.
func (sc *SessionController) Submit(c *gin.Context) {
	judgeID, role := middleware.Identity(c)
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg := &websocket.SubmitMessage{
		Kind:            websocket.KindSubmit,
		SessionID:       c.Param("sessionId"),
		CriteriaScores:  req.CriteriaScores,
		JudgeNotes:      req.JudgeNotes,
		DurationMinutes: req.DurationMinutes,
	}
	if err := sc.coord.SubmitScores(judgeID, role, msg); err != nil {
		respondCoordinatorError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "submitted"})
}

// ----------------------- head judge actions -----------------------

type resolveRequest struct {
	Detail string `json:"detail"`
}

// Resolve is the head judge's "submit anyway" conflict override.
func (sc *SessionController) Resolve(c *gin.Context) {
	judgeID, role := middleware.Identity(c)
	var req resolveRequest
	_ = c.ShouldBindJSON(&req)
	err := sc.coord.ResolveConflict(judgeID, role, c.Param("sessionId"), req.Detail)
	if err != nil {
		if errors.Is(err, services.ErrUnauthorized) {
			c.JSON(http.StatusForbidden, gin.H{"error": "not authorized to resolve conflicts"})
			return
		}
		respondCoordinatorError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}

type amendRequest struct {
	CriteriaID string  `json:"criteria_id" binding:"required"`
	Score      float64 `json:"score"`
	Reason     string  `json:"reason" binding:"required"`
}

// AmendScore changes a submitted record through the audited elevated path.
func (sc *SessionController) AmendScore(c *gin.Context) {
	actorID, role := middleware.Identity(c)
	var req amendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := sc.coord.AmendSubmittedScore(actorID, role,
		c.Param("sessionId"), c.Param("judgeId"), req.CriteriaID, req.Score, req.Reason)
	if err != nil {
		if errors.Is(err, services.ErrUnauthorized) {
			c.JSON(http.StatusForbidden, gin.H{"error": "not authorized to amend submitted scores"})
			return
		}
		respondCoordinatorError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "amended"})
}

// respondCoordinatorError maps coordinator constraint violations onto HTTP.
func respondCoordinatorError(c *gin.Context, err error) {
	constraint, retryable, ok := websocket.ConstraintOf(err)
	if !ok {
		if errors.Is(err, websocket.ErrSessionNotFound) || errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if errors.Is(err, websocket.ErrSessionBusy) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "retryable": true})
			return
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	status := http.StatusUnprocessableEntity
	if retryable {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error(), "constraint": constraint, "retryable": retryable})
}
