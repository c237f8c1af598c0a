// Package websocket - the real-time scoring coordinator.
// File: websocket/coordinator.go
package websocket

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"go-score-hub/config"
	"go-score-hub/logger"
	"go-score-hub/models"
	"go-score-hub/services"
	"go-score-hub/store"
)

// upgrader upgrades HTTP requests to WebSocket connections.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Judges connect from venue tablets on changing networks; origin
		// policy is enforced upstream by the reverse proxy.
		return true
	},
}

// protocolError is a constraint violation reported to the client without
// closing the connection.
type protocolError struct {
	Constraint string
	Message    string
	Retryable  bool
}

func (e *protocolError) Error() string { return e.Message }

func protoErr(constraint, format string, args ...interface{}) *protocolError {
	return &protocolError{Constraint: constraint, Message: fmt.Sprintf(format, args...)}
}

// ConstraintPersistence marks a store failure: the acknowledgment is withheld
// and the client retries with backoff.
const ConstraintPersistence = "persistence_unavailable"

// Coordinator owns every live scoring connection and is the single source of
// truth for who is connected to which session. All collaborators are injected
// at construction; there are no ambient singletons.
type Coordinator struct {
	cfg      config.Config
	registry *SessionRegistry
	store    store.ScoreStore
	identity services.IdentityService
	rubrics  services.RubricService
	metrics  *MetricsPublisher
}

// NewCoordinator wires the coordinator with its collaborators.
func NewCoordinator(cfg config.Config, reg *SessionRegistry, st store.ScoreStore,
	id services.IdentityService, rb services.RubricService, m *MetricsPublisher) *Coordinator {
	if m == nil {
		m = NewMetricsPublisher(false)
	}
	return &Coordinator{
		cfg:      cfg,
		registry: reg,
		store:    st,
		identity: id,
		rubrics:  rb,
		metrics:  m,
	}
}

// Registry exposes the session registry for introspection endpoints.
func (co *Coordinator) Registry() *SessionRegistry { return co.registry }

// ServeWs is the WebSocket entry point. The URL carries an opaque auth token
// plus session and judge identifiers as query parameters; identity is always
// validated before the upgrade, and a bad token refuses the connection.
func (co *Coordinator) ServeWs(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	sessionID := r.URL.Query().Get("session_id")
	judgeID := r.URL.Query().Get("judge_id")
	if token == "" || sessionID == "" || judgeID == "" {
		logger.Warn.Printf("[ServeWs] missing token/session_id/judge_id from %v", r.RemoteAddr)
		http.Error(w, "token, session_id and judge_id are required", http.StatusBadRequest)
		return
	}

	role, err := co.identity.Validate(token, sessionID, judgeID)
	if err != nil {
		logger.Warn.Printf("[ServeWs] auth failure for judge=%s session=%s: %v", judgeID, sessionID, err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sess, err := co.registry.Lookup(sessionID)
	if err != nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	if sess.Status == models.SessionCancelled {
		http.Error(w, "session cancelled", http.StatusConflict)
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error.Printf("[ServeWs] upgrade error: %v", err)
		return
	}

	c := &Connection{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		JudgeID:       judgeID,
		Role:          role,
		conn:          wsConn,
		send:          make(chan []byte, sendBuffer),
		coord:         co,
		state:         models.ConnConnecting,
		lastHeartbeat: time.Now(),
	}

	// A reconnect supersedes the judge's stale connection rather than
	// duplicating it.
	old, err := co.registry.Join(sessionID, c)
	if err != nil {
		_ = wsConn.Close()
		return
	}
	if old != nil {
		old.setState(models.ConnDisconnected)
		old.close()
		_ = old.conn.Close()
	}

	// First judge in a scheduled session flips it to active.
	if sess.Status == models.SessionScheduled {
		if _, err := co.registry.Activate(sessionID); err != nil {
			logger.Error.Printf("[ServeWs] cannot activate session=%s: %v", sessionID, err)
			c.enqueue(mustMarshal(ErrorMessage{
				Kind:       KindError,
				Message:    err.Error(),
				Constraint: ConstraintSessionClosed,
			}))
		}
	}
	c.setState(models.ConnConnected)
	logger.Info.Printf("[ServeWs] judge=%s role=%s joined session=%s (conn=%s)", judgeID, role, sessionID, c.ID)

	go c.writePump()
	go c.readPump()

	co.sendInitialState(c)
	co.broadcastSessionStatus(sessionID)
	co.metrics.PublishJudgeConnections(co.registry.ConnectedJudgeCount(sessionID), sessionID)
}

// sendInitialState replays the judge's persisted draft (the offline-recovery
// contract: every acknowledged update survives a disconnect).
func (co *Coordinator) sendInitialState(c *Connection) {
	msg := InitialStateMessage{
		Kind:           KindInitialState,
		SessionID:      c.SessionID,
		RecordStatus:   models.RecordDraft,
		CriteriaScores: map[string]float64{},
	}
	if sess, err := co.registry.Lookup(c.SessionID); err == nil {
		msg.SessionStatus = sess.Status
	}
	msg.ConnectedJudges = co.registry.ConnectedJudgeCount(c.SessionID)

	rec, err := co.store.Load(c.SessionID, c.JudgeID)
	switch {
	case err == nil:
		msg.RecordStatus = rec.Status
		msg.CriteriaScores = rec.CriteriaScores
		msg.Notes = rec.Notes
	case errors.Is(err, store.ErrNotFound):
		// no draft yet; empty initial state
	default:
		logger.Error.Printf("[sendInitialState] load failed for judge=%s session=%s: %v", c.JudgeID, c.SessionID, err)
	}
	c.enqueue(mustMarshal(msg))
}

// Disconnect removes a connection from its session and tells the remaining
// members. Scores persist; disconnecting is an expected operational state,
// not an error.
func (co *Coordinator) Disconnect(c *Connection) {
	if c.State() == models.ConnDisconnected {
		return
	}
	c.setState(models.ConnDisconnected)
	co.registry.Leave(c.SessionID, c)
	c.close()
	logger.Info.Printf("[Disconnect] judge=%s left session=%s (conn=%s)", c.JudgeID, c.SessionID, c.ID)
	co.broadcastSessionStatus(c.SessionID)
	co.metrics.PublishJudgeConnections(co.registry.ConnectedJudgeCount(c.SessionID), c.SessionID)
}

// HandleMessage dispatches one inbound frame. Returns false when the
// connection should be closed (strike limit reached).
func (co *Coordinator) HandleMessage(c *Connection, raw []byte) bool {
	msg, err := DecodeInbound(raw)
	if err != nil {
		constraint := ConstraintMalformed
		if errors.Is(err, ErrUnknownKind) {
			constraint = ConstraintUnknownKind
		}
		c.enqueue(mustMarshal(ErrorMessage{Kind: KindError, Message: err.Error(), Constraint: constraint}))
		if strikes := c.strike(); strikes >= co.cfg.ProtocolStrikeLimit {
			logger.Warn.Printf("[HandleMessage] closing judge=%s session=%s after %d protocol violations",
				c.JudgeID, c.SessionID, strikes)
			return false
		}
		return true
	}

	switch m := msg.(type) {
	case *HeartbeatMessage:
		c.Touch()
	case *ScoreUpdateMessage:
		if err := co.applyScoreUpdate(c.SessionID, c.JudgeID, c.Role, m); err != nil {
			co.reportError(c, err)
		} else {
			c.enqueue(mustMarshal(ScoreConfirmedMessage{
				Kind:       KindScoreConfirmed,
				SessionID:  m.SessionID,
				JudgeID:    m.JudgeID,
				CriteriaID: m.CriteriaID,
				Score:      m.Score,
				Timestamp:  m.Timestamp,
			}))
			co.broadcastScoreUpdate(c, m)
		}
	case *SubmitMessage:
		if err := co.applySubmit(c.SessionID, c.JudgeID, c.Role, m); err != nil {
			co.reportError(c, err)
		}
	}
	return true
}

// reportError sends a protocol error to the client. Store failures are the
// exception: the ack is simply withheld so the client's backoff retry kicks
// in, per the durability contract.
func (co *Coordinator) reportError(c *Connection, err error) {
	var pe *protocolError
	if !errors.As(err, &pe) {
		logger.Error.Printf("[reportError] internal error for judge=%s session=%s: %v", c.JudgeID, c.SessionID, err)
		return
	}
	if pe.Constraint == ConstraintPersistence {
		logger.Error.Printf("[reportError] persistence failure, ack withheld (judge=%s session=%s): %s",
			c.JudgeID, c.SessionID, pe.Message)
		co.metrics.PublishPersistFailure(c.SessionID)
		return
	}
	c.enqueue(mustMarshal(ErrorMessage{
		Kind:       KindError,
		Message:    pe.Message,
		Constraint: pe.Constraint,
		Retryable:  pe.Retryable,
	}))
}

// checkSender rejects messages asserting someone else's identity or session,
// and write attempts from observer connections.
func checkSender(sessionID, judgeID string, role models.Role, msgSession, msgJudge string) *protocolError {
	if msgSession != sessionID || (msgJudge != "" && msgJudge != judgeID) {
		return protoErr(ConstraintWrongSession,
			"message targets session %s as judge %s; this connection is judge %s in session %s",
			msgSession, msgJudge, judgeID, sessionID)
	}
	if role == models.RoleObserver {
		return protoErr(ConstraintObserverReadOnly, "observer connections cannot score")
	}
	return nil
}

// applyScoreUpdate validates and persists one criterion update. Idempotent:
// last write wins per criterion, guarded by the client timestamp, so the
// auto-save cadence can replay updates freely.
func (co *Coordinator) applyScoreUpdate(sessionID, judgeID string, role models.Role, m *ScoreUpdateMessage) error {
	if pe := checkSender(sessionID, judgeID, role, m.SessionID, m.JudgeID); pe != nil {
		return pe
	}
	sess, err := co.registry.Lookup(sessionID)
	if err != nil {
		return protoErr(ConstraintWrongSession, "unknown session %s", sessionID)
	}
	if sess.Status == models.SessionCompleted || sess.Status == models.SessionCancelled {
		return protoErr(ConstraintSessionClosed, "session %s is %s", sessionID, sess.Status)
	}

	release, err := co.registry.Acquire(sessionID, co.cfg.SessionLockTimeout)
	if err != nil {
		return &protocolError{Constraint: ConstraintSessionBusy, Message: err.Error(), Retryable: true}
	}
	defer release()

	if err := co.rubrics.ValidateScore(sess.CategoryID, m.CriteriaID, m.Score); err != nil {
		switch {
		case errors.Is(err, services.ErrUnknownCriterion):
			return protoErr(ConstraintUnknownCriterion, "%v", err)
		case errors.Is(err, services.ErrScoreOutOfRange):
			return protoErr(ConstraintScoreOutOfRange, "%v", err)
		default:
			return &protocolError{Constraint: ConstraintPersistence, Message: err.Error(), Retryable: true}
		}
	}

	rec, err := co.store.Load(sessionID, judgeID)
	if errors.Is(err, store.ErrNotFound) {
		rec = newDraftRecord(sessionID, judgeID)
	} else if err != nil {
		return &protocolError{Constraint: ConstraintPersistence, Message: err.Error(), Retryable: true}
	}
	if rec.Status == models.RecordSubmitted || rec.Status == models.RecordValidated {
		return protoErr(ConstraintAlreadySubmitted,
			"record for judge %s is %s; submitted scores change only via head-judge amendment", judgeID, rec.Status)
	}

	ts := m.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	if last, ok := rec.CriteriaUpdated[m.CriteriaID]; ok && ts < last {
		// stale replay of an already-superseded update: nothing to change
		logger.Debug.Printf("[applyScoreUpdate] stale update for judge=%s criterion=%s (ts=%d < %d)",
			judgeID, m.CriteriaID, ts, last)
		return nil
	}
	rec.CriteriaScores[m.CriteriaID] = m.Score
	rec.CriteriaUpdated[m.CriteriaID] = ts
	rec.Status = models.RecordInProgress

	if err := co.store.Save(rec); err != nil {
		return &protocolError{Constraint: ConstraintPersistence, Message: err.Error(), Retryable: true}
	}
	return nil
}

// applySubmit finalizes a judge's record and runs conflict evaluation across
// everything submitted so far. Incomplete submissions are rejected whole;
// there is no partial submit.
func (co *Coordinator) applySubmit(sessionID, judgeID string, role models.Role, m *SubmitMessage) error {
	if pe := checkSender(sessionID, judgeID, role, m.SessionID, ""); pe != nil {
		return pe
	}
	sess, err := co.registry.Lookup(sessionID)
	if err != nil {
		return protoErr(ConstraintWrongSession, "unknown session %s", sessionID)
	}
	if sess.Status == models.SessionCompleted || sess.Status == models.SessionCancelled {
		return protoErr(ConstraintSessionClosed, "session %s is %s", sessionID, sess.Status)
	}

	release, err := co.registry.Acquire(sessionID, co.cfg.SessionLockTimeout)
	if err != nil {
		return &protocolError{Constraint: ConstraintSessionBusy, Message: err.Error(), Retryable: true}
	}
	defer release()

	criteria, err := co.rubrics.GetCriteria(sess.CategoryID)
	if err != nil {
		return &protocolError{Constraint: ConstraintPersistence, Message: err.Error(), Retryable: true}
	}
	var missing []string
	for _, c := range criteria {
		if _, ok := m.CriteriaScores[c.ID]; !ok {
			missing = append(missing, c.ID)
		}
	}
	if len(missing) > 0 {
		return protoErr(ConstraintIncomplete, "submit rejected, criteria not scored: %v", missing)
	}
	for id, score := range m.CriteriaScores {
		if err := co.rubrics.ValidateScore(sess.CategoryID, id, score); err != nil {
			switch {
			case errors.Is(err, services.ErrUnknownCriterion):
				return protoErr(ConstraintUnknownCriterion, "%v", err)
			case errors.Is(err, services.ErrScoreOutOfRange):
				return protoErr(ConstraintScoreOutOfRange, "%v", err)
			default:
				return &protocolError{Constraint: ConstraintPersistence, Message: err.Error(), Retryable: true}
			}
		}
	}

	rec, err := co.store.Load(sessionID, judgeID)
	if errors.Is(err, store.ErrNotFound) {
		rec = newDraftRecord(sessionID, judgeID)
	} else if err != nil {
		return &protocolError{Constraint: ConstraintPersistence, Message: err.Error(), Retryable: true}
	}
	if rec.Status == models.RecordSubmitted || rec.Status == models.RecordValidated {
		return protoErr(ConstraintAlreadySubmitted, "judge %s already submitted for session %s", judgeID, sessionID)
	}

	now := time.Now()
	ts := now.UnixMilli()
	rec.CriteriaScores = make(map[string]float64, len(m.CriteriaScores))
	rec.CriteriaUpdated = make(map[string]int64, len(m.CriteriaScores))
	for id, score := range m.CriteriaScores {
		rec.CriteriaScores[id] = score
		rec.CriteriaUpdated[id] = ts
	}
	rec.Notes = m.JudgeNotes
	rec.DurationMinutes = m.DurationMinutes
	rec.Status = models.RecordSubmitted
	rec.SubmittedAt = &now

	if err := co.store.Save(rec); err != nil {
		return &protocolError{Constraint: ConstraintPersistence, Message: err.Error(), Retryable: true}
	}
	logger.Info.Printf("[applySubmit] judge=%s submitted total=%.1f for session=%s", judgeID, rec.Total(), sessionID)

	return co.evaluateSession(sess)
}

// evaluateSession runs the conflict evaluator over every submitted record and
// broadcasts the outcome: conflict_detected keeps the session open for human
// resolution, agreement validates records and may complete the session.
// Caller holds the session lock.
func (co *Coordinator) evaluateSession(sess models.ScoringSession) error {
	submitted, err := co.store.ListSubmitted(sess.ID)
	if err != nil {
		return &protocolError{Constraint: ConstraintPersistence, Message: err.Error(), Retryable: true}
	}
	totals := make([]models.JudgeTotal, 0, len(submitted))
	for _, rec := range submitted {
		totals = append(totals, models.JudgeTotal{JudgeID: rec.JudgeID, Total: rec.Total()})
	}

	maxPossible, err := co.rubrics.MaxPossible(sess.CategoryID)
	if err != nil {
		maxPossible = 0
	}
	report := services.EvaluateConflict(sess.ID, totals, services.Tolerance{
		Points:      co.cfg.ConflictTolerance,
		Percent:     co.cfg.ConflictTolerancePercent,
		MaxPossible: maxPossible,
	})

	if !report.Consistent {
		logger.Warn.Printf("[evaluateSession] conflict in session=%s spread=%.1f (tolerance=%.1f)",
			sess.ID, report.Spread, co.cfg.ConflictTolerance)
		co.metrics.PublishConflictDetected(sess.ID)
		_ = co.store.AppendAudit(models.AuditEntry{
			SessionID: sess.ID,
			ActorID:   "coordinator",
			Action:    "conflict_detected",
			Detail:    fmt.Sprintf("spread=%.1f mean=%.1f judges=%d", report.Spread, report.Mean, len(totals)),
		})
		co.broadcastToSession(sess.ID, mustMarshal(ConflictDetectedMessage{
			Kind:      KindConflictDetected,
			SessionID: sess.ID,
			Totals:    report.Totals,
			Mean:      report.Mean,
			Min:       report.Min,
			Max:       report.Max,
			Spread:    report.Spread,
		}), nil)
		return nil
	}

	required := sess.RequiredJudges
	if required <= 1 && !co.cfg.SingleJudgeAllowed {
		required = 2
	}
	if len(submitted) >= required {
		judgeIDs := make([]string, 0, len(submitted))
		for _, rec := range submitted {
			judgeIDs = append(judgeIDs, rec.JudgeID)
		}
		if err := co.store.MarkValidated(sess.ID, judgeIDs); err != nil {
			return &protocolError{Constraint: ConstraintPersistence, Message: err.Error(), Retryable: true}
		}
		if err := co.registry.Complete(sess.ID); err != nil {
			logger.Error.Printf("[evaluateSession] complete failed for session=%s: %v", sess.ID, err)
		}
		logger.Info.Printf("[evaluateSession] session=%s completed, %d records validated", sess.ID, len(judgeIDs))
	}
	co.broadcastSessionStatus(sess.ID)
	return nil
}

// ResolveConflict is the head judge's "submit anyway" override: it validates
// every submitted record and completes the session without requiring the
// spread to close. Always audited; who may do this is the injected
// authorization predicate's call.
func (co *Coordinator) ResolveConflict(actorID string, role models.Role, sessionID, detail string) error {
	if !co.identity.CanResolveConflicts(actorID, role) {
		return services.ErrUnauthorized
	}
	if _, err := co.registry.Lookup(sessionID); err != nil {
		return err
	}
	release, err := co.registry.Acquire(sessionID, co.cfg.SessionLockTimeout)
	if err != nil {
		return err
	}
	defer release()

	submitted, err := co.store.ListSubmitted(sessionID)
	if err != nil {
		return err
	}
	if len(submitted) == 0 {
		return fmt.Errorf("session %s has no submitted records to validate", sessionID)
	}
	judgeIDs := make([]string, 0, len(submitted))
	for _, rec := range submitted {
		judgeIDs = append(judgeIDs, rec.JudgeID)
	}
	if err := co.store.MarkValidated(sessionID, judgeIDs); err != nil {
		return err
	}
	if err := co.registry.Complete(sessionID); err != nil {
		return err
	}
	if err := co.store.AppendAudit(models.AuditEntry{
		SessionID: sessionID,
		ActorID:   actorID,
		Action:    "conflict_override",
		Detail:    detail,
	}); err != nil {
		logger.Error.Printf("[ResolveConflict] audit write failed for session=%s: %v", sessionID, err)
	}
	logger.Info.Printf("[ResolveConflict] session=%s force-validated by %s", sessionID, actorID)
	co.broadcastSessionStatus(sessionID)
	return nil
}

// AmendSubmittedScore is the audited elevated path that changes an already
// submitted record, then re-runs conflict evaluation over the new totals.
func (co *Coordinator) AmendSubmittedScore(actorID string, role models.Role,
	sessionID, judgeID, criteriaID string, score float64, reason string) error {
	if !co.identity.CanAmendSubmitted(actorID, role) {
		return services.ErrUnauthorized
	}
	sess, err := co.registry.Lookup(sessionID)
	if err != nil {
		return err
	}
	release, err := co.registry.Acquire(sessionID, co.cfg.SessionLockTimeout)
	if err != nil {
		return err
	}
	defer release()

	if err := co.rubrics.ValidateScore(sess.CategoryID, criteriaID, score); err != nil {
		return err
	}
	rec, err := co.store.Load(sessionID, judgeID)
	if err != nil {
		return err
	}
	if rec.Status != models.RecordSubmitted && rec.Status != models.RecordValidated {
		return fmt.Errorf("record for judge %s is %s, not submitted; use a normal score_update", judgeID, rec.Status)
	}
	before := rec.CriteriaScores[criteriaID]
	rec.CriteriaScores[criteriaID] = score
	rec.CriteriaUpdated[criteriaID] = time.Now().UnixMilli()
	// amended totals must be re-agreed, so the record drops back to submitted
	rec.Status = models.RecordSubmitted
	if err := co.store.Save(rec); err != nil {
		return err
	}
	if err := co.store.AppendAudit(models.AuditEntry{
		SessionID: sessionID,
		ActorID:   actorID,
		Action:    "amend_submitted_score",
		JudgeID:   judgeID,
		Detail:    fmt.Sprintf("criterion=%s %.1f -> %.1f reason=%s", criteriaID, before, score, reason),
	}); err != nil {
		logger.Error.Printf("[AmendSubmittedScore] audit write failed for session=%s: %v", sessionID, err)
	}
	logger.Info.Printf("[AmendSubmittedScore] %s amended judge=%s criterion=%s in session=%s", actorID, judgeID, criteriaID, sessionID)
	return co.evaluateSession(sess)
}

// SaveScore is the REST fallback for score_update; same semantics and
// validation as the WebSocket path.
func (co *Coordinator) SaveScore(judgeID string, role models.Role, m *ScoreUpdateMessage) error {
	return co.applyScoreUpdate(m.SessionID, judgeID, role, m)
}

// SubmitScores is the REST fallback for submit.
func (co *Coordinator) SubmitScores(judgeID string, role models.Role, m *SubmitMessage) error {
	return co.applySubmit(m.SessionID, judgeID, role, m)
}

// ConstraintOf unwraps a coordinator error for REST callers: the violated
// constraint name and whether a retry can succeed.
func ConstraintOf(err error) (constraint string, retryable bool, ok bool) {
	var pe *protocolError
	if errors.As(err, &pe) {
		return pe.Constraint, pe.Retryable, true
	}
	return "", false, false
}

func newDraftRecord(sessionID, judgeID string) *models.ScoreRecord {
	return &models.ScoreRecord{
		SessionID:       sessionID,
		JudgeID:         judgeID,
		CriteriaScores:  make(map[string]float64),
		CriteriaUpdated: make(map[string]int64),
		Status:          models.RecordDraft,
	}
}
