// file: websocket/coordinator_test.go
package websocket

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-score-hub/models"
	"go-score-hub/services"
)

func scoreMsg(judgeID, criteriaID string, score float64, ts int64) *ScoreUpdateMessage {
	return &ScoreUpdateMessage{
		Kind:       KindScoreUpdate,
		SessionID:  "s1",
		TeamID:     "t1",
		JudgeID:    judgeID,
		CriteriaID: criteriaID,
		Score:      score,
		Timestamp:  ts,
	}
}

func submitMsg(scores map[string]float64) *SubmitMessage {
	return &SubmitMessage{
		Kind:            KindSubmit,
		SessionID:       "s1",
		CriteriaScores:  scores,
		JudgeNotes:      "notes",
		DurationMinutes: 9,
	}
}

func TestSaveScore_PersistsAndTransitions(t *testing.T) {
	co, mem := newTestCoordinator()
	require.NoError(t, co.SaveScore("j1", models.RoleJudge, scoreMsg("j1", "design", 8, 100)))

	rec, err := mem.Load("s1", "j1")
	require.NoError(t, err)
	assert.Equal(t, models.RecordInProgress, rec.Status)
	assert.Equal(t, 8.0, rec.CriteriaScores["design"])
	assert.Equal(t, int64(100), rec.CriteriaUpdated["design"])
}

// Replaying an acknowledged update leaves the record unchanged beyond the
// first application.
func TestSaveScore_IdempotentReplay(t *testing.T) {
	co, mem := newTestCoordinator()
	msg := scoreMsg("j1", "design", 8, 100)
	require.NoError(t, co.SaveScore("j1", models.RoleJudge, msg))
	require.NoError(t, co.SaveScore("j1", models.RoleJudge, msg))

	rec, err := mem.Load("s1", "j1")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"design": 8}, rec.CriteriaScores)
	assert.Equal(t, int64(100), rec.CriteriaUpdated["design"])
}

// Last write wins per criterion; an older timestamp never overwrites a newer
// accepted value.
func TestSaveScore_StaleTimestampDropped(t *testing.T) {
	co, mem := newTestCoordinator()
	require.NoError(t, co.SaveScore("j1", models.RoleJudge, scoreMsg("j1", "design", 9, 200)))
	require.NoError(t, co.SaveScore("j1", models.RoleJudge, scoreMsg("j1", "design", 3, 100)))

	rec, err := mem.Load("s1", "j1")
	require.NoError(t, err)
	assert.Equal(t, 9.0, rec.CriteriaScores["design"])
}

func TestSaveScore_ValidationErrors(t *testing.T) {
	co, _ := newTestCoordinator()

	err := co.SaveScore("j1", models.RoleJudge, scoreMsg("j1", "flair", 5, 1))
	constraint, _, ok := ConstraintOf(err)
	require.True(t, ok)
	assert.Equal(t, ConstraintUnknownCriterion, constraint)

	err = co.SaveScore("j1", models.RoleJudge, scoreMsg("j1", "design", 99, 1))
	constraint, _, ok = ConstraintOf(err)
	require.True(t, ok)
	assert.Equal(t, ConstraintScoreOutOfRange, constraint)

	// observers cannot score
	err = co.SaveScore("obs", models.RoleObserver, scoreMsg("obs", "design", 5, 1))
	constraint, _, ok = ConstraintOf(err)
	require.True(t, ok)
	assert.Equal(t, ConstraintObserverReadOnly, constraint)

	// no state was mutated by any rejection
	_, err = co.store.Load("s1", "j1")
	assert.Error(t, err)
}

func TestSaveScore_RejectedAfterSubmit(t *testing.T) {
	co, _ := newTestCoordinator()
	require.NoError(t, co.SubmitScores("j1", models.RoleJudge, submitMsg(map[string]float64{"design": 8, "teamwork": 7})))

	err := co.SaveScore("j1", models.RoleJudge, scoreMsg("j1", "design", 2, 999))
	constraint, _, ok := ConstraintOf(err)
	require.True(t, ok)
	assert.Equal(t, ConstraintAlreadySubmitted, constraint)
}

// Submit with any unscored criterion is rejected whole.
func TestSubmit_IncompleteRejected(t *testing.T) {
	co, mem := newTestCoordinator()
	err := co.SubmitScores("j1", models.RoleJudge, submitMsg(map[string]float64{"design": 8}))
	constraint, _, ok := ConstraintOf(err)
	require.True(t, ok)
	assert.Equal(t, ConstraintIncomplete, constraint)

	// nothing was persisted
	_, err = mem.Load("s1", "j1")
	assert.Error(t, err)
}

// The worked example: totals 15 and 14 with tolerance 2 agree, records are
// validated and the session completes.
func TestSubmit_AgreementValidatesAndCompletes(t *testing.T) {
	co, mem := newTestCoordinator()
	require.NoError(t, co.SubmitScores("j1", models.RoleJudge, submitMsg(map[string]float64{"design": 8, "teamwork": 7})))

	// first of two judges: session still open
	sess, err := co.registry.Lookup("s1")
	require.NoError(t, err)
	assert.NotEqual(t, models.SessionCompleted, sess.Status)

	require.NoError(t, co.SubmitScores("j2", models.RoleJudge, submitMsg(map[string]float64{"design": 8, "teamwork": 6})))

	sess, err = co.registry.Lookup("s1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, sess.Status)

	for _, j := range []string{"j1", "j2"} {
		rec, err := mem.Load("s1", j)
		require.NoError(t, err)
		assert.Equal(t, models.RecordValidated, rec.Status)
		assert.NotNil(t, rec.SubmittedAt)
	}
}

// Totals 20 and 5 with tolerance 2 conflict: everyone in the session hears
// about it and the session stays open for human resolution.
func TestSubmit_ConflictBroadcastAndSessionStaysActive(t *testing.T) {
	co, mem := newTestCoordinator()
	j2conn := newTestConnection(co, "s1", "j2", models.RoleJudge)

	require.NoError(t, co.SubmitScores("j1", models.RoleJudge, submitMsg(map[string]float64{"design": 10, "teamwork": 10})))
	drain(j2conn)
	require.NoError(t, co.SubmitScores("j2", models.RoleJudge, submitMsg(map[string]float64{"design": 2, "teamwork": 3})))

	sess, err := co.registry.Lookup("s1")
	require.NoError(t, err)
	assert.NotEqual(t, models.SessionCompleted, sess.Status)

	var conflict *ConflictDetectedMessage
	for _, raw := range drain(j2conn) {
		var env struct {
			Kind string `json:"kind"`
		}
		require.NoError(t, json.Unmarshal(raw, &env))
		if env.Kind == KindConflictDetected {
			conflict = &ConflictDetectedMessage{}
			require.NoError(t, json.Unmarshal(raw, conflict))
		}
	}
	require.NotNil(t, conflict, "expected a conflict_detected broadcast")
	assert.Equal(t, 15.0, conflict.Spread)
	assert.Len(t, conflict.Totals, 2)

	// records remain submitted, not validated
	rec, err := mem.Load("s1", "j1")
	require.NoError(t, err)
	assert.Equal(t, models.RecordSubmitted, rec.Status)

	// the conflict is on the audit trail
	entries, err := mem.ListAudit("s1")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "conflict_detected", entries[len(entries)-1].Action)
}

// Store failure: no acknowledgment, nothing durable, client retries.
func TestSaveScore_PersistenceFailureWithholdsAck(t *testing.T) {
	co, mem := newTestCoordinator()
	mem.FailSaves = true

	err := co.SaveScore("j1", models.RoleJudge, scoreMsg("j1", "design", 8, 100))
	constraint, retryable, ok := ConstraintOf(err)
	require.True(t, ok)
	assert.Equal(t, ConstraintPersistence, constraint)
	assert.True(t, retryable)

	mem.FailSaves = false
	_, err = mem.Load("s1", "j1")
	assert.Error(t, err, "nothing may be durable without an ack")
}

// Single-judge sessions complete on the sole submission when policy allows.
func TestSubmit_SingleJudgePolicy(t *testing.T) {
	co, _ := newTestCoordinator()
	require.NoError(t, co.registry.Register(models.ScoringSession{
		ID: "solo", CompetitionID: "c1", TeamID: "t9", CategoryID: "robotics", RequiredJudges: 1,
	}))
	msg := submitMsg(map[string]float64{"design": 8, "teamwork": 7})
	msg.SessionID = "solo"
	require.NoError(t, co.SubmitScores("j1", models.RoleJudge, msg))

	sess, err := co.registry.Lookup("solo")
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, sess.Status)
}

func TestSubmit_SingleJudgeDisallowedKeepsSessionOpen(t *testing.T) {
	co, _ := newTestCoordinator()
	co.cfg.SingleJudgeAllowed = false
	require.NoError(t, co.registry.Register(models.ScoringSession{
		ID: "solo", CompetitionID: "c1", TeamID: "t9", CategoryID: "robotics", RequiredJudges: 1,
	}))
	msg := submitMsg(map[string]float64{"design": 8, "teamwork": 7})
	msg.SessionID = "solo"
	require.NoError(t, co.SubmitScores("j1", models.RoleJudge, msg))

	sess, err := co.registry.Lookup("solo")
	require.NoError(t, err)
	assert.NotEqual(t, models.SessionCompleted, sess.Status)
}

func TestResolveConflict_RequiresHeadJudge(t *testing.T) {
	co, mem := newTestCoordinator()
	require.NoError(t, co.SubmitScores("j1", models.RoleJudge, submitMsg(map[string]float64{"design": 10, "teamwork": 10})))
	require.NoError(t, co.SubmitScores("j2", models.RoleJudge, submitMsg(map[string]float64{"design": 2, "teamwork": 3})))

	err := co.ResolveConflict("j1", models.RoleJudge, "s1", "trying anyway")
	assert.ErrorIs(t, err, services.ErrUnauthorized)

	require.NoError(t, co.ResolveConflict("hj", models.RoleHeadJudge, "s1", "panel discussed, scores stand"))

	sess, err := co.registry.Lookup("s1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, sess.Status)

	rec, err := mem.Load("s1", "j1")
	require.NoError(t, err)
	assert.Equal(t, models.RecordValidated, rec.Status)

	entries, err := mem.ListAudit("s1")
	require.NoError(t, err)
	var found bool
	for _, e := range entries {
		if e.Action == "conflict_override" && e.ActorID == "hj" {
			found = true
		}
	}
	assert.True(t, found, "override must be audited")
}

func TestAmendSubmittedScore_AuditedAndReevaluated(t *testing.T) {
	co, mem := newTestCoordinator()
	require.NoError(t, co.SubmitScores("j1", models.RoleJudge, submitMsg(map[string]float64{"design": 8, "teamwork": 7})))
	require.NoError(t, co.SubmitScores("j2", models.RoleJudge, submitMsg(map[string]float64{"design": 8, "teamwork": 6})))

	// ordinary judges may not amend
	err := co.AmendSubmittedScore("j1", models.RoleJudge, "s1", "j1", "design", 5, "typo")
	assert.ErrorIs(t, err, services.ErrUnauthorized)

	require.NoError(t, co.AmendSubmittedScore("hj", models.RoleHeadJudge, "s1", "j1", "design", 7, "arithmetic slip"))

	rec, err := mem.Load("s1", "j1")
	require.NoError(t, err)
	assert.Equal(t, 7.0, rec.CriteriaScores["design"])

	entries, err := mem.ListAudit("s1")
	require.NoError(t, err)
	var found bool
	for _, e := range entries {
		if e.Action == "amend_submitted_score" && e.JudgeID == "j1" {
			found = true
		}
	}
	assert.True(t, found)
}

// A held session lock makes mutations fail retryably within the bound
// instead of blocking the handler.
func TestSaveScore_SessionBusy(t *testing.T) {
	co, _ := newTestCoordinator()
	release, err := co.registry.Acquire("s1", co.cfg.SessionLockTimeout)
	require.NoError(t, err)
	defer release()

	err = co.SaveScore("j1", models.RoleJudge, scoreMsg("j1", "design", 8, 1))
	constraint, retryable, ok := ConstraintOf(err)
	require.True(t, ok)
	assert.Equal(t, ConstraintSessionBusy, constraint)
	assert.True(t, retryable)
}

// Repeated protocol violations close the connection at the strike limit.
func TestHandleMessage_StrikeLimit(t *testing.T) {
	co, _ := newTestCoordinator()
	c := newTestConnection(co, "s1", "j1", models.RoleJudge)

	assert.True(t, co.HandleMessage(c, []byte(`{"kind":"teleport"}`)))
	assert.True(t, co.HandleMessage(c, []byte(`garbage`)))
	assert.False(t, co.HandleMessage(c, []byte(`garbage`)), "third strike closes")

	// every violation produced an error message naming the constraint
	msgs := drain(c)
	require.Len(t, msgs, 3)
	var em ErrorMessage
	require.NoError(t, json.Unmarshal(msgs[0], &em))
	assert.Equal(t, KindError, em.Kind)
	assert.Equal(t, ConstraintUnknownKind, em.Constraint)
}

// Messages asserting another judge's identity or session are rejected.
func TestHandleMessage_WrongSessionOrJudge(t *testing.T) {
	co, _ := newTestCoordinator()
	c := newTestConnection(co, "s1", "j1", models.RoleJudge)

	raw := []byte(`{"kind":"score_update","session_id":"s1","judge_id":"j2","criteria_id":"design","score":5}`)
	assert.True(t, co.HandleMessage(c, raw))

	msgs := drain(c)
	require.Len(t, msgs, 1)
	var em ErrorMessage
	require.NoError(t, json.Unmarshal(msgs[0], &em))
	assert.Equal(t, ConstraintWrongSession, em.Constraint)
}

// An accepted update is confirmed to the sender and relayed only to observer
// and head-judge connections, never to peer judges.
func TestScoreUpdate_RoleFilteredBroadcast(t *testing.T) {
	co, _ := newTestCoordinator()
	j1 := newTestConnection(co, "s1", "j1", models.RoleJudge)
	j2 := newTestConnection(co, "s1", "j2", models.RoleJudge)
	obs := newTestConnection(co, "s1", "obs", models.RoleObserver)

	raw := []byte(`{"kind":"score_update","session_id":"s1","judge_id":"j1","criteria_id":"design","score":8,"timestamp":100}`)
	assert.True(t, co.HandleMessage(j1, raw))

	// sender got the echo
	j1msgs := drain(j1)
	require.NotEmpty(t, j1msgs)
	var confirmed ScoreConfirmedMessage
	require.NoError(t, json.Unmarshal(j1msgs[0], &confirmed))
	assert.Equal(t, KindScoreConfirmed, confirmed.Kind)
	assert.Equal(t, 8.0, confirmed.Score)

	// the observer saw the delta
	obsMsgs := drain(obs)
	require.Len(t, obsMsgs, 1)
	var peer ScoreUpdateMessage
	require.NoError(t, json.Unmarshal(obsMsgs[0], &peer))
	assert.Equal(t, "j1", peer.JudgeID)

	// the peer judge saw nothing
	assert.Empty(t, drain(j2))
}

// Reconnect replay: everything acknowledged before the disconnect comes back
// in initial_state.
func TestInitialState_ReplaysDraft(t *testing.T) {
	co, _ := newTestCoordinator()
	require.NoError(t, co.SaveScore("j1", models.RoleJudge, scoreMsg("j1", "design", 6, 100)))

	c := newTestConnection(co, "s1", "j1", models.RoleJudge)
	co.sendInitialState(c)

	msgs := drain(c)
	require.Len(t, msgs, 1)
	var initial InitialStateMessage
	require.NoError(t, json.Unmarshal(msgs[0], &initial))
	assert.Equal(t, KindInitialState, initial.Kind)
	assert.Equal(t, models.RecordInProgress, initial.RecordStatus)
	assert.Equal(t, 6.0, initial.CriteriaScores["design"])
	_, scored := initial.CriteriaScores["teamwork"]
	assert.False(t, scored, "unscored criteria stay unset")
}

// Disconnect keeps the record: nothing acknowledged is ever lost.
func TestDisconnect_RetainsScores(t *testing.T) {
	co, mem := newTestCoordinator()
	c := newTestConnection(co, "s1", "j1", models.RoleJudge)
	require.NoError(t, co.SaveScore("j1", models.RoleJudge, scoreMsg("j1", "design", 6, 100)))

	co.Disconnect(c)
	assert.Equal(t, models.ConnDisconnected, c.State())
	assert.Empty(t, co.registry.Connections("s1"))

	rec, err := mem.Load("s1", "j1")
	require.NoError(t, err)
	assert.Equal(t, 6.0, rec.CriteriaScores["design"])
}
