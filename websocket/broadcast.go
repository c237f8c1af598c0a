// Package websocket - session broadcast fan-out.
// File: websocket/broadcast.go
package websocket

import (
	"go-score-hub/models"
)

// broadcastToSession sends a message to every connection in the session that
// passes the filter (nil filter means everyone). Fan-out never blocks on a
// slow client; their send buffer just drops.
func (co *Coordinator) broadcastToSession(sessionID string, payload []byte, filter func(*Connection) bool) {
	for _, c := range co.registry.Connections(sessionID) {
		if filter != nil && !filter(c) {
			continue
		}
		c.enqueue(payload)
	}
}

// broadcastScoreUpdate relays a judge's accepted update. Judges never see
// each other's scores; only observer and head-judge connections receive peer
// deltas.
func (co *Coordinator) broadcastScoreUpdate(sender *Connection, m *ScoreUpdateMessage) {
	payload := mustMarshal(m)
	co.broadcastToSession(sender.SessionID, payload, func(c *Connection) bool {
		if c == sender {
			return false
		}
		return c.Role == models.RoleObserver || c.Role == models.RoleHeadJudge
	})
}

// broadcastSessionStatus tells every session member where the session stands:
// lifecycle status, connected-judge count and submission progress.
func (co *Coordinator) broadcastSessionStatus(sessionID string) {
	sess, err := co.registry.Lookup(sessionID)
	if err != nil {
		return
	}
	submittedCount := 0
	if records, err := co.store.ListSubmitted(sessionID); err == nil {
		submittedCount = len(records)
	}
	msg := SessionStatusMessage{
		Kind:            KindSessionStatus,
		SessionID:       sessionID,
		Status:          sess.Status,
		ConnectedJudges: co.registry.ConnectedJudgeCount(sessionID),
		SubmittedCount:  submittedCount,
		RequiredJudges:  sess.RequiredJudges,
	}
	co.broadcastToSession(sessionID, mustMarshal(msg), nil)
}
