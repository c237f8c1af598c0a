// file: websocket/sweeper_test.go
package websocket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-score-hub/models"
)

func markStale(c *Connection, age time.Duration) {
	c.mu.Lock()
	c.lastHeartbeat = time.Now().Add(-age)
	c.mu.Unlock()
}

func TestSweeper_DisconnectsStaleConnections(t *testing.T) {
	co, _ := newTestCoordinator()
	_, err := co.registry.Activate("s1")
	require.NoError(t, err)

	fresh := newTestConnection(co, "s1", "j1", models.RoleJudge)
	stale := newTestConnection(co, "s1", "j2", models.RoleJudge)
	markStale(stale, time.Second)

	s := NewSweeper(co, 20*time.Millisecond, 100*time.Millisecond)
	s.sweepOnce()

	assert.Equal(t, models.ConnDisconnected, stale.State())
	assert.Equal(t, models.ConnConnected, fresh.State())
	assert.Len(t, co.registry.Connections("s1"), 1)
}

func TestSweeper_HeartbeatKeepsConnectionAlive(t *testing.T) {
	co, _ := newTestCoordinator()
	_, err := co.registry.Activate("s1")
	require.NoError(t, err)

	c := newTestConnection(co, "s1", "j1", models.RoleJudge)
	markStale(c, time.Second)

	// a heartbeat frame refreshes liveness before the sweep fires
	assert.True(t, co.HandleMessage(c, []byte(`{"kind":"heartbeat"}`)))

	s := NewSweeper(co, 20*time.Millisecond, 100*time.Millisecond)
	s.sweepOnce()
	assert.Equal(t, models.ConnConnected, c.State())
}

func TestSweeper_RunLoop(t *testing.T) {
	co, _ := newTestCoordinator()
	_, err := co.registry.Activate("s1")
	require.NoError(t, err)

	c := newTestConnection(co, "s1", "j1", models.RoleJudge)
	markStale(c, time.Second)

	s := NewSweeper(co, 10*time.Millisecond, 50*time.Millisecond)
	go s.Run()
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return c.State() == models.ConnDisconnected
	}, time.Second, 10*time.Millisecond)
}
