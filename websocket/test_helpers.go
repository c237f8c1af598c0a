// Package websocket test_helpers.go
package websocket

import (
	"errors"
	"net"
	"sync"
	"time"

	"go-score-hub/config"
	"go-score-hub/models"
	"go-score-hub/services"
	"go-score-hub/store"
)

// fakeAddr satisfies net.Addr for fake connections.
type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "fake:0" }

// fakeWSConn is an in-memory WSConn for tests that exercise the coordinator
// without a real socket.
type fakeWSConn struct {
	mu      sync.Mutex
	written [][]byte
	closed  bool
	inbound chan []byte
}

func newFakeWSConn() *fakeWSConn {
	return &fakeWSConn{inbound: make(chan []byte, 16)}
}

func (f *fakeWSConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("connection closed")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.written = append(f.written, cp)
	return nil
}

func (f *fakeWSConn) ReadMessage() (int, []byte, error) {
	msg, ok := <-f.inbound
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return 1, msg, nil
}

func (f *fakeWSConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeWSConn) RemoteAddr() net.Addr              { return fakeAddr{} }
func (f *fakeWSConn) SetWriteDeadline(time.Time) error  { return nil }
func (f *fakeWSConn) SetReadDeadline(time.Time) error   { return nil }
func (f *fakeWSConn) SetReadLimit(int64)                {}
func (f *fakeWSConn) SetPongHandler(func(string) error) {}

// testConfig returns fast timeouts suitable for unit tests.
func testConfig() config.Config {
	return config.Config{
		HeartbeatTimeout:    100 * time.Millisecond,
		SweepInterval:       20 * time.Millisecond,
		ProtocolStrikeLimit: 3,
		SessionLockTimeout:  50 * time.Millisecond,
		ConflictTolerance:   2,
		SingleJudgeAllowed:  true,
		RequiredJudges:      2,
	}
}

// newTestCoordinator wires a coordinator over in-memory collaborators with a
// two-criterion rubric (design and teamwork, both 0-10) and one scheduled
// session "s1" requiring two judges.
func newTestCoordinator() (*Coordinator, *store.MemoryStore) {
	mem := store.NewMemoryStore()
	_ = mem.PutCriteria("robotics", []models.Criterion{
		{ID: "design", Min: 0, Max: 10},
		{ID: "teamwork", Min: 0, Max: 10},
	})
	identity := services.NewTokenIdentityService()
	co := NewCoordinator(testConfig(), NewSessionRegistry(), mem, identity, services.NewRubricService(mem), nil)
	_ = co.registry.Register(models.ScoringSession{
		ID:             "s1",
		CompetitionID:  "c1",
		TeamID:         "t1",
		CategoryID:     "robotics",
		RequiredJudges: 2,
	})
	return co, mem
}

// newTestConnection joins a fake connection to a session.
func newTestConnection(co *Coordinator, sessionID, judgeID string, role models.Role) *Connection {
	c := &Connection{
		ID:            judgeID + "-conn",
		SessionID:     sessionID,
		JudgeID:       judgeID,
		Role:          role,
		conn:          newFakeWSConn(),
		send:          make(chan []byte, sendBuffer),
		coord:         co,
		state:         models.ConnConnected,
		lastHeartbeat: time.Now(),
	}
	_, _ = co.registry.Join(sessionID, c)
	return c
}

// drain empties a connection's outbound queue and returns the payloads.
func drain(c *Connection) [][]byte {
	var out [][]byte
	for {
		select {
		case msg := <-c.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}
