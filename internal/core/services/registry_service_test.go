package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"camlink/internal/core/domain"
	"camlink/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubMetrics struct {
	mu       sync.Mutex
	started  int
	ended    int
	evicted  int
	viewers  map[domain.SessionID]int
}

func newStubMetrics() *stubMetrics {
	return &stubMetrics{viewers: make(map[domain.SessionID]int)}
}

func (m *stubMetrics) SessionStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
}

func (m *stubMetrics) SessionEnded(id domain.SessionID, lifetime time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ended++
}

func (m *stubMetrics) SessionEvicted(id domain.SessionID, lifetime time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evicted++
	m.ended++
}

func (m *stubMetrics) SetViewerCount(id domain.SessionID, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.viewers[id] = count
}

type stubNotifier struct {
	mu               sync.Mutex
	directoryChanges int
	endedSessions    []domain.SessionID
}

func (n *stubNotifier) DirectoryChanged(ctx context.Context, sessions []domain.Summary) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.directoryChanges++
}

func (n *stubNotifier) SessionEnded(ctx context.Context, id domain.SessionID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.endedSessions = append(n.endedSessions, id)
}

func newTestRegistry(t *testing.T) (*registryService, *stubMetrics, *stubNotifier) {
	t.Helper()

	metrics := newStubMetrics()
	notifier := &stubNotifier{}
	svc := NewRegistryService(
		memory.NewMemorySessionRepository(),
		metrics,
		RegistryConfig{
			HeartbeatInterval: 30 * time.Second,
			EvictionWindow:    90 * time.Second,
			SweepInterval:     15 * time.Second,
		},
		zap.NewNop().Sugar(),
	)
	svc.SetNotifier(notifier)
	return svc, metrics, notifier
}

func TestStartBroadcast(t *testing.T) {
	svc, metrics, _ := newTestRegistry(t)
	ctx := context.Background()

	session, err := svc.StartBroadcast(ctx, "ep-1", "My Camera", true)
	require.NoError(t, err)

	assert.Len(t, string(session.ID), 12)
	assert.Equal(t, "My Camera", session.Name)
	assert.True(t, session.ScreenShare)
	assert.Equal(t, 0, session.ViewerCount)
	assert.Equal(t, 1, metrics.started)
}

func TestStartBroadcast_GeneratesName(t *testing.T) {
	svc, _, _ := newTestRegistry(t)

	session, err := svc.StartBroadcast(context.Background(), "ep-1", "", false)
	require.NoError(t, err)
	assert.Regexp(t, `^[A-Z][a-z]+_[A-Z][a-z]+_\d{3}$`, session.Name)
}

func TestStartBroadcast_OnePerEndpoint(t *testing.T) {
	svc, _, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := svc.StartBroadcast(ctx, "ep-1", "first", false)
	require.NoError(t, err)

	_, err = svc.StartBroadcast(ctx, "ep-1", "second", false)
	assert.ErrorIs(t, err, domain.ErrAlreadyBroadcasting)
}

func TestJoinAndLeave(t *testing.T) {
	svc, metrics, _ := newTestRegistry(t)
	ctx := context.Background()

	session, err := svc.StartBroadcast(ctx, "ep-owner", "cam", false)
	require.NoError(t, err)

	joined, err := svc.JoinBroadcast(ctx, session.ID, "ep-viewer")
	require.NoError(t, err)
	assert.Equal(t, 1, joined.ViewerCount)
	assert.Equal(t, 1, metrics.viewers[session.ID])

	require.NoError(t, svc.LeaveBroadcast(ctx, session.ID, "ep-viewer"))
	assert.Equal(t, 0, metrics.viewers[session.ID])
}

func TestJoin_RejoinDoesNotInflateCount(t *testing.T) {
	svc, metrics, _ := newTestRegistry(t)
	ctx := context.Background()

	session, err := svc.StartBroadcast(ctx, "ep-owner", "cam", false)
	require.NoError(t, err)

	// A viewer rejoining after a reconnect holds one slot, not two.
	_, err = svc.JoinBroadcast(ctx, session.ID, "ep-viewer-a")
	require.NoError(t, err)
	_, err = svc.JoinBroadcast(ctx, session.ID, "ep-viewer-a")
	require.NoError(t, err)
	_, err = svc.JoinBroadcast(ctx, session.ID, "ep-viewer-b")
	require.NoError(t, err)

	assert.Equal(t, 2, metrics.viewers[session.ID])
}

func TestLeave_OnlyReleasesHeldSlot(t *testing.T) {
	svc, metrics, _ := newTestRegistry(t)
	ctx := context.Background()

	session, err := svc.StartBroadcast(ctx, "ep-owner", "cam", false)
	require.NoError(t, err)

	_, err = svc.JoinBroadcast(ctx, session.ID, "ep-viewer-a")
	require.NoError(t, err)
	_, err = svc.JoinBroadcast(ctx, session.ID, "ep-viewer-b")
	require.NoError(t, err)
	require.Equal(t, 2, metrics.viewers[session.ID])

	// A duplicate leave from a must not drain b's slot.
	require.NoError(t, svc.LeaveBroadcast(ctx, session.ID, "ep-viewer-a"))
	require.NoError(t, svc.LeaveBroadcast(ctx, session.ID, "ep-viewer-a"))
	assert.Equal(t, 1, metrics.viewers[session.ID])

	// A leave from an endpoint that never joined is a no-op.
	require.NoError(t, svc.LeaveBroadcast(ctx, session.ID, "ep-stranger"))
	assert.Equal(t, 1, metrics.viewers[session.ID])
}

func TestLeave_NeverGoesNegative(t *testing.T) {
	svc, metrics, _ := newTestRegistry(t)
	ctx := context.Background()

	session, err := svc.StartBroadcast(ctx, "ep-owner", "cam", false)
	require.NoError(t, err)

	// Duplicate leaves must clamp at zero.
	require.NoError(t, svc.LeaveBroadcast(ctx, session.ID, "ep-viewer"))
	require.NoError(t, svc.LeaveBroadcast(ctx, session.ID, "ep-viewer"))
	assert.Equal(t, 0, metrics.viewers[session.ID])
}

func TestJoin_UnknownSession(t *testing.T) {
	svc, _, _ := newTestRegistry(t)

	_, err := svc.JoinBroadcast(context.Background(), "nosuchsession", "ep-viewer")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestEndBroadcast(t *testing.T) {
	svc, metrics, notifier := newTestRegistry(t)
	ctx := context.Background()

	session, err := svc.StartBroadcast(ctx, "ep-1", "cam", false)
	require.NoError(t, err)

	require.NoError(t, svc.EndBroadcast(ctx, "ep-1"))

	summaries, err := svc.ListSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, summaries)
	assert.Equal(t, 1, metrics.ended)
	assert.Contains(t, notifier.endedSessions, session.ID)
}

func TestEndpointLost_EndsOwnedSession(t *testing.T) {
	svc, _, notifier := newTestRegistry(t)
	ctx := context.Background()

	session, err := svc.StartBroadcast(ctx, "ep-1", "cam", false)
	require.NoError(t, err)

	require.NoError(t, svc.EndpointLost(ctx, "ep-1"))

	summaries, err := svc.ListSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, summaries)
	assert.Contains(t, notifier.endedSessions, session.ID)
}

func TestEndpointLost_ReleasesViewerSlots(t *testing.T) {
	svc, metrics, _ := newTestRegistry(t)
	ctx := context.Background()

	session, err := svc.StartBroadcast(ctx, "ep-owner", "cam", false)
	require.NoError(t, err)

	_, err = svc.JoinBroadcast(ctx, session.ID, "ep-viewer")
	require.NoError(t, err)
	require.Equal(t, 1, metrics.viewers[session.ID])

	require.NoError(t, svc.EndpointLost(ctx, "ep-viewer"))
	assert.Equal(t, 0, metrics.viewers[session.ID])
}

func TestHeartbeat(t *testing.T) {
	svc, _, _ := newTestRegistry(t)
	ctx := context.Background()

	session, err := svc.StartBroadcast(ctx, "ep-1", "cam", false)
	require.NoError(t, err)

	before := session.LastHeartbeat
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, svc.Heartbeat(ctx, "ep-1"))

	summaries, err := svc.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	_ = before // heartbeat freshness is asserted via eviction below
}

func TestHeartbeat_NotBroadcasting(t *testing.T) {
	svc, _, _ := newTestRegistry(t)

	err := svc.Heartbeat(context.Background(), "ep-unknown")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSweep_EvictsStaleSessions(t *testing.T) {
	metrics := newStubMetrics()
	notifier := &stubNotifier{}
	svc := NewRegistryService(
		memory.NewMemorySessionRepository(),
		metrics,
		RegistryConfig{
			HeartbeatInterval: 10 * time.Millisecond,
			EvictionWindow:    20 * time.Millisecond,
			SweepInterval:     time.Hour, // sweep called directly
		},
		zap.NewNop().Sugar(),
	)
	svc.SetNotifier(notifier)
	ctx := context.Background()

	session, err := svc.StartBroadcast(ctx, "ep-1", "cam", false)
	require.NoError(t, err)

	// Fresh session survives the sweep
	svc.sweep(ctx)
	summaries, err := svc.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, summaries, 1)

	time.Sleep(30 * time.Millisecond)
	svc.sweep(ctx)

	summaries, err = svc.ListSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, summaries)
	assert.Equal(t, 1, metrics.evicted)
	assert.Contains(t, notifier.endedSessions, session.ID)
}

func TestSweep_HeartbeatKeepsSessionAlive(t *testing.T) {
	metrics := newStubMetrics()
	svc := NewRegistryService(
		memory.NewMemorySessionRepository(),
		metrics,
		RegistryConfig{
			HeartbeatInterval: 10 * time.Millisecond,
			EvictionWindow:    30 * time.Millisecond,
			SweepInterval:     time.Hour,
		},
		zap.NewNop().Sugar(),
	)
	ctx := context.Background()

	_, err := svc.StartBroadcast(ctx, "ep-1", "cam", false)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		time.Sleep(15 * time.Millisecond)
		require.NoError(t, svc.Heartbeat(ctx, "ep-1"))
		svc.sweep(ctx)
	}

	summaries, err := svc.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, summaries, 1)
	assert.Equal(t, 0, metrics.evicted)
}
