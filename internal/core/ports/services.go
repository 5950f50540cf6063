package ports

import (
	"context"

	"camlink/internal/core/domain"
)

// RegistryService is the session registry: the authority on which broadcasts
// exist, who owns them, and how many viewers are attached.
type RegistryService interface {
	StartBroadcast(ctx context.Context, owner domain.EndpointID, name string, screenShare bool) (*domain.Session, error)
	JoinBroadcast(ctx context.Context, id domain.SessionID, viewer domain.EndpointID) (*domain.Session, error)
	LeaveBroadcast(ctx context.Context, id domain.SessionID, viewer domain.EndpointID) error
	Heartbeat(ctx context.Context, owner domain.EndpointID) error
	EndBroadcast(ctx context.Context, owner domain.EndpointID) error
	// EndpointLost tears down whatever the endpoint owned or watched when
	// its signaling connection drops.
	EndpointLost(ctx context.Context, endpoint domain.EndpointID) error
	ListSessions(ctx context.Context) ([]domain.Summary, error)
}

// EndpointNotifier pushes registry-side events to connected endpoints. The
// signaling server implements it; the registry calls it after mutations so
// directory clients stay current without polling.
type EndpointNotifier interface {
	DirectoryChanged(ctx context.Context, sessions []domain.Summary)
	SessionEnded(ctx context.Context, id domain.SessionID)
}
