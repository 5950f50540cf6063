package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"camlink/internal/core/domain"
	"camlink/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// RedisSessionRepository persists sessions in Redis so a restarted signal
// server can recover the live directory. Sessions are keyed by ID with a
// secondary owner index for the one-broadcast-per-endpoint rule.
type RedisSessionRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisSessionRepository(client *redis.Client) ports.SessionRepository {
	return &RedisSessionRepository{
		client: client,
		prefix: "camlink:session:",
	}
}

func (r *RedisSessionRepository) sessionKey(id domain.SessionID) string {
	return r.prefix + string(id)
}

func (r *RedisSessionRepository) ownerKey(owner domain.EndpointID) string {
	return r.prefix + "owner:" + string(owner)
}

func (r *RedisSessionRepository) activeKey() string {
	return r.prefix + "active"
}

func (r *RedisSessionRepository) Create(ctx context.Context, session *domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	// Owner index doubles as the uniqueness guard.
	ok, err := r.client.SetNX(ctx, r.ownerKey(session.Owner), string(session.ID), 0).Result()
	if err != nil {
		return fmt.Errorf("failed to set owner index: %w", err)
	}
	if !ok {
		return domain.ErrAlreadyBroadcasting
	}

	if err := r.client.Set(ctx, r.sessionKey(session.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set session in Redis: %w", err)
	}

	if err := r.client.SAdd(ctx, r.activeKey(), string(session.ID)).Err(); err != nil {
		return fmt.Errorf("failed to add session to active set: %w", err)
	}

	return nil
}

func (r *RedisSessionRepository) GetByID(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	data, err := r.client.Get(ctx, r.sessionKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session from Redis: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return &session, nil
}

func (r *RedisSessionRepository) GetByOwner(ctx context.Context, owner domain.EndpointID) (*domain.Session, error) {
	id, err := r.client.Get(ctx, r.ownerKey(owner)).Result()
	if err == redis.Nil {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get owner index from Redis: %w", err)
	}

	return r.GetByID(ctx, domain.SessionID(id))
}

func (r *RedisSessionRepository) Update(ctx context.Context, session *domain.Session) error {
	if _, err := r.GetByID(ctx, session.ID); err != nil {
		return err
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := r.client.Set(ctx, r.sessionKey(session.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to update session in Redis: %w", err)
	}

	return nil
}

func (r *RedisSessionRepository) Delete(ctx context.Context, id domain.SessionID) error {
	session, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := r.client.Del(ctx, r.ownerKey(session.Owner)).Err(); err != nil {
		return fmt.Errorf("failed to delete owner index: %w", err)
	}
	if err := r.client.SRem(ctx, r.activeKey(), string(id)).Err(); err != nil {
		return fmt.Errorf("failed to remove session from active set: %w", err)
	}
	if err := r.client.Del(ctx, r.sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session from Redis: %w", err)
	}

	return nil
}

func (r *RedisSessionRepository) ListActive(ctx context.Context) ([]*domain.Session, error) {
	ids, err := r.client.SMembers(ctx, r.activeKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}

	sessions := make([]*domain.Session, 0, len(ids))
	for _, id := range ids {
		session, err := r.GetByID(ctx, domain.SessionID(id))
		if err == domain.ErrSessionNotFound {
			// Stale set member; drop it.
			r.client.SRem(ctx, r.activeKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	return sessions, nil
}
