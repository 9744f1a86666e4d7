package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// presenceRecord is the serialized presence view of a session. The live
// runtime (transport handle, atomics) never leaves the process; only this
// mirror is shared.
type presenceRecord struct {
	ID           string    `json:"id"`
	Weight       uint64    `json:"weight"`
	Agent        string    `json:"agent,omitempty"`
	Relay        bool      `json:"relay,omitempty"`
	State        string    `json:"state"`
	Connectivity string    `json:"connectivity"`
	JoinedAt     time.Time `json:"joined_at"`
}

// RedisPresenceRegistry mirrors peer presence into Redis with a TTL so that
// crashed orchestrator instances leak no ghost entries. Touch refreshes the
// TTL and doubles as the liveness heartbeat.
type RedisPresenceRegistry struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisPresenceRegistry(client *redis.Client, ttl time.Duration) ports.SessionRegistry {
	return &RedisPresenceRegistry{
		client: client,
		prefix: "peerlink:presence:",
		ttl:    ttl,
	}
}

func (r *RedisPresenceRegistry) peerKey(id domain.PeerID) string {
	return r.prefix + string(id)
}

func (r *RedisPresenceRegistry) indexKey() string {
	return "peerlink:presence:index"
}

func (r *RedisPresenceRegistry) Add(ctx context.Context, session *domain.PeerSession) error {
	record := presenceRecord{
		ID:           string(session.ID),
		Weight:       session.Weight,
		Agent:        session.Agent,
		Relay:        session.Relay,
		State:        session.State.String(),
		Connectivity: session.Connectivity.String(),
		JoinedAt:     session.JoinedAt,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal presence record: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, r.peerKey(session.ID), data, r.ttl)
	pipe.SAdd(ctx, r.indexKey(), string(session.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store presence in Redis: %w", err)
	}
	return nil
}

func (r *RedisPresenceRegistry) Get(ctx context.Context, peerID domain.PeerID) (*domain.PeerSession, error) {
	data, err := r.client.Get(ctx, r.peerKey(peerID)).Result()
	if err == redis.Nil {
		return nil, domain.ErrPeerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get presence from Redis: %w", err)
	}

	var record presenceRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal presence record: %w", err)
	}
	return r.restore(record), nil
}

func (r *RedisPresenceRegistry) Remove(ctx context.Context, peerID domain.PeerID) error {
	pipe := r.client.Pipeline()
	pipe.Del(ctx, r.peerKey(peerID))
	pipe.SRem(ctx, r.indexKey(), string(peerID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove presence from Redis: %w", err)
	}
	return nil
}

func (r *RedisPresenceRegistry) List(ctx context.Context) ([]*domain.PeerSession, error) {
	peerIDs, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list presence index from Redis: %w", err)
	}

	var sessions []*domain.PeerSession
	for _, peerID := range peerIDs {
		session, err := r.Get(ctx, domain.PeerID(peerID))
		if err != nil {
			// Expired entries linger in the index until their next listing.
			if err == domain.ErrPeerNotFound {
				_ = r.client.SRem(ctx, r.indexKey(), peerID).Err()
				continue
			}
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (r *RedisPresenceRegistry) Touch(ctx context.Context, peerID domain.PeerID) error {
	ok, err := r.client.Expire(ctx, r.peerKey(peerID), r.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to refresh presence TTL: %w", err)
	}
	if !ok {
		return domain.ErrPeerNotFound
	}
	return nil
}

func (r *RedisPresenceRegistry) restore(record presenceRecord) *domain.PeerSession {
	session := domain.NewPeerSession(domain.PeerID(record.ID), record.Weight)
	session.Agent = record.Agent
	session.Relay = record.Relay
	session.State = domain.NegotiationState(record.State)
	session.Connectivity = domain.ConnectivityState(record.Connectivity)
	session.JoinedAt = record.JoinedAt
	return session
}
