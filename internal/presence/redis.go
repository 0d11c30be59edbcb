package presence

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

const (
	roomsKey     = "rooms"
	chatUsersKey = "chat:users"
)

func roomPeersKey(roomID string) string { return "room:" + roomID + ":peers" }
func codeKey(code string) string        { return "code:" + code }

// RedisStore keeps presence in Redis so several server instances can
// share one view of the rooms.
type RedisStore struct {
	client *redis.Client
}

// Connect opens a Redis-backed store and verifies the connection.
func Connect(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) AddRoomPeer(ctx context.Context, roomID, peerID string) error {
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, roomPeersKey(roomID), peerID)
	pipe.Expire(ctx, roomPeersKey(roomID), RoomTTL)
	pipe.SAdd(ctx, roomsKey, roomID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("adding peer %s to room %s: %w", peerID, roomID, err)
	}
	return nil
}

func (s *RedisStore) RemoveRoomPeer(ctx context.Context, roomID, peerID string) error {
	if err := s.client.SRem(ctx, roomPeersKey(roomID), peerID).Err(); err != nil {
		return fmt.Errorf("removing peer %s from room %s: %w", peerID, roomID, err)
	}
	count, err := s.client.SCard(ctx, roomPeersKey(roomID)).Result()
	if err != nil {
		return fmt.Errorf("counting peers in room %s: %w", roomID, err)
	}
	if count == 0 {
		if err := s.client.SRem(ctx, roomsKey, roomID).Err(); err != nil {
			return fmt.Errorf("removing empty room %s: %w", roomID, err)
		}
	}
	return nil
}

func (s *RedisStore) RoomPeerCount(ctx context.Context, roomID string) (int, error) {
	count, err := s.client.SCard(ctx, roomPeersKey(roomID)).Result()
	if err != nil {
		return 0, fmt.Errorf("counting peers in room %s: %w", roomID, err)
	}
	return int(count), nil
}

func (s *RedisStore) Rooms(ctx context.Context) ([]string, error) {
	rooms, err := s.client.SMembers(ctx, roomsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("listing rooms: %w", err)
	}
	sort.Strings(rooms)
	return rooms, nil
}

func (s *RedisStore) AddChatUser(ctx context.Context, username string) error {
	return s.client.SAdd(ctx, chatUsersKey, username).Err()
}

func (s *RedisStore) RemoveChatUser(ctx context.Context, username string) error {
	return s.client.SRem(ctx, chatUsersKey, username).Err()
}

func (s *RedisStore) ChatUsers(ctx context.Context) ([]string, error) {
	users, err := s.client.SMembers(ctx, chatUsersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("listing chat users: %w", err)
	}
	sort.Strings(users)
	return users, nil
}

func (s *RedisStore) SaveRoomCode(ctx context.Context, code, roomID string) error {
	ok, err := s.client.SetNX(ctx, codeKey(code), roomID, RoomTTL).Result()
	if err != nil {
		return fmt.Errorf("storing room code: %w", err)
	}
	if !ok {
		return fmt.Errorf("room code %s already in use", code)
	}
	return nil
}

func (s *RedisStore) ResolveRoomCode(ctx context.Context, code string) (string, error) {
	roomID, err := s.client.Get(ctx, codeKey(code)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolving room code %s: %w", code, err)
	}
	return roomID, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}
