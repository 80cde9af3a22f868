package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SessionPrefix is the Redis key prefix for all session hashes.
	SessionPrefix = "session:"

	// SessionTTL is the time-to-live for session keys in Redis. A session
	// that stops refreshing (disconnect, dead client) ages out on its own,
	// which is how "abandoned" becomes observable to the janitor.
	SessionTTL = 1 * time.Hour

	// Status constants for the session state machine.
	StatusLobby   = "lobby"
	StatusSwiping = "swiping"
	StatusMatched = "matched"
)

// Session is a client's connection-scoped state, stored as a Redis hash.
type Session struct {
	ID         string `redis:"id"`
	Status     string `redis:"status"`      // lobby | swiping | matched
	RoomCode   string `redis:"room_code"`   // empty while in the lobby
	Server     string `redis:"server"`      // which swipe server instance
	CreatedAt  int64  `redis:"created_at"`  // unix timestamp
	LastActive int64  `redis:"last_active"` // unix timestamp
}

// Store manages session hashes in Redis.
type Store struct {
	client     *redis.Client
	serverName string
}

// NewStore connects to Redis and verifies the connection with a ping.
// serverName identifies this instance in the session records so operators
// can tell which server owns a socket.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: redisAddr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

func sessionKey(id string) string {
	return SessionPrefix + id
}

// Create writes a fresh lobby session with the standard TTL.
func (s *Store) Create(ctx context.Context, sessionID string) error {
	now := time.Now().Unix()
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, sessionKey(sessionID), map[string]interface{}{
		"id":          sessionID,
		"status":      StatusLobby,
		"room_code":   "",
		"server":      s.serverName,
		"created_at":  now,
		"last_active": now,
	})
	pipe.Expire(ctx, sessionKey(sessionID), SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get returns the session, or nil when the key does not exist or has
// expired.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	var sess Session
	if err := s.client.HGetAll(ctx, sessionKey(sessionID)).Scan(&sess); err != nil {
		return nil, err
	}
	if sess.ID == "" {
		return nil, nil
	}
	return &sess, nil
}

// setFields updates hash fields, bumps last_active and refreshes the TTL.
func (s *Store) setFields(ctx context.Context, sessionID string, fields ...interface{}) error {
	fields = append(fields, "last_active", time.Now().Unix())
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, sessionKey(sessionID), fields...)
	pipe.Expire(ctx, sessionKey(sessionID), SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// UpdateStatus moves the session to the given status.
func (s *Store) UpdateStatus(ctx context.Context, sessionID string, status string) error {
	return s.setFields(ctx, sessionID, "status", status)
}

// SetRoom binds the session to a room and marks it swiping.
func (s *Store) SetRoom(ctx context.Context, sessionID string, roomCode string) error {
	return s.setFields(ctx, sessionID, "room_code", roomCode, "status", StatusSwiping)
}

// SetMatched flips the session to its terminal matched status, keeping the
// room binding so a reconnecting client can re-fetch the outcome.
func (s *Store) SetMatched(ctx context.Context, sessionID string) error {
	return s.setFields(ctx, sessionID, "status", StatusMatched)
}

// ClearRoom unbinds the session from its room and resets status to lobby.
func (s *Store) ClearRoom(ctx context.Context, sessionID string) error {
	return s.setFields(ctx, sessionID, "room_code", "", "status", StatusLobby)
}

// RefreshTTL extends the session's lifetime without touching its fields.
func (s *Store) RefreshTTL(ctx context.Context, sessionID string) error {
	return s.client.Expire(ctx, sessionKey(sessionID), SessionTTL).Err()
}

// Delete removes the session hash.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, sessionKey(sessionID)).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client exposes the underlying Redis client; the room store and rate
// limiter share the connection pool.
func (s *Store) Client() *redis.Client {
	return s.client
}
