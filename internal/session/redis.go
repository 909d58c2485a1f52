package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Hash fields of a session key.
const (
	fieldStatus    = "status"
	fieldCreatedAt = "created_at"
	fieldExpiresAt = "expires_at"
	fieldUserID    = "user_id"
	fieldFirstName = "user_first_name"
	fieldUsername  = "user_username"
)

// createScript sets the pending fields and TTL only when the key is absent.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'created_at', ARGV[2], 'expires_at', ARGV[3])
if tonumber(ARGV[4]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[4])
end
return 1
`)

// resolveScript attaches the user only when the key still exists; the TTL is left untouched.
var resolveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'user_id', ARGV[2], 'user_first_name', ARGV[3], 'user_username', ARGV[4])
return 1
`)

// RedisStore keeps sessions as Redis hashes under a common key prefix.
// Expiry is delegated to Redis key TTLs.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore creates a Redis-backed store. A ttl of zero keeps keys until consumed.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "login:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Ping verifies connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Create implements Store.
func (r *RedisStore) Create(ctx context.Context, code string) error {
	now := r.now()
	var expiresAt int64
	if r.ttl > 0 {
		expiresAt = now.Add(r.ttl).UnixMilli()
	}
	created, err := createScript.Run(ctx, r.client, []string{r.key(code)},
		string(StatusPending),
		now.UnixMilli(),
		expiresAt,
		r.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("session: redis create: %w", err)
	}
	if created == 0 {
		return ErrCodeExists
	}
	return nil
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, code string) (Session, bool, error) {
	fields, err := r.client.HGetAll(ctx, r.key(code)).Result()
	if err != nil {
		return Session{}, false, fmt.Errorf("session: redis get: %w", err)
	}
	s, ok, err := fromHash(code, fields)
	if err != nil {
		return Session{}, false, err
	}
	return s, ok, nil
}

// Resolve implements Store.
func (r *RedisStore) Resolve(ctx context.Context, code string, user User) (bool, error) {
	updated, err := resolveScript.Run(ctx, r.client, []string{r.key(code)},
		string(StatusResolved),
		user.ID,
		user.FirstName,
		user.Username,
	).Int()
	if err != nil {
		return false, fmt.Errorf("session: redis resolve: %w", err)
	}
	return updated == 1, nil
}

// Consume implements Store using MULTI/EXEC so the read and delete are atomic.
func (r *RedisStore) Consume(ctx context.Context, code string) (Session, bool, error) {
	key := r.key(code)
	var get *redis.MapStringStringCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.HGetAll(ctx, key)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return Session{}, false, fmt.Errorf("session: redis consume: %w", err)
	}
	return fromHash(code, get.Val())
}

// Len counts keys under the store prefix.
func (r *RedisStore) Len(ctx context.Context) (int, error) {
	n := 0
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("session: redis scan: %w", err)
	}
	return n, nil
}

func (r *RedisStore) key(code string) string {
	return r.prefix + code
}

func fromHash(code string, fields map[string]string) (Session, bool, error) {
	if len(fields) == 0 {
		return Session{}, false, nil
	}
	s := Session{
		Code:   code,
		Status: Status(fields[fieldStatus]),
	}
	created, err := parseMillis(fields[fieldCreatedAt])
	if err != nil {
		return Session{}, false, fmt.Errorf("session: bad %s: %w", fieldCreatedAt, err)
	}
	s.CreatedAt = created
	expires, err := parseMillis(fields[fieldExpiresAt])
	if err != nil {
		return Session{}, false, fmt.Errorf("session: bad %s: %w", fieldExpiresAt, err)
	}
	s.ExpiresAt = expires

	if s.Status == StatusResolved {
		id, err := strconv.ParseInt(fields[fieldUserID], 10, 64)
		if err != nil {
			return Session{}, false, fmt.Errorf("session: bad %s: %w", fieldUserID, err)
		}
		s.User = &User{
			ID:        id,
			FirstName: fields[fieldFirstName],
			Username:  fields[fieldUsername],
		}
	}
	return s, true, nil
}

func parseMillis(v string) (time.Time, error) {
	if v == "" || v == "0" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

var _ Store = (*RedisStore)(nil)
