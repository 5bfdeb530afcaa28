package token

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps transport-level Redis failures so callers can
// distinguish infrastructure faults from token-state rejections.
var ErrRedisUnavailable = errors.New("redis unavailable")

const (
	rotateStatusNotFound     int64 = 0
	rotateStatusExpired      int64 = 1
	rotateStatusHashMismatch int64 = 2
	rotateStatusRevoked      int64 = 3
	rotateStatusRotated      int64 = 4
	rotateStatusOK           int64 = 5
)

// The whole observe-and-flip runs inside one script execution, which is the
// serialization point for concurrent rotations of the same row.
const rotateScript = `
local row = redis.call("HMGET", KEYS[1], "hash", "revoked_at", "rotated_at", "expires_at", "subject")
if not row[1] then
  return {0}
end
if row[1] ~= ARGV[1] then
  return {2}
end
if row[2] and row[2] ~= "" then
  return {3}
end
if tonumber(row[4]) <= tonumber(ARGV[2]) then
  return {1}
end
if row[3] and row[3] ~= "" then
  return {4}
end

redis.call("HSET", KEYS[1], "rotated_at", ARGV[2], "successor_id", ARGV[3])
redis.call("HSET", KEYS[2],
  "subject", row[5],
  "hash", ARGV[4],
  "issued_at", ARGV[5],
  "expires_at", ARGV[6],
  "revoked_at", "",
  "rotated_at", "",
  "successor_id", "",
  "ip", ARGV[7],
  "agent", ARGV[8])
if tonumber(ARGV[9]) > 0 then
  redis.call("EXPIREAT", KEYS[2], ARGV[9])
end
return {5}
`

var rotateLua = redis.NewScript(rotateScript)

const revokeScript = `
local exists = redis.call("EXISTS", KEYS[1])
if exists == 0 then
  return 0
end
local revoked = redis.call("HGET", KEYS[1], "revoked_at")
if revoked and revoked ~= "" then
  return 1
end
redis.call("HSET", KEYS[1], "revoked_at", ARGV[1])
return 2
`

var revokeLua = redis.NewScript(revokeScript)

// RedisStore keeps one hash per refresh-token row. Rows survive state
// transitions; retention past expiry is bounded by an EXPIREAT set relative
// to the row's expiry when a retention window is configured.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisStore wires a store over the given client. prefix namespaces all
// keys; retention bounds how long rows outlive their expiry (zero keeps them
// until deleted externally).
func NewRedisStore(client redis.UniversalClient, prefix string, retention time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "af"
	}
	return &RedisStore{
		client:    client,
		prefix:    prefix,
		retention: retention,
	}
}

func (s *RedisStore) rowKey(id string) string {
	return s.prefix + ":rt:" + id
}

func (s *RedisStore) retainUntil(expiresAt time.Time) int64 {
	if s.retention <= 0 {
		return 0
	}
	return expiresAt.Add(s.retention).Unix()
}

func (s *RedisStore) Create(ctx context.Context, row *RefreshToken) error {
	fields := map[string]interface{}{
		"subject":      row.Subject,
		"hash":         string(row.SecretHash[:]),
		"issued_at":    row.IssuedAt.Unix(),
		"expires_at":   row.ExpiresAt.Unix(),
		"revoked_at":   "",
		"rotated_at":   "",
		"successor_id": "",
		"ip":           row.ClientIP,
		"agent":        row.ClientAgent,
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.rowKey(row.ID), fields)
	if retain := s.retainUntil(row.ExpiresAt); retain > 0 {
		pipe.ExpireAt(ctx, s.rowKey(row.ID), time.Unix(retain, 0))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*RefreshToken, error) {
	fields, err := s.client.HGetAll(ctx, s.rowKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return parseRedisRow(id, fields)
}

func (s *RedisStore) Rotate(ctx context.Context, id string, providedHash [32]byte, successor Successor) (*RefreshToken, error) {
	res, err := rotateLua.Run(ctx, s.client,
		[]string{s.rowKey(id), s.rowKey(successor.ID)},
		string(providedHash[:]),
		time.Now().Unix(),
		successor.ID,
		string(successor.SecretHash[:]),
		successor.IssuedAt.Unix(),
		successor.ExpiresAt.Unix(),
		successor.ClientIP,
		successor.ClientAgent,
		s.retainUntil(successor.ExpiresAt),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) == 0 {
		return nil, fmt.Errorf("%w: unexpected rotate reply %v", ErrRedisUnavailable, res)
	}
	status, ok := values[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected rotate status %v", ErrRedisUnavailable, values[0])
	}

	switch status {
	case rotateStatusNotFound:
		return nil, ErrNotFound
	case rotateStatusHashMismatch:
		return nil, ErrHashMismatch
	case rotateStatusRevoked:
		return nil, ErrRevoked
	case rotateStatusExpired:
		return nil, ErrExpired
	case rotateStatusRotated:
		return nil, ErrRotated
	case rotateStatusOK:
		return s.Get(ctx, id)
	default:
		return nil, fmt.Errorf("%w: unknown rotate status %d", ErrRedisUnavailable, status)
	}
}

func (s *RedisStore) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := revokeLua.Run(ctx, s.client, []string{s.rowKey(id)}, at.Unix()).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	status, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("%w: unexpected revoke reply %v", ErrRedisUnavailable, res)
	}
	return status == 2, nil
}

func (s *RedisStore) RevokeChain(ctx context.Context, id string, at time.Time) (int, error) {
	revoked := 0
	current := id
	// Chains are short in practice (one link per legitimate refresh) and the
	// walk is a breach path, not a hot path.
	for i := 0; current != "" && i < 10_000; i++ {
		changed, err := s.Revoke(ctx, current, at)
		if err != nil {
			return revoked, err
		}
		if changed {
			revoked++
		}

		next, err := s.client.HGet(ctx, s.rowKey(current), "successor_id").Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return revoked, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		current = next
	}
	return revoked, nil
}

func parseRedisRow(id string, fields map[string]string) (*RefreshToken, error) {
	issuedAt, err := strconv.ParseInt(fields["issued_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt refresh token row %s: %v", id, err)
	}
	expiresAt, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt refresh token row %s: %v", id, err)
	}

	row := &RefreshToken{
		ID:          id,
		Subject:     fields["subject"],
		IssuedAt:    time.Unix(issuedAt, 0).UTC(),
		ExpiresAt:   time.Unix(expiresAt, 0).UTC(),
		SuccessorID: fields["successor_id"],
		ClientIP:    fields["ip"],
		ClientAgent: fields["agent"],
	}

	hash := fields["hash"]
	if len(hash) != len(row.SecretHash) {
		return nil, fmt.Errorf("corrupt refresh token row %s: bad hash length %d", id, len(hash))
	}
	copy(row.SecretHash[:], hash)

	if v := fields["revoked_at"]; v != "" {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt refresh token row %s: %v", id, err)
		}
		at := time.Unix(ts, 0).UTC()
		row.RevokedAt = &at
	}
	if v := fields["rotated_at"]; v != "" {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt refresh token row %s: %v", id, err)
		}
		at := time.Unix(ts, 0).UTC()
		row.RotatedAt = &at
	}

	return row, nil
}
