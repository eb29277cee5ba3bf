package account

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ayursutra/ayursutra/internal/platform/messaging"
)

// otpStoreRedis keeps each challenge in a hash that expires with the code.
type otpStoreRedis struct {
	rdb *redis.Client
}

func NewOTPStoreRedis(rdb *redis.Client) OTPStore { return &otpStoreRedis{rdb: rdb} }

func challengeKey(destination string, purpose Purpose) string {
	return fmt.Sprintf("otp:%s:%s", purpose, destination)
}

func (s *otpStoreRedis) Save(ctx context.Context, c *Challenge) error {
	key := challengeKey(c.Destination, c.Purpose)
	c.Attempts = 0
	c.CreatedAt = time.Now().UTC()
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, challengeFields(c))
		pipe.ExpireAt(ctx, key, c.ExpiresAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save challenge: %w", err)
	}
	return nil
}

func challengeFields(c *Challenge) map[string]interface{} {
	return map[string]interface{}{
		"destination": c.Destination,
		"channel":     string(c.Channel),
		"purpose":     string(c.Purpose),
		"role":        c.Role,
		"code_hash":   c.CodeHash,
		"attempts":    c.Attempts,
		"expires_at":  c.ExpiresAt.UnixMilli(),
		"created_at":  c.CreatedAt.UnixMilli(),
	}
}

func challengeFromFields(m map[string]string) (*Challenge, error) {
	attempts, err := strconv.Atoi(m["attempts"])
	if err != nil {
		return nil, fmt.Errorf("challenge attempts: %w", err)
	}
	expires, err := strconv.ParseInt(m["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("challenge expires_at: %w", err)
	}
	created, err := strconv.ParseInt(m["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("challenge created_at: %w", err)
	}
	return &Challenge{
		Destination: m["destination"],
		Channel:     messaging.Channel(m["channel"]),
		Purpose:     Purpose(m["purpose"]),
		Role:        m["role"],
		CodeHash:    m["code_hash"],
		Attempts:    attempts,
		ExpiresAt:   time.UnixMilli(expires).UTC(),
		CreatedAt:   time.UnixMilli(created).UTC(),
	}, nil
}

func (s *otpStoreRedis) Get(ctx context.Context, destination string, purpose Purpose) (*Challenge, error) {
	m, err := s.rdb.HGetAll(ctx, challengeKey(destination, purpose)).Result()
	if err != nil {
		return nil, fmt.Errorf("get challenge: %w", err)
	}
	if len(m) == 0 {
		return nil, ErrChallengeNotFound
	}
	return challengeFromFields(m)
}

// incrAttempts bumps the counter only while the challenge exists, so an
// expired hash is never recreated. It returns -1 for a missing key.
var incrAttempts = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
return redis.call("HINCRBY", KEYS[1], "attempts", 1)
`)

func (s *otpStoreRedis) IncrementAttempts(ctx context.Context, destination string, purpose Purpose) (int, error) {
	attempts, err := incrAttempts.Run(ctx, s.rdb, []string{challengeKey(destination, purpose)}).Int()
	if err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}
	if attempts < 0 {
		return 0, ErrChallengeNotFound
	}
	return attempts, nil
}

func (s *otpStoreRedis) Delete(ctx context.Context, destination string, purpose Purpose) error {
	err := s.rdb.Del(ctx, challengeKey(destination, purpose)).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("delete challenge: %w", err)
	}
	return nil
}

// PurgeExpired has nothing to do; keys expire on their own.
func (s *otpStoreRedis) PurgeExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}
