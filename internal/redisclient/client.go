package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/consume_otp_attempt.lua
var consumeOTPAttemptScript string

//go:embed scripts/release_lock.lua
var releaseLockScript string

// OTP attempt outcomes
const (
	OTPMissing   = 0
	OTPExhausted = -1
	OTPPending   = 1
)

type Client struct {
	rdb               *redis.Client
	otpAttemptScript  *redis.Script
	releaseLockScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:               rdb,
		otpAttemptScript:  redis.NewScript(consumeOTPAttemptScript),
		releaseLockScript: redis.NewScript(releaseLockScript),
	}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func otpKey(email string) string {
	return "otp:" + strings.ToLower(strings.TrimSpace(email))
}

// StoreOTP replaces any pending code for email with hash and resets the attempt counter
func (c *Client) StoreOTP(ctx context.Context, email, hash string, ttl time.Duration) error {
	key := otpKey(email)

	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, "hash", hash, "attempts", 0)
	pipe.Expire(ctx, key, ttl)

	_, err := pipe.Exec(ctx)
	return err
}

// ConsumeOTPAttempt atomically counts one verification attempt and returns the stored hash.
// The outcome is OTPPending with the hash, OTPMissing, or OTPExhausted.
func (c *Client) ConsumeOTPAttempt(ctx context.Context, email string, maxAttempts int) (int, string, error) {
	result, err := c.otpAttemptScript.Run(ctx, c.rdb, []string{otpKey(email)}, maxAttempts).Result()
	if err != nil {
		return 0, "", fmt.Errorf("otp attempt script failed: %w", err)
	}
	return parseAttemptResult(result)
}

func parseAttemptResult(result interface{}) (int, string, error) {
	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return 0, "", errors.New("unexpected script result type")
	}
	outcome, ok := values[0].(int64)
	if !ok {
		return 0, "", errors.New("unexpected script result type")
	}
	hash, _ := values[1].(string)
	return int(outcome), hash, nil
}

// DeleteOTP removes the pending code after a successful verification
func (c *Client) DeleteOTP(ctx context.Context, email string) error {
	return c.rdb.Del(ctx, otpKey(email)).Err()
}

// SetIdempotencyKey stores an idempotency key with TTL
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Err()
}

// GetIdempotencyKey returns the value stored for key; found is false when it is absent
func (c *Client) GetIdempotencyKey(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.rdb.Get(ctx, fmt.Sprintf("idempotency:%s", key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func lockName(key string) string {
	return "lock:" + key
}

// AcquireLock acquires a distributed lock and returns the owner token needed to release it
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, lockName(lockKey), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// ReleaseLock releases a lock still held by token
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	return c.releaseLockScript.Run(ctx, c.rdb, []string{lockName(lockKey)}, token).Err()
}
