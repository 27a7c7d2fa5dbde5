// Package idempotency suppresses re-execution of commands retried with the
// same caller-supplied key.
//
// The guard is lookup-then-act: it gives no mutual exclusion, so two
// duplicates racing before the first response is cached both execute. The
// cache is also not part of the aggregate transaction; a crash after the
// handler commits but before Set re-runs the handler on retry.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultTTL is how long a recorded response answers duplicates.
const DefaultTTL = 24 * time.Hour

const keyPrefix = "idem:"

// ErrCacheUnavailable is returned in strict mode when the cache cannot be read.
var ErrCacheUnavailable = errors.New("idempotency cache unavailable")

// Key derives the cache key from the command type and the caller's key.
// Hashing bounds the length; including the type keeps equal caller keys of
// different commands apart.
func Key(commandType, callerKey string) string {
	sum := sha256.Sum256([]byte(commandType + "\x00" + callerKey))
	return keyPrefix + hex.EncodeToString(sum[:])
}

type Options struct {
	TTL time.Duration
	// Strict fails requests when the cache cannot be read. Otherwise the
	// command runs without deduplication and a warning is logged.
	Strict bool
}

type Guard struct {
	cache  Cache
	ttl    time.Duration
	strict bool
	log    *zap.SugaredLogger
}

func NewGuard(cache Cache, opts Options, log *zap.SugaredLogger) *Guard {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &Guard{cache: cache, ttl: opts.TTL, strict: opts.Strict, log: log}
}

// Do returns the recorded response for (commandType, callerKey) if there is
// one, otherwise runs fn, records its serialized result and returns it. An
// empty callerKey runs fn without recording. Errors from fn are never cached.
func (g *Guard) Do(ctx context.Context, commandType, callerKey string, fn func(ctx context.Context) (any, error)) (json.RawMessage, error) {
	if callerKey == "" {
		return run(ctx, fn)
	}

	key := Key(commandType, callerKey)
	cached, found, err := g.cache.Get(ctx, key)
	switch {
	case err != nil && g.strict:
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	case err != nil:
		g.log.Warnw("idempotency lookup failed, executing without dedup",
			"command", commandType, "error", err)
		return run(ctx, fn)
	case found:
		g.log.Debugw("idempotent replay", "command", commandType)
		return json.RawMessage(cached), nil
	}

	out, err := run(ctx, fn)
	if err != nil {
		return nil, err
	}
	if err := g.cache.Set(ctx, key, out, g.ttl); err != nil {
		g.log.Errorw("idempotency record failed; a retry will re-execute",
			"command", commandType, "error", err)
	}
	return out, nil
}

func run(ctx context.Context, fn func(ctx context.Context) (any, error)) (json.RawMessage, error) {
	res, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("serialize response: %w", err)
	}
	return out, nil
}
