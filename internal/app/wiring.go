// Package app holds the connection setup shared by the server and the poller.
package app

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/richardliu001/eventkernel/internal/bus"
	"github.com/richardliu001/eventkernel/internal/config"
)

// OpenPostgres opens the event log database. TranslateError is required:
// the store relies on gorm.ErrDuplicatedKey to detect version conflicts.
func OpenPostgres(cfg config.PostgresConfig) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		PrepareStmt:    true,
		TranslateError: true,
	})
}

func newRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// OpenRedis connects and pings.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := newRedisClient(cfg)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// NewPublisher builds the cross-service publisher selected by cfg.Bus.Driver.
// The returned func releases its connection.
func NewPublisher(ctx context.Context, cfg *config.Config) (bus.Publisher, func(), error) {
	switch cfg.Bus.Driver {
	case config.BusKafka:
		w := bus.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		return bus.NewKafkaPublisher(w), func() { _ = w.Close() }, nil
	case config.BusRedis:
		rdb, err := OpenRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("redis bus: %w", err)
		}
		return bus.NewRedisPublisher(rdb, cfg.Bus.ChannelPrefix), func() { _ = rdb.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown bus driver %q", cfg.Bus.Driver)
	}
}
