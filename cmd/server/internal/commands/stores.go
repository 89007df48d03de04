package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LabShare/services/internal/store"
	memorystore "github.com/LabShare/services/internal/store/memory"
	postgresstore "github.com/LabShare/services/internal/store/postgres"
	redisstore "github.com/LabShare/services/internal/store/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type PostgresStoreFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32         `help:"maximum number of connections in pool" default:"10"`
	MinConns        int32         `help:"minimum number of connections in pool" default:"2"`
	MaxConnLifetime time.Duration `help:"maximum connection lifetime" default:"1h"`
	MaxConnIdleTime time.Duration `help:"maximum connection idle time" default:"30m"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"SERVICES_POSTGRES_AUTO_MIGRATE"`
}

func (s *PostgresStoreFlags) validate() error {
	if s.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	return nil
}

type RedisStoreFlags struct {
	Addr     string `help:"Redis address" default:"localhost:6379" env:"REDIS_ADDR"`
	Password string `help:"Redis password" env:"REDIS_PASSWORD"`
	DB       int    `help:"Redis database number" default:"0" env:"REDIS_DB"`
	Prefix   string `help:"key prefix for session records" default:"labshare:session:" env:"SERVICES_REDIS_PREFIX"`
}

// newSessionStore creates the configured session store and a function releasing its connections.
func (c *ServerCmd) newSessionStore(ctx context.Context) (store.SessionStore, func(), error) {
	switch c.SessionStore {
	case "postgres":
		if err := c.PostgresStore.validate(); err != nil {
			return nil, nil, err
		}

		pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
			ConnString:      c.PostgresStore.ConnString,
			MaxConns:        c.PostgresStore.MaxConns,
			MinConns:        c.PostgresStore.MinConns,
			MaxConnLifetime: c.PostgresStore.MaxConnLifetime,
			MaxConnIdleTime: c.PostgresStore.MaxConnIdleTime,
			AutoMigrate:     c.PostgresStore.AutoMigrate,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
		}

		log.Info().Bool("auto_migrate", c.PostgresStore.AutoMigrate).Msg("Using PostgreSQL session store")
		return postgresstore.NewSessionStore(pool), pool.Close, nil

	case "redis":
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     c.RedisStore.Addr,
			Password: c.RedisStore.Password,
			DB:       c.RedisStore.DB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", c.RedisStore.Addr, err)
		}

		log.Info().Str("addr", c.RedisStore.Addr).Msg("Using Redis session store")
		return redisstore.NewSessionStore(rdb, c.RedisStore.Prefix), func() {
			if err := rdb.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close redis client")
			}
		}, nil

	default:
		log.Info().Msg("Using in-memory session store")
		return memorystore.NewSessionStore(), func() {}, nil
	}
}
