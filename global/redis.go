package global

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/toolink/single/singleton"
)

// ErrRedisNotConfigured is returned by Redis before ConfigureRedis has
// bound a configuration.
var ErrRedisNotConfigured = errors.New("global: redis not configured")

// RedisConfig holds the connection parameters for the process-wide Redis
// client.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Validate checks the config before it is bound.
func (c RedisConfig) Validate() error {
	if c.Addr == "" {
		return errors.New("redis config: addr must not be empty")
	}
	if c.DB < 0 {
		return fmt.Errorf("redis config: invalid db %d", c.DB)
	}
	return nil
}

func unconfiguredRedis(context.Context) (*redis.Client, error) {
	return nil, ErrRedisNotConfigured
}

var redisRegistry = singleton.New(unconfiguredRedis, singleton.WithName("redis"))

// ConfigureRedis binds the connection parameters. Parameters are bound
// exactly once: configuring again after the client has been built fails
// with singleton.ErrAlreadyBuilt. Before the first Redis call the binding
// may be replaced freely.
func ConfigureRedis(cfg RedisConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return redisRegistry.Rebind(func(ctx context.Context) (*redis.Client, error) {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		// go-redis dials lazily on first command; construction itself
		// cannot hang on the network.
		log.Debug().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("redis client built")
		return client, nil
	})
}

// Redis returns the process-wide Redis client, building it on first
// demand. Fails with ErrRedisNotConfigured until ConfigureRedis is called;
// the slot stays empty on failure so a later call retries.
func Redis(ctx context.Context) (*redis.Client, error) {
	return redisRegistry.Get(ctx)
}

// SetRedis replaces the process-wide client, e.g. with a test double.
func SetRedis(client *redis.Client) {
	redisRegistry.Replace(client)
}

// ResetRedis empties the slot and clears the bound configuration so the
// next ConfigureRedis starts fresh. Test-only.
func ResetRedis() {
	redisRegistry.Reset()
	if err := redisRegistry.Rebind(unconfiguredRedis); err != nil {
		log.Error().Err(err).Msg("failed to reset redis registry")
	}
}
