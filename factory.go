package callcache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// NewBackend returns a concrete backend for the requested driver.
// Construction failures are reported by every call on the returned backend,
// starting with Ready.
// @group Constructors
//
// Example: select driver explicitly
//
//	ctx := context.Background()
//	backend := callcache.NewBackend(ctx, callcache.BackendConfig{
//		Driver: callcache.DriverMemory,
//	})
//	fmt.Println(backend.Driver()) // memory
func NewBackend(ctx context.Context, cfg BackendConfig) Backend {
	cfg = cfg.withDefaults()
	var (
		backend Backend
		err     error
	)
	switch cfg.Driver {
	case DriverRedis:
		client := cfg.RedisClient
		if client == nil && cfg.RedisAddr != "" {
			client = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		}
		backend = newRedisBackend(client, cfg.Prefix)
	case DriverSQL:
		backend, err = newSQLBackend(ctx, cfg)
	case DriverNATS:
		backend = newNATSBackend(cfg.NATSKeyValue, cfg.Prefix)
	case DriverDynamo:
		backend, err = newDynamoBackend(ctx, cfg)
	case DriverMemory:
		backend = newMemoryBackend(cfg.Prefix)
	default:
		err = fmt.Errorf("callcache: unknown driver %q", cfg.Driver)
	}
	if err == nil {
		backend, err = newEncryptingBackend(backend, cfg.EncryptionKey)
	}
	if err != nil {
		return &errorBackend{driver: cfg.Driver, err: err}
	}
	return newShapingBackend(backend, cfg.Compression, cfg.MaxValueBytes)
}

// NewBackendWith builds a backend using a driver and a set of functional options.
// @group Constructors
//
// Example: redis backend (options)
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
//	backend := callcache.NewBackendWith(ctx, callcache.DriverRedis,
//		callcache.WithRedisClient(redisClient),
//		callcache.WithPrefix("app"),
//	)
//	fmt.Println(backend.Driver()) // redis
func NewBackendWith(ctx context.Context, driver Driver, opts ...BackendOption) Backend {
	cfg := BackendConfig{Driver: driver}
	for _, opt := range opts {
		cfg = opt(cfg)
	}
	return NewBackend(ctx, cfg)
}

// NewMemoryBackend is a convenience for an in-process backend.
// @group Constructors
func NewMemoryBackend(ctx context.Context, opts ...BackendOption) Backend {
	return NewBackendWith(ctx, DriverMemory, opts...)
}

// NewRedisBackend is a convenience for a redis-backed backend. Redis client is required.
// @group Constructors
//
// Example: redis helper
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
//	backend := callcache.NewRedisBackend(ctx, redisClient)
//	fmt.Println(backend.Driver()) // redis
func NewRedisBackend(ctx context.Context, client RedisClient, opts ...BackendOption) Backend {
	return NewBackendWith(ctx, DriverRedis, append([]BackendOption{WithRedisClient(client)}, opts...)...)
}

// NewSQLBackend is a convenience for a database/sql-backed backend.
// @group Constructors
//
// Example: sqlite helper
//
//	backend := callcache.NewSQLBackend(ctx, "sqlite", "file:callcache.db", "")
//	fmt.Println(backend.Driver()) // sql
func NewSQLBackend(ctx context.Context, driverName, dsn, table string, opts ...BackendOption) Backend {
	return NewBackendWith(ctx, DriverSQL, append([]BackendOption{WithSQL(driverName, dsn, table)}, opts...)...)
}

// NewNATSBackend is a convenience for a JetStream key-value backend.
// @group Constructors
func NewNATSBackend(ctx context.Context, kv NATSKeyValue, opts ...BackendOption) Backend {
	return NewBackendWith(ctx, DriverNATS, append([]BackendOption{WithNATSKeyValue(kv)}, opts...)...)
}

// NewDynamoBackend is a convenience for a DynamoDB-backed backend.
// @group Constructors
//
// Example: DynamoDB Local
//
//	backend := callcache.NewBackendWith(ctx, callcache.DriverDynamo,
//		callcache.WithDynamoEndpoint("http://localhost:8000"),
//	)
//	fmt.Println(backend.Driver()) // dynamodb
func NewDynamoBackend(ctx context.Context, client DynamoAPI, opts ...BackendOption) Backend {
	return NewBackendWith(ctx, DriverDynamo, append([]BackendOption{WithDynamoClient(client)}, opts...)...)
}
