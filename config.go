package callcache

import (
	"github.com/goforj/callcache/cachecore"
)

const (
	defaultSQLTable     = "callcache_entries"
	defaultDynamoTable  = "callcache_entries"
	defaultDynamoRegion = "us-east-1"
)

// CompressionCodec represents a value compression algorithm.
type CompressionCodec = cachecore.CompressionCodec

const (
	CompressionNone = cachecore.CompressionNone
	CompressionGzip = cachecore.CompressionGzip
)

// BackendConfig controls how a Backend is constructed.
type BackendConfig struct {
	cachecore.BaseConfig

	Driver Driver

	// RedisClient is used by DriverRedis. When nil, RedisAddr is dialed.
	RedisClient RedisClient
	RedisAddr   string

	// SQLDriverName is one of "sqlite", "pgx" or "mysql".
	SQLDriverName string
	SQLDSN        string
	SQLTable      string

	// NATSKeyValue is required when DriverNATS is used.
	NATSKeyValue NATSKeyValue

	// DynamoClient is used by DriverDynamo. When nil, a client is built from
	// DynamoRegion and DynamoEndpoint.
	DynamoClient   DynamoAPI
	DynamoTable    string
	DynamoRegion   string
	DynamoEndpoint string
}

func (c BackendConfig) withDefaults() BackendConfig {
	if c.Driver == "" {
		c.Driver = DriverMemory
	}
	if c.Compression == "" {
		c.Compression = CompressionNone
	}
	if c.SQLTable == "" {
		c.SQLTable = defaultSQLTable
	}
	if c.DynamoTable == "" {
		c.DynamoTable = defaultDynamoTable
	}
	if c.DynamoRegion == "" {
		c.DynamoRegion = defaultDynamoRegion
	}
	return c
}
