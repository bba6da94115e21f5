package callcache

// BackendOption mutates BackendConfig when constructing a backend.
type BackendOption func(BackendConfig) BackendConfig

// WithPrefix scopes every key (and Flush) to prefix on shared backends.
func WithPrefix(prefix string) BackendOption {
	return func(cfg BackendConfig) BackendConfig {
		cfg.Prefix = prefix
		return cfg
	}
}

// WithRedisClient sets the redis client used by DriverRedis.
func WithRedisClient(client RedisClient) BackendOption {
	return func(cfg BackendConfig) BackendConfig {
		cfg.RedisClient = client
		return cfg
	}
}

// WithRedisAddr dials a new redis client at addr when no client is supplied.
func WithRedisAddr(addr string) BackendOption {
	return func(cfg BackendConfig) BackendConfig {
		cfg.RedisAddr = addr
		return cfg
	}
}

// WithSQL configures the sql driver name, DSN and table.
func WithSQL(driverName, dsn, table string) BackendOption {
	return func(cfg BackendConfig) BackendConfig {
		cfg.SQLDriverName = driverName
		cfg.SQLDSN = dsn
		cfg.SQLTable = table
		return cfg
	}
}

// WithNATSKeyValue sets the JetStream key-value bucket used by DriverNATS.
func WithNATSKeyValue(kv NATSKeyValue) BackendOption {
	return func(cfg BackendConfig) BackendConfig {
		cfg.NATSKeyValue = kv
		return cfg
	}
}

// WithDynamoClient sets the DynamoDB client used by DriverDynamo.
func WithDynamoClient(client DynamoAPI) BackendOption {
	return func(cfg BackendConfig) BackendConfig {
		cfg.DynamoClient = client
		return cfg
	}
}

// WithDynamoTable sets the DynamoDB table, created on first use when missing.
func WithDynamoTable(table string) BackendOption {
	return func(cfg BackendConfig) BackendConfig {
		cfg.DynamoTable = table
		return cfg
	}
}

// WithDynamoRegion sets the DynamoDB region for requests.
func WithDynamoRegion(region string) BackendOption {
	return func(cfg BackendConfig) BackendConfig {
		cfg.DynamoRegion = region
		return cfg
	}
}

// WithDynamoEndpoint sets the DynamoDB endpoint (useful for DynamoDB Local).
func WithDynamoEndpoint(endpoint string) BackendOption {
	return func(cfg BackendConfig) BackendConfig {
		cfg.DynamoEndpoint = endpoint
		return cfg
	}
}

// WithCompression compresses stored values and list entries with codec.
func WithCompression(codec CompressionCodec) BackendOption {
	return func(cfg BackendConfig) BackendConfig {
		cfg.Compression = codec
		return cfg
	}
}

// WithMaxValueBytes rejects values larger than n bytes after compression.
func WithMaxValueBytes(n int) BackendOption {
	return func(cfg BackendConfig) BackendConfig {
		cfg.MaxValueBytes = n
		return cfg
	}
}

// WithEncryptionKey seals stored values and list entries with AES-GCM.
func WithEncryptionKey(key []byte) BackendOption {
	return func(cfg BackendConfig) BackendConfig {
		cfg.EncryptionKey = key
		return cfg
	}
}
