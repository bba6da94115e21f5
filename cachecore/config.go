package cachecore

// BaseConfig contains shared, backend-agnostic driver configuration.
type BaseConfig struct {
	Prefix        string
	Compression   CompressionCodec
	MaxValueBytes int
	// EncryptionKey enables AES-GCM sealing of stored values when 16, 24 or 32 bytes long.
	EncryptionKey []byte
}
