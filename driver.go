package callcache

import "github.com/goforj/callcache/cachecore"

// Driver identifies a backend implementation.
type Driver = cachecore.Driver

// Backend is the key-value contract shared by every driver.
type Backend = cachecore.Backend

const (
	DriverMemory = cachecore.DriverMemory
	DriverRedis  = cachecore.DriverRedis
	DriverSQL    = cachecore.DriverSQL
	DriverNATS   = cachecore.DriverNATS
	DriverDynamo = cachecore.DriverDynamo
)
