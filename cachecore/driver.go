package cachecore

// Driver identifies a backend implementation.
type Driver string

const (
	DriverMemory Driver = "memory"
	DriverRedis  Driver = "redis"
	DriverSQL    Driver = "sql"
	DriverNATS   Driver = "nats"
	DriverDynamo Driver = "dynamodb"
)
