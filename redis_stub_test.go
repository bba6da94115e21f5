package callcache

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goforj/callcache/cachecore"
)

// stubRedisClient is an in-process stand-in for the handful of redis commands
// the backend issues.
type stubRedisClient struct {
	mu      sync.Mutex
	values  map[string]string
	lists   map[string][]string
	flushes int
	deleted []string

	pingErr error
	cmdErr  error
}

func newStubRedisClient() *stubRedisClient {
	return &stubRedisClient{
		values: make(map[string]string),
		lists:  make(map[string][]string),
	}
}

var errStubWrongType = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")

func (c *stubRedisClient) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx, "ping")
	if c.pingErr != nil {
		cmd.SetErr(c.pingErr)
		return cmd
	}
	cmd.SetVal("PONG")
	return cmd
}

func (c *stubRedisClient) Get(ctx context.Context, key string) *redis.StringCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd := redis.NewStringCmd(ctx, "get", key)
	switch {
	case c.cmdErr != nil:
		cmd.SetErr(c.cmdErr)
	case c.lists[key] != nil:
		cmd.SetErr(errStubWrongType)
	default:
		v, ok := c.values[key]
		if !ok {
			cmd.SetErr(redis.Nil)
			return cmd
		}
		cmd.SetVal(v)
	}
	return cmd
}

func (c *stubRedisClient) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd := redis.NewStatusCmd(ctx, "set", key)
	if c.cmdErr != nil {
		cmd.SetErr(c.cmdErr)
		return cmd
	}
	delete(c.lists, key)
	c.values[key] = stubString(value)
	cmd.SetVal("OK")
	return cmd
}

func (c *stubRedisClient) RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd := redis.NewIntCmd(ctx, "rpush", key)
	if c.cmdErr != nil {
		cmd.SetErr(c.cmdErr)
		return cmd
	}
	if _, ok := c.values[key]; ok {
		cmd.SetErr(errStubWrongType)
		return cmd
	}
	for _, v := range values {
		c.lists[key] = append(c.lists[key], stubString(v))
	}
	cmd.SetVal(int64(len(c.lists[key])))
	return cmd
}

func (c *stubRedisClient) LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd := redis.NewStringSliceCmd(ctx, "lrange", key, start, stop)
	if c.cmdErr != nil {
		cmd.SetErr(c.cmdErr)
		return cmd
	}
	list := c.lists[key]
	lo, hi, ok := cachecore.RangeBounds(int64(len(list)), start, stop)
	if !ok {
		cmd.SetVal([]string{})
		return cmd
	}
	cmd.SetVal(append([]string(nil), list[lo:hi]...))
	return cmd
}

func (c *stubRedisClient) Incr(ctx context.Context, key string) *redis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd := redis.NewIntCmd(ctx, "incr", key)
	if c.cmdErr != nil {
		cmd.SetErr(c.cmdErr)
		return cmd
	}
	var current int64
	if raw, ok := c.values[key]; ok {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			cmd.SetErr(errors.New("ERR value is not an integer or out of range"))
			return cmd
		}
		current = n
	}
	current++
	c.values[key] = strconv.FormatInt(current, 10)
	cmd.SetVal(current)
	return cmd
}

func (c *stubRedisClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd := redis.NewIntCmd(ctx, "del")
	if c.cmdErr != nil {
		cmd.SetErr(c.cmdErr)
		return cmd
	}
	var n int64
	for _, key := range keys {
		_, isValue := c.values[key]
		_, isList := c.lists[key]
		if isValue || isList {
			n++
		}
		delete(c.values, key)
		delete(c.lists, key)
		c.deleted = append(c.deleted, key)
	}
	cmd.SetVal(n)
	return cmd
}

// Scan returns every match in a single page.
func (c *stubRedisClient) Scan(ctx context.Context, _ uint64, match string, _ int64) *redis.ScanCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd := redis.NewScanCmd(ctx, nil, "scan")
	if c.cmdErr != nil {
		cmd.SetErr(c.cmdErr)
		return cmd
	}
	prefix := strings.TrimSuffix(match, "*")
	var keys []string
	for key := range c.values {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	for key := range c.lists {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	cmd.SetVal(keys, 0)
	return cmd
}

func (c *stubRedisClient) FlushDB(ctx context.Context) *redis.StatusCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmd := redis.NewStatusCmd(ctx, "flushdb")
	if c.cmdErr != nil {
		cmd.SetErr(c.cmdErr)
		return cmd
	}
	c.values = make(map[string]string)
	c.lists = make(map[string][]string)
	c.flushes++
	cmd.SetVal("OK")
	return cmd
}

func stubString(v interface{}) string {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case string:
		return t
	default:
		panic("stub redis client: unexpected value type")
	}
}
