package cache

import "time"

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	// IOTimeout bounds each read and write on a pooled connection.
	IOTimeout time.Duration
	// Prefix namespaces every key, "<prefix>:<key>".
	Prefix string
}

type RedisOption func(*RedisConfig)

// WithRedisAddr sets the "host:port" address.
func WithRedisAddr(addr string) RedisOption {
	return func(c *RedisConfig) { c.Addr = addr }
}

// WithRedisAuth selects the password and logical database.
func WithRedisAuth(password string, db int) RedisOption {
	return func(c *RedisConfig) {
		c.Password = password
		c.DB = db
	}
}

func WithRedisPrefix(prefix string) RedisOption {
	return func(c *RedisConfig) { c.Prefix = prefix }
}

func WithRedisTimeouts(dial, io time.Duration) RedisOption {
	return func(c *RedisConfig) {
		c.DialTimeout = dial
		c.IOTimeout = io
	}
}

// MemoryConfig bounds the in-process cache.
type MemoryConfig struct {
	MaxSize         int
	CleanupInterval time.Duration
}

type MemoryOption func(*MemoryConfig)

func WithMemoryMaxSize(size int) MemoryOption {
	return func(c *MemoryConfig) { c.MaxSize = size }
}

func WithMemoryCleanup(interval time.Duration) MemoryOption {
	return func(c *MemoryConfig) { c.CleanupInterval = interval }
}

// LayeredConfig sizes the memory layer in front of Redis.
type LayeredConfig struct {
	MemoryMaxSize int
	MemoryTTL     time.Duration
}

type LayeredOption func(*LayeredConfig)

func WithLayeredMemorySize(size int) LayeredOption {
	return func(c *LayeredConfig) { c.MemoryMaxSize = size }
}

// WithLayeredMemoryTTL bounds how long the memory layer keeps an entry.
func WithLayeredMemoryTTL(ttl time.Duration) LayeredOption {
	return func(c *LayeredConfig) { c.MemoryTTL = ttl }
}
