package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
)

const pingTimeout = 5 * time.Second

// Client owns the database/sql pool over clickhouse-go.
type Client struct {
	db  *sql.DB
	cfg ClientConfig
}

// NewClient connects and pings ClickHouse.
func NewClient(opts ...ClientOption) (*Client, error) {
	cfg := ClientConfig{
		Port:            9000,
		Database:        "default",
		User:            "default",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     10 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Host == "" {
		return nil, errors.New("clickhouse: host is required")
	}

	if cfg.CreateDatabase && cfg.Database != "default" {
		if err := ensureDatabase(cfg); err != nil {
			return nil, err
		}
	}
	db, err := connect(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{db: db, cfg: cfg}, nil
}

// options maps cfg onto the driver's connection options.
func options(cfg ClientConfig) *ch.Options {
	o := &ch.Options{
		Addr: []string{net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))},
		Auth: ch.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Protocol:        ch.Native,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		Compression:     &ch.Compression{Method: ch.CompressionLZ4},
	}
	if cfg.UseHTTP {
		o.Protocol = ch.HTTP
	}
	if secs := int(cfg.MaxExecTime / time.Second); secs > 0 {
		o.Settings = ch.Settings{"max_execution_time": secs}
	}
	return o
}

func connect(cfg ClientConfig) (*sql.DB, error) {
	db := ch.OpenDB(options(cfg))
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping %s: %w", cfg.Host, err)
	}
	return db, nil
}

// ensureDatabase creates cfg.Database through a short-lived connection to
// the default database.
func ensureDatabase(cfg ClientConfig) error {
	name := cfg.Database
	cfg.Database = "default"
	cfg.MaxOpenConns, cfg.MaxIdleConns = 1, 0
	db, err := connect(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, "CREATE DATABASE IF NOT EXISTS "+quoteIdent(name)); err != nil {
		return fmt.Errorf("create database %s: %w", name, err)
	}
	return nil
}

// DB returns the pool for repositories.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Database is the database the pool is bound to.
func (c *Client) Database() string {
	return c.cfg.Database
}

func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// InitSchema runs idempotent DDL statements in order.
func (c *Client) InitSchema(ctx context.Context, stmts []string) error {
	for i, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema statement %d: %w", i+1, err)
		}
	}
	return nil
}

func quoteIdent(s string) string {
	return "`" + s + "`"
}
