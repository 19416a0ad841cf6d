package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Server      struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080" validate:"min=1,max=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		CORS            bool          `yaml:"cors" default:"true"`
		CORSOrigins     []string      `yaml:"cors_origins"`
		// ResponseCacheTTL bounds how long status and schedule answers are reused.
		ResponseCacheTTL time.Duration `yaml:"response_cache_ttl" default:"5s"`
		StreamBurst      float64       `yaml:"stream_burst" default:"5"`
		StreamRefill     float64       `yaml:"stream_refill_per_sec" default:"1"`
	} `yaml:"server"`
	Log struct {
		Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format     string `yaml:"format" default:"console" validate:"oneof=console json"`
		Output     string `yaml:"output" default:"stdout"`
		MaxSizeMB  int    `yaml:"max_size_mb" default:"100"`
		MaxBackups int    `yaml:"max_backups" default:"5"`
		MaxAgeDays int    `yaml:"max_age_days" default:"14"`
		// CollectTopic enables aggregated error logs on Kafka when set.
		CollectTopic    string        `yaml:"collect_topic"`
		CollectInterval time.Duration `yaml:"collect_interval" default:"1m"`
	} `yaml:"log"`

	Markets []MarketConfig    `yaml:"markets" validate:"dive"`
	Aliases map[string]string `yaml:"aliases"`

	Calendar struct {
		BaseURL        string        `yaml:"base_url" default:"https://hq.sinajs.cn/"`
		OpenText       string        `yaml:"open_text" default:"交易中"`
		TTL            time.Duration `yaml:"ttl" default:"1h"`
		RetryBackoff   time.Duration `yaml:"retry_backoff" default:"30s"`
		FetchTimeout   time.Duration `yaml:"fetch_timeout" default:"10s"`
		SnapshotTTL    time.Duration `yaml:"snapshot_ttl" default:"168h"`
		ClosedKeywords []string      `yaml:"closed_keywords"`
		WeekdayOffset  int           `yaml:"weekday_offset"`
		HorizonDays    int           `yaml:"horizon_days" default:"365" validate:"min=1"`
	} `yaml:"calendar"`

	Broadcast struct {
		QueueCapacity     int           `yaml:"queue_capacity" default:"100" validate:"min=1"`
		ConsumeTimeout    time.Duration `yaml:"consume_timeout" default:"30s"`
		ReapInterval      time.Duration `yaml:"reap_interval" default:"30s"`
		InactivityTimeout time.Duration `yaml:"inactivity_timeout" default:"5m"`
	} `yaml:"broadcast"`

	Source struct {
		WenCai struct {
			Enabled          bool              `yaml:"enabled" default:"true"`
			BaseURL          string            `yaml:"base_url" default:"https://hq.sinajs.cn/"`
			RealtimeInterval time.Duration     `yaml:"realtime_interval" default:"2s"`
			KlineInterval    time.Duration     `yaml:"kline_interval" default:"15s"`
			KlineLookback    time.Duration     `yaml:"kline_lookback" default:"5m"`
			Codes            map[string]string `yaml:"codes"`
		} `yaml:"wen_cai"`
		// MaxRPS throttles events per symbol and kind before dispatch; 0 disables.
		MaxRPS int `yaml:"max_rps" default:"20"`
	} `yaml:"source"`

	Stages struct {
		Console struct {
			Enabled bool   `yaml:"enabled"`
			Format  string `yaml:"format" default:"simple" validate:"oneof=simple detailed json"`
		} `yaml:"console"`
		Notify struct {
			Enabled     bool            `yaml:"enabled"`
			URL         string          `yaml:"url" validate:"required_if=Enabled true"`
			Secret      string          `yaml:"secret"`
			Timezone    string          `yaml:"timezone" default:"Asia/Shanghai"`
			Timeout     time.Duration   `yaml:"timeout" default:"10s"`
			RetryDelays []time.Duration `yaml:"retry_delays"`
		} `yaml:"notify"`
		Publish struct {
			Enabled bool   `yaml:"enabled"`
			Topic   string `yaml:"topic" default:"market.events"`
		} `yaml:"publish"`
		// Store records realtime ticks as one-minute bars in ClickHouse.
		Store struct {
			Enabled       bool          `yaml:"enabled"`
			BatchSize     int           `yaml:"batch_size" default:"100" validate:"min=1"`
			FlushInterval time.Duration `yaml:"flush_interval" default:"10s"`
		} `yaml:"store"`
	} `yaml:"stages"`

	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers" validate:"required_if=Enabled true"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			Enabled     bool          `yaml:"enabled"`
			Topic       string        `yaml:"topic" default:"market.events.in"`
			GroupID     string        `yaml:"group_id" default:"marketpulse"`
			// StartOffset applies to a group with no committed offset.
			StartOffset string        `yaml:"start_offset" default:"latest" validate:"oneof=earliest latest"`
			Workers     int           `yaml:"workers" default:"2"`
			BufferSize  int           `yaml:"buffer_size" default:"100"`
			RetryMax    int           `yaml:"retry_max" default:"3"`
			BackoffMin  time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax  time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic    string        `yaml:"dlq_topic"`
			MinBytes    int           `yaml:"min_bytes" default:"10000"`
			MaxBytes    int           `yaml:"max_bytes" default:"10000000"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"marketpulse"`
	} `yaml:"redis"`

	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" validate:"required_if=Enabled true"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"marketpulse"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		MaxOpenConns     int           `yaml:"max_open_conns" default:"10" validate:"min=1"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`

	Finnhub struct {
		Enabled        bool   `yaml:"enabled"`
		APIKey         string `yaml:"api_key" validate:"required_if=Enabled true"`
		WebSocketURL   string `yaml:"websocket_url" default:"wss://ws.finnhub.io"`
		// Symbols maps Finnhub instruments to market symbols.
		Symbols        map[string]string `yaml:"symbols"`
		ReconnectDelay time.Duration     `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration     `yaml:"ping_interval" default:"30s"`
	} `yaml:"finnhub"`
}

// MarketConfig is one calendar jurisdiction.
type MarketConfig struct {
	ID       string `yaml:"id" validate:"required"`
	Timezone string `yaml:"timezone" validate:"required"`
	FeedKey  string `yaml:"feed_key" validate:"required"`
}

var validate = validator.New()

// Parse applies defaults to raw YAML and validates the result.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := getenv("NOTIFY_SECRET"); v != "" {
		c.Stages.Notify.Secret = v
	}
	if v := getenv("FINNHUB_API_KEY"); v != "" {
		c.Finnhub.APIKey = v
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Stages.Publish.Enabled && !c.Kafka.Enabled {
		return fmt.Errorf("stages.publish requires kafka.enabled")
	}
	if c.Stages.Store.Enabled && !c.ClickHouse.Enabled {
		return fmt.Errorf("stages.store requires clickhouse.enabled")
	}
	if c.Kafka.Consumer.Enabled && !c.Kafka.Enabled {
		return fmt.Errorf("kafka.consumer requires kafka.enabled")
	}
	if c.Log.CollectTopic != "" && !c.Kafka.Enabled {
		return fmt.Errorf("log.collect_topic requires kafka.enabled")
	}
	if c.Kafka.Consumer.Enabled && c.Stages.Publish.Enabled && c.Kafka.Consumer.Topic == c.Stages.Publish.Topic {
		return fmt.Errorf("kafka.consumer.topic must differ from stages.publish.topic")
	}
	return nil
}
