package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ligustah/ferry/internal/progress"
	"github.com/ligustah/ferry/internal/transfer"
	"github.com/ligustah/ferry/pkg/sharded"
	"gopkg.in/yaml.v3"
)

// Config defines configuration for the ferry server and CLI.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig configures the receiving side.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// Bucket holds merged artifacts, and staged chunks unless Staging is set.
	Bucket       string        `yaml:"bucket"`
	Staging      string        `yaml:"staging"`
	Metadata     string        `yaml:"metadata"`
	Codec        string        `yaml:"codec"`
	MaxChunkSize int64         `yaml:"max_chunk_size"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// ClientConfig configures uploads and downloads.
type ClientConfig struct {
	ServerURL           string        `yaml:"server_url"`
	ChunkSize           int64         `yaml:"chunk_size"`
	Concurrency         int           `yaml:"concurrency"`
	DownloadConcurrency int           `yaml:"download_concurrency"`
	RangeSize           int64         `yaml:"range_size"`
	Timeout             time.Duration `yaml:"timeout"`
	RequestsPerSecond   float64       `yaml:"requests_per_second"`
	Retry               RetryConfig   `yaml:"retry"`
}

// RetryConfig defines retry behavior. Uploads wait Backoff between attempts;
// downloads back off exponentially from Backoff up to MaxBackoff.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// LogConfig selects the log level and handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:         ":8080",
			Bucket:       "./ferry-data",
			Metadata:     "badger://./ferry-meta",
			Codec:        sharded.None.Name(),
			MaxChunkSize: 64 * 1024 * 1024, // 64MiB
			ReadTimeout:  10 * time.Minute,
			WriteTimeout: 10 * time.Minute,
		},
		Client: ClientConfig{
			ServerURL:           "http://localhost:8080",
			ChunkSize:           transfer.ChunkSize,
			Concurrency:         transfer.UploadConcurrency,
			DownloadConcurrency: transfer.DownloadConcurrency,
			RangeSize:           transfer.ChunkSize,
			Timeout:             5 * time.Minute,
			Retry: RetryConfig{
				Attempts:   transfer.UploadAttempts,
				Backoff:    time.Second,
				MaxBackoff: 30 * time.Second,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string sizes and durations.
type yamlConfig struct {
	Server struct {
		Addr         string `yaml:"addr"`
		Bucket       string `yaml:"bucket"`
		Staging      string `yaml:"staging"`
		Metadata     string `yaml:"metadata"`
		Codec        string `yaml:"codec"`
		MaxChunkSize string `yaml:"max_chunk_size"`
		ReadTimeout  string `yaml:"read_timeout"`
		WriteTimeout string `yaml:"write_timeout"`
	} `yaml:"server"`
	Client struct {
		ServerURL           string  `yaml:"server_url"`
		ChunkSize           string  `yaml:"chunk_size"`
		Concurrency         int     `yaml:"concurrency"`
		DownloadConcurrency int     `yaml:"download_concurrency"`
		RangeSize           string  `yaml:"range_size"`
		Timeout             string  `yaml:"timeout"`
		RequestsPerSecond   float64 `yaml:"requests_per_second"`
		Retry               struct {
			Attempts   int    `yaml:"attempts"`
			Backoff    string `yaml:"backoff"`
			MaxBackoff string `yaml:"max_backoff"`
		} `yaml:"retry"`
	} `yaml:"client"`
	Log LogConfig `yaml:"log"`
}

// LoadFromFile loads configuration from a YAML file. Keys absent from the
// file keep their defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()
	p := parser{}

	setString(&cfg.Server.Addr, yc.Server.Addr)
	setString(&cfg.Server.Bucket, yc.Server.Bucket)
	setString(&cfg.Server.Staging, yc.Server.Staging)
	setString(&cfg.Server.Metadata, yc.Server.Metadata)
	setString(&cfg.Server.Codec, yc.Server.Codec)
	p.bytes(&cfg.Server.MaxChunkSize, "server.max_chunk_size", yc.Server.MaxChunkSize)
	p.duration(&cfg.Server.ReadTimeout, "server.read_timeout", yc.Server.ReadTimeout)
	p.duration(&cfg.Server.WriteTimeout, "server.write_timeout", yc.Server.WriteTimeout)

	setString(&cfg.Client.ServerURL, yc.Client.ServerURL)
	p.bytes(&cfg.Client.ChunkSize, "client.chunk_size", yc.Client.ChunkSize)
	if yc.Client.Concurrency != 0 {
		cfg.Client.Concurrency = yc.Client.Concurrency
	}
	if yc.Client.DownloadConcurrency != 0 {
		cfg.Client.DownloadConcurrency = yc.Client.DownloadConcurrency
	}
	p.bytes(&cfg.Client.RangeSize, "client.range_size", yc.Client.RangeSize)
	p.duration(&cfg.Client.Timeout, "client.timeout", yc.Client.Timeout)
	if yc.Client.RequestsPerSecond != 0 {
		cfg.Client.RequestsPerSecond = yc.Client.RequestsPerSecond
	}
	if yc.Client.Retry.Attempts != 0 {
		cfg.Client.Retry.Attempts = yc.Client.Retry.Attempts
	}
	p.duration(&cfg.Client.Retry.Backoff, "client.retry.backoff", yc.Client.Retry.Backoff)
	p.duration(&cfg.Client.Retry.MaxBackoff, "client.retry.max_backoff", yc.Client.Retry.MaxBackoff)

	setString(&cfg.Log.Level, yc.Log.Level)
	setString(&cfg.Log.Format, yc.Log.Format)

	if p.err != nil {
		return Config{}, p.err
	}
	return cfg, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// parser keeps the first conversion error so a block of fields can be
// parsed without checking each one.
type parser struct {
	err error
}

func (p *parser) bytes(dst *int64, name, v string) {
	if p.err != nil || v == "" {
		return
	}
	n, err := progress.ParseBytes(v)
	if err != nil {
		p.err = fmt.Errorf("parse %s: %w", name, err)
		return
	}
	*dst = n
}

func (p *parser) duration(dst *time.Duration, name, v string) {
	if p.err != nil || v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.err = fmt.Errorf("parse %s: %w", name, err)
		return
	}
	*dst = d
}

func (p *parser) int(dst *int, name, v string) {
	if p.err != nil || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.err = fmt.Errorf("parse %s: %w", name, err)
		return
	}
	*dst = n
}

func (p *parser) float(dst *float64, name, v string) {
	if p.err != nil || v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.err = fmt.Errorf("parse %s: %w", name, err)
		return
	}
	*dst = f
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the FERRY_ prefix.
func (c *Config) LoadFromEnv() error {
	p := parser{}

	setString(&c.Server.Addr, os.Getenv("FERRY_ADDR"))
	setString(&c.Server.Bucket, os.Getenv("FERRY_BUCKET"))
	setString(&c.Server.Staging, os.Getenv("FERRY_STAGING"))
	setString(&c.Server.Metadata, os.Getenv("FERRY_METADATA"))
	setString(&c.Server.Codec, os.Getenv("FERRY_CODEC"))
	p.bytes(&c.Server.MaxChunkSize, "FERRY_MAX_CHUNK_SIZE", os.Getenv("FERRY_MAX_CHUNK_SIZE"))
	p.duration(&c.Server.ReadTimeout, "FERRY_READ_TIMEOUT", os.Getenv("FERRY_READ_TIMEOUT"))
	p.duration(&c.Server.WriteTimeout, "FERRY_WRITE_TIMEOUT", os.Getenv("FERRY_WRITE_TIMEOUT"))

	setString(&c.Client.ServerURL, os.Getenv("FERRY_SERVER_URL"))
	p.bytes(&c.Client.ChunkSize, "FERRY_CHUNK_SIZE", os.Getenv("FERRY_CHUNK_SIZE"))
	p.int(&c.Client.Concurrency, "FERRY_CONCURRENCY", os.Getenv("FERRY_CONCURRENCY"))
	p.int(&c.Client.DownloadConcurrency, "FERRY_DOWNLOAD_CONCURRENCY", os.Getenv("FERRY_DOWNLOAD_CONCURRENCY"))
	p.bytes(&c.Client.RangeSize, "FERRY_RANGE_SIZE", os.Getenv("FERRY_RANGE_SIZE"))
	p.duration(&c.Client.Timeout, "FERRY_TIMEOUT", os.Getenv("FERRY_TIMEOUT"))
	p.float(&c.Client.RequestsPerSecond, "FERRY_REQUESTS_PER_SECOND", os.Getenv("FERRY_REQUESTS_PER_SECOND"))
	p.int(&c.Client.Retry.Attempts, "FERRY_RETRY_ATTEMPTS", os.Getenv("FERRY_RETRY_ATTEMPTS"))
	p.duration(&c.Client.Retry.Backoff, "FERRY_RETRY_BACKOFF", os.Getenv("FERRY_RETRY_BACKOFF"))
	p.duration(&c.Client.Retry.MaxBackoff, "FERRY_RETRY_MAX_BACKOFF", os.Getenv("FERRY_RETRY_MAX_BACKOFF"))

	setString(&c.Log.Level, os.Getenv("FERRY_LOG_LEVEL"))
	setString(&c.Log.Format, os.Getenv("FERRY_LOG_FORMAT"))

	return p.err
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Bucket == "" {
		return errors.New("config: server bucket is required")
	}
	if c.Server.Metadata == "" {
		return errors.New("config: server metadata store is required")
	}
	if _, err := sharded.CodecByName(c.Server.Codec); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Server.MaxChunkSize <= 0 {
		return errors.New("config: max_chunk_size must be positive")
	}
	if c.Client.ServerURL == "" {
		return errors.New("config: server_url is required")
	}
	if c.Client.ChunkSize <= 0 {
		return errors.New("config: chunk_size must be positive")
	}
	if c.Client.ChunkSize > c.Server.MaxChunkSize {
		return fmt.Errorf("config: chunk_size %d exceeds max_chunk_size %d", c.Client.ChunkSize, c.Server.MaxChunkSize)
	}
	if c.Client.RangeSize <= 0 {
		return errors.New("config: range_size must be positive")
	}
	if c.Client.Concurrency <= 0 || c.Client.DownloadConcurrency <= 0 {
		return errors.New("config: concurrency must be positive")
	}
	if c.Client.Retry.Attempts <= 0 {
		return errors.New("config: retry attempts must be positive")
	}
	if c.Client.RequestsPerSecond < 0 {
		return errors.New("config: requests_per_second must not be negative")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	s, o := &c.Server, override.Server
	setString(&s.Addr, o.Addr)
	setString(&s.Bucket, o.Bucket)
	setString(&s.Staging, o.Staging)
	setString(&s.Metadata, o.Metadata)
	setString(&s.Codec, o.Codec)
	if o.MaxChunkSize != 0 {
		s.MaxChunkSize = o.MaxChunkSize
	}
	if o.ReadTimeout != 0 {
		s.ReadTimeout = o.ReadTimeout
	}
	if o.WriteTimeout != 0 {
		s.WriteTimeout = o.WriteTimeout
	}

	cl, oc := &c.Client, override.Client
	setString(&cl.ServerURL, oc.ServerURL)
	if oc.ChunkSize != 0 {
		cl.ChunkSize = oc.ChunkSize
	}
	if oc.Concurrency != 0 {
		cl.Concurrency = oc.Concurrency
	}
	if oc.DownloadConcurrency != 0 {
		cl.DownloadConcurrency = oc.DownloadConcurrency
	}
	if oc.RangeSize != 0 {
		cl.RangeSize = oc.RangeSize
	}
	if oc.Timeout != 0 {
		cl.Timeout = oc.Timeout
	}
	if oc.RequestsPerSecond != 0 {
		cl.RequestsPerSecond = oc.RequestsPerSecond
	}
	if oc.Retry.Attempts != 0 {
		cl.Retry.Attempts = oc.Retry.Attempts
	}
	if oc.Retry.Backoff != 0 {
		cl.Retry.Backoff = oc.Retry.Backoff
	}
	if oc.Retry.MaxBackoff != 0 {
		cl.Retry.MaxBackoff = oc.Retry.MaxBackoff
	}

	setString(&c.Log.Level, override.Log.Level)
	setString(&c.Log.Format, override.Log.Format)
	return c
}

// StagingBucket returns the bucket URL for staged chunks.
func (s ServerConfig) StagingBucket() string {
	if s.Staging != "" {
		return s.Staging
	}
	return s.Bucket
}
