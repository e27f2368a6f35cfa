package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-errors/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Config struct {
	URL       string   `json:"url"`
	Protocols []string `json:"protocols"`
	Log       Log      `json:"log"`
	Client    Client   `json:"client"`
	Serve     Serve    `json:"serve"`
	NATS      NATS     `json:"nats"`
}

type Log struct {
	Level string `json:"level"`
	JSON  bool   `json:"json"`
}

type Client struct {
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout" yaml:"write_timeout"`
	ReadLimit      int64         `json:"read_limit" yaml:"read_limit"`
}

type Serve struct {
	Listen     string `json:"listen"`
	Path       string `json:"path"`
	Concurrent bool   `json:"concurrent"`
}

type NATS struct {
	URL     string   `json:"url"`
	Prefix  string   `json:"prefix"`
	Queue   string   `json:"queue"`
	Forward []string `json:"forward"`
}

//nolint:golint,gochecknoglobals
var (
	ConfigFileKey           = "config"
	URLKey                  = "url"
	ProtocolsKey            = "protocols"
	LogLevelKey             = "log.level"
	LogJSONKey              = "log.json"
	ClientRequestTimeoutKey = "client.request_timeout"
	ClientWriteTimeoutKey   = "client.write_timeout"
	ClientReadLimitKey      = "client.read_limit"
	ServeListenKey          = "serve.listen"
	ServePathKey            = "serve.path"
	ServeConcurrentKey      = "serve.concurrent"
	NATSURLKey              = "nats.url"
	NATSPrefixKey           = "nats.prefix"
	NATSQueueKey            = "nats.queue"
	NATSForwardKey          = "nats.forward"
)

const (
	DefaultConfigPath         = "jsonipc.yaml"
	DefaultURL                = "ws://127.0.0.1:1777/"
	DefaultLogLevel           = "info"
	DefaultClientWriteTimeout = 10 * time.Second
	DefaultClientReadLimit    = 32 << 20
	DefaultServeListen        = "127.0.0.1:1777"
	DefaultServePath          = "/"
	DefaultNATSURL            = "nats://127.0.0.1:4222"
	DefaultNATSPrefix         = "jsonipc"
)

// RegisterFlags installs the shared flags as persistent flags of cmd.
func RegisterFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringP(ConfigFileKey, "c", DefaultConfigPath, "Config file path")
	flags.String(URLKey, DefaultURL, "Jsonipc WebSocket URL")
	flags.StringSlice(ProtocolsKey, []string{}, "Comma-separated list of WebSocket subprotocols")
	flags.String(LogLevelKey, DefaultLogLevel, "Log level (debug, info, warn, error)")
	flags.Bool(LogJSONKey, false, "Log as JSON instead of colored text")
	flags.Duration(ClientRequestTimeoutKey, 0, "Per-request timeout, 0 waits forever")
	flags.Duration(ClientWriteTimeoutKey, DefaultClientWriteTimeout, "Frame write timeout")
	flags.Int64(ClientReadLimitKey, DefaultClientReadLimit, "Maximum inbound frame size in bytes")
	flags.String(ServeListenKey, DefaultServeListen, "Demo server listen address")
	flags.String(ServePathKey, DefaultServePath, "Demo server WebSocket path")
	flags.Bool(ServeConcurrentKey, false, "Answer requests concurrently")
	flags.String(NATSURLKey, DefaultNATSURL, "NATS server URL")
	flags.String(NATSPrefixKey, DefaultNATSPrefix, "NATS subject prefix")
	flags.String(NATSQueueKey, "", "NATS queue group for relayed calls")
	flags.StringSlice(NATSForwardKey, []string{}, "Comma-separated notifications to republish on NATS")
}

var (
	ErrURLRequired         = errors.New("Jsonipc URL is required")
	ErrInvalidURLScheme    = errors.New("Jsonipc URL must use ws:// or wss://")
	ErrInvalidLogLevel     = errors.New("Log level must be one of debug, info, warn, error")
	ErrNegativeTimeout     = errors.New("Timeouts must not be negative")
	ErrInvalidReadLimit    = errors.New("Read limit must be positive")
	ErrServeListenRequired = errors.New("Serve listen address is required")
	ErrServePathInvalid    = errors.New("Serve path must start with /")
	ErrNATSPrefixInvalid   = errors.New("NATS prefix must be a non-empty subject without wildcards")
)

func (c *Config) Validate() error {
	if c.URL == "" {
		return ErrURLRequired
	}
	if !strings.HasPrefix(c.URL, "ws://") && !strings.HasPrefix(c.URL, "wss://") {
		return ErrInvalidURLScheme
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	if c.Client.RequestTimeout < 0 || c.Client.WriteTimeout < 0 {
		return ErrNegativeTimeout
	}
	if c.Client.ReadLimit <= 0 {
		return ErrInvalidReadLimit
	}
	if c.Serve.Listen == "" {
		return ErrServeListenRequired
	}
	if !strings.HasPrefix(c.Serve.Path, "/") {
		return ErrServePathInvalid
	}
	if c.NATS.Prefix == "" || strings.ContainsAny(c.NATS.Prefix, "*> \t") {
		return ErrNATSPrefixInvalid
	}
	return nil
}

// SlogLevel parses Level.
func (l Log) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, ErrInvalidLogLevel
	}
}

func LoadConfig(cmd *cobra.Command) (*Config, error) {
	var config Config

	// Load flags from envs
	ctx, cancel := context.WithCancelCause(cmd.Context())
	defer cancel(nil)
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if ctx.Err() != nil {
			return
		}
		optName := strings.ReplaceAll(strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_"), ".", "__")
		if val, ok := os.LookupEnv(optName); !f.Changed && ok {
			if err := f.Value.Set(val); err != nil {
				cancel(err)
			}
			f.Changed = true
		}
	})
	if ctx.Err() != nil {
		return &config, fmt.Errorf("failed to load env: %w", context.Cause(ctx))
	}

	configPath, err := cmd.Flags().GetString(ConfigFileKey)
	if err != nil {
		return &config, fmt.Errorf("failed to get config path: %w", err)
	}
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return &config, fmt.Errorf("failed to read config: %w", err)
		} else if err == nil {
			if err := yaml.Unmarshal(data, &config); err != nil {
				return &config, fmt.Errorf("failed to unmarshal config: %w", err)
			}
		}
	}

	err = overrideFlags(&config, cmd)
	if err != nil {
		return &config, fmt.Errorf("failed to override flags: %w", err)
	}

	// Defaults
	if config.URL == "" {
		config.URL = DefaultURL
	}
	if config.Log.Level == "" {
		config.Log.Level = DefaultLogLevel
	}
	if config.Client.WriteTimeout == 0 {
		config.Client.WriteTimeout = DefaultClientWriteTimeout
	}
	if config.Client.ReadLimit == 0 {
		config.Client.ReadLimit = DefaultClientReadLimit
	}
	if config.Serve.Listen == "" {
		config.Serve.Listen = DefaultServeListen
	}
	if config.Serve.Path == "" {
		config.Serve.Path = DefaultServePath
	}
	if config.NATS.URL == "" {
		config.NATS.URL = DefaultNATSURL
	}
	if config.NATS.Prefix == "" {
		config.NATS.Prefix = DefaultNATSPrefix
	}

	return &config, nil
}

func overrideFlags(config *Config, cmd *cobra.Command) error {
	flags := cmd.Flags()
	var err error

	if flags.Changed(URLKey) {
		config.URL, err = flags.GetString(URLKey)
		if err != nil {
			return fmt.Errorf("failed to get URL: %w", err)
		}
	}

	if flags.Changed(ProtocolsKey) {
		config.Protocols, err = flags.GetStringSlice(ProtocolsKey)
		if err != nil {
			return fmt.Errorf("failed to get protocols: %w", err)
		}
	}

	if flags.Changed(LogLevelKey) {
		config.Log.Level, err = flags.GetString(LogLevelKey)
		if err != nil {
			return fmt.Errorf("failed to get log level: %w", err)
		}
	}

	if flags.Changed(LogJSONKey) {
		config.Log.JSON, err = flags.GetBool(LogJSONKey)
		if err != nil {
			return fmt.Errorf("failed to get log format: %w", err)
		}
	}

	if flags.Changed(ClientRequestTimeoutKey) {
		config.Client.RequestTimeout, err = flags.GetDuration(ClientRequestTimeoutKey)
		if err != nil {
			return fmt.Errorf("failed to get request timeout: %w", err)
		}
	}

	if flags.Changed(ClientWriteTimeoutKey) {
		config.Client.WriteTimeout, err = flags.GetDuration(ClientWriteTimeoutKey)
		if err != nil {
			return fmt.Errorf("failed to get write timeout: %w", err)
		}
	}

	if flags.Changed(ClientReadLimitKey) {
		config.Client.ReadLimit, err = flags.GetInt64(ClientReadLimitKey)
		if err != nil {
			return fmt.Errorf("failed to get read limit: %w", err)
		}
	}

	if flags.Changed(ServeListenKey) {
		config.Serve.Listen, err = flags.GetString(ServeListenKey)
		if err != nil {
			return fmt.Errorf("failed to get listen address: %w", err)
		}
	}

	if flags.Changed(ServePathKey) {
		config.Serve.Path, err = flags.GetString(ServePathKey)
		if err != nil {
			return fmt.Errorf("failed to get serve path: %w", err)
		}
	}

	if flags.Changed(ServeConcurrentKey) {
		config.Serve.Concurrent, err = flags.GetBool(ServeConcurrentKey)
		if err != nil {
			return fmt.Errorf("failed to get concurrent dispatch: %w", err)
		}
	}

	if flags.Changed(NATSURLKey) {
		config.NATS.URL, err = flags.GetString(NATSURLKey)
		if err != nil {
			return fmt.Errorf("failed to get NATS URL: %w", err)
		}
	}

	if flags.Changed(NATSPrefixKey) {
		config.NATS.Prefix, err = flags.GetString(NATSPrefixKey)
		if err != nil {
			return fmt.Errorf("failed to get NATS prefix: %w", err)
		}
	}

	if flags.Changed(NATSQueueKey) {
		config.NATS.Queue, err = flags.GetString(NATSQueueKey)
		if err != nil {
			return fmt.Errorf("failed to get NATS queue: %w", err)
		}
	}

	if flags.Changed(NATSForwardKey) {
		config.NATS.Forward, err = flags.GetStringSlice(NATSForwardKey)
		if err != nil {
			return fmt.Errorf("failed to get NATS forward list: %w", err)
		}
	}

	return nil
}
