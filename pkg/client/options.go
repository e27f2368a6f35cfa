package client

import (
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/lightforgemedia/go-jsonipc/pkg/registry"
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultReadLimit    = 1 << 20 // 1MB
	defaultInboxSize    = 256
	defaultEventBuffer  = 64
	// Requests have no deadline of their own unless configured.
	defaultRequestTimeout = 0
)

type clientConfig struct {
	logger         *slog.Logger
	dialOptions    *websocket.DialOptions
	requestTimeout time.Duration
	writeTimeout   time.Duration
	readLimit      int64
	inboxSize      int
	eventBuffer    int
	classes        *registry.ClassTable
	random         func() float64
	onClose        func(error)
}

// Option configures the Client.
type Option func(*Client)

// WithLogger sets a custom logging implementation.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.config.logger = logger
		}
	}
}

// WithDialOptions sets custom websocket.DialOptions. Subprotocols passed to
// Open take precedence over the ones set here.
func WithDialOptions(opts *websocket.DialOptions) Option {
	return func(c *Client) {
		c.config.dialOptions = opts
	}
}

// WithRequestTimeout bounds how long Send waits for a reply. Zero waits
// until the reply arrives, the context ends or the connection drops.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout >= 0 {
			c.config.requestTimeout = timeout
		}
	}
}

// WithWriteTimeout sets the timeout for writing a single frame.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.config.writeTimeout = timeout
		}
	}
}

// WithReadLimit sets the maximum accepted frame size in bytes.
func WithReadLimit(limit int64) Option {
	return func(c *Client) {
		if limit > 0 {
			c.config.readLimit = limit
		}
	}
}

// WithClassTable shares a class table between clients.
func WithClassTable(classes *registry.ClassTable) Option {
	return func(c *Client) {
		if classes != nil {
			c.config.classes = classes
		}
	}
}

// WithOnClose registers a callback run once the socket closed. err is the
// read error that ended the connection.
func WithOnClose(fn func(err error)) Option {
	return func(c *Client) {
		c.config.onClose = fn
	}
}

// WithRandom replaces the source used to seed request ids.
func WithRandom(fn func() float64) Option {
	return func(c *Client) {
		if fn != nil {
			c.config.random = fn
		}
	}
}

// WithEventBuffer sets the per-listener buffer of object events.
func WithEventBuffer(size int) Option {
	return func(c *Client) {
		if size > 0 {
			c.config.eventBuffer = size
		}
	}
}

// Options contains configuration values for NewWithOptions.
type Options struct {
	Logger         *slog.Logger
	DialOptions    *websocket.DialOptions
	RequestTimeout time.Duration
	WriteTimeout   time.Duration
	ReadLimit      int64
	EventBuffer    int
	Classes        *registry.ClassTable
	OnClose        func(error)
}

// DefaultOptions returns an Options struct populated with library defaults.
func DefaultOptions() Options {
	return Options{
		Logger:         slog.Default(),
		DialOptions:    &websocket.DialOptions{HTTPClient: http.DefaultClient},
		RequestTimeout: defaultRequestTimeout,
		WriteTimeout:   defaultWriteTimeout,
		ReadLimit:      defaultReadLimit,
		EventBuffer:    defaultEventBuffer,
	}
}

// NewWithOptions builds a Client from an Options struct. Zero values fall
// back to the library defaults.
func NewWithOptions(opts Options, extra ...Option) *Client {
	fns := []Option{
		WithLogger(opts.Logger),
		WithDialOptions(opts.DialOptions),
		WithRequestTimeout(opts.RequestTimeout),
		WithWriteTimeout(opts.WriteTimeout),
		WithReadLimit(opts.ReadLimit),
		WithEventBuffer(opts.EventBuffer),
		WithClassTable(opts.Classes),
	}
	if opts.OnClose != nil {
		fns = append(fns, WithOnClose(opts.OnClose))
	}
	return New(append(fns, extra...)...)
}

func defaultConfig() clientConfig {
	return clientConfig{
		logger:         slog.Default(),
		requestTimeout: defaultRequestTimeout,
		writeTimeout:   defaultWriteTimeout,
		readLimit:      defaultReadLimit,
		inboxSize:      defaultInboxSize,
		eventBuffer:    defaultEventBuffer,
		random:         rand.Float64,
	}
}
