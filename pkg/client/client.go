// Package client implements an EventSource-style client for Server-Sent
// Event streams: connection lifecycle, response classification, automatic
// reconnection with last-event-ID resumption, and event dispatch.
package client

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"eventsource/pkg/errors"
	"eventsource/pkg/events"
	"eventsource/pkg/metrics"
	"eventsource/pkg/sse"
)

// ReadyState is the connection lifecycle state
type ReadyState int

const (
	// Connecting means no connection is established yet, or a reconnect
	// is pending.
	Connecting ReadyState = iota
	// Open means the stream is established and events are flowing.
	Open
	// Closed is terminal; no further events or reconnects happen.
	Closed
)

func (s ReadyState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Dispatch topics for the canonical lifecycle events. Decoded stream
// events are dispatched under their own event type, which defaults to
// TopicMessage.
const (
	TopicOpen    = "open"
	TopicMessage = "message"
	TopicError   = "error"
)

// Config represents client configuration
type Config struct {
	DialTimeout           time.Duration
	ResponseHeaderTimeout time.Duration
	// RetryDelay is the initial reconnection delay. The server may change
	// it for the lifetime of the client with a retry field.
	RetryDelay     time.Duration
	ReadBufferSize int
	// TLSConfig applies to https stream URLs. Nil uses the defaults.
	TLSConfig *tls.Config
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		DialTimeout:           10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		RetryDelay:            2000 * time.Millisecond,
		ReadBufferSize:        4096,
	}
}

// Client consumes one Server-Sent Event stream.
//
// A Client connects once via Connect and then maintains the subscription
// until Close or a fatal response: dropped connections are retried after
// the reconnection delay, resuming from the last committed event ID.
type Client struct {
	initialURL      string
	withCredentials bool
	headers         http.Header

	config     *Config
	httpClient *http.Client
	dispatcher *events.Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer

	mu           sync.Mutex
	readyState   ReadyState
	currentURL   string
	lastEventID  string
	retryDelay   time.Duration
	canReconnect bool
	started      bool
	cancel       context.CancelFunc

	// onIDs track the shorthand listener registrations so a later
	// assignment replaces the earlier one.
	onIDs map[string]int

	// done closes when the subscription started by Connect terminates.
	done chan struct{}
}

// New creates a client for the event stream at url
func New(url string, config *Config, logger *slog.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	retry := config.RetryDelay
	if retry <= 0 {
		retry = 2000 * time.Millisecond
	}

	c := &Client{
		initialURL:   url,
		currentURL:   url,
		headers:      make(http.Header),
		config:       config,
		dispatcher:   events.NewDispatcher(logger),
		logger:       logger.With("component", "eventsource"),
		readyState:   Connecting,
		retryDelay:   retry,
		canReconnect: true,
		onIDs:        make(map[string]int),
		done:         make(chan struct{}),
	}
	c.httpClient = c.newHTTPClient()
	return c
}

// newHTTPClient builds the owned transport. Redirects are not followed:
// the state machine handles 301/307 itself.
func (c *Client) newHTTPClient() *http.Client {
	client := &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: c.config.DialTimeout,
			}).DialContext,
			ResponseHeaderTimeout: c.config.ResponseHeaderTimeout,
			TLSClientConfig:       c.config.TLSConfig,
		},
		CheckRedirect: noRedirect,
	}
	if c.withCredentials {
		if jar, err := cookiejar.New(nil); err == nil {
			client.Jar = jar
		}
	}
	return client
}

func noRedirect(req *http.Request, via []*http.Request) error {
	return http.ErrUseLastResponse
}

// WithHTTPClient sets a custom HTTP client. The client is shallow-copied
// so redirect handling stays with the state machine.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc == nil {
		return c
	}
	copied := *hc
	copied.CheckRedirect = noRedirect
	c.httpClient = &copied
	return c
}

// WithCredentials enables cookie handling on the owned HTTP client
func (c *Client) WithCredentials(enabled bool) *Client {
	c.withCredentials = enabled
	if enabled && c.httpClient.Jar == nil {
		if jar, err := cookiejar.New(nil); err == nil {
			c.httpClient.Jar = jar
		}
	}
	return c
}

// WithHeaders sets extra headers sent on every connection attempt
func (c *Client) WithHeaders(h http.Header) *Client {
	for k, vs := range h {
		for _, v := range vs {
			c.headers.Add(k, v)
		}
	}
	return c
}

// WithMetrics sets the metrics for the client
func (c *Client) WithMetrics(m *metrics.Metrics) *Client {
	c.metrics = m
	return c
}

// WithTracer enables a client span per connection attempt
func (c *Client) WithTracer(t trace.Tracer) *Client {
	c.tracer = t
	return c
}

// WithLogger replaces the client logger
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	if logger != nil {
		c.logger = logger.With("component", "eventsource")
	}
	return c
}

// WithRetryDelay sets the initial reconnection delay. A retry field from
// the server still overrides it for the lifetime of the client.
func (c *Client) WithRetryDelay(d time.Duration) *Client {
	if d > 0 {
		c.mu.Lock()
		c.retryDelay = d
		c.mu.Unlock()
	}
	return c
}

// WithLastEventID resumes the stream from a known position: the first
// connection attempt carries id in the Last-Event-ID header.
func (c *Client) WithLastEventID(id string) *Client {
	c.mu.Lock()
	c.lastEventID = id
	c.mu.Unlock()
	return c
}

// Connect starts the subscription. It returns immediately; stream progress
// is reported through the registered listeners. Cancelling ctx is
// equivalent to Close.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.readyState == Closed {
		c.mu.Unlock()
		return errors.NewError(errors.ErrorTypeClosed, "client is closed")
	}
	if c.started {
		c.mu.Unlock()
		return errors.NewError(errors.ErrorTypeInternal, "client already connected")
	}
	c.started = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	c.logger.Info("connecting", "url", c.initialURL)
	go c.run(runCtx)
	return nil
}

// Close terminates the subscription. Any in-flight request is aborted and
// any pending reconnect is cancelled. Close is idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.readyState == Closed {
		c.mu.Unlock()
		return
	}
	c.readyState = Closed
	c.canReconnect = false
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.logger.Info("closed", "url", c.initialURL)
}

// ReadyState returns the current lifecycle state
func (c *Client) ReadyState() ReadyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readyState
}

// URL returns the URL the client was created with
func (c *Client) URL() string {
	return c.initialURL
}

// Credentials reports whether cookies are included on requests
func (c *Client) Credentials() bool {
	return c.withCredentials
}

// LastEventID returns the last committed event ID
func (c *Client) LastEventID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastEventID
}

// Done returns a channel that closes once the subscription started by
// Connect has terminated, whether by Close, context cancellation, a fatal
// response, or a no-content signal. Before Connect it never closes.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// RetryDelay returns the current reconnection delay
func (c *Client) RetryDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryDelay
}

// AddEventListener registers a listener for a dispatch topic: TopicOpen,
// TopicError, or an event type such as TopicMessage. It returns a handle
// for RemoveEventListener.
func (c *Client) AddEventListener(topic string, fn events.Listener) int {
	return c.dispatcher.AddListener(topic, fn)
}

// RemoveEventListener removes a previously registered listener
func (c *Client) RemoveEventListener(topic string, id int) {
	c.dispatcher.RemoveListener(topic, id)
}

// OnOpen sets the single open handler, replacing any previous one
func (c *Client) OnOpen(fn func()) {
	c.setShorthand(TopicOpen, func(any) { fn() })
}

// OnMessage sets the single handler for events of type "message",
// replacing any previous one
func (c *Client) OnMessage(fn func(sse.Event)) {
	c.setShorthand(TopicMessage, func(p any) {
		if e, ok := p.(sse.Event); ok {
			fn(e)
		}
	})
}

// OnError sets the single error handler, replacing any previous one
func (c *Client) OnError(fn func(error)) {
	c.setShorthand(TopicError, func(p any) {
		if err, ok := p.(error); ok {
			fn(err)
		}
	})
}

func (c *Client) setShorthand(topic string, fn events.Listener) {
	c.mu.Lock()
	prev, had := c.onIDs[topic]
	c.mu.Unlock()

	if had {
		c.dispatcher.RemoveListener(topic, prev)
	}
	id := c.dispatcher.AddListener(topic, fn)

	c.mu.Lock()
	c.onIDs[topic] = id
	c.mu.Unlock()
}
