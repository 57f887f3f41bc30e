// Package mattermost provides a Go client for the Mattermost v3 API.
// It authenticates over HTTP, loads the initial account/team metadata,
// connects to the event WebSocket, and provides helpers for sending chat
// messages and reacting to incoming events via registered callbacks.
package mattermost

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jsime/mattermost-go/wire"
)

const websocketPath = "api/v3/users/websocket"

// Handler is a callback for inbound WebSocket events. It runs on the
// client's read goroutine, one invocation per inbound message, in arrival
// order.
type Handler func(*Client, *wire.Event)

// PostRequest describes an outbound chat message. Channel is the channel
// name (not its ID); resolution happens inside Send.
type PostRequest struct {
	Channel string
	Message string
}

// Client is a single-user session against one Mattermost server and team.
// It is safe for concurrent use.
type Client struct {
	host     string // normalized: always has a scheme and one trailing slash
	team     string
	loginID  string
	password string

	httpClient *http.Client
	log        zerolog.Logger
	id         string // client instance id, sent as X-Client-ID for correlation
	pingEvery  time.Duration

	mu       sync.RWMutex
	token    string
	user     *wire.User
	teamInfo *wire.Team
	started  bool
	conn     net.Conn
	done     chan struct{}

	chanMu   sync.RWMutex
	channels map[string]string // channel name → channel id, never invalidated

	handlerMu sync.RWMutex
	handlers  map[string]Handler
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithLogger attaches a zerolog logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithHTTPClient replaces the HTTP transport used for all REST calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPingInterval makes Start spawn a keepalive goroutine that pings the
// socket every d. Zero (the default) leaves keepalive to the caller via
// Ping.
func WithPingInterval(d time.Duration) Option {
	return func(c *Client) { c.pingEvery = d }
}

// New creates an unstarted client. It validates and normalizes the
// configuration but performs no I/O.
func New(host, team, loginID, password string, opts ...Option) (*Client, error) {
	if host == "" {
		return nil, &ConfigError{Field: "host"}
	}
	if team == "" {
		return nil, &ConfigError{Field: "team"}
	}
	if loginID == "" {
		return nil, &ConfigError{Field: "login_id"}
	}
	if password == "" {
		return nil, &ConfigError{Field: "password"}
	}

	c := &Client{
		host:       normalizeHost(host),
		team:       team,
		loginID:    loginID,
		password:   password,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        zerolog.Nop(),
		id:         uuid.NewString(),
		channels:   make(map[string]string),
		handlers:   make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("client_id", c.id).Logger()
	return c, nil
}

// normalizeHost defaults the scheme to https and enforces exactly one
// trailing slash.
func normalizeHost(host string) string {
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	return strings.TrimRight(host, "/") + "/"
}

// Start logs in, loads the session identity, and upgrades to the event
// WebSocket, in that order. Any failure aborts the whole sequence; nothing
// is retried and a dropped socket is not reconnected. Callbacks registered
// with On start firing once Start returns nil.
func (c *Client) Start(ctx context.Context) error {
	if c.Started() {
		return nil
	}

	if err := c.login(ctx); err != nil {
		return err
	}
	if err := c.initialLoad(ctx); err != nil {
		return err
	}

	wsURL, err := c.websocketURL()
	if err != nil {
		return err
	}

	dialer := ws.Dialer{
		Header: ws.HandshakeHeaderHTTP(c.authHeaders()),
	}
	conn, _, _, err := dialer.Dial(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("mattermost: dial %s: %w", wsURL, err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.done = done
	c.started = true
	c.mu.Unlock()

	go c.readLoop(conn, done)
	if c.pingEvery > 0 {
		go c.pingLoop(c.pingEvery, done)
	}

	c.log.Info().Str("endpoint", wsURL).Str("team", c.team).Msg("connected")
	return nil
}

// Started reports whether Start has completed successfully and Close has
// not been called.
func (c *Client) Started() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.started
}

// User returns the identity loaded by Start, or nil before it.
func (c *Client) User() *wire.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

// Team returns the team selected by Start, or nil before it.
func (c *Client) Team() *wire.Team {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.teamInfo
}

// On registers a callback for the named event. Re-registering the same
// event name replaces the prior callback; inbound events with no
// registered callback are dropped silently.
func (c *Client) On(event string, handler Handler) {
	c.handlerMu.Lock()
	c.handlers[event] = handler
	c.handlerMu.Unlock()
}

// Ping sends a single WebSocket ping frame. No response is awaited; cadence
// is the caller's concern unless WithPingInterval was set.
func (c *Client) Ping() error {
	c.mu.RLock()
	conn := c.conn
	started := c.started
	c.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}
	return wsutil.WriteClientMessage(conn, ws.OpPing, nil)
}

// Close shuts the socket down and stops the read and keepalive loops. It is
// idempotent and safe to call on a never-started client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	select {
	case <-c.done:
		return nil
	default:
	}
	close(c.done)
	c.started = false
	return c.conn.Close()
}

// websocketURL rewrites the host's scheme to its socket equivalent
// (http→ws, https→wss) and appends the websocket endpoint path.
func (c *Client) websocketURL() (string, error) {
	u, err := url.Parse(c.host)
	if err != nil {
		return "", fmt.Errorf("mattermost: parse host %q: %w", c.host, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path += websocketPath
	return u.String(), nil
}

func (c *Client) readLoop(conn net.Conn, done <-chan struct{}) {
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			select {
			case <-done:
			default:
				c.log.Warn().Err(err).Msg("read error, disconnecting")
				c.Close()
			}
			return
		}
		c.dispatch(data)
	}
}

// dispatch routes one inbound frame to the callback registered for its
// event name, if any.
func (c *Client) dispatch(data []byte) {
	var ev wire.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		c.log.Debug().Err(err).Msg("bad event payload")
		return
	}

	c.handlerMu.RLock()
	handler := c.handlers[ev.Event]
	c.handlerMu.RUnlock()
	if handler == nil {
		c.log.Debug().Str("event", ev.Event).Msg("no handler, dropping")
		return
	}
	handler(c, &ev)
}

func (c *Client) pingLoop(interval time.Duration, done <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := c.Ping(); err != nil {
				c.log.Warn().Err(err).Msg("keepalive ping failed")
				return
			}
		case <-done:
			return
		}
	}
}
