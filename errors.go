package mattermost

import (
	"errors"
	"fmt"
)

var (
	// ErrNotStarted is returned by operations that need a live session
	// before Start has completed.
	ErrNotStarted = errors.New("mattermost: client not started")

	// ErrInvalidArgument is returned (wrapped with detail) when a caller
	// passes an empty or malformed request.
	ErrInvalidArgument = errors.New("mattermost: invalid argument")

	// ErrNoSessionToken means login succeeded at the HTTP level but the
	// response carried no Token header. Fatal to Start.
	ErrNoSessionToken = errors.New("mattermost: login response carried no session token")
)

// ConfigError reports a missing required constructor argument.
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string {
	return "mattermost: missing required config field " + e.Field
}

// ProtocolError reports a server response missing expected fields or with
// an unexpected shape.
type ProtocolError struct {
	Endpoint string
	Reason   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("mattermost: unexpected response from %s: %s", e.Endpoint, e.Reason)
}

// ChannelNotFoundError means a channel name was absent from the team's
// channel list even after a fresh fetch. Fatal to the send that triggered
// it; the session stays valid.
type ChannelNotFoundError struct {
	Name string
}

func (e *ChannelNotFoundError) Error() string {
	return "mattermost: channel not found: " + e.Name
}

// APIError is a non-2xx HTTP response, kept with enough context to
// diagnose: method, endpoint path, status, and the response body.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mattermost: api %s %s: %d %s", e.Method, e.Path, e.StatusCode, e.Body)
}
