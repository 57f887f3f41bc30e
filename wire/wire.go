// Package wire defines the JSON payload types for the Mattermost v3 HTTP
// and WebSocket APIs. Both the HTTP layer and the socket event loop import
// these — single source of truth.
package wire

import "encoding/json"

// LoginRequest is the body of POST api/v3/users/login. Name is the team
// name; the session token comes back in the Token response header, not in
// the body.
type LoginRequest struct {
	Name     string `json:"name"`
	LoginID  string `json:"login_id"`
	Password string `json:"password"`
}

// User is the subset of the Mattermost user object the client relies on.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Team is a named workspace scoping channels and users.
type Team struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Type        string `json:"type,omitempty"`
}

// InitialLoad is the bulk metadata response of GET api/v3/users/initial_load.
// The server returns more (preferences, license, client config); only the
// fields needed for session identity are decoded.
type InitialLoad struct {
	User  *User  `json:"user"`
	Teams []Team `json:"teams"`
}

// Channel is a conversation stream within a team. Name is the URL slug
// ("town-square"), distinct from both DisplayName and the stable ID.
type Channel struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Type        string `json:"type,omitempty"`
}

// ChannelList is the wrapper shape of GET api/v3/teams/{team_id}/channels/.
// Some server builds return the bare array instead; the client accepts both.
type ChannelList struct {
	Channels []Channel `json:"channels"`
}

// PostRequest is the body of POST
// api/v3/teams/{team_id}/channels/{channel_id}/posts/create.
// PendingPostID is a client-generated "{user_id}:{create_at}" dedup key the
// server uses to drop retried submissions.
type PostRequest struct {
	UserID        string   `json:"user_id"`
	ChannelID     string   `json:"channel_id"`
	Message       string   `json:"message"`
	CreateAt      int64    `json:"create_at"`
	Filenames     []string `json:"filenames"`
	PendingPostID string   `json:"pending_post_id"`
}

// Post is the server's view of a created post.
type Post struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	ChannelID     string `json:"channel_id"`
	Message       string `json:"message"`
	CreateAt      int64  `json:"create_at"`
	PendingPostID string `json:"pending_post_id,omitempty"`
}

// Event is an inbound WebSocket message. The Event field is the dispatch
// key ("posted", "typing", "user_added", ...); Data carries the
// event-specific payload and is left raw for handlers to decode.
type Event struct {
	Event     string          `json:"event"`
	TeamID    string          `json:"team_id,omitempty"`
	ChannelID string          `json:"channel_id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}
