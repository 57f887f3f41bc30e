package mattermost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/jsime/mattermost-go/wire"
)

// sessionTokenHeader is where the server returns (and rotates) the session
// token. Any response may carry it, not just login.
const sessionTokenHeader = "Token"

// authHeaders derives the header set from the current session state. Both
// the cookie and bearer forms carry the same token because different v3
// endpoints read different ones.
func (c *Client) authHeaders() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("X-Requested-With", "XMLHttpRequest")
	h.Set("X-Client-ID", c.id)

	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		h.Set("Cookie", "MMAUTHTOKEN="+token)
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

// doJSON sends an authed request and decodes the JSON response into dest.
// Setting Accept-Encoding ourselves opts out of net/http's transparent
// decompression, so gzip bodies are inflated here with klauspost's codec.
func (c *Client) doJSON(ctx context.Context, method, path string, reqBody any, dest any) error {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("mattermost: marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.host+path, body)
	if err != nil {
		return err
	}
	req.Header = c.authHeaders()
	req.Header.Set("X-Request-ID", uuid.NewString())
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mattermost: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if token := resp.Header.Get(sessionTokenHeader); token != "" {
		c.mu.Lock()
		c.token = token
		c.mu.Unlock()
	}

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return fmt.Errorf("mattermost: %s %s: gunzip: %w", method, path, err)
		}
		defer gz.Close()
		reader = gz
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(reader)
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(b)}
	}

	if dest != nil {
		if err := json.NewDecoder(reader).Decode(dest); err != nil {
			return fmt.Errorf("mattermost: %s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}

// login authenticates against the team and captures the session token from
// the response header.
func (c *Client) login(ctx context.Context) error {
	err := c.doJSON(ctx, http.MethodPost, "api/v3/users/login", wire.LoginRequest{
		Name:     c.team,
		LoginID:  c.loginID,
		Password: c.password,
	}, nil)
	if err != nil {
		return err
	}

	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token == "" {
		return ErrNoSessionToken
	}
	return nil
}

// initialLoad fetches the bulk account metadata and pins the session
// identity: the authenticated user and the configured team.
func (c *Client) initialLoad(ctx context.Context) error {
	const path = "api/v3/users/initial_load"

	var load wire.InitialLoad
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &load); err != nil {
		return err
	}
	if load.User == nil || load.User.ID == "" {
		return &ProtocolError{Endpoint: path, Reason: "no user in initial load"}
	}

	var team *wire.Team
	for i := range load.Teams {
		if load.Teams[i].Name == c.team {
			team = &load.Teams[i]
			break
		}
	}
	if team == nil {
		return &ProtocolError{Endpoint: path, Reason: fmt.Sprintf("no team named %q in initial load", c.team)}
	}

	c.mu.Lock()
	c.user = load.User
	c.teamInfo = team
	c.mu.Unlock()
	return nil
}

// ResolveChannelID maps a channel name to its server-assigned ID. The first
// miss fetches the team's full channel list and caches every entry; the
// cache is never invalidated. A name the server cannot resolve fails with
// ChannelNotFoundError and refetches on every call, so channels created
// after Start become visible once the server knows them.
func (c *Client) ResolveChannelID(ctx context.Context, name string) (string, error) {
	c.chanMu.RLock()
	id, ok := c.channels[name]
	c.chanMu.RUnlock()
	if ok {
		return id, nil
	}

	team := c.Team()
	if team == nil {
		return "", ErrNotStarted
	}

	path := "api/v3/teams/" + team.ID + "/channels/"
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return "", err
	}
	channels, err := decodeChannelList(raw)
	if err != nil {
		return "", &ProtocolError{Endpoint: path, Reason: err.Error()}
	}

	c.chanMu.Lock()
	for _, ch := range channels {
		c.channels[ch.Name] = ch.ID
	}
	id, ok = c.channels[name]
	c.chanMu.Unlock()
	if !ok {
		return "", &ChannelNotFoundError{Name: name}
	}
	return id, nil
}

// decodeChannelList accepts both the {"channels":[...]} wrapper and a bare
// channel array.
func decodeChannelList(raw json.RawMessage) ([]wire.Channel, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var channels []wire.Channel
		if err := json.Unmarshal(trimmed, &channels); err != nil {
			return nil, fmt.Errorf("not a channel array: %w", err)
		}
		return channels, nil
	}
	var list wire.ChannelList
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("not a channel list: %w", err)
	}
	if list.Channels == nil {
		return nil, errors.New("no channels field")
	}
	return list.Channels, nil
}

// Send posts a chat message to a channel by name. The channel is resolved
// through the cache (possibly triggering one channel-list fetch) and the
// post carries a "{user_id}:{create_at}" pending id so the server can
// deduplicate retried submissions. The decoded server response is returned
// uninterpreted.
func (c *Client) Send(ctx context.Context, req PostRequest) (*wire.Post, error) {
	if req.Channel == "" {
		return nil, fmt.Errorf("%w: channel is required", ErrInvalidArgument)
	}
	if req.Message == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidArgument)
	}
	if !c.Started() {
		return nil, ErrNotStarted
	}

	channelID, err := c.ResolveChannelID(ctx, req.Channel)
	if err != nil {
		return nil, err
	}

	user := c.User()
	team := c.Team()
	createAt := time.Now().UnixMilli()
	post := wire.PostRequest{
		UserID:        user.ID,
		ChannelID:     channelID,
		Message:       req.Message,
		CreateAt:      createAt,
		Filenames:     []string{},
		PendingPostID: fmt.Sprintf("%s:%d", user.ID, createAt),
	}

	path := "api/v3/teams/" + team.ID + "/channels/" + channelID + "/posts/create"
	var created wire.Post
	if err := c.doJSON(ctx, http.MethodPost, path, post, &created); err != nil {
		return nil, err
	}
	return &created, nil
}
