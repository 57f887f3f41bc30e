package mattermost

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gobwas/ws"

	"github.com/jsime/mattermost-go/wire"
)

// fakeMattermost is an in-process v3 server covering the endpoints the
// client touches: login, initial_load, channel list, post create, and the
// event websocket. Counters and captures are read through the locked
// accessors so tests stay clean under the race detector.
type fakeMattermost struct {
	teamName string
	teamID   string
	userID   string

	loginToken   string // "" omits the Token header from the login response
	postToken    string // if set, sent as Token header on post-create responses
	channels     []wire.Channel
	channelsBare bool // respond with a bare array instead of {"channels":[...]}

	mu              sync.Mutex
	loginCalls      int
	loadCalls       int
	channelCalls    int
	postCalls       int
	socketCalls     int
	lastPost        wire.PostRequest
	lastChannelAuth string

	conns chan net.Conn // server side of accepted websocket upgrades
}

func newFakeMattermost() *fakeMattermost {
	return &fakeMattermost{
		teamName:   "testteam",
		teamID:     "tid001",
		userID:     "uid001",
		loginToken: "tok-1",
		channels: []wire.Channel{
			{ID: "cid-town", Name: "town-square", DisplayName: "Town Square", Type: "O"},
			{ID: "cid-rand", Name: "random", DisplayName: "Random", Type: "O"},
		},
		conns: make(chan net.Conn, 4),
	}
}

func (f *fakeMattermost) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v3/users/login":
		f.mu.Lock()
		f.loginCalls++
		f.mu.Unlock()
		if f.loginToken != "" {
			w.Header().Set("Token", f.loginToken)
		}
		writeJSON(w, map[string]string{"id": f.userID})

	case r.URL.Path == "/api/v3/users/initial_load":
		f.mu.Lock()
		f.loadCalls++
		f.mu.Unlock()
		writeJSON(w, wire.InitialLoad{
			User:  &wire.User{ID: f.userID, Username: "testbot"},
			Teams: []wire.Team{{ID: f.teamID, Name: f.teamName, DisplayName: "Test Team"}},
		})

	case r.URL.Path == "/api/v3/users/websocket":
		f.mu.Lock()
		f.socketCalls++
		f.mu.Unlock()
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		f.conns <- conn

	case strings.HasSuffix(r.URL.Path, "/posts/create"):
		var post wire.PostRequest
		_ = json.NewDecoder(r.Body).Decode(&post)
		f.mu.Lock()
		f.postCalls++
		f.lastPost = post
		f.mu.Unlock()
		if f.postToken != "" {
			w.Header().Set("Token", f.postToken)
		}
		writeJSON(w, wire.Post{
			ID:            "post001",
			UserID:        post.UserID,
			ChannelID:     post.ChannelID,
			Message:       post.Message,
			CreateAt:      post.CreateAt,
			PendingPostID: post.PendingPostID,
		})

	case strings.HasPrefix(r.URL.Path, "/api/v3/teams/") && strings.HasSuffix(r.URL.Path, "/channels/"):
		f.mu.Lock()
		f.channelCalls++
		f.lastChannelAuth = r.Header.Get("Authorization")
		f.mu.Unlock()
		if f.channelsBare {
			writeJSON(w, f.channels)
		} else {
			writeJSON(w, wire.ChannelList{Channels: f.channels})
		}

	default:
		http.NotFound(w, r)
	}
}

func (f *fakeMattermost) counts() (login, load, channel, post, socket int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loginCalls, f.loadCalls, f.channelCalls, f.postCalls, f.socketCalls
}

func (f *fakeMattermost) lastPostReq() wire.PostRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastPost
}

func (f *fakeMattermost) channelAuth() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastChannelAuth
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// startedClient spins up the fake server and returns a client that has
// completed Start against it.
func startedClient(t *testing.T, f *fakeMattermost, opts ...Option) *Client {
	t.Helper()

	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, f.teamName, "bot@example.com", "hunter2", opts...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}
