package rest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-sync/domain"
	"chat-sync/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, 2*time.Second, slog.Default())
}

func TestListChannels_SendsBearerToken(t *testing.T) {
	req := require.New(t)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/v1/channels", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]domain.Channel{
			{ID: 1, Name: "general"},
			{ID: 2, Name: "random", Removable: true},
		})
	})

	channels, err := client.ListChannels(context.Background(), "tok-123")
	req.NoError(err)
	req.Len(channels, 2)
	req.Equal("general", channels[0].Name)
}

func TestCreateChannel(t *testing.T) {
	req := require.New(t)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "music", payload["name"])
		_ = json.NewEncoder(w).Encode(domain.Channel{ID: 3, Name: "music", Removable: true})
	})

	channel, err := client.CreateChannel(context.Background(), "tok", "music")
	req.NoError(err)
	req.Equal(domain.ChannelID(3), channel.ID)
}

func TestRenameChannel_UsesPatchOnResource(t *testing.T) {
	req := require.New(t)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		require.Equal(t, "/api/v1/channels/2", r.URL.Path)
		_ = json.NewEncoder(w).Encode(domain.Channel{ID: 2, Name: "casual", Removable: true})
	})

	channel, err := client.RenameChannel(context.Background(), "tok", 2, "casual")
	req.NoError(err)
	req.Equal("casual", channel.Name)
}

func TestDeleteChannel(t *testing.T) {
	req := require.New(t)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/api/v1/channels/2", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})

	req.NoError(client.DeleteChannel(context.Background(), "tok", 2))
}

func TestPostMessage(t *testing.T) {
	req := require.New(t)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.EqualValues(t, 1, payload["channelId"])
		_ = json.NewEncoder(w).Encode(domain.Message{ID: 42, ChannelID: 1, Username: "alice", Body: "hi"})
	})

	created, err := client.PostMessage(context.Background(), "tok",
		domain.Message{ChannelID: 1, Username: "alice", Body: "hi"})
	req.NoError(err)
	req.Equal(42, created.ID)
}

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "Unauthorized", status: http.StatusUnauthorized, wantErr: errors.ErrUnauthorized},
		{name: "Server validation", status: http.StatusConflict, body: `{"message":"name taken"}`, wantErr: errors.ErrRejected},
		{name: "Server failure", status: http.StatusBadGateway, wantErr: errors.ErrTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := client.ListChannels(context.Background(), "tok")
			req.ErrorIs(err, tt.wantErr)
			if tt.body != "" {
				req.Contains(err.Error(), "name taken")
			}
		})
	}
}

func TestNetworkFailureIsTransportError(t *testing.T) {
	req := require.New(t)
	client := NewClient("http://127.0.0.1:1", time.Second, slog.Default())
	_, err := client.ListChannels(context.Background(), "tok")
	req.ErrorIs(err, errors.ErrTransport)
}
