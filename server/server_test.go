package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/gitagpt/internal/models"
	"github.com/xhad/gitagpt/pkg/chat"
	"github.com/xhad/gitagpt/pkg/conversation"
	"github.com/xhad/gitagpt/server"
)

type fakeGenerator struct {
	chunks []string
	err    error
}

func (f *fakeGenerator) Generate(_ context.Context, _ []models.Message, onChunk func(string) error) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	var reply strings.Builder
	for _, c := range f.chunks {
		if onChunk != nil {
			if err := onChunk(c); err != nil {
				return "", err
			}
		}
		reply.WriteString(c)
	}
	return reply.String(), nil
}

type readOnlyStore struct {
	inner *conversation.MemoryStore
}

func (s readOnlyStore) Load(ctx context.Context, id string) ([]models.Message, error) {
	return s.inner.Load(ctx, id)
}

func (s readOnlyStore) Append(ctx context.Context, id string, msgs ...models.Message) error {
	return s.inner.Append(ctx, id, msgs...)
}

// brokenStore fails every call with driver-level detail.
type brokenStore struct{}

var errDisk = errors.New("sqlite: SELECT role, content FROM messages WHERE thread_id = ?: disk I/O error")

func (brokenStore) Load(context.Context, string) ([]models.Message, error) { return nil, errDisk }

func (brokenStore) Append(context.Context, string, ...models.Message) error { return errDisk }

func (brokenStore) ListThreads(context.Context) ([]models.ThreadSummary, error) { return nil, errDisk }

func (brokenStore) DeleteThread(context.Context, string) error { return errDisk }

func newTestServer(t *testing.T, gen *fakeGenerator, cfg chat.ServiceConfig) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg.Generator = gen
	if cfg.Store == nil {
		cfg.Store = conversation.NewMemoryStore()
	}

	svc, err := chat.NewService(cfg)
	require.NoError(t, err)

	router := server.NewRouter(chat.MakeEndpoints(svc), server.NewWSServer(svc, nil))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func postChat(t *testing.T, url, body string) (int, chat.ChatResponse) {
	t.Helper()

	resp, err := http.Post(url+"/chat", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out chat.ChatResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestChatEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeGenerator{chunks: []string{"Dear soul, ", "know this."}}, chat.ServiceConfig{})

	code, first := postChat(t, srv.URL, `{"message": "What is dharma?"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Dear soul, know this.", first.Reply)
	assert.Equal(t, chat.StatusSuccess, first.Status)
	assert.NotEmpty(t, first.ThreadID)

	code, second := postChat(t, srv.URL, `{"message": "And karma?", "thread_id": "`+first.ThreadID+`"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, first.ThreadID, second.ThreadID)

	resp, err := http.Get(srv.URL + "/conversations/" + first.ThreadID + "/history")
	require.NoError(t, err)
	defer resp.Body.Close()

	var history chat.HistoryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, history.Messages, 4)
}

func TestChatEndpointValidation(t *testing.T) {
	srv := newTestServer(t, &fakeGenerator{}, chat.ServiceConfig{})

	code, out := postChat(t, srv.URL, `{"message": "   "}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, chat.ValidationReply, out.Reply)
	assert.Equal(t, chat.StatusInvalid, out.Status)

	resp, err := http.Post(srv.URL+"/chat", "application/json", strings.NewReader(`{"message": `))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatEndpointGenerationFailure(t *testing.T) {
	srv := newTestServer(t, &fakeGenerator{err: errors.New("dial tcp 10.0.0.7:11434: connection refused")}, chat.ServiceConfig{})

	resp, err := http.Post(srv.URL+"/chat", "application/json", strings.NewReader(`{"message": "hello"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	var raw map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, chat.FallbackReply, raw["reply"])
	assert.Equal(t, chat.StatusError, raw["status"])
	assert.NotContains(t, raw, "error")
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeGenerator{}, chat.ServiceConfig{})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var health chat.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "Backend is online", health.Message)
	assert.Equal(t, "unavailable", health.Retrieval)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestConversationEndpoints(t *testing.T) {
	srv := newTestServer(t, &fakeGenerator{chunks: []string{"ok"}}, chat.ServiceConfig{})

	_, out := postChat(t, srv.URL, `{"message": "hello"}`)

	resp, err := http.Get(srv.URL + "/conversations")
	require.NoError(t, err)
	var list struct {
		Threads []models.ThreadSummary `json:"threads"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Len(t, list.Threads, 1)
	assert.Equal(t, out.ThreadID, list.Threads[0].ThreadID)

	del := func() int {
		req, err := http.NewRequest(http.MethodDelete, srv.URL+"/conversations/"+out.ThreadID, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, del())
	assert.Equal(t, http.StatusNotFound, del())
}

func TestConversationEndpointsNotSupported(t *testing.T) {
	srv := newTestServer(t, &fakeGenerator{}, chat.ServiceConfig{
		Store: readOnlyStore{conversation.NewMemoryStore()},
	})

	resp, err := http.Get(srv.URL + "/conversations")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out chat.NotSupportedResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
	assert.Equal(t, chat.StatusInfo, out.Status)
	assert.Equal(t, "History feature not implemented yet", out.Message)
}

func TestConversationEndpointsHideStoreErrors(t *testing.T) {
	srv := newTestServer(t, &fakeGenerator{}, chat.ServiceConfig{Store: brokenStore{}})

	requests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/conversations"},
		{http.MethodGet, "/conversations/thread-1/history"},
		{http.MethodDelete, "/conversations/thread-1"},
	}

	for _, tt := range requests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, nil)
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			var body map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
			assert.Equal(t, "internal error", body["error"])
			assert.NotContains(t, fmt.Sprint(body), "sqlite")
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeGenerator{}, chat.ServiceConfig{})

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebSocketChat(t *testing.T) {
	srv := newTestServer(t, &fakeGenerator{chunks: []string{"Beloved ", "devotee."}}, chat.ServiceConfig{})

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(server.Message{Type: server.TypeChat, Content: "What is bhakti?"}))

	var chunks []string
	var chunkThreads []string
	var final server.Message
	for {
		var msg server.Message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == server.TypeStream {
			chunks = append(chunks, msg.Content)
			chunkThreads = append(chunkThreads, msg.ThreadID)
			continue
		}
		final = msg
		break
	}

	assert.Equal(t, []string{"Beloved ", "devotee."}, chunks)
	assert.Equal(t, server.TypeResponse, final.Type)
	assert.Equal(t, "Beloved devotee.", final.Content)
	require.NotEmpty(t, final.ThreadID)
	assert.Equal(t, []string{final.ThreadID, final.ThreadID}, chunkThreads)

	require.NoError(t, conn.WriteJSON(server.Message{Type: server.TypeChat, Content: "   "}))
	var invalid server.Message
	require.NoError(t, conn.ReadJSON(&invalid))
	assert.Equal(t, server.TypeResponse, invalid.Type)
	assert.Equal(t, chat.ValidationReply, invalid.Content)
	assert.Empty(t, invalid.ThreadID)

	require.NoError(t, conn.WriteJSON(server.Message{Type: "upload"}))
	var errMsg server.Message
	require.NoError(t, conn.ReadJSON(&errMsg))
	assert.Equal(t, server.TypeError, errMsg.Type)
}
