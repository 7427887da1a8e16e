package server

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/go-kit/kit/endpoint"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"

	"github.com/xhad/gitagpt/internal/models"
	"github.com/xhad/gitagpt/pkg/chat"
)

// AddNATSEndpoints registers the chat endpoints on a micro service group.
func AddNATSEndpoints(group micro.Group, endpoints chat.EndpointSet) error {
	handlers := map[string]micro.Handler{
		"chat":          NATSChatHandler(endpoints.Chat),
		"history":       NATSHistoryHandler(endpoints.History),
		"list_threads":  NATSListThreadsHandler(endpoints.ListThreads),
		"delete_thread": NATSDeleteThreadHandler(endpoints.DeleteThread),
		"health":        NATSHealthHandler(endpoints.Health),
	}

	for name, h := range handlers {
		if err := group.AddEndpoint(name, h); err != nil {
			return err
		}
	}
	return nil
}

func NATSChatHandler(endpoint endpoint.Endpoint) micro.HandlerFunc {
	return func(r micro.Request) {
		var req chat.ChatRequest
		if err := json.Unmarshal(r.Data(), &req); err != nil {
			r.Error("400", err.Error(), nil)
			return
		}

		resp, err := endpoint(context.Background(), req)
		if err != nil {
			r.Error("417", err.Error(), nil)
			return
		}

		r.RespondJSON(&resp)
	}
}

func NATSHistoryHandler(endpoint endpoint.Endpoint) micro.HandlerFunc {
	return func(r micro.Request) {
		threadID := string(r.Data())
		if threadID == "" {
			r.Error("400", "thread id is required", nil)
			return
		}

		resp, err := endpoint(context.Background(), chat.HistoryRequest{ThreadID: threadID})
		if err != nil {
			natsRespondError(r, err)
			return
		}

		r.RespondJSON(&resp)
	}
}

func NATSListThreadsHandler(endpoint endpoint.Endpoint) micro.HandlerFunc {
	return func(r micro.Request) {
		resp, err := endpoint(context.Background(), nil)
		if err != nil {
			natsRespondError(r, err)
			return
		}

		threads, ok := resp.([]models.ThreadSummary)
		if !ok {
			r.Error("500", "invalid response type", nil)
			return
		}

		r.RespondJSON(&threads)
	}
}

func NATSDeleteThreadHandler(endpoint endpoint.Endpoint) micro.HandlerFunc {
	return func(r micro.Request) {
		threadID := string(r.Data())
		if threadID == "" {
			r.Error("400", "thread id is required", nil)
			return
		}

		_, err := endpoint(context.Background(), chat.DeleteThreadRequest{ThreadID: threadID})
		if err != nil {
			natsRespondError(r, err)
			return
		}

		r.Respond([]byte("OK"))
	}
}

func NATSHealthHandler(endpoint endpoint.Endpoint) micro.HandlerFunc {
	return func(r micro.Request) {
		resp, err := endpoint(context.Background(), nil)
		if err != nil {
			r.Error("500", err.Error(), nil)
			return
		}

		r.RespondJSON(&resp)
	}
}

// natsRespondError answers with the HTTP status of err and the same
// public message the HTTP transport uses.
func natsRespondError(r micro.Request, err error) {
	if errors.Is(err, chat.ErrNotSupported) {
		r.Error("501", chat.NotSupported().Message, nil)
		return
	}

	code := statusCode(err)
	r.Error(strconv.Itoa(code), publicMessage(code), nil)
}

// NATSChatEndpoint calls a remote chat service over NATS.
func NATSChatEndpoint(nc *nats.Conn, topic string) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(chat.ChatRequest)
		if !ok {
			return nil, errors.New("invalid request type")
		}

		data, err := json.Marshal(&req)
		if err != nil {
			return nil, err
		}

		msg, err := nc.RequestWithContext(ctx, topic, data)
		if err != nil {
			return nil, err
		}
		if err := NATSError(msg); err != nil {
			return nil, err
		}

		var resp chat.ChatResponse
		if err := json.Unmarshal(msg.Data, &resp); err != nil {
			return nil, err
		}
		return resp, nil
	}
}

// NATSError extracts a micro service error from a reply.
func NATSError(msg *nats.Msg) error {
	if msg == nil {
		return errors.New("nil message")
	}

	code := msg.Header.Get(micro.ErrorCodeHeader)
	if code == "" {
		return nil
	}

	description := msg.Header.Get(micro.ErrorHeader)
	if description == "" {
		description = "unknown error"
	}

	return errors.New(code + ":" + description)
}
