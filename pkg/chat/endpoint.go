package chat

import (
	"context"
	"errors"

	"github.com/go-kit/kit/endpoint"
)

type EndpointSet struct {
	Chat         endpoint.Endpoint
	History      endpoint.Endpoint
	ListThreads  endpoint.Endpoint
	DeleteThread endpoint.Endpoint
	Health       endpoint.Endpoint
}

func MakeEndpoints(svc Service) EndpointSet {
	return EndpointSet{
		Chat:         ChatEndpoint(svc),
		History:      HistoryEndpoint(svc),
		ListThreads:  ListThreadsEndpoint(svc),
		DeleteThread: DeleteThreadEndpoint(svc),
		Health:       HealthEndpoint(svc),
	}
}

// ChatEndpoint always succeeds with the service's response. Turn errors were
// logged by the middleware and are not exposed to callers.
func ChatEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(ChatRequest)
		if !ok {
			return nil, errors.New("invalid request type")
		}

		resp, _ := svc.Chat(ctx, req)
		return resp, nil
	}
}

func HistoryEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(HistoryRequest)
		if !ok {
			return nil, errors.New("invalid request type")
		}

		return svc.History(ctx, req.ThreadID)
	}
}

func ListThreadsEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		return svc.ListThreads(ctx)
	}
}

func DeleteThreadEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(DeleteThreadRequest)
		if !ok {
			return nil, errors.New("invalid request type")
		}

		return nil, svc.DeleteThread(ctx, req.ThreadID)
	}
}

func HealthEndpoint(svc Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		return svc.Health(ctx), nil
	}
}
