package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-kit/kit/endpoint"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xhad/gitagpt/internal/types"
	"github.com/xhad/gitagpt/pkg/chat"
	"github.com/xhad/gitagpt/pkg/conversation"
)

// NewRouter builds the HTTP surface. ws may be nil to disable /ws.
func NewRouter(endpoints chat.EndpointSet, ws *WSServer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), CORS())

	AddRouters(r, endpoints)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if ws != nil {
		r.GET("/ws", gin.WrapH(ws))
	}

	return r
}

func AddRouters(r *gin.Engine, endpoints chat.EndpointSet) {
	r.POST("/chat", ChatHandler(endpoints.Chat))
	r.GET("/health", HealthHandler(endpoints.Health))

	conversations := r.Group("/conversations")
	{
		conversations.GET("", ListThreadsHandler(endpoints.ListThreads))
		conversations.GET("/:thread_id/history", HistoryHandler(endpoints.History))
		conversations.DELETE("/:thread_id", DeleteThreadHandler(endpoints.DeleteThread))
	}
}

// CORS allows any origin, matching the browser frontend's expectations.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func ChatHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req chat.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "status": chat.StatusInvalid})
			c.Error(err)
			c.Abort()
			return
		}

		ctx := c.Request.Context()
		resp, err := endpoint(ctx, req)
		if err != nil {
			abortWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

func HealthHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := endpoint(c.Request.Context(), nil)
		if err != nil {
			abortWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

func HistoryHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := chat.HistoryRequest{ThreadID: c.Param("thread_id")}

		resp, err := endpoint(c.Request.Context(), req)
		if err != nil {
			abortWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

func ListThreadsHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := endpoint(c.Request.Context(), nil)
		if err != nil {
			abortWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"threads": resp, "status": chat.StatusSuccess})
	}
}

func DeleteThreadHandler(endpoint endpoint.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		threadID := c.Param("thread_id")

		_, err := endpoint(c.Request.Context(), chat.DeleteThreadRequest{ThreadID: threadID})
		if err != nil {
			abortWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"thread_id": threadID, "status": "deleted"})
	}
}

func abortWithError(c *gin.Context, err error) {
	c.Error(err)

	if errors.Is(err, chat.ErrNotSupported) {
		c.AbortWithStatusJSON(http.StatusNotImplemented, chat.NotSupported())
		return
	}

	code := statusCode(err)
	c.AbortWithStatusJSON(code, gin.H{"error": publicMessage(code), "status": chat.StatusError})
}

// publicMessage hides store and driver text; the service middleware logs it.
func publicMessage(code int) string {
	switch code {
	case http.StatusNotFound:
		return "thread not found"
	case http.StatusBadRequest:
		return "thread id is required"
	default:
		return "internal error"
	}
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, conversation.ErrThreadNotFound):
		return http.StatusNotFound
	case types.KindOf(err) == types.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
