package webapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/emicklei/go-restful/v3"
)

// Logger returns a container filter that logs each request.
func Logger(log *slog.Logger) restful.FilterFunction {
	return func(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
		start := time.Now()
		chain.ProcessFilter(req, resp)

		log.InfoContext(req.Request.Context(), "http request",
			slog.String("method", req.Request.Method),
			slog.String("path", req.Request.URL.Path),
			slog.Int("status", resp.StatusCode()),
			slog.Duration("duration", time.Since(start)),
		)
	}
}

// RecoverPanic returns a container filter that turns a handler panic into
// a 500 response.
func RecoverPanic(log *slog.Logger) restful.FilterFunction {
	return func(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
		defer func() {
			if r := recover(); r != nil {
				log.ErrorContext(req.Request.Context(), "handler panic",
					slog.String("path", req.Request.URL.Path),
					slog.Any("panic", r),
				)
				writeError(resp, http.StatusInternalServerError, fmt.Errorf("internal error: %v", r))
			}
		}()

		chain.ProcessFilter(req, resp)
	}
}

// NewContainer returns a container with the logging and recovery filters,
// the API routes and the OpenAPI document.
func NewContainer(handler *Handler) *restful.Container {
	container := restful.NewContainer()
	container.Filter(Logger(handler.log))
	container.Filter(RecoverPanic(handler.log))

	RegisterRoutes(container, handler)
	RegisterOpenAPI(container, handler.version)

	return container
}
