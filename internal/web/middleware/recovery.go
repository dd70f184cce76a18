package middleware

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/conduit-lang/resourcemap/internal/web/jsonapi"
)

// Recovery turns a panic into a logged 500 JSON:API error response
func Recovery(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				if p == http.ErrAbortHandler {
					panic(p)
				}
				logger.Errorw("panic recovered",
					"request_id", GetRequestID(r.Context()),
					"panic", p,
					"stack", string(debug.Stack()),
				)
				jsonapi.RenderErrors(w, http.StatusInternalServerError,
					jsonapi.NewError(http.StatusInternalServerError, "an unexpected error occurred"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
