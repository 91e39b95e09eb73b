// Package recovery converts handler panics into generic 500 responses.
package recovery

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/apereo/persondir/pkg/logger"
)

var internalErrorBody = []byte(`{"code":"internal","message":"Internal Server Error"}`)

// Middleware recovers panics raised anywhere below it, logs the stack, and
// answers with a generic 500 so no panic detail leaks to the caller.
func Middleware(l logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			p := recover()
			if p == nil {
				return
			}

			l.Error("recovered a panicked request",
				zap.Error(fmt.Errorf("%v", p)),
				zap.String("http_path", r.URL.Path),
				zap.ByteString("stacktrace", debug.Stack()),
			)

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write(internalErrorBody)
		}()

		next.ServeHTTP(w, r)
	})
}
