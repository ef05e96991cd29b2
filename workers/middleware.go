package workers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/sirupsen/logrus"

	"xrplbridge/logging"
)

// RequestLogger puts a request scoped logger into the context and logs every request
func RequestLogger(logger logging.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			reqLogger := logger.WithFields(logrus.Fields{
				"http_request_id": middleware.GetReqID(ctx),
				"http_method":     r.Method,
				"http_path":       r.RequestURI,
			})
			ctx = logging.WithLogger(ctx, reqLogger)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ts := time.Now()
			next.ServeHTTP(ww, r.WithContext(ctx))
			reqLogger.WithFields(logrus.Fields{
				"status":   ww.Status(),
				"duration": time.Since(ts),
			}).Info("http request completed")
		})
	}
}

func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger := logging.LoggerFromContext(r.Context())
				if err, ok := rec.(error); ok {
					logger = logger.WithError(err)
				} else {
					logger = logger.WithField("recovered", rec)
				}
				logger.Error("recovered error from the http handler")
				w.WriteHeader(http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func CORSHeaders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
	w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, Origin, X-Requested-With")
}
