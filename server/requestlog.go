package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/yimuchen/GantryMQ/logging"
)

// RequestIDHeader carries the correlation ID of a request in both directions
const RequestIDHeader = "X-Request-ID"

type requestObserver struct {
	http.ResponseWriter

	bytes int
	code  int
}

func (s *requestObserver) WriteHeader(code int) {
	s.ResponseWriter.WriteHeader(code)
	s.code = code
}

func (s *requestObserver) Write(b []byte) (int, error) {
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n

	if s.code == 0 {
		s.code = http.StatusOK
	}

	return n, err
}

type requestLogContextKey int

const contextRequestID requestLogContextKey = 1

// requestLog tags every request with an ID, taken from the client if it sent
// one, and logs the completed request at debug level
func requestLog(log logging.Source) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			begin := time.Now()

			id := r.Header.Get(RequestIDHeader)
			if len(id) == 0 {
				id = uuid.New().String()
			} else if len(id) > 40 {
				id = id[0:40]
			}
			w.Header().Set(RequestIDHeader, id)

			ro := requestObserver{
				ResponseWriter: w,
			}

			ctx := context.WithValue(r.Context(), contextRequestID, id)
			next.ServeHTTP(&ro, r.WithContext(ctx))

			log.Debugf("{%s}: %s %s %s -> %d(%s) %dbytes %s", id, clientID(r), r.Method, r.URL.RequestURI(),
				ro.code, http.StatusText(ro.code), ro.bytes, time.Since(begin))
		})
	}
}

// RequestID returns the correlation ID attached to r
func RequestID(r *http.Request) string {
	v, ok := r.Context().Value(contextRequestID).(string)
	if !ok {
		return "None"
	}
	return v
}
