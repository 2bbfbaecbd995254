package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
)

// HeaderRequestID is echoed on every ops response.
const HeaderRequestID = "X-Request-ID"

const maxRequestIDLen = 64

type requestIDKey struct{}

// WithRequestID returns ctx tagged with id. An empty or oversized id is
// replaced by a fresh uuid.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" || len(id) > maxRequestIDLen {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// UpdateRequestID names the work done for one chat update. Telegram redelivers
// an unconfirmed update with the same id, so both runs share it in the logs.
func UpdateRequestID(updateID int) string {
	return "upd-" + strconv.Itoa(updateID)
}

// RequestID tags each ops request, reusing the caller's X-Request-ID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithRequestID(r.Context(), r.Header.Get(HeaderRequestID))
		w.Header().Set(HeaderRequestID, RequestIDFromContext(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
