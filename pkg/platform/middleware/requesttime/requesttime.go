// Package requesttime provides middleware that pins a single "now" per request.
// Expiry checks in the ticket store, policy time windows and issued-at stamps
// all read this value so one token request never straddles two clocks.
package requesttime

import (
	"net/http"
	"time"

	"ticketd/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request
// and stores it in the context for consistent time references throughout the request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
