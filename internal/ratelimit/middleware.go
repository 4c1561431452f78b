package ratelimit

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// KeyFunc identifies the caller of a request.
type KeyFunc func(r *http.Request) string

// HeaderKeyFunc identifies callers by header, falling back to the remote
// host when the header is absent.
func HeaderKeyFunc(header string) KeyFunc {
	return func(r *http.Request) string {
		if header != "" {
			if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
				return v
			}
		}

		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// Middleware rejects requests from callers that have exhausted their token
// bucket with 429 Too Many Requests and a Retry-After hint in whole seconds.
func Middleware(store *Store, keyFn KeyFunc) func(http.Handler) http.Handler {
	if keyFn == nil {
		keyFn = HeaderKeyFunc("")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)

			reservation := store.Limiter(key).Reserve()
			if delay := reservation.Delay(); delay > 0 || !reservation.OK() {
				reservation.Cancel()

				log.Info().Str("caller", key).Str("path", r.URL.Path).Msg("request rate limited")

				w.Header().Set("Retry-After", retryAfter(delay, reservation.OK()))
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func retryAfter(delay time.Duration, ok bool) string {
	if !ok || delay == rate.InfDuration {
		return "60"
	}
	return strconv.Itoa(max(1, int(math.Ceil(delay.Seconds()))))
}
