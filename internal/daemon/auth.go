package daemon

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"autovideo/internal/logging"
)

// authorize requires "Authorization: Bearer <token>" on every request when a
// token is configured. An empty token leaves the API open, which is only
// sensible on a loopback bind.
func (s *apiServer) authorize(next http.HandlerFunc) http.HandlerFunc {
	if s.token == "" {
		return next
	}
	want := []byte(s.token)
	return func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) != 1 {
			logging.WarnWithContext(s.log(), "api request rejected", "api_unauthorized",
				logging.String("path", r.URL.Path),
				logging.String("remote", r.RemoteAddr),
				logging.String(logging.FieldErrorHint, "set paths.api_token or AUTOVIDEO_API_TOKEN on the client"),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="autovideo"`)
			s.writeError(w, http.StatusUnauthorized, "missing or invalid bearer token", "unauthorized")
			return
		}
		next(w, r)
	}
}
