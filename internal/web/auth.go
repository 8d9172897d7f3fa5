package web

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// authorized checks the request against the configured API token. An
// empty token disables the check entirely; the server binds to
// loopback by default. The websocket route additionally accepts
// ?token= because browser clients cannot set headers on a websocket
// dial.
func (s *Server) authorized(r *http.Request, allowQueryToken bool) bool {
	if s.cfg.Token == "" {
		return true
	}
	if bearer, ok := strings.CutPrefix(strings.TrimSpace(r.Header.Get("Authorization")), "Bearer "); ok {
		if tokenMatches(bearer, s.cfg.Token) {
			return true
		}
	}
	return allowQueryToken && tokenMatches(r.URL.Query().Get("token"), s.cfg.Token)
}

func tokenMatches(presented, want string) bool {
	presented = strings.TrimSpace(presented)
	return presented != "" && subtle.ConstantTimeCompare([]byte(presented), []byte(want)) == 1
}
