package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/changesetd/internal/common"
	"github.com/dmitrijs2005/changesetd/internal/logging"
	"github.com/dmitrijs2005/changesetd/internal/server/api"
	"github.com/dmitrijs2005/changesetd/internal/server/auth"
	"github.com/dmitrijs2005/changesetd/internal/server/authz"
	"github.com/dmitrijs2005/changesetd/internal/server/metrics"
	"github.com/gorilla/mux"
)

// tokenFromRequest reads a bearer token or the access token header.
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	return r.Header.Get(strings.ReplaceAll(common.AccessTokenHeaderName, "_", "-"))
}

// authenticate attaches the token's actor to the request context. Requests
// without a token proceed as the anonymous actor; a bad token is rejected.
func authenticate(secret []byte) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := tokenFromRequest(r)
			if tok == "" {
				next.ServeHTTP(w, r)
				return
			}

			a, err := auth.ParseToken(tok, secret)
			if err != nil {
				msg := "Invalid access token."
				if errors.Is(err, common.ErrTokenExpired) {
					msg = "Access token expired."
				}
				writeJSON(w, http.StatusUnauthorized, api.NewErrorBody(api.CodeUnauthenticated, msg))
				return
			}
			next.ServeHTTP(w, r.WithContext(authz.WithActor(r.Context(), a)))
		})
	}
}

func actor(r *http.Request) authz.Actor {
	a, _ := authz.ActorFromContext(r.Context())
	return a
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func accessLog(logger logging.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			elapsed := time.Since(start)

			route := r.URL.Path
			if cur := mux.CurrentRoute(r); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			metrics.HTTPLatency.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Observe(elapsed.Seconds())
			logger.Info(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", elapsed,
			)
		})
	}
}
