package http

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/log"
	"fleet-monitor/telematics/internal/metrics"
)

// IdentityResolver turns request credentials into identities.
type IdentityResolver interface {
	ResolveDevice(ctx context.Context, apiKey string) (domain.Identity, error)
	ResolveUser(ctx context.Context, token string) (domain.Identity, error)
}

type ctxKey int

const identityKey ctxKey = iota

func withIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the identity the auth middleware attached, or a zero
// Identity.
func IdentityFrom(ctx context.Context) domain.Identity {
	id, _ := ctx.Value(identityKey).(domain.Identity)
	return id
}

type AuthMiddleware struct {
	resolver IdentityResolver
	logger   log.Logger
}

func NewAuthMiddleware(resolver IdentityResolver, logger log.Logger) *AuthMiddleware {
	return &AuthMiddleware{resolver: resolver, logger: logger.WithName("auth")}
}

// Device accepts X-API-Key or a bearer token issued to a controller.
func (m *AuthMiddleware) Device(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			apiKey = bearerToken(r)
		}

		id, err := m.resolver.ResolveDevice(r.Context(), apiKey)
		if err != nil {
			writeError(w, r, m.logger, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
	})
}

// User accepts a bearer token issued to a dashboard user.
func (m *AuthMiddleware) User(next http.Handler) http.Handler {
	return m.user(next, false)
}

// UserOrQuery also accepts ?token= for clients that cannot set headers, such
// as browser websockets.
func (m *AuthMiddleware) UserOrQuery(next http.Handler) http.Handler {
	return m.user(next, true)
}

func (m *AuthMiddleware) user(next http.Handler, allowQuery bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" && allowQuery {
			token = r.URL.Query().Get("token")
		}

		id, err := m.resolver.ResolveUser(r.Context(), token)
		if err != nil {
			writeError(w, r, m.logger, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Instrument records latency per route template and logs each request.
func Instrument(logger log.Logger) mux.MiddlewareFunc {
	logger = logger.WithName("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			route := "unmatched"
			if cur := mux.CurrentRoute(r); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			elapsed := time.Since(start)
			metrics.HTTPLatency.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Observe(elapsed.Seconds())
			logger.Debug("request", "method", r.Method, "route", route, "status", rec.status, "took", elapsed)
		})
	}
}
