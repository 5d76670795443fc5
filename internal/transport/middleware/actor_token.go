// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rafaelmp/comexflow/internal/auth"
)

const healthzPath = "/healthz"
const metricsPath = "/metrics"
const versionPath = "/version"
const headerRateLimitLimit = "X-RateLimit-Limit"
const headerRateLimitRemaining = "X-RateLimit-Remaining"
const headerRetryAfter = "Retry-After"

// ActorTokenAuth enforces JWT bearer authentication for all routes except
// /healthz, /metrics, and /version. Tokens are HS256-signed with the shared
// secret and carry the actor id in "sub" and the actor's role in "role"; the
// authenticated actor is stored on the request context.
func ActorTokenAuth(secret string, requestsPerMinute int, logger *slog.Logger) func(http.Handler) http.Handler {
	return actorTokenAuthWithLimiter(secret, requestsPerMinute, newInMemoryRateLimiter(), logger)
}

func actorTokenAuthWithLimiter(
	secret string,
	requestsPerMinute int,
	limiter *inMemoryRateLimiter,
	logger *slog.Logger,
) func(http.Handler) http.Handler {
	if secret == "" {
		panic("middleware.ActorTokenAuth requires a signing secret")
	}
	if limiter == nil {
		panic("middleware.ActorTokenAuth requires a limiter")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == healthzPath || r.URL.Path == metricsPath || r.URL.Path == versionPath {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			token, ok := bearerToken(authHeader)
			if !ok {
				logger.Warn("request blocked by actor token middleware",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "missing or invalid token", http.StatusUnauthorized)
				return
			}

			actor, err := parseActorToken(token, secret)
			if err != nil {
				logger.Warn("actor token rejected",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", err,
				)
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "missing or invalid token", http.StatusUnauthorized)
				return
			}

			decision := limiter.Allow(actor.ID, requestsPerMinute, time.Now())
			w.Header().Set(headerRateLimitLimit, strconv.Itoa(decision.LimitPerMinute))
			w.Header().Set(headerRateLimitRemaining, strconv.Itoa(decision.Remaining))
			if !decision.Allowed {
				w.Header().Set(headerRetryAfter, strconv.Itoa(decision.RetryAfterSeconds))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			// Preserve authenticated context on the current request pointer so
			// outer middleware (request logging) can read actor_id after next returns.
			*r = *r.WithContext(auth.WithActor(r.Context(), actor))
			next.ServeHTTP(w, r)
		})
	}
}

func parseActorToken(tokenString, secret string) (auth.Actor, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return auth.Actor{}, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return auth.Actor{}, fmt.Errorf("unexpected claims type %T", token.Claims)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return auth.Actor{}, fmt.Errorf("token has no subject")
	}

	role, _ := claims["role"].(string)
	return auth.Actor{ID: sub, Role: role}, nil
}

func bearerToken(header string) (string, bool) {
	schemeToken := strings.SplitN(header, " ", 2)
	if len(schemeToken) != 2 {
		return "", false
	}
	if !strings.EqualFold(schemeToken[0], "Bearer") {
		return "", false
	}
	if schemeToken[1] == "" {
		return "", false
	}
	return schemeToken[1], true
}
