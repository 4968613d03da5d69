package api

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/IlyasAtabaev731/downline-ledger/internal/auth"
	"github.com/IlyasAtabaev731/downline-ledger/internal/domain"
)

type ctxKey struct{}

func identityFrom(ctx context.Context) auth.Identity {
	id, _ := ctx.Value(ctxKey{}).(auth.Identity)
	return id
}

// authenticate resolves the bearer token into an identity and applies the
// caller's request budget before calling next.
func (s *APIServer) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenHeader := r.Header.Get("Authorization")
		if tokenHeader == "" {
			s.writeError(w, r, domain.ErrUnauthenticated)
			return
		}

		parts := strings.Split(tokenHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			s.writeError(w, r, domain.ErrUnauthenticated)
			return
		}

		identity, err := s.services.Resolver.Resolve(r.Context(), parts[1])
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		if !s.limiters.allow(identity.ID) {
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate_limited", Message: "too many requests"})
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, identity)))
	}
}

// limiterSet hands out one token bucket per authenticated user.
type limiterSet struct {
	mu    sync.Mutex
	limit rate.Limit
	burst int
	byKey map[string]*rate.Limiter
}

func newLimiterSet(perSecond float64, burst int) *limiterSet {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &limiterSet{limit: limit, burst: burst, byKey: make(map[string]*rate.Limiter)}
}

func (l *limiterSet) allow(key string) bool {
	l.mu.Lock()
	lim, ok := l.byKey[key]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.byKey[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
