package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logctx "github.com/pribylovaa/volunteer-hub/internal/pkg/log"
	"github.com/pribylovaa/volunteer-hub/internal/transport/http/apierrors"
)

const (
	throttleIdle  = 3 * time.Minute
	throttleSweep = time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipThrottle — token bucket на каждый клиентский адрес.
type ipThrottle struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	rps       rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

func (t *ipThrottle) allow(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()

	if now.Sub(t.lastSweep) > throttleSweep {
		for k, v := range t.visitors {
			if now.Sub(v.lastSeen) > throttleIdle {
				delete(t.visitors, k)
			}
		}
		t.lastSweep = now
	}

	v, ok := t.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(t.rps, t.burst)}
		t.visitors[ip] = v
	}
	v.lastSeen = now

	return v.limiter.AllowN(now, 1)
}

// Throttle ограничивает частоту запросов с одного IP (token bucket).
// rps <= 0 делает мидлвар no-op. trustProxy разрешает брать адрес из
// X-Forwarded-For. Запросы, для которых skip возвращает true, проходят
// без учёта и не расходуют бюджет адреса.
func Throttle(rps float64, burst int, trustProxy bool, skip ...func(*http.Request) bool) Middleware {
	return throttleWithClock(rps, burst, trustProxy, time.Now, skip...)
}

func throttleWithClock(rps float64, burst int, trustProxy bool, now func() time.Time, skip ...func(*http.Request) bool) Middleware {
	return func(next http.Handler) http.Handler {
		if rps <= 0 {
			return next
		}
		if burst < 1 {
			burst = 1
		}

		t := &ipThrottle{
			visitors: make(map[string]*visitor),
			rps:      rate.Limit(rps),
			burst:    burst,
			now:      now,
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, fn := range skip {
				if fn(r) {
					next.ServeHTTP(w, r)
					return
				}
			}

			ip := ClientIP(r, trustProxy)
			if !t.allow(ip) {
				logctx.From(r.Context()).Warn("http_throttled", slog.String("ip", ip))
				w.Header().Set("Retry-After", "1")
				apierrors.WriteError(w, r, apierrors.ErrThrottled)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP возвращает адрес клиента. С trustProxy берётся последнее значение
// X-Forwarded-For: его дописал доверенный прокси, а всё левее клиент мог
// подставить сам.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
			hops := strings.Split(xff[len(xff)-1], ",")
			if ip := strings.TrimSpace(hops[len(hops)-1]); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
