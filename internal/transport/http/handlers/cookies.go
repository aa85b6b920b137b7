package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/pribylovaa/volunteer-hub/internal/transport/http/middleware"
)

// RefreshCookie — имя cookie с refresh-токеном.
const RefreshCookie = "refresh_token"

// secure сообщает, пришёл ли запрос по зашифрованному каналу.
func (h *Handlers) secure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}

	return h.opts.TrustProxy && strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func (h *Handlers) cookie(r *http.Request, name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		Expires:  time.Now().Add(ttl),
		HttpOnly: true,
		Secure:   h.secure(r),
		SameSite: http.SameSiteStrictMode,
	}
}

func (h *Handlers) setAccessCookie(w http.ResponseWriter, r *http.Request, raw string) {
	http.SetCookie(w, h.cookie(r, middleware.AccessCookie, raw, h.opts.AccessTTL))
}

func (h *Handlers) setRefreshCookie(w http.ResponseWriter, r *http.Request, raw string) {
	http.SetCookie(w, h.cookie(r, RefreshCookie, raw, h.opts.RefreshTTL))
}

// clearCookies истекает обе cookie сессии.
func (h *Handlers) clearCookies(w http.ResponseWriter, r *http.Request) {
	for _, name := range []string{middleware.AccessCookie, RefreshCookie} {
		c := h.cookie(r, name, "", 0)
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
		http.SetCookie(w, c)
	}
}
